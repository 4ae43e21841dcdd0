package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bazelment/conductor/orchestrator"
	"github.com/bazelment/conductor/protocol"
)

var briefingFile string

var startCmd = &cobra.Command{
	Use:   "start [briefing-file]",
	Short: "Start a run from a briefing file or piped stdin",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStart,
}

func init() {
	startCmd.Flags().StringVarP(&briefingFile, "file", "f", "", "Briefing file (default: positional arg, or stdin if neither given)")
}

// runStart implements §6's `start` contract: exit 0 on PASS, 1 on FAIL,
// 2 on NEEDS_HUMAN, 3 on cancellation. Grounded on multiagent/cmd/swarm/
// main.go's setupContext (signal handling, double-SIGINT force-exit).
func runStart(cmd *cobra.Command, args []string) error {
	briefing, err := readBriefing(args)
	if err != nil {
		return err
	}

	cfg, err := loadProjectConfig()
	if err != nil {
		return err
	}

	orch := orchestrator.New(orchestratorConfig(cfg))

	ctx, cancel := setupSignalContext()
	defer cancel()

	runID, err := orch.StartRun(ctx, briefing)
	if err != nil {
		out.Error(fmt.Sprintf("failed to start run: %v", err))
		os.Exit(2)
	}
	out.Info(fmt.Sprintf("run %s started", runID))

	waitErr := orch.Wait(ctx, runID)
	phase, phaseErr := orch.FinalPhase(runID)
	if phaseErr != nil {
		out.Error(fmt.Sprintf("could not read final phase: %v", phaseErr))
		os.Exit(1)
	}

	if waitErr != nil {
		if phase == protocol.PhaseWaitingHuman {
			out.Warn(fmt.Sprintf("run %s is awaiting human input (VCR); exiting without resolving", runID))
			os.Exit(2)
		}
		out.Warn(fmt.Sprintf("run %s cancelled", runID))
		_ = orch.CancelRun(context.Background(), runID)
		os.Exit(3)
	}

	switch phase {
	case protocol.PhaseCompleted:
		out.Success(fmt.Sprintf("run %s completed", runID))
		os.Exit(0)
	case protocol.PhaseFailed:
		out.Error(fmt.Sprintf("run %s failed", runID))
		os.Exit(1)
	default:
		out.Warn(fmt.Sprintf("run %s ended in unexpected phase %s", runID, phase))
		os.Exit(1)
	}
	return nil
}

func readBriefing(args []string) (string, error) {
	path := briefingFile
	if path == "" && len(args) == 1 {
		path = args[0]
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read briefing file %s: %w", path, err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(bufio.NewReader(os.Stdin))
	if err != nil {
		return "", fmt.Errorf("read briefing from stdin: %w", err)
	}
	return string(data), nil
}

// setupSignalContext returns a context cancelled on SIGINT/SIGTERM, with a
// second signal forcing an immediate exit -- mirrors multiagent/cmd/swarm/
// main.go's setupContext.
func setupSignalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
		<-sigCh
		os.Exit(1)
	}()

	return ctx, cancel
}
