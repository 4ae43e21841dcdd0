package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bazelment/conductor/orchestrator"
	"github.com/bazelment/conductor/runstate"
)

var (
	recoverList  bool
	recoverAuto  bool
	recoverForce bool
)

var recoverCmd = &cobra.Command{
	Use:   "recover [run-id]",
	Short: "Enumerate or resume interrupted runs",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRecover,
}

func init() {
	recoverCmd.Flags().BoolVar(&recoverList, "list", false, "List interrupted runs without resuming any")
	recoverCmd.Flags().BoolVar(&recoverAuto, "auto", false, "Resume every interrupted run found")
	recoverCmd.Flags().BoolVar(&recoverForce, "force", false, "Resume the given run even if its session looks alive")
}

// runRecover implements §6's `recover [<runId>] [--list|--auto|--force]`:
// enumerate runs with a non-terminal state.json and no live multiplexer
// session, and optionally resume one or all of them.
func runRecover(cmd *cobra.Command, args []string) error {
	cfg, err := loadProjectConfig()
	if err != nil {
		return err
	}
	runsDir := resolveRunsDir(cfg)
	ctx := context.Background()

	if recoverList || (len(args) == 0 && !recoverAuto) {
		return listInterrupted(ctx, runsDir)
	}

	orch := orchestrator.New(orchestratorConfig(cfg))

	if recoverAuto {
		interrupted, err := orchestrator.ListInterruptedRuns(ctx, runsDir)
		if err != nil {
			return err
		}
		if len(interrupted) == 0 {
			out.Info("no interrupted runs found")
			return nil
		}
		failures := 0
		for _, r := range interrupted {
			if err := resumeOne(ctx, orch, r.RunID); err != nil {
				out.Error(fmt.Sprintf("%s: %v", r.RunID, err))
				failures++
				continue
			}
			out.Success(fmt.Sprintf("%s resumed", r.RunID))
		}
		if failures > 0 {
			os.Exit(1)
		}
		return nil
	}

	if len(args) != 1 {
		return fmt.Errorf("recover requires a run id, or --list/--auto")
	}
	runID := args[0]
	if err := runstate.ValidateRunID(runID); err != nil {
		return err
	}

	if !recoverForce && orchestrator.SessionAlive(ctx, runID) {
		return fmt.Errorf("run %s still has a live session; pass --force to resume anyway", runID)
	}

	if err := resumeOne(ctx, orch, runID); err != nil {
		out.Error(fmt.Sprintf("%s: %v", runID, err))
		os.Exit(1)
	}
	out.Success(fmt.Sprintf("%s resumed", runID))
	return nil
}

func resumeOne(ctx context.Context, orch *orchestrator.Orchestrator, runID string) error {
	if _, err := orch.ResumeRun(ctx, runID); err != nil {
		return err
	}
	return orch.Wait(ctx, runID)
}

func listInterrupted(ctx context.Context, runsDir string) error {
	interrupted, err := orchestrator.ListInterruptedRuns(ctx, runsDir)
	if err != nil {
		return err
	}
	if len(interrupted) == 0 {
		out.Info("no interrupted runs found")
		return nil
	}
	for _, r := range interrupted {
		out.Printf("%s  %s\n", r.RunID, r.Phase)
	}
	return nil
}
