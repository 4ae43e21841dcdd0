package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bazelment/conductor/cliutil"
	"github.com/bazelment/conductor/config"
	"github.com/bazelment/conductor/mission"
	"github.com/bazelment/conductor/orchestrator"
	"github.com/bazelment/conductor/planning"
)

var missionCmd = &cobra.Command{
	Use:   "mission",
	Short: "Multi-phase mission lifecycle: create, list, status, approve, run, kanban",
}

var missionCreateCmd = &cobra.Command{
	Use:   "create [description-file]",
	Short: "Create a mission and run the Planner/Critic loop against it",
	Args:  cobra.ExactArgs(1),
	RunE:  runMissionCreate,
}

var missionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List missions",
	RunE:  runMissionList,
}

var missionStatusCmd = &cobra.Command{
	Use:   "status <mission-id>",
	Short: "Show a mission's phases and task statuses",
	Args:  cobra.ExactArgs(1),
	RunE:  runMissionStatus,
}

var missionApproveCmd = &cobra.Command{
	Use:   "approve <mission-id>",
	Short: "Approve a plan_review mission's last draft and promote it to ready",
	Args:  cobra.ExactArgs(1),
	RunE:  runMissionApprove,
}

var missionRunCmd = &cobra.Command{
	Use:   "run <mission-id> <phase-number>",
	Short: "Run every eligible task in a mission phase",
	Args:  cobra.ExactArgs(2),
	RunE:  runMissionRun,
}

var missionKanbanCmd = &cobra.Command{
	Use:   "kanban <mission-id>",
	Short: "Print the mission's Kanban board",
	Args:  cobra.ExactArgs(1),
	RunE:  runMissionKanban,
}

var (
	continueOnFailure bool
	approveYes        bool
)

func init() {
	missionRunCmd.Flags().BoolVar(&continueOnFailure, "continue-on-failure", false, "Keep running remaining tasks after one fails")
	missionApproveCmd.Flags().BoolVar(&approveYes, "yes", false, "Skip the confirmation prompt")

	missionCmd.AddCommand(missionCreateCmd, missionListCmd, missionStatusCmd,
		missionApproveCmd, missionRunCmd, missionKanbanCmd)
}

func newManager(cfg *config.Config) *mission.Manager {
	orch := orchestrator.New(orchestratorConfig(cfg))
	return mission.New(mission.Config{
		ProjectRoot: projectRoot,
		MissionsDir: resolveMissionsDir(),
		RunsDir:     resolveRunsDir(cfg),
	}, orch, planning.NewProcessRunner())
}

func deps() (*config.Config, error) {
	return loadProjectConfig()
}

func runMissionCreate(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read description file: %w", err)
	}

	d, err := deps()
	if err != nil {
		return err
	}
	m := newManager(d)

	mission, err := m.CreateMission(context.Background(), string(data))
	if err != nil {
		out.Error(fmt.Sprintf("create mission: %v", err))
		os.Exit(1)
	}

	out.Success(fmt.Sprintf("mission %s created, status=%s", mission.MissionID, mission.Status))
	return nil
}

func runMissionList(cmd *cobra.Command, args []string) error {
	d, err := deps()
	if err != nil {
		return err
	}
	m := newManager(d)

	missions, err := m.ListMissions()
	if err != nil {
		out.Error(fmt.Sprintf("list missions: %v", err))
		os.Exit(1)
	}
	if len(missions) == 0 {
		out.Info("no missions found")
		return nil
	}
	for _, mn := range missions {
		out.Printf("%s  %s  %d phases\n", cliutil.Pad(mn.MissionID, 24), cliutil.Pad(string(mn.Status), 14), len(mn.Phases))
	}
	return nil
}

func runMissionStatus(cmd *cobra.Command, args []string) error {
	d, err := deps()
	if err != nil {
		return err
	}
	m := newManager(d)

	mn, err := m.GetMission(args[0])
	if err != nil {
		out.Error(fmt.Sprintf("status: %v", err))
		os.Exit(2)
	}

	out.Printf("mission %s  status=%s  planning=%s\n", mn.MissionID, mn.Status, mn.Planning.Stage)
	for _, ph := range mn.Phases {
		out.Printf("  phase %d: %s [%s]\n", ph.Number, ph.Title, ph.Status)
		for _, t := range ph.Tasks {
			out.Printf("    - %s %s [%s]\n", t.TaskID, t.Title, t.Status)
		}
	}
	return nil
}

func runMissionApprove(cmd *cobra.Command, args []string) error {
	ok, err := cliutil.Confirm(fmt.Sprintf("approve mission %s's plan and promote it to ready?", args[0]), approveYes)
	if err != nil {
		out.Error(err.Error())
		os.Exit(2)
	}
	if !ok {
		out.Info("approval cancelled")
		return nil
	}

	d, err := deps()
	if err != nil {
		return err
	}
	m := newManager(d)

	if err := m.ApprovePlan(args[0]); err != nil {
		out.Error(fmt.Sprintf("approve: %v", err))
		os.Exit(2)
	}
	out.Success(fmt.Sprintf("mission %s approved", args[0]))
	return nil
}

func runMissionRun(cmd *cobra.Command, args []string) error {
	phaseNum, err := parsePhaseNumber(args[1])
	if err != nil {
		out.Error(err.Error())
		os.Exit(2)
	}

	d, err := deps()
	if err != nil {
		return err
	}
	m := newManager(d)

	if err := m.RunPhase(context.Background(), args[0], phaseNum, continueOnFailure); err != nil {
		out.Error(fmt.Sprintf("run phase %d: %v", phaseNum, err))
		os.Exit(1)
	}
	out.Success(fmt.Sprintf("mission %s phase %d run complete", args[0], phaseNum))
	return nil
}

func runMissionKanban(cmd *cobra.Command, args []string) error {
	d, err := deps()
	if err != nil {
		return err
	}
	m := newManager(d)

	mn, err := m.GetMission(args[0])
	if err != nil {
		out.Error(fmt.Sprintf("kanban: %v", err))
		os.Exit(2)
	}
	for _, ph := range mn.Phases {
		out.Printf("== %s ==\n", ph.Title)
		for _, t := range ph.Tasks {
			out.Printf("  [%s] %s\n", t.Status, t.Title)
		}
	}
	return nil
}

func parsePhaseNumber(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid phase number %q", s)
	}
	return n, nil
}
