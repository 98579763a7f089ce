package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kandev/kanrun/internal/common/logger"
	"github.com/kandev/kanrun/internal/events"
	execmodels "github.com/kandev/kanrun/internal/executor/models"
	"github.com/kandev/kanrun/internal/scheduling/models"
	"github.com/kandev/kanrun/internal/scheduling/service"
	"github.com/kandev/kanrun/internal/scheduling/store"
)

// --- kanrun schedule ---

var scheduleCmd = &cobra.Command{
	Use:     "schedule",
	Aliases: []string{"schedules"},
	Short:   "Manage scheduled task executions",
}

var scheduleCreateCmd = &cobra.Command{
	Use:     "create",
	Aliases: []string{"add", "new"},
	Short:   "Schedule a task to run at a future time",
	RunE:    runScheduleCreate,
}

var scheduleListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List scheduled executions of a project",
	RunE:    runScheduleList,
}

var scheduleGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one scheduled execution",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleGet,
}

var scheduleCancelCmd = &cobra.Command{
	Use:     "cancel <id>",
	Aliases: []string{"rm"},
	Short:   "Cancel a pending scheduled execution",
	Args:    cobra.ExactArgs(1),
	RunE:    runScheduleCancel,
}

func init() {
	scheduleCreateCmd.Flags().String("task", "", "Task ID (required)")
	scheduleCreateCmd.Flags().String("project", "", "Project ID (defaults to the task's project)")
	scheduleCreateCmd.Flags().String("at", "", "Fire time, RFC 3339")
	scheduleCreateCmd.Flags().Duration("in", 0, "Fire after this delay (alternative to --at)")
	scheduleCreateCmd.Flags().String("executor", "CLAUDE_CODE", "Executor ID")
	scheduleCreateCmd.Flags().String("variant", "", "Profile variant (default DEFAULT)")
	scheduleCreateCmd.Flags().StringArray("repo", nil, "Repository as repo_id:target_branch (repeatable)")

	scheduleListCmd.Flags().String("project", "", "Project ID (required)")
	scheduleListCmd.Flags().String("status", "", "Filter by status: pending, fired, cancelled")
	scheduleListCmd.Flags().String("executor", "", "Filter by executor")

	scheduleCmd.AddCommand(scheduleCreateCmd)
	scheduleCmd.AddCommand(scheduleListCmd)
	scheduleCmd.AddCommand(scheduleGetCmd)
	scheduleCmd.AddCommand(scheduleCancelCmd)
	rootCmd.AddCommand(scheduleCmd)
}

// withScheduleService opens the stores and event bus for one CLI command.
func withScheduleService(cmd *cobra.Command, fn func(ctx context.Context, svc *service.Service, stores *Stores) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := cliLogger(cfg)
	defer func() { _ = log.Sync() }()

	stores, cleanup, err := provideStores(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() { _ = cleanup() }()

	provided, busCleanup, err := events.Provide(cfg, logger.NewNop())
	if err != nil {
		return err
	}
	defer func() { _ = busCleanup() }()

	svc := service.NewService(stores.Schedules, stores.Tasks, provided.Bus, log)
	return fn(cmd.Context(), svc, stores)
}

func runScheduleCreate(cmd *cobra.Command, _ []string) error {
	taskID, _ := cmd.Flags().GetString("task")
	projectID, _ := cmd.Flags().GetString("project")
	at, _ := cmd.Flags().GetString("at")
	in, _ := cmd.Flags().GetDuration("in")
	executorRaw, _ := cmd.Flags().GetString("executor")
	variant, _ := cmd.Flags().GetString("variant")
	repoArgs, _ := cmd.Flags().GetStringArray("repo")

	if taskID == "" {
		return fmt.Errorf("--task is required")
	}
	scheduledAt, err := parseFireTime(at, in, time.Now())
	if err != nil {
		return err
	}
	executor, err := execmodels.ParseAgentID(executorRaw)
	if err != nil {
		return err
	}
	repos, err := parseRepos(repoArgs)
	if err != nil {
		return err
	}

	return withScheduleService(cmd, func(ctx context.Context, svc *service.Service, stores *Stores) error {
		if projectID == "" {
			task, err := stores.Tasks.GetTask(ctx, taskID)
			if err != nil {
				return err
			}
			projectID = task.ProjectID
		}
		profile := execmodels.ExecutorProfileID{Executor: executor}
		if variant != "" {
			profile.Variant = execmodels.StringPtr(variant)
		}
		e, err := svc.Create(ctx, service.CreateRequest{
			TaskID:            taskID,
			ProjectID:         projectID,
			ScheduledAt:       scheduledAt,
			ExecutorProfileID: profile,
			Repos:             repos,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Scheduled %s for %s (%s)\n", e.ID, e.ScheduledAt.Local().Format(time.RFC1123), e.ExecutorProfileID.Key())
		return nil
	})
}

func runScheduleList(cmd *cobra.Command, _ []string) error {
	projectID, _ := cmd.Flags().GetString("project")
	statusRaw, _ := cmd.Flags().GetString("status")
	executorRaw, _ := cmd.Flags().GetString("executor")
	if projectID == "" {
		return fmt.Errorf("--project is required")
	}

	var filter store.ListFilter
	if statusRaw != "" {
		status, err := models.ParseStatus(statusRaw)
		if err != nil {
			return err
		}
		filter.Status = status
	}
	if executorRaw != "" {
		executor, err := execmodels.ParseAgentID(executorRaw)
		if err != nil {
			return err
		}
		filter.Executor = executor
	}

	return withScheduleService(cmd, func(ctx context.Context, svc *service.Service, _ *Stores) error {
		items, err := svc.ListByProject(ctx, projectID, filter)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No scheduled executions.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTASK\tSCHEDULED\tSTATUS\tPROFILE\tERROR")
		for _, e := range items {
			errMsg := ""
			if e.ErrorMessage != nil {
				errMsg = *e.ErrorMessage
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				e.ID, e.TaskID, e.ScheduledAt.Local().Format(time.RFC3339), e.Status, e.ExecutorProfileID.Key(), errMsg)
		}
		return w.Flush()
	})
}

func runScheduleGet(cmd *cobra.Command, args []string) error {
	return withScheduleService(cmd, func(ctx context.Context, svc *service.Service, _ *Stores) error {
		e, err := svc.Get(ctx, args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(e)
	})
}

func runScheduleCancel(cmd *cobra.Command, args []string) error {
	return withScheduleService(cmd, func(ctx context.Context, svc *service.Service, _ *Stores) error {
		ok, err := svc.Cancel(ctx, args[0])
		if err != nil {
			return err
		}
		if !ok {
			fmt.Printf("Scheduled execution %s is no longer pending; nothing to cancel\n", args[0])
			return nil
		}
		fmt.Printf("Cancelled %s\n", args[0])
		return nil
	})
}

func parseFireTime(at string, in time.Duration, now time.Time) (time.Time, error) {
	switch {
	case at != "" && in != 0:
		return time.Time{}, fmt.Errorf("use either --at or --in, not both")
	case at != "":
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --at: %w", err)
		}
		return t, nil
	case in > 0:
		return now.Add(in), nil
	default:
		return time.Time{}, fmt.Errorf("one of --at or --in is required")
	}
}

func parseRepos(args []string) ([]models.RepoInput, error) {
	repos := make([]models.RepoInput, 0, len(args))
	for _, arg := range args {
		repoID, branch, ok := strings.Cut(arg, ":")
		if !ok {
			return nil, fmt.Errorf("invalid --repo %q: expected repo_id:target_branch", arg)
		}
		repos = append(repos, models.RepoInput{RepoID: repoID, TargetBranch: branch})
	}
	return repos, nil
}
