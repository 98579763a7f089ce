package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kandev/kanrun/internal/scheduling/service"
	taskmodels "github.com/kandev/kanrun/internal/task/models"
)

// --- kanrun project / task ---

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectCreate,
}

var taskCmd = &cobra.Command{
	Use:     "task",
	Aliases: []string{"tasks"},
	Short:   "Manage tasks",
}

var taskCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a task in a project",
	RunE:  runTaskCreate,
}

var taskStatusCmd = &cobra.Command{
	Use:   "status <id> <status>",
	Short: "Move a task to todo, in_progress, review, done or cancelled",
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskStatus,
}

func init() {
	taskCreateCmd.Flags().String("project", "", "Project ID (required)")
	taskCreateCmd.Flags().String("title", "", "Task title (required)")

	projectCmd.AddCommand(projectCreateCmd)
	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskStatusCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(taskCmd)
}

func runProjectCreate(cmd *cobra.Command, args []string) error {
	return withScheduleService(cmd, func(ctx context.Context, _ *service.Service, stores *Stores) error {
		project := &taskmodels.Project{Name: args[0]}
		if err := stores.Tasks.CreateProject(ctx, project); err != nil {
			return err
		}
		fmt.Println(project.ID)
		return nil
	})
}

func runTaskCreate(cmd *cobra.Command, _ []string) error {
	projectID, _ := cmd.Flags().GetString("project")
	title, _ := cmd.Flags().GetString("title")
	if projectID == "" || title == "" {
		return fmt.Errorf("--project and --title are required")
	}
	return withScheduleService(cmd, func(ctx context.Context, _ *service.Service, stores *Stores) error {
		task := &taskmodels.Task{ProjectID: projectID, Title: title}
		if err := stores.Tasks.CreateTask(ctx, task); err != nil {
			return err
		}
		fmt.Println(task.ID)
		return nil
	})
}

func runTaskStatus(cmd *cobra.Command, args []string) error {
	status := taskmodels.TaskStatus(args[1])
	if !status.Valid() {
		return fmt.Errorf("unknown task status %q", args[1])
	}
	return withScheduleService(cmd, func(ctx context.Context, _ *service.Service, stores *Stores) error {
		return stores.Tasks.UpdateTaskStatus(ctx, args[0], status)
	})
}
