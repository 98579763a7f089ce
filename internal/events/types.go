// Package events provides event types and subjects for the kanrun event system.
package events

// Event types for scheduled executions
const (
	ScheduledExecutionCreated   = "scheduled_execution.created"
	ScheduledExecutionCancelled = "scheduled_execution.cancelled"
	ScheduledExecutionFired     = "scheduled_execution.fired"
	ScheduledExecutionFailed    = "scheduled_execution.failed"
)

// Event types for executor profiles and discovery
const (
	ExecutorProfilesUpdated = "executor_profiles.updated"
	ExecutorOptionsUpdated  = "executor.options.updated"
)

// TaskExecuteRequest is the request/reply subject served by the agent
// execution engine. The reply carries {"ok": bool, "error": string}.
const TaskExecuteRequest = "task.execute"

// ExecutorOptionsSubject returns the subject discovered options for one
// executor are published on.
func ExecutorOptionsSubject(executor string) string {
	return "executor.options." + executor
}
