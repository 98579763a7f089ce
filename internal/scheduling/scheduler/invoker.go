package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kandev/kanrun/internal/events"
	"github.com/kandev/kanrun/internal/events/bus"
)

const defaultInvokeTimeout = 30 * time.Second

// BusInvoker asks the execution engine to start a task with a request/reply
// on the event bus.
type BusInvoker struct {
	bus     bus.EventBus
	timeout time.Duration
}

// NewBusInvoker creates an invoker; a non-positive timeout selects 30s.
func NewBusInvoker(eventBus bus.EventBus, timeout time.Duration) *BusInvoker {
	if timeout <= 0 {
		timeout = defaultInvokeTimeout
	}
	return &BusInvoker{bus: eventBus, timeout: timeout}
}

// ExecuteReply is the engine's answer to a task.execute request.
type ExecuteReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Invoke sends the request and waits for the engine's reply.
func (b *BusInvoker) Invoke(ctx context.Context, req InvokeRequest) error {
	event := bus.NewEvent(events.TaskExecuteRequest, "scheduler", map[string]interface{}{
		"schedule_id":         req.ScheduleID,
		"task_id":             req.TaskID,
		"project_id":          req.ProjectID,
		"executor_profile_id": req.ExecutorProfileID,
		"repos":               req.Repos,
	})
	resp, err := b.bus.Request(ctx, events.TaskExecuteRequest, event, b.timeout)
	if err != nil {
		return fmt.Errorf("task execution request failed: %w", err)
	}
	var reply ExecuteReply
	if err := resp.DecodeData(&reply); err != nil {
		return err
	}
	if !reply.OK {
		if reply.Error == "" {
			return errors.New("task execution rejected")
		}
		return errors.New(reply.Error)
	}
	return nil
}
