package notify

import "context"

// TaskFinishedEvent describes a task that reached a terminal state.
type TaskFinishedEvent struct {
	At           int64  `json:"atMs"`
	TaskID       string `json:"taskId"`
	URL          string `json:"url"`
	State        string `json:"state"`
	AccountCount int    `json:"accountCount"`
	Completed    int    `json:"completed"`
	Failed       int    `json:"failed"`
	LastError    string `json:"lastError,omitempty"`
}

type Notifier interface {
	NotifyTaskFinished(ctx context.Context, evt TaskFinishedEvent)
}

type Nop struct{}

func (Nop) NotifyTaskFinished(context.Context, TaskFinishedEvent) {}
