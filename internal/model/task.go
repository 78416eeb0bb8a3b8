package model

import "time"

type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskPaused    TaskState = "paused"
	TaskCompleted TaskState = "completed"
	TaskStopped   TaskState = "stopped"
	TaskError     TaskState = "error"
)

func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskStopped || s == TaskError
}

// Task is a snapshot; the scheduler owns the live copy.
type Task struct {
	ID             string    `json:"id"`
	URL            string    `json:"url"`
	AccountCount   int       `json:"accountCount"`
	ReferralCode   string    `json:"referralCode,omitempty"`
	State          TaskState `json:"status"`
	PauseRequested bool      `json:"pauseRequested,omitempty"`
	Progress       int       `json:"progress"`
	Completed      int       `json:"completed"`
	Failed         int       `json:"failed"`
	ActiveSessions []string  `json:"activeSessions"`
	AccountIDs     []string  `json:"accountIds"`
	LastError      string    `json:"lastError,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
