package logbus

const (
	TypeLog        = "log"
	TypeTaskStatus = "task-status-update"
	TypePoints     = "points-update"
	TypeError      = "error-occurred"
)

type TaskStatusEvent struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Progress     int    `json:"progress"`
	URL          string `json:"url"`
	AccountCount int    `json:"accountCount"`
}

type PointsEvent struct {
	ProjectURL string `json:"projectUrl"`
	Totals     any    `json:"totals"`
}

type ErrorEvent struct {
	Message string `json:"message"`
	TaskID  string `json:"taskId,omitempty"`
}

// Publisher is the write side the scheduler and pools depend on.
type Publisher interface {
	Publish(typ string, data any)
	Log(level, message string, fields map[string]any)
}

func (b *Bus) TaskStatus(ev TaskStatusEvent) { b.Publish(TypeTaskStatus, ev) }

func (b *Bus) Points(ev PointsEvent) { b.Publish(TypePoints, ev) }

func (b *Bus) Error(taskID, message string) {
	b.Publish(TypeError, ErrorEvent{Message: message, TaskID: taskID})
}
