package model

import "time"

type PointEntry struct {
	ID         string         `json:"id"`
	AccountID  string         `json:"accountId"`
	ProjectURL string         `json:"projectUrl"`
	Points     float64        `json:"points"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

type ActivityLog struct {
	ID         string         `json:"id"`
	AccountID  string         `json:"accountId"`
	ProjectURL string         `json:"projectUrl"`
	Activity   string         `json:"activity"`
	Status     string         `json:"status"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}
