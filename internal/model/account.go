package model

import "time"

type AccountStatus string

const (
	AccountIdle  AccountStatus = "idle"
	AccountBusy  AccountStatus = "busy"
	AccountError AccountStatus = "error"
)

func (s AccountStatus) Valid() bool {
	switch s {
	case AccountIdle, AccountBusy, AccountError:
		return true
	}
	return false
}

// Account is a stored credential identity. Secret holds the "<iv>:<cipher>"
// form and is never serialized to API clients.
type Account struct {
	ID         string        `json:"id"`
	Identifier string        `json:"identifier"`
	Secret     string        `json:"-"`
	Notes      string        `json:"notes,omitempty"`
	Status     AccountStatus `json:"status"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

// AccountInput is the manageAccount payload. An empty ID creates.
type AccountInput struct {
	ID         string `json:"id,omitempty"`
	Identifier string `json:"identifier"`
	Secret     string `json:"secret,omitempty"`
	Notes      string `json:"notes,omitempty"`
}
