package model

import "time"

type ProxyStatus string

const (
	ProxyActive   ProxyStatus = "active"
	ProxyError    ProxyStatus = "error"
	ProxyUntested ProxyStatus = "untested"
)

type Proxy struct {
	ID        string      `json:"id"`
	Address   string      `json:"address"`
	Username  string      `json:"username,omitempty"`
	Password  string      `json:"-"`
	Type      string      `json:"type"`
	Status    ProxyStatus `json:"status"`
	LastTest  time.Time   `json:"lastTest,omitempty"`
	LastUsed  time.Time   `json:"lastUsed,omitempty"`
	UseCount  int64       `json:"useCount"`
	CreatedAt time.Time   `json:"createdAt"`
}

type ProxyInput struct {
	Address  string `json:"address"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}
