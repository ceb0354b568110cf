package models

import "time"

// Thread is a derived view over messages sharing a thread ID. It is never
// written directly; listings recompute it from Message rows.
type Thread struct {
	ID           string    `json:"id"`
	Participants []string  `json:"participants"`
	LastFrom     string    `json:"last_from"`
	LastBody     string    `json:"last_body"`
	LastAt       time.Time `json:"last_at"`
	Unread       int64     `json:"unread"`
	Total        int64     `json:"total"`
}

// CanonicalThread returns the default per-agent thread ID used when a
// message is sent without an explicit thread.
func CanonicalThread(agent string) string {
	return "agent:" + agent
}
