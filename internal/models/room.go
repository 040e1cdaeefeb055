package models

import (
	"time"
)

// Room represents a group chat with its own membership and message history.
type Room struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int64     `json:"message_count"`
	Participants int       `json:"participants,omitempty"`
}
