package models

import "time"

const (
	EventSessionOpened    = "session.opened"
	EventItemsChanged     = "session.items_changed"
	EventPaymentRecorded  = "payment.recorded"
	EventSessionClosed    = "session.closed"
	EventSessionCancelled = "session.cancelled"
)

// SessionEvent carries the committed session state to live subscribers.
type SessionEvent struct {
	Type         string    `json:"type"`
	Origin       string    `json:"origin"`
	SessionID    string    `json:"session_id"`
	RestaurantID string    `json:"restaurant_id"`
	Session      *Session  `json:"session,omitempty"`
	Payment      *Payment  `json:"payment,omitempty"`
	TableRelease bool      `json:"table_released,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}
