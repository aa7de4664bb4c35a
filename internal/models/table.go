package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TableStatus string

const (
	TableAvailable TableStatus = "available"
	TableOccupied  TableStatus = "occupied"
)

type Table struct {
	bun.BaseModel `bun:"table:restaurant_tables"`

	ID              string      `json:"id" bun:"id,pk"`
	RestaurantID    string      `json:"restaurant_id" bun:"restaurant_id"`
	Name            string      `json:"name" bun:"name"`
	Status          TableStatus `json:"status" bun:"status"`
	ActiveSessionID *string     `json:"active_session_id" bun:"active_session_id"`
	UpdatedAt       time.Time   `json:"updated_at" bun:"updated_at"`
}
