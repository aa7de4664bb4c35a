package models

import "time"

// UncategorizedMethod collects legacy sessions whose payment method cannot be inferred.
const UncategorizedMethod = "uncategorized"

type ProductSales struct {
	ItemID   string  `json:"item_id"`
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Revenue  float64 `json:"revenue"`
}

type ShiftReport struct {
	RestaurantID    string             `json:"restaurant_id"`
	From            time.Time          `json:"from"`
	To              time.Time          `json:"to"`
	SessionCount    int                `json:"session_count"`
	TableSessions   int                `json:"table_sessions"`
	CounterSessions int                `json:"counter_sessions"`
	Subtotal        float64            `json:"subtotal"`
	Tax             float64            `json:"tax"`
	Sales           float64            `json:"sales"`
	Tips            float64            `json:"tips"`
	ByMethod        map[string]float64 `json:"by_method"`
	ItemCount       int                `json:"item_count"`
	Products        []ProductSales     `json:"products"`
}
