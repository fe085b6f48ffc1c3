package models

import "time"

type Vehicle struct {
	VehicleID string    `json:"vehicle_id"`
	Plate     string    `json:"plate"`
	CreatedAt time.Time `json:"created_at"`
}

// Item holds the per-item configuration used by capture conversions and
// movement building. PackSize and TareWeight fall back to service-wide
// defaults when zero.
type Item struct {
	ItemCode        string  `json:"item_code"`
	ItemName        string  `json:"item_name"`
	UOM             string  `json:"uom"`
	WeightPerUnit   float64 `json:"weight_per_unit"`
	PackSize        float64 `json:"pack_size"`
	TareWeight      float64 `json:"tare_weight"`
	DefaultLocation string  `json:"default_location"`
}

const (
	MovementReceipt  = "receipt"
	MovementTransfer = "transfer"
)

type Movement struct {
	MovementID   string         `json:"movement_id"`
	TicketID     string         `json:"ticket_id"`
	MovementType string         `json:"movement_type"`
	WorkOrder    string         `json:"work_order,omitempty"`
	PostedAt     time.Time      `json:"posted_at"`
	Lines        []MovementLine `json:"lines"`
}

type MovementLine struct {
	ItemCode            string  `json:"item_code"`
	Quantity            float64 `json:"quantity"`
	UOM                 string  `json:"uom"`
	SourceLocation      string  `json:"source_location,omitempty"`
	DestinationLocation string  `json:"destination_location"`
}
