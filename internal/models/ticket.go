package models

import "time"

type Ticket struct {
	TicketID           string    `json:"ticket_id"`
	TicketNumber       string    `json:"ticket_number"`
	VehicleID          string    `json:"vehicle_id"`
	Plate              string    `json:"plate,omitempty"`
	DriverName         string    `json:"driver_name,omitempty"`
	FirstWeight        float64   `json:"first_weight"`
	SecondWeight       float64   `json:"second_weight"`
	NetWeight          float64   `json:"net_weight"`
	CargoType          string    `json:"cargo_type,omitempty"`
	WeighingStatus     string    `json:"weighing_status"`
	HasMultipleWeights bool      `json:"has_multiple_weights"`
	SessionID          *string   `json:"session_id,omitempty"`
	SequenceNo         int       `json:"sequence_no"`
	TotalExpected      *int      `json:"total_expected,omitempty"`
	IsFinal            bool      `json:"is_final"`
	PreviousTicketID   *string   `json:"previous_ticket_id,omitempty"`
	ExternalRef        string    `json:"external_ref,omitempty"`
	MovementID         *string   `json:"movement_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

const (
	StatusPendingFirstWeight   = "pending_first_weight"
	StatusAwaitingSecondWeight = "awaiting_second_weight"
	StatusReadyForCapture      = "ready_for_capture"
	StatusPendingConfirmation  = "pending_confirmation"
	StatusCompleted            = "completed"
	StatusCancelled            = "cancelled"
)

const (
	CargoRawMaterial        = "raw_material"
	CargoProductionMaterial = "production_material"
	CargoFinishedGoods      = "finished_goods"
	CargoInterCompany       = "inter_company"
	CargoPurchasedMaterial  = "purchased_material"
	CargoPartnerProduction  = "partner_production"
)

// CaptureDetail is one child row attached to a ticket at capture time.
// Which fields are populated depends on the cargo type.
type CaptureDetail struct {
	DetailID           string  `json:"detail_id"`
	TicketID           string  `json:"ticket_id"`
	ItemCode           string  `json:"item_code,omitempty"`
	ItemName           string  `json:"item_name,omitempty"`
	CustomerName       string  `json:"customer_name,omitempty"`
	QuarryFrom         string  `json:"quarry_from,omitempty"`
	PartnerDescription string  `json:"partner_description,omitempty"`
	UOM                string  `json:"uom,omitempty"`
	Quantity           float64 `json:"quantity"`
	Tonnage            float64 `json:"tonnage,omitempty"`
	BagCount           int     `json:"bag_count,omitempty"`
	FirstWeight        float64 `json:"first_weight,omitempty"`
	SecondWeight       float64 `json:"second_weight,omitempty"`
}
