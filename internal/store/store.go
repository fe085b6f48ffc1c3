package store

import (
	"context"
	"encoding/json"
	"time"

	"nevira/weighbridge-service/internal/models"
)

type IngestEventInput struct {
	RawVehicle   string
	DriverName   string
	FirstWeight  float64
	SecondWeight float64
	ExternalRef  string
	ReceivedAt   time.Time
}

type IngestResult struct {
	Ticket    models.Ticket
	Duplicate bool
}

type PartnerLineInput struct {
	PartnerDescription string
	ItemDescription    string
	FirstWeight        float64
	SecondWeight       float64
	// Quantity is optional; when nil it defaults to the line's net weight in
	// tonnes.
	Quantity *float64
}

type CaptureInput struct {
	TicketID     string
	CargoType    string
	SecondWeight float64
	ItemCode     string
	CustomerName string
	QuarryFrom   string
	Lines        []PartnerLineInput
}

type UpdateWeightsInput struct {
	TicketID     string
	FirstWeight  float64
	SecondWeight float64
}

type ConfirmInput struct {
	TicketID  string
	WorkOrder string
}

type ConfirmResult struct {
	Movement models.Movement
	Created  bool
}

type TicketStore interface {
	IngestEvent(ctx context.Context, input IngestEventInput) (IngestResult, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, []models.CaptureDetail, error)
	ListTicketsByVehicle(ctx context.Context, plate string, limit int) ([]models.Ticket, error)
	GetSession(ctx context.Context, sessionID string) ([]models.Ticket, error)
	MarkSession(ctx context.Context, ticketID string, totalExpected int) (models.Ticket, error)
	CaptureTicket(ctx context.Context, input CaptureInput) (models.Ticket, []models.CaptureDetail, error)
	ConfirmTicket(ctx context.Context, input ConfirmInput) (ConfirmResult, error)
	CancelTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	UpdateWeights(ctx context.Context, input UpdateWeightsInput) (models.Ticket, error)
	GetMovement(ctx context.Context, movementID string) (models.Movement, error)
	ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]OutboxEvent, error)
}

type OutboxEvent struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
