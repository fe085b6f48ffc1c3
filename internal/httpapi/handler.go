package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nevira/weighbridge-service/internal/store"

	"github.com/google/uuid"
)

type Handler struct {
	store store.TicketStore
}

func NewHandler(store store.TicketStore) *Handler {
	return &Handler{store: store}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/events", h.handleEvents)
	mux.HandleFunc("/api/tickets", h.handleListTickets)
	mux.HandleFunc("/api/tickets/", h.handleTicket)
	mux.HandleFunc("/api/sessions/", h.handleSession)
	mux.HandleFunc("/api/movements/", h.handleMovement)
	return mux
}

// weightValue tolerates both bare and quoted numbers; scale vendors disagree
// on which one they send.
type weightValue float64

func (w *weightValue) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		return fmt.Errorf("weight must be numeric")
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("weight must be numeric")
	}
	*w = weightValue(value)
	return nil
}

type ingestRequest struct {
	Vehicle      string       `json:"vehicle"`
	Driver       string       `json:"driver"`
	FirstWeight  *weightValue `json:"first_weight"`
	SecondWeight *weightValue `json:"second_weight"`
	ExternalRef  string       `json:"external_ref"`
}

type ingestResponse struct {
	OK           bool    `json:"ok"`
	TicketID     string  `json:"ticket_id"`
	TicketNumber string  `json:"ticket_number"`
	SessionID    *string `json:"session_id,omitempty"`
	SequenceNo   int     `json:"sequence_no,omitempty"`
	Status       string  `json:"status"`
}

type errorResponse struct {
	RequestRef string        `json:"request_ref,omitempty"`
	Error      responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleIngest(w, r)
	case http.MethodGet:
		h.handleListOutbox(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.ExternalRef, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.Vehicle = strings.TrimSpace(req.Vehicle)
	req.Driver = strings.TrimSpace(req.Driver)
	req.ExternalRef = strings.TrimSpace(req.ExternalRef)

	if req.Vehicle == "" {
		writeError(w, req.ExternalRef, http.StatusBadRequest, "invalid_request", "vehicle is required")
		return
	}
	if req.FirstWeight == nil || req.SecondWeight == nil {
		writeError(w, req.ExternalRef, http.StatusBadRequest, "invalid_request", "first_weight and second_weight must be numeric")
		return
	}

	result, err := h.store.IngestEvent(r.Context(), store.IngestEventInput{
		RawVehicle:   req.Vehicle,
		DriverName:   req.Driver,
		FirstWeight:  float64(*req.FirstWeight),
		SecondWeight: float64(*req.SecondWeight),
		ExternalRef:  req.ExternalRef,
		ReceivedAt:   time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.ExternalRef, status, code, msg)
		return
	}

	status := "created"
	if result.Duplicate {
		status = "duplicate_ignored"
	}
	resp := ingestResponse{
		OK:           true,
		TicketID:     result.Ticket.TicketID,
		TicketNumber: result.Ticket.TicketNumber,
		SessionID:    result.Ticket.SessionID,
		Status:       status,
	}
	if result.Ticket.SessionID != nil {
		resp.SequenceNo = result.Ticket.SequenceNo
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListOutbox(w http.ResponseWriter, r *http.Request) {
	var after time.Time
	if afterRaw := strings.TrimSpace(r.URL.Query().Get("after")); afterRaw != "" {
		parsed, err := time.Parse(time.RFC3339, afterRaw)
		if err != nil {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "after must be RFC3339 timestamp")
			return
		}
		after = parsed
	}

	limit := 100
	if limitRaw := strings.TrimSpace(r.URL.Query().Get("limit")); limitRaw != "" {
		parsed, err := strconv.Atoi(limitRaw)
		if err != nil || parsed <= 0 {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	events, err := h.store.ListOutboxEvents(r.Context(), after, limit)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) handleListTickets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	plate := strings.TrimSpace(r.URL.Query().Get("vehicle"))
	if plate == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "vehicle is required")
		return
	}
	limit := 20
	if limitRaw := strings.TrimSpace(r.URL.Query().Get("limit")); limitRaw != "" {
		parsed, err := strconv.Atoi(limitRaw)
		if err != nil || parsed <= 0 {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	tickets, err := h.store.ListTicketsByVehicle(r.Context(), plate, limit)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, tickets)
}

func (h *Handler) handleTicket(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tickets/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case len(parts) == 1:
		h.handleGetTicket(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "actions":
		h.handleTicketAction(w, r, parts[0], parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetTicket(w http.ResponseWriter, r *http.Request, ticketID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isValidUUID(ticketID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "ticket id must be a UUID")
		return
	}

	ticket, details, err := h.store.GetTicket(r.Context(), ticketID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ticket":          ticket,
		"capture_details": details,
	})
}

func (h *Handler) handleTicketAction(w http.ResponseWriter, r *http.Request, ticketID, action string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isValidUUID(ticketID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "ticket id must be a UUID")
		return
	}

	switch action {
	case "capture":
		h.handleCapture(w, r, ticketID)
	case "confirm":
		h.handleConfirm(w, r, ticketID)
	case "cancel":
		h.handleCancel(w, r, ticketID)
	case "update-weights":
		h.handleUpdateWeights(w, r, ticketID)
	case "mark-session":
		h.handleMarkSession(w, r, ticketID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type partnerLineRequest struct {
	PartnerDescription string      `json:"partner_description"`
	ItemDescription    string      `json:"item_description"`
	FirstWeight        weightValue `json:"first_weight"`
	SecondWeight       weightValue `json:"second_weight"`
	Quantity           *float64    `json:"quantity"`
}

type captureRequest struct {
	CargoType    string               `json:"cargo_type"`
	SecondWeight *weightValue         `json:"second_weight"`
	ItemCode     string               `json:"item_code"`
	CustomerName string               `json:"customer_name"`
	QuarryFrom   string               `json:"quarry_from"`
	Lines        []partnerLineRequest `json:"lines"`
}

func (h *Handler) handleCapture(w http.ResponseWriter, r *http.Request, ticketID string) {
	var req captureRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	input := store.CaptureInput{
		TicketID:     ticketID,
		CargoType:    strings.TrimSpace(req.CargoType),
		ItemCode:     strings.TrimSpace(req.ItemCode),
		CustomerName: strings.TrimSpace(req.CustomerName),
		QuarryFrom:   strings.TrimSpace(req.QuarryFrom),
	}
	if req.SecondWeight != nil {
		input.SecondWeight = float64(*req.SecondWeight)
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, store.PartnerLineInput{
			PartnerDescription: strings.TrimSpace(line.PartnerDescription),
			ItemDescription:    strings.TrimSpace(line.ItemDescription),
			FirstWeight:        float64(line.FirstWeight),
			SecondWeight:       float64(line.SecondWeight),
			Quantity:           line.Quantity,
		})
	}

	if input.CargoType == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "cargo_type is required")
		return
	}

	ticket, details, err := h.store.CaptureTicket(r.Context(), input)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ticket":          ticket,
		"capture_details": details,
	})
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request, ticketID string) {
	var req struct {
		WorkOrder string `json:"work_order"`
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	result, err := h.store.ConfirmTicket(r.Context(), store.ConfirmInput{
		TicketID:  ticketID,
		WorkOrder: strings.TrimSpace(req.WorkOrder),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	status := "already_confirmed"
	if result.Created {
		status = "confirmed"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"movement_id": result.Movement.MovementID,
		"status":      status,
	})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request, ticketID string) {
	ticket, err := h.store.CancelTicket(r.Context(), ticketID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleUpdateWeights(w http.ResponseWriter, r *http.Request, ticketID string) {
	var req struct {
		FirstWeight  *weightValue `json:"first_weight"`
		SecondWeight *weightValue `json:"second_weight"`
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if req.FirstWeight == nil {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "first_weight must be numeric")
		return
	}
	input := store.UpdateWeightsInput{
		TicketID:    ticketID,
		FirstWeight: float64(*req.FirstWeight),
	}
	if req.SecondWeight != nil {
		input.SecondWeight = float64(*req.SecondWeight)
	}

	ticket, err := h.store.UpdateWeights(r.Context(), input)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleMarkSession(w http.ResponseWriter, r *http.Request, ticketID string) {
	var req struct {
		TotalExpected int `json:"total_expected"`
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	ticket, err := h.store.MarkSession(r.Context(), ticketID, req.TotalExpected)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sessionID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/sessions/"), "/")
	if !isValidUUID(sessionID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "session id must be a UUID")
		return
	}

	tickets, err := h.store.GetSession(r.Context(), sessionID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, tickets)
}

func (h *Handler) handleMovement(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	movementID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/movements/"), "/")
	if !isValidUUID(movementID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "movement id must be a UUID")
		return
	}

	movement, err := h.store.GetMovement(r.Context(), movementID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, movement)
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest, "validation_error", err.Error()
	case errors.Is(err, store.ErrInvalidWeight):
		return http.StatusBadRequest, "invalid_weight", "second weight must be greater than first weight"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrVehicleNotFound):
		return http.StatusNotFound, "vehicle_not_found", "vehicle not found"
	case errors.Is(err, store.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found", "session not found"
	case errors.Is(err, store.ErrMovementNotFound):
		return http.StatusNotFound, "movement_not_found", "movement not found"
	case errors.Is(err, store.ErrItemNotFound):
		return http.StatusNotFound, "item_not_found", err.Error()
	case errors.Is(err, store.ErrAlreadyCaptured):
		return http.StatusConflict, "already_captured", "ticket has already been captured"
	case errors.Is(err, store.ErrLockedField):
		return http.StatusConflict, "locked_field", "weights and cargo type cannot change after capture"
	case errors.Is(err, store.ErrMissingWeight):
		return http.StatusConflict, "missing_weight", "first weight must be recorded before capture"
	case errors.Is(err, store.ErrNotPendingConfirmation):
		return http.StatusConflict, "not_pending_confirmation", "ticket is not awaiting confirmation"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "ticket state does not allow this action"
	case errors.Is(err, store.ErrConfiguration):
		return http.StatusUnprocessableEntity, "configuration_error", err.Error()
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestRef string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestRef: requestRef,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
