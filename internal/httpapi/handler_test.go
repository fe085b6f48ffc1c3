package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nevira/weighbridge-service/internal/models"
	"nevira/weighbridge-service/internal/store"
)

type fakeStore struct {
	ingestFn      func(ctx context.Context, input store.IngestEventInput) (store.IngestResult, error)
	getTicketFn   func(ctx context.Context, ticketID string) (models.Ticket, []models.CaptureDetail, error)
	listFn        func(ctx context.Context, plate string, limit int) ([]models.Ticket, error)
	sessionFn     func(ctx context.Context, sessionID string) ([]models.Ticket, error)
	markSessionFn func(ctx context.Context, ticketID string, totalExpected int) (models.Ticket, error)
	captureFn     func(ctx context.Context, input store.CaptureInput) (models.Ticket, []models.CaptureDetail, error)
	confirmFn     func(ctx context.Context, input store.ConfirmInput) (store.ConfirmResult, error)
	cancelFn      func(ctx context.Context, ticketID string) (models.Ticket, error)
	updateFn      func(ctx context.Context, input store.UpdateWeightsInput) (models.Ticket, error)
	movementFn    func(ctx context.Context, movementID string) (models.Movement, error)
	outboxFn      func(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error)
}

func (f fakeStore) IngestEvent(ctx context.Context, input store.IngestEventInput) (store.IngestResult, error) {
	if f.ingestFn == nil {
		return store.IngestResult{}, nil
	}
	return f.ingestFn(ctx, input)
}

func (f fakeStore) GetTicket(ctx context.Context, ticketID string) (models.Ticket, []models.CaptureDetail, error) {
	if f.getTicketFn == nil {
		return models.Ticket{}, nil, nil
	}
	return f.getTicketFn(ctx, ticketID)
}

func (f fakeStore) ListTicketsByVehicle(ctx context.Context, plate string, limit int) ([]models.Ticket, error) {
	if f.listFn == nil {
		return nil, nil
	}
	return f.listFn(ctx, plate, limit)
}

func (f fakeStore) GetSession(ctx context.Context, sessionID string) ([]models.Ticket, error) {
	if f.sessionFn == nil {
		return nil, nil
	}
	return f.sessionFn(ctx, sessionID)
}

func (f fakeStore) MarkSession(ctx context.Context, ticketID string, totalExpected int) (models.Ticket, error) {
	if f.markSessionFn == nil {
		return models.Ticket{}, nil
	}
	return f.markSessionFn(ctx, ticketID, totalExpected)
}

func (f fakeStore) CaptureTicket(ctx context.Context, input store.CaptureInput) (models.Ticket, []models.CaptureDetail, error) {
	if f.captureFn == nil {
		return models.Ticket{}, nil, nil
	}
	return f.captureFn(ctx, input)
}

func (f fakeStore) ConfirmTicket(ctx context.Context, input store.ConfirmInput) (store.ConfirmResult, error) {
	if f.confirmFn == nil {
		return store.ConfirmResult{}, nil
	}
	return f.confirmFn(ctx, input)
}

func (f fakeStore) CancelTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	if f.cancelFn == nil {
		return models.Ticket{}, nil
	}
	return f.cancelFn(ctx, ticketID)
}

func (f fakeStore) UpdateWeights(ctx context.Context, input store.UpdateWeightsInput) (models.Ticket, error) {
	if f.updateFn == nil {
		return models.Ticket{}, nil
	}
	return f.updateFn(ctx, input)
}

func (f fakeStore) GetMovement(ctx context.Context, movementID string) (models.Movement, error) {
	if f.movementFn == nil {
		return models.Movement{}, nil
	}
	return f.movementFn(ctx, movementID)
}

func (f fakeStore) ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error) {
	if f.outboxFn == nil {
		return nil, nil
	}
	return f.outboxFn(ctx, after, limit)
}

func TestIngestEventSuccess(t *testing.T) {
	st := fakeStore{
		ingestFn: func(ctx context.Context, input store.IngestEventInput) (store.IngestResult, error) {
			if input.RawVehicle != "B 9812 QR" {
				t.Fatalf("unexpected raw vehicle: %q", input.RawVehicle)
			}
			return store.IngestResult{
				Ticket: models.Ticket{
					TicketID:       "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa",
					TicketNumber:   "WB-000001",
					WeighingStatus: models.StatusReadyForCapture,
				},
			}, nil
		},
	}
	h := NewHandler(st)

	payload := map[string]interface{}{
		"vehicle":       "B 9812 QR",
		"driver":        "Sukardi",
		"first_weight":  12000,
		"second_weight": 27500,
		"external_ref":  "scale-7:20260112:0001",
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/events", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var out ingestResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !out.OK || out.TicketNumber != "WB-000001" || out.Status != "created" {
		t.Fatalf("unexpected response: %+v", out)
	}
}

func TestIngestEventQuotedWeights(t *testing.T) {
	var got store.IngestEventInput
	st := fakeStore{
		ingestFn: func(ctx context.Context, input store.IngestEventInput) (store.IngestResult, error) {
			got = input
			return store.IngestResult{Ticket: models.Ticket{TicketID: "t"}}, nil
		},
	}
	h := NewHandler(st)

	body := []byte(`{"vehicle":"D 1 A","first_weight":"12000","second_weight":"27500.5"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/events", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if got.FirstWeight != 12000 || got.SecondWeight != 27500.5 {
		t.Fatalf("weights not parsed: %+v", got)
	}
}

func TestIngestEventNonNumericWeight(t *testing.T) {
	h := NewHandler(fakeStore{})

	body := []byte(`{"vehicle":"D 1 A","first_weight":"heavy","second_weight":27500}`)
	req := httptest.NewRequest(http.MethodPost, "/api/events", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestIngestEventMissingVehicle(t *testing.T) {
	h := NewHandler(fakeStore{})

	body := []byte(`{"first_weight":12000,"second_weight":27500}`)
	req := httptest.NewRequest(http.MethodPost, "/api/events", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestIngestEventDuplicate(t *testing.T) {
	st := fakeStore{
		ingestFn: func(ctx context.Context, input store.IngestEventInput) (store.IngestResult, error) {
			return store.IngestResult{
				Ticket:    models.Ticket{TicketID: "existing", TicketNumber: "WB-000042"},
				Duplicate: true,
			}, nil
		},
	}
	h := NewHandler(st)

	body := []byte(`{"vehicle":"B 9812 QR","first_weight":12000,"second_weight":27500,"external_ref":"scale-7:1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/events", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var out ingestResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Status != "duplicate_ignored" {
		t.Fatalf("expected duplicate_ignored, got %s", out.Status)
	}
}

func TestIngestEventInvalidWeightPair(t *testing.T) {
	st := fakeStore{
		ingestFn: func(ctx context.Context, input store.IngestEventInput) (store.IngestResult, error) {
			return store.IngestResult{}, store.ErrInvalidWeight
		},
	}
	h := NewHandler(st)

	body := []byte(`{"vehicle":"B 9812 QR","first_weight":27500,"second_weight":12000}`)
	req := httptest.NewRequest(http.MethodPost, "/api/events", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	var errResp errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if errResp.Error.Code != "invalid_weight" {
		t.Fatalf("expected error code invalid_weight, got %s", errResp.Error.Code)
	}
}

func TestGetTicketNotFound(t *testing.T) {
	st := fakeStore{
		getTicketFn: func(ctx context.Context, ticketID string) (models.Ticket, []models.CaptureDetail, error) {
			return models.Ticket{}, nil, store.ErrTicketNotFound
		},
	}
	h := NewHandler(st)

	req := httptest.NewRequest(http.MethodGet, "/api/tickets/aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

func TestGetTicketBadID(t *testing.T) {
	h := NewHandler(fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/tickets/not-a-uuid", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestListTicketsRequiresVehicle(t *testing.T) {
	h := NewHandler(fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/tickets", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestCaptureTicketSuccess(t *testing.T) {
	var got store.CaptureInput
	st := fakeStore{
		captureFn: func(ctx context.Context, input store.CaptureInput) (models.Ticket, []models.CaptureDetail, error) {
			got = input
			return models.Ticket{
				TicketID:       input.TicketID,
				CargoType:      input.CargoType,
				WeighingStatus: models.StatusPendingConfirmation,
			}, []models.CaptureDetail{{ItemCode: input.ItemCode}}, nil
		},
	}
	h := NewHandler(st)

	payload := map[string]interface{}{
		"cargo_type":  models.CargoRawMaterial,
		"item_code":   "SAND-COARSE",
		"quarry_from": "Quarry North",
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/tickets/aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa/actions/capture", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if got.ItemCode != "SAND-COARSE" || got.QuarryFrom != "Quarry North" {
		t.Fatalf("unexpected capture input: %+v", got)
	}
}

func TestCaptureTicketAlreadyCaptured(t *testing.T) {
	st := fakeStore{
		captureFn: func(ctx context.Context, input store.CaptureInput) (models.Ticket, []models.CaptureDetail, error) {
			return models.Ticket{}, nil, store.ErrAlreadyCaptured
		},
	}
	h := NewHandler(st)

	body := []byte(`{"cargo_type":"raw_material","item_code":"SAND-COARSE","quarry_from":"Q1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/tickets/aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa/actions/capture", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
	var errResp errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if errResp.Error.Code != "already_captured" {
		t.Fatalf("expected error code already_captured, got %s", errResp.Error.Code)
	}
}

func TestCaptureTicketMissingCargoType(t *testing.T) {
	h := NewHandler(fakeStore{})

	body := []byte(`{"item_code":"SAND-COARSE"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/tickets/aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa/actions/capture", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestConfirmTicketIdempotent(t *testing.T) {
	st := fakeStore{
		confirmFn: func(ctx context.Context, input store.ConfirmInput) (store.ConfirmResult, error) {
			return store.ConfirmResult{
				Movement: models.Movement{MovementID: "mv-1"},
				Created:  false,
			}, nil
		},
	}
	h := NewHandler(st)

	req := httptest.NewRequest(http.MethodPost, "/api/tickets/aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa/actions/confirm", bytes.NewReader([]byte(`{}`)))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out["status"] != "already_confirmed" {
		t.Fatalf("expected already_confirmed, got %v", out["status"])
	}
}

func TestConfirmTicketWrongState(t *testing.T) {
	st := fakeStore{
		confirmFn: func(ctx context.Context, input store.ConfirmInput) (store.ConfirmResult, error) {
			return store.ConfirmResult{}, store.ErrNotPendingConfirmation
		},
	}
	h := NewHandler(st)

	req := httptest.NewRequest(http.MethodPost, "/api/tickets/aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa/actions/confirm", bytes.NewReader([]byte(`{}`)))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
}

func TestUpdateWeightsLocked(t *testing.T) {
	st := fakeStore{
		updateFn: func(ctx context.Context, input store.UpdateWeightsInput) (models.Ticket, error) {
			return models.Ticket{}, store.ErrLockedField
		},
	}
	h := NewHandler(st)

	body := []byte(`{"first_weight":12000,"second_weight":28000}`)
	req := httptest.NewRequest(http.MethodPost, "/api/tickets/aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa/actions/update-weights", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
}

func TestMarkSessionSuccess(t *testing.T) {
	st := fakeStore{
		markSessionFn: func(ctx context.Context, ticketID string, totalExpected int) (models.Ticket, error) {
			if totalExpected != 3 {
				t.Fatalf("expected total 3, got %d", totalExpected)
			}
			sessionID := ticketID
			return models.Ticket{
				TicketID:           ticketID,
				SessionID:          &sessionID,
				TotalExpected:      &totalExpected,
				HasMultipleWeights: true,
			}, nil
		},
	}
	h := NewHandler(st)

	body := []byte(`{"total_expected":3}`)
	req := httptest.NewRequest(http.MethodPost, "/api/tickets/aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa/actions/mark-session", bytes.NewReader(body))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestUnknownAction(t *testing.T) {
	h := NewHandler(fakeStore{})

	req := httptest.NewRequest(http.MethodPost, "/api/tickets/aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa/actions/teleport", bytes.NewReader([]byte(`{}`)))
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

func TestGetSessionSuccess(t *testing.T) {
	st := fakeStore{
		sessionFn: func(ctx context.Context, sessionID string) ([]models.Ticket, error) {
			return []models.Ticket{
				{TicketID: "t1", SequenceNo: 1},
				{TicketID: "t2", SequenceNo: 2},
			}, nil
		},
	}
	h := NewHandler(st)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var tickets []models.Ticket
	if err := json.NewDecoder(resp.Body).Decode(&tickets); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(tickets) != 2 || tickets[1].SequenceNo != 2 {
		t.Fatalf("unexpected session payload: %+v", tickets)
	}
}

func TestGetMovementNotFound(t *testing.T) {
	st := fakeStore{
		movementFn: func(ctx context.Context, movementID string) (models.Movement, error) {
			return models.Movement{}, store.ErrMovementNotFound
		},
	}
	h := NewHandler(st)

	req := httptest.NewRequest(http.MethodGet, "/api/movements/aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

func TestListOutboxBadAfter(t *testing.T) {
	h := NewHandler(fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/events?after=yesterday", nil)
	resp := httptest.NewRecorder()

	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}
