package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"nevira/weighbridge-service/internal/models"
	"nevira/weighbridge-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ticketNumberPad = 6

type Store struct {
	pool                  *pgxpool.Pool
	sessionLookback       time.Duration
	sessionCandidateLimit int
	defaultPackSize       float64
	defaultTareWeight     float64
	productionWIP         string
}

type Options struct {
	SessionLookback       time.Duration
	SessionCandidateLimit int
	DefaultPackSize       float64
	DefaultTareWeight     float64
	ProductionWIPLocation string
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	lookback := options.SessionLookback
	if lookback <= 0 {
		lookback = 12 * time.Hour
	}
	limit := options.SessionCandidateLimit
	if limit <= 0 {
		limit = 5
	}
	packSize := options.DefaultPackSize
	if packSize <= 0 {
		packSize = 50
	}
	tare := options.DefaultTareWeight
	if tare <= 0 {
		tare = 0.2
	}
	wip := options.ProductionWIPLocation
	if wip == "" {
		wip = "PRODUCTION-WIP"
	}
	return &Store{
		pool:                  pool,
		sessionLookback:       lookback,
		sessionCandidateLimit: limit,
		defaultPackSize:       packSize,
		defaultTareWeight:     tare,
		productionWIP:         wip,
	}
}

func (s *Store) IngestEvent(ctx context.Context, input store.IngestEventInput) (store.IngestResult, error) {
	plate := strings.ToUpper(strings.TrimSpace(input.RawVehicle))
	if plate == "" {
		return store.IngestResult{}, fmt.Errorf("%w: vehicle plate is required", store.ErrValidation)
	}
	if input.FirstWeight < 0 || input.SecondWeight <= input.FirstWeight {
		return store.IngestResult{}, fmt.Errorf("%w: second weight %g must exceed first weight %g", store.ErrValidation, input.SecondWeight, input.FirstWeight)
	}
	externalRef := strings.TrimSpace(input.ExternalRef)
	driver := strings.TrimSpace(input.DriverName)
	now := input.ReceivedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.IngestResult{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if externalRef != "" {
		existing, found, lookupErr := findTicketByExternalRef(ctx, tx, externalRef)
		if lookupErr != nil {
			err = lookupErr
			return store.IngestResult{}, err
		}
		if found {
			if err = tx.Commit(ctx); err != nil {
				return store.IngestResult{}, err
			}
			return store.IngestResult{Ticket: existing, Duplicate: true}, nil
		}
	}

	vehicle, err := resolveOrCreateVehicle(ctx, tx, plate, now)
	if err != nil {
		return store.IngestResult{}, err
	}

	open, found, err := s.findOpenSessionTicket(ctx, tx, vehicle.VehicleID, now)
	if err != nil {
		return store.IngestResult{}, err
	}

	ticket := models.Ticket{
		TicketID:       uuid.NewString(),
		VehicleID:      vehicle.VehicleID,
		Plate:          plate,
		DriverName:     driver,
		ExternalRef:    externalRef,
		SequenceNo:     1,
		IsFinal:        true,
		WeighingStatus: models.StatusReadyForCapture,
		CreatedAt:      now,
	}

	effectiveFirst := input.FirstWeight
	if found {
		// Carry the previous ticket's second weight forward; the raw first
		// weight from the device survives only in the audit breadcrumb.
		effectiveFirst = open.secondWeight
		if input.SecondWeight <= effectiveFirst {
			err = fmt.Errorf("%w: second weight %g must exceed carried-forward first weight %g", store.ErrValidation, input.SecondWeight, effectiveFirst)
			return store.IngestResult{}, err
		}
		sessionID := open.sessionID
		previousID := open.ticketID
		total := open.totalExpected
		ticket.HasMultipleWeights = true
		ticket.SessionID = &sessionID
		ticket.PreviousTicketID = &previousID
		ticket.TotalExpected = &total
		ticket.SequenceNo = open.sequenceNo + 1
		ticket.IsFinal = ticket.SequenceNo >= total
	}

	ticket.FirstWeight = effectiveFirst
	ticket.SecondWeight = input.SecondWeight
	ticket.NetWeight = store.NetWeight(effectiveFirst, input.SecondWeight)
	ticket.WeighingStatus = store.DeriveStatus(effectiveFirst, input.SecondWeight)

	if err = insertTicket(ctx, tx, &ticket); err != nil {
		return store.IngestResult{}, err
	}

	eventType := "ticket.created"
	if found {
		eventType = "ticket.chained"
	}
	if err = insertOutboxEvent(ctx, tx, eventType, ticket); err != nil {
		return store.IngestResult{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return store.IngestResult{}, err
	}

	s.writeAudit(ctx, ticket.TicketID, store.AuditBreadcrumb{
		RawVehicle:           input.RawVehicle,
		RawFirstWeight:       input.FirstWeight,
		EffectiveFirstWeight: effectiveFirst,
		SecondWeight:         input.SecondWeight,
		ExternalRef:          externalRef,
	})

	return store.IngestResult{Ticket: ticket}, nil
}

// MarkSession flags a ticket as the head of a multi-weighing session. The
// session id is the head ticket's own id; successors inherit it at ingestion.
func (s *Store) MarkSession(ctx context.Context, ticketID string, totalExpected int) (models.Ticket, error) {
	if totalExpected < 2 {
		return models.Ticket{}, fmt.Errorf("%w: total expected weighings must be at least 2", store.ErrValidation)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	ticket, err := lockTicket(ctx, tx, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}
	if ticket.WeighingStatus == models.StatusCompleted || ticket.WeighingStatus == models.StatusCancelled {
		err = store.ErrInvalidState
		return models.Ticket{}, err
	}

	sessionID := ticket.TicketID
	if ticket.SessionID != nil {
		sessionID = *ticket.SessionID
	}
	ticket.HasMultipleWeights = true
	ticket.SessionID = &sessionID
	ticket.TotalExpected = &totalExpected
	ticket.IsFinal = ticket.SequenceNo >= totalExpected

	_, err = tx.Exec(ctx, `
		UPDATE tickets
		SET has_multiple_weights = TRUE,
			session_id = $2,
			total_expected = $3,
			is_final = $4
		WHERE ticket_id = $1
	`, ticket.TicketID, sessionID, totalExpected, ticket.IsFinal)
	if err != nil {
		return models.Ticket{}, err
	}

	if err = insertOutboxEvent(ctx, tx, "session.opened", ticket); err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

// ExpireStaleSessions finalizes open session tails older than the lookback
// window so abandoned sessions do not stay open forever. Resolution keeps its
// own window check regardless.
func (s *Store) ExpireStaleSessions(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	cutoff := time.Now().UTC().Add(-s.sessionLookback)
	rows, err := tx.Query(ctx, `
		UPDATE tickets
		SET is_final = TRUE
		WHERE ticket_id IN (
			SELECT ticket_id
			FROM tickets
			WHERE has_multiple_weights AND NOT is_final AND created_at <= $1
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $2
		)
		RETURNING ticket_id, session_id
	`, cutoff, batchSize)
	if err != nil {
		return 0, err
	}
	type expired struct {
		TicketID  string  `json:"ticket_id"`
		SessionID *string `json:"session_id,omitempty"`
	}
	var items []expired
	for rows.Next() {
		var item expired
		if err = rows.Scan(&item.TicketID, &item.SessionID); err != nil {
			rows.Close()
			return 0, err
		}
		items = append(items, item)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return 0, err
	}

	for _, item := range items {
		if err = insertOutboxEvent(ctx, tx, "session.expired", item); err != nil {
			return 0, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(items), nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, []models.CaptureDetail, error) {
	row := s.pool.QueryRow(ctx, selectTicketQuery+` WHERE t.ticket_id = $1`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, nil, store.ErrTicketNotFound
		}
		return models.Ticket{}, nil, err
	}

	details, err := listCaptureDetails(ctx, s.pool, ticketID)
	if err != nil {
		return models.Ticket{}, nil, err
	}
	return ticket, details, nil
}

func (s *Store) ListTicketsByVehicle(ctx context.Context, plate string, limit int) ([]models.Ticket, error) {
	plate = strings.ToUpper(strings.TrimSpace(plate))
	if plate == "" {
		return nil, fmt.Errorf("%w: vehicle plate is required", store.ErrValidation)
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx, selectTicketQuery+`
		WHERE v.plate = $1
		ORDER BY t.created_at DESC
		LIMIT $2
	`, plate, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) ([]models.Ticket, error) {
	rows, err := s.pool.Query(ctx, selectTicketQuery+`
		WHERE t.session_id = $1
		ORDER BY t.sequence_no ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, store.ErrSessionNotFound
	}
	return tickets, nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT event_id, type, payload_json, created_at
		FROM outbox_events
	`
	args := []interface{}{}
	if !after.IsZero() {
		query += " WHERE created_at > $1 ORDER BY created_at ASC LIMIT $2"
		args = append(args, after, limit)
	} else {
		query += " ORDER BY created_at ASC LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		if err := rows.Scan(&event.EventID, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// --- session resolution ---

type openSessionTicket struct {
	ticketID      string
	sessionID     string
	sequenceNo    int
	totalExpected int
	secondWeight  float64
}

// findOpenSessionTicket scans a bounded number of recent open-session
// candidates for the vehicle. Creation timestamps are parsed defensively;
// malformed historical rows are skipped, never fatal.
func (s *Store) findOpenSessionTicket(ctx context.Context, tx pgx.Tx, vehicleID string, now time.Time) (openSessionTicket, bool, error) {
	rows, err := tx.Query(ctx, `
		SELECT ticket_id, created_at::text, session_id, sequence_no, total_expected, second_weight
		FROM tickets
		WHERE vehicle_id = $1
			AND has_multiple_weights
			AND NOT is_final
			AND weighing_status <> 'cancelled'
		ORDER BY created_at DESC
		LIMIT $2
	`, vehicleID, s.sessionCandidateLimit)
	if err != nil {
		return openSessionTicket{}, false, err
	}
	defer rows.Close()

	type candidate struct {
		ticketID      string
		createdRaw    string
		sessionID     sql.NullString
		sequenceNo    int
		totalExpected sql.NullInt32
		secondWeight  float64
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.ticketID, &c.createdRaw, &c.sessionID, &c.sequenceNo, &c.totalExpected, &c.secondWeight); err != nil {
			return openSessionTicket{}, false, err
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return openSessionTicket{}, false, err
	}

	for _, c := range candidates {
		created, err := parseCreation(c.createdRaw)
		if err != nil {
			continue
		}
		if now.Sub(created) > s.sessionLookback {
			continue
		}
		if !c.sessionID.Valid || !c.totalExpected.Valid || c.totalExpected.Int32 <= 0 {
			continue
		}
		return openSessionTicket{
			ticketID:      c.ticketID,
			sessionID:     c.sessionID.String,
			sequenceNo:    c.sequenceNo,
			totalExpected: int(c.totalExpected.Int32),
			secondWeight:  c.secondWeight,
		}, true, nil
	}
	return openSessionTicket{}, false, nil
}

var creationLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05-07",
	"2006-01-02 15:04:05",
}

func parseCreation(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range creationLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	// Legacy exports carry bare timestamps with a fractional suffix.
	if idx := strings.IndexByte(raw, '.'); idx > 0 {
		if ts, err := time.Parse("2006-01-02 15:04:05", raw[:idx]); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable creation timestamp %q", raw)
}

// --- vehicles ---

func resolveOrCreateVehicle(ctx context.Context, tx pgx.Tx, plate string, now time.Time) (models.Vehicle, error) {
	var vehicle models.Vehicle
	row := tx.QueryRow(ctx, `
		SELECT vehicle_id, plate, created_at
		FROM vehicles
		WHERE plate = $1
	`, plate)
	err := row.Scan(&vehicle.VehicleID, &vehicle.Plate, &vehicle.CreatedAt)
	if err == nil {
		return vehicle, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Vehicle{}, err
	}

	// The upsert doubles as the re-entrancy check: a concurrent insert of the
	// same plate yields the surviving row instead of an error.
	row = tx.QueryRow(ctx, `
		INSERT INTO vehicles (vehicle_id, plate, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (plate) DO UPDATE SET plate = EXCLUDED.plate
		RETURNING vehicle_id, plate, created_at
	`, uuid.NewString(), plate, now)
	if err := row.Scan(&vehicle.VehicleID, &vehicle.Plate, &vehicle.CreatedAt); err != nil {
		return models.Vehicle{}, err
	}
	return vehicle, nil
}

// --- shared helpers ---

const selectTicketQuery = `
	SELECT t.ticket_id, t.ticket_number, t.vehicle_id, v.plate, t.driver_name,
		t.first_weight, t.second_weight, t.net_weight, t.cargo_type,
		t.weighing_status, t.has_multiple_weights, t.session_id, t.sequence_no,
		t.total_expected, t.is_final, t.previous_ticket_id, t.external_ref,
		t.movement_id, t.created_at
	FROM tickets t
	JOIN vehicles v ON v.vehicle_id = t.vehicle_id
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (models.Ticket, error) {
	var ticket models.Ticket
	var driverNull, cargoNull, sessionNull, previousNull, externalNull, movementNull sql.NullString
	var totalNull sql.NullInt32
	err := row.Scan(
		&ticket.TicketID, &ticket.TicketNumber, &ticket.VehicleID, &ticket.Plate, &driverNull,
		&ticket.FirstWeight, &ticket.SecondWeight, &ticket.NetWeight, &cargoNull,
		&ticket.WeighingStatus, &ticket.HasMultipleWeights, &sessionNull, &ticket.SequenceNo,
		&totalNull, &ticket.IsFinal, &previousNull, &externalNull,
		&movementNull, &ticket.CreatedAt,
	)
	if err != nil {
		return models.Ticket{}, err
	}
	if driverNull.Valid {
		ticket.DriverName = driverNull.String
	}
	if cargoNull.Valid {
		ticket.CargoType = cargoNull.String
	}
	ticket.SessionID = nullStringPtr(sessionNull)
	ticket.PreviousTicketID = nullStringPtr(previousNull)
	if externalNull.Valid {
		ticket.ExternalRef = externalNull.String
	}
	ticket.MovementID = nullStringPtr(movementNull)
	if totalNull.Valid {
		total := int(totalNull.Int32)
		ticket.TotalExpected = &total
	}
	return ticket, nil
}

func findTicketByExternalRef(ctx context.Context, tx pgx.Tx, externalRef string) (models.Ticket, bool, error) {
	row := tx.QueryRow(ctx, selectTicketQuery+` WHERE t.external_ref = $1`, externalRef)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func insertTicket(ctx context.Context, tx pgx.Tx, ticket *models.Ticket) error {
	var seq int64
	if err := tx.QueryRow(ctx, `SELECT nextval('ticket_number_seq')`).Scan(&seq); err != nil {
		return err
	}
	ticket.TicketNumber = fmt.Sprintf("WB-%0*d", ticketNumberPad, seq)

	_, err := tx.Exec(ctx, `
		INSERT INTO tickets (
			ticket_id, ticket_number, vehicle_id, driver_name, first_weight,
			second_weight, net_weight, weighing_status, has_multiple_weights,
			session_id, sequence_no, total_expected, is_final,
			previous_ticket_id, external_ref, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, ticket.TicketID, ticket.TicketNumber, ticket.VehicleID, nullIfEmpty(ticket.DriverName),
		ticket.FirstWeight, ticket.SecondWeight, ticket.NetWeight, ticket.WeighingStatus,
		ticket.HasMultipleWeights, ticket.SessionID, ticket.SequenceNo, ticket.TotalExpected,
		ticket.IsFinal, ticket.PreviousTicketID, nullIfEmpty(ticket.ExternalRef), ticket.CreatedAt)
	return err
}

func lockTicket(ctx context.Context, tx pgx.Tx, ticketID string) (models.Ticket, error) {
	row := tx.QueryRow(ctx, `
		SELECT t.ticket_id, t.ticket_number, t.vehicle_id, v.plate, t.driver_name,
			t.first_weight, t.second_weight, t.net_weight, t.cargo_type,
			t.weighing_status, t.has_multiple_weights, t.session_id, t.sequence_no,
			t.total_expected, t.is_final, t.previous_ticket_id, t.external_ref,
			t.movement_id, t.created_at
		FROM tickets t
		JOIN vehicles v ON v.vehicle_id = t.vehicle_id
		WHERE t.ticket_id = $1
		FOR UPDATE OF t
	`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, eventType string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, type, payload_json, created_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.NewString(), eventType, raw, time.Now().UTC())
	return err
}

func (s *Store) writeAudit(ctx context.Context, ticketID string, crumb store.AuditBreadcrumb) {
	payload, err := crumb.Payload()
	if err != nil {
		log.Printf("audit payload ticket=%s: %v", ticketID, err)
		return
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO ticket_audit (audit_id, ticket_id, remark, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), ticketID, crumb.String(), payload, time.Now().UTC())
	if err != nil {
		log.Printf("audit write ticket=%s: %v", ticketID, err)
	}
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	result := value.String
	return &result
}
