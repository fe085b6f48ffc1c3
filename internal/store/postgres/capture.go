package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"nevira/weighbridge-service/internal/models"
	"nevira/weighbridge-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (s *Store) CaptureTicket(ctx context.Context, input store.CaptureInput) (models.Ticket, []models.CaptureDetail, error) {
	if err := store.ValidateCapture(input); err != nil {
		return models.Ticket{}, nil, fmt.Errorf("%w: cargo type %q is missing required capture fields", err, input.CargoType)
	}
	policy, _ := store.PolicyFor(input.CargoType)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	ticket, err := lockTicket(ctx, tx, input.TicketID)
	if err != nil {
		return models.Ticket{}, nil, err
	}

	if store.MutationLocked(ticket.WeighingStatus, ticket.MovementID) {
		err = store.ErrAlreadyCaptured
		return models.Ticket{}, nil, err
	}
	if ticket.WeighingStatus == models.StatusCancelled {
		err = store.ErrInvalidState
		return models.Ticket{}, nil, err
	}
	if ticket.FirstWeight <= 0 {
		err = store.ErrMissingWeight
		return models.Ticket{}, nil, err
	}

	secondWeight := ticket.SecondWeight
	if input.SecondWeight > 0 {
		secondWeight = input.SecondWeight
	}
	if secondWeight <= ticket.FirstWeight {
		err = store.ErrInvalidWeight
		return models.Ticket{}, nil, err
	}
	netWeight := store.NetWeight(ticket.FirstWeight, secondWeight)

	details, err := s.buildCaptureDetails(ctx, tx, ticket.TicketID, input, policy, netWeight)
	if err != nil {
		return models.Ticket{}, nil, err
	}

	// Child rows are replaced wholesale; a capture is never partially applied.
	if _, err = tx.Exec(ctx, `DELETE FROM capture_details WHERE ticket_id = $1`, ticket.TicketID); err != nil {
		return models.Ticket{}, nil, err
	}
	for i := range details {
		d := &details[i]
		_, err = tx.Exec(ctx, `
			INSERT INTO capture_details (
				detail_id, ticket_id, line_no, item_code, item_name, customer_name,
				quarry_from, partner_description, uom, quantity, tonnage, bag_count,
				first_weight, second_weight
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		`, d.DetailID, d.TicketID, i+1, nullIfEmpty(d.ItemCode), nullIfEmpty(d.ItemName),
			nullIfEmpty(d.CustomerName), nullIfEmpty(d.QuarryFrom), nullIfEmpty(d.PartnerDescription),
			nullIfEmpty(d.UOM), d.Quantity, d.Tonnage, d.BagCount, d.FirstWeight, d.SecondWeight)
		if err != nil {
			return models.Ticket{}, nil, err
		}
	}

	nextStatus := models.StatusCompleted
	if policy.NeedsMovement {
		nextStatus = models.StatusPendingConfirmation
	}

	_, err = tx.Exec(ctx, `
		UPDATE tickets
		SET cargo_type = $2,
			second_weight = $3,
			net_weight = $4,
			weighing_status = $5
		WHERE ticket_id = $1
	`, ticket.TicketID, input.CargoType, secondWeight, netWeight, nextStatus)
	if err != nil {
		return models.Ticket{}, nil, err
	}

	ticket.CargoType = input.CargoType
	ticket.SecondWeight = secondWeight
	ticket.NetWeight = netWeight
	ticket.WeighingStatus = nextStatus

	if err = insertOutboxEvent(ctx, tx, "ticket.captured", ticket); err != nil {
		return models.Ticket{}, nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, nil, err
	}
	return ticket, details, nil
}

func (s *Store) buildCaptureDetails(ctx context.Context, tx pgx.Tx, ticketID string, input store.CaptureInput, policy store.CargoPolicy, netWeight float64) ([]models.CaptureDetail, error) {
	if policy.RequiresLines {
		details := make([]models.CaptureDetail, 0, len(input.Lines))
		for _, line := range input.Lines {
			quantity := store.DefaultPartnerQuantity(line.FirstWeight, line.SecondWeight)
			if quantity <= 0 {
				quantity = netWeight / 1000
			}
			if line.Quantity != nil {
				quantity = *line.Quantity
			}
			details = append(details, models.CaptureDetail{
				DetailID:           uuid.NewString(),
				TicketID:           ticketID,
				PartnerDescription: line.PartnerDescription,
				ItemName:           line.ItemDescription,
				FirstWeight:        line.FirstWeight,
				SecondWeight:       line.SecondWeight,
				Quantity:           quantity,
				Tonnage:            quantity,
				UOM:                "Tonne",
			})
		}
		return details, nil
	}

	item, err := lookupItem(ctx, tx, input.ItemCode)
	if err != nil {
		return nil, err
	}

	detail := models.CaptureDetail{
		DetailID: uuid.NewString(),
		TicketID: ticketID,
		ItemCode: item.ItemCode,
		ItemName: item.ItemName,
		UOM:      item.UOM,
	}

	switch {
	case policy.Packaged:
		packSize := item.PackSize
		if packSize <= 0 {
			packSize = s.defaultPackSize
		}
		tare := item.TareWeight
		if tare <= 0 {
			tare = s.defaultTareWeight
		}
		breakdown := store.PackagedBreakdown(netWeight, packSize, tare)
		detail.BagCount = breakdown.BagCount
		detail.Tonnage = breakdown.Tonnage
		detail.Quantity = breakdown.Tonnage
		detail.UOM = "Tonne"
		detail.CustomerName = input.CustomerName
	case policy.PassThrough:
		// Receipt accounting happens downstream; store the raw mass as-is.
		detail.Quantity = netWeight
	default:
		detail.Quantity = store.BulkQuantity(netWeight, item.WeightPerUnit)
		detail.QuarryFrom = input.QuarryFrom
	}

	return []models.CaptureDetail{detail}, nil
}

func (s *Store) ConfirmTicket(ctx context.Context, input store.ConfirmInput) (store.ConfirmResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.ConfirmResult{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	ticket, err := lockTicket(ctx, tx, input.TicketID)
	if err != nil {
		return store.ConfirmResult{}, err
	}

	// Retried confirmation returns the movement already linked; exactly one
	// movement may ever exist per ticket.
	if ticket.MovementID != nil {
		movement, loadErr := loadMovement(ctx, tx, *ticket.MovementID)
		if loadErr != nil {
			err = loadErr
			return store.ConfirmResult{}, err
		}
		if err = tx.Commit(ctx); err != nil {
			return store.ConfirmResult{}, err
		}
		return store.ConfirmResult{Movement: movement}, nil
	}

	if ticket.WeighingStatus != models.StatusPendingConfirmation {
		err = store.ErrNotPendingConfirmation
		return store.ConfirmResult{}, err
	}

	policy, ok := store.PolicyFor(ticket.CargoType)
	if !ok || !policy.NeedsMovement {
		err = store.ErrNotPendingConfirmation
		return store.ConfirmResult{}, err
	}
	workOrder := strings.TrimSpace(input.WorkOrder)
	if policy.RequiresWorkOrder && workOrder == "" {
		err = fmt.Errorf("%w: work order is required for %s confirmation", store.ErrValidation, ticket.CargoType)
		return store.ConfirmResult{}, err
	}

	details, err := listCaptureDetails(ctx, tx, ticket.TicketID)
	if err != nil {
		return store.ConfirmResult{}, err
	}
	if len(details) == 0 {
		err = fmt.Errorf("%w: capture details must be recorded before confirmation", store.ErrValidation)
		return store.ConfirmResult{}, err
	}

	movement := models.Movement{
		MovementID:   uuid.NewString(),
		TicketID:     ticket.TicketID,
		MovementType: policy.MovementType,
		WorkOrder:    workOrder,
		PostedAt:     time.Now().UTC(),
	}
	for _, detail := range details {
		item, lookupErr := lookupItem(ctx, tx, detail.ItemCode)
		if lookupErr != nil {
			err = lookupErr
			return store.ConfirmResult{}, err
		}
		if item.DefaultLocation == "" {
			err = fmt.Errorf("%w: item %s has no default location", store.ErrConfiguration, item.ItemCode)
			return store.ConfirmResult{}, err
		}
		line := models.MovementLine{
			ItemCode: item.ItemCode,
			Quantity: detail.Quantity,
			UOM:      item.UOM,
		}
		if policy.MovementType == models.MovementTransfer {
			line.SourceLocation = item.DefaultLocation
			line.DestinationLocation = s.productionWIP
		} else {
			line.DestinationLocation = item.DefaultLocation
		}
		movement.Lines = append(movement.Lines, line)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO movements (movement_id, ticket_id, movement_type, work_order, posted_at)
		VALUES ($1, $2, $3, $4, $5)
	`, movement.MovementID, movement.TicketID, movement.MovementType, nullIfEmpty(movement.WorkOrder), movement.PostedAt)
	if err != nil {
		return store.ConfirmResult{}, err
	}
	for i, line := range movement.Lines {
		_, err = tx.Exec(ctx, `
			INSERT INTO movement_lines (line_id, movement_id, line_no, item_code, quantity, uom, source_location, destination_location)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, uuid.NewString(), movement.MovementID, i+1, line.ItemCode, line.Quantity, line.UOM, nullIfEmpty(line.SourceLocation), line.DestinationLocation)
		if err != nil {
			return store.ConfirmResult{}, err
		}
	}

	// The link and the status change ride the same transaction as the
	// movement insert; a failure anywhere leaves the ticket retryable.
	_, err = tx.Exec(ctx, `
		UPDATE tickets
		SET movement_id = $2,
			weighing_status = $3
		WHERE ticket_id = $1
	`, ticket.TicketID, movement.MovementID, models.StatusCompleted)
	if err != nil {
		return store.ConfirmResult{}, err
	}

	ticket.MovementID = &movement.MovementID
	ticket.WeighingStatus = models.StatusCompleted
	if err = insertOutboxEvent(ctx, tx, "ticket.confirmed", ticket); err != nil {
		return store.ConfirmResult{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return store.ConfirmResult{}, err
	}
	return store.ConfirmResult{Movement: movement, Created: true}, nil
}

func (s *Store) CancelTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
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
	switch ticket.WeighingStatus {
	case models.StatusPendingFirstWeight, models.StatusAwaitingSecondWeight, models.StatusReadyForCapture:
	default:
		err = store.ErrInvalidState
		return models.Ticket{}, err
	}

	// A cancelled session tail closes its session.
	_, err = tx.Exec(ctx, `
		UPDATE tickets
		SET weighing_status = $2,
			is_final = TRUE
		WHERE ticket_id = $1
	`, ticket.TicketID, models.StatusCancelled)
	if err != nil {
		return models.Ticket{}, err
	}

	ticket.WeighingStatus = models.StatusCancelled
	ticket.IsFinal = true
	if err = insertOutboxEvent(ctx, tx, "ticket.cancelled", ticket); err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) UpdateWeights(ctx context.Context, input store.UpdateWeightsInput) (models.Ticket, error) {
	if input.FirstWeight < 0 || input.SecondWeight < 0 {
		return models.Ticket{}, fmt.Errorf("%w: weights cannot be negative", store.ErrValidation)
	}
	if input.SecondWeight > 0 && input.SecondWeight <= input.FirstWeight {
		return models.Ticket{}, fmt.Errorf("%w: second weight must exceed first weight", store.ErrValidation)
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

	ticket, err := lockTicket(ctx, tx, input.TicketID)
	if err != nil {
		return models.Ticket{}, err
	}
	if store.MutationLocked(ticket.WeighingStatus, ticket.MovementID) {
		err = store.ErrLockedField
		return models.Ticket{}, err
	}
	if ticket.WeighingStatus == models.StatusCancelled {
		err = store.ErrInvalidState
		return models.Ticket{}, err
	}

	ticket.FirstWeight = input.FirstWeight
	ticket.SecondWeight = input.SecondWeight
	ticket.NetWeight = store.NetWeight(input.FirstWeight, input.SecondWeight)
	ticket.WeighingStatus = store.DeriveStatus(input.FirstWeight, input.SecondWeight)

	_, err = tx.Exec(ctx, `
		UPDATE tickets
		SET first_weight = $2,
			second_weight = $3,
			net_weight = $4,
			weighing_status = $5
		WHERE ticket_id = $1
	`, ticket.TicketID, ticket.FirstWeight, ticket.SecondWeight, ticket.NetWeight, ticket.WeighingStatus)
	if err != nil {
		return models.Ticket{}, err
	}

	if err = insertOutboxEvent(ctx, tx, "ticket.weights_updated", ticket); err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) GetMovement(ctx context.Context, movementID string) (models.Movement, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return models.Movement{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	movement, err := loadMovement(ctx, tx, movementID)
	if err != nil {
		return models.Movement{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Movement{}, err
	}
	return movement, nil
}

// --- movement / detail / item helpers ---

func loadMovement(ctx context.Context, tx pgx.Tx, movementID string) (models.Movement, error) {
	var movement models.Movement
	var workOrderNull *string
	row := tx.QueryRow(ctx, `
		SELECT movement_id, ticket_id, movement_type, work_order, posted_at
		FROM movements
		WHERE movement_id = $1
	`, movementID)
	if err := row.Scan(&movement.MovementID, &movement.TicketID, &movement.MovementType, &workOrderNull, &movement.PostedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Movement{}, store.ErrMovementNotFound
		}
		return models.Movement{}, err
	}
	if workOrderNull != nil {
		movement.WorkOrder = *workOrderNull
	}

	rows, err := tx.Query(ctx, `
		SELECT item_code, quantity, uom, source_location, destination_location
		FROM movement_lines
		WHERE movement_id = $1
		ORDER BY line_no ASC
	`, movementID)
	if err != nil {
		return models.Movement{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var line models.MovementLine
		var sourceNull *string
		if err := rows.Scan(&line.ItemCode, &line.Quantity, &line.UOM, &sourceNull, &line.DestinationLocation); err != nil {
			return models.Movement{}, err
		}
		if sourceNull != nil {
			line.SourceLocation = *sourceNull
		}
		movement.Lines = append(movement.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return models.Movement{}, err
	}
	return movement, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listCaptureDetails(ctx context.Context, q querier, ticketID string) ([]models.CaptureDetail, error) {
	rows, err := q.Query(ctx, `
		SELECT detail_id, ticket_id, item_code, item_name, customer_name,
			quarry_from, partner_description, uom, quantity, tonnage, bag_count,
			first_weight, second_weight
		FROM capture_details
		WHERE ticket_id = $1
		ORDER BY line_no ASC
	`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var details []models.CaptureDetail
	for rows.Next() {
		var d models.CaptureDetail
		var itemCode, itemName, customer, quarry, partner, uom *string
		if err := rows.Scan(&d.DetailID, &d.TicketID, &itemCode, &itemName, &customer,
			&quarry, &partner, &uom, &d.Quantity, &d.Tonnage, &d.BagCount,
			&d.FirstWeight, &d.SecondWeight); err != nil {
			return nil, err
		}
		d.ItemCode = deref(itemCode)
		d.ItemName = deref(itemName)
		d.CustomerName = deref(customer)
		d.QuarryFrom = deref(quarry)
		d.PartnerDescription = deref(partner)
		d.UOM = deref(uom)
		details = append(details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return details, nil
}

func lookupItem(ctx context.Context, tx pgx.Tx, itemCode string) (models.Item, error) {
	var item models.Item
	row := tx.QueryRow(ctx, `
		SELECT item_code, item_name, uom, weight_per_unit, pack_size, tare_weight, default_location
		FROM items
		WHERE item_code = $1
	`, itemCode)
	err := row.Scan(&item.ItemCode, &item.ItemName, &item.UOM, &item.WeightPerUnit,
		&item.PackSize, &item.TareWeight, &item.DefaultLocation)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Item{}, fmt.Errorf("%w: %s", store.ErrItemNotFound, itemCode)
		}
		return models.Item{}, err
	}
	return item, nil
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
