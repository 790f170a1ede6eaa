package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/dbpg"

	"ticketgate/internal/model"
)

var (
	ErrEventNotFound         = errors.New("event not found")
	ErrCapacityExceeded      = errors.New("event capacity exceeded")
	ErrDuplicateRegistration = errors.New("duplicate registration")
	ErrRegistrationNotFound  = errors.New("registration not found")
	ErrTicketCodeTaken       = errors.New("ticket code already taken")
)

// WebhookApplication tells the dispatcher what a provider callback did to
// the ledger.
type WebhookApplication int

const (
	WebhookApplied WebhookApplication = iota
	WebhookDuplicate
	WebhookAlreadyApplied
	WebhookUnknownReference
)

// Repository is the registration ledger: the sole source of truth for
// active-registration counts, ticket-code uniqueness and webhook dedup.
type Repository interface {
	CreateEvent(ctx context.Context, e *model.Event) (int64, error)
	GetEventByID(ctx context.Context, id int64) (*model.Event, error)
	GetAllEvents(ctx context.Context) ([]model.Event, error)

	InsertRegistrationTx(ctx context.Context, reg *model.Registration, fields []model.CustomFieldValue) (int64, error)
	CountActive(ctx context.Context, eventID int64) (int, error)
	GetRegistrationByID(ctx context.Context, id int64) (*model.Registration, error)
	GetRegistrationsByEventID(ctx context.Context, eventID int64) ([]model.Registration, error)
	FindByTicketCode(ctx context.Context, code string) (*model.Registration, error)
	FindByExternalReference(ctx context.Context, ref string) (*model.Registration, error)

	AttachPayment(ctx context.Context, regID int64, gatewayID, paymentID, txnID string) error
	ConfirmPaymentCAS(ctx context.Context, regID int64, txnID string) (bool, error)
	FailPaymentCAS(ctx context.Context, regID int64) (bool, error)
	CancelRegistrationTx(ctx context.Context, regID int64) (bool, error)
	CancelIfUnpaidTx(ctx context.Context, regID int64) (bool, error)
	ApplyWebhookTx(ctx context.Context, gatewayID, ref string, completed bool, txnID string) (WebhookApplication, *model.Registration, error)

	MigrateUp(migrationsDir string) error
	MigrateDown(migrationsDir string) error
}

type repository struct {
	db  *dbpg.DB
	log *zerolog.Logger
}

func NewRepository(db *dbpg.DB, log *zerolog.Logger) (Repository, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if err := db.Master.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}
	return &repository{db: db, log: log}, nil
}

func (r *repository) MigrateUp(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("failed to read migration files: %w", err)
	}

	for _, file := range files {
		sqlBytes, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}

		if _, err := r.db.ExecContext(context.Background(), string(sqlBytes)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", file, err)
		}
	}

	r.log.Info().Msgf("Migrations applied successfully from %s", migrationsDir)
	return nil
}

func (r *repository) MigrateDown(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.down.sql"))
	if err != nil {
		return fmt.Errorf("failed to read rollback files: %w", err)
	}

	for _, file := range files {
		sqlBytes, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read rollback file %s: %w", file, err)
		}

		if _, err := r.db.ExecContext(context.Background(), string(sqlBytes)); err != nil {
			return fmt.Errorf("failed to rollback migration %s: %w", file, err)
		}
	}

	r.log.Info().Msgf("Migrations rolled back successfully from %s", migrationsDir)
	return nil
}

func (r *repository) CreateEvent(ctx context.Context, e *model.Event) (int64, error) {
	query := `
		INSERT INTO events (name, description, start_time, end_time, location, capacity,
		                    price, currency, status, registration_open_at, registration_close_at,
		                    allow_waitlist, payment_timeout_minutes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`

	row := r.db.QueryRowContext(ctx, query,
		e.Name, e.Description, e.StartTime, e.EndTime, e.Location, e.Capacity,
		e.Price, e.Currency, e.Status, e.RegistrationOpenAt, e.RegistrationCloseAt,
		e.AllowWaitlist, e.PaymentTimeoutMinutes,
	)

	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}
	return id, nil
}

const eventColumns = `id, name, description, start_time, end_time, location, capacity,
	price, currency, status, registration_open_at, registration_close_at,
	allow_waitlist, payment_timeout_minutes, created_at, updated_at`

func scanEvent(row interface{ Scan(...any) error }) (*model.Event, error) {
	var e model.Event
	err := row.Scan(
		&e.ID, &e.Name, &e.Description, &e.StartTime, &e.EndTime, &e.Location, &e.Capacity,
		&e.Price, &e.Currency, &e.Status, &e.RegistrationOpenAt, &e.RegistrationCloseAt,
		&e.AllowWaitlist, &e.PaymentTimeoutMinutes, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *repository) GetEventByID(ctx context.Context, id int64) (*model.Event, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	e, err := scanEvent(row)
	if err != nil {
		return nil, ErrEventNotFound
	}
	return e, nil
}

func (r *repository) GetAllEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

const registrationColumns = `id, event_id, full_name, email, phone, status, payment_status,
	payment_method, gateway_payment_id, transaction_id, amount, currency, ticket_code,
	created_at, updated_at`

func scanRegistration(row interface{ Scan(...any) error }) (*model.Registration, error) {
	var reg model.Registration
	err := row.Scan(
		&reg.ID, &reg.EventID, &reg.FullName, &reg.Email, &reg.Phone,
		&reg.Status, &reg.PaymentStatus, &reg.PaymentMethod,
		&reg.GatewayPaymentID, &reg.TransactionID, &reg.Amount, &reg.Currency,
		&reg.TicketCode, &reg.CreatedAt, &reg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

// InsertRegistrationTx creates the registration inside one transaction:
// the event row is locked first, so the dedupe check, the capacity count
// and the insert cannot race with a competing submission for the same
// event. Two submissions fighting for the last seat serialize here.
func (r *repository) InsertRegistrationTx(ctx context.Context, reg *model.Registration, fields []model.CustomFieldValue) (int64, error) {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to start transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	var capacity int
	var allowWaitlist bool
	err = tx.QueryRowContext(ctx, `
		SELECT capacity, allow_waitlist
		FROM events
		WHERE id = $1
		FOR UPDATE
	`, reg.EventID).Scan(&capacity, &allowWaitlist)
	if err != nil {
		_ = tx.Rollback()
		return 0, ErrEventNotFound
	}

	var existing int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM registrations
		WHERE event_id = $1 AND email = $2 AND status IN ('pending', 'confirmed', 'waitlist')
	`, reg.EventID, reg.Email).Scan(&existing)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to check duplicate registration: %w", err)
	}
	if existing > 0 {
		_ = tx.Rollback()
		return 0, ErrDuplicateRegistration
	}

	if capacity > 0 {
		var count int
		err = tx.QueryRowContext(ctx, `
			SELECT COUNT(*)
			FROM registrations
			WHERE event_id = $1 AND status IN ('pending', 'confirmed')
		`, reg.EventID).Scan(&count)
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("failed to count registrations: %w", err)
		}

		if count >= capacity {
			if !allowWaitlist {
				_ = tx.Rollback()
				return 0, ErrCapacityExceeded
			}
			reg.Status = model.StatusWaitlist
		}
	}

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO registrations (event_id, full_name, email, phone, status, payment_status,
		                           payment_method, gateway_payment_id, transaction_id,
		                           amount, currency, ticket_code, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		RETURNING id
	`, reg.EventID, reg.FullName, reg.Email, reg.Phone, reg.Status, reg.PaymentStatus,
		reg.PaymentMethod, reg.GatewayPaymentID, reg.TransactionID,
		reg.Amount, reg.Currency, reg.TicketCode).Scan(&id)
	if err != nil {
		_ = tx.Rollback()
		if isUniqueViolation(err, "registrations_ticket_code_key") {
			return 0, ErrTicketCodeTaken
		}
		return 0, fmt.Errorf("failed to create registration: %w", err)
	}

	for _, f := range fields {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO registration_field_values (registration_id, field_id, value)
			VALUES ($1, $2, $3)
		`, id, f.FieldID, f.Value); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("failed to store custom field %s: %w", f.FieldID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return id, nil
}

func (r *repository) CountActive(ctx context.Context, eventID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM registrations
		WHERE event_id = $1 AND status IN ('pending', 'confirmed')
	`, eventID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count registrations: %w", err)
	}
	return count, nil
}

func (r *repository) GetRegistrationByID(ctx context.Context, id int64) (*model.Registration, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+registrationColumns+` FROM registrations WHERE id = $1`, id)
	reg, err := scanRegistration(row)
	if err != nil {
		return nil, ErrRegistrationNotFound
	}
	return reg, nil
}

func (r *repository) GetRegistrationsByEventID(ctx context.Context, eventID int64) ([]model.Registration, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+registrationColumns+`
		FROM registrations
		WHERE event_id = $1 AND status != 'cancelled'
		ORDER BY created_at ASC
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to get registrations: %w", err)
	}
	defer rows.Close()

	var regs []model.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan registration: %w", err)
		}
		regs = append(regs, *reg)
	}
	return regs, rows.Err()
}

func (r *repository) FindByTicketCode(ctx context.Context, code string) (*model.Registration, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+registrationColumns+` FROM registrations WHERE ticket_code = $1`, code)
	reg, err := scanRegistration(row)
	if err != nil {
		return nil, ErrRegistrationNotFound
	}
	return reg, nil
}

func (r *repository) FindByExternalReference(ctx context.Context, ref string) (*model.Registration, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+registrationColumns+` FROM registrations WHERE gateway_payment_id = $1`, ref)
	reg, err := scanRegistration(row)
	if err != nil {
		return nil, ErrRegistrationNotFound
	}
	return reg, nil
}

// AttachPayment records the gateway references after initiate. Only a
// still-pending payment may be attached; anything else is a stale call.
func (r *repository) AttachPayment(ctx context.Context, regID int64, gatewayID, paymentID, txnID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE registrations
		SET payment_method = $2, gateway_payment_id = $3, transaction_id = $4, updated_at = NOW()
		WHERE id = $1 AND payment_status = 'pending'
	`, regID, gatewayID, paymentID, txnID)
	if err != nil {
		return fmt.Errorf("failed to attach payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrRegistrationNotFound
	}
	return nil
}

// ConfirmPaymentCAS flips the payment to paid, and the registration to
// confirmed when it is still pending. The WHERE clause is the guard: a
// row already paid is left alone, so replays and races cannot double-apply.
func (r *repository) ConfirmPaymentCAS(ctx context.Context, regID int64, txnID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE registrations
		SET payment_status = 'paid',
		    status = CASE WHEN status = 'pending' THEN 'confirmed' ELSE status END,
		    transaction_id = CASE WHEN $2 = '' THEN transaction_id ELSE $2 END,
		    updated_at = NOW()
		WHERE id = $1 AND payment_status IN ('pending', 'failed')
	`, regID, txnID)
	if err != nil {
		return false, fmt.Errorf("failed to confirm payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// FailPaymentCAS marks the payment failed but keeps the registration
// pending so the attendee can retry. A paid row is never downgraded.
func (r *repository) FailPaymentCAS(ctx context.Context, regID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE registrations
		SET payment_status = 'failed', updated_at = NOW()
		WHERE id = $1 AND payment_status = 'pending'
	`, regID)
	if err != nil {
		return false, fmt.Errorf("failed to mark payment failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// CancelRegistrationTx cancels unconditionally of payment state and is
// idempotent: cancelling a cancelled registration reports changed=false.
func (r *repository) CancelRegistrationTx(ctx context.Context, regID int64) (bool, error) {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to start transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	var currentStatus string
	err = tx.QueryRowContext(ctx, `
		SELECT status
		FROM registrations
		WHERE id = $1
		FOR UPDATE
	`, regID).Scan(&currentStatus)
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrRegistrationNotFound
		}
		return false, fmt.Errorf("failed to select registration for cancellation: %w", err)
	}

	if currentStatus == model.StatusCancelled {
		_ = tx.Rollback()
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE registrations
		SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1
	`, regID); err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("failed to cancel registration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit cancellation transaction: %w", err)
	}

	return true, nil
}

// CancelIfUnpaidTx is the payment-timeout path: only a still-pending,
// still-unpaid registration expires. Anything confirmed, paid or already
// cancelled is left untouched.
func (r *repository) CancelIfUnpaidTx(ctx context.Context, regID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE registrations
		SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status = 'pending' AND payment_status = 'pending'
	`, regID)
	if err != nil {
		return false, fmt.Errorf("failed to expire registration: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// ApplyWebhookTx performs the whole webhook transition atomically: claim
// the (gateway_id, external_reference) dedup key, lock the registration,
// apply the outcome, commit. A duplicate delivery loses the claim insert
// and returns WebhookDuplicate without touching the registration. An
// unknown reference rolls back so no dedup row is kept and a later retry
// can still land.
func (r *repository) ApplyWebhookTx(ctx context.Context, gatewayID, ref string, completed bool, txnID string) (WebhookApplication, *model.Registration, error) {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to start transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO webhook_events (gateway_id, external_reference, processed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (gateway_id, external_reference) DO NOTHING
	`, gatewayID, ref)
	if err != nil {
		_ = tx.Rollback()
		return 0, nil, fmt.Errorf("failed to claim webhook event: %w", err)
	}
	claimed, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return 0, nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if claimed == 0 {
		_ = tx.Rollback()
		return WebhookDuplicate, nil, nil
	}

	row := tx.QueryRowContext(ctx, `
		SELECT `+registrationColumns+`
		FROM registrations
		WHERE gateway_payment_id = $1
		FOR UPDATE
	`, ref)
	reg, err := scanRegistration(row)
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return WebhookUnknownReference, nil, nil
		}
		return 0, nil, fmt.Errorf("failed to resolve registration: %w", err)
	}

	if reg.PaymentStatus == model.PaymentPaid {
		// paid is terminal toward webhooks; keep the dedup row.
		if err := tx.Commit(); err != nil {
			return 0, nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return WebhookAlreadyApplied, reg, nil
	}

	if completed {
		_, err = tx.ExecContext(ctx, `
			UPDATE registrations
			SET payment_status = 'paid',
			    status = CASE WHEN status = 'pending' THEN 'confirmed' ELSE status END,
			    transaction_id = CASE WHEN $2 = '' THEN transaction_id ELSE $2 END,
			    updated_at = NOW()
			WHERE id = $1
		`, reg.ID, txnID)
		if err == nil {
			reg.PaymentStatus = model.PaymentPaid
			if reg.Status == model.StatusPending {
				reg.Status = model.StatusConfirmed
			}
		}
	} else {
		if reg.PaymentStatus == model.PaymentFailed {
			if err := tx.Commit(); err != nil {
				return 0, nil, fmt.Errorf("failed to commit transaction: %w", err)
			}
			return WebhookAlreadyApplied, reg, nil
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE registrations
			SET payment_status = 'failed', updated_at = NOW()
			WHERE id = $1
		`, reg.ID)
		if err == nil {
			reg.PaymentStatus = model.PaymentFailed
		}
	}
	if err != nil {
		_ = tx.Rollback()
		return 0, nil, fmt.Errorf("failed to apply webhook transition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return WebhookApplied, reg, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505" && string(pqErr.Constraint) == constraint
}
