package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/wb-go/wbf/dbpg"

	"ticketgate/internal/model"
)

func setupRepo(t *testing.T) (*repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	logger := zerolog.Nop()
	return &repository{db: &dbpg.DB{Master: db}, log: &logger}, mock
}

func pendingRegistration() *model.Registration {
	return &model.Registration{
		EventID:       1,
		FullName:      "Ada Lovelace",
		Email:         "ada@example.com",
		Status:        model.StatusPending,
		PaymentStatus: model.PaymentPending,
		Amount:        decimal.RequireFromString("25.00"),
		Currency:      "USD",
		TicketCode:    "ABCD2345",
	}
}

func TestInsertRegistrationTx(t *testing.T) {
	r, mock := setupRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT capacity, allow_waitlist").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"capacity", "allow_waitlist"}).AddRow(10, false))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\)").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\)").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery("INSERT INTO registrations").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
	mock.ExpectCommit()

	id, err := r.InsertRegistrationTx(context.Background(), pendingRegistration(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 42 {
		t.Errorf("id = %d, want 42", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestInsertRegistrationTxCapacityExceeded(t *testing.T) {
	r, mock := setupRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT capacity, allow_waitlist").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"capacity", "allow_waitlist"}).AddRow(1, false))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\)").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\)").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	_, err := r.InsertRegistrationTx(context.Background(), pendingRegistration(), nil)
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("error = %v, want ErrCapacityExceeded", err)
	}
}

func TestInsertRegistrationTxWaitlistsWhenFull(t *testing.T) {
	r, mock := setupRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT capacity, allow_waitlist").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"capacity", "allow_waitlist"}).AddRow(1, true))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\)").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\)").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("INSERT INTO registrations").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(43))
	mock.ExpectCommit()

	reg := pendingRegistration()
	if _, err := r.InsertRegistrationTx(context.Background(), reg, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reg.Status != model.StatusWaitlist {
		t.Errorf("status = %s, want waitlist", reg.Status)
	}
}

func TestInsertRegistrationTxDuplicate(t *testing.T) {
	r, mock := setupRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT capacity, allow_waitlist").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"capacity", "allow_waitlist"}).AddRow(10, false))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\)").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	_, err := r.InsertRegistrationTx(context.Background(), pendingRegistration(), nil)
	if !errors.Is(err, ErrDuplicateRegistration) {
		t.Fatalf("error = %v, want ErrDuplicateRegistration", err)
	}
}

func TestInsertRegistrationTxTicketCollision(t *testing.T) {
	r, mock := setupRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT capacity, allow_waitlist").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"capacity", "allow_waitlist"}).AddRow(10, false))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\)").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\)").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("INSERT INTO registrations").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "registrations_ticket_code_key"})
	mock.ExpectRollback()

	_, err := r.InsertRegistrationTx(context.Background(), pendingRegistration(), nil)
	if !errors.Is(err, ErrTicketCodeTaken) {
		t.Fatalf("error = %v, want ErrTicketCodeTaken", err)
	}
}

func TestInsertRegistrationTxUnlimitedSkipsCount(t *testing.T) {
	r, mock := setupRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT capacity, allow_waitlist").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"capacity", "allow_waitlist"}).AddRow(0, false))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\)").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("INSERT INTO registrations").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(44))
	mock.ExpectCommit()

	if _, err := r.InsertRegistrationTx(context.Background(), pendingRegistration(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCancelRegistrationTx(t *testing.T) {
	r, mock := setupRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("confirmed"))
	mock.ExpectExec("UPDATE registrations").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	changed, err := r.CancelRegistrationTx(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Error("expected changed=true")
	}
}

func TestCancelRegistrationTxIdempotent(t *testing.T) {
	r, mock := setupRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("cancelled"))
	mock.ExpectRollback()

	changed, err := r.CancelRegistrationTx(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed {
		t.Error("second cancel must be a no-op")
	}
}

func registrationRow(status, paymentStatus string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "event_id", "full_name", "email", "phone", "status", "payment_status",
		"payment_method", "gateway_payment_id", "transaction_id", "amount", "currency",
		"ticket_code", "created_at", "updated_at",
	}).AddRow(
		9, 1, "Ada Lovelace", "ada@example.com", "", status, paymentStatus,
		"paypal", "ref-abc", "", "25.00", "USD", "ABCD2345", now, now,
	)
}

func TestApplyWebhookTxCompleted(t *testing.T) {
	r, mock := setupRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO webhook_events").
		WithArgs("paypal", "ref-abc").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM registrations").
		WithArgs("ref-abc").
		WillReturnRows(registrationRow("pending", "pending"))
	mock.ExpectExec("UPDATE registrations").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	application, reg, err := r.ApplyWebhookTx(context.Background(), "paypal", "ref-abc", true, "TX1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if application != WebhookApplied {
		t.Fatalf("application = %d, want WebhookApplied", application)
	}
	if reg.PaymentStatus != model.PaymentPaid || reg.Status != model.StatusConfirmed {
		t.Errorf("registration = %s/%s, want confirmed/paid", reg.Status, reg.PaymentStatus)
	}
}

func TestApplyWebhookTxDuplicateDelivery(t *testing.T) {
	r, mock := setupRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO webhook_events").
		WithArgs("paypal", "ref-abc").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	application, _, err := r.ApplyWebhookTx(context.Background(), "paypal", "ref-abc", true, "TX1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if application != WebhookDuplicate {
		t.Fatalf("application = %d, want WebhookDuplicate", application)
	}
}

func TestApplyWebhookTxUnknownReference(t *testing.T) {
	r, mock := setupRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO webhook_events").
		WithArgs("paypal", "ref-missing").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM registrations").
		WithArgs("ref-missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	application, _, err := r.ApplyWebhookTx(context.Background(), "paypal", "ref-missing", true, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if application != WebhookUnknownReference {
		t.Fatalf("application = %d, want WebhookUnknownReference", application)
	}
}

func TestApplyWebhookTxPaidNeverReverted(t *testing.T) {
	r, mock := setupRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO webhook_events").
		WithArgs("paypal", "ref-abc").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM registrations").
		WithArgs("ref-abc").
		WillReturnRows(registrationRow("confirmed", "paid"))
	mock.ExpectCommit()

	application, reg, err := r.ApplyWebhookTx(context.Background(), "paypal", "ref-abc", false, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if application != WebhookAlreadyApplied {
		t.Fatalf("application = %d, want WebhookAlreadyApplied", application)
	}
	if reg.PaymentStatus != model.PaymentPaid {
		t.Errorf("payment_status = %s, a failed webhook must not downgrade paid", reg.PaymentStatus)
	}
}

func TestApplyWebhookTxFailedKeepsPending(t *testing.T) {
	r, mock := setupRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO webhook_events").
		WithArgs("paypal", "ref-abc").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM registrations").
		WithArgs("ref-abc").
		WillReturnRows(registrationRow("pending", "pending"))
	mock.ExpectExec("UPDATE registrations").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	application, reg, err := r.ApplyWebhookTx(context.Background(), "paypal", "ref-abc", false, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if application != WebhookApplied {
		t.Fatalf("application = %d, want WebhookApplied", application)
	}
	if reg.PaymentStatus != model.PaymentFailed {
		t.Errorf("payment_status = %s, want failed", reg.PaymentStatus)
	}
	if reg.Status != model.StatusPending {
		t.Errorf("status = %s, failed payment must keep the registration pending", reg.Status)
	}
}

func TestCancelIfUnpaidTx(t *testing.T) {
	r, mock := setupRepo(t)

	mock.ExpectExec("UPDATE registrations").
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	cancelled, err := r.CancelIfUnpaidTx(context.Background(), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cancelled {
		t.Error("a paid or confirmed registration must not expire")
	}
}
