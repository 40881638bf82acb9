package store

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/relayq/relayq/pkg/notification"
	"github.com/relayq/relayq/pkg/observability/logger"
)

type nopLogger struct{}

func (l *nopLogger) Debug(string, ...any)                      {}
func (l *nopLogger) Info(string, ...any)                       {}
func (l *nopLogger) Warn(string, ...any)                       {}
func (l *nopLogger) Error(string, ...any)                      {}
func (l *nopLogger) With(...any) logger.Logger                 { return l }
func (l *nopLogger) WithContext(context.Context) logger.Logger { return l }

func newMockNotificationStore(t *testing.T) (*PostgresNotificationStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	adapter := NewPostgresAdapterFromDB(db, PostgresConfig{}, &nopLogger{})
	s, err := NewPostgresNotificationStore(adapter)
	if err != nil {
		t.Fatalf("new notification store: %v", err)
	}
	return s, mock
}

func validNotification() *notification.Notification {
	return &notification.Notification{
		ID:             "n-1",
		TenantID:       "acme",
		Kind:           notification.KindEmail,
		Priority:       notification.PriorityNormal,
		Status:         notification.StatusQueued,
		IdempotencyKey: "order-42",
		Payload:        []byte(`{"to":"a@b.c","subject":"hi","body":"hello"}`),
		MaxAttempts:    notification.DefaultMaxAttempts,
		CreatedAt:      time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC),
	}
}

func TestPostgresNotificationStore_Create(t *testing.T) {
	s, mock := newMockNotificationStore(t)

	mock.ExpectExec("INSERT INTO notifications").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Create(context.Background(), validNotification()); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresNotificationStore_CreateDuplicateIdempotencyKey(t *testing.T) {
	s, mock := newMockNotificationStore(t)

	mock.ExpectExec("INSERT INTO notifications").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "notifications_tenant_idempotency_key"})

	err := s.Create(context.Background(), validNotification())
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresNotificationStore_CreateRejectsInvalid(t *testing.T) {
	s, _ := newMockNotificationStore(t)

	bad := validNotification()
	bad.TenantID = ""
	if err := s.Create(context.Background(), bad); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestPostgresNotificationStore_Get(t *testing.T) {
	s, mock := newMockNotificationStore(t)
	created := time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"id", "tenant_id", "kind", "priority", "status", "idempotency_key",
		"payload", "attempts", "max_attempts", "last_error", "created_at", "started_at", "completed_at",
	}).AddRow("n-1", "acme", "email", 5, "queued", "order-42",
		[]byte(`{}`), 0, 3, "", created, nil, nil)

	mock.ExpectQuery("SELECT (.+) FROM notifications").
		WithArgs("n-1").
		WillReturnRows(rows)

	n, err := s.Get(context.Background(), "n-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if n.Kind != notification.KindEmail || n.Priority != notification.PriorityNormal {
		t.Fatalf("unexpected notification %+v", n)
	}
	if !n.StartedAt.IsZero() || !n.CompletedAt.IsZero() {
		t.Fatalf("expected zero timestamps, got %+v", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresNotificationStore_GetNotFound(t *testing.T) {
	s, mock := newMockNotificationStore(t)

	mock.ExpectQuery("SELECT (.+) FROM notifications").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := s.Get(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresNotificationStore_MarkProcessing(t *testing.T) {
	s, mock := newMockNotificationStore(t)
	started := time.Date(2024, time.March, 15, 12, 5, 0, 0, time.UTC)

	mock.ExpectQuery("UPDATE notifications").
		WithArgs("n-1", "processing", started).
		WillReturnRows(sqlmock.NewRows([]string{"attempts"}).AddRow(2))

	attempt, err := s.MarkProcessing(context.Background(), "n-1", started)
	if err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if attempt != 2 {
		t.Fatalf("expected attempt 2, got %d", attempt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresNotificationStore_MarkCompletedNotFound(t *testing.T) {
	s, mock := newMockNotificationStore(t)

	mock.ExpectExec("UPDATE notifications").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.MarkCompleted(context.Background(), "ghost", time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresNotificationStore_MarkFailed(t *testing.T) {
	s, mock := newMockNotificationStore(t)
	failedAt := time.Date(2024, time.March, 15, 12, 10, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE notifications").
		WithArgs("n-1", "failed", "http 404", failedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.MarkFailed(context.Background(), "n-1", "http 404", failedAt); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
