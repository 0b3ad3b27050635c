package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"orderengine/src/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func TestExecutionRepositorySearch(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := NewExecutionRepository(mockDB)

	createdAt := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	executions := []model.OrderExecution{
		{ID: 1, UserID: 1, CredentialID: 1, Symbol: "BTCUSDT", Status: model.ExecutionStatusExecuted, CreatedAt: createdAt, UpdatedAt: createdAt},
		{ID: 2, UserID: 1, CredentialID: 2, Symbol: "ETHUSDT", Status: model.ExecutionStatusFailed, CreatedAt: createdAt.Add(24 * time.Hour), UpdatedAt: createdAt.Add(24 * time.Hour)},
	}

	executionRows := func(returned ...model.OrderExecution) *sqlmock.Rows {
		rows := sqlmock.NewRows([]string{"id", "user_id", "credential_id", "symbol", "status", "created_at", "updated_at"})
		for _, e := range returned {
			rows.AddRow(e.ID, e.UserID, e.CredentialID, e.Symbol, e.Status, e.CreatedAt, e.UpdatedAt)
		}
		return rows
	}

	t.Run("filters by user", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "order_executions" WHERE user_id = $1 ORDER BY created_at DESC, id DESC`)).
			WithArgs(uint(1)).
			WillReturnRows(executionRows(executions[1], executions[0]))

		results, err := repo.Search(context.Background(), ExecutionSearchOptions{UserID: 1})
		if err != nil {
			t.Fatalf("unexpected error searching executions: %v", err)
		}
		if len(results) != 2 {
			t.Fatalf("expected 2 executions for user 1, got %d", len(results))
		}
		if results[0].Symbol != "ETHUSDT" || results[1].Symbol != "BTCUSDT" {
			t.Fatalf("executions not returned in expected order: %+v", results)
		}
	})

	t.Run("filters by created window", func(t *testing.T) {
		from := createdAt.Add(-time.Hour)
		to := createdAt.Add(time.Hour)
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "order_executions" WHERE user_id = $1 AND created_at >= $2 AND created_at <= $3 ORDER BY created_at DESC, id DESC`)).
			WithArgs(uint(1), from, to).
			WillReturnRows(executionRows(executions[0]))

		results, err := repo.Search(context.Background(), ExecutionSearchOptions{UserID: 1, CreatedAfter: &from, CreatedBefore: &to})
		if err != nil {
			t.Fatalf("unexpected error searching executions: %v", err)
		}
		if len(results) != 1 || results[0].ID != 1 {
			t.Fatalf("unexpected executions returned: %+v", results)
		}
	})

	t.Run("applies pagination", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "order_executions" WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`)).
			WithArgs(uint(1), 1, 1).
			WillReturnRows(executionRows(executions[0]))

		results, err := repo.Search(context.Background(), ExecutionSearchOptions{UserID: 1, Limit: 1, Offset: 1})
		if err != nil {
			t.Fatalf("unexpected error searching executions: %v", err)
		}
		if len(results) != 1 {
			t.Fatalf("expected 1 execution for pagination, got %d", len(results))
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestExecutionRepositorySumExecutedNotional(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := NewExecutionRepository(mockDB)
	since := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COALESCE(SUM(notional), 0) FROM "order_executions" WHERE user_id = $1 AND status = $2 AND purpose = $3 AND executed_at >= $4`)).
		WithArgs(uint(3), model.ExecutionStatusExecuted, model.ExecutionPurposeOpen, since).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow("1250.5"))

	total, err := repo.SumExecutedNotional(context.Background(), 3, since)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !total.Equal(decimal.RequireFromString("1250.5")) {
		t.Fatalf("expected 1250.5, got %s", total)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestPositionRepositoryCountActive(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := NewPositionRepository(mockDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "positions" WHERE user_id = $1 AND active = $2`)).
		WithArgs(uint(7), true).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	n, err := repo.CountActive(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 active positions, got %d", n)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestUserRepositoryFindByIDNotFound(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := NewUserRepository(mockDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "users" WHERE "users"."id" = $1 ORDER BY "users"."id" LIMIT $2`)).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	u, err := repo.FindByID(context.Background(), 99)
	if err != nil {
		t.Fatalf("not found must not be an error, got %v", err)
	}
	if u != nil {
		t.Fatalf("expected nil user, got %+v", u)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	dialector := postgres.New(postgres.Config{
		DSN:                  "sqlmock_db_0",
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	})

	gdb, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		sqlDB.Close()
		t.Fatalf("failed to open gorm DB with sqlmock: %v", err)
	}

	return gdb, mock
}
