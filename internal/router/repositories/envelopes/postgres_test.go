package envelopes

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/blobrouter/internal/common"
	"github.com/dmitrijs2005/blobrouter/internal/router/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

const insertQ = `(?s)INSERT\s+INTO\s+envelopes\s*\(id,\s*container,\s*file_name,\s*file_created_at,\s*dispatched_at,\s*status,\s*is_deleted,\s*created_at\)`
const findLastQ = `(?s)SELECT\s+.*\s+FROM\s+envelopes\s+WHERE\s+container\s*=\s*\$1\s+AND\s+file_name\s*=\s*\$2\s+ORDER\s+BY\s+created_at\s+DESC\s+LIMIT\s+1`
const markDeletedQ = `(?s)UPDATE\s+envelopes\s+SET\s+is_deleted\s*=\s*TRUE\s+WHERE\s+id\s*=\s*\$1`

func TestInsert_DispatchedRow(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	dispatchedAt := now.Add(-time.Second)

	mock.ExpectExec(insertQ).
		WithArgs("id-1", "bulkscan", "new.blob", now.Add(-time.Minute),
			sql.NullTime{Time: dispatchedAt, Valid: true}, models.StatusDispatched, false, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Insert(context.Background(), &models.Envelope{
		ID:            "id-1",
		Container:     "bulkscan",
		FileName:      "new.blob",
		FileCreatedAt: now.Add(-time.Minute),
		DispatchedAt:  &dispatchedAt,
		Status:        models.StatusDispatched,
		CreatedAt:     now,
	})
	if err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestInsert_RejectedRowHasNullDispatchTime(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(insertQ).
		WithArgs("id-2", "bulkscan", "bad.blob", now.Add(-time.Minute),
			sql.NullTime{}, models.StatusRejected, false, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Insert(context.Background(), &models.Envelope{
		ID:            "id-2",
		Container:     "bulkscan",
		FileName:      "bad.blob",
		FileCreatedAt: now.Add(-time.Minute),
		Status:        models.StatusRejected,
		CreatedAt:     now,
	})
	if err != nil {
		t.Fatalf("Insert error: %v", err)
	}
}

func TestInsert_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(insertQ).WillReturnError(errors.New("db down"))

	err := repo.Insert(context.Background(), &models.Envelope{ID: "id-1"})
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestFindLast_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	dispatchedAt := now.Add(-time.Second)

	rows := sqlmock.NewRows([]string{"id", "container", "file_name", "file_created_at", "dispatched_at", "status", "is_deleted", "created_at"}).
		AddRow("id-1", "bulkscan", "new.blob", now.Add(-time.Minute), dispatchedAt, "DISPATCHED", true, now)
	mock.ExpectQuery(findLastQ).
		WithArgs("bulkscan", "new.blob").
		WillReturnRows(rows)

	got, err := repo.FindLast(context.Background(), "bulkscan", "new.blob")
	if err != nil {
		t.Fatalf("FindLast error: %v", err)
	}
	if got.ID != "id-1" || got.Status != models.StatusDispatched || !got.IsDeleted {
		t.Fatalf("unexpected envelope: %+v", got)
	}
	if got.DispatchedAt == nil || !got.DispatchedAt.Equal(dispatchedAt) {
		t.Fatalf("unexpected dispatchedAt: %v", got.DispatchedAt)
	}
}

func TestFindLast_NullDispatchTime(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "container", "file_name", "file_created_at", "dispatched_at", "status", "is_deleted", "created_at"}).
		AddRow("id-2", "bulkscan", "bad.blob", now, nil, "REJECTED", false, now)
	mock.ExpectQuery(findLastQ).
		WithArgs("bulkscan", "bad.blob").
		WillReturnRows(rows)

	got, err := repo.FindLast(context.Background(), "bulkscan", "bad.blob")
	if err != nil {
		t.Fatalf("FindLast error: %v", err)
	}
	if got.DispatchedAt != nil {
		t.Fatalf("rejected row must have no dispatch time, got %v", got.DispatchedAt)
	}
}

func TestFindLast_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(findLastQ).
		WithArgs("bulkscan", "ghost.blob").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindLast(context.Background(), "bulkscan", "ghost.blob")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}

func TestFindLast_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(findLastQ).
		WithArgs("bulkscan", "new.blob").
		WillReturnError(errors.New("db err"))

	_, err := repo.FindLast(context.Background(), "bulkscan", "new.blob")
	if err == nil || !regexp.MustCompile(`db error: .*db err`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestMarkDeleted_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(markDeletedQ).
		WithArgs("id-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkDeleted(context.Background(), "id-1"); err != nil {
		t.Fatalf("MarkDeleted error: %v", err)
	}
}

func TestMarkDeleted_UnknownID(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(markDeletedQ).
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkDeleted(context.Background(), "ghost")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}
