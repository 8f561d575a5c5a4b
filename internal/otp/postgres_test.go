package otp

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"campusattend/internal/store"
)

// rowsAffectedFails is a database/sql driver whose Exec succeeds but whose
// result cannot report affected rows.
type rowsAffectedFails struct{}

func (rowsAffectedFails) Connect(context.Context) (driver.Conn, error) {
	return rowsAffectedFails{}, nil
}

func (rowsAffectedFails) Driver() driver.Driver { return rowsAffectedFails{} }

func (rowsAffectedFails) Open(string) (driver.Conn, error) { return rowsAffectedFails{}, nil }

func (rowsAffectedFails) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}

func (rowsAffectedFails) Close() error { return nil }

func (rowsAffectedFails) Begin() (driver.Tx, error) { return nil, errors.New("tx not supported") }

func (rowsAffectedFails) ExecContext(context.Context, string, []driver.NamedValue) (driver.Result, error) {
	return rowsAffectedFails{}, nil
}

func (rowsAffectedFails) LastInsertId() (int64, error) { return 0, errors.New("unsupported") }

func (rowsAffectedFails) RowsAffected() (int64, error) {
	return 0, errors.New("rows affected unavailable")
}

func TestPostgresPurgeWrapsResultError(t *testing.T) {
	db := sql.OpenDB(rowsAffectedFails{})
	defer db.Close()

	_, err := NewPostgresStore(db).Purge(context.Background(), time.Now())
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}
