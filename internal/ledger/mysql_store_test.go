package ledger

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
)

func TestMySQLStoreCreatePreservesCreatedAt(t *testing.T) {
	t.Parallel()

	db, drv := newRecordingDB(t, []execExpectation{{query: insertRecordSQL()}})
	defer db.Close()

	store := &MySQLStore{db: db}
	record := &Record{ID: "req-1", Title: "Aurora", CreatedAt: 1234}
	if err := store.Create(context.Background(), record); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	args := drv.argsFor(t, 0)
	if got := args[6].(int64); got != 1234 {
		t.Fatalf("caller-supplied created_at must be preserved, got %d", got)
	}
	if got := args[7].(int64); got == 0 {
		t.Fatalf("updated_at must be stamped")
	}
	if record.CreatedAt != 1234 {
		t.Fatalf("record created_at overwritten: %d", record.CreatedAt)
	}
}

func TestMySQLStoreCreateStampsZeroCreatedAt(t *testing.T) {
	t.Parallel()

	db, drv := newRecordingDB(t, []execExpectation{{query: insertRecordSQL()}})
	defer db.Close()

	store := &MySQLStore{db: db}
	record := &Record{ID: "req-2", Title: "Aurora"}
	before := time.Now().Unix()
	if err := store.Create(context.Background(), record); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	args := drv.argsFor(t, 0)
	if got := args[6].(int64); got < before {
		t.Fatalf("zero created_at must be stamped with now, got %d", got)
	}
}

func TestMySQLStoreCreateMapsDuplicateToConflict(t *testing.T) {
	t.Parallel()

	db, _ := newRecordingDB(t, []execExpectation{
		{query: insertRecordSQL(), err: &mysql.MySQLError{Number: 1062, Message: "duplicate"}},
	})
	defer db.Close()

	store := &MySQLStore{db: db}
	err := store.Create(context.Background(), &Record{ID: "req-3", Title: "Aurora"})
	if !errors.Is(err, ErrRecordConflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func insertRecordSQL() string {
	return `INSERT INTO mint_records
        (id, title, author, recipient, chain, status, last_error, error_code, error_stage, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, '', '', '', ?, ?)`
}

// recordingDriver 按顺序消费预期的 Exec 调用并记录实参。
type execExpectation struct {
	query string
	err   error
}

type recordingDriver struct {
	expectations []execExpectation
	captured     [][]driver.Value
	idx          int32
}

var recordingSeq atomic.Int32

func newRecordingDB(t *testing.T, expectations []execExpectation) (*sql.DB, *recordingDriver) {
	t.Helper()

	drv := &recordingDriver{expectations: expectations, captured: make([][]driver.Value, len(expectations))}
	name := fmt.Sprintf("recording-mysql-%d", recordingSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, drv
}

func (d *recordingDriver) argsFor(t *testing.T, i int) []driver.Value {
	t.Helper()
	if i >= len(d.captured) || d.captured[i] == nil {
		t.Fatalf("exec %d was not performed", i)
	}
	return d.captured[i]
}

func (d *recordingDriver) Open(string) (driver.Conn, error) {
	return &recordingConn{driver: d}, nil
}

type recordingConn struct {
	driver *recordingDriver
}

func (c *recordingConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *recordingConn) Close() error { return nil }

func (c *recordingConn) Begin() (driver.Tx, error) {
	return nil, errors.New("transactions not supported")
}

func (c *recordingConn) Ping(context.Context) error { return nil }

func (c *recordingConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	idx := int(atomic.LoadInt32(&c.driver.idx))
	if idx >= len(c.driver.expectations) {
		return nil, fmt.Errorf("unexpected exec: %s", query)
	}
	expected := c.driver.expectations[idx]
	atomic.AddInt32(&c.driver.idx, 1)

	if normalizeSQL(expected.query) != normalizeSQL(query) {
		return nil, fmt.Errorf("unexpected query. want %q got %q", normalizeSQL(expected.query), normalizeSQL(query))
	}
	values := make([]driver.Value, len(args))
	for i, arg := range args {
		values[i] = arg.Value
	}
	c.driver.captured[idx] = values

	if expected.err != nil {
		return nil, expected.err
	}
	return driver.RowsAffected(1), nil
}

func normalizeSQL(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
