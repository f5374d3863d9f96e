package relational_test

import (
	"context"
	"testing"

	"github.com/supalytics/streamgate/driver"
	"github.com/supalytics/streamgate/driver/relational"
	"github.com/supalytics/streamgate/logging"
	"github.com/supalytics/streamgate/wire"
)

func newSQLiteDriver(t *testing.T) driver.Driver {
	t.Helper()
	reg := driver.NewRegistry()
	relational.Register(reg, logging.Discard)
	d, err := reg.Build(relational.BackendType, map[string]any{
		"database": "driver_test_" + t.Name(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestDriver_QuerySimple(t *testing.T) {
	d := newSQLiteDriver(t)

	stream, err := d.Query(context.Background(), "SELECT 1 AS a, 'x' AS b")
	if err != nil {
		t.Fatal(err)
	}

	var cols []string
	var rows [][]wire.Value
	err = stream(context.Background(), func(c []string, r []wire.Value) error {
		if c != nil {
			cols = c
			return nil
		}
		rows = append(rows, r)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(cols) != 2 || cols[0] != "a" || cols[1] != "b" {
		t.Fatalf("unexpected columns: %v", cols)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0][0].Kind != wire.KindInt64 || rows[0][0].Int64 != 1 {
		t.Fatalf("unexpected cell 0: %+v", rows[0][0])
	}
	if rows[0][1].Kind != wire.KindString || rows[0][1].String != "x" {
		t.Fatalf("unexpected cell 1: %+v", rows[0][1])
	}
}

func TestDriver_QueryEmptyResultSet(t *testing.T) {
	d := newSQLiteDriver(t)

	create, err := d.Query(context.Background(), "CREATE TABLE orders(region TEXT)")
	if err != nil {
		t.Fatal(err)
	}
	// Query only prepares; running the stream executes the statement.
	// exec-as-query on sqlite3 via database/sql Query still succeeds with
	// zero rows.
	if err := create(context.Background(), func([]string, []wire.Value) error { return nil }); err != nil {
		t.Fatal(err)
	}

	stream, err := d.Query(context.Background(), "SELECT region FROM orders WHERE region = 'us'")
	if err != nil {
		t.Fatal(err)
	}

	sawHeader := false
	rowCount := 0
	err = stream(context.Background(), func(c []string, r []wire.Value) error {
		if c != nil {
			sawHeader = true
			return nil
		}
		rowCount++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !sawHeader {
		t.Fatal("expected exactly one header frame even for an empty result set")
	}
	if rowCount != 0 {
		t.Fatalf("expected 0 rows, got %d", rowCount)
	}
}

func TestDriver_ConsumerStop(t *testing.T) {
	d := newSQLiteDriver(t)

	stream, err := d.Query(context.Background(), "SELECT 1 UNION SELECT 2 UNION SELECT 3")
	if err != nil {
		t.Fatal(err)
	}

	seen := 0
	err = stream(context.Background(), func(c []string, r []wire.Value) error {
		if c != nil {
			return nil
		}
		seen++
		if seen == 1 {
			return driver.ErrConsumerDone
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
	if seen != 1 {
		t.Fatalf("expected iteration to stop after 1 row, saw %d", seen)
	}
}

func TestDriver_CloseIsIdempotent(t *testing.T) {
	d := newSQLiteDriver(t)
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got %v", err)
	}
}
