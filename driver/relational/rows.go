package relational

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/supalytics/streamgate/driver"
	"github.com/supalytics/streamgate/wire"
)

// drain iterates *sql.Rows, decoding each cell into a portable wire.Value
// and invoking consume once for the header and once per row. It always
// closes rows before returning, on every exit path, per the RowStream
// contract.
func drain(ctx context.Context, rows *sql.Rows, consume driver.Consumer) (err error) {
	defer func() {
		closeErr := rows.Close()
		if err == nil && closeErr != nil && closeErr != sql.ErrNoRows {
			err = closeErr
		}
	}()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return err
	}

	if err := consume(cols, nil); err != nil {
		if errors.Is(err, driver.ErrConsumerDone) {
			return nil
		}
		return err
	}

	dest := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range dest {
		ptrs[i] = &dest[i]
	}

	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}

		row := make([]wire.Value, len(dest))
		for i, v := range dest {
			row[i] = decode(v, types[i])
		}

		if err := consume(nil, row); err != nil {
			if errors.Is(err, driver.ErrConsumerDone) {
				return nil
			}
			return err
		}
	}

	return rows.Err()
}

// decode converts a database/sql scan destination into a portable wire
// value, using the backend column type name for the ambiguous cases
// (decimal, uuid, date vs instant) and falling back to a text
// representation when a safe structured decode isn't possible.
func decode(v any, col *sql.ColumnType) wire.Value {
	if v == nil {
		return wire.Null
	}

	typeName := strings.ToUpper(col.DatabaseTypeName())

	switch typeName {
	case "NUMERIC", "DECIMAL":
		if d, ok := toDecimal(v); ok {
			return wire.NewDecimal(d)
		}
	case "UUID":
		if u, ok := toUUID(v); ok {
			return wire.NewUUID(u)
		}
	case "DATE":
		if t, ok := v.(time.Time); ok {
			return wire.NewDate(t.Year(), int(t.Month()), t.Day())
		}
	}

	switch t := v.(type) {
	case int64:
		return wire.NewInt64(t)
	case float64:
		return wire.NewFloat64(t)
	case bool:
		return wire.NewBool(t)
	case []byte:
		if typeName == "BLOB" || typeName == "BYTEA" {
			return wire.NewBytes(t)
		}
		return wire.NewString(string(t))
	case string:
		return wire.NewString(t)
	case time.Time:
		return wire.NewInstant(t)
	default:
		return wire.NewString(toText(v))
	}
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case []byte:
		d, err := decimal.NewFromString(string(t))
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(t)
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(t), true
	case int64:
		return decimal.NewFromInt(t), true
	default:
		return decimal.Decimal{}, false
	}
}

func toUUID(v any) (uuid.UUID, bool) {
	switch t := v.(type) {
	case []byte:
		if len(t) == 16 {
			u, err := uuid.FromBytes(t)
			return u, err == nil
		}
		u, err := uuid.ParseBytes(t)
		return u, err == nil
	case string:
		u, err := uuid.Parse(t)
		return u, err == nil
	default:
		return uuid.UUID{}, false
	}
}

func toText(v any) string {
	return fmt.Sprintf("%v", v)
}
