// Package wire defines the portable row-value kinds that cross the driver
// boundary. Every concrete driver decodes its backend-native types into
// one of these kinds before handing a row to the resolver/gateway layer;
// no backend-specific type ever leaks past the driver package it
// originated in.
package wire

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind discriminates the portable value variants.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt64
	KindFloat64
	KindDecimal
	KindString
	KindBytes
	KindInstant
	KindDate
	KindUUID
)

// Value is a single portable row value. The zero Value is KindNull.
//
// A struct-of-fields representation (rather than an interface per kind) is
// used deliberately: rows are produced and consumed at high frequency on the
// hot streaming path, and a tagged struct avoids one heap allocation per
// cell that an interface-based sum type would otherwise need.
type Value struct {
	Kind    Kind
	Bool    bool
	Int64   int64
	Float64 float64
	Decimal decimal.Decimal
	String  string
	Bytes   []byte
	Instant time.Time
	Date    civilDate
	UUID    uuid.UUID
}

// civilDate is a calendar date with no time-of-day or zone component,
// distinct from Instant (a UTC timestamp).
type civilDate struct {
	Year  int
	Month int
	Day   int
}

// Null is the portable null value.
var Null = Value{Kind: KindNull}

func NewBool(v bool) Value       { return Value{Kind: KindBool, Bool: v} }
func NewInt64(v int64) Value     { return Value{Kind: KindInt64, Int64: v} }
func NewFloat64(v float64) Value { return Value{Kind: KindFloat64, Float64: v} }
func NewDecimal(v decimal.Decimal) Value {
	return Value{Kind: KindDecimal, Decimal: v}
}
func NewString(v string) Value { return Value{Kind: KindString, String: v} }
func NewBytes(v []byte) Value  { return Value{Kind: KindBytes, Bytes: v} }
func NewInstant(v time.Time) Value {
	return Value{Kind: KindInstant, Instant: v.UTC()}
}
func NewDate(year, month, day int) Value {
	return Value{Kind: KindDate, Date: civilDate{Year: year, Month: month, Day: day}}
}
func NewUUID(v uuid.UUID) Value { return Value{Kind: KindUUID, UUID: v} }

// IsNull reports whether the value is the portable null.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// MarshalJSON renders the value the way the wire protocol's row frame
// expects: plain JSON scalars, so that encoding/json round-trips it without
// a custom envelope. Decimal, bytes (base64), instant, date and uuid are
// rendered as strings; the round trip is lossless for every kind but requires the
// consumer to know column types out of band (the same way any JSON-over-
// the-wire row protocol works).
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.Bool)
	case KindInt64:
		return json.Marshal(v.Int64)
	case KindFloat64:
		return json.Marshal(v.Float64)
	case KindDecimal:
		return json.Marshal(v.Decimal.String())
	case KindString:
		return json.Marshal(v.String)
	case KindBytes:
		return json.Marshal(v.Bytes)
	case KindInstant:
		return json.Marshal(v.Instant.Format(time.RFC3339Nano))
	case KindDate:
		return json.Marshal(v.Date.String())
	case KindUUID:
		return json.Marshal(v.UUID.String())
	default:
		return []byte("null"), nil
	}
}

func (d civilDate) String() string {
	return time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
}
