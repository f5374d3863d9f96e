package wire

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func assertEqual(t *testing.T, expected, actual any) {
	t.Helper()
	if expected != actual {
		t.Fatalf("expected %v, got %v", expected, actual)
	}
}

func TestValue_MarshalJSON(t *testing.T) {
	cases := []struct {
		name string
		v    Value
		want string
	}{
		{"null", Null, "null"},
		{"bool", NewBool(true), "true"},
		{"int64", NewInt64(42), "42"},
		{"float64", NewFloat64(3.5), "3.5"},
		{"string", NewString("alpha"), `"alpha"`},
		{"decimal", NewDecimal(decimal.RequireFromString("1.50")), `"1.50"`},
		{"uuid", NewUUID(uuid.MustParse("00000000-0000-0000-0000-000000000001")), `"00000000-0000-0000-0000-000000000001"`},
		{"date", NewDate(2024, 1, 2), `"2024-01-02"`},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := json.Marshal(c.v)
			if err != nil {
				t.Fatal(err)
			}
			assertEqual(t, c.want, string(got))
		})
	}
}

func TestValue_Instant_RoundTrip(t *testing.T) {
	now := time.Date(2024, 3, 4, 5, 6, 7, 0, time.FixedZone("x", 3600))
	v := NewInstant(now)
	if v.Instant.Location() != time.UTC {
		t.Fatalf("expected Instant to be normalized to UTC, got %v", v.Instant.Location())
	}
	if !v.Instant.Equal(now) {
		t.Fatalf("expected same instant, got %v want %v", v.Instant, now)
	}
}

func TestValue_IsNull(t *testing.T) {
	if !Null.IsNull() {
		t.Fatal("expected Null.IsNull() == true")
	}
	if NewInt64(0).IsNull() {
		t.Fatal("expected NewInt64(0).IsNull() == false")
	}
}
