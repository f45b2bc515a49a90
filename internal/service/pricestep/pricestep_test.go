package pricestep

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestStepFor_Tiers(t *testing.T) {
	table := Default()

	cases := []struct {
		price string
		step  string
	}{
		{"0.5", "0.01"},
		{"23", "0.01"},
		{"999.99", "0.01"},
		{"1000", "1"},
		{"1234", "1"},
		{"4999", "1"},
		{"5000", "5"},
		{"9999", "5"},
		{"10000", "10"},
		{"19990", "10"},
		{"20000", "20"},
		{"40000", "40"},
		{"49960", "40"},
		{"50000", "50"},
		{"79950", "50"},
		{"80000", "80"},
		{"1000000", "80"},
	}

	for _, tc := range cases {
		t.Run(tc.price, func(t *testing.T) {
			assert.True(t, table.StepFor(d(tc.price)).Equal(d(tc.step)), "step for %s", tc.price)
		})
	}
}

func TestSnapToStep_Scenarios(t *testing.T) {
	table := Default()

	assert.True(t, table.SnapToStep(d("1234")).Equal(d("1234")))
	assert.True(t, table.SnapToStep(d("23.004")).Equal(d("23.00")))
	assert.True(t, table.SnapToStep(d("23.005")).Equal(d("23.01")))
	assert.True(t, table.SnapToStep(d("1234.4")).Equal(d("1234")))
	assert.True(t, table.SnapToStep(d("5003")).Equal(d("5005")))
	assert.True(t, table.SnapToStep(d("49990")).Equal(d("50000")))
}

func TestIsOnStep(t *testing.T) {
	table := Default()

	assert.True(t, table.IsOnStep(d("23.01")))
	assert.False(t, table.IsOnStep(d("23.015")))
	assert.True(t, table.IsOnStep(d("5005")))
	assert.False(t, table.IsOnStep(d("5003")))
	assert.False(t, table.IsOnStep(d("1000.5")))
}

func TestIncrementDecrement(t *testing.T) {
	table := Default()

	assert.True(t, table.Increment(d("999.99")).Equal(d("1000")))
	assert.True(t, table.Increment(d("4999")).Equal(d("5000")))
	assert.True(t, table.Increment(d("5000")).Equal(d("5005")))

	assert.True(t, table.Decrement(d("1000")).Equal(d("999.99")))
	assert.True(t, table.Decrement(d("5000")).Equal(d("4999")))
	assert.True(t, table.Decrement(d("80000")).Equal(d("79950")))
	assert.True(t, table.Decrement(d("5010")).Equal(d("5005")))
	assert.True(t, table.Decrement(d("0.01")).Equal(d("0.01")))
	assert.True(t, table.Decrement(d("0.004")).Equal(d("0.01")))
	assert.True(t, table.Decrement(decimal.Zero).Equal(d("0.01")))
}

func TestNewTable_Validation(t *testing.T) {
	_, err := NewTable(nil)
	assert.ErrorIs(t, err, ErrEmptyTable)

	_, err = NewTable([]Tier{{From: d("1"), Step: d("1")}})
	assert.ErrorIs(t, err, ErrFirstTierNotZero)

	_, err = NewTable([]Tier{{From: d("0"), Step: d("1")}, {From: d("0"), Step: d("2")}})
	assert.ErrorIs(t, err, ErrTierOrder)

	_, err = NewTable([]Tier{{From: d("0"), Step: d("0")}})
	assert.ErrorIs(t, err, ErrInvalidTierStep)

	table, err := NewTable([]Tier{{From: d("0"), Step: d("0.5")}, {From: d("100"), Step: d("5")}})
	require.NoError(t, err)
	assert.True(t, table.StepFor(d("150")).Equal(d("5")))
	assert.Len(t, table.Tiers(), 2)
}

func genPrice() *rapid.Generator[decimal.Decimal] {
	return rapid.Custom(func(t *rapid.T) decimal.Decimal {
		units := rapid.Int64Range(1, 2_000_000_000).Draw(t, "units")
		exp := rapid.Int32Range(-4, 0).Draw(t, "exp")
		return decimal.New(units, exp)
	})
}

func TestProperty_SnapToStepIdempotent(t *testing.T) {
	table := Default()
	rapid.Check(t, func(t *rapid.T) {
		p := genPrice().Draw(t, "price")
		once := table.SnapToStep(p)
		twice := table.SnapToStep(once)
		if !once.Equal(twice) {
			t.Fatalf("snap not idempotent: p=%s once=%s twice=%s", p, once, twice)
		}
		if !table.IsOnStep(once) {
			t.Fatalf("snapped price %s is not on step %s", once, table.StepFor(once))
		}
	})
}

func TestProperty_StepForMonotonic(t *testing.T) {
	table := Default()
	rapid.Check(t, func(t *rapid.T) {
		a := genPrice().Draw(t, "a")
		b := genPrice().Draw(t, "b")
		if b.LessThan(a) {
			a, b = b, a
		}
		if table.StepFor(a).GreaterThan(table.StepFor(b)) {
			t.Fatalf("step not monotonic: step(%s)=%s > step(%s)=%s", a, table.StepFor(a), b, table.StepFor(b))
		}
	})
}

func TestProperty_IncrementThenDecrement(t *testing.T) {
	table := Default()
	rapid.Check(t, func(t *rapid.T) {
		p := table.SnapToStep(genPrice().Draw(t, "price"))
		if !p.IsPositive() {
			t.Skip("snapped to zero")
		}
		up := table.Increment(p)
		if !table.IsOnStep(up) {
			t.Fatalf("increment %s -> %s is off step", p, up)
		}
		if back := table.Decrement(up); !back.Equal(p) {
			t.Fatalf("decrement(increment(%s)) = %s", p, back)
		}
	})
}

func TestProperty_DecrementStaysPositive(t *testing.T) {
	table := Default()
	rapid.Check(t, func(t *rapid.T) {
		p := genPrice().Draw(t, "price")
		if down := table.Decrement(p); !down.IsPositive() {
			t.Fatalf("decrement(%s) = %s", p, down)
		}
	})
}
