package lifecycle

import (
	"testing"
	"time"

	"github.com/krobus00/broker-gateway/internal/entity"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var now = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func exec(qty int64) entity.Execution {
	return entity.NewExecution(decimal.NewFromInt(1000), decimal.NewFromInt(qty), now)
}

func order(requested int64) entity.Order {
	return entity.Order{
		ID:                "o-1",
		Symbol:            "APU",
		Side:              entity.OrderSideBuy,
		Type:              entity.OrderTypeLimit,
		TimeInForce:       entity.TimeInForceGTC,
		RequestedQuantity: decimal.NewFromInt(requested),
		Status:            entity.OrderStatusPending,
	}
}

func TestReconcile_PartialOverridesVenueStatus(t *testing.T) {
	next, err := Reconcile(order(100), entity.OrderStatusReport{
		Status:     "COMPLETED",
		Executions: []entity.Execution{exec(30), exec(20)},
	}, now)
	require.NoError(t, err)

	assert.Equal(t, "50", next.CumulativeFilledQuantity.String())
	assert.True(t, next.IsPartial())
	assert.Equal(t, entity.OrderStatusPartiallyFilled, next.Status)
}

func TestReconcile_FullFillCompletes(t *testing.T) {
	next, err := Reconcile(order(50), entity.OrderStatusReport{
		Status:     "PARTIAL",
		Executions: []entity.Execution{exec(30), exec(20)},
	}, now)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusCompleted, next.Status)
	assert.False(t, next.IsPartial())
}

func TestReconcile_CancelledMidFillKeepsFills(t *testing.T) {
	next, err := Reconcile(order(100), entity.OrderStatusReport{
		Status:     "CANCELED",
		Executions: []entity.Execution{exec(30)},
	}, now)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusCancelled, next.Status)
	assert.True(t, next.IsPartial())
	assert.Equal(t, "30", next.CumulativeFilledQuantity.String())
}

func TestReconcile_Expired(t *testing.T) {
	next, err := Reconcile(order(100), entity.OrderStatusReport{Status: "EXPIRED"}, now)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusExpired, next.Status)
}

func TestReconcile_UnknownStatusFallsBackToQuantities(t *testing.T) {
	next, err := Reconcile(order(100), entity.OrderStatusReport{Status: "WHATEVER"}, now)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusPending, next.Status)
}

func TestReconcile_TerminalIsFinal(t *testing.T) {
	current := order(100)
	current.Status = entity.OrderStatusCancelled

	next, err := Reconcile(current, entity.OrderStatusReport{Status: "PENDING"}, now)
	assert.ErrorIs(t, err, entity.ErrOrderTerminal)
	assert.Equal(t, entity.OrderStatusCancelled, next.Status)
}

func TestReconcile_ShorterExecutionListIgnored(t *testing.T) {
	current, err := Reconcile(order(100), entity.OrderStatusReport{Executions: []entity.Execution{exec(30), exec(20)}}, now)
	require.NoError(t, err)

	next, err := Reconcile(current, entity.OrderStatusReport{Status: "NEW", Executions: []entity.Execution{exec(30)}}, now)
	require.NoError(t, err)
	assert.Len(t, next.Executions, 2)
	assert.Equal(t, "50", next.CumulativeFilledQuantity.String())
	assert.Equal(t, entity.OrderStatusPartiallyFilled, next.Status)
}

func TestReconcile_RejectsInconsistentReports(t *testing.T) {
	_, err := Reconcile(order(10), entity.OrderStatusReport{Executions: []entity.Execution{exec(30)}}, now)
	assert.ErrorIs(t, err, ErrOverfilled)

	_, err = Reconcile(order(10), entity.OrderStatusReport{Executions: []entity.Execution{exec(0)}}, now)
	assert.ErrorIs(t, err, ErrInvalidExecution)
}

func TestReconcile_DoesNotAliasReport(t *testing.T) {
	report := entity.OrderStatusReport{Executions: []entity.Execution{exec(30)}}
	next, err := Reconcile(order(100), report, now)
	require.NoError(t, err)

	report.Executions[0].Quantity = decimal.NewFromInt(99)
	assert.Equal(t, "30", next.Executions[0].Quantity.String())
}

func TestFromSummary(t *testing.T) {
	price := decimal.NewFromInt(1000)
	o := FromSummary(entity.OrderSummary{
		ID:                "o-9",
		Symbol:            "APU",
		Side:              entity.OrderSideSell,
		Type:              entity.OrderTypeLimit,
		TimeInForce:       entity.TimeInForceGTC,
		RequestedQuantity: decimal.NewFromInt(10),
		RequestedPrice:    &price,
		FilledQuantity:    decimal.NewFromInt(4),
		Status:            "PARTIAL",
	}, now)

	assert.Equal(t, "o-9", o.ID)
	assert.Equal(t, entity.OrderStatusPending, o.Status)
	assert.True(t, o.CumulativeFilledQuantity.IsZero())
	require.NotNil(t, o.RequestedPrice)
	assert.Equal(t, "1000", o.RequestedPrice.String())
}

// Property: after every reconciliation the cumulative fill equals the sum of
// executions, partial classification follows quantities and terminal states
// never change.
func TestReconcile_Properties(t *testing.T) {
	statuses := []string{"PENDING", "NEW", "PARTIAL", "FILLED", "COMPLETED", "CANCELLED", "EXPIRED", "REJECTED", "???"}

	rapid.Check(t, func(t *rapid.T) {
		requested := rapid.Int64Range(1, 500).Draw(t, "requested")
		current := order(requested)
		steps := rapid.IntRange(1, 8).Draw(t, "steps")

		var executions []entity.Execution
		for i := 0; i < steps; i++ {
			for j := rapid.IntRange(0, 3).Draw(t, "fills"); j > 0; j-- {
				executions = append(executions, exec(rapid.Int64Range(1, 200).Draw(t, "qty")))
			}
			report := entity.OrderStatusReport{
				Status:     rapid.SampledFrom(statuses).Draw(t, "status"),
				Executions: append([]entity.Execution(nil), executions...),
			}

			next, err := Reconcile(current, report, now)
			if current.Status.IsTerminal() {
				if err == nil || next.Status != current.Status {
					t.Fatalf("terminal order %s changed to %s", current.Status, next.Status)
				}
				continue
			}
			if err != nil {
				if next.Status != current.Status || !next.CumulativeFilledQuantity.Equal(current.CumulativeFilledQuantity) {
					t.Fatalf("rejected report mutated the order")
				}
				continue
			}

			if !next.CumulativeFilledQuantity.Equal(entity.SumExecutionQuantity(next.Executions)) {
				t.Fatalf("cumulative %s != sum %s", next.CumulativeFilledQuantity, entity.SumExecutionQuantity(next.Executions))
			}
			if next.CumulativeFilledQuantity.GreaterThan(next.RequestedQuantity) || next.CumulativeFilledQuantity.IsNegative() {
				t.Fatalf("cumulative %s out of bounds", next.CumulativeFilledQuantity)
			}
			if next.IsPartial() != (next.CumulativeFilledQuantity.IsPositive() && next.CumulativeFilledQuantity.LessThan(next.RequestedQuantity)) {
				t.Fatalf("partial classification mismatch")
			}
			if next.CumulativeFilledQuantity.Equal(next.RequestedQuantity) && next.Status != entity.OrderStatusCompleted {
				t.Fatalf("fully filled order has status %s", next.Status)
			}
			current = next
		}
	})
}
