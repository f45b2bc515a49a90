package orderbook

import (
	"testing"

	"github.com/krobus00/broker-gateway/internal/entity"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func row(side entity.BookSide, price, size string) entity.RawBookEntry {
	return entity.RawBookEntry{
		Symbol: "APU",
		Side:   side,
		Price:  decimal.RequireFromString(price),
		Size:   decimal.RequireFromString(size),
	}
}

func prices(levels []entity.OrderBookLevel) []string {
	out := make([]string, 0, len(levels))
	for _, l := range levels {
		out = append(out, l.Price.String())
	}
	return out
}

func TestAggregate_SortsAndRanks(t *testing.T) {
	agg := NewAggregator(10)
	view := agg.Aggregate("APU", []entity.RawBookEntry{
		row(entity.BookSideBuy, "990", "5"),
		row(entity.BookSideSell, "1010", "2"),
		row(entity.BookSideBuy, "995", "1"),
		row(entity.BookSideSell, "1005", "4"),
		row(entity.BookSideBuy, "980", "7"),
	})

	assert.Equal(t, []string{"995", "990", "980"}, prices(view.Bids.Levels))
	assert.Equal(t, []string{"1005", "1010"}, prices(view.Asks.Levels))
	for i, l := range view.Bids.Levels {
		assert.Equal(t, i+1, l.Rank)
	}

	require.NotNil(t, view.BestBid)
	require.NotNil(t, view.BestAsk)
	require.NotNil(t, view.Spread)
	assert.Equal(t, "995", view.BestBid.String())
	assert.Equal(t, "1005", view.BestAsk.String())
	assert.Equal(t, "10", view.Spread.String())
}

func TestAggregate_SumsDuplicatePrices(t *testing.T) {
	view := NewAggregator(10).Aggregate("APU", []entity.RawBookEntry{
		row(entity.BookSideBuy, "990", "5"),
		row(entity.BookSideBuy, "990.00", "3"),
		row(entity.BookSideSell, "990", "1"),
	})

	require.Len(t, view.Bids.Levels, 1)
	assert.True(t, view.Bids.Levels[0].Size.Equal(decimal.NewFromInt(8)))
	require.Len(t, view.Asks.Levels, 1)
	assert.True(t, view.Asks.Levels[0].Size.Equal(decimal.NewFromInt(1)))
}

func TestAggregate_TruncatesToDepth(t *testing.T) {
	rows := []entity.RawBookEntry{}
	for _, p := range []string{"1", "2", "3", "4", "5", "6"} {
		rows = append(rows, row(entity.BookSideBuy, p, "1"), row(entity.BookSideSell, p, "1"))
	}

	view := NewAggregator(3).Aggregate("APU", rows)
	assert.Equal(t, []string{"6", "5", "4"}, prices(view.Bids.Levels))
	assert.Equal(t, []string{"1", "2", "3"}, prices(view.Asks.Levels))
}

func TestAggregate_EmptySideMarker(t *testing.T) {
	view := NewAggregator(5).Aggregate("APU", []entity.RawBookEntry{
		row(entity.BookSideSell, "1005", "4"),
	})

	assert.True(t, view.Bids.NoOrders)
	assert.Empty(t, view.Bids.Levels)
	assert.Nil(t, view.BestBid)
	assert.Nil(t, view.Spread)
	assert.False(t, view.Asks.NoOrders)

	empty := NewAggregator(5).Aggregate("APU", nil)
	assert.True(t, empty.Bids.NoOrders)
	assert.True(t, empty.Asks.NoOrders)
}

func TestAggregate_DropsInvalidRows(t *testing.T) {
	other := row(entity.BookSideBuy, "999", "1")
	other.Symbol = "TTL"

	view := NewAggregator(5).Aggregate("APU", []entity.RawBookEntry{
		row(entity.BookSideBuy, "0", "5"),
		row(entity.BookSideBuy, "990", "0"),
		row(entity.BookSideBuy, "990", "-1"),
		row("HOLD", "990", "1"),
		other,
		row("buy", "980", "2"),
	})

	assert.Equal(t, []string{"980"}, prices(view.Bids.Levels))
	assert.True(t, view.Asks.NoOrders)
}

func TestNewAggregator_DefaultDepth(t *testing.T) {
	assert.Equal(t, DefaultDepth, NewAggregator(0).Depth())
}

// Property: bids are strictly descending, asks strictly ascending, depth is
// respected and the total size of the visible levels never exceeds the input.
func TestAggregate_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		depth := rapid.IntRange(1, 20).Draw(t, "depth")
		n := rapid.IntRange(0, 60).Draw(t, "rows")

		rows := make([]entity.RawBookEntry, 0, n)
		total := map[entity.BookSide]decimal.Decimal{
			entity.BookSideBuy:  decimal.Zero,
			entity.BookSideSell: decimal.Zero,
		}
		for i := 0; i < n; i++ {
			side := entity.BookSideBuy
			if rapid.Bool().Draw(t, "sell") {
				side = entity.BookSideSell
			}
			price := decimal.NewFromInt(rapid.Int64Range(1, 30).Draw(t, "price"))
			size := decimal.NewFromInt(rapid.Int64Range(1, 1000).Draw(t, "size"))
			total[side] = total[side].Add(size)
			rows = append(rows, entity.RawBookEntry{Symbol: "APU", Side: side, Price: price, Size: size})
		}

		view := NewAggregator(depth).Aggregate("APU", rows)

		check := func(side entity.OrderBookSideView, descending bool, sum decimal.Decimal) {
			if sum.IsZero() {
				if !side.NoOrders || len(side.Levels) != 0 {
					t.Fatalf("empty side must carry the no-orders marker")
				}
				return
			}
			if side.NoOrders || len(side.Levels) == 0 || len(side.Levels) > depth {
				t.Fatalf("unexpected level count %d for depth %d", len(side.Levels), depth)
			}
			visible := decimal.Zero
			for i, l := range side.Levels {
				visible = visible.Add(l.Size)
				if i == 0 {
					continue
				}
				prev := side.Levels[i-1].Price
				if descending && !prev.GreaterThan(l.Price) {
					t.Fatalf("bids not strictly descending: %s then %s", prev, l.Price)
				}
				if !descending && !prev.LessThan(l.Price) {
					t.Fatalf("asks not strictly ascending: %s then %s", prev, l.Price)
				}
			}
			if visible.GreaterThan(sum) {
				t.Fatalf("visible size %s exceeds input %s", visible, sum)
			}
		}

		check(view.Bids, true, total[entity.BookSideBuy])
		check(view.Asks, false, total[entity.BookSideSell])
	})
}
