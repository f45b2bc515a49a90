// Package orderbook turns the venue's raw book rows into ranked, de-duplicated
// price levels.
package orderbook

import (
	"strings"
	"time"

	"github.com/google/btree"
	"github.com/krobus00/broker-gateway/internal/entity"
	"github.com/shopspring/decimal"
)

const (
	DefaultDepth = 10
	treeDegree   = 16
)

type level struct {
	price decimal.Decimal
	size  decimal.Decimal
}

func levelLess(a, b level) bool {
	return a.price.LessThan(b.price)
}

// sideTree accumulates sizes per price. Rows at the same price collapse into
// one level.
type sideTree struct {
	tree *btree.BTreeG[level]
}

func newSideTree() *sideTree {
	return &sideTree{tree: btree.NewG[level](treeDegree, levelLess)}
}

func (s *sideTree) add(price, size decimal.Decimal) {
	key := level{price: price}
	if existing, ok := s.tree.Get(key); ok {
		existing.size = existing.size.Add(size)
		s.tree.ReplaceOrInsert(existing)
		return
	}
	s.tree.ReplaceOrInsert(level{price: price, size: size})
}

// top returns up to n levels. Bids walk from the highest price, asks from the
// lowest.
func (s *sideTree) top(n int, descending bool) entity.OrderBookSideView {
	if s.tree.Len() == 0 {
		return entity.OrderBookSideView{NoOrders: true}
	}

	levels := make([]entity.OrderBookLevel, 0, min(n, s.tree.Len()))
	visit := func(l level) bool {
		if len(levels) >= n {
			return false
		}
		levels = append(levels, entity.OrderBookLevel{
			Rank:  len(levels) + 1,
			Price: l.price,
			Size:  l.size,
		})
		return true
	}

	if descending {
		s.tree.Descend(visit)
	} else {
		s.tree.Ascend(visit)
	}

	return entity.OrderBookSideView{Levels: levels}
}

type Aggregator struct {
	depth int
	now   func() time.Time
}

func NewAggregator(depth int) *Aggregator {
	if depth <= 0 {
		depth = DefaultDepth
	}
	return &Aggregator{depth: depth, now: time.Now}
}

func (a *Aggregator) Depth() int {
	return a.depth
}

// Aggregate builds the ranked view for symbol. Rows for other symbols, rows
// with an unknown side and rows whose price or size is not positive are
// ignored.
func (a *Aggregator) Aggregate(symbol string, rows []entity.RawBookEntry) entity.OrderBookView {
	bids := newSideTree()
	asks := newSideTree()

	for _, row := range rows {
		if row.Symbol != "" && !strings.EqualFold(row.Symbol, symbol) {
			continue
		}
		if !row.Price.IsPositive() || !row.Size.IsPositive() {
			continue
		}

		switch entity.BookSide(strings.ToUpper(string(row.Side))) {
		case entity.BookSideBuy:
			bids.add(row.Price, row.Size)
		case entity.BookSideSell:
			asks.add(row.Price, row.Size)
		}
	}

	view := entity.OrderBookView{
		Symbol:    symbol,
		Bids:      bids.top(a.depth, true),
		Asks:      asks.top(a.depth, false),
		UpdatedAt: a.now(),
	}

	if !view.Bids.NoOrders {
		best := view.Bids.Levels[0].Price
		view.BestBid = &best
	}
	if !view.Asks.NoOrders {
		best := view.Asks.Levels[0].Price
		view.BestAsk = &best
	}
	if view.BestBid != nil && view.BestAsk != nil {
		spread := view.BestAsk.Sub(*view.BestBid)
		view.Spread = &spread
	}

	return view
}
