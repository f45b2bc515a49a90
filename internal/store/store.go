// Package store holds the per-session state read by every component: the
// selected instrument's market snapshot, the account state and the tracked
// orders.
//
// Each entity has a single writer. Market and account data are written by the
// sync scheduler, orders by the lifecycle tracker and the placement and
// cancellation workflows. Writes carry a ticket issued before the venue call
// so that a response overtaken by a newer one is dropped with
// entity.ErrStaleData.
package store

import (
	"sort"
	"sync"

	"github.com/krobus00/broker-gateway/internal/entity"
)

type ChangeKind string

const (
	ChangeSelection ChangeKind = "selection"
	ChangeMarket    ChangeKind = "orderbook"
	ChangeAccount   ChangeKind = "account"
	ChangeOrder     ChangeKind = "order"
)

type Change struct {
	Kind    ChangeKind
	OrderID string
}

// MarketTicket identifies one market refresh. Generation changes whenever the
// selected instrument changes.
type MarketTicket struct {
	Symbol     string
	Generation uint64
	Seq        uint64
}

type trackedOrder struct {
	order    entity.Order
	position uint64
	issued   uint64
	applied  uint64
}

type Store struct {
	mu sync.RWMutex

	symbol        string
	generation    uint64
	marketIssued  uint64
	marketApplied uint64
	market        *entity.MarketSnapshot

	accountIssued  uint64
	accountApplied uint64
	account        *entity.AccountState

	orders    map[string]*trackedOrder
	positions uint64

	subMu       sync.Mutex
	subscribers map[uint64]chan Change
	nextSub     uint64
	closed      bool
}

func New() *Store {
	return &Store{
		orders:      make(map[string]*trackedOrder),
		subscribers: make(map[uint64]chan Change),
	}
}

// Select makes symbol the selected instrument and drops the previous
// instrument's snapshot. Tickets issued before the call become stale.
func (s *Store) Select(symbol string) uint64 {
	s.mu.Lock()
	s.symbol = symbol
	s.generation++
	s.market = nil
	generation := s.generation
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeSelection})
	return generation
}

func (s *Store) Deselect() {
	s.mu.Lock()
	s.symbol = ""
	s.generation++
	s.market = nil
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeSelection})
}

func (s *Store) Selection() (string, uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.symbol, s.generation, s.symbol != ""
}

func (s *Store) IssueMarketTicket() (MarketTicket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.symbol == "" {
		return MarketTicket{}, false
	}
	s.marketIssued++

	return MarketTicket{Symbol: s.symbol, Generation: s.generation, Seq: s.marketIssued}, true
}

func (s *Store) ApplyMarket(ticket MarketTicket, snapshot entity.MarketSnapshot) error {
	s.mu.Lock()
	if ticket.Generation != s.generation || ticket.Symbol != s.symbol || ticket.Seq <= s.marketApplied {
		s.mu.Unlock()
		return entity.ErrStaleData
	}
	s.marketApplied = ticket.Seq
	s.market = &snapshot
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeMarket})
	return nil
}

func (s *Store) Market() (entity.MarketSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.market == nil {
		return entity.MarketSnapshot{}, false
	}
	return *s.market, true
}

// Instrument returns the selected instrument with the user's held quantity
// taken from the latest account state.
func (s *Store) Instrument() (*entity.Instrument, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.market == nil {
		return nil, false
	}

	instrument := s.market.Instrument
	instrument.HeldQuantity = nil
	if s.account != nil {
		instrument.HeldQuantity = s.account.HeldQuantity(instrument.Symbol)
	}
	return &instrument, true
}

func (s *Store) IssueAccountTicket() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accountIssued++
	return s.accountIssued
}

func (s *Store) ApplyAccount(seq uint64, state entity.AccountState) error {
	s.mu.Lock()
	if seq <= s.accountApplied {
		s.mu.Unlock()
		return entity.ErrStaleData
	}
	s.accountApplied = seq
	s.account = &state
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeAccount})
	return nil
}

func (s *Store) Account() (entity.AccountState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.account == nil {
		return entity.AccountState{}, false
	}
	return *s.account, true
}

// Track starts tracking order. It returns false without touching the store
// when the order is already tracked.
func (s *Store) Track(order entity.Order) bool {
	s.mu.Lock()
	if _, ok := s.orders[order.ID]; ok {
		s.mu.Unlock()
		return false
	}
	s.positions++
	s.orders[order.ID] = &trackedOrder{order: *order.Clone(), position: s.positions}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeOrder, OrderID: order.ID})
	return true
}

func (s *Store) Order(id string) (entity.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tracked, ok := s.orders[id]
	if !ok {
		return entity.Order{}, entity.ErrOrderNotFound
	}
	return *tracked.order.Clone(), nil
}

// Orders returns every tracked order, most recently submitted first.
func (s *Store) Orders() []entity.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tracked := s.sortedLocked()
	orders := make([]entity.Order, 0, len(tracked))
	for _, t := range tracked {
		orders = append(orders, *t.order.Clone())
	}
	return orders
}

// ActiveOrderIDs returns up to limit non-terminal order ids, most recently
// submitted first, ties broken by tracking order. A limit of zero or less returns all of them.
func (s *Store) ActiveOrderIDs(limit int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for _, t := range s.sortedLocked() {
		if t.order.Status.IsTerminal() {
			continue
		}
		if limit > 0 && len(ids) >= limit {
			break
		}
		ids = append(ids, t.order.ID)
	}
	return ids
}

func (s *Store) ActiveOrderCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, t := range s.orders {
		if !t.order.Status.IsTerminal() {
			count++
		}
	}
	return count
}

func (s *Store) sortedLocked() []*trackedOrder {
	tracked := make([]*trackedOrder, 0, len(s.orders))
	for _, t := range s.orders {
		tracked = append(tracked, t)
	}
	sort.Slice(tracked, func(i, j int) bool {
		a, b := tracked[i], tracked[j]
		if !a.order.SubmittedAt.Equal(b.order.SubmittedAt) {
			return a.order.SubmittedAt.After(b.order.SubmittedAt)
		}
		return a.position > b.position
	})
	return tracked
}

// IssueOrderTicket returns the sequence number for the next poll of id.
func (s *Store) IssueOrderTicket(id string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tracked, ok := s.orders[id]
	if !ok {
		return 0, entity.ErrOrderNotFound
	}
	if tracked.order.Status.IsTerminal() {
		return 0, entity.ErrOrderTerminal
	}
	tracked.issued++
	return tracked.issued, nil
}

// ApplyOrder replaces the tracked order with updated when seq is newer than
// the last applied poll. Terminal orders are never replaced.
func (s *Store) ApplyOrder(id string, seq uint64, updated entity.Order) error {
	s.mu.Lock()
	tracked, ok := s.orders[id]
	if !ok {
		s.mu.Unlock()
		return entity.ErrOrderNotFound
	}
	if tracked.order.Status.IsTerminal() {
		s.mu.Unlock()
		return entity.ErrOrderTerminal
	}
	if seq <= tracked.applied {
		s.mu.Unlock()
		return entity.ErrStaleData
	}
	tracked.applied = seq
	updated.ID = id
	tracked.order = *updated.Clone()
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeOrder, OrderID: id})
	return nil
}

// Subscribe registers a listener for changes. Slow listeners miss changes
// rather than block writers. The returned func unregisters the listener.
func (s *Store) Subscribe(buffer int) (<-chan Change, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Change, buffer)

	s.subMu.Lock()
	defer s.subMu.Unlock()

	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			if _, ok := s.subscribers[id]; ok {
				delete(s.subscribers, id)
				close(ch)
			}
		})
	}
}

func (s *Store) notify(change Change) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subscribers {
		select {
		case ch <- change:
		default:
		}
	}
}

// Close closes every subscriber channel.
func (s *Store) Close() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
}
