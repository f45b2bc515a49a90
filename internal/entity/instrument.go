package entity

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type InstrumentClass string

const (
	InstrumentClassEquity InstrumentClass = "EQUITY"
	InstrumentClassBond   InstrumentClass = "BOND"
	InstrumentClassOTC    InstrumentClass = "OTC"
)

// Instrument is the market view of a symbol. HeldQuantity is nil for
// instruments the user has never held.
type Instrument struct {
	Symbol          string           `json:"symbol"`
	Class           InstrumentClass  `json:"class"`
	Currency        string           `json:"currency"`
	LastTradedPrice decimal.Decimal  `json:"last_traded_price"`
	PreviousClose   decimal.Decimal  `json:"previous_close"`
	TickSize        decimal.Decimal  `json:"tick_size"`
	HeldQuantity    *decimal.Decimal `json:"held_quantity,omitempty"`
}

// CatalogEntry is a row of the reference instrument catalogue.
type CatalogEntry struct {
	ID          string          `db:"id" json:"id"`
	Symbol      string          `db:"symbol" json:"symbol"`
	VenueSymbol string          `db:"venue_symbol" json:"venue_symbol"`
	Class       InstrumentClass `db:"class" json:"class"`
	Currency    string          `db:"currency" json:"currency"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

func (c CatalogEntry) TableName() string {
	return "instruments"
}

// Catalog maps canonical symbol to its catalogue entry.
type Catalog map[string]CatalogEntry

// CanonicalSymbol strips the exchange suffix from a venue symbol, e.g.
// "APU-O-0000" becomes "APU".
func CanonicalSymbol(raw string) string {
	symbol := strings.ToUpper(strings.TrimSpace(raw))
	if idx := strings.Index(symbol, "-"); idx > 0 {
		symbol = symbol[:idx]
	}
	return symbol
}

func (c Catalog) Entry(symbol string) (CatalogEntry, bool) {
	entry, ok := c[CanonicalSymbol(symbol)]
	return entry, ok
}

// VenueSymbol maps a canonical symbol to the symbol the venue expects. Unknown
// symbols are passed through.
func (c Catalog) VenueSymbol(symbol string) string {
	canonical := CanonicalSymbol(symbol)
	if entry, ok := c[canonical]; ok && entry.VenueSymbol != "" {
		return entry.VenueSymbol
	}
	return canonical
}

// Canonical maps a venue symbol back to its canonical form.
func (c Catalog) Canonical(venueSymbol string) string {
	normalized := strings.ToUpper(strings.TrimSpace(venueSymbol))
	for symbol, entry := range c {
		if strings.EqualFold(entry.VenueSymbol, normalized) {
			return symbol
		}
	}
	return CanonicalSymbol(normalized)
}

// Class returns the instrument class used to pick a fee rate. Symbols missing
// from the catalogue are treated as equities.
func (c Catalog) Class(symbol string) InstrumentClass {
	if entry, ok := c.Entry(symbol); ok && entry.Class != "" {
		return entry.Class
	}
	return InstrumentClassEquity
}

func (c Catalog) Currency(symbol, fallback string) string {
	if entry, ok := c.Entry(symbol); ok && entry.Currency != "" {
		return entry.Currency
	}
	return fallback
}
