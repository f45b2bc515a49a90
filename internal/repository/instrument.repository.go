package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/krobus00/broker-gateway/internal/entity"
)

var instrumentColumns = []string{
	"id",
	"symbol",
	"venue_symbol",
	"class",
	"currency",
	"created_at",
	"updated_at",
}

type InstrumentRepository struct {
	db *sqlx.DB
}

func NewInstrumentRepository(db *sqlx.DB) *InstrumentRepository {
	return &InstrumentRepository{db: db}
}

func (r *InstrumentRepository) GetAll(ctx context.Context) (entity.Catalog, error) {
	query, args, err := selectInstrumentsQuery().ToSql()
	if err != nil {
		return nil, err
	}

	var entries []entity.CatalogEntry
	err = r.db.SelectContext(ctx, &entries, query, args...)
	if err != nil {
		return nil, err
	}

	catalog := make(entity.Catalog, len(entries))
	for _, entry := range entries {
		entry.Symbol = entity.CanonicalSymbol(entry.Symbol)
		entry.VenueSymbol = strings.ToUpper(strings.TrimSpace(entry.VenueSymbol))
		catalog[entry.Symbol] = entry
	}

	return catalog, nil
}

// GetBySymbol returns nil without error when the symbol is not catalogued.
func (r *InstrumentRepository) GetBySymbol(ctx context.Context, symbol string) (*entity.CatalogEntry, error) {
	query, args, err := selectInstrumentsQuery().
		Where(sq.Eq{"symbol": entity.CanonicalSymbol(symbol)}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, err
	}

	var entry entity.CatalogEntry
	err = r.db.GetContext(ctx, &entry, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &entry, nil
}

func selectInstrumentsQuery() sq.SelectBuilder {
	return sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select(instrumentColumns...).
		From(entity.CatalogEntry{}.TableName()).
		OrderBy("symbol ASC")
}
