package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"

	"github.com/sand/netdisk-market-ledger/backend/internal/entities"
	"github.com/sand/netdisk-market-ledger/backend/pkg/database"
)

// ListingsRepository reads the priced catalog entries orders are built from.
// The catalog itself is maintained by the out-of-scope listing system.
type ListingsRepository struct {
	logger *slog.Logger
	db     tx.DBGetter
}

func NewListingsRepository(logger *slog.Logger, pg *database.Postgres) *ListingsRepository {
	return &ListingsRepository{logger: logger, db: pg.DBGetter}
}

// FindLive returns the listing when it exists and is purchasable, nil otherwise.
func (r *ListingsRepository) FindLive(ctx context.Context, listingID int64) (*entities.Listing, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT id, seller_id, title, price_cents, platform_split, seller_split, status
           FROM listings
          WHERE id = $1 AND status = $2`, listingID, entities.ListingLive)
	if err != nil {
		return nil, fmt.Errorf("failed to query listing %d: %w", listingID, err)
	}

	listing, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[entities.Listing])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to collect listing row: %w", err)
	}

	return &listing, nil
}
