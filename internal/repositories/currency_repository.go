package repositories

import (
	"context"
	"database/sql"
)

type CurrencyRepository interface {
	// Precisions returns the decimal places of every known currency.
	Precisions(ctx context.Context) (map[string]int32, error)
}

type currencyRepository struct {
	db *sql.DB
}

func NewCurrencyRepository(db *sql.DB) CurrencyRepository {
	return &currencyRepository{db: db}
}

func (r *currencyRepository) Precisions(ctx context.Context) (map[string]int32, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT code, decimal_places FROM currencies`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	precisions := make(map[string]int32)
	for rows.Next() {
		var code string
		var places int32
		if err := rows.Scan(&code, &places); err != nil {
			return nil, err
		}
		precisions[code] = places
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return precisions, nil
}
