package store

import (
	"context"
	"fmt"
	"strings"
)

// TrackedWallet is one entry of the tracked cohort.
type TrackedWallet struct {
	Address string
	Name    string
}

// SyncWallets replaces the tracked wallet table with wallets.
func (s *Store) SyncWallets(ctx context.Context, wallets []TrackedWallet) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning wallet sync: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tracked_wallets`); err != nil {
		return fmt.Errorf("clearing wallets: %w", err)
	}
	for _, w := range wallets {
		addr := strings.ToLower(strings.TrimSpace(w.Address))
		if addr == "" {
			continue
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tracked_wallets (address, name) VALUES (?, ?)
			ON CONFLICT(address) DO UPDATE SET name = excluded.name`,
			addr, w.Name,
		)
		if err != nil {
			return fmt.Errorf("inserting wallet %s: %w", addr, err)
		}
	}
	return tx.Commit()
}

// TrackedWallets lists the tracked cohort ordered by address.
func (s *Store) TrackedWallets(ctx context.Context) ([]TrackedWallet, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT address, name FROM tracked_wallets ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("querying wallets: %w", err)
	}
	defer rows.Close()

	var out []TrackedWallet
	for rows.Next() {
		var w TrackedWallet
		if err := rows.Scan(&w.Address, &w.Name); err != nil {
			return nil, fmt.Errorf("scanning wallet: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
