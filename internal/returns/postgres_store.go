package returns

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/errs"
)

type PostgresStore struct{ DB *pgxpool.Pool }

const returnColumns = `id, return_code, order_id, type, status, reason, return_value_cents, refund_amount_cents, version, created_at, updated_at`

func scanReturn(row pgx.Row) (Return, error) {
	var r Return
	var typ, status string
	err := row.Scan(&r.ID, &r.ReturnCode, &r.OrderID, &typ, &status, &r.Reason,
		&r.ReturnValueCents, &r.RefundAmountCents, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return Return{}, err
	}
	r.Type, r.Status = Type(typ), Status(status)
	return r, nil
}

func (s *PostgresStore) Insert(ctx context.Context, r Return) (Return, bool, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Return{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// satu RTO per order; index unik parsial returns_one_rto_per_order
	ct, err := tx.Exec(ctx, `
		INSERT INTO returns(id, return_code, order_id, type, status, reason, return_value_cents, refund_amount_cents, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (order_id) WHERE type = 'rto' DO NOTHING`,
		r.ID, r.ReturnCode, r.OrderID, string(r.Type), string(r.Status), r.Reason,
		r.ReturnValueCents, r.RefundAmountCents, r.Version, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return Return{}, false, fmt.Errorf("insert return: %w", err)
	}
	if ct.RowsAffected() == 0 {
		_ = tx.Rollback(ctx)
		existing, err := s.one(ctx, `SELECT `+returnColumns+` FROM returns WHERE order_id=$1 AND type='rto'`, "rto", r.OrderID)
		return existing, err == nil, err
	}
	for _, it := range r.Items {
		if _, err := tx.Exec(ctx, `INSERT INTO return_items(return_id, sku, qty, unit_price_cents) VALUES ($1,$2,$3,$4)`,
			r.ID, it.SKU, it.Qty, it.UnitPriceCents); err != nil {
			return Return{}, false, fmt.Errorf("insert return item %s: %w", it.SKU, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Return{}, false, err
	}
	return r.clone(), false, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Return, error) {
	return s.one(ctx, `SELECT `+returnColumns+` FROM returns WHERE id=$1`, "return", id)
}

func (s *PostgresStore) GetByCode(ctx context.Context, code string) (Return, error) {
	return s.one(ctx, `SELECT `+returnColumns+` FROM returns WHERE return_code=$1`, "return code", code)
}

func (s *PostgresStore) ListByOrder(ctx context.Context, orderID string) ([]Return, error) {
	return s.list(ctx, `SELECT `+returnColumns+` FROM returns WHERE order_id=$1 ORDER BY created_at, id`, orderID)
}

func (s *PostgresStore) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]Return, error) {
	return s.list(ctx, `SELECT `+returnColumns+` FROM returns WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at, id`, from, to)
}

func (s *PostgresStore) Update(ctx context.Context, r Return, expectedVersion int) (Return, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE returns SET status=$3, refund_amount_cents=$4, updated_at=$5, version=version+1
		WHERE id=$1 AND version=$2`,
		r.ID, expectedVersion, string(r.Status), r.RefundAmountCents, r.UpdatedAt)
	if err != nil {
		return Return{}, fmt.Errorf("update return %s: %w", r.ID, err)
	}
	if ct.RowsAffected() == 0 {
		if _, err := s.Get(ctx, r.ID); err != nil {
			return Return{}, err
		}
		return Return{}, errs.ErrConcurrentModification
	}
	return s.Get(ctx, r.ID)
}

func (s *PostgresStore) one(ctx context.Context, sql, kind, key string) (Return, error) {
	r, err := scanReturn(s.DB.QueryRow(ctx, sql, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return Return{}, errs.NotFound(kind, key)
	}
	if err != nil {
		return Return{}, err
	}
	out := []Return{r}
	if err := s.loadItems(ctx, out); err != nil {
		return Return{}, err
	}
	return out[0], nil
}

func (s *PostgresStore) list(ctx context.Context, sql string, args ...any) ([]Return, error) {
	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	var out []Return
	for rows.Next() {
		r, err := scanReturn(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, s.loadItems(ctx, out)
}

func (s *PostgresStore) loadItems(ctx context.Context, rs []Return) error {
	if len(rs) == 0 {
		return nil
	}
	ids := make([]string, len(rs))
	idx := make(map[string]int, len(rs))
	for i, r := range rs {
		ids[i] = r.ID
		idx[r.ID] = i
	}
	rows, err := s.DB.Query(ctx, `SELECT return_id, sku, qty, unit_price_cents FROM return_items WHERE return_id = ANY($1) ORDER BY return_id, sku`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var it Item
		if err := rows.Scan(&id, &it.SKU, &it.Qty, &it.UnitPriceCents); err != nil {
			return err
		}
		rs[idx[id]].Items = append(rs[idx[id]].Items, it)
	}
	return rows.Err()
}
