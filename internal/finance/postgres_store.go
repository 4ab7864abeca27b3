package finance

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

const txColumns = `id, order_id, type, amount_cents, status, note, created_at`

func scanTx(row pgx.Row) (Transaction, error) {
	var tx Transaction
	var typ, status string
	if err := row.Scan(&tx.ID, &tx.OrderID, &typ, &tx.AmountCents, &status, &tx.Note, &tx.CreatedAt); err != nil {
		return Transaction{}, err
	}
	tx.Type, tx.Status = TxType(typ), TxStatus(status)
	return tx, nil
}

func (s *PostgresStore) Insert(ctx context.Context, tx Transaction, onceKey string) (Transaction, bool, error) {
	var key *string
	if onceKey != "" {
		key = &onceKey
	}
	saved, err := scanTx(s.DB.QueryRow(ctx, `
		INSERT INTO financial_transactions(id, order_id, type, amount_cents, status, note, once_key, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (once_key) DO NOTHING
		RETURNING `+txColumns,
		tx.ID, tx.OrderID, string(tx.Type), tx.AmountCents, string(tx.Status), tx.Note, key, tx.CreatedAt))
	if err == nil {
		return saved, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, false, fmt.Errorf("insert transaction: %w", err)
	}
	existing, err := scanTx(s.DB.QueryRow(ctx, `SELECT `+txColumns+` FROM financial_transactions WHERE once_key=$1`, onceKey))
	if err != nil {
		return Transaction{}, false, fmt.Errorf("load transaction %s: %w", onceKey, err)
	}
	return existing, false, nil
}

func (s *PostgresStore) ListByOrder(ctx context.Context, orderID string) ([]Transaction, error) {
	return s.queryTx(ctx, `SELECT `+txColumns+` FROM financial_transactions WHERE order_id=$1 ORDER BY created_at, id`, orderID)
}

func (s *PostgresStore) ListByOrders(ctx context.Context, orderIDs []string) ([]Transaction, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}
	return s.queryTx(ctx, `SELECT `+txColumns+` FROM financial_transactions WHERE order_id = ANY($1) ORDER BY created_at, id`, orderIDs)
}

func (s *PostgresStore) ListBetween(ctx context.Context, from, to time.Time) ([]Transaction, error) {
	return s.queryTx(ctx, `SELECT `+txColumns+` FROM financial_transactions WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at, id`, from, to)
}

func (s *PostgresStore) queryTx(ctx context.Context, sql string, args ...any) ([]Transaction, error) {
	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		tx, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AddRemittance(ctx context.Context, r Remittance) (bool, error) {
	var ref *string
	if r.Ref != "" {
		ref = &r.Ref
	}
	ct, err := s.DB.Exec(ctx, `
		INSERT INTO cod_remittances(ref, order_id, courier, amount_cents, reported_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (ref) DO NOTHING`,
		ref, r.OrderID, r.Courier, r.AmountCents, r.ReportedAt)
	if err != nil {
		return false, fmt.Errorf("insert remittance: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (s *PostgresStore) RemittancesByOrders(ctx context.Context, orderIDs []string) ([]Remittance, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}
	rows, err := s.DB.Query(ctx, `
		SELECT COALESCE(ref, ''), order_id, courier, amount_cents, reported_at
		FROM cod_remittances WHERE order_id = ANY($1) ORDER BY reported_at, id`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Remittance
	for rows.Next() {
		var r Remittance
		if err := rows.Scan(&r.Ref, &r.OrderID, &r.Courier, &r.AmountCents, &r.ReportedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertMismatch(ctx context.Context, m Mismatch) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO cod_mismatches(order_id, courier, expected_cents, received_cents, variance_cents, detected_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (order_id) DO UPDATE SET
			courier = EXCLUDED.courier,
			expected_cents = EXCLUDED.expected_cents,
			received_cents = EXCLUDED.received_cents,
			variance_cents = EXCLUDED.variance_cents,
			detected_at = CASE WHEN cod_mismatches.resolved_at IS NULL THEN cod_mismatches.detected_at ELSE EXCLUDED.detected_at END,
			resolved_at = NULL,
			note = ''`,
		m.OrderID, m.Courier, m.ExpectedCents, m.ReceivedCents, m.VarianceCents, m.DetectedAt)
	return err
}

func (s *PostgresStore) Mismatches(ctx context.Context, openOnly bool) ([]Mismatch, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT order_id, courier, expected_cents, received_cents, variance_cents, detected_at, resolved_at, note
		FROM cod_mismatches
		WHERE NOT $1 OR resolved_at IS NULL
		ORDER BY order_id`, openOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Mismatch
	for rows.Next() {
		var m Mismatch
		if err := rows.Scan(&m.OrderID, &m.Courier, &m.ExpectedCents, &m.ReceivedCents, &m.VarianceCents, &m.DetectedAt, &m.ResolvedAt, &m.Note); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ResolveMismatch(ctx context.Context, orderID, note string, at time.Time) error {
	ct, err := s.DB.Exec(ctx, `UPDATE cod_mismatches SET resolved_at=$3, note=$2 WHERE order_id=$1 AND resolved_at IS NULL`, orderID, note, at)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return errs.NotFound("open mismatch", orderID)
	}
	return nil
}
