package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/errs"
)

// PostgresStore serializes writers per SKU with SELECT ... FOR UPDATE on the
// item row. Rows are always locked in SKU order.
type PostgresStore struct{ DB *pgxpool.Pool }

const itemColumns = `sku, name, category, price_cents, stock_on_hand, reserved, min_stock_level, updated_at`

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	err := row.Scan(&it.SKU, &it.Name, &it.Category, &it.PriceCents, &it.StockOnHand, &it.Reserved, &it.MinStockLevel, &it.UpdatedAt)
	return it, err
}

func (s *PostgresStore) Register(ctx context.Context, item Item) (Item, error) {
	if item.SKU == "" {
		return Item{}, errs.Invalid("sku", "is required")
	}
	row := s.DB.QueryRow(ctx, `
		INSERT INTO inventory_items(sku, name, category, price_cents, min_stock_level)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (sku) DO UPDATE
		SET name=EXCLUDED.name, category=EXCLUDED.category, price_cents=EXCLUDED.price_cents,
		    min_stock_level=EXCLUDED.min_stock_level, updated_at=now()
		RETURNING `+itemColumns,
		item.SKU, item.Name, item.Category, item.PriceCents, item.MinStockLevel)
	out, err := scanItem(row)
	if err != nil {
		return Item{}, fmt.Errorf("register %s: %w", item.SKU, err)
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, sku string) (Item, error) {
	it, err := scanItem(s.DB.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE sku=$1`, sku))
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, errs.NotFound("sku", sku)
	}
	if err != nil {
		return Item{}, fmt.Errorf("get %s: %w", sku, err)
	}
	return it, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Item, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+itemColumns+` FROM inventory_items ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Reserve: lock stok per SKU (FOR UPDATE) -> cek available -> catat hold + movement.
// Kalau ada satu item yang kurang, semua di-rollback.
func (s *PostgresStore) Reserve(ctx context.Context, orderID string, lines []Line) error {
	lines = mergeLines(lines)
	sort.Slice(lines, func(i, j int) bool { return lines[i].SKU < lines[j].SKU })
	for _, l := range lines {
		if l.Qty <= 0 {
			return errs.Invalid("qty", "must be positive for sku "+l.SKU)
		}
	}

	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var held int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM stock_holds WHERE order_id=$1`, orderID).Scan(&held); err != nil {
		return err
	}
	if held > 0 {
		return nil
	}

	for _, l := range lines {
		var onHand, reserved int
		err := tx.QueryRow(ctx, `SELECT stock_on_hand, reserved FROM inventory_items WHERE sku=$1 FOR UPDATE`, l.SKU).Scan(&onHand, &reserved)
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.NotFound("sku", l.SKU)
		}
		if err != nil {
			return fmt.Errorf("lock %s: %w", l.SKU, err)
		}
		if onHand-reserved < l.Qty {
			return &errs.InsufficientStockError{SKU: l.SKU, Requested: l.Qty, Available: onHand - reserved}
		}

		if _, err := tx.Exec(ctx, `UPDATE inventory_items SET reserved = reserved + $2, updated_at = now() WHERE sku=$1`, l.SKU, l.Qty); err != nil {
			return guardCheck(l.SKU, l.Qty, onHand-reserved, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO stock_holds(order_id, sku, qty, status) VALUES ($1,$2,$3,'reserved')`, orderID, l.SKU, l.Qty); err != nil {
			if isUniqueViolation(err) {
				return nil // a concurrent call for the same order won; ours rolls back
			}
			return err
		}
		if err := insertMovement(ctx, tx, &Movement{SKU: l.SKU, Reason: ReasonReserve, Delta: l.Qty, OrderID: orderID}); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Release(ctx context.Context, orderID string) ([]Movement, error) {
	return s.settle(ctx, orderID, HoldReleased)
}

func (s *PostgresStore) Commit(ctx context.Context, orderID string) ([]Movement, error) {
	return s.settle(ctx, orderID, HoldCommitted)
}

func (s *PostgresStore) settle(ctx context.Context, orderID string, to HoldStatus) ([]Movement, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT sku, qty FROM stock_holds
		WHERE order_id=$1 AND status='reserved'
		ORDER BY sku FOR UPDATE`, orderID)
	if err != nil {
		return nil, err
	}
	var holds []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.SKU, &l.Qty); err != nil {
			rows.Close()
			return nil, err
		}
		holds = append(holds, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(holds) == 0 {
		return nil, nil
	}

	reason := ReasonRelease
	update := `UPDATE inventory_items SET reserved = reserved - $2, updated_at = now() WHERE sku=$1`
	if to == HoldCommitted {
		reason = ReasonCommit
		update = `UPDATE inventory_items SET reserved = reserved - $2, stock_on_hand = stock_on_hand - $2, updated_at = now() WHERE sku=$1`
	}

	out := make([]Movement, 0, len(holds))
	for _, h := range holds {
		if _, err := tx.Exec(ctx, update, h.SKU, h.Qty); err != nil {
			return nil, fmt.Errorf("%s %s: %w", reason, h.SKU, err)
		}
		m := Movement{SKU: h.SKU, Reason: reason, Delta: h.Qty, OrderID: orderID}
		if err := insertMovement(ctx, tx, &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if _, err := tx.Exec(ctx, `UPDATE stock_holds SET status=$2 WHERE order_id=$1 AND status='reserved'`, orderID, string(to)); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) Restock(ctx context.Context, sku string, qty int, orderID, note string) (Movement, error) {
	if qty <= 0 {
		return Movement{}, errs.Invalid("qty", "must be positive")
	}
	return s.changeOnHand(ctx, Movement{SKU: sku, Reason: ReasonRestock, Delta: qty, OrderID: orderID, Note: note})
}

func (s *PostgresStore) Adjust(ctx context.Context, sku string, delta int, note string) (Movement, error) {
	if delta == 0 {
		return Movement{}, errs.Invalid("delta", "must not be zero")
	}
	return s.changeOnHand(ctx, Movement{SKU: sku, Reason: ReasonAdjust, Delta: delta, Note: note})
}

func (s *PostgresStore) changeOnHand(ctx context.Context, m Movement) (Movement, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Movement{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var onHand, reserved int
	err = tx.QueryRow(ctx, `SELECT stock_on_hand, reserved FROM inventory_items WHERE sku=$1 FOR UPDATE`, m.SKU).Scan(&onHand, &reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return Movement{}, errs.NotFound("sku", m.SKU)
	}
	if err != nil {
		return Movement{}, err
	}
	if onHand+m.Delta < reserved {
		return Movement{}, errs.Invalid("delta", "would drop stock on hand below reserved")
	}
	if _, err := tx.Exec(ctx, `UPDATE inventory_items SET stock_on_hand = stock_on_hand + $2, updated_at = now() WHERE sku=$1`, m.SKU, m.Delta); err != nil {
		return Movement{}, err
	}
	if err := insertMovement(ctx, tx, &m); err != nil {
		return Movement{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Movement{}, err
	}
	return m, nil
}

func (s *PostgresStore) Movements(ctx context.Context, sku string) ([]Movement, error) {
	if _, err := s.Get(ctx, sku); err != nil {
		return nil, err
	}
	rows, err := s.DB.Query(ctx, `
		SELECT id, sku, reason, delta, COALESCE(order_id, ''), note, created_at
		FROM stock_movements WHERE sku=$1 ORDER BY id`, sku)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Movement
	for rows.Next() {
		var m Movement
		var reason string
		if err := rows.Scan(&m.ID, &m.SKU, &reason, &m.Delta, &m.OrderID, &m.Note, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Reason = Reason(reason)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Holds(ctx context.Context, orderID string) ([]Hold, error) {
	rows, err := s.DB.Query(ctx, `SELECT order_id, sku, qty, status FROM stock_holds WHERE order_id=$1 ORDER BY sku`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Hold
	for rows.Next() {
		var h Hold
		var status string
		if err := rows.Scan(&h.OrderID, &h.SKU, &h.Qty, &status); err != nil {
			return nil, err
		}
		h.Status = HoldStatus(status)
		out = append(out, h)
	}
	return out, rows.Err()
}

func insertMovement(ctx context.Context, tx pgx.Tx, m *Movement) error {
	var orderID *string
	if m.OrderID != "" {
		orderID = &m.OrderID
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO stock_movements(sku, reason, delta, order_id, note)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, created_at`,
		m.SKU, string(m.Reason), m.Delta, orderID, m.Note).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("append movement %s/%s: %w", m.SKU, m.Reason, err)
	}
	return nil
}

// guardCheck maps a violated reserved <= stock_on_hand CHECK to InsufficientStock.
func guardCheck(sku string, qty, available int, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23514" {
		return &errs.InsufficientStockError{SKU: sku, Requested: qty, Available: available}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
