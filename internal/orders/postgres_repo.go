package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yahyahoussini6-jpg/kod-franco-sub000/internal/errs"
)

type PostgresRepo struct{ DB *pgxpool.Pool }

const orderColumns = `id, tracking_code, COALESCE(external_id, ''), status, version, total_cents,
	customer_name, customer_phone, customer_email,
	address, city, courier, payment_method, source, campaign,
	created_at, confirmed_at, packed_at, shipped_at, delivered_at, cancelled_at, returned_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	var status, payment string
	err := row.Scan(&o.ID, &o.TrackingCode, &o.ExternalID, &status, &o.Version, &o.TotalCents,
		&o.Customer.Name, &o.Customer.Phone, &o.Customer.Email,
		&o.Shipping.Address, &o.Shipping.City, &o.Shipping.Courier, &payment, &o.Shipping.Source, &o.Shipping.Campaign,
		&o.CreatedAt, &o.ConfirmedAt, &o.PackedAt, &o.ShippedAt, &o.DeliveredAt, &o.CancelledAt, &o.ReturnedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	o.Status, o.Shipping.PaymentMethod = Status(status), PaymentMethod(payment)
	return o, nil
}

// Insert: idempotent via external_id.
// - jika external_id sudah ada -> return existing order (existed=true).
func (r *PostgresRepo) Insert(ctx context.Context, o Order) (Order, bool, error) {
	if o.ExternalID != "" {
		existing, err := r.GetByExternalID(ctx, o.ExternalID)
		if err == nil {
			return existing, true, nil
		}
		if !errors.Is(err, errs.ErrNotFound) {
			return Order{}, false, err
		}
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var external *string
	if o.ExternalID != "" {
		external = &o.ExternalID
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, tracking_code, external_id, status, version, total_cents,
			customer_name, customer_phone, customer_email,
			address, city, courier, payment_method, source, campaign,
			created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		o.ID, o.TrackingCode, external, string(o.Status), o.Version, o.TotalCents,
		o.Customer.Name, o.Customer.Phone, o.Customer.Email,
		o.Shipping.Address, o.Shipping.City, o.Shipping.Courier, string(o.Shipping.PaymentMethod), o.Shipping.Source, o.Shipping.Campaign,
		o.CreatedAt, o.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			switch pgErr.ConstraintName {
			case "orders_external_id_key":
				// kalah race dengan request kembar
				_ = tx.Rollback(ctx)
				existing, gerr := r.GetByExternalID(ctx, o.ExternalID)
				return existing, gerr == nil, gerr
			case "orders_tracking_code_key":
				return Order{}, false, errTrackingTaken
			}
		}
		return Order{}, false, fmt.Errorf("insert order: %w", err)
	}

	for pos, it := range o.Items {
		var size, color string
		if it.Variant != nil {
			size, color = it.Variant.Size, it.Variant.Color
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(order_id, sku, name, category, qty, unit_price_cents, variant_size, variant_color, position)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			o.ID, it.SKU, it.Name, it.Category, it.Qty, it.UnitPriceCents, size, color, pos); err != nil {
			return Order{}, false, fmt.Errorf("insert order item %s: %w", it.SKU, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, false, err
	}
	return o.clone(), false, nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Order, error) {
	return r.getOne(ctx, "order", id, `SELECT `+orderColumns+` FROM orders WHERE id=$1`)
}

func (r *PostgresRepo) GetByTrackingCode(ctx context.Context, code string) (Order, error) {
	return r.getOne(ctx, "tracking code", code, `SELECT `+orderColumns+` FROM orders WHERE tracking_code=$1`)
}

func (r *PostgresRepo) GetByExternalID(ctx context.Context, externalID string) (Order, error) {
	return r.getOne(ctx, "external id", externalID, `SELECT `+orderColumns+` FROM orders WHERE external_id=$1`)
}

func (r *PostgresRepo) getOne(ctx context.Context, kind, key, sql string) (Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, sql, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, errs.NotFound(kind, key)
	}
	if err != nil {
		return Order{}, err
	}
	out := []Order{o}
	if err := r.loadItems(ctx, out); err != nil {
		return Order{}, err
	}
	return out[0], nil
}

// Update is the compare-and-swap on version.
func (r *PostgresRepo) Update(ctx context.Context, o Order, expectedVersion int) (Order, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status=$3, version=version+1,
			confirmed_at=$4, packed_at=$5, shipped_at=$6, delivered_at=$7, cancelled_at=$8, returned_at=$9,
			updated_at=$10
		WHERE id=$1 AND version=$2`,
		o.ID, expectedVersion, string(o.Status),
		o.ConfirmedAt, o.PackedAt, o.ShippedAt, o.DeliveredAt, o.CancelledAt, o.ReturnedAt,
		o.UpdatedAt)
	if err != nil {
		return Order{}, fmt.Errorf("update order %s: %w", o.ID, err)
	}
	if ct.RowsAffected() == 0 {
		if _, err := r.Get(ctx, o.ID); err != nil {
			return Order{}, err
		}
		return Order{}, errs.ErrConcurrentModification
	}
	return r.Get(ctx, o.ID)
}

func (r *PostgresRepo) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at, id`, from, to)
}

func (r *PostgresRepo) ListByStatus(ctx context.Context, status Status) ([]Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE status=$1 ORDER BY created_at, id`, string(status))
}

func (r *PostgresRepo) ListDeliveredBetween(ctx context.Context, from, to time.Time, courier string) ([]Order, error) {
	return r.list(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status='livree' AND delivered_at >= $1 AND delivered_at < $2 AND ($3 = '' OR courier = $3)
		ORDER BY created_at, id`, from, to, courier)
}

func (r *PostgresRepo) list(ctx context.Context, sql string, args ...any) ([]Order, error) {
	rows, err := r.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// selectItems returns lines in the order they were created.
const selectItems = `
		SELECT order_id, sku, name, category, qty, unit_price_cents, variant_size, variant_color
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`

func (r *PostgresRepo) loadItems(ctx context.Context, orders []Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	idx := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		idx[o.ID] = i
	}
	rows, err := r.DB.Query(ctx, selectItems, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var orderID, size, color string
		var it OrderItem
		if err := rows.Scan(&orderID, &it.SKU, &it.Name, &it.Category, &it.Qty, &it.UnitPriceCents, &size, &color); err != nil {
			return err
		}
		if size != "" || color != "" {
			it.Variant = &Variant{Size: size, Color: color}
		}
		i := idx[orderID]
		orders[i].Items = append(orders[i].Items, it)
	}
	return rows.Err()
}
