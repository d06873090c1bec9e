package database

import (
	"context"
	"fmt"

	"rfm-segments/pkg/models"
)

// ReadOrders streams the order table into raw rows. No validation happens
// here: nullable scans let malformed rows travel to the ingest stage instead
// of failing the read.
func (s *Store) ReadOrders(ctx context.Context) ([]models.RawOrderRow, error) {
	q := fmt.Sprintf(`
		SELECT customer_id, order_id, order_ts, order_total, line_items
		FROM %s
	`, s.tables.Orders)

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("read orders: %w", err)
	}
	defer rows.Close()

	var out []models.RawOrderRow
	for rows.Next() {
		var r models.RawOrderRow
		if err := rows.Scan(&r.CustomerID, &r.OrderID, &r.OrderTS, &r.OrderTotal, &r.LineItems); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read orders: %w", err)
	}
	return out, nil
}

// ReadCustomers streams the customer table into raw rows.
func (s *Store) ReadCustomers(ctx context.Context) ([]models.RawCustomerRow, error) {
	q := fmt.Sprintf(`
		SELECT customer_id, attributes
		FROM %s
	`, s.tables.Customers)

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("read customers: %w", err)
	}
	defer rows.Close()

	var out []models.RawCustomerRow
	for rows.Next() {
		var r models.RawCustomerRow
		if err := rows.Scan(&r.CustomerID, &r.Attributes); err != nil {
			return nil, fmt.Errorf("scan customer row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read customers: %w", err)
	}
	return out, nil
}
