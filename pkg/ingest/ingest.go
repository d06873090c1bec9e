package ingest

import (
	"fmt"
	"math"
	"time"

	"rfm-segments/pkg/models"
)

// Timestamp layouts accepted from the source, tried in order. The storage
// layer hands timestamps back as text so that unparseable values reach
// validation instead of failing the scan.
var tsLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Orders validates raw order rows against the run's as-of time. Rows failing
// validation are collected with a reason code and never abort the run. A
// duplicate order_id keeps the first occurrence and rejects the rest.
func Orders(raw []models.RawOrderRow, asOf time.Time) ([]models.OrderRecord, []models.RejectedRow) {
	orders := make([]models.OrderRecord, 0, len(raw))
	var rejects []models.RejectedRow
	seen := make(map[string]struct{}, len(raw))

	for _, row := range raw {
		reject := func(reason models.RejectReason) {
			rejects = append(rejects, models.RejectedRow{Raw: renderOrderRow(row), Reason: reason})
		}

		if !row.CustomerID.Valid || row.CustomerID.String == "" ||
			!row.OrderID.Valid || row.OrderID.String == "" ||
			!row.OrderTS.Valid || !row.OrderTotal.Valid {
			reject(models.ReasonMissingField)
			continue
		}
		total := row.OrderTotal.Float64
		if total < 0 || math.IsNaN(total) || math.IsInf(total, 0) {
			reject(models.ReasonNegativeAmount)
			continue
		}
		ts, err := parseTimestamp(row.OrderTS.String)
		if err != nil {
			reject(models.ReasonUnparseableTimestamp)
			continue
		}
		if ts.After(asOf) {
			reject(models.ReasonFutureTimestamp)
			continue
		}
		if _, dup := seen[row.OrderID.String]; dup {
			reject(models.ReasonDuplicateOrder)
			continue
		}
		seen[row.OrderID.String] = struct{}{}

		lineItems := 0
		if row.LineItems.Valid {
			lineItems = int(row.LineItems.Int64)
		}
		orders = append(orders, models.OrderRecord{
			CustomerID: row.CustomerID.String,
			OrderID:    row.OrderID.String,
			Timestamp:  ts,
			Total:      total,
			LineItems:  lineItems,
		})
	}
	return orders, rejects
}

// Customers validates raw customer rows. Only customer_id is required;
// duplicate ids keep the first occurrence.
func Customers(raw []models.RawCustomerRow) ([]models.CustomerRecord, []models.RejectedRow) {
	customers := make([]models.CustomerRecord, 0, len(raw))
	var rejects []models.RejectedRow
	seen := make(map[string]struct{}, len(raw))

	for _, row := range raw {
		if !row.CustomerID.Valid || row.CustomerID.String == "" {
			rejects = append(rejects, models.RejectedRow{
				Raw:    fmt.Sprintf("customer_id=%q", row.CustomerID.String),
				Reason: models.ReasonMissingField,
			})
			continue
		}
		if _, dup := seen[row.CustomerID.String]; dup {
			continue
		}
		seen[row.CustomerID.String] = struct{}{}
		customers = append(customers, models.CustomerRecord{
			CustomerID: row.CustomerID.String,
			Attributes: row.Attributes.String,
		})
	}
	return customers, rejects
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range tsLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

func renderOrderRow(row models.RawOrderRow) string {
	return fmt.Sprintf("customer_id=%q order_id=%q order_ts=%q order_total=%v",
		row.CustomerID.String, row.OrderID.String, row.OrderTS.String, row.OrderTotal.Float64)
}
