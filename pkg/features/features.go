package features

import (
	"context"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"rfm-segments/pkg/models"
)

// Params tunes feature engineering for one run.
type Params struct {
	AsOf            time.Time
	RecencySentinel int // recency assigned to customers with no orders, in days
	Workers         int // 0 means GOMAXPROCS
}

// Compute produces exactly one FeatureVector per customer, ordered by
// customer id. It is pure: the same orders, customers and as-of time always
// yield the same vectors. Each customer's features depend only on that
// customer's own orders, so the work is fanned out per customer with no
// shared mutable state.
func Compute(ctx context.Context, orders []models.OrderRecord, customers []models.CustomerRecord, p Params) ([]models.FeatureVector, error) {
	byCustomer := make(map[string][]models.OrderRecord, len(customers))
	for _, o := range orders {
		byCustomer[o.CustomerID] = append(byCustomer[o.CustomerID], o)
	}

	sorted := make([]models.CustomerRecord, len(customers))
	copy(sorted, customers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CustomerID < sorted[j].CustomerID })

	workers := p.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	vectors := make([]models.FeatureVector, len(sorted))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, c := range sorted {
		i, c := i, c
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			vectors[i] = one(c.CustomerID, byCustomer[c.CustomerID], p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// one computes the RFM vector for a single customer.
func one(customerID string, orders []models.OrderRecord, p Params) models.FeatureVector {
	fv := models.FeatureVector{
		CustomerID: customerID,
		Recency:    p.RecencySentinel,
	}
	if len(orders) == 0 {
		return fv
	}

	var latest time.Time
	for _, o := range orders {
		fv.Monetary += o.Total
		if o.Timestamp.After(latest) {
			latest = o.Timestamp
		}
	}
	fv.Frequency = len(orders)
	fv.Recency = int(p.AsOf.Sub(latest).Hours() / 24)
	fv.AvgOrderValue = fv.Monetary / float64(fv.Frequency)
	return fv
}
