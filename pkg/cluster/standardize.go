package cluster

import (
	"math"

	"rfm-segments/pkg/models"
)

// matrix turns feature vectors into rows of raw feature values. The clustered
// dimensions are recency, frequency and monetary value, plus average order
// value when includeAOV is set.
func matrix(vectors []models.FeatureVector, includeAOV bool) ([][]float64, []string) {
	names := []string{"recency", "frequency", "monetary"}
	if includeAOV {
		names = append(names, "avg_order_value")
	}
	rows := make([][]float64, len(vectors))
	for i, fv := range vectors {
		row := []float64{float64(fv.Recency), float64(fv.Frequency), fv.Monetary}
		if includeAOV {
			row = append(row, fv.AvgOrderValue)
		}
		rows[i] = row
	}
	return rows, names
}

// standardize rescales each dimension to zero mean and unit variance in
// place, returning the scaling parameters. A zero-variance dimension is
// recorded as degenerate and its z-scores are forced to 0 rather than
// dividing by zero.
func standardize(rows [][]float64, names []string) []models.FeatureScale {
	if len(rows) == 0 {
		return nil
	}
	dims := len(rows[0])
	n := float64(len(rows))
	scales := make([]models.FeatureScale, dims)

	for d := 0; d < dims; d++ {
		var sum float64
		for _, row := range rows {
			sum += row[d]
		}
		mean := sum / n

		var sqDiff float64
		for _, row := range rows {
			diff := row[d] - mean
			sqDiff += diff * diff
		}
		std := math.Sqrt(sqDiff / n)

		scale := models.FeatureScale{Name: names[d], Mean: mean, StdDev: std}
		if std == 0 {
			scale.Degenerate = true
			for _, row := range rows {
				row[d] = 0
			}
		} else {
			for _, row := range rows {
				row[d] = (row[d] - mean) / std
			}
		}
		scales[d] = scale
	}
	return scales
}

// euclidean returns the distance between two points of equal dimension.
func euclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
