package cluster

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rfm-segments/pkg/models"
)

func fv(id string, recency, frequency int, monetary float64) models.FeatureVector {
	v := models.FeatureVector{CustomerID: id, Recency: recency, Frequency: frequency, Monetary: monetary}
	if frequency > 0 {
		v.AvgOrderValue = monetary / float64(frequency)
	}
	return v
}

// Three customers from the canonical scenario: A active and frequent, B a
// single large old order, C never ordered (sentinel recency).
func scenarioVectors() []models.FeatureVector {
	return []models.FeatureVector{
		fv("A", 5, 2, 80),
		fv("B", 40, 1, 200),
		fv("C", 3650, 0, 0),
	}
}

func TestFit_InvalidK(t *testing.T) {
	vectors := scenarioVectors()

	for _, k := range []int{0, -1, 4} {
		_, _, err := Fit(context.Background(), vectors, Params{K: k, Seed: 1, MaxIterations: 10})
		require.Error(t, err, "k=%d", k)
		assert.Equal(t, models.CodeInvalidK, models.CodeOf(err), "k=%d", k)
	}
}

func TestFit_Scenario(t *testing.T) {
	model, assignments, err := Fit(context.Background(), scenarioVectors(), Params{
		K: 2, Seed: 1, MaxIterations: 50,
	})
	require.NoError(t, err)
	require.Len(t, assignments, 3)
	assert.True(t, model.Converged)

	// Both segments are non-empty and labels are dense in [0, 2).
	sizes := make([]int, model.K)
	for _, a := range assignments {
		require.GreaterOrEqual(t, a.Segment, 0)
		require.Less(t, a.Segment, model.K)
		require.GreaterOrEqual(t, a.Distance, 0.0)
		sizes[a.Segment]++
	}
	for c, n := range sizes {
		assert.Positive(t, n, "cluster %d empty", c)
	}

	// C lands in the segment whose centroid sits farthest out on the recency
	// dimension: the sentinel dominates that axis.
	var cSeg int
	for _, a := range assignments {
		if a.CustomerID == "C" {
			cSeg = a.Segment
		}
	}
	otherSeg := 1 - cSeg
	assert.Greater(t, model.Centroids[cSeg][0], model.Centroids[otherSeg][0])
}

func TestFit_DeterministicForSeed(t *testing.T) {
	p := Params{K: 2, Seed: 42, MaxIterations: 50}
	m1, a1, err := Fit(context.Background(), scenarioVectors(), p)
	require.NoError(t, err)
	m2, a2, err := Fit(context.Background(), scenarioVectors(), p)
	require.NoError(t, err)

	assert.Equal(t, m1.Centroids, m2.Centroids)
	assert.Equal(t, a1, a2)
}

func TestFit_KEqualsN(t *testing.T) {
	vectors := scenarioVectors()
	model, assignments, err := Fit(context.Background(), vectors, Params{
		K: 3, Seed: 7, MaxIterations: 50,
	})
	require.NoError(t, err)

	// One customer per cluster, all labels used.
	seen := make(map[int]bool)
	for _, a := range assignments {
		assert.False(t, seen[a.Segment], "label %d reused", a.Segment)
		seen[a.Segment] = true
	}
	assert.Len(t, seen, model.K)
}

func TestFit_SingleCluster(t *testing.T) {
	model, assignments, err := Fit(context.Background(), scenarioVectors(), Params{
		K: 1, Seed: 1, MaxIterations: 50,
	})
	require.NoError(t, err)
	assert.True(t, model.Converged)
	for _, a := range assignments {
		assert.Equal(t, 0, a.Segment)
	}
}

func TestFit_NoEmptyClustersOnClumpedData(t *testing.T) {
	// Many identical points plus one outlier pressure-test the reseed rule:
	// without it several of the 4 clusters would end up empty.
	vectors := []models.FeatureVector{fv("outlier", 3650, 0, 0)}
	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, id := range ids {
		vectors = append(vectors, fv(id, 10, 2, 100))
	}

	model, assignments, err := Fit(context.Background(), vectors, Params{
		K: 4, Seed: 3, MaxIterations: 100,
	})
	require.NoError(t, err)

	sizes := make([]int, model.K)
	for _, a := range assignments {
		sizes[a.Segment]++
	}
	for c, n := range sizes {
		assert.Positive(t, n, "cluster %d empty", c)
	}
}

func TestFit_DegenerateDimension(t *testing.T) {
	// Frequency identical everywhere: zero variance must not divide by zero.
	vectors := []models.FeatureVector{
		fv("A", 5, 1, 80),
		fv("B", 40, 1, 200),
		fv("C", 400, 1, 10),
	}
	model, _, err := Fit(context.Background(), vectors, Params{
		K: 2, Seed: 1, MaxIterations: 50,
	})
	require.NoError(t, err)

	require.Len(t, model.Scaling, 3)
	assert.Equal(t, "frequency", model.Scaling[1].Name)
	assert.True(t, model.Scaling[1].Degenerate)
	assert.False(t, model.Scaling[0].Degenerate)
}

func TestFit_IncludeAOVAddsDimension(t *testing.T) {
	model, _, err := Fit(context.Background(), scenarioVectors(), Params{
		K: 2, Seed: 1, MaxIterations: 50, IncludeAOV: true,
	})
	require.NoError(t, err)
	require.Len(t, model.Scaling, 4)
	assert.Equal(t, "avg_order_value", model.Scaling[3].Name)
	assert.Len(t, model.Centroids[0], 4)
}

func TestFit_IterationCapReported(t *testing.T) {
	model, _, err := Fit(context.Background(), scenarioVectors(), Params{
		K: 2, Seed: 1, MaxIterations: 1,
	})
	require.NoError(t, err)
	assert.False(t, model.Converged)
	assert.Equal(t, 1, model.Iterations)
}

func TestFit_FailOnEmptyPolicy(t *testing.T) {
	// Reuse the clumped data; with the fail policy an emptied cluster aborts.
	vectors := []models.FeatureVector{fv("outlier", 3650, 0, 0)}
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		vectors = append(vectors, fv(id, 10, 2, 100))
	}
	_, _, err := Fit(context.Background(), vectors, Params{
		K: 4, Seed: 3, MaxIterations: 100, EmptyClusterPolicy: FailOnEmpty,
	})
	if err != nil {
		var pe *models.PipelineError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, models.CodeEmptyClusterAbort, pe.Code)
	}
}

func TestStandardize_ZScores(t *testing.T) {
	rows := [][]float64{{1}, {2}, {3}}
	scales := standardize(rows, []string{"x"})

	require.Len(t, scales, 1)
	assert.InDelta(t, 2.0, scales[0].Mean, 1e-9)
	assert.False(t, scales[0].Degenerate)
	// Standardized column has zero mean.
	assert.InDelta(t, 0, rows[0][0]+rows[1][0]+rows[2][0], 1e-9)
	assert.Negative(t, rows[0][0])
	assert.Positive(t, rows[2][0])
}
