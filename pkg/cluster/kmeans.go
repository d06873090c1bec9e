package cluster

import (
	"context"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"

	"rfm-segments/pkg/models"
)

// Empty-cluster policies. ReseedFarthest moves the customer farthest from its
// own centroid into the empty cluster, which guarantees the final result
// never reports an empty cluster. FailOnEmpty aborts instead, for callers
// that need exact parity with an external system.
const (
	ReseedFarthest = "reseed-farthest"
	FailOnEmpty    = "fail"
)

// Params tunes one clustering fit.
type Params struct {
	K                  int
	Seed               int64
	MaxIterations      int
	IncludeAOV         bool
	EmptyClusterPolicy string // ReseedFarthest when empty
	Workers            int    // 0 means GOMAXPROCS
	Progress           func(iteration int)
}

// Fit standardizes the feature vectors and runs seeded Lloyd's k-means over
// them. Given the same vectors, seed and parameters the result is fully
// reproducible. Hitting the iteration cap is not an error: the model is
// returned with Converged false.
func Fit(ctx context.Context, vectors []models.FeatureVector, p Params) (*models.ClusterModel, []models.SegmentAssignment, error) {
	if p.K < 1 || p.K > len(vectors) {
		return nil, nil, models.Errf(models.StageCluster, models.CodeInvalidK,
			"k=%d with %d customers", p.K, len(vectors))
	}
	if p.EmptyClusterPolicy == "" {
		p.EmptyClusterPolicy = ReseedFarthest
	}

	points, names := matrix(vectors, p.IncludeAOV)
	scales := standardize(points, names)
	dims := len(names)

	// Initial centroids: k distinct customers chosen by a seeded shuffle.
	rng := rand.New(rand.NewSource(p.Seed))
	perm := rng.Perm(len(points))
	centroids := make([][]float64, p.K)
	for c := 0; c < p.K; c++ {
		centroids[c] = append([]float64(nil), points[perm[c]]...)
	}

	assign := make([]int, len(points))
	dist := make([]float64, len(points))
	for i := range assign {
		assign[i] = -1
	}

	converged := false
	iterations := 0
	for iter := 1; iter <= p.MaxIterations; iter++ {
		iterations = iter
		changed, err := assignAll(ctx, points, centroids, assign, dist, p.Workers)
		if err != nil {
			return nil, nil, err
		}

		if err := fixEmptyClusters(points, centroids, assign, dist, p.EmptyClusterPolicy); err != nil {
			return nil, nil, err
		}

		if p.Progress != nil {
			p.Progress(iter)
		}
		if changed == 0 {
			converged = true
			break
		}

		// Barrier: all assignments for this iteration are in before centroids
		// are rebuilt for the next one.
		recomputeCentroids(points, centroids, assign, dims)
	}

	// Final distances against the final centroid positions.
	if _, err := assignAll(ctx, points, centroids, assign, dist, p.Workers); err != nil {
		return nil, nil, err
	}
	if err := fixEmptyClusters(points, centroids, assign, dist, p.EmptyClusterPolicy); err != nil {
		return nil, nil, err
	}

	model := &models.ClusterModel{
		K:          p.K,
		Centroids:  centroids,
		Scaling:    scales,
		Converged:  converged,
		Iterations: iterations,
	}
	assignments := make([]models.SegmentAssignment, len(vectors))
	for i, fv := range vectors {
		assignments[i] = models.SegmentAssignment{
			CustomerID: fv.CustomerID,
			Segment:    assign[i],
			Distance:   dist[i],
		}
	}
	return model, assignments, nil
}

// assignAll maps every point to its nearest centroid, breaking exact-distance
// ties by lowest cluster index. Points are independent within an iteration,
// so the index range is sharded across workers. Returns how many assignments
// changed.
func assignAll(ctx context.Context, points, centroids [][]float64, assign []int, dist []float64, workers int) (int, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(points) {
		workers = len(points)
	}

	changes := make([]int, workers)
	g, ctx := errgroup.WithContext(ctx)
	chunk := (len(points) + workers - 1) / workers
	for w := 0; w < workers; w++ {
		w := w
		lo, hi := w*chunk, (w+1)*chunk
		if hi > len(points) {
			hi = len(points)
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for i := lo; i < hi; i++ {
				best, bestDist := 0, euclidean(points[i], centroids[0])
				for c := 1; c < len(centroids); c++ {
					if d := euclidean(points[i], centroids[c]); d < bestDist {
						best, bestDist = c, d
					}
				}
				if assign[i] != best {
					changes[w]++
				}
				assign[i] = best
				dist[i] = bestDist
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	total := 0
	for _, c := range changes {
		total += c
	}
	return total, nil
}

// fixEmptyClusters reseeds each empty cluster, in index order, to the point
// currently farthest from its own centroid, so k stays stable across runs
// instead of shrinking when a cluster empties out.
func fixEmptyClusters(points, centroids [][]float64, assign []int, dist []float64, policy string) error {
	counts := make([]int, len(centroids))
	for _, a := range assign {
		counts[a]++
	}
	for c := range centroids {
		if counts[c] > 0 {
			continue
		}
		if policy == FailOnEmpty {
			return models.Errf(models.StageCluster, models.CodeEmptyClusterAbort,
				"cluster %d became empty", c)
		}
		farthest := -1
		for i := range points {
			// Donor cluster must keep at least one member.
			if counts[assign[i]] < 2 {
				continue
			}
			if farthest == -1 || dist[i] > dist[farthest] {
				farthest = i
			}
		}
		if farthest == -1 {
			continue
		}
		counts[assign[farthest]]--
		centroids[c] = append([]float64(nil), points[farthest]...)
		assign[farthest] = c
		dist[farthest] = 0
		counts[c] = 1
	}
	return nil
}

// recomputeCentroids rebuilds each centroid as the mean of its members.
// Callers run fixEmptyClusters first, so every cluster has at least one
// member here.
func recomputeCentroids(points, centroids [][]float64, assign []int, dims int) {
	counts := make([]int, len(centroids))
	for c := range centroids {
		centroids[c] = make([]float64, dims)
	}
	for i, a := range assign {
		counts[a]++
		for d := 0; d < dims; d++ {
			centroids[a][d] += points[i][d]
		}
	}
	for c := range centroids {
		for d := 0; d < dims; d++ {
			centroids[c][d] /= float64(counts[c])
		}
	}
}
