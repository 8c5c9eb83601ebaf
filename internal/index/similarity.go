package index

import "math"

// Metric is the similarity measure fixed at index creation. The same metric
// must be used when indexing and when querying, so it is stored in the
// partition header and validated on load.
type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricL2     Metric = "l2"
)

// score returns a similarity where higher is always better, for either
// metric. Cosine vectors are normalized at add time, so the dot product is
// the cosine similarity. L2 distance is mapped through 1/(1+d) to keep the
// descending-score ordering uniform.
func score(metric Metric, query, candidate []float32) float64 {
	switch metric {
	case MetricL2:
		var sum float64
		for i := range query {
			d := float64(query[i]) - float64(candidate[i])
			sum += d * d
		}
		return 1.0 / (1.0 + math.Sqrt(sum))
	default:
		var dot float64
		for i := range query {
			dot += float64(query[i]) * float64(candidate[i])
		}
		return dot
	}
}

// normalize scales v to unit length in place. Zero vectors are left as-is.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := 1.0 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}
