package vector

import (
	"fmt"
	"math"
	"strings"
)

// Metric names the distance function a backend uses.
type Metric string

const (
	// MetricCosine is cosine distance, 1 - cos(a, b), in [0, 2].
	MetricCosine Metric = "cosine"
	// MetricL2 is squared Euclidean distance.
	MetricL2 Metric = "l2"
)

// ParseMetric parses a metric name; empty means cosine.
func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(s))) {
	case "", MetricCosine:
		return MetricCosine, nil
	case MetricL2, "euclid", "euclidean":
		return MetricL2, nil
	default:
		return "", fmt.Errorf("unknown distance metric: %s (supported: cosine, l2)", s)
	}
}

// Distance returns the distance between a and b under m.
func (m Metric) Distance(a, b []float32) float64 {
	if m == MetricL2 {
		return SquaredL2(a, b)
	}
	return CosineDistance(a, b)
}

// InnerProduct returns the inner product of two vectors.
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// CosineDistance returns 1 - cosine similarity, clamped at 0. A zero vector is at distance 1 from everything.
func CosineDistance(a, b []float32) float64 {
	na, nb := L2Norm(a), L2Norm(b)
	if na == 0 || nb == 0 || len(a) != len(b) {
		return 1
	}
	d := 1 - InnerProduct(a, b)/(na*nb)
	if d < 0 {
		return 0
	}
	return d
}

// SquaredL2 returns the squared Euclidean distance between a and b.
func SquaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
