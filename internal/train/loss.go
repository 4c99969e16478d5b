package train

import (
	"github.com/chewxy/math32"

	"github.com/born-ml/tessera/internal/data"
	"github.com/born-ml/tessera/internal/neterr"
)

// SquaredError is ½Σ(y-t)² against the reader input named Target.
type SquaredError struct {
	Target string
}

// Gradient writes y-t into grad and returns the entry loss.
func (l SquaredError) Gradient(output string, actual []float32, extras map[string][]float32, grad []float32) (float64, error) {
	target, err := lookupTarget(l.Target, output, len(actual), extras)
	if err != nil {
		return 0, err
	}
	var loss float64
	for i, y := range actual {
		d := y - target[i]
		grad[i] = d
		loss += 0.5 * float64(d) * float64(d)
	}
	return loss, nil
}

// SoftmaxCrossEntropy applies a softmax to the output and scores it against
// the reader input named Target. The target is either a distribution of the
// output's length or a single class index.
type SoftmaxCrossEntropy struct {
	Target string
}

// Gradient writes softmax(y)·Σt - t into grad and returns -Σ t·log softmax(y).
func (l SoftmaxCrossEntropy) Gradient(output string, actual []float32, extras map[string][]float32, grad []float32) (float64, error) {
	target, ok := extras[l.Target]
	if !ok {
		return 0, neterr.Configf(output, "target input %q is not provided by the reader", l.Target)
	}
	if len(target) == 1 && len(actual) > 1 {
		class := int(target[0])
		if class < 0 || class >= len(actual) || float32(class) != target[0] {
			return 0, neterr.Dataf(output, "class index %g out of range [0, %d)", target[0], len(actual))
		}
		target = data.OneHot([]int{class}, len(actual))[0]
	} else if len(target) != len(actual) {
		return 0, neterr.Dataf(output, "target %q has %d values (expected %d)", l.Target, len(target), len(actual))
	}

	peak := actual[0]
	for _, y := range actual[1:] {
		peak = math32.Max(peak, y)
	}
	var sum float32
	for i, y := range actual {
		grad[i] = math32.Exp(y - peak)
		sum += grad[i]
	}
	logSum := math32.Log(sum)

	var loss float64
	var mass float32
	for _, t := range target {
		mass += t
	}
	for i, t := range target {
		if t != 0 {
			loss -= float64(t) * float64(actual[i]-peak-logSum)
		}
		grad[i] = grad[i]/sum*mass - t
	}
	return loss, nil
}

func lookupTarget(name, output string, n int, extras map[string][]float32) ([]float32, error) {
	target, ok := extras[name]
	if !ok {
		return nil, neterr.Configf(output, "target input %q is not provided by the reader", name)
	}
	if len(target) != n {
		return nil, neterr.Dataf(output, "target %q has %d values (expected %d)", name, len(target), n)
	}
	return target, nil
}
