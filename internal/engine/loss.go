package engine

// ErrorSource seeds the backward pass. Gradient receives the averaged
// logical output of one entry and the entry's extra reader inputs (for
// example labels), writes d(loss)/d(output) into grad and returns the
// entry's loss.
type ErrorSource interface {
	Gradient(output string, actual []float32, extras map[string][]float32, grad []float32) (float64, error)
}

// ErrorFunc adapts a function to ErrorSource.
type ErrorFunc func(output string, actual []float32, extras map[string][]float32, grad []float32) (float64, error)

// Gradient calls f.
func (f ErrorFunc) Gradient(output string, actual []float32, extras map[string][]float32, grad []float32) (float64, error) {
	return f(output, actual, extras, grad)
}
