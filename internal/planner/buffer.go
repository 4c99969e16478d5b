// Package planner sizes the buffers a batch needs and derives the largest
// batch that fits a memory budget.
//
// Sizes are split into constant bytes, paid once regardless of the batch
// size, and per-unit bytes, paid for every batch unit. The plan uses one
// tiling quantum (the smallest logical entry count every layer can split
// into whole physical entries) as its batch unit.
package planner

import (
	"fmt"
	"math"

	"github.com/born-ml/tessera/internal/neterr"
)

// maxUnits caps MaxEntryCount when per-unit cost is zero.
const maxUnits = math.MaxInt32

// BufferConfig accumulates buffer sizes in bytes. Persistent buffers add up;
// temporary buffers are only live while one unit runs, so merging keeps the
// largest.
type BufferConfig struct {
	constant     int64
	perEntry     int64
	tempFixed    int64
	tempPerEntry int64
}

// AddConstant adds a buffer of fixed size.
func (c *BufferConfig) AddConstant(bytes int64) { c.constant += bytes }

// AddPerEntry adds a buffer growing with the batch.
func (c *BufferConfig) AddPerEntry(bytes int64) { c.perEntry += bytes }

// AddTemporaryFixed declares a fixed scratch buffer.
func (c *BufferConfig) AddTemporaryFixed(bytes int64) { c.tempFixed = max(c.tempFixed, bytes) }

// AddTemporaryPerEntry declares a scratch buffer growing with the batch.
func (c *BufferConfig) AddTemporaryPerEntry(bytes int64) {
	c.tempPerEntry = max(c.tempPerEntry, bytes)
}

// Merge adds the persistent buffers of o and keeps the larger temporaries.
func (c *BufferConfig) Merge(o BufferConfig) {
	c.constant += o.constant
	c.perEntry += o.perEntry
	c.tempFixed = max(c.tempFixed, o.tempFixed)
	c.tempPerEntry = max(c.tempPerEntry, o.tempPerEntry)
}

// Fixed returns the bytes needed independently of the batch size.
func (c BufferConfig) Fixed() int64 { return c.constant + c.tempFixed }

// PerEntry returns the bytes needed per batch unit.
func (c BufferConfig) PerEntry() int64 { return c.perEntry + c.tempPerEntry }

// Total returns the bytes needed for n batch units.
func (c BufferConfig) Total(n int) int64 { return c.Fixed() + int64(n)*c.PerEntry() }

// MaxEntryCount returns the most batch units fitting budget bytes. It is a
// resource error when not even one unit fits.
func (c BufferConfig) MaxEntryCount(budget int64) (int, error) {
	fixed, per := c.Fixed(), c.PerEntry()
	if budget < fixed {
		return 0, neterr.Resourcef("memory budget %s is below the constant footprint %s", FormatBytes(budget), FormatBytes(fixed))
	}
	if per == 0 {
		return maxUnits, nil
	}
	n := (budget - fixed) / per
	if n < 1 {
		return 0, neterr.Resourcef("memory budget %s leaves %s after constants, one entry needs %s",
			FormatBytes(budget), FormatBytes(budget-fixed), FormatBytes(per))
	}
	return int(min(n, maxUnits)), nil
}

// FormatBytes renders a byte count with binary units.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
