// Package parallel splits index ranges across goroutines for the CPU units.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls parallel execution.
type Config struct {
	Enabled      bool // Run chunks on separate goroutines
	NumWorkers   int  // Upper bound on goroutines per call
	MinChunkSize int  // Ranges shorter than this run inline
}

// DefaultConfig uses one worker per CPU.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 16,
	}
}

// Sequential returns a configuration that never spawns goroutines.
func Sequential() Config {
	return Config{NumWorkers: 1, MinChunkSize: 1}
}

// Workers returns the worker count a call over n items would use.
func (c Config) Workers(n int) int {
	if !c.Enabled || n < max(c.MinChunkSize, 2) || c.NumWorkers <= 1 {
		return 1
	}
	return min(c.NumWorkers, (n+max(c.MinChunkSize, 1)-1)/max(c.MinChunkSize, 1))
}

// ForRange calls f on contiguous [start, end) chunks covering [0, n). Each
// chunk is handled by exactly one goroutine, so f may keep per-chunk
// scratch buffers.
func ForRange(n int, f func(start, end int), cfg Config) {
	if n <= 0 {
		return
	}
	workers := cfg.Workers(n)
	if workers == 1 {
		f(0, n)
		return
	}

	var wg sync.WaitGroup
	chunk := (n + workers - 1) / workers
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			f(s, e)
		}(start, end)
	}
	wg.Wait()
}

// For calls f(i) for every i in [0, n).
func For(n int, f func(i int), cfg Config) {
	ForRange(n, func(start, end int) {
		for i := start; i < end; i++ {
			f(i)
		}
	}, cfg)
}

// ForEntries iterates the entry by feature map grid used by most units.
func ForEntries(entries, featureMaps int, f func(entry, fm int), cfg Config) {
	For(entries*featureMaps, func(k int) {
		f(k/featureMaps, k%featureMaps)
	}, cfg)
}
