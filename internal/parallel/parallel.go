// Package parallel splits index ranges across goroutines for the CPU kernels.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls how a range is split.
type Config struct {
	Workers  int // Upper bound on goroutines; 1 or less runs inline.
	MinChunk int // Ranges shorter than this run inline.
}

// DefaultConfig uses one worker per CPU.
func DefaultConfig() Config {
	return Config{
		Workers:  runtime.NumCPU(),
		MinChunk: 16,
	}
}

// chunk returns the per-goroutine range length, or 0 when n should run inline.
func (c Config) chunk(n int) int {
	if c.Workers <= 1 || n < c.MinChunk || n < 2 {
		return 0
	}
	return max((n+c.Workers-1)/c.Workers, c.MinChunk, 1)
}

// For calls f(i) for every i in [0, n). Calls for distinct i may run concurrently
// and must not write shared state.
func For(n int, f func(i int), cfg Config) {
	size := cfg.chunk(n)
	if size == 0 {
		for i := range n {
			f(i)
		}
		return
	}

	var wg sync.WaitGroup
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		wg.Go(func() {
			for i := start; i < end; i++ {
				f(i)
			}
		})
	}
	wg.Wait()
}

// ForBatch calls f(b, r) for every batch index b < batch and row r < rows.
func ForBatch(batch, rows int, f func(b, r int), cfg Config) {
	if rows <= 0 {
		return
	}
	For(batch*rows, func(k int) {
		f(k/rows, k%rows)
	}, cfg)
}
