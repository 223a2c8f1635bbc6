// Package parallel provides bounded fan-out utilities.
package parallel

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled    bool // Whether parallel execution is enabled.
	NumWorkers int  // Maximum number of items in flight.
}

// DefaultConfig returns sensible defaults based on CPU count.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:    n > 1,
		NumWorkers: n,
	}
}

// WithWorkers returns a Config bounded to n workers. n <= 0 selects
// DefaultConfig and n == 1 runs sequentially.
func WithWorkers(n int) Config {
	if n <= 0 {
		return DefaultConfig()
	}
	return Config{Enabled: n > 1, NumWorkers: n}
}

// PanicError is returned for an item whose function panicked.
type PanicError struct {
	Index int
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("item %d panicked: %v\n%s", e.Index, e.Value, e.Stack)
}

// For executes f(i) for every i in [0, n), with at most cfg.NumWorkers
// calls in flight. Falls back to sequential execution if parallelism is
// disabled.
//
// Every index runs even if another one fails. The returned error is the
// one from the lowest failing index, so the outcome does not depend on
// scheduling. A panic inside f is recovered and reported as *PanicError.
func For(n int, f func(i int) error, cfg Config) error {
	errs := make([]error, n)

	if !cfg.Enabled || cfg.NumWorkers <= 1 || n <= 1 {
		for i := 0; i < n; i++ {
			errs[i] = call(i, f)
		}
		return first(errs)
	}

	workers := min(cfg.NumWorkers, n)
	next := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				errs[i] = call(i, f)
			}
		}()
	}
	for i := 0; i < n; i++ {
		next <- i
	}
	close(next)
	wg.Wait()

	return first(errs)
}

func call(i int, f func(i int) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Index: i, Value: r, Stack: debug.Stack()}
		}
	}()
	if err := f(i); err != nil {
		return fmt.Errorf("item %d: %w", i, err)
	}
	return nil
}

func first(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
