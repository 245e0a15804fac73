// Package bg decides how fire-and-forget work runs: on its own goroutine in
// production, inline in tests.
package bg

import "sync"

// Runner executes fn, either now or in the background.
type Runner interface {
	Do(fn func())
}

// Async runs each function on a new goroutine and can wait for all of them
// to finish during shutdown. The zero value is ready to use.
type Async struct {
	wg sync.WaitGroup
}

// Do starts fn in a goroutine.
func (a *Async) Do(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// Wait blocks until every started function has returned.
func (a *Async) Wait() {
	a.wg.Wait()
}

// Sync runs functions inline. Tests use it to make side effects observable
// without sleeping.
type Sync struct{}

// Do runs fn immediately.
func (Sync) Do(fn func()) {
	fn()
}
