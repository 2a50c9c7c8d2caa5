package trades

import "sync"

// Executor runs broker jobs. GoExecutor in production, SyncExecutor in tests.
type Executor interface {
	Go(fn func())
	Wait()
}

type GoExecutor struct {
	wg sync.WaitGroup
}

func NewGoExecutor() *GoExecutor { return &GoExecutor{} }

func (e *GoExecutor) Go(fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

func (e *GoExecutor) Wait() { e.wg.Wait() }

// SyncExecutor runs each job inline, in order.
type SyncExecutor struct{}

func (SyncExecutor) Go(fn func()) { fn() }
func (SyncExecutor) Wait()        {}
