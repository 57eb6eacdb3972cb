package engine

import "sync"

// keyedExecutor runs tasks FIFO per key while keys run in parallel. The
// dispatcher uses it to serialize turns within one conversation without
// blocking other conversations.
type keyedExecutor struct {
	mu    sync.Mutex
	lanes map[string]*lane
	wg    sync.WaitGroup
}

type lane struct {
	queue   []func()
	running bool
}

func newKeyedExecutor() *keyedExecutor {
	return &keyedExecutor{lanes: make(map[string]*lane)}
}

// Submit enqueues task behind any tasks already pending for key.
func (e *keyedExecutor) Submit(key string, task func()) {
	e.mu.Lock()
	ln, ok := e.lanes[key]
	if !ok {
		ln = &lane{}
		e.lanes[key] = ln
	}
	ln.queue = append(ln.queue, task)
	if ln.running {
		e.mu.Unlock()
		return
	}
	ln.running = true
	e.wg.Add(1)
	e.mu.Unlock()

	go e.drain(key, ln)
}

func (e *keyedExecutor) drain(key string, ln *lane) {
	defer e.wg.Done()
	for {
		e.mu.Lock()
		if len(ln.queue) == 0 {
			ln.running = false
			delete(e.lanes, key)
			e.mu.Unlock()
			return
		}
		task := ln.queue[0]
		ln.queue = ln.queue[1:]
		e.mu.Unlock()

		task()
	}
}

// Wait blocks until every submitted task has finished.
func (e *keyedExecutor) Wait() {
	e.wg.Wait()
}
