// Package actor provides a serialized task queue.
//
// Every call (and the connections or group client it owns) is driven by one
// Actor: signaling events, media-engine callbacks and timer firings are queued
// as tasks and executed one at a time on the actor's goroutine, so transitions
// for the same call never interleave. Different actors run concurrently.
package actor

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"
)

// Actor executes queued tasks sequentially on a dedicated goroutine.
// The queue is unbounded so that Send never blocks the caller.
type Actor struct {
	name string

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	stopped bool

	done chan struct{}
}

// New starts an actor. The name is only used for logging.
func New(name string) *Actor {
	a := &Actor{
		name: name,
		done: make(chan struct{}),
	}
	a.cond = sync.NewCond(&a.mu)
	go a.run()

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"actor":    name,
	}).Debug("Actor started")

	return a
}

// Send queues task for execution. It returns false if the actor has been
// stopped, in which case the task is dropped.
func (a *Actor) Send(task func()) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		logrus.WithFields(logrus.Fields{
			"function": "Send",
			"actor":    a.name,
		}).Debug("Dropping task sent to stopped actor")
		return false
	}
	a.queue = append(a.queue, task)
	a.cond.Signal()
	return true
}

// Synchronize blocks until every task queued before the call has run.
// It must not be called from a task running on the same actor.
func (a *Actor) Synchronize() {
	ran := make(chan struct{})
	if !a.Send(func() { close(ran) }) {
		<-a.done
		return
	}
	select {
	case <-ran:
	case <-a.done:
	}
}

// Stop lets already queued tasks finish and then terminates the goroutine.
// Tasks sent afterwards are dropped. Stop does not wait; use Done for that.
func (a *Actor) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	a.stopped = true
	a.cond.Signal()
}

// Done is closed once the actor goroutine has exited.
func (a *Actor) Done() <-chan struct{} {
	return a.done
}

func (a *Actor) run() {
	defer close(a.done)
	for {
		a.mu.Lock()
		for len(a.queue) == 0 && !a.stopped {
			a.cond.Wait()
		}
		if len(a.queue) == 0 && a.stopped {
			a.mu.Unlock()
			logrus.WithFields(logrus.Fields{
				"function": "run",
				"actor":    a.name,
			}).Debug("Actor stopped")
			return
		}
		task := a.queue[0]
		a.queue[0] = nil
		a.queue = a.queue[1:]
		a.mu.Unlock()

		a.execute(task)
	}
}

// execute runs a single task, containing any panic so that one faulty event
// cannot take down the process or the actor.
func (a *Actor) execute(task func()) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"function": "execute",
				"actor":    a.name,
				"panic":    fmt.Sprint(r),
				"stack":    string(debug.Stack()),
			}).Error("Recovered panic in actor task")
		}
	}()
	task()
}
