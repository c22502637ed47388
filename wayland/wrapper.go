// Package wayland runs a wl client connection on its own goroutine and
// serializes everything which touches its write queue.
package wayland

import (
	"os"

	wl "github.com/friedelschoen/wayland"
)

// Notes on the wl library:
//
// [wl.Object] is a handle containing a pointer to the object data. A zero
// handle will nil-deref in any of the members, and some methods have pointer
// receivers, so objects are stored as pointers.
//
// Requests and flushes may happen while Dispatch is blocked reading, but not
// concurrently with each other, since the write queue is unsynchronized.
// Event callbacks run on the dispatch goroutine without the lock held, so they
// take it themselves before sending requests.

// Connection is a wl display connection whose main loop runs on its own
// goroutine. Requests must only be sent within [Connection.Do] or
// [Connection.Enqueue], including from event callbacks. Any error returned
// from those is fatal and closes the connection.
type Connection struct {
	display *wl.Display

	// sem is a one-slot semaphore guarding the write queue. It's a chan so
	// acquiring it can be abandoned once the connection is closed.
	sem chan struct{}

	closed    chan struct{} // closed once closedErr is set
	closedErr error
	done      chan struct{} // closed when the main loop returns
}

// Connect connects to the named display, or $WAYLAND_DISPLAY if empty, and
// starts the main loop.
func Connect(name string) (*Connection, error) {
	display, err := wl.NewDisplay(name)
	if err != nil {
		return nil, err
	}
	c := &Connection{
		display: display,
		sem:     make(chan struct{}, 1),
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	c.unlock()
	go c.run()
	return c, nil
}

// lock acquires the write queue, returning false if the connection was closed
// first.
func (c *Connection) lock() bool {
	select {
	case <-c.closed:
		return false
	case <-c.sem:
		return true
	}
}

func (c *Connection) unlock() {
	c.sem <- struct{}{}
}

// err returns the error to report for operations on a closed connection.
func (c *Connection) err() error {
	if c.closedErr != nil {
		return c.closedErr
	}
	return os.ErrClosed
}

func (c *Connection) run() {
	defer close(c.done)
	for {
		// anything queued by the callbacks of the last dispatch is flushed by
		// Do, so an empty one is enough
		if c.Do(func() error { return nil }) != nil {
			return
		}
		if err := c.display.Dispatch(); err != nil {
			c.closeWithError(err)
			return
		}
	}
}

// Registry gets the registry and sets its listener.
func (c *Connection) Registry(listener wl.RegistryListener) error {
	return c.Do(func() error {
		c.display.GetRegistry().SetListener(listener, nil)
		return nil
	})
}

// Do runs fn with exclusive access to the connection, then flushes it. It is
// not re-entrant. If fn or the flush fails, the connection is closed with the
// error.
func (c *Connection) Do(fn func() error) error {
	if !c.lock() {
		return c.err()
	}
	err := fn()
	if err == nil {
		err = c.display.Flush()
	}
	if err != nil {
		// keep the lock so nothing else can use the broken connection
		c.closeWithErrorLocked(err)
		return err
	}
	c.unlock()
	return nil
}

// Enqueue runs fn like [Connection.Do], but only after the server has
// processed every request sent before it and its events have been dispatched.
// It blocks until fn has run.
func (c *Connection) Enqueue(fn func() error) error {
	var (
		done = make(chan struct{})
		err  error
	)
	if err := c.Do(func() error {
		// requests are handled in order, so the sync is done after
		// everything before it
		c.display.Sync().SetListener(wl.CallbackListener{
			Done: func(data any, self wl.Callback, callbackData uint32) error {
				defer close(done)
				err = c.Do(fn)
				return err
			},
		}, nil)
		return nil
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return err
	case <-c.closed:
		<-c.done // the callback may still be running
		return c.err()
	}
}

// Roundtrip blocks until every event the server sent in response to requests
// made before it has been dispatched.
func (c *Connection) Roundtrip() error {
	return c.Enqueue(func() error { return nil })
}

// Close closes the connection if it isn't already, then waits for pending
// callbacks and the main loop to return.
func (c *Connection) Close() {
	c.closeWithError(nil)
	<-c.done
}

func (c *Connection) closeWithError(err error) {
	if !c.lock() {
		return
	}
	// never unlocked, so lock always returns false from now on
	c.closeWithErrorLocked(err)
}

// closeWithErrorLocked closes the display with the sticky error err unless it
// was already closed. The lock must be held.
func (c *Connection) closeWithErrorLocked(err error) {
	select {
	case <-c.closed:
		return
	default:
	}
	c.display.Close()
	c.closedErr = err
	close(c.closed)
}

// Closed blocks until the connection is closed, returning the fatal error, or
// nil if it was closed with [Connection.Close].
func (c *Connection) Closed() error {
	<-c.closed
	return c.closedErr
}
