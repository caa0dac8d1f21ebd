// Package mailbox provides per-entity single-writer serialization: every
// mutation submitted for a given key is applied by exactly one goroutine,
// in submission order, so callers never need a lock on the entity itself.
package mailbox

import "sync"

// Set owns one Mailbox per key, created lazily and torn down explicitly.
type Set struct {
	mu    sync.Mutex
	boxes map[string]*Mailbox
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{boxes: make(map[string]*Mailbox)}
}

// For returns the Mailbox for key, creating it if necessary.
func (s *Set) For(key string) *Mailbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	box, ok := s.boxes[key]
	if !ok {
		box = newMailbox()
		s.boxes[key] = box
	}
	return box
}

// Close stops and removes the Mailbox for key, if one exists.
func (s *Set) Close(key string) {
	s.mu.Lock()
	box, ok := s.boxes[key]
	delete(s.boxes, key)
	s.mu.Unlock()
	if ok {
		box.stop()
	}
}

// Len reports how many keys currently have a live Mailbox.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.boxes)
}

// Mailbox serializes closures through a single draining goroutine.
type Mailbox struct {
	tasks chan func()
	done  chan struct{}
}

func newMailbox() *Mailbox {
	m := &Mailbox{
		tasks: make(chan func(), 32),
		done:  make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *Mailbox) run() {
	for {
		select {
		case fn := <-m.tasks:
			fn()
		case <-m.done:
			return
		}
	}
}

// Do submits fn and blocks until it has run, returning whatever error fn
// produced. Safe to call from many goroutines concurrently.
func (m *Mailbox) Do(fn func() error) error {
	result := make(chan error, 1)
	select {
	case m.tasks <- func() { result <- fn() }:
	case <-m.done:
		return errMailboxClosed
	}
	select {
	case err := <-result:
		return err
	case <-m.done:
		return errMailboxClosed
	}
}

func (m *Mailbox) stop() {
	close(m.done)
}

var errMailboxClosed = mailboxClosedError{}

type mailboxClosedError struct{}

func (mailboxClosedError) Error() string { return "mailbox: closed" }
