package store

import "sync"

// Op names a mutating store operation.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// ChangeEvent is emitted after a mutation commits.
type ChangeEvent struct {
	// Address is the collection address the mutation touched.
	Address Address
	Op      Op
	// RowID is the new row key for inserts, 0 otherwise.
	RowID int64
	// Count is the number of rows affected.
	Count int64
}

// Subscribe registers fn to receive change events for every collection.
// fn runs synchronously on the mutating goroutine after the write lock is
// released, so it may call back into the store. The returned func
// unsubscribes.
func (s *Store) Subscribe(fn func(ChangeEvent)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// SubscribeChan delivers change events on a buffered channel. Events are
// dropped (and logged) when the buffer is full rather than blocking writers.
// The channel is closed by cancel.
func (s *Store) SubscribeChan(buffer int) (<-chan ChangeEvent, func()) {
	ch := make(chan ChangeEvent, buffer)

	var mu sync.Mutex
	closed := false

	unsubscribe := s.Subscribe(func(ev ChangeEvent) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- ev:
		default:
			s.logger.Warn("change event dropped: subscriber buffer full",
				"address", ev.Address, "op", ev.Op)
		}
	})

	return ch, func() {
		unsubscribe()
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(ch)
		}
	}
}

func (s *Store) notify(ev ChangeEvent) {
	s.subMu.RLock()
	fns := make([]func(ChangeEvent), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}
