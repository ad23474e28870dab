package store

import (
	"context"
	"sync"
)

// listener is one live query. dirty has capacity one: several writes
// between two reads coalesce into a single re-query, and every snapshot
// reflects the state at the time it was read.
type listener struct {
	query Query
	fn    func(Snapshot)
	dirty chan struct{}
	done  chan struct{}
}

// Listen registers a live query. The first snapshot is delivered
// asynchronously right after registration. The query is removed by the
// returned stop function or when ctx ends, whichever comes first.
func (s *SQLiteStore) Listen(ctx context.Context, q Query, fn func(Snapshot)) (func(), error) {
	if _, _, err := buildWhere(q); err != nil {
		return nil, err
	}

	l := &listener{
		query: q,
		fn:    fn,
		dirty: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	l.dirty <- struct{}{}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = l
	s.mu.Unlock()

	stop := sync.OnceFunc(func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
		close(l.done)
	})

	go s.runListener(ctx, l, stop)
	return stop, nil
}

func (s *SQLiteStore) runListener(ctx context.Context, l *listener, stop func()) {
	for {
		select {
		case <-ctx.Done():
			stop()
			return
		case <-l.done:
			return
		case <-l.dirty:
		}

		docs, err := s.Find(ctx, l.query)
		if err != nil {
			if ctx.Err() == nil {
				s.getLogger().Error("live query failed",
					"collection", l.query.Collection,
					"error", err,
				)
			}
			continue
		}

		select {
		case <-l.done:
			return
		default:
		}
		l.fn(Snapshot{Documents: docs, ReadAt: s.now()})
	}
}

// notify marks every listener on collection as dirty.
func (s *SQLiteStore) notify(collection string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.listeners {
		if l.query.Collection != collection {
			continue
		}
		select {
		case l.dirty <- struct{}{}:
		default:
		}
	}
}
