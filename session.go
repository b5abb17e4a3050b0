package main

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SessionUpdate is the state of a session as seen by its result sink.
type SessionUpdate struct {
	Query   string       `json:"query"`
	Active  bool         `json:"active"`
	Page    int          `json:"page"`
	Icons   []IconRecord `json:"icons"`
	Error   string       `json:"error,omitempty"`
	Loading bool         `json:"loading"`
}

type ResultSink func(SessionUpdate)

type SessionOptions struct {
	// Debounce delays the first page of a search; a newer search within
	// the window replaces it before any network work starts.
	Debounce time.Duration
}

// SearchSession owns one query context: the active query, page counter,
// accumulated results and at most one in-flight fetch. Results of a fetch
// are applied only if no later search, loadMore or cancel happened since
// it started.
type SearchSession struct {
	catalog IconSearcher
	loop    Dispatcher
	sink    ResultSink
	opts    SessionOptions
	log     *logrus.Entry

	mu         sync.Mutex
	query      string
	active     bool
	page       int
	records    []IconRecord
	lastErr    error
	generation uint64
	cancelFn   context.CancelFunc
}

func NewSearchSession(catalog IconSearcher, loop Dispatcher, sink ResultSink, opts SessionOptions) *SearchSession {
	return &SearchSession{
		catalog: catalog,
		loop:    loop,
		sink:    sink,
		opts:    opts,
		log:     newLogger("session"),
	}
}

// Search drops accumulated results and starts over at page 0 with text.
func (s *SearchSession) Search(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abortLocked()
	s.records = nil
	s.lastErr = nil
	s.page = 0
	s.query = text
	s.active = true
	s.startLocked(0)
}

// LoadMore fetches the next page and reports whether a fetch was started.
// It does nothing without an active query or while a fetch is in flight.
func (s *SearchSession) LoadMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.cancelFn != nil {
		return false
	}
	s.startLocked(s.page + 1)
	return true
}

// Cancel aborts the in-flight fetch, if any, keeping accumulated results.
func (s *SearchSession) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abortLocked()
}

func (s *SearchSession) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelFn != nil
}

func (s *SearchSession) Snapshot() SessionUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *SearchSession) snapshotLocked() SessionUpdate {
	u := SessionUpdate{
		Query:   s.query,
		Active:  s.active,
		Page:    s.page,
		Icons:   append([]IconRecord(nil), s.records...),
		Loading: s.cancelFn != nil,
	}
	if s.lastErr != nil {
		u.Error = userMessage(s.lastErr)
	}
	return u
}

// abortLocked invalidates the current generation and cancels its fetch.
func (s *SearchSession) abortLocked() {
	if s.cancelFn == nil {
		return
	}
	s.generation++
	s.cancelFn()
	s.cancelFn = nil
}

// startLocked fetches page; the page counter only advances once it arrives.
func (s *SearchSession) startLocked(page int) {
	s.generation++
	gen := s.generation
	query := s.query
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFn = cancel

	go func() {
		if page == 0 && s.opts.Debounce > 0 {
			timer := time.NewTimer(s.opts.Debounce)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
		records, err := s.catalog.Fetch(ctx, query, page)
		if !s.loop.Post(func() { s.complete(gen, page, records, err) }) {
			s.abandon(gen)
		}
	}()
}

// abandon drops the fetch of gen when its result cannot be delivered.
func (s *SearchSession) abandon(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || s.cancelFn == nil {
		return
	}
	s.cancelFn()
	s.cancelFn = nil
}

// complete runs on the main loop.
func (s *SearchSession) complete(gen uint64, page int, records []IconRecord, err error) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		s.log.WithField("generation", gen).Debug("Discarding superseded result")
		return
	}
	s.cancelFn()
	s.cancelFn = nil
	if err != nil {
		s.lastErr = err
		s.log.WithError(err).WithField("query", s.query).Warn("Fetch failed")
	} else {
		s.records = append(s.records, records...)
		s.page = page
		s.lastErr = nil
	}
	update := s.snapshotLocked()
	s.mu.Unlock()

	if s.sink != nil {
		s.sink(update)
	}
}
