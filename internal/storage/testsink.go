package storage

import (
	"context"
	"sync"

	"github.com/getupgraded/inbound-http-logger/internal/model"
)

// TestSink is an ephemeral in-memory adapter backed by a fixed-size ring
// buffer. It exists for test assertions: enable it, run requests, inspect
// All(). It is always available and never fails.
type TestSink struct {
	mu        sync.Mutex
	maxSize   int
	records   []*model.LogRecord
	nextIndex int
}

func NewTestSink(maxSize int) *TestSink {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &TestSink{
		maxSize: maxSize,
		records: make([]*model.LogRecord, 0, maxSize),
	}
}

func (s *TestSink) Name() string { return "test" }

func (s *TestSink) Available() bool { return true }

func (s *TestSink) EstablishConnection(context.Context) error { return nil }

func (s *TestSink) LogRequest(_ context.Context, rec *model.LogRecord) error {
	if rec == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) < s.maxSize {
		s.records = append(s.records, rec)
		return nil
	}
	s.records[s.nextIndex] = rec
	s.nextIndex = (s.nextIndex + 1) % s.maxSize
	return nil
}

// All returns the buffered records, newest first.
func (s *TestSink) All() []*model.LogRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := len(s.records)
	out := make([]*model.LogRecord, 0, total)
	for i := 0; i < total; i++ {
		idx := (s.nextIndex + total - 1 - i) % total
		if rec := s.records[idx]; rec != nil {
			out = append(out, rec)
		}
	}
	return out
}

func (s *TestSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *TestSink) Reset() {
	s.mu.Lock()
	s.records = s.records[:0]
	s.nextIndex = 0
	s.mu.Unlock()
}

func (s *TestSink) Search(_ context.Context, q Query) ([]*model.LogRecord, error) {
	results := make([]*model.LogRecord, 0, q.limit())
	for _, rec := range s.All() {
		if !MatchRecord(rec, q) {
			continue
		}
		results = append(results, rec)
		if len(results) >= q.limit() {
			break
		}
	}
	return results, nil
}

func (s *TestSink) Analyze(context.Context) (Stats, error) {
	var total, success, failure int64
	for _, rec := range s.All() {
		total++
		if rec.Failure() {
			failure++
		} else if rec.Success() {
			success++
		}
	}
	return newStats(total, success, failure), nil
}

func (s *TestSink) Cleanup(_ context.Context, olderThanDays int) (int64, error) {
	cutoff := cutoffDate(olderThanDays)
	s.mu.Lock()
	defer s.mu.Unlock()
	total := len(s.records)
	kept := make([]*model.LogRecord, 0, total)
	var removed int64
	// walk oldest to newest so the rebuilt slice stays chronological after
	// the ring has wrapped; nextIndex is the oldest slot once it has
	for i := 0; i < total; i++ {
		rec := s.records[(s.nextIndex+i)%total]
		if rec == nil {
			continue
		}
		if rec.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	s.records = kept
	s.nextIndex = 0
	return removed, nil
}

func (s *TestSink) Close() error { return nil }
