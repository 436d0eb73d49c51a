package service

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/getupgraded/inbound-http-logger/internal/config"
	"github.com/getupgraded/inbound-http-logger/internal/model"
	"github.com/getupgraded/inbound-http-logger/internal/pkg/errdef"
	"github.com/getupgraded/inbound-http-logger/internal/pkg/logger"
	"github.com/getupgraded/inbound-http-logger/internal/pkg/metrics"
	"github.com/getupgraded/inbound-http-logger/internal/storage"
)

// LogService fans one assembled record out to the configured sinks in fixed
// order: primary, then secondary, then test. Every sink write is independent;
// a failure (error or panic) in one sink is reported through the logger and
// never reaches the next sink or the caller.
type LogService struct {
	mu        sync.RWMutex
	primary   storage.Adapter
	secondary storage.Adapter
	testSink  *storage.TestSink

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter
}

func New(primary storage.Adapter) *LogService {
	return &LogService{
		primary:  primary,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (s *LogService) SetPrimary(a storage.Adapter) {
	s.mu.Lock()
	s.primary = a
	s.mu.Unlock()
}

func (s *LogService) Primary() storage.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.primary
}

func (s *LogService) SetSecondary(a storage.Adapter) {
	s.mu.Lock()
	s.secondary = a
	s.mu.Unlock()
}

// ClearSecondary detaches the secondary sink and returns it so the caller can
// close it.
func (s *LogService) ClearSecondary() storage.Adapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.secondary
	s.secondary = nil
	return old
}

// EnableTestSink attaches (or returns the already attached) ephemeral
// assertion sink.
func (s *LogService) EnableTestSink() *storage.TestSink {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.testSink == nil {
		s.testSink = storage.NewTestSink(0)
	}
	return s.testSink
}

func (s *LogService) DisableTestSink() {
	s.mu.Lock()
	s.testSink = nil
	s.mu.Unlock()
}

func (s *LogService) TestSink() *storage.TestSink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.testSink
}

// Log validates and persists one record. It never returns an error and never
// panics: persistence problems belong to this library, not to the request
// that triggered them.
func (s *LogService) Log(ctx context.Context, cfg *config.Config, rec *model.LogRecord) {
	if rec == nil {
		return
	}
	if err := rec.Validate(); err != nil {
		s.report(ctx, cfg, "validate", errdef.Persistence("invalid log record", err))
		return
	}

	s.mu.RLock()
	primary, secondary := s.primary, s.secondary
	testSink := s.testSink
	s.mu.RUnlock()

	s.write(ctx, cfg, primary, rec)
	s.write(ctx, cfg, secondary, rec)
	if testSink != nil {
		s.write(ctx, cfg, testSink, rec)
	}
}

func (s *LogService) write(ctx context.Context, cfg *config.Config, sink storage.Adapter, rec *model.LogRecord) {
	if sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			metrics.SinkFailures.WithLabelValues(sink.Name()).Inc()
			s.report(ctx, cfg, sink.Name(), errdef.Persistence(fmt.Sprintf("sink panicked: %v", r), nil))
		}
	}()
	if err := sink.LogRequest(ctx, rec); err != nil {
		metrics.SinkFailures.WithLabelValues(sink.Name()).Inc()
		s.report(ctx, cfg, sink.Name(), err)
	}
}

// report logs a sink failure, throttled per sink so a dead backend cannot
// flood the host's logs. Stack traces only under the debug flag.
func (s *LogService) report(ctx context.Context, cfg *config.Config, sink string, err error) {
	if !s.limiter(sink).Allow() {
		return
	}
	args := []any{"sink", sink, "error", err.Error()}
	log := logger.Get()
	if cfg != nil {
		log = cfg.LoggerOrDefault()
		if cfg.DebugLogging {
			args = append(args, "stack", string(debug.Stack()))
		}
	}
	log.ErrorContext(ctx, "failed to persist request log", args...)
}

func (s *LogService) limiter(sink string) *rate.Limiter {
	s.limMu.Lock()
	defer s.limMu.Unlock()
	lim, ok := s.limiters[sink]
	if !ok {
		lim = rate.NewLimiter(rate.Every(10*time.Second), 5)
		s.limiters[sink] = lim
	}
	return lim
}

// Search queries the primary sink.
func (s *LogService) Search(ctx context.Context, q storage.Query) ([]*model.LogRecord, error) {
	primary := s.Primary()
	if primary == nil {
		return nil, errdef.Connection("no primary sink is configured", nil)
	}
	return primary.Search(ctx, q)
}

// Analyze aggregates over the primary sink.
func (s *LogService) Analyze(ctx context.Context) (storage.Stats, error) {
	primary := s.Primary()
	if primary == nil {
		return storage.Stats{}, errdef.Connection("no primary sink is configured", nil)
	}
	return primary.Analyze(ctx)
}

// Cleanup deletes records older than the cutoff from the primary sink.
func (s *LogService) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	primary := s.Primary()
	if primary == nil {
		return 0, errdef.Connection("no primary sink is configured", nil)
	}
	return primary.Cleanup(ctx, olderThanDays)
}

// Close closes every attached sink, keeping the first error.
func (s *LogService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for _, sink := range []storage.Adapter{s.primary, s.secondary} {
		if sink == nil {
			continue
		}
		if err := sink.Close(); err != nil && first == nil {
			first = err
		}
	}
	s.primary = nil
	s.secondary = nil
	s.testSink = nil
	return first
}
