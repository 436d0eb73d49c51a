package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getupgraded/inbound-http-logger/internal/config"
	"github.com/getupgraded/inbound-http-logger/internal/model"
	"github.com/getupgraded/inbound-http-logger/internal/storage"
)

type brokenSink struct {
	name  string
	panic bool
	calls int
}

func (b *brokenSink) Name() string                              { return b.name }
func (b *brokenSink) Available() bool                           { return true }
func (b *brokenSink) EstablishConnection(context.Context) error { return nil }
func (b *brokenSink) LogRequest(context.Context, *model.LogRecord) error {
	b.calls++
	if b.panic {
		panic("sink exploded")
	}
	return errors.New("write refused")
}
func (b *brokenSink) Search(context.Context, storage.Query) ([]*model.LogRecord, error) {
	return nil, nil
}
func (b *brokenSink) Analyze(context.Context) (storage.Stats, error) { return storage.Stats{}, nil }
func (b *brokenSink) Cleanup(context.Context, int) (int64, error)    { return 0, nil }
func (b *brokenSink) Close() error                                   { return nil }

func record() *model.LogRecord {
	return &model.LogRecord{
		Method:     "GET",
		URL:        "/users",
		StatusCode: 200,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestFanOutIndependence(t *testing.T) {
	primary := &brokenSink{name: "primary"}
	secondary := storage.NewTestSink(0)

	svc := New(primary)
	svc.SetSecondary(secondary)
	testSink := svc.EnableTestSink()

	svc.Log(context.Background(), config.Default(), record())

	assert.Equal(t, 1, primary.calls, "primary attempted")
	assert.Equal(t, 1, secondary.Count(), "secondary write survives primary failure")
	assert.Equal(t, 1, testSink.Count(), "test sink write survives primary failure")
}

func TestFanOutSurvivesPanickingSink(t *testing.T) {
	primary := &brokenSink{name: "primary", panic: true}
	svc := New(primary)
	testSink := svc.EnableTestSink()

	require.NotPanics(t, func() {
		svc.Log(context.Background(), config.Default(), record())
	})
	assert.Equal(t, 1, testSink.Count())
}

func TestInvalidRecordPersistsNothing(t *testing.T) {
	sink := storage.NewTestSink(0)
	svc := New(sink)

	bad := record()
	bad.Method = ""
	svc.Log(context.Background(), config.Default(), bad)

	assert.Zero(t, sink.Count())
}

func TestAdminOperationsRequirePrimary(t *testing.T) {
	svc := New(nil)

	_, err := svc.Search(context.Background(), storage.Query{})
	require.Error(t, err)
	_, err = svc.Analyze(context.Background())
	require.Error(t, err)
	_, err = svc.Cleanup(context.Background(), 7)
	require.Error(t, err)
}

func TestSearchDelegatesToPrimary(t *testing.T) {
	sink := storage.NewTestSink(0)
	svc := New(sink)

	svc.Log(context.Background(), config.Default(), record())
	other := record()
	other.URL = "/orders"
	svc.Log(context.Background(), config.Default(), other)

	found, err := svc.Search(context.Background(), storage.Query{Text: "orders"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "/orders", found[0].URL)

	stats, err := svc.Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, 1.0, stats.SuccessRate)
}

func TestClearSecondaryDetaches(t *testing.T) {
	primary := storage.NewTestSink(0)
	secondary := storage.NewTestSink(0)
	svc := New(primary)
	svc.SetSecondary(secondary)

	old := svc.ClearSecondary()
	assert.NotNil(t, old)

	svc.Log(context.Background(), config.Default(), record())
	assert.Equal(t, 1, primary.Count())
	assert.Zero(t, secondary.Count())
}
