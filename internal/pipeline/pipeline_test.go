package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glenfinch/river-snap-service/internal/domain"
	"github.com/glenfinch/river-snap-service/internal/observability"
	"github.com/glenfinch/river-snap-service/internal/pipeline"
	"github.com/glenfinch/river-snap-service/internal/snap"
)

// --- mocks ---

type mockExtractor struct {
	batches [][]domain.RawRecord
	index   atomic.Int64
	err     error
}

func (m *mockExtractor) ExtractBatch(ctx context.Context, _ int) ([]domain.RawRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	i := int(m.index.Add(1) - 1)
	if i >= len(m.batches) {
		// block until context cancelled to simulate waiting for records
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return m.batches[i], nil
}

type mockTransformer struct {
	err error
}

func (m *mockTransformer) Transform(_ context.Context, raw domain.RawRecord) (domain.Site, error) {
	if m.err != nil {
		return domain.Site{}, m.err
	}
	var site domain.Site
	if err := json.Unmarshal(raw.Value, &site); err != nil {
		return domain.Site{}, err
	}
	return site, nil
}

type mockLoader struct {
	loaded []domain.Site
	err    error
}

func (m *mockLoader) LoadBatch(_ context.Context, sites []domain.Site) error {
	if m.err != nil {
		return m.err
	}
	m.loaded = append(m.loaded, sites...)
	return nil
}

type mockSnapper struct {
	result snap.Result
	err    error
}

func (m *mockSnapper) Snap(_ context.Context, _, _ float64) (snap.Result, error) {
	return m.result, m.err
}

// mapSampler serves raw readings from a map, with everything else NoData.
type mapSampler struct {
	cells map[snap.GridPoint]float64
}

func (s mapSampler) Sample(_ context.Context, p snap.GridPoint) (float64, error) {
	if v, ok := s.cells[p]; ok {
		return v, nil
	}
	return snap.DefaultNoDataRaw, nil
}

func newTestMetrics() *observability.Metrics {
	m, _ := observability.NewMetricsForTesting()
	return m
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- pipeline tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	raws := []domain.RawRecord{
		makeRawRecord(t, "site-1", "ea_wq", 395000, 205000),
		makeRawRecord(t, "site-2", "ea_bio", 395100, 205100),
	}

	ext := &mockExtractor{batches: [][]domain.RawRecord{raws}}
	tfm := &mockTransformer{}
	ldr := &mockLoader{}
	metrics := newTestMetrics()

	p := pipeline.New(ext, tfm, ldr, discardLogger(), metrics, 50)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	require.NoError(t, err)
	require.Len(t, ldr.loaded, 2)
	assert.Equal(t, "site-1", ldr.loaded[0].ID)
	assert.Equal(t, "site-2", ldr.loaded[1].ID)
	assert.NoError(t, p.CheckReadiness(context.Background()))

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.RecordsConsumed))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.RecordsProduced))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.TransformErrors))
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	ext := &mockExtractor{} // no batches, will block
	tfm := &mockTransformer{}
	ldr := &mockLoader{}

	p := pipeline.New(ext, tfm, ldr, discardLogger(), newTestMetrics(), 50)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	err := p.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, ldr.loaded)
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_TransformError(t *testing.T) {
	commits := 0
	raw := makeRawRecord(t, "site-3", "ea_wq", 395000, 205000)
	raw.Commit = func(_ context.Context) error {
		commits++
		return nil
	}

	ext := &mockExtractor{batches: [][]domain.RawRecord{{raw}}}
	tfm := &mockTransformer{err: errors.New("bad data")}
	ldr := &mockLoader{}
	metrics := newTestMetrics()

	p := pipeline.New(ext, tfm, ldr, discardLogger(), metrics, 50)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, ldr.loaded)
	assert.Error(t, p.CheckReadiness(context.Background()))

	// Poison records are committed so they are not re-read forever.
	assert.Equal(t, 1, commits)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TransformErrors))
}

func TestPipeline_Run_CommitsAfterLoad(t *testing.T) {
	commits := 0
	raw := makeRawRecord(t, "site-4", "ea_wq", 395000, 205000)
	raw.Topic = "site-register"
	raw.Commit = func(_ context.Context) error {
		commits++
		return nil
	}

	ext := &mockExtractor{batches: [][]domain.RawRecord{{raw}}}
	ldr := &mockLoader{}

	p := pipeline.New(ext, &mockTransformer{}, ldr, discardLogger(), newTestMetrics(), 50)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	require.NoError(t, err)
	assert.Len(t, ldr.loaded, 1)
	assert.Equal(t, 1, commits)
}

func TestPipeline_Run_LoadErrorHoldsCommit(t *testing.T) {
	commits := 0
	raw := makeRawRecord(t, "site-5", "ea_wq", 395000, 205000)
	raw.Commit = func(_ context.Context) error {
		commits++
		return nil
	}

	ext := &mockExtractor{batches: [][]domain.RawRecord{{raw}}}
	ldr := &mockLoader{err: errors.New("broker down")}
	metrics := newTestMetrics()

	p := pipeline.New(ext, &mockTransformer{}, ldr, discardLogger(), metrics, 50)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	require.NoError(t, err)

	// Offsets stay uncommitted so the records are re-read after a restart.
	assert.Equal(t, 0, commits)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.RecordsProduced))
}

// --- transformer tests ---

func TestSiteTransformer_Transform(t *testing.T) {
	fakeClock := clockwork.NewFakeClockAt(time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC))
	domain.SetClock(fakeClock)
	t.Cleanup(func() {
		domain.SetClock(nil)
	})

	raw := makeRawRecord(t, "wq-1001", "ea_wq", 395075, 205030)

	tfm := pipeline.NewTransformer(nil, true, discardLogger(), newTestMetrics())
	site, err := tfm.Transform(context.Background(), raw)
	require.NoError(t, err)

	want := domain.Site{
		ID:          "wq-1001",
		Name:        "Test Site",
		Network:     "EA_WQ",
		Region:      "gb",
		Easting:     395075,
		Northing:    205030,
		ProcessedAt: fakeClock.Now(),
	}
	got := site
	got.RawPayload = nil
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("transformed site mismatch (-want +got):\n%s", diff)
	}
}

func TestSiteTransformer_SnapOutcomes(t *testing.T) {
	snappedResult := snap.Result{
		Cell: snap.Cell{
			Point:    snap.GridPoint{Easting: 395100, Northing: 205050},
			Value:    snap.NewValue(640),
			Distance: 55.9,
		},
		Found: true,
	}

	t.Run("snapped", func(t *testing.T) {
		metrics := newTestMetrics()
		tfm := pipeline.NewTransformer(&mockSnapper{result: snappedResult}, true, discardLogger(), metrics)

		site, err := tfm.Transform(context.Background(), makeRawRecord(t, "s-1", "ea_wq", 395080, 205040))
		require.NoError(t, err)
		assert.Equal(t, domain.SnapSourceSnapped, site.SnapSource)
		assert.Equal(t, 395100.0, site.SnappedEasting)
		assert.Equal(t, 205050.0, site.SnappedNorthing)
		assert.Equal(t, 640.0, site.FlowAccumulation)
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SnapOutcomes.WithLabelValues("snapped")))
	})

	t.Run("fallback keeps original coordinates", func(t *testing.T) {
		metrics := newTestMetrics()
		tfm := pipeline.NewTransformer(&mockSnapper{}, true, discardLogger(), metrics)

		site, err := tfm.Transform(context.Background(), makeRawRecord(t, "s-2", "ea_wq", 395080, 205040))
		require.NoError(t, err)
		assert.Equal(t, domain.SnapSourceOriginal, site.SnapSource)
		assert.Zero(t, site.SnappedEasting)
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SnapOutcomes.WithLabelValues("original")))
	})

	t.Run("no fallback fails the record", func(t *testing.T) {
		metrics := newTestMetrics()
		tfm := pipeline.NewTransformer(&mockSnapper{}, false, discardLogger(), metrics)

		_, err := tfm.Transform(context.Background(), makeRawRecord(t, "s-3", "ea_wq", 395080, 205040))
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrNoChannel)
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SnapOutcomes.WithLabelValues("no_channel")))
	})

	t.Run("grid failure fails the record", func(t *testing.T) {
		metrics := newTestMetrics()
		tfm := pipeline.NewTransformer(&mockSnapper{err: errors.New("connection reset")}, true, discardLogger(), metrics)

		_, err := tfm.Transform(context.Background(), makeRawRecord(t, "s-4", "ea_wq", 395080, 205040))
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrNoChannel)
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SnapOutcomes.WithLabelValues("error")))
	})
}

func TestNewSnapper_BindsThresholdAndHorizon(t *testing.T) {
	// One channel cell two rings east of the rounded center, below the
	// threshold everywhere else.
	sampler := mapSampler{cells: map[snap.GridPoint]float64{
		{Easting: 100, Northing: 0}: 350,
		{Easting: 50, Northing: 0}:  40,
	}}
	grid, err := snap.New(snap.SamplerSource(sampler))
	require.NoError(t, err)

	snapper := pipeline.NewSnapper(grid, 200, 4)

	res, err := snapper.Snap(context.Background(), 0, 0)
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, snap.GridPoint{Easting: 100, Northing: 0}, res.Cell.Point)
	assert.Equal(t, 100.0, res.Cell.Distance)

	// Horizon of 1 ring cannot reach the channel.
	short := pipeline.NewSnapper(grid, 200, 1)
	res, err = short.Snap(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.False(t, res.Found)
}

// --- helpers ---

func makeRawRecord(t *testing.T, id, network string, easting, northing float64) domain.RawRecord {
	t.Helper()
	data, err := json.Marshal(domain.RawSiteRecord{
		ID:       id,
		Name:     "Test Site",
		Network:  network,
		Easting:  &easting,
		Northing: &northing,
	})
	require.NoError(t, err)
	return domain.RawRecord{
		Key:   []byte(id),
		Value: data,
	}
}
