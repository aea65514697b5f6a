package scan

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/labelscan/internal/fields"
)

func frame() image.Image { return imaging.New(64, 48, color.White) }

func trackingFields(id string) *fields.FieldSet {
	return &fields.FieldSet{TrackingID: &id, Confidence: 0.9, Source: fields.SourceOCR}
}

// gate blocks Process until released and reports when a call started.
type gate struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func newGate() *gate {
	return &gate{started: make(chan struct{}, 16), release: make(chan struct{})}
}

func (g *gate) Process(ctx context.Context, _ image.Image) (*fields.FieldSet, error) {
	g.calls.Add(1)
	g.started <- struct{}{}
	select {
	case <-g.release:
		return trackingFields("JX1"), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newTestManager(t *testing.T, cfg Config, p Processor, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(cfg, p, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return m
}

func waitTerminal(t *testing.T, m *Manager, id string) Record {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec, err := m.Wait(ctx, id)
	require.NoError(t, err)
	require.True(t, rec.Status.Terminal())
	return rec
}

func TestNewManager_RequiresProcessor(t *testing.T) {
	_, err := NewManager(DefaultConfig(), nil)
	require.Error(t, err)
}

func TestSubmit_ReturnsImmediatelyThenCompletes(t *testing.T) {
	g := newGate()
	m := newTestManager(t, Config{Workers: 1, QueueSize: 4}, g)

	id, err := m.Submit(frame())
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	<-g.started
	rec, ok := m.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Nil(t, rec.Fields)
	assert.Nil(t, rec.CompletedAt)

	close(g.release)
	done := waitTerminal(t, m, id)
	assert.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.Fields)
	require.NotNil(t, done.CompletedAt)
	assert.False(t, done.CompletedAt.Before(done.SubmittedAt))

	again, _ := m.Get(id)
	third, _ := m.Get(id)
	assert.Same(t, again.Fields, third.Fields, "repeated Get returns the same FieldSet")
	assert.Equal(t, done, again)
}

func TestSubmit_SameFrameTwiceGetsDistinctIDs(t *testing.T) {
	var n atomic.Int32
	p := ProcessorFunc(func(context.Context, image.Image) (*fields.FieldSet, error) {
		n.Add(1)
		return trackingFields("JX1"), nil
	})
	m := newTestManager(t, Config{Workers: 2, QueueSize: 4}, p)

	img := frame()
	a, err := m.Submit(img)
	require.NoError(t, err)
	b, err := m.Submit(img)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	assert.Equal(t, StatusCompleted, waitTerminal(t, m, a).Status)
	assert.Equal(t, StatusCompleted, waitTerminal(t, m, b).Status)
	assert.Equal(t, int32(2), n.Load())
}

func TestSubmit_CopiesFrame(t *testing.T) {
	seen := make(chan color.Color, 1)
	p := ProcessorFunc(func(_ context.Context, img image.Image) (*fields.FieldSet, error) {
		seen <- img.At(0, 0)
		return trackingFields("JX1"), nil
	})
	g := newGate()
	// Occupy the single worker so the frame sits in the queue while we mutate it.
	m := newTestManager(t, Config{Workers: 1, QueueSize: 2}, ProcessorFunc(func(ctx context.Context, img image.Image) (*fields.FieldSet, error) {
		if g.calls.Load() == 0 {
			return g.Process(ctx, img)
		}
		return p.Process(ctx, img)
	}))

	_, err := m.Submit(frame())
	require.NoError(t, err)
	<-g.started

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	id, err := m.Submit(img)
	require.NoError(t, err)
	img.Set(0, 0, color.RGBA{B: 255, A: 255})

	close(g.release)
	waitTerminal(t, m, id)
	r, _, b, _ := (<-seen).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.Equal(t, uint32(0), b)
}

func TestSubmit_Rejections(t *testing.T) {
	g := newGate()
	m := newTestManager(t, Config{Workers: 1, QueueSize: 1}, g)

	_, err := m.Submit(nil)
	require.Error(t, err)

	first, err := m.Submit(frame())
	require.NoError(t, err)
	<-g.started
	_, err = m.Submit(frame())
	require.NoError(t, err, "fills the queue")

	_, err = m.Submit(frame())
	require.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 2, m.Stats().Pending, "rejected submit leaves no record")

	close(g.release)
	waitTerminal(t, m, first)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Close(ctx))
	require.NoError(t, m.Close(ctx), "close is idempotent")
	_, err = m.Submit(frame())
	require.ErrorIs(t, err, ErrClosed)
}

func TestRun_Failures(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		proc    ProcessorFunc
		wantErr string
	}{
		{
			name: "processor error",
			proc: func(context.Context, image.Image) (*fields.FieldSet, error) {
				return nil, errors.New("ocr: zone header: engine down")
			},
			wantErr: "engine down",
		},
		{
			name: "panic",
			proc: func(context.Context, image.Image) (*fields.FieldSet, error) {
				panic("boom")
			},
			wantErr: "processing panicked: boom",
		},
		{
			name: "nil fields",
			proc: func(context.Context, image.Image) (*fields.FieldSet, error) {
				return nil, nil
			},
			wantErr: "no fields",
		},
		{
			name: "deadline with a processor that ignores ctx",
			cfg:  Config{MaxProcessingTime: 50 * time.Millisecond},
			proc: func(context.Context, image.Image) (*fields.FieldSet, error) {
				time.Sleep(300 * time.Millisecond)
				return trackingFields("late"), nil
			},
			wantErr: "processing exceeded 50ms",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t, tt.cfg, tt.proc)
			id, err := m.Submit(frame())
			require.NoError(t, err)
			rec := waitTerminal(t, m, id)
			assert.Equal(t, StatusFailed, rec.Status)
			assert.Contains(t, rec.Error, tt.wantErr)
			assert.Nil(t, rec.Fields)
		})
	}
}

func TestRun_LateResultDoesNotOverwrite(t *testing.T) {
	finished := make(chan struct{})
	p := ProcessorFunc(func(context.Context, image.Image) (*fields.FieldSet, error) {
		defer close(finished)
		time.Sleep(150 * time.Millisecond)
		return trackingFields("late"), nil
	})
	m := newTestManager(t, Config{MaxProcessingTime: 30 * time.Millisecond}, p)
	id, err := m.Submit(frame())
	require.NoError(t, err)
	rec := waitTerminal(t, m, id)
	require.Equal(t, StatusFailed, rec.Status)

	<-finished
	time.Sleep(20 * time.Millisecond)
	after, ok := m.Get(id)
	require.True(t, ok)
	assert.Equal(t, rec, after)
}

func TestFinish_SingleTransition(t *testing.T) {
	g := newGate()
	m := newTestManager(t, Config{Workers: 1}, g)
	id, err := m.Submit(frame())
	require.NoError(t, err)
	<-g.started

	assert.True(t, m.finish(id, outcome{err: errors.New("first")}))
	assert.False(t, m.finish(id, outcome{fs: trackingFields("second")}))
	assert.False(t, m.finish("missing", outcome{}))

	rec, _ := m.Get(id)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "first", rec.Error)

	close(g.release)
	time.Sleep(20 * time.Millisecond)
	rec2, _ := m.Get(id)
	assert.Equal(t, rec, rec2, "worker result after a terminal transition is dropped")
}

type fakeRecorder struct {
	mu   sync.Mutex
	ids  []string
	fail bool
}

func (r *fakeRecorder) Record(_ context.Context, id string, _ *fields.FieldSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	if r.fail {
		return errors.New("disk full")
	}
	return nil
}

func (r *fakeRecorder) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func TestRecorder(t *testing.T) {
	ok := ProcessorFunc(func(context.Context, image.Image) (*fields.FieldSet, error) { return trackingFields("JX1"), nil })
	bad := ProcessorFunc(func(context.Context, image.Image) (*fields.FieldSet, error) { return nil, errors.New("nope") })

	t.Run("completed scans are recorded", func(t *testing.T) {
		rec := &fakeRecorder{}
		m := newTestManager(t, Config{}, ok, WithRecorder(rec))
		id, err := m.Submit(frame())
		require.NoError(t, err)
		waitTerminal(t, m, id)
		assert.Eventually(t, func() bool { return len(rec.recorded()) == 1 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, []string{id}, rec.recorded())
	})

	t.Run("failed scans are not", func(t *testing.T) {
		rec := &fakeRecorder{}
		m := newTestManager(t, Config{}, bad, WithRecorder(rec))
		id, err := m.Submit(frame())
		require.NoError(t, err)
		waitTerminal(t, m, id)
		time.Sleep(20 * time.Millisecond)
		assert.Empty(t, rec.recorded())
	})

	t.Run("recorder errors do not fail the scan", func(t *testing.T) {
		rec := &fakeRecorder{fail: true}
		m := newTestManager(t, Config{}, ok, WithRecorder(rec))
		id, err := m.Submit(frame())
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, waitTerminal(t, m, id).Status)
		assert.Eventually(t, func() bool { return len(rec.recorded()) == 1 }, time.Second, 5*time.Millisecond)
		r, _ := m.Get(id)
		assert.Equal(t, StatusCompleted, r.Status)
	})
}

func TestWait(t *testing.T) {
	g := newGate()
	m := newTestManager(t, Config{Workers: 1}, g)

	_, err := m.Wait(context.Background(), "nope")
	require.ErrorIs(t, err, ErrUnknownScan)

	id, err := m.Submit(frame())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	rec, err := m.Wait(ctx, id)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatusPending, rec.Status)

	close(g.release)
	assert.Equal(t, StatusCompleted, waitTerminal(t, m, id).Status)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestSweep(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)}
	g := newGate()
	var blockNext atomic.Bool
	p := ProcessorFunc(func(ctx context.Context, img image.Image) (*fields.FieldSet, error) {
		if blockNext.Load() {
			return g.Process(ctx, img)
		}
		return trackingFields("JX1"), nil
	})
	m := newTestManager(t, Config{Workers: 1, QueueSize: 8, RetentionTTL: time.Hour, MaxRecords: 2}, p, WithClock(clock.Now))

	var done []string
	for range 3 {
		id, err := m.Submit(frame())
		require.NoError(t, err)
		waitTerminal(t, m, id)
		done = append(done, id)
		clock.Advance(time.Minute)
	}

	// The third completion already pushed the oldest record out.
	_, ok := m.Get(done[0])
	assert.False(t, ok)

	blockNext.Store(true)
	pending, err := m.Submit(frame())
	require.NoError(t, err)
	<-g.started

	// 3 records, limit 2: the oldest terminal one goes.
	assert.Equal(t, 1, m.sweep(clock.Now()))
	_, ok = m.Get(done[1])
	assert.False(t, ok)
	_, ok = m.Get(done[2])
	assert.True(t, ok)

	// TTL expiry removes the last terminal record but never the pending one.
	clock.Advance(2 * time.Hour)
	assert.Equal(t, 1, m.sweep(clock.Now()))
	rec, ok := m.Get(pending)
	require.True(t, ok)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, 0, m.sweep(clock.Now()))

	list := m.List(0)
	require.Len(t, list, 1)
	assert.Equal(t, pending, list[0].ID)

	close(g.release)
}

func TestFinish_EnforcesMaxRecords(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)}
	g := newGate()
	var blockNext atomic.Bool
	p := ProcessorFunc(func(ctx context.Context, img image.Image) (*fields.FieldSet, error) {
		if blockNext.Load() {
			return g.Process(ctx, img)
		}
		return trackingFields("JX1"), nil
	})
	cfg := Config{Workers: 1, QueueSize: 8, RetentionTTL: time.Hour, MaxRecords: 2, JanitorInterval: time.Hour}
	m := newTestManager(t, cfg, p, WithClock(clock.Now))

	tests := []struct {
		name     string
		retained int
	}{
		{name: "first", retained: 1},
		{name: "second", retained: 2},
		{name: "third evicts the oldest", retained: 2},
		{name: "fourth evicts the next", retained: 2},
	}
	var ids []string
	for _, tt := range tests {
		id, err := m.Submit(frame())
		require.NoError(t, err, tt.name)
		waitTerminal(t, m, id)
		ids = append(ids, id)
		clock.Advance(time.Minute)

		assert.Len(t, m.List(0), tt.retained, tt.name)
		_, ok := m.Get(id)
		assert.True(t, ok, tt.name)
	}
	for _, id := range ids[:2] {
		_, ok := m.Get(id)
		assert.False(t, ok)
	}

	// Pending records never count as evictable and the record just
	// finished survives its own completion.
	blockNext.Store(true)
	var last string
	for range 3 {
		id, err := m.Submit(frame())
		require.NoError(t, err)
		last = id
	}
	<-g.started
	close(g.release)

	rec := waitTerminal(t, m, last)
	assert.Equal(t, StatusCompleted, rec.Status)
	_, ok := m.Get(last)
	assert.True(t, ok)
	assert.Equal(t, 0, m.Stats().Pending)
	assert.Len(t, m.List(0), 2)
}

func TestList_NewestFirst(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)}
	p := ProcessorFunc(func(context.Context, image.Image) (*fields.FieldSet, error) { return trackingFields("JX1"), nil })
	m := newTestManager(t, Config{}, p, WithClock(clock.Now))

	var ids []string
	for range 3 {
		id, err := m.Submit(frame())
		require.NoError(t, err)
		waitTerminal(t, m, id)
		ids = append(ids, id)
		clock.Advance(time.Second)
	}
	list := m.List(2)
	require.Len(t, list, 2)
	assert.Equal(t, ids[2], list[0].ID)
	assert.Equal(t, ids[1], list[1].ID)

	s := m.Stats()
	assert.Equal(t, 3, s.Completed)
	assert.Equal(t, 0, s.Pending)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultConfig().Workers, cfg.Workers)
	assert.Equal(t, 30*time.Second, cfg.MaxProcessingTime)
	assert.Equal(t, 16, cfg.QueueSize)
	assert.Equal(t, 1000, cfg.MaxRecords)
}
