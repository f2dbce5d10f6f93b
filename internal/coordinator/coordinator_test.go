package coordinator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VeselaHouba/Home-assistant-Solax-cloud/internal/solax"
)

type fetchResult struct {
	snap solax.Snapshot
	err  error
}

// scriptedFetcher returns the queued results in order, repeating the last one
type scriptedFetcher struct {
	mu      sync.Mutex
	results []fetchResult
	calls   int
}

func (f *scriptedFetcher) FetchRealtime(context.Context) (solax.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.results[min(f.calls, len(f.results)-1)]
	f.calls++
	return r.snap, r.err
}

func (f *scriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCurrent_BeforeFirstRefresh(t *testing.T) {
	c := New(&scriptedFetcher{}, WithLogger(quietLogger()))

	assert.True(t, c.Current().IsZero())
	assert.False(t, c.State().HasData())
	assert.False(t, c.State().OK)
}

func TestRefresh_Success(t *testing.T) {
	fixed := time.Date(2025, 12, 28, 16, 0, 0, 0, time.UTC)
	snap := solax.NewSnapshot(map[string]any{"soc": 80.0})
	c := New(&scriptedFetcher{results: []fetchResult{{snap: snap}}},
		WithLogger(quietLogger()),
		WithClock(func() time.Time { return fixed }),
	)

	require.NoError(t, c.Refresh(context.Background()))

	v, ok := c.Current().Get("soc")
	assert.True(t, ok)
	assert.Equal(t, 80.0, v)

	state := c.State()
	assert.True(t, state.OK)
	assert.NoError(t, state.Err)
	assert.Equal(t, fixed, state.FetchedAt)
	assert.Equal(t, uint64(1), state.Successes)
	assert.Equal(t, uint64(0), state.Failures)
}

func TestRefresh_FailureKeepsLastKnownGood(t *testing.T) {
	good := solax.NewSnapshot(map[string]any{"soc": 80.0, "acpower": 1200.0})
	fetchErr := errors.New("network unreachable")
	f := &scriptedFetcher{results: []fetchResult{{snap: good}, {err: fetchErr}}}
	c := New(f, WithLogger(quietLogger()))

	require.NoError(t, c.Refresh(context.Background()))
	before := c.State()

	err := c.Refresh(context.Background())
	require.ErrorIs(t, err, fetchErr)

	assert.Equal(t, good, c.Current())
	state := c.State()
	assert.False(t, state.OK)
	assert.ErrorIs(t, state.Err, fetchErr)
	assert.Equal(t, before.FetchedAt, state.FetchedAt)
	assert.Equal(t, uint64(1), state.Successes)
	assert.Equal(t, uint64(1), state.Failures)
	assert.True(t, state.HasData())
}

func TestRefresh_FailureBeforeAnySuccess(t *testing.T) {
	c := New(&scriptedFetcher{results: []fetchResult{{err: solax.ErrFetch}}}, WithLogger(quietLogger()))

	require.Error(t, c.Refresh(context.Background()))
	assert.True(t, c.Current().IsZero())
	assert.False(t, c.State().HasData())
}

func TestRefresh_RecoversAfterFailure(t *testing.T) {
	first := solax.NewSnapshot(map[string]any{"soc": 50.0})
	second := solax.NewSnapshot(map[string]any{"soc": 60.0})
	f := &scriptedFetcher{results: []fetchResult{{snap: first}, {err: solax.ErrFetch}, {snap: second}}}
	c := New(f, WithLogger(quietLogger()))

	for i := 0; i < 3; i++ {
		_ = c.Refresh(context.Background())
	}

	assert.Equal(t, second, c.Current())
	assert.True(t, c.State().OK)
	assert.NoError(t, c.State().Err)
}

func TestSubscribe_NotifiedOnSuccessAndFailure(t *testing.T) {
	good := solax.NewSnapshot(map[string]any{"soc": 80.0})
	f := &scriptedFetcher{results: []fetchResult{{snap: good}, {err: solax.ErrFetch}}}
	c := New(f, WithLogger(quietLogger()))

	var got []State
	c.Subscribe(func(s State) { got = append(got, s) })

	_ = c.Refresh(context.Background())
	_ = c.Refresh(context.Background())

	require.Len(t, got, 2)
	assert.True(t, got[0].OK)
	assert.False(t, got[1].OK)
	assert.Equal(t, good, got[1].Snapshot)
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	f := &scriptedFetcher{results: []fetchResult{{snap: solax.NewSnapshot(nil)}}}
	c := New(f, WithLogger(quietLogger()))

	var a, b int
	unsubA := c.Subscribe(func(State) { a++ })
	c.Subscribe(func(State) { b++ })

	_ = c.Refresh(context.Background())
	unsubA()
	unsubA()
	_ = c.Refresh(context.Background())

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
}

// blockingFetcher holds every fetch until release is closed
type blockingFetcher struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (f *blockingFetcher) FetchRealtime(context.Context) (solax.Snapshot, error) {
	if f.calls.Add(1) == 1 {
		close(f.started)
	}
	<-f.release
	return solax.NewSnapshot(map[string]any{"soc": 1.0}), nil
}

func TestRefresh_SingleFlight(t *testing.T) {
	f := &blockingFetcher{started: make(chan struct{}), release: make(chan struct{})}
	c := New(f, WithLogger(quietLogger()))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = c.Refresh(context.Background())
	}()
	<-f.started

	// Served from the last-known-good state while the fetch is outstanding
	assert.True(t, c.Current().IsZero())

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Refresh(context.Background())
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(f.release)
	wg.Wait()

	assert.Equal(t, int32(1), f.calls.Load())
	assert.False(t, c.Current().IsZero())
}

func TestRun_RefreshesUntilCancelled(t *testing.T) {
	f := &scriptedFetcher{results: []fetchResult{{err: solax.ErrFetch}}}
	c := New(f, WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return f.Calls() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.GreaterOrEqual(t, c.State().Failures, uint64(3))
}
