package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/cab-fare-service/internal/models"
)

var features = models.Features{40.7580, -73.9855, 40.6413, -73.7781, 2, 21.77, 17}

type fakePredictor struct {
	calls   atomic.Int32
	value   float64
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakePredictor) Predict(ctx context.Context, _ models.Features) (float64, error) {
	f.calls.Add(1)
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.release != nil {
		<-f.release
	}
	return f.value, f.err
}

type failingCache struct{ err error }

func (c failingCache) Get(context.Context, string) (float64, bool, error) { return 0, false, c.err }
func (c failingCache) Set(context.Context, string, float64, time.Duration) error {
	return c.err
}

func TestKey_Canonical(t *testing.T) {
	a := Key(features)
	if a != Key(features) {
		t.Error("Key() not stable for equal vectors")
	}
	other := features
	other[4] = 3
	if Key(other) == a {
		t.Error("Key() collides for vectors differing in passenger count")
	}
	tiny := features
	tiny[5] = 21.770000000000003
	if Key(tiny) == a {
		t.Error("Key() collides for vectors differing in the last float bit")
	}
}

// TestCachingPredictor_HitAfterMiss verifies the second identical request is
// served from cache without calling the model.
func TestCachingPredictor_HitAfterMiss(t *testing.T) {
	next := &fakePredictor{value: 12.5}
	p := NewCachingPredictor(next, NewInMemoryCache(0), time.Minute, "memory", nil)

	for i := 0; i < 3; i++ {
		got, err := p.Predict(context.Background(), features)
		if err != nil {
			t.Fatalf("Predict() error = %v", err)
		}
		if got != 12.5 {
			t.Errorf("Predict() = %v, want 12.5", got)
		}
	}
	if n := next.calls.Load(); n != 1 {
		t.Errorf("model calls = %d, want 1", n)
	}
}

// TestCachingPredictor_ErrorsNotCached verifies a failure is surfaced and the
// next request calls the model again.
func TestCachingPredictor_ErrorsNotCached(t *testing.T) {
	boom := errors.New("model down")
	next := &fakePredictor{err: boom}
	c := NewInMemoryCache(0)
	p := NewCachingPredictor(next, c, time.Minute, "memory", nil)

	for i := 0; i < 2; i++ {
		got, err := p.Predict(context.Background(), features)
		if !errors.Is(err, boom) {
			t.Fatalf("Predict() error = %v, want %v", err, boom)
		}
		if got != 0 {
			t.Errorf("Predict() = %v on error, want 0", got)
		}
	}
	if n := next.calls.Load(); n != 2 {
		t.Errorf("model calls = %d, want 2", n)
	}
	if c.Len() != 0 {
		t.Errorf("cache Len() = %d, want 0", c.Len())
	}
}

// TestCachingPredictor_BackendFailureFallsThrough verifies a broken cache
// backend never fails the prediction.
func TestCachingPredictor_BackendFailureFallsThrough(t *testing.T) {
	next := &fakePredictor{value: 9.0}
	p := NewCachingPredictor(next, failingCache{err: errors.New("connection refused")}, time.Minute, "memcached", nil)

	got, err := p.Predict(context.Background(), features)
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if got != 9.0 {
		t.Errorf("Predict() = %v, want 9.0", got)
	}
}

// TestCachingPredictor_ZeroTTLDisablesCache verifies ttl <= 0 is a pass-through.
func TestCachingPredictor_ZeroTTLDisablesCache(t *testing.T) {
	next := &fakePredictor{value: 4.0}
	p := NewCachingPredictor(next, NewInMemoryCache(0), 0, "memory", nil)
	_, _ = p.Predict(context.Background(), features)
	_, _ = p.Predict(context.Background(), features)
	if n := next.calls.Load(); n != 2 {
		t.Errorf("model calls = %d, want 2", n)
	}
}

// TestCachingPredictor_CoalescesConcurrentMisses verifies concurrent misses on
// one key share a single model call.
func TestCachingPredictor_CoalescesConcurrentMisses(t *testing.T) {
	next := &fakePredictor{value: 30.0, started: make(chan struct{}, 1), release: make(chan struct{})}
	p := NewCachingPredictor(next, NewInMemoryCache(0), time.Minute, "memory", nil)

	const callers = 8
	var wg sync.WaitGroup
	results := make(chan float64, callers)
	errs := make(chan error, callers)
	call := func() {
		defer wg.Done()
		v, err := p.Predict(context.Background(), features)
		if err != nil {
			errs <- err
			return
		}
		results <- v
	}

	wg.Add(1)
	go call()
	<-next.started
	for i := 1; i < callers; i++ {
		wg.Add(1)
		go call()
	}
	waitForActiveMisses(t, p, callers)
	time.Sleep(20 * time.Millisecond)
	close(next.release)
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Errorf("Predict() error = %v", err)
	}
	for v := range results {
		if v != 30.0 {
			t.Errorf("Predict() = %v, want 30.0", v)
		}
	}
	if n := next.calls.Load(); n != 1 {
		t.Errorf("model calls = %d, want 1", n)
	}
}

// TestCachingPredictor_CallerCancel verifies a waiting caller returns on its
// own cancellation while the shared call continues for others.
func TestCachingPredictor_CallerCancel(t *testing.T) {
	next := &fakePredictor{value: 8.0, started: make(chan struct{}, 1), release: make(chan struct{})}
	p := NewCachingPredictor(next, NewInMemoryCache(0), time.Minute, "memory", nil)

	leaderDone := make(chan error, 1)
	go func() {
		_, err := p.Predict(context.Background(), features)
		leaderDone <- err
	}()
	<-next.started

	ctx, cancel := context.WithCancel(context.Background())
	followerDone := make(chan error, 1)
	go func() {
		_, err := p.Predict(ctx, features)
		followerDone <- err
	}()
	waitForActiveMisses(t, p, 2)
	cancel()
	if err := <-followerDone; !errors.Is(err, context.Canceled) {
		t.Errorf("follower error = %v, want context.Canceled", err)
	}

	close(next.release)
	if err := <-leaderDone; err != nil {
		t.Errorf("leader error = %v, want nil", err)
	}
}

func waitForActiveMisses(t *testing.T, p *CachingPredictor, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p.misses.mu.Lock()
		n := p.misses.active[Key(features)]
		p.misses.mu.Unlock()
		if n >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d active misses", want)
}
