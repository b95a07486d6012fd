package lazy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetBuildsOnceUnderContention(t *testing.T) {
	var builds int32
	h := New("index", func(context.Context) (*int, error) {
		atomic.AddInt32(&builds, 1)
		time.Sleep(20 * time.Millisecond)
		v := 42
		return &v, nil
	})

	var wg sync.WaitGroup
	results := make([]*int, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := h.Get(context.Background())
			if err != nil {
				t.Errorf("Get: %v", err)
				return
			}
			results[i] = v
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&builds); got != 1 {
		t.Fatalf("expected one build, got %d", got)
	}
	for i, v := range results {
		if v != results[0] {
			t.Fatalf("result %d differs from first", i)
		}
	}
	if !h.Ready() {
		t.Fatalf("expected handle to be ready")
	}
}

func TestGetRetriesAfterFailure(t *testing.T) {
	var calls int32
	h := New("corpus", func(context.Context) (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return "", errors.New("corpus dir missing")
		}
		return "loaded", nil
	})

	if _, err := h.Get(context.Background()); err == nil {
		t.Fatalf("expected first call to fail")
	}
	if h.Ready() {
		t.Fatalf("failed build must not be cached")
	}
	v, err := h.Get(context.Background())
	if err != nil || v != "loaded" {
		t.Fatalf("expected retry to succeed, got %q %v", v, err)
	}
}

func TestGetRecoversAfterPanickingBuild(t *testing.T) {
	var calls int32
	h := New("corpus", func(context.Context) (int, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			panic("corrupt index")
		}
		return 7, nil
	})

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected build panic to reach the caller")
			}
		}()
		_, _ = h.Get(context.Background())
	}()
	if h.Ready() {
		t.Fatalf("panicking build must not be cached")
	}

	type result struct {
		v   int
		err error
	}
	out := make(chan result, 1)
	go func() {
		v, err := h.Get(context.Background())
		out <- result{v, err}
	}()
	select {
	case r := <-out:
		if r.err != nil || r.v != 7 {
			t.Fatalf("expected rebuild to succeed, got %d %v", r.v, r.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Get blocked after a panicking build")
	}
}

func TestWaiterHonoursContext(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	h := New("slow", func(context.Context) (int, error) {
		close(started)
		<-release
		return 1, nil
	})
	defer close(release)

	go func() { _, _ = h.Get(context.Background()) }()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := h.Get(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected waiter to give up with its context, got %v", err)
	}
}
