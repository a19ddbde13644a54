package platform

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestThreadID(t *testing.T) {
	self := ThreadID()
	if self == 0 {
		t.Fatal("ThreadID returned 0")
	}
	if again := ThreadID(); again != self {
		t.Errorf("ThreadID not stable: %d then %d", self, again)
	}

	other := make(chan int64)
	go func() { other <- ThreadID() }()
	if id := <-other; id == self {
		t.Errorf("different goroutines share id %d", id)
	}
}

func TestCond_Broadcast(t *testing.T) {
	var mu sync.Mutex
	c := NewCond(&mu)
	ready := false

	const waiters = 4
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mu.Lock()
			for !ready {
				if err := c.WaitContext(context.Background(), time.Time{}); err != nil {
					t.Errorf("WaitContext: %v", err)
					break
				}
			}
			mu.Unlock()
		}()
	}

	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	ready = true
	c.Broadcast()
	mu.Unlock()
	wg.Wait()
}

func TestCond_Deadline(t *testing.T) {
	var mu sync.Mutex
	c := NewCond(&mu)

	mu.Lock()
	defer mu.Unlock()

	start := time.Now()
	deadline := start.Add(30 * time.Millisecond)
	var err error
	for time.Now().Before(deadline) {
		if err = c.WaitContext(context.Background(), deadline); err != nil {
			break
		}
	}
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("returned after %v, before deadline", elapsed)
	}

	if err := c.WaitContext(context.Background(), time.Now().Add(-time.Second)); !errors.Is(err, ErrTimeout) {
		t.Errorf("past deadline: err = %v, want ErrTimeout", err)
	}
}

func TestCond_Context(t *testing.T) {
	var mu sync.Mutex
	c := NewCond(&mu)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	mu.Lock()
	defer mu.Unlock()
	var err error
	for err == nil {
		err = c.WaitContext(ctx, time.Time{})
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSeconds(t *testing.T) {
	tests := []struct {
		in   float64
		want time.Duration
	}{
		{0, 0},
		{-1, 0},
		{0.5, 500 * time.Millisecond},
		{2, 2 * time.Second},
		{1e300, time.Duration(1<<63 - 1)},
	}
	for _, tt := range tests {
		if got := Seconds(tt.in); got != tt.want {
			t.Errorf("Seconds(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDeadline(t *testing.T) {
	if !Deadline(0).IsZero() {
		t.Error("Deadline(0) should be zero")
	}
	if d := Deadline(time.Second); time.Until(d) <= 0 {
		t.Error("Deadline(1s) should be in the future")
	}
}
