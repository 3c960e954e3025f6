package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestSubmitExecutesJob(t *testing.T) {
	p := New(Config{Workers: 2})
	defer p.Close()

	var ran atomic.Bool
	err := p.Submit(context.Background(), JobFunc(func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !ran.Load() {
		t.Error("job did not run")
	}
}

func TestSubmitPropagatesJobError(t *testing.T) {
	p := New(Config{Workers: 1})
	defer p.Close()

	wantErr := errors.New("boom")
	err := p.Submit(context.Background(), JobFunc(func(ctx context.Context) error { return wantErr }))
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want %v", err, wantErr)
	}
}

func TestExecuteJobRecoversPanic(t *testing.T) {
	p := New(Config{Workers: 1})
	defer p.Close()

	err := p.Submit(context.Background(), JobFunc(func(ctx context.Context) error {
		panic("job exploded")
	}))
	if err == nil {
		t.Fatal("expected error from panicking job")
	}
}

func TestTrySubmitRejectsWhenQueueFull(t *testing.T) {
	p := New(Config{Workers: 1, QueueMultiplier: 1})
	defer p.Close()

	block := make(chan struct{})
	// Occupy the single worker so the queue backs up.
	go p.Submit(context.Background(), JobFunc(func(ctx context.Context) error {
		<-block
		return nil
	}))
	time.Sleep(10 * time.Millisecond)

	// Fill the queue (capacity 1) then overflow it.
	go p.TrySubmit(context.Background(), JobFunc(func(ctx context.Context) error { <-block; return nil }))
	time.Sleep(10 * time.Millisecond)

	err := p.TrySubmit(context.Background(), JobFunc(func(ctx context.Context) error { return nil }))
	close(block)
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("got %v, want ErrQueueFull", err)
	}
}

func TestSubmitAfterCloseFails(t *testing.T) {
	p := New(Config{Workers: 1})
	p.Close()

	err := p.Submit(context.Background(), JobFunc(func(ctx context.Context) error { return nil }))
	if !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("got %v, want ErrPoolClosed", err)
	}
}

func TestAdmissionRateLimiting(t *testing.T) {
	p := New(Config{Workers: 4, AdmissionRate: rate.Limit(1), AdmissionBurst: 1})
	defer p.Close()

	job := JobFunc(func(ctx context.Context) error { return nil })
	if err := p.Submit(context.Background(), job); err != nil {
		t.Fatalf("first Submit should be admitted: %v", err)
	}
	if err := p.Submit(context.Background(), job); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second immediate Submit got %v, want ErrRateLimited", err)
	}
}

func TestStatsReflectActivity(t *testing.T) {
	p := New(Config{Workers: 2})
	defer p.Close()

	p.Submit(context.Background(), JobFunc(func(ctx context.Context) error { return nil }))
	stats := p.Stats()
	if stats.Submitted != 1 || stats.Completed != 1 {
		t.Errorf("Stats = %+v, want Submitted=1 Completed=1", stats)
	}
}
