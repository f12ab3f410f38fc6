package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mikey/phishguard/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeProcessor struct {
	mu      sync.Mutex
	seen    map[string]int
	active  int
	peak    int
	block   chan struct{}
	started chan string
	delay   time.Duration
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{seen: make(map[string]int)}
}

func (f *fakeProcessor) Process(ctx context.Context, email *core.Email) (*core.Assessment, error) {
	f.mu.Lock()
	f.seen[email.ID]++
	f.active++
	if f.active > f.peak {
		f.peak = f.active
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if f.started != nil {
		f.started <- email.ID
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if email.ID == "boom" {
		panic("analyzer bug")
	}
	return &core.Assessment{}, nil
}

func TestPoolProcessesEveryEmailOnce(t *testing.T) {
	proc := newFakeProcessor()
	proc.delay = time.Millisecond
	p := NewPool(proc, 3, 50, zap.NewNop())
	p.Start()

	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h", "boom", "i"}
	for _, id := range ids {
		require.NoError(t, p.Submit(context.Background(), &core.Email{ID: id}))
	}
	require.NoError(t, p.Stop(context.Background()))

	proc.mu.Lock()
	defer proc.mu.Unlock()
	for _, id := range ids {
		assert.Equal(t, 1, proc.seen[id], id)
	}
	assert.LessOrEqual(t, proc.peak, 3)
	assert.ErrorIs(t, p.Submit(context.Background(), &core.Email{ID: "late"}), ErrStopped)
}

func TestPoolRejectsWhenFull(t *testing.T) {
	proc := newFakeProcessor()
	proc.block = make(chan struct{})
	proc.started = make(chan string, 1)
	p := NewPool(proc, 1, 1, zap.NewNop())
	p.Start()

	require.NoError(t, p.Submit(context.Background(), &core.Email{ID: "first"}))
	<-proc.started
	require.NoError(t, p.Submit(context.Background(), &core.Email{ID: "second"}))

	err := p.Submit(context.Background(), &core.Email{ID: "third"})
	assert.ErrorIs(t, err, ErrQueueFull)

	err = p.Submit(context.Background(), &core.Email{ID: "second"})
	assert.ErrorIs(t, err, ErrAlreadyQueued)

	proc.started = nil
	close(proc.block)
	require.NoError(t, p.Stop(context.Background()))
}

func TestPoolStopTimeoutCancelsWork(t *testing.T) {
	proc := newFakeProcessor()
	proc.block = make(chan struct{})
	proc.started = make(chan string, 1)
	p := NewPool(proc, 1, 4, zap.NewNop())
	p.Start()

	require.NoError(t, p.Submit(context.Background(), &core.Email{ID: "slow"}))
	<-proc.started
	require.NoError(t, p.Submit(context.Background(), &core.Email{ID: "queued"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Stop(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	proc.mu.Lock()
	defer proc.mu.Unlock()
	assert.Equal(t, 1, proc.seen["slow"])
	assert.Zero(t, proc.seen["queued"])
}
