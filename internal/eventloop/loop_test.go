package eventloop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "sysnotifier/pkg/logx"
)

func startLoop(t *testing.T) (*Loop, context.CancelFunc) {
	t.Helper()
	l := New(logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = l.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return l, cancel
}

func TestPostRunsHandlersInOrder(t *testing.T) {
	l, _ := startLoop(t)

	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 5; i++ {
		i := i
		require.True(t, l.Post("seq", func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 5
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestHandlerPanicDoesNotStopLoop(t *testing.T) {
	l, _ := startLoop(t)

	ran := make(chan struct{})
	l.Post("boom", func() { panic("handler bug") })
	l.Post("after", func() { close(ran) })

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("loop stopped after a handler panic")
	}
}

func TestAfterFuncAndStop(t *testing.T) {
	l, _ := startLoop(t)

	fired := make(chan struct{})
	l.AfterFunc(10*time.Millisecond, "later", func() { close(fired) })

	cancelled := false
	stop := l.AfterFunc(time.Hour, "never", func() { cancelled = true })
	assert.True(t, stop())

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("AfterFunc handler did not run")
	}
	assert.False(t, cancelled)
}

func TestEveryRejectsBadSpec(t *testing.T) {
	l := New(logx.Nop())
	_, err := l.Every("not a schedule", "bad", func() {})
	assert.Error(t, err)
}

func TestEveryPostsUntilCancelled(t *testing.T) {
	l, _ := startLoop(t)

	var (
		mu sync.Mutex
		n  int
	)
	cancel, err := l.Every("* * * * * *", "tick", func() {
		mu.Lock()
		n++
		mu.Unlock()
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return n >= 1
	}, 3*time.Second, 20*time.Millisecond)
	cancel()
	cancel()
}

func TestPostAfterShutdownReportsFalse(t *testing.T) {
	l := New(logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = l.Run(ctx) }()
	cancel()
	<-l.Done()

	assert.False(t, l.Post("late", func() {}))
}

func TestGoSourcesStopWithLoop(t *testing.T) {
	l := New(logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	exited := make(chan struct{})
	l.Go("reader", func(ctx context.Context) error {
		<-ctx.Done()
		close(exited)
		return ctx.Err()
	})
	go func() { _ = l.Run(ctx) }()
	cancel()

	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("source goroutine was not stopped")
	}
	<-l.Done()
	assert.Equal(t, int64(0), l.Sources().Active)
}
