package proxy

import (
	"context"
	"testing"
	"time"
)

func TestAcceptLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := newAcceptLimiter(0, 0, 0)
	if l != nil {
		t.Fatal("expected nil limiter")
	}
	if err := l.acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	l.release()
}

func TestAcceptLimiterMaxConns(t *testing.T) {
	t.Parallel()

	l := newAcceptLimiter(1, 0, 0)
	if err := l.acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.acquire(ctx); err == nil {
		t.Fatal("expected second acquire to block")
	}

	l.release()
	if err := l.acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	l.release()
}

func TestAcceptLimiterRate(t *testing.T) {
	t.Parallel()

	l := newAcceptLimiter(0, 1, 1)
	if err := l.acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.acquire(ctx); err == nil {
		t.Fatal("expected rate limit")
	}
}
