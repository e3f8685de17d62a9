package fragment

import (
	"fmt"
	"io"
	"math/rand/v2"
	"slices"
	"time"
)

// Plan returns the split offsets for a buffer of length l cut into n pieces.
//
// Offsets are drawn without replacement from [1, l-1] and sorted, so they are
// strictly increasing and every piece is at least one byte. When n exceeds l
// the piece count is clamped to l. A nil rnd uses the global source.
func Plan(l, n int, rnd *rand.Rand) []int {
	if l <= 1 || n <= 1 {
		return nil
	}
	k := min(n-1, l-1)

	var perm []int
	if rnd != nil {
		perm = rnd.Perm(l - 1)
	} else {
		perm = rand.Perm(l - 1)
	}

	offsets := perm[:k]
	for i := range offsets {
		offsets[i]++
	}
	slices.Sort(offsets)
	return offsets
}

// Write writes buf to w as the pieces described by Plan(len(buf), n, rnd),
// sleeping delay between writes. There is no sleep after the last piece.
//
// If w has a Flush method it is called after each piece.
func Write(w io.Writer, buf []byte, n int, delay time.Duration, rnd *rand.Rand) error {
	if len(buf) == 0 {
		return nil
	}

	prev := 0
	for _, next := range Plan(len(buf), n, rnd) {
		if err := writePiece(w, buf[prev:next]); err != nil {
			return err
		}
		if delay > 0 {
			time.Sleep(delay)
		}
		prev = next
	}
	return writePiece(w, buf[prev:])
}

type flusher interface {
	Flush() error
}

func writePiece(w io.Writer, p []byte) error {
	if _, err := w.Write(p); err != nil {
		return fmt.Errorf("fragment write: %w", err)
	}
	if f, ok := w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("fragment flush: %w", err)
		}
	}
	return nil
}
