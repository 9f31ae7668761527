package id

import (
	"testing"
	"time"
)

func TestOrderingMonotonic(t *testing.T) {
	g := NewGenerator()
	NowMs = func() int64 { return 1000 }
	defer func() { NowMs = func() int64 { return time.Now().UnixMilli() } }()

	a := g.Next()
	b := g.Next()
	if a.Compare(b) >= 0 {
		t.Fatalf("expected a<b")
	}
	if a.String() >= b.String() {
		t.Fatalf("hex form must sort like bytes")
	}
}

func TestClockRegressionGuard(t *testing.T) {
	g := NewGenerator()
	seq := int64(1000)
	NowMs = func() int64 { return seq }
	defer func() { NowMs = func() int64 { return time.Now().UnixMilli() } }()

	a := g.Next()
	seq = 900
	b := g.Next()
	if a.Compare(b) >= 0 {
		t.Fatalf("expected b>a despite clock regression")
	}
}

func TestSequenceOverflowWaitsNextMs(t *testing.T) {
	g := NewGenerator()
	NowMs = func() int64 { return 2000 }
	defer func() { NowMs = func() int64 { return time.Now().UnixMilli() } }()

	g.lastMs = 2000
	g.sequence = ^uint64(0) - 1

	_ = g.Next()

	done := make(chan struct{})
	go func() {
		_ = g.Next()
		close(done)
	}()

	time.AfterFunc(10*time.Millisecond, func() { NowMs = func() int64 { return 2001 } })

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for overflow handling")
	}
}

func TestParseRoundTrip(t *testing.T) {
	a := NewGenerator().Next()
	b, err := Parse(a.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if a != b {
		t.Fatalf("got %v want %v", b, a)
	}
	if _, err := Parse("xyz"); err != ErrMalformed {
		t.Fatalf("want ErrMalformed, got %v", err)
	}
	if _, err := Parse("zz" + a.String()[2:]); err != ErrMalformed {
		t.Fatalf("want ErrMalformed for non-hex, got %v", err)
	}
}

func TestTickerStrictlyIncreases(t *testing.T) {
	fixed := time.UnixMicro(5_000_000)
	tk := NewTicker(func() time.Time { return fixed })
	a, b, c := tk.Next(), tk.Next(), tk.Next()
	if a != 5_000_000 || b != a+1 || c != b+1 {
		t.Fatalf("got %d %d %d", a, b, c)
	}
	fixed = fixed.Add(-time.Second)
	if d := tk.Next(); d != c+1 {
		t.Fatalf("regression not guarded: %d", d)
	}
}
