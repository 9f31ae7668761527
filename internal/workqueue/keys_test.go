package workqueue

import (
	"bytes"
	"testing"
)

func TestMsgKeyOrdering(t *testing.T) {
	a := MsgKey("ns", "q", 10)
	b := MsgKey("ns", "q", 256)
	if bytes.Compare(a, b) >= 0 {
		t.Fatalf("expected seq ordering")
	}
}

func TestAvailKeyIsFIFO(t *testing.T) {
	a := AvailKey("ns", "q", 255)
	b := AvailKey("ns", "q", 256)
	if bytes.Compare(a, b) >= 0 || !bytes.HasPrefix(a, AvailPrefix("ns", "q")) {
		t.Fatalf("expected seq ordering under the available prefix")
	}
}

func TestLeaseIdxOrderingAndSplit(t *testing.T) {
	a := LeaseIdxKey("ns", "q", 100, 9)
	b := LeaseIdxKey("ns", "q", 200, 1)
	if bytes.Compare(a, b) >= 0 {
		t.Fatalf("expected expiry ordering")
	}
	ms, seq, ok := splitTimeSeq(a, len(LeaseIdxPrefix("ns", "q")))
	if !ok || ms != 100 || seq != 9 {
		t.Fatalf("split = %d %d %v", ms, seq, ok)
	}
}

func TestQueuesDoNotOverlap(t *testing.T) {
	if bytes.HasPrefix(MsgKey("ns", "q1", 1), QueuePrefix("ns", "q")) {
		t.Fatalf("queue prefix must end with a separator")
	}
}
