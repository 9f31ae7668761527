package workqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rzbill/spqs/internal/qerr"
	pebblestore "github.com/rzbill/spqs/internal/storage/pebble"
	"github.com/rzbill/spqs/internal/transport"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func openTestDB(t *testing.T) *pebblestore.DB {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func openTestQueue(t *testing.T, opts Options) (*WorkQueue, *testClock) {
	t.Helper()
	clock := &testClock{t: time.UnixMilli(1_700_000_000_000)}
	if opts.Clock == nil {
		opts.Clock = clock.Now
	}
	q, err := OpenQueue(openTestDB(t), "ns", "q", opts)
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(q.StopSweeper)
	return q, clock
}

func send(t *testing.T, q *WorkQueue, body string, priority int) string {
	t.Helper()
	id, err := q.Send(context.Background(), transport.SendRequest{Body: body, Priority: priority})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	return id
}

func receive(t *testing.T, q *WorkQueue, n int, vis time.Duration) []transport.Message {
	t.Helper()
	msgs, err := q.Receive(context.Background(), transport.ReceiveRequest{MaxMessages: n, VisibilityTimeout: vis})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	return msgs
}

func TestSendReceiveFIFO(t *testing.T) {
	q, _ := openTestQueue(t, Options{})
	a := send(t, q, "a", 2)
	b := send(t, q, "b", 0)
	c := send(t, q, "c", 1)

	msgs := receive(t, q, 2, time.Minute)
	if len(msgs) != 2 || msgs[0].ID != a || msgs[1].ID != b {
		t.Fatalf("expected a,b got %+v", msgs)
	}
	if msgs[0].Body != "a" || msgs[0].Attributes[transport.PriorityAttribute] != "2" {
		t.Fatalf("unexpected message %+v", msgs[0])
	}
	rest := receive(t, q, 10, time.Minute)
	if len(rest) != 1 || rest[0].ID != c {
		t.Fatalf("expected c got %+v", rest)
	}
	if more := receive(t, q, 10, time.Minute); len(more) != 0 {
		t.Fatalf("leased messages must stay hidden, got %+v", more)
	}
}

func TestAttributesFiltered(t *testing.T) {
	q, _ := openTestQueue(t, Options{})
	_, err := q.Send(context.Background(), transport.SendRequest{Body: "x", Priority: 1, Attributes: map[string]string{"tenant": "acme"}})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	msgs, _ := q.Receive(context.Background(), transport.ReceiveRequest{MaxMessages: 1})
	if len(msgs[0].Attributes) != 1 || msgs[0].Attributes["Priority"] != "1" {
		t.Fatalf("want only Priority, got %v", msgs[0].Attributes)
	}
	_ = q.ExtendLease(context.Background(), msgs[0].ReceiptToken, 0)
	msgs, _ = q.Receive(context.Background(), transport.ReceiveRequest{MaxMessages: 1, IncludeAttributes: true})
	if msgs[0].Attributes["tenant"] != "acme" {
		t.Fatalf("want all attributes, got %v", msgs[0].Attributes)
	}
}

func TestLeaseExpiryRedelivers(t *testing.T) {
	q, clock := openTestQueue(t, Options{})
	ctx := context.Background()
	first := send(t, q, "a", 0)
	second := send(t, q, "b", 0)

	m1 := receive(t, q, 1, 10*time.Second)
	if len(m1) != 1 || m1[0].ID != first {
		t.Fatalf("want first, got %+v", m1)
	}
	clock.Advance(11 * time.Second)

	// the expired message keeps its place ahead of later messages
	m2 := receive(t, q, 1, 10*time.Second)
	if len(m2) != 1 || m2[0].ID != first || m2[0].ReceiptToken == m1[0].ReceiptToken {
		t.Fatalf("want redelivery with new receipt, got %+v", m2)
	}

	err := q.Delete(ctx, m1[0].ReceiptToken)
	var te *qerr.TransportError
	if !errors.As(err, &te) || !errors.Is(err, ErrInvalidReceipt) || te.Code != receiptCode {
		t.Fatalf("stale receipt must fail, got %v", err)
	}
	if err := q.Delete(ctx, m2[0].ReceiptToken); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := q.Delete(ctx, m2[0].ReceiptToken); err != nil {
		t.Fatalf("deleting a gone message succeeds, got %v", err)
	}
	m3 := receive(t, q, 5, time.Second)
	if len(m3) != 1 || m3[0].ID != second {
		t.Fatalf("want second, got %+v", m3)
	}
}

func TestExtendLease(t *testing.T) {
	q, clock := openTestQueue(t, Options{})
	ctx := context.Background()
	send(t, q, "a", 0)
	m := receive(t, q, 1, 5*time.Second)

	if err := q.ExtendLease(ctx, m[0].ReceiptToken, time.Minute); err != nil {
		t.Fatalf("extend: %v", err)
	}
	clock.Advance(10 * time.Second)
	if got := receive(t, q, 1, time.Second); len(got) != 0 {
		t.Fatalf("extended lease must hide message, got %+v", got)
	}

	if err := q.ExtendLease(ctx, m[0].ReceiptToken, 0); err != nil {
		t.Fatalf("release: %v", err)
	}
	if got := receive(t, q, 1, time.Second); len(got) != 1 {
		t.Fatalf("released message must be visible")
	}
	if err := q.ExtendLease(ctx, "garbage", time.Second); !errors.Is(err, ErrInvalidReceipt) {
		t.Fatalf("want ErrInvalidReceipt, got %v", err)
	}
}

func TestDelayedDelivery(t *testing.T) {
	q, clock := openTestQueue(t, Options{})
	ctx := context.Background()
	_, err := q.Send(ctx, transport.SendRequest{Body: "later", Delay: 2 * time.Second})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if n, _ := q.ApproximateCount(ctx); n != 0 {
		t.Fatalf("delayed message counted as available: %d", n)
	}
	if got := receive(t, q, 1, time.Second); len(got) != 0 {
		t.Fatalf("delayed message delivered early")
	}
	clock.Advance(2 * time.Second)
	if got := receive(t, q, 1, time.Second); len(got) != 1 || got[0].Body != "later" {
		t.Fatalf("delayed message not delivered: %+v", got)
	}
}

func TestDeduplication(t *testing.T) {
	q, clock := openTestQueue(t, Options{DedupWindow: time.Minute})
	ctx := context.Background()
	req := transport.SendRequest{Body: "x", DeduplicationID: "d1"}
	a, _ := q.Send(ctx, req)
	b, _ := q.Send(ctx, req)
	if a != b {
		t.Fatalf("duplicate send must return the same id: %s %s", a, b)
	}
	if n, _ := q.ApproximateCount(ctx); n != 1 {
		t.Fatalf("count = %d", n)
	}
	clock.Advance(2 * time.Minute)
	c, _ := q.Send(ctx, req)
	if c == a {
		t.Fatal("dedup window must expire")
	}
}

func TestCountAndPurge(t *testing.T) {
	q, _ := openTestQueue(t, Options{})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		send(t, q, "m", 0)
	}
	receive(t, q, 2, time.Minute)
	if n, err := q.ApproximateCount(ctx); err != nil || n != 3 {
		t.Fatalf("count = %d %v", n, err)
	}
	if err := q.Purge(ctx); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if err := q.Purge(ctx); err != nil {
		t.Fatalf("second purge: %v", err)
	}
	if n, _ := q.ApproximateCount(ctx); n != 0 {
		t.Fatalf("count after purge = %d", n)
	}
	if got := receive(t, q, 10, time.Minute); len(got) != 0 {
		t.Fatalf("purged queue delivered %+v", got)
	}
	// sequences keep increasing after a purge
	send(t, q, "after", 0)
	if got := receive(t, q, 10, time.Minute); len(got) != 1 || got[0].Body != "after" {
		t.Fatalf("send after purge: %+v", got)
	}
}

func TestReopenRestoresCounters(t *testing.T) {
	db := openTestDB(t)
	q, err := OpenQueue(db, "ns", "q", Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 0; i < 3; i++ {
		send(t, q, "m", 0)
	}
	q2, err := OpenQueue(db, "ns", "q", Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if q2.lastSeq != 3 || q2.available != 3 {
		t.Fatalf("restored lastSeq=%d available=%d", q2.lastSeq, q2.available)
	}
}

func TestLongPollWakesOnSend(t *testing.T) {
	q, _ := openTestQueue(t, Options{PollInterval: time.Hour})
	got := make(chan []transport.Message, 1)
	go func() {
		msgs, _ := q.Receive(context.Background(), transport.ReceiveRequest{MaxMessages: 1, WaitTime: 5 * time.Second})
		got <- msgs
	}()
	time.Sleep(20 * time.Millisecond)
	send(t, q, "wake", 0)
	select {
	case msgs := <-got:
		if len(msgs) != 1 || msgs[0].Body != "wake" {
			t.Fatalf("unexpected %+v", msgs)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("long poll did not wake")
	}
}

func TestLongPollTimesOutEmpty(t *testing.T) {
	q, _ := openTestQueue(t, Options{PollInterval: 10 * time.Millisecond})
	start := time.Now()
	msgs, err := q.Receive(context.Background(), transport.ReceiveRequest{MaxMessages: 1, WaitTime: 60 * time.Millisecond})
	if err != nil || len(msgs) != 0 {
		t.Fatalf("want empty result, got %+v %v", msgs, err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Fatal("returned before the wait time")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Receive(ctx, transport.ReceiveRequest{MaxMessages: 1, WaitTime: time.Second}); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestSweeperReclaims(t *testing.T) {
	q, clock := openTestQueue(t, Options{})
	send(t, q, "a", 0)
	receive(t, q, 1, time.Second)
	clock.Advance(2 * time.Second)

	q.ConfigureSweeper(5*time.Millisecond, 10)
	q.StartSweeper()
	q.StartSweeper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		q.mu.Lock()
		avail := q.available
		q.mu.Unlock()
		if avail == 1 {
			q.StopSweeper()
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("sweeper did not reclaim the expired lease")
}

func TestThrottle(t *testing.T) {
	q, _ := openTestQueue(t, Options{MaxAvailable: 1, ThrottleSleep: 5 * time.Millisecond})
	send(t, q, "a", 0)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := q.Send(ctx, transport.SendRequest{Body: "b"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want throttled send to time out, got %v", err)
	}
}

func TestPreferredIDsFirst(t *testing.T) {
	q, _ := openTestQueue(t, Options{})
	a := send(t, q, "a", 0)
	b := send(t, q, "b", 0)
	c := send(t, q, "c", 2)
	d := send(t, q, "d", 2)

	msgs, err := q.Receive(context.Background(), transport.ReceiveRequest{
		MaxMessages:       3,
		VisibilityTimeout: time.Minute,
		PreferredIDs:      []string{d, "missing", d},
	})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(msgs) != 3 || msgs[0].ID != d || msgs[1].ID != a || msgs[2].ID != b {
		t.Fatalf("expected d,a,b got %+v", msgs)
	}
	if n, _ := q.ApproximateCount(context.Background()); n != 1 {
		t.Fatalf("expected 1 available, got %d", n)
	}

	// a leased id is not delivered again even when preferred
	rest, err := q.Receive(context.Background(), transport.ReceiveRequest{MaxMessages: 10, PreferredIDs: []string{a}})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(rest) != 1 || rest[0].ID != c {
		t.Fatalf("expected c got %+v", rest)
	}
}
