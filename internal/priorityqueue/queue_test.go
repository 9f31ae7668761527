package priorityqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rzbill/spqs/internal/index/localstore"
	"github.com/rzbill/spqs/internal/qerr"
	pebblestore "github.com/rzbill/spqs/internal/storage/pebble"
	"github.com/rzbill/spqs/internal/transport"
	"github.com/rzbill/spqs/internal/workqueue"
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

type fixture struct {
	q     *Queue
	wq    *workqueue.WorkQueue
	clock *testClock
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	clock := &testClock{t: time.UnixMilli(1_700_000_000_000)}
	wq, err := workqueue.OpenQueue(db, "test", "q", workqueue.Options{Clock: clock.Now})
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	q := New(cfg, localstore.New(db), wq, WithClock(clock.Now))
	if err := q.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = q.Disconnect() })
	return &fixture{q: q, wq: wq, clock: clock}
}

func (f *fixture) send(t *testing.T, body string, priority int) string {
	t.Helper()
	id, err := f.q.SendMessage(context.Background(), body, priority)
	if err != nil {
		t.Fatalf("send %s: %v", body, err)
	}
	return id
}

func (f *fixture) receive(t *testing.T, opts ...ReceiveOption) []PriorityMessage {
	t.Helper()
	msgs, err := f.q.ReceiveMessages(context.Background(), opts...)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	return msgs
}

func noWait(cfg Config) Config {
	cfg.WaitTime = 0
	return cfg
}

// countingTransport records calls and fails on demand.
type countingTransport struct {
	mu       sync.Mutex
	sends    int
	receives int
	deletes  int
	sendErr  error
	received []transport.Message
}

func (c *countingTransport) Send(_ context.Context, req transport.SendRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends++
	if c.sendErr != nil {
		return "", c.sendErr
	}
	return fmt.Sprintf("m%d", c.sends), nil
}

func (c *countingTransport) Receive(context.Context, transport.ReceiveRequest) ([]transport.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receives++
	return c.received, nil
}

func (c *countingTransport) Delete(context.Context, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes++
	return nil
}

func (c *countingTransport) ExtendLease(context.Context, string, time.Duration) error { return nil }
func (c *countingTransport) ApproximateCount(context.Context) (int64, error)          { return 0, nil }
func (c *countingTransport) Purge(context.Context) error                              { return nil }

func newCountingQueue(t *testing.T, tr *countingTransport) *Queue {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	q := New(noWait(DefaultConfig()), localstore.New(db), tr)
	if err := q.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return q
}

func TestOperationsBeforeConnect(t *testing.T) {
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	defer db.Close()
	tr := &countingTransport{}
	q := New(DefaultConfig(), localstore.New(db), tr)
	ctx := context.Background()

	checks := map[string]error{}
	_, checks["send"] = q.SendMessage(ctx, "x", 0)
	_, checks["receive"] = q.ReceiveMessages(ctx)
	checks["delete"] = q.DeleteMessage(ctx, "r", nil)
	checks["extend"] = q.ExtendVisibility(ctx, "r", time.Second)
	_, checks["depth"] = q.QueueDepthByPriority(ctx)
	_, checks["latency"] = q.ProcessingLatencyByPriority()
	_, checks["count"] = q.ApproximateCount(ctx)
	checks["purge"] = q.PurgeQueue(ctx)
	checks["ping"] = q.Ping(ctx)
	for op, err := range checks {
		if !errors.Is(err, qerr.ErrNotConnected) {
			t.Errorf("%s: expected ErrNotConnected, got %v", op, err)
		}
	}
	if tr.sends+tr.receives+tr.deletes != 0 {
		t.Fatalf("transport must not be touched before connect")
	}
}

func TestDisconnectStopsOperations(t *testing.T) {
	f := newFixture(t, noWait(DefaultConfig()))
	if err := f.q.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if err := f.q.Disconnect(); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}
	if _, err := f.q.SendMessage(context.Background(), "x", 0); !errors.Is(err, qerr.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestInvalidPriorityBeforeTransport(t *testing.T) {
	tr := &countingTransport{}
	q := newCountingQueue(t, tr)
	for _, p := range []int{-1, 3, 5} {
		if _, err := q.SendMessage(context.Background(), "x", p); !errors.Is(err, qerr.ErrInvalidPriority) {
			t.Fatalf("priority %d: expected ErrInvalidPriority, got %v", p, err)
		}
	}
	if err := q.DeleteMessage(context.Background(), "r", &MessageRef{ID: "m1", Priority: 7}); !errors.Is(err, qerr.ErrInvalidPriority) {
		t.Fatalf("delete: expected ErrInvalidPriority, got %v", err)
	}
	if tr.sends != 0 || tr.deletes != 0 {
		t.Fatalf("transport called %d sends %d deletes", tr.sends, tr.deletes)
	}
}

func TestSendFailureLeavesNoIndexEntry(t *testing.T) {
	tr := &countingTransport{sendErr: qerr.Transport("send", "", errors.New("boom"))}
	q := newCountingQueue(t, tr)
	_, err := q.SendMessage(context.Background(), "x", 1)
	var te *qerr.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	depths, err := q.QueueDepthByPriority(context.Background())
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	for p, d := range depths {
		if d != 0 {
			t.Fatalf("class %d depth %d after failed send", p, d)
		}
	}
}

func TestEmptyIndexSkipsTransport(t *testing.T) {
	tr := &countingTransport{received: []transport.Message{{ID: "stray", ReceiptToken: "r"}}}
	q := newCountingQueue(t, tr)
	msgs, err := q.ReceiveMessages(context.Background())
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if msgs == nil || len(msgs) != 0 {
		t.Fatalf("expected empty non-nil batch, got %#v", msgs)
	}
	if tr.receives != 0 {
		t.Fatalf("transport receive called %d times", tr.receives)
	}
}

func TestPriorityOrderScenario(t *testing.T) {
	f := newFixture(t, noWait(DefaultConfig()))
	counts := []int{3, 5, 7}
	sent := make([][]string, len(counts))
	// lowest priority first so transport order is the reverse of priority order
	for p := len(counts) - 1; p >= 0; p-- {
		for i := 0; i < counts[p]; i++ {
			sent[p] = append(sent[p], f.send(t, fmt.Sprintf("p%d-%d", p, i), p))
		}
	}

	msgs := f.receive(t, WithMaxMessages(15))
	if len(msgs) != 15 {
		t.Fatalf("expected 15 messages, got %d", len(msgs))
	}
	var want []string
	for _, ids := range sent {
		want = append(want, ids...)
	}
	for i, m := range msgs {
		if m.ID != want[i] {
			t.Fatalf("position %d: expected %s got %s (priority %d)", i, want[i], m.ID, m.Priority)
		}
		if m.ReceiveCount != 1 || m.FirstReceivedAt.IsZero() {
			t.Fatalf("message %s not marked received: %+v", m.ID, m)
		}
	}
}

func TestGreedyBatchTakesHighestClassFirst(t *testing.T) {
	f := newFixture(t, noWait(DefaultConfig()))
	for i := 0; i < 4; i++ {
		f.send(t, "low", 2)
	}
	hi := []string{f.send(t, "a", 0), f.send(t, "b", 0)}
	msgs := f.receive(t, WithMaxMessages(2))
	if len(msgs) != 2 || msgs[0].ID != hi[0] || msgs[1].ID != hi[1] {
		t.Fatalf("expected class 0 ids %v, got %+v", hi, msgs)
	}
}

func TestStarvationScenario(t *testing.T) {
	cfg := noWait(DefaultConfig())
	cfg.StarvationThreshold = 2
	f := newFixture(t, cfg)
	for i := 0; i < 10; i++ {
		f.send(t, "hi", 0)
	}
	for i := 0; i < 3; i++ {
		f.send(t, "lo", 2)
	}

	msgs := f.receive(t)
	if len(msgs) == 0 || len(msgs) > 10 {
		t.Fatalf("expected 1..10 messages, got %d", len(msgs))
	}
	low := 0
	for i, m := range msgs {
		if m.Priority == 2 {
			low++
		}
		if i > 0 && msgs[i-1].Priority > m.Priority {
			t.Fatalf("batch not ordered by priority: %+v", msgs)
		}
	}
	if low == 0 {
		t.Fatalf("starvation mode must deliver class 2, got %+v", msgs)
	}
}

func TestStarvationCoversEveryClass(t *testing.T) {
	f := newFixture(t, noWait(DefaultConfig()))
	for i := 0; i < 5; i++ {
		f.send(t, "a", 0)
	}
	for i := 0; i < 101; i++ {
		f.send(t, "b", 1)
	}
	for i := 0; i < 5; i++ {
		f.send(t, "c", 2)
	}

	msgs := f.receive(t)
	if len(msgs) != 10 {
		t.Fatalf("expected 10 messages, got %d", len(msgs))
	}
	seen := map[int]int{}
	for _, m := range msgs {
		seen[m.Priority]++
	}
	for p := 0; p < 3; p++ {
		if seen[p] == 0 {
			t.Fatalf("class %d missing from batch %v", p, seen)
		}
	}
}

func TestDepthConservation(t *testing.T) {
	f := newFixture(t, noWait(DefaultConfig()))
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		f.send(t, "a", 0)
		f.send(t, "b", 1)
	}
	msgs := f.receive(t, WithMaxMessages(5))
	if len(msgs) != 5 {
		t.Fatalf("expected 5, got %d", len(msgs))
	}
	// received but unacknowledged messages stay indexed
	depths, err := f.q.QueueDepthByPriority(ctx)
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if depths[0]+depths[1] != 8 {
		t.Fatalf("expected 8 indexed, got %v", depths)
	}

	for _, m := range msgs[:3] {
		if err := f.q.Ack(ctx, m); err != nil {
			t.Fatalf("ack: %v", err)
		}
	}
	depths, err = f.q.QueueDepthByPriority(ctx)
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if depths[0]+depths[1]+depths[2] != 5 {
		t.Fatalf("expected 5 indexed after 3 acks, got %v", depths)
	}
	recorded := f.q.Metrics().Depths()
	for p, d := range depths {
		if recorded[p] != d {
			t.Fatalf("collector depth %v differs from index %v", recorded, depths)
		}
	}
}

func TestReceiveCountMonotonic(t *testing.T) {
	f := newFixture(t, noWait(DefaultConfig()))
	id := f.send(t, "x", 1)

	first := f.receive(t, WithVisibilityTimeout(time.Second))
	if len(first) != 1 || first[0].ID != id || first[0].ReceiveCount != 1 {
		t.Fatalf("unexpected first delivery %+v", first)
	}
	f.clock.Advance(2 * time.Second)
	second := f.receive(t, WithVisibilityTimeout(time.Second))
	if len(second) != 1 || second[0].ReceiveCount != 2 {
		t.Fatalf("unexpected redelivery %+v", second)
	}
	if !second[0].FirstReceivedAt.Equal(first[0].FirstReceivedAt) {
		t.Fatalf("first received changed: %v -> %v", first[0].FirstReceivedAt, second[0].FirstReceivedAt)
	}
	if !second[0].LastReceivedAt.After(first[0].LastReceivedAt) {
		t.Fatalf("last received did not advance: %v -> %v", first[0].LastReceivedAt, second[0].LastReceivedAt)
	}

	// the first receipt is stale after redelivery
	var te *qerr.TransportError
	if err := f.q.DeleteMessage(context.Background(), first[0].ReceiptToken, first[0].Ref()); !errors.As(err, &te) {
		t.Fatalf("expected TransportError for stale receipt, got %v", err)
	}
	if err := f.q.Ack(context.Background(), second[0]); err != nil {
		t.Fatalf("ack: %v", err)
	}
}

func TestDeleteWithoutRefLeavesIndexEntry(t *testing.T) {
	f := newFixture(t, noWait(DefaultConfig()))
	ctx := context.Background()
	f.send(t, "x", 0)
	msgs := f.receive(t)
	if len(msgs) != 1 {
		t.Fatalf("expected 1, got %d", len(msgs))
	}
	if err := f.q.DeleteMessage(ctx, msgs[0].ReceiptToken, nil); err != nil {
		t.Fatalf("delete: %v", err)
	}
	depths, _ := f.q.QueueDepthByPriority(ctx)
	if depths[0] != 1 {
		t.Fatalf("expected ghost entry to remain, got %v", depths)
	}
	if n, _ := f.q.ApproximateCount(ctx); n != 0 {
		t.Fatalf("transport still holds %d", n)
	}
	// the ghost is a candidate but the transport has nothing to deliver
	if again := f.receive(t); len(again) != 0 {
		t.Fatalf("ghost must not be delivered: %+v", again)
	}
}

func TestAckRecordsLatency(t *testing.T) {
	f := newFixture(t, noWait(DefaultConfig()))
	f.send(t, "x", 2)
	msgs := f.receive(t)
	if len(msgs) != 1 {
		t.Fatalf("expected 1, got %d", len(msgs))
	}
	f.clock.Advance(250 * time.Millisecond)
	if err := f.q.Ack(context.Background(), msgs[0]); err != nil {
		t.Fatalf("ack: %v", err)
	}
	lat, err := f.q.ProcessingLatencyByPriority()
	if err != nil {
		t.Fatalf("latency: %v", err)
	}
	if lat[2] != 250 {
		t.Fatalf("expected 250ms for class 2, got %v", lat)
	}
	if f.q.Metrics().InFlight() != 0 {
		t.Fatalf("expected nothing in flight")
	}
}

func TestUntrackedMessagesDropped(t *testing.T) {
	f := newFixture(t, noWait(DefaultConfig()))
	ctx := context.Background()
	tracked := f.send(t, "tracked", 1)
	if _, err := f.wq.Send(ctx, transport.SendRequest{Body: "stray", Priority: 0}); err != nil {
		t.Fatalf("direct send: %v", err)
	}
	msgs := f.receive(t)
	if len(msgs) != 1 || msgs[0].ID != tracked {
		t.Fatalf("expected only tracked message, got %+v", msgs)
	}
}

func TestExtendVisibility(t *testing.T) {
	f := newFixture(t, noWait(DefaultConfig()))
	f.send(t, "x", 0)
	msgs := f.receive(t, WithVisibilityTimeout(time.Second))
	if len(msgs) != 1 {
		t.Fatalf("expected 1, got %d", len(msgs))
	}
	if err := f.q.ExtendVisibility(context.Background(), msgs[0].ReceiptToken, time.Minute); err != nil {
		t.Fatalf("extend: %v", err)
	}
	f.clock.Advance(5 * time.Second)
	if again := f.receive(t); len(again) != 0 {
		t.Fatalf("extended message redelivered: %+v", again)
	}
}

func TestSendOptionsReachTransport(t *testing.T) {
	f := newFixture(t, noWait(DefaultConfig()))
	ctx := context.Background()
	_, err := f.q.SendMessage(ctx, "x", 1, WithAttributes(map[string]string{"tenant": "acme"}), WithDelay(10*time.Second))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msgs := f.receive(t); len(msgs) != 0 {
		t.Fatalf("delayed message delivered early: %+v", msgs)
	}
	f.clock.Advance(11 * time.Second)
	msgs := f.receive(t, WithIncludeAttributes(true))
	if len(msgs) != 1 {
		t.Fatalf("expected 1, got %d", len(msgs))
	}
	if msgs[0].Attributes["tenant"] != "acme" || msgs[0].Attributes[transport.PriorityAttribute] != "1" {
		t.Fatalf("unexpected attributes %v", msgs[0].Attributes)
	}
}

func TestPurgeIdempotent(t *testing.T) {
	f := newFixture(t, noWait(DefaultConfig()))
	ctx := context.Background()
	for p := 0; p < 3; p++ {
		f.send(t, "x", p)
	}
	f.receive(t, WithMaxMessages(1))
	for i := 0; i < 2; i++ {
		if err := f.q.PurgeQueue(ctx); err != nil {
			t.Fatalf("purge %d: %v", i, err)
		}
		depths, err := f.q.QueueDepthByPriority(ctx)
		if err != nil {
			t.Fatalf("depth: %v", err)
		}
		for p, d := range depths {
			if d != 0 {
				t.Fatalf("class %d depth %d after purge", p, d)
			}
		}
		if n, _ := f.q.ApproximateCount(ctx); n != 0 {
			t.Fatalf("transport holds %d after purge", n)
		}
		if f.q.Metrics().InFlight() != 0 {
			t.Fatalf("collector not reset")
		}
	}
	if msgs := f.receive(t); len(msgs) != 0 {
		t.Fatalf("received after purge: %+v", msgs)
	}
}

func TestConfigDefaults(t *testing.T) {
	f := newFixture(t, Config{})
	want := DefaultConfig()
	// zero wait time and zero threshold are valid settings and are kept
	want.WaitTime = 0
	want.StarvationThreshold = 0
	if got := f.q.Config(); got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}

	f = newFixture(t, Config{StarvationThreshold: -1, WaitTime: -time.Second})
	want = DefaultConfig()
	want.WaitTime = 0
	if got := f.q.Config(); got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestZeroThresholdServesAnyLowerClass(t *testing.T) {
	cfg := noWait(DefaultConfig())
	cfg.StarvationThreshold = 0
	f := newFixture(t, cfg)
	if got := f.q.Config().StarvationThreshold; got != 0 {
		t.Fatalf("threshold = %d, want 0", got)
	}
	for i := 0; i < 5; i++ {
		f.send(t, "hi", 0)
	}
	f.send(t, "lo", 2)

	msgs := f.receive(t, WithMaxMessages(5))
	if len(msgs) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(msgs))
	}
	if msgs[len(msgs)-1].Priority != 2 {
		t.Fatalf("class 2 missing from batch: %+v", msgs)
	}
	for _, m := range msgs[:len(msgs)-1] {
		if m.Priority != 0 {
			t.Fatalf("unexpected class %d in batch: %+v", m.Priority, msgs)
		}
	}
}
