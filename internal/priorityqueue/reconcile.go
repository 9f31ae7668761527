package priorityqueue

import (
	"sort"

	"github.com/rzbill/spqs/internal/index"
	"github.com/rzbill/spqs/internal/transport"
)

// Reconcile intersects what the transport delivered with what the index
// tracks. Messages without metadata are dropped. The rest are ordered by
// priority, then by their rank in candidates (non-candidates last), then by
// send time.
func Reconcile(candidates []string, fetched []transport.Message, metadata map[string]index.Metadata) []PriorityMessage {
	rank := make(map[string]int, len(candidates))
	for i, id := range candidates {
		if _, dup := rank[id]; !dup {
			rank[id] = i
		}
	}
	rankOf := func(id string) int {
		if r, ok := rank[id]; ok {
			return r
		}
		return len(candidates)
	}

	out := make([]PriorityMessage, 0, len(fetched))
	seen := make(map[string]bool, len(fetched))
	for _, m := range fetched {
		meta, ok := metadata[m.ID]
		if !ok || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, PriorityMessage{
			ID:              m.ID,
			Body:            m.Body,
			ReceiptToken:    m.ReceiptToken,
			Attributes:      m.Attributes,
			Priority:        meta.Priority,
			SentAt:          meta.SentAt,
			FirstReceivedAt: meta.FirstReceivedAt,
			LastReceivedAt:  meta.LastReceivedAt,
			ReceiveCount:    meta.ReceiveCount,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if ra, rb := rankOf(a.ID), rankOf(b.ID); ra != rb {
			return ra < rb
		}
		return a.SentAt.Before(b.SentAt)
	})
	return out
}
