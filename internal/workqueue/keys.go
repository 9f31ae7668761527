package workqueue

import (
	"encoding/binary"
	"fmt"
)

// Key prefixes for WorkQueue data structures
const (
	prefixMsg      = "msg/"       // Message records
	prefixID       = "id/"        // Message id to sequence
	prefixAvail    = "avail/"     // Available index
	prefixDelay    = "delay_idx/" // Delayed message index
	prefixLease    = "lease/"     // Active leases
	prefixLeaseIdx = "lease_idx/" // Lease expiry index
	prefixDedup    = "dedup/"     // Deduplication window
)

// workQueuePrefix returns the base prefix for a work queue.
// Format: ns/{namespace}/wq/{name}/
func workQueuePrefix(namespace, name string) string {
	return fmt.Sprintf("ns/%s/wq/%s/", namespace, name)
}

// QueuePrefix returns every key of the queue.
func QueuePrefix(namespace, name string) []byte {
	return []byte(workQueuePrefix(namespace, name))
}

// MetaKey returns the queue metadata key.
// Format: ns/{ns}/wq/{name}/meta
func MetaKey(namespace, name string) []byte {
	return []byte(workQueuePrefix(namespace, name) + "meta")
}

func seqKey(prefix string, seq uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], seq)
	return key
}

func timeSeqKey(prefix string, ms int64, seq uint64) []byte {
	key := make([]byte, len(prefix)+16)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], uint64(ms))
	binary.BigEndian.PutUint64(key[len(prefix)+8:], seq)
	return key
}

// MsgKey returns the record key for a sequence.
// Format: ns/{ns}/wq/{name}/msg/{seq}
func MsgKey(namespace, name string, seq uint64) []byte {
	return seqKey(workQueuePrefix(namespace, name)+prefixMsg, seq)
}

// IDKey maps a message id to its sequence.
// Format: ns/{ns}/wq/{name}/id/{message id}
func IDKey(namespace, name, msgID string) []byte {
	return []byte(workQueuePrefix(namespace, name) + prefixID + msgID)
}

// AvailPrefix returns the prefix of the available index.
func AvailPrefix(namespace, name string) []byte {
	return []byte(workQueuePrefix(namespace, name) + prefixAvail)
}

// AvailKey returns the available-index key. Ascending seq is FIFO order.
// Format: ns/{ns}/wq/{name}/avail/{seq}
func AvailKey(namespace, name string, seq uint64) []byte {
	return seqKey(workQueuePrefix(namespace, name)+prefixAvail, seq)
}

// DelayPrefix returns the prefix of the delay index.
func DelayPrefix(namespace, name string) []byte {
	return []byte(workQueuePrefix(namespace, name) + prefixDelay)
}

// DelayKey returns the delay-index key.
// Format: ns/{ns}/wq/{name}/delay_idx/{ready_ms}/{seq}
func DelayKey(namespace, name string, readyMs int64, seq uint64) []byte {
	return timeSeqKey(workQueuePrefix(namespace, name)+prefixDelay, readyMs, seq)
}

// LeaseKey returns the lease record key.
// Format: ns/{ns}/wq/{name}/lease/{seq}
func LeaseKey(namespace, name string, seq uint64) []byte {
	return seqKey(workQueuePrefix(namespace, name)+prefixLease, seq)
}

// LeaseIdxPrefix returns the prefix of the lease expiry index.
func LeaseIdxPrefix(namespace, name string) []byte {
	return []byte(workQueuePrefix(namespace, name) + prefixLeaseIdx)
}

// LeaseIdxKey returns the lease expiry index key.
// Format: ns/{ns}/wq/{name}/lease_idx/{expires_ms}/{seq}
func LeaseIdxKey(namespace, name string, expMs int64, seq uint64) []byte {
	return timeSeqKey(workQueuePrefix(namespace, name)+prefixLeaseIdx, expMs, seq)
}

// DedupKey returns the deduplication key.
// Format: ns/{ns}/wq/{name}/dedup/{dedup id}
func DedupKey(namespace, name, dedupID string) []byte {
	return []byte(workQueuePrefix(namespace, name) + prefixDedup + dedupID)
}

// splitTimeSeq decodes the {ms}/{seq} suffix written by timeSeqKey.
func splitTimeSeq(key []byte, prefixLen int) (int64, uint64, bool) {
	if len(key) != prefixLen+16 {
		return 0, 0, false
	}
	ms := int64(binary.BigEndian.Uint64(key[prefixLen : prefixLen+8]))
	seq := binary.BigEndian.Uint64(key[prefixLen+8:])
	return ms, seq, true
}
