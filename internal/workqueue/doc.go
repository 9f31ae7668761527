// Package workqueue is the embedded transport: a durable FIFO queue on Pebble
// with lease-based visibility, used when spqs runs without SQS.
//
// It implements transport.Transport:
//
//   - Send writes a CRC-checked record and appends the message to the
//     available index, or to the delay index when a delay is requested.
//   - Receive leases up to N available messages for the visibility timeout
//     and long-polls up to the wait time when none are available.
//   - Delete and ExtendLease require the receipt of the current lease.
//   - Expired leases return to the available index at their original
//     sequence, so a redelivered message keeps its place at the head.
//
// # Keyspace
//
// All keys are prefixed with ns/{namespace}/wq/{name}/:
//
//	meta                          lastSeq(8) | available(4)
//	msg/{seq}                     record: header(JSON) | body | crc32c
//	id/{message id}               seq(8)
//	avail/{seq}                   available index (FIFO)
//	delay_idx/{ready_ms}/{seq}    delayed messages
//	lease/{seq}                   expires_ms(8) | nonce(16)
//	lease_idx/{expires_ms}/{seq}  lease expiry index for the sweeper
//	dedup/{dedup id}              expires_ms(8) | message id
//
// Delivery is at-least-once: a consumer that outlives its lease may see the
// message again under a new receipt.
package workqueue
