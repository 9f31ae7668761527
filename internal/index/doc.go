// Package index maintains the ordering index: one ordered set of message ids
// per priority class plus a JSON metadata record per in-flight message.
//
// The Index exposes atomic primitives only (register, class depth, peek,
// mark received, remove). Scheduling policy lives in package dispatch.
//
// Storage is pluggable through Store, a small key/value plus ordered-set
// contract. redisstore implements it with Redis sorted sets; localstore
// emulates sorted sets on the embedded Pebble database.
//
// Key layout (Namespace defaults to "spqs"):
//
//	{ns}:priority:{class}   ordered set, member=id, score=arrival µs
//	{ns}:meta:{id}          Metadata JSON
package index
