// Package client provides the `spqs` command-line client.
//
// The CLI talks to the spqs HTTP API to send, receive and manage messages
// from a terminal. It is primarily intended for developers and operators.
//
// # Address configuration
//
// The HTTP base URL is discovered by the application that embeds the
// commands via a BaseURLFunc. The standalone binary reads SPQS_HTTP and
// defaults to http://127.0.0.1:8080.
//
// Usage
//
//	spqs send --priority 0 '{"job":"resize"}'
//	spqs send -p 2 --attr tenant=acme --delay 30s "nightly report"
//
//	# receive up to 5 messages, highest priority first, and ack them
//	spqs receive --max 5 --ack
//
//	# manual delete; --id and --priority also drop the index entry
//	spqs delete --receipt RECEIPT --id MESSAGE_ID --priority 0
//	spqs extend --receipt RECEIPT --visibility 2m
//
//	spqs depth
//	spqs latency
//	spqs count
//	spqs purge --confirm
package client
