// Package id generates the identifiers spqs hands out.
//
// An ID is 16 bytes big-endian: [8 bytes ms timestamp][8 bytes sequence], so
// byte order equals creation order. The embedded transport uses the hex form
// as the message id and the raw bytes as key suffixes.
//
// Ticker produces strictly increasing microsecond stamps. The ordering index
// uses them as scores so that two registrations in the same process never
// share a score even when the wall clock stalls or steps back.
//
//	g := id.NewGenerator()
//	s := g.Next().String()
package id
