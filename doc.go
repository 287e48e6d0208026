// Package termlog implements a segmented, file-backed, append-only log for a
// single election term of a replicated state machine.
//
// A TermLog owns a contiguous range of log indexes bounded by startIndex and
// (once the term is finished) endIndex. Many writers may append at different
// indexes concurrently; the log resolves out-of-order arrivals into a
// contiguous prefix (contigIndex) and tracks the highest index known to be
// valid (highestIndex) and the highest index the application has
// acknowledged durable (commitIndex, clamped to actualCommit =
// min(commitIndex, highestIndex)). Readers follow behind either watermark.
//
// Cross-term ordering, leader election, peer replication, and the
// record-framing imposed by callers above this layer are out of scope: this
// package only durably stores bytes at absolute indexes and tracks the
// watermarks around them.
package termlog
