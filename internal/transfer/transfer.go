// Package transfer implements FIshare's transfer protocol state machine:
// the receiver's accept/consent/ingest loop and the sender's
// connect/handshake/stream loop with retry, described in spec.md §4.5.
package transfer

import "time"

// ChunkSize is the maximum number of file bytes carried per file_chunk
// message (spec.md §4.3).
const ChunkSize = 64 * 1024

// MaxRetries is the total number of attempts the sender makes when
// attempts fail with transport failures: one initial attempt plus up to
// MaxRetries-1 retries (spec.md §4.5, §7).
const MaxRetries = 3

// RetryBackoff is the fixed delay between sender retry attempts.
const RetryBackoff = 2 * time.Second

// AcceptTimeout bounds each iteration of the receiver's accept loop so it
// can observe a canceled context promptly (spec.md §5).
const AcceptTimeout = 1 * time.Second

// ConnectTimeout bounds a sender's TCP dial.
const ConnectTimeout = 8 * time.Second

// ConsentTimeout bounds how long the receiver waits on the consent
// oracle before treating silence as a refusal (spec.md §6).
const ConsentTimeout = 30 * time.Second

// ProgressGrace is how long a terminal transfer's progress entry is kept
// around before being cleared, giving the UI collaborator a moment to
// render the final state (spec.md §3).
const ProgressGrace = 3 * time.Second

// ratio computes sent/total as a fraction in [0,1], treating a zero
// total as already complete (spec.md §8's "empty-total convention").
func ratio(sent, total uint64) float64 {
	if total == 0 {
		return 1.0
	}
	return float64(sent) / float64(total)
}
