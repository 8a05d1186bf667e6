package mixer

import "sync"

// Holder is a per-(request, source) latch: for one logical source
// served by K parallel shards, it reports the first successful response
// to the mixer and, if all K report failure, a single synthesized
// failure. It becomes inert once the Kth report lands, regardless of
// mix.
type Holder struct {
	mixer  *Mixer
	source Source

	mu        sync.Mutex
	remaining int
	used      bool
	failures  int
}

// NewHolder creates a holder for source, expecting exactly k reports
// before it completes. k is clamped to at least 1.
func NewHolder(m *Mixer, source Source, k int) *Holder {
	if k < 1 {
		k = 1
	}
	return &Holder{mixer: m, source: source, remaining: k}
}

// ReportSuccess records one shard's successful response. Only the
// first successful report reaches the mixer; later successes for the
// same holder are absorbed silently.
func (h *Holder) ReportSuccess(response string) {
	h.mu.Lock()
	first := !h.used
	h.used = true
	h.remaining--
	h.mu.Unlock()

	if first {
		h.mixer.SetResult(h.source, response)
	}
}

// ReportFailure records one shard's failure. When the Kth report lands
// with no success ever recorded, the mixer is told the whole source
// failed.
func (h *Holder) ReportFailure(reason string) {
	h.mu.Lock()
	h.failures++
	h.remaining--
	done := h.remaining <= 0
	usedSoFar := h.used
	lastReason := reason
	h.mu.Unlock()

	if done && !usedSoFar {
		h.mixer.SetFailure(h.source, lastReason)
	}
}
