// Package mixer implements the per-request result mixer and per-source
// result holder: the join point that merges LOCAL and REMOTE source
// responses, and the K-of-N latch that collapses parallel shard replies
// into one source result.
//
// The mixer owns its holders' completion callbacks; each holder carries
// a non-owning back-reference plus a monotonic countdown, and both
// complete at well-known points (mixer on completion, holder on Kth
// report).
package mixer

import (
	"sync"
	"sync/atomic"

	"github.com/standardbeagle/gtagsmixer/internal/debug"
	"github.com/standardbeagle/gtagsmixer/internal/sexpr"
)

// Source identifies one of the mixer's slots. The request router
// always allocates exactly two: LOCAL and REMOTE.
type Source int

const (
	Local Source = iota
	Remote
	numSources = 2
)

func (s Source) String() string {
	if s == Local {
		return "LOCAL"
	}
	return "REMOTE"
}

type slot struct {
	value   *sexpr.Value // parsed response, if any
	raw     string        // the raw response bytes, for pass-through on total failure
	failed  bool
	reason  string
}

// Mixer is the per-request join point. It is created with a fixed
// number of sources and a completion callback;
// every call to SetResult/SetFailure decrements the outstanding count,
// and the completion callback fires exactly once, when the count
// reaches zero.
type Mixer struct {
	completion func(resp *sexpr.Value)

	mu          sync.Mutex
	slots       [numSources]slot
	outstanding int32
	done        bool
}

// New creates a Mixer for exactly LOCAL and REMOTE sources. completion is invoked exactly once,
// after both slots have reported, with the merged response.
func New(completion func(resp *sexpr.Value)) *Mixer {
	return &Mixer{
		completion:  completion,
		outstanding: numSources,
	}
}

// SetResult records a successful response for source. Only the first
// call per source affects the stored value; every call still decrements
// outstanding exactly once (holders guarantee at most one
// SetResult/SetFailure call per source).
func (m *Mixer) SetResult(source Source, raw string) {
	m.mu.Lock()
	if !m.slots[source].failed && m.slots[source].value == nil {
		v, _, err := sexpr.Parse([]byte(raw))
		if err == nil {
			m.slots[source].value = v
		}
		m.slots[source].raw = raw
	}
	m.mu.Unlock()
	debug.LogMixer("mixer: source %s reported success\n", source)
	m.arrive()
}

// SetFailure records that source could not produce a response.
func (m *Mixer) SetFailure(source Source, reason string) {
	m.mu.Lock()
	m.slots[source].failed = true
	m.slots[source].reason = reason
	m.mu.Unlock()
	debug.LogMixer("mixer: source %s failed: %s\n", source, reason)
	m.arrive()
}

// arrive decrements outstanding and, on the last arrival, renders the
// merged response and invokes completion exactly once.
func (m *Mixer) arrive() {
	if atomic.AddInt32(&m.outstanding, -1) != 0 {
		return
	}
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return
	}
	m.done = true
	resp := m.merge()
	m.mu.Unlock()
	if m.completion != nil {
		m.completion(resp)
	}
}

// merge renders the final response: if every source's value is absent,
// pass through REMOTE's raw response (or synthesize an error from
// REMOTE's failure reason); otherwise concatenate LOCAL's items before
// REMOTE's, ranking LOCAL first.
func (m *Mixer) merge() *sexpr.Value {
	localValue, localHasValue := m.slots[Local].extractValue()
	remoteValue, remoteHasValue := m.slots[Remote].extractValue()

	if !localHasValue && !remoteHasValue {
		if m.slots[Remote].failed {
			return errorResponse(m.slots[Remote].reason)
		}
		if m.slots[Remote].raw != "" {
			v, _, err := sexpr.Parse([]byte(m.slots[Remote].raw))
			if err == nil {
				return v
			}
		}
		return errorResponse("Failed to connect to remote services.")
	}

	var items []*sexpr.Value
	if localHasValue {
		if its, ok := localValue.Items(); ok {
			items = append(items, its...)
		}
	}
	if remoteHasValue {
		if its, ok := remoteValue.Items(); ok {
			items = append(items, its...)
		}
	}
	return sexpr.List(sexpr.List(sexpr.Symbol("value"), sexpr.List(items...)))
}

// extractValue returns the (value V) payload of a slot's parsed
// response, if the slot has a value shaped that way.
func (s *slot) extractValue() (*sexpr.Value, bool) {
	if s.value == nil {
		return nil, false
	}
	return sexpr.AssocGetValue(s.value, "value")
}

func errorResponse(reason string) *sexpr.Value {
	return sexpr.List(sexpr.List(sexpr.Symbol("error"),
		sexpr.List(sexpr.List(sexpr.Symbol("message"), sexpr.Str(reason)))))
}
