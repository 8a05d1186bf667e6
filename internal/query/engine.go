// Package query implements the local query engine: the protocol
// dispatch surface wrapped around an internal/tagstore.Store, plus the
// (language, client-path-prefix) predicate filter that scopes the
// process-lifetime local store down to one caller's working tree.
package query

import (
	"strings"
	"sync"
	"time"

	"github.com/standardbeagle/gtagsmixer/internal/debug"
	"github.com/standardbeagle/gtagsmixer/internal/sexpr"
	"github.com/standardbeagle/gtagsmixer/internal/tagstore"
	"github.com/standardbeagle/gtagsmixer/internal/version"
)

// Engine wraps a tag store with the wire-protocol command surface and
// guards it with a single exclusive lock across any request, including
// reload/update.
type Engine struct {
	mu    sync.Mutex
	store *tagstore.Store

	// callersStore, when set, holds call-site records fed by the
	// callgraph indexing pass. Lookups with callers requested are
	// answered from it instead of the definitions store.
	callersStore *tagstore.Store

	startTime time.Time
	seq       uint64
}

// NewEngine creates a query engine over store, recording startTime for
// the response envelope's server-start-time field.
func NewEngine(store *tagstore.Store, startTime time.Time) *Engine {
	return &Engine{store: store, startTime: startTime}
}

// SetCallersStore attaches a separate store for call-site records.
// Without one, callers lookups fall back to the definitions store.
func (e *Engine) SetCallersStore(s *tagstore.Store) { e.callersStore = s }

// Request mirrors the attributes a client command may carry: tag text,
// target language and client working-tree root, and whether callers
// (vs. definitions) were asked for.
type Request struct {
	Command       string
	Tag           string
	File          string
	Language      string
	ClientPath    string
	CallersSet    bool
	Callers       bool
}

// Dispatch executes one protocol command and returns the full
// three-field envelope:
//
//	((server-start-time (HI LO)) (sequence-number N) (value RESULT))
func (e *Engine) Dispatch(req Request) *sexpr.Value {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.seq++
	seq := e.seq

	value := e.dispatchLocked(req)
	return e.envelope(seq, value)
}

func (e *Engine) dispatchLocked(req Request) *sexpr.Value {
	debug.LogQuery("dispatch command=%s tag=%q file=%q language=%q\n", req.Command, req.Tag, req.File, req.Language)
	switch req.Command {
	case "ping":
		return sexpr.Symbol("t")
	case "log":
		return sexpr.Symbol("t")
	case "get-server-version":
		return sexpr.Int(version.ServerProtocolVersion)
	case "get-supported-protocol-versions":
		supported := version.SupportedProtocolVersions()
		items := make([]*sexpr.Value, len(supported))
		for i, n := range supported {
			items[i] = sexpr.Int(int64(n))
		}
		return sexpr.List(items...)
	case "reload-tags-file":
		if err := e.store.Reload(req.File, false); err != nil {
			debug.LogQuery("reload-tags-file %s failed: %v\n", req.File, err)
			return sexpr.Nil()
		}
		return sexpr.Symbol("t")
	case "load-update-file":
		if err := e.store.Update(req.File, false); err != nil {
			debug.LogQuery("load-update-file %s failed: %v\n", req.File, err)
			return sexpr.Nil()
		}
		return sexpr.Symbol("t")
	case "lookup-tag-exact":
		return e.tagList(e.storeFor(req).FindExact(req.Tag), req)
	case "lookup-tag-prefix-regexp":
		recs, err := e.storeFor(req).FindPrefix(req.Tag)
		if err != nil {
			return sexpr.Nil()
		}
		return e.tagList(recs, req)
	case "lookup-tag-snippet-regexp":
		recs, err := e.storeFor(req).FindSnippet(req.Tag)
		if err != nil {
			return sexpr.Nil()
		}
		return e.tagList(recs, req)
	case "lookup-tags-in-file":
		recs, err := e.storeFor(req).FindByFile(req.File)
		if err != nil {
			return sexpr.Nil()
		}
		return e.tagList(recs, req)
	default:
		return sexpr.Nil()
	}
}

// storeFor picks the definitions or callers store for a lookup. When a
// request leaves callers unspecified, the most recent load decides: a
// store whose last loaded file held only call descriptors defaults to
// answering with callers.
func (e *Engine) storeFor(req Request) *tagstore.Store {
	callers := req.Callers
	if !req.CallersSet {
		callers = e.store.CallersDefault()
	}
	if callers && e.callersStore != nil {
		return e.callersStore
	}
	return e.store
}

// tagList filters recs by the (language, client-path-prefix) predicate
// and renders the survivors in the tag-list result shape.
func (e *Engine) tagList(recs []*tagstore.Record, req Request) *sexpr.Value {
	items := make([]*sexpr.Value, 0, len(recs))
	for _, r := range recs {
		if !matches(r, req) {
			continue
		}
		items = append(items, tagEntry(r))
	}
	return sexpr.List(items...)
}

// matches is the scoping predicate: the record's language must
// prefix-match the requested language, and the record's path must
// start with the client's working-tree prefix.
func matches(r *tagstore.Record, req Request) bool {
	if req.Language != "" && !strings.HasPrefix(r.Language, req.Language) {
		return false
	}
	if req.ClientPath != "" && !strings.HasPrefix(r.File, req.ClientPath) {
		return false
	}
	return true
}

// tagEntry renders one record as a tag-list element:
//
//	((tag "N") (snippet "...") (filename "...") (lineno L) (offset O)
//	 (directory-distance D))
//
// directory-distance is always 0; the protocol reserves the field for
// a future ranking heuristic.
func tagEntry(r *tagstore.Record) *sexpr.Value {
	return sexpr.List(
		sexpr.List(sexpr.Symbol("tag"), sexpr.Str(r.Tag)),
		sexpr.List(sexpr.Symbol("snippet"), sexpr.Str(r.Snippet)),
		sexpr.List(sexpr.Symbol("filename"), sexpr.Str(r.File)),
		sexpr.List(sexpr.Symbol("lineno"), sexpr.Int(int64(r.Line))),
		sexpr.List(sexpr.Symbol("offset"), sexpr.Int(int64(r.Offset))),
		sexpr.List(sexpr.Symbol("directory-distance"), sexpr.Int(0)),
	)
}

func (e *Engine) envelope(seq uint64, value *sexpr.Value) *sexpr.Value {
	epoch := e.startTime.Unix()
	hi := (epoch >> 16) & 0xFFFF
	lo := epoch & 0xFFFF
	return sexpr.List(
		sexpr.List(sexpr.Symbol("server-start-time"), sexpr.List(sexpr.Int(hi), sexpr.Int(lo))),
		sexpr.List(sexpr.Symbol("sequence-number"), sexpr.Int(int64(seq))),
		sexpr.List(sexpr.Symbol("value"), value),
	)
}

// Store exposes the underlying tag store for tests and diagnostics.
// Mutations must go through LoadUpdate/UnloadDir so they serialize
// against in-flight queries.
func (e *Engine) Store() *tagstore.Store { return e.store }

// LoadUpdate merges a tag delta file into the store under the engine
// lock. The index batcher hands freshly indexed deltas here.
func (e *Engine) LoadUpdate(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Update(path, false)
}

// LoadCallgraphUpdate merges a callgraph delta into the callers store
// under the engine lock. Without a callers store the delta is dropped.
func (e *Engine) LoadCallgraphUpdate(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.callersStore == nil {
		return nil
	}
	return e.callersStore.Update(path, false)
}

// UnloadDir drops every loaded file under prefix from both stores,
// under the engine lock. The watch-command worker calls this when a
// watched subtree is removed so its tags disappear with it.
func (e *Engine) UnloadDir(prefix string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.UnloadFilesInDir(prefix)
	if e.callersStore != nil {
		e.callersStore.UnloadFilesInDir(prefix)
	}
}
