// Package router implements the request router: it parses a client
// query, resolves it to a (corpus, language, callers) source set,
// spawns the remote RPCs and local lookup, and owns the per-request
// mixer.
package router

import (
	"context"
	"fmt"

	"github.com/standardbeagle/gtagsmixer/internal/config"
	"github.com/standardbeagle/gtagsmixer/internal/debug"
	"github.com/standardbeagle/gtagsmixer/internal/mixer"
	"github.com/standardbeagle/gtagsmixer/internal/query"
	"github.com/standardbeagle/gtagsmixer/internal/sexpr"
	"github.com/standardbeagle/gtagsmixer/internal/shard"
)

// LocalEngine is the subset of *query.Engine the router needs: a
// narrow interface so tests can substitute a stub local engine.
type LocalEngine interface {
	Dispatch(req query.Request) *sexpr.Value
}

// Router resolves and fans out queries. One Router is constructed per
// mixer process and handles every incoming query.
type Router struct {
	cfg   *config.Config
	local map[string]LocalEngine // corpus -> local engine, one injected per corpus
}

// New creates a Router over cfg's source map. local supplies the
// per-corpus local query engine; a corpus with no entry in local has
// no local shard.
func New(cfg *config.Config, local map[string]LocalEngine) *Router {
	return &Router{cfg: cfg, local: local}
}

// Route handles one query line. completion is invoked exactly once
// with the final merged response (rendered as wire text by the caller,
// typically the mixer listener).
func (r *Router) Route(ctx context.Context, line string, completion func(resp *sexpr.Value)) {
	v, _, err := sexpr.Parse([]byte(line))
	if err != nil {
		// A malformed request is treated as a ping.
		debug.LogRouter("router: malformed request, treating as ping: %v\n", err)
		completion(pingResponse())
		return
	}

	items, ok := v.Items()
	if !ok || len(items) == 0 {
		completion(pingResponse())
		return
	}
	head, ok := items[0].Text()
	if !ok {
		completion(pingResponse())
		return
	}
	if head == "ping" {
		completion(pingResponse())
		return
	}

	req := r.buildRequest(line, v)

	shards, ok := r.cfg.SourceFor(req.corpus, req.language)
	if !ok {
		completion(mappingErrorResponse(req))
		return
	}
	localEngine, hasLocal := r.local[req.corpus]

	m := mixer.New(completion)

	k := shardCount(shards, req.callers)
	if k > 0 {
		holder := mixer.NewHolder(m, mixer.Remote, k)
		r.dispatchRemote(ctx, shards, req, holder)
	} else {
		m.SetResult(mixer.Remote, "")
	}

	if hasLocal {
		resp := localEngine.Dispatch(query.Request{
			Command:    req.command,
			Tag:        req.tag,
			File:       req.file,
			Language:   req.language,
			ClientPath: req.clientPath,
			CallersSet: req.callersSet,
			Callers:    req.callers,
		})
		m.SetResult(mixer.Local, sexpr.Write(resp))
	} else {
		m.SetResult(mixer.Local, "")
	}
}

// parsedRequest is built once from the client's command, copied
// rather than aliased to the input buffer: the transport may free the
// original line before the last RPC callback runs.
type parsedRequest struct {
	command    string
	tag        string
	file       string
	corpus     string
	language   string
	callers    bool
	callersSet bool
	clientPath string
	raw        string // the original request line, forwarded to remote shards byte-for-byte
}

// buildRequest copies line into the request rather than reprinting
// the parsed form: a remote shard that pattern-matches by byte
// identity must see the client's original bytes.
func (r *Router) buildRequest(line string, v *sexpr.Value) parsedRequest {
	items, _ := v.Items()
	req := parsedRequest{
		corpus:   r.cfg.Defaults.Corpus,
		language: r.cfg.Defaults.Language,
		callers:  r.cfg.Defaults.Callers,
		raw:      line,
	}
	if len(items) > 0 {
		req.command, _ = items[0].Text()
	}
	if tag, ok := sexpr.AssocGetValue(v, "tag"); ok {
		req.tag, _ = tag.Text()
	}
	if file, ok := sexpr.AssocGetValue(v, "file"); ok {
		req.file, _ = file.Text()
	}
	if corpus, ok := sexpr.AssocGetValue(v, "corpus"); ok {
		if s, ok := corpus.Text(); ok {
			req.corpus = s
		}
	}
	if lang, ok := sexpr.AssocGetValue(v, "language"); ok {
		if s, ok := lang.Text(); ok {
			req.language = s
		}
	}
	if callers, ok := sexpr.AssocGetValue(v, "callers"); ok {
		req.callers = callers.Bool()
		req.callersSet = true
	}
	// The current-file string is used verbatim as a prefix, never
	// stripped by the server.
	if cf, ok := sexpr.AssocGetValue(v, "current-file"); ok {
		req.clientPath, _ = cf.Text()
	}
	return req
}

// shardCount reports how many shards back this (corpus, language,
// callers) combination. This config models one endpoint per language
// per kind (definitions, callers), so K is always 0 or 1 here; a config
// layer fronting a true shard farm would return the farm's shard count
// instead.
func shardCount(src config.LanguageSource, callers bool) int {
	if callers && src.HasCallgraph {
		if src.CallgraphHost == "" {
			return 0
		}
		return 1
	}
	if src.Host == "" {
		return 0
	}
	return 1
}

func (r *Router) dispatchRemote(ctx context.Context, src config.LanguageSource, req parsedRequest, holder *mixer.Holder) {
	endpoint := shard.Endpoint{Host: src.Host, Port: src.Port}
	if req.callers && src.HasCallgraph {
		endpoint = shard.Endpoint{Host: src.CallgraphHost, Port: src.CallgraphPort}
	}
	go shard.Query(ctx, endpoint, req.raw, holder)
}

func pingResponse() *sexpr.Value {
	return sexpr.List(sexpr.List(sexpr.Symbol("value"), sexpr.Symbol("t")))
}

// mappingErrorResponse is the structured error for an unknown
// (corpus, language, callers) combination.
func mappingErrorResponse(req parsedRequest) *sexpr.Value {
	msg := fmt.Sprintf("Failed to map language %s, callers: %v, corpus: %s into RPC stubs.",
		req.language, req.callers, req.corpus)
	return sexpr.List(sexpr.List(sexpr.Symbol("error"),
		sexpr.List(sexpr.List(sexpr.Symbol("message"), sexpr.Str(msg)))))
}
