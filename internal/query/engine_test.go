package query

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/gtagsmixer/internal/sexpr"
	"github.com/standardbeagle/gtagsmixer/internal/tagstore"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	store := tagstore.New(tagstore.Options{EnableByFile: true})
	return NewEngine(store, time.Unix(1_700_000_000, 0))
}

func writeAndReload(t *testing.T, e *Engine, content string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "t.tags")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	require.NoError(t, e.Store().Reload(path, false))
}

func envelopeValue(t *testing.T, resp *sexpr.Value) *sexpr.Value {
	t.Helper()
	v, ok := sexpr.AssocGetValue(resp, "value")
	require.True(t, ok)
	return v
}

func TestDispatchPing(t *testing.T) {
	e := newTestEngine(t)
	resp := e.Dispatch(Request{Command: "ping"})
	v := envelopeValue(t, resp)
	assert.True(t, v.Bool())

	_, ok := sexpr.AssocGetValue(resp, "sequence-number")
	assert.True(t, ok)
	_, ok = sexpr.AssocGetValue(resp, "server-start-time")
	assert.True(t, ok)
}

func TestDispatchSequenceNumberMonotone(t *testing.T) {
	e := newTestEngine(t)
	r1 := e.Dispatch(Request{Command: "ping"})
	r2 := e.Dispatch(Request{Command: "ping"})

	n1, _ := mustSeqInt(t, r1)
	n2, _ := mustSeqInt(t, r2)
	assert.Less(t, n1, n2)
}

func mustSeqInt(t *testing.T, resp *sexpr.Value) (int64, bool) {
	t.Helper()
	v, ok := sexpr.AssocGetValue(resp, "sequence-number")
	require.True(t, ok)
	n, ok := v.Int64()
	require.True(t, ok)
	return n, ok
}

func TestDispatchGetServerVersion(t *testing.T) {
	e := newTestEngine(t)
	resp := e.Dispatch(Request{Command: "get-server-version"})
	v := envelopeValue(t, resp)
	n, ok := v.Int64()
	require.True(t, ok)
	assert.Equal(t, int64(2), n)
}

func TestDispatchSupportedProtocolVersions(t *testing.T) {
	e := newTestEngine(t)
	resp := e.Dispatch(Request{Command: "get-supported-protocol-versions"})
	v := envelopeValue(t, resp)
	items, ok := v.Items()
	require.True(t, ok)
	require.Len(t, items, 2)
	n0, _ := items[0].Int64()
	n1, _ := items[1].Int64()
	assert.Equal(t, []int64{1, 2}, []int64{n0, n1})
}

const queryTestTags = `(tags-format-version 2)
(file (path "/root/proj/a/file1.h") (language "c++")
 (contents ((item (line 10) (offset 100) (snippet "int file_size;") (descriptor (variable (tag "file_size")))))))
(file (path "/root/other/b/file2.h") (language "go")
 (contents ((item (line 1) (offset 0) (snippet "int file_size;") (descriptor (variable (tag "file_size")))))))
`

func TestDispatchLookupTagExactFiltersByLanguageAndClientPath(t *testing.T) {
	e := newTestEngine(t)
	writeAndReload(t, e, queryTestTags)

	resp := e.Dispatch(Request{
		Command:    "lookup-tag-exact",
		Tag:        "file_size",
		Language:   "c++",
		ClientPath: "/root/proj",
	})
	v := envelopeValue(t, resp)
	items, ok := v.Items()
	require.True(t, ok)
	require.Len(t, items, 1)

	filename, ok := sexpr.AssocGetValue(items[0], "filename")
	require.True(t, ok)
	s, _ := filename.Text()
	assert.Equal(t, "/root/proj/a/file1.h", s)
}

func TestDispatchLookupTagExactNoMatchOutsideClientPath(t *testing.T) {
	e := newTestEngine(t)
	writeAndReload(t, e, queryTestTags)

	resp := e.Dispatch(Request{
		Command:    "lookup-tag-exact",
		Tag:        "file_size",
		Language:   "go",
		ClientPath: "/root/proj", // go record lives under /root/other
	})
	v := envelopeValue(t, resp)
	assert.True(t, v.IsNil())
}

func TestDispatchReloadAndLoadUpdate(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "t.tags")
	require.NoError(t, os.WriteFile(path, []byte(queryTestTags), 0644))

	resp := e.Dispatch(Request{Command: "reload-tags-file", File: path})
	v := envelopeValue(t, resp)
	assert.True(t, v.Bool())

	resp = e.Dispatch(Request{Command: "reload-tags-file", File: "/does/not/exist"})
	v = envelopeValue(t, resp)
	assert.True(t, v.IsNil())
}

func TestParseRequestExtractsAttributes(t *testing.T) {
	v := sexpr.List(
		sexpr.Symbol("lookup-tag-exact"),
		sexpr.List(sexpr.Symbol("tag"), sexpr.Str("file_size")),
		sexpr.List(sexpr.Symbol("language"), sexpr.Str("c++")),
		sexpr.List(sexpr.Symbol("callers"), sexpr.Symbol("t")),
		sexpr.List(sexpr.Symbol("current-file"), sexpr.Str("/root/proj/x.cc")),
	)
	req := ParseRequest(v)
	assert.Equal(t, "lookup-tag-exact", req.Command)
	assert.Equal(t, "file_size", req.Tag)
	assert.Equal(t, "c++", req.Language)
	assert.True(t, req.CallersSet)
	assert.True(t, req.Callers)
	assert.Equal(t, "/root/proj/x.cc", req.ClientPath)
}
