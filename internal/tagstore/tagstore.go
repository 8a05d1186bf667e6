package tagstore

import (
	"compress/gzip"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/standardbeagle/gtagsmixer/internal/core"
	gerrors "github.com/standardbeagle/gtagsmixer/internal/errors"
)

// Options configures a Store at construction time.
type Options struct {
	// EnableByFile turns on the optional byFile index, which
	// lets a file's records be unloaded in O(records-in-file) instead of
	// a full byTag scan.
	EnableByFile bool
	// MaxResults bounds cardinality of every result-returning
	// operation (default 2000). Overflow truncates silently.
	MaxResults int
	// MaxSnippetSize truncates Record.Snippet at load time.
	MaxSnippetSize int
}

func (o Options) withDefaults() Options {
	if o.MaxResults <= 0 {
		o.MaxResults = 2000
	}
	if o.MaxSnippetSize <= 0 {
		o.MaxSnippetSize = 200
	}
	return o
}

// Store is the in-memory tag index. It is not internally
// synchronized: the caller (internal/query.Engine) serializes all
// access, holding its mutex across whole requests.
type Store struct {
	opts Options

	strings *core.StringPool
	paths   *core.PathPool

	// byTag is an ordered multimap, sorted lexicographically by Tag,
	// so FindPrefix can binary-search the start of a range and scan
	// forward.
	byTag []*Record

	// byFile holds, per loaded file, the records owned by that file. Only
	// populated when opts.EnableByFile is set.
	byFile map[string][]*Record

	// byBasename is a multimap from basename to the set of full paths
	// sharing it.
	byBasename map[string]map[string]bool

	loadedFiles map[string]bool

	// callersDefault is set when the most recently (re)loaded file
	// contained only CALL descriptors and no definition descriptors
	//; internal/query reads it to pick the
	// default value of "callers" when a request omits it.
	callersDefault bool
}

// New creates an empty tag store.
func New(opts Options) *Store {
	opts = opts.withDefaults()
	strs := core.NewStringPool()
	return &Store{
		opts:        opts,
		strings:     strs,
		paths:       core.NewPathPool(strs),
		byFile:      make(map[string][]*Record),
		byBasename:  make(map[string]map[string]bool),
		loadedFiles: make(map[string]bool),
	}
}

// CallersDefault reports whether the most recently loaded file held
// only call descriptors.
func (s *Store) CallersDefault() bool { return s.callersDefault }

// Reload replaces all state from the tag file at path. Legal only
// when no outstanding queries run against the store; the caller holds
// its exclusive lock across this call.
func (s *Store) Reload(path string, gunzip bool) error {
	doc, err := readTagFile(path, gunzip)
	if err != nil {
		return gerrors.NewTagFileError("reload", path, true, err)
	}

	s.byTag = nil
	s.byFile = make(map[string][]*Record)
	s.byBasename = make(map[string]map[string]bool)
	s.loadedFiles = make(map[string]bool)

	for _, f := range doc.files {
		if f.deleted {
			continue
		}
		if err := s.installFile(f); err != nil {
			return gerrors.NewTagFileError("reload", path, false, err)
		}
	}
	return nil
}

// Update merges a delta file into the store: for each
// file record named in the delta, the prior records for that file are
// unloaded before the new ones are installed; a (deleted "path") form
// only unloads.
func (s *Store) Update(path string, gunzip bool) error {
	doc, err := readTagFile(path, gunzip)
	if err != nil {
		return gerrors.NewTagFileError("update", path, true, err)
	}

	for _, f := range doc.files {
		s.unloadFile(f.path)
		if f.deleted {
			continue
		}
		if err := s.installFile(f); err != nil {
			return gerrors.NewTagFileError("update", path, false, err)
		}
	}
	return nil
}

// installFile interns f's strings, builds its records, and inserts
// them into byTag/byFile/byBasename/loadedFiles. A record must be
// reachable from byTag iff it is reachable from byFile[file].
func (s *Store) installFile(f *parsedFile) error {
	path, basename := s.paths.Intern(f.path)
	language := s.strings.Intern(f.language)

	records := make([]*Record, 0, len(f.items))
	onlyCalls := len(f.items) > 0
	for _, it := range f.items {
		if it.tag == "" {
			return fmt.Errorf("item at line %d in %s: descriptor missing tag name", it.line, f.path)
		}
		snippet := it.snippet
		if len(snippet) > s.opts.MaxSnippetSize {
			snippet = snippet[:s.opts.MaxSnippetSize]
		}
		rec := &Record{
			Kind:     it.kind,
			Tag:      s.strings.Intern(it.tag),
			Snippet:  s.strings.Intern(snippet),
			Line:     it.line,
			Offset:   it.offset,
			File:     path,
			Language: language,
		}
		records = append(records, rec)
		if it.kind != KindCall {
			onlyCalls = false
		}
	}

	for _, rec := range records {
		s.insertByTag(rec)
	}
	// byFile is always maintained internally so unloadFile/
	// unloadFilesInDir can run in O(records-in-file); opts.EnableByFile
	// only gates whether FindByFile (the public query) is allowed to use
	// it.
	s.byFile[path] = records

	if s.byBasename[basename] == nil {
		s.byBasename[basename] = make(map[string]bool)
	}
	s.byBasename[basename][path] = true
	s.loadedFiles[path] = true
	s.callersDefault = onlyCalls

	return nil
}

// insertByTag inserts rec into the sorted byTag slice at the position
// that keeps it ordered lexicographically by Tag.
func (s *Store) insertByTag(rec *Record) {
	i := sort.Search(len(s.byTag), func(i int) bool {
		return s.byTag[i].Tag >= rec.Tag
	})
	s.byTag = append(s.byTag, nil)
	copy(s.byTag[i+1:], s.byTag[i:])
	s.byTag[i] = rec
}

// unloadFile removes every record owned by file from all indices.
// Stale byBasename references are not permitted: when a
// file's last basename entry is removed, the basename key itself is
// dropped.
func (s *Store) unloadFile(file string) {
	// Go string map keys compare by content, so no interning lookup is
	// needed here: file need not be the exact interned instance to match
	// the entries installFile stored under the same bytes.
	path := file
	if !s.loadedFiles[path] {
		return
	}

	recs := s.byFile[path]
	if len(recs) > 0 {
		toRemove := make(map[*Record]bool, len(recs))
		for _, r := range recs {
			toRemove[r] = true
		}
		kept := s.byTag[:0:0]
		for _, r := range s.byTag {
			if !toRemove[r] {
				kept = append(kept, r)
			}
		}
		s.byTag = kept
	}

	delete(s.byFile, path)
	delete(s.loadedFiles, path)

	basename, ok := s.paths.Basename(path)
	if ok {
		if set := s.byBasename[basename]; set != nil {
			delete(set, path)
			if len(set) == 0 {
				delete(s.byBasename, basename)
			}
		}
	}
	s.paths.Forget(path)
}

// UnloadFilesInDir unloads every loaded file whose path has the given
// prefix, used by the watch-command worker when a
// watched subtree is removed.
func (s *Store) UnloadFilesInDir(prefix string) {
	var toUnload []string
	for f := range s.loadedFiles {
		if strings.HasPrefix(f, prefix) {
			toUnload = append(toUnload, f)
		}
	}
	for _, f := range toUnload {
		s.unloadFile(f)
	}
}

// LoadedFileCount reports how many files are currently represented, for
// diagnostics/tests.
func (s *Store) LoadedFileCount() int { return len(s.loadedFiles) }

func readTagFile(path string, gunzip bool) (*parsedDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if gunzip {
		data, err = gunzipBytes(data)
		if err != nil {
			return nil, fmt.Errorf("gunzip %s: %w", path, err)
		}
	}
	return parseTagFile(data)
}

func gunzipBytes(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(strings.NewReader(string(data)))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var out []byte
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil {
			break
		}
	}
	return out, nil
}

var snippetRegexCache sync.Map // pattern -> *regexp.Regexp

func compileRegex(pattern string) (*regexp.Regexp, error) {
	if v, ok := snippetRegexCache.Load(pattern); ok {
		return v.(*regexp.Regexp), nil
	}
	re, err := regexp.CompilePOSIX(pattern)
	if err != nil {
		return nil, err
	}
	snippetRegexCache.Store(pattern, re)
	return re, nil
}
