// Package config loads the mixer's runtime configuration: listener
// ports, the local watch root, and the corpus x language source map.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Defaults used when a client request omits corpus/language/callers.
type Defaults struct {
	Corpus   string
	Language string
	Callers  bool
}

// Project identifies the local corpus and the directory the watch
// pipeline roots itself at.
type Project struct {
	Corpus string
	Root   string
}

// Listener carries the mixer's three loopback ports.
type Listener struct {
	QueryPort          int
	VersionPort        int
	WatcherCommandPort int
}

// Watch configures the directory-watch pipeline.
type Watch struct {
	DebounceMs       int      // quiescence window, default 100ms
	Exclude          []string // directory basenames skipped during recursive add
	Include          []string // whitelist-extension filter glob patterns
	CallgraphEnabled bool     // whether the batcher also runs a --callgraph indexing pass
	IndexQueueSize   int      // index queue capacity
	CommandQueueSize int      // command queue capacity
	IndexerPath      string   // path to the out-of-process indexer binary
}

// TagStore configures the in-memory tag index.
type TagStore struct {
	MaxResults     int  // result cap per query, default 2000
	MaxSnippetSize int  // snippet truncation length
	EnableByFile   bool // enables the optional byFile index
}

// LanguageSource describes one (corpus, language) shard mapping: the
// definitions shard and, when HasCallgraph is true, a callers shard.
type LanguageSource struct {
	Host          string
	Port          int
	HasCallgraph  bool
	CallgraphHost string
	CallgraphPort int
}

// Config is the fully resolved runtime configuration.
type Config struct {
	Version  int
	Project  Project
	Listener Listener
	Watch    Watch
	TagStore TagStore
	Defaults Defaults

	// Sources is the corpus x language cross product: corpus ->
	// language -> source. The "local" language entry is injected per
	// corpus by the caller wiring the router, not stored here.
	Sources map[string]map[string]LanguageSource
}

func defaultConfig() *Config {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return &Config{
		Version: 1,
		Project: Project{
			Corpus: "corpus1",
			Root:   cwd,
		},
		Listener: Listener{
			QueryPort:          2550,
			VersionPort:        2551,
			WatcherCommandPort: 2552,
		},
		Watch: Watch{
			DebounceMs:       100,
			Exclude:          []string{".git", "node_modules", "vendor", ".hg", ".svn"},
			Include:          []string{},
			CallgraphEnabled: false,
			IndexQueueSize:   4096,
			CommandQueueSize: 256,
		},
		TagStore: TagStore{
			MaxResults:     2000,
			MaxSnippetSize: 200,
			EnableByFile:   true,
		},
		Defaults: Defaults{
			Corpus:   "corpus1",
			Language: "c++",
			Callers:  false,
		},
		Sources: make(map[string]map[string]LanguageSource),
	}
}

// Load reads the KDL config file at path, overlaying it on the
// in-code defaults. A missing file is not an error: Load returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = ".gtagsmixer.kdl"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := applyKDL(cfg, string(content)); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if cfg.Project.Root != "" && !filepath.IsAbs(cfg.Project.Root) {
		abs, err := filepath.Abs(filepath.Join(filepath.Dir(path), cfg.Project.Root))
		if err == nil {
			cfg.Project.Root = filepath.Clean(abs)
		}
	}

	return cfg, nil
}

// SourceFor resolves the shard set for a (corpus, language) pair. ok
// is false when the combination is unmapped.
func (c *Config) SourceFor(corpus, language string) (LanguageSource, bool) {
	byLang, ok := c.Sources[corpus]
	if !ok {
		return LanguageSource{}, false
	}
	src, ok := byLang[language]
	return src, ok
}

// ParallelFileWorkers auto-detects worker count: 0 means NumCPU.
func ParallelFileWorkers(n int) int {
	if n <= 0 {
		return runtime.NumCPU()
	}
	return n
}
