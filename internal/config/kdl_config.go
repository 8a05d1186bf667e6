package config

import (
	"fmt"
	"strings"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"
)

// applyKDL overlays the nodes of a parsed .gtagsmixer.kdl document
// onto cfg: the defaults struct is constructed first, then mutated
// node-by-node, unknown nodes ignored.
func applyKDL(cfg *Config, content string) error {
	doc, err := kdl.Parse(strings.NewReader(content))
	if err != nil {
		return fmt.Errorf("failed to parse KDL config: %w", err)
	}

	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "project":
			for _, cn := range n.Children {
				assignSimpleString(cn, "corpus", func(v string) { cfg.Project.Corpus = v })
				assignSimpleString(cn, "root", func(v string) { cfg.Project.Root = v })
			}
		case "listener":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "query_port":
					if v, ok := firstIntArg(cn); ok {
						cfg.Listener.QueryPort = v
					}
				case "version_port":
					if v, ok := firstIntArg(cn); ok {
						cfg.Listener.VersionPort = v
					}
				case "watcher_command_port":
					if v, ok := firstIntArg(cn); ok {
						cfg.Listener.WatcherCommandPort = v
					}
				}
			}
		case "watch":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "debounce_ms":
					if v, ok := firstIntArg(cn); ok {
						cfg.Watch.DebounceMs = v
					}
				case "exclude":
					cfg.Watch.Exclude = collectStringArgs(cn)
				case "include":
					cfg.Watch.Include = collectStringArgs(cn)
				case "callgraph_enabled":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Watch.CallgraphEnabled = b
					}
				case "index_queue_size":
					if v, ok := firstIntArg(cn); ok {
						cfg.Watch.IndexQueueSize = v
					}
				case "command_queue_size":
					if v, ok := firstIntArg(cn); ok {
						cfg.Watch.CommandQueueSize = v
					}
				case "indexer_path":
					if s, ok := firstStringArg(cn); ok {
						cfg.Watch.IndexerPath = s
					}
				}
			}
		case "tagstore":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "max_results":
					if v, ok := firstIntArg(cn); ok {
						cfg.TagStore.MaxResults = v
					}
				case "max_snippet_size":
					if v, ok := firstIntArg(cn); ok {
						cfg.TagStore.MaxSnippetSize = v
					}
				case "enable_by_file":
					if b, ok := firstBoolArg(cn); ok {
						cfg.TagStore.EnableByFile = b
					}
				}
			}
		case "defaults":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "corpus":
					if s, ok := firstStringArg(cn); ok {
						cfg.Defaults.Corpus = s
					}
				case "language":
					if s, ok := firstStringArg(cn); ok {
						cfg.Defaults.Language = s
					}
				case "callers":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Defaults.Callers = b
					}
				}
			}
		case "source":
			// source "<corpus>" "<language>" { host ".." port N ... }
			corpus, ok := nthStringArg(n, 0)
			if !ok {
				continue
			}
			language, ok := nthStringArg(n, 1)
			if !ok {
				continue
			}
			src := LanguageSource{}
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "host":
					if s, ok := firstStringArg(cn); ok {
						src.Host = s
					}
				case "port":
					if v, ok := firstIntArg(cn); ok {
						src.Port = v
					}
				case "callgraph_host":
					if s, ok := firstStringArg(cn); ok {
						src.CallgraphHost = s
						src.HasCallgraph = true
					}
				case "callgraph_port":
					if v, ok := firstIntArg(cn); ok {
						src.CallgraphPort = v
						src.HasCallgraph = true
					}
				}
			}
			if cfg.Sources[corpus] == nil {
				cfg.Sources[corpus] = make(map[string]LanguageSource)
			}
			cfg.Sources[corpus][language] = src
		}
	}

	return nil
}

// Helper functions over the kdl-go document model.

func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}

func firstIntArg(n *document.Node) (int, bool) {
	return nthIntArg(n, 0)
}

func nthIntArg(n *document.Node, i int) (int, bool) {
	if n == nil || len(n.Arguments) <= i {
		return 0, false
	}
	switch v := n.Arguments[i].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func firstStringArg(n *document.Node) (string, bool) {
	return nthStringArg(n, 0)
}

func nthStringArg(n *document.Node, i int) (string, bool) {
	if n == nil || len(n.Arguments) <= i {
		return "", false
	}
	if s, ok := n.Arguments[i].Value.(string); ok {
		return s, true
	}
	return "", false
}

func firstBoolArg(n *document.Node) (bool, bool) {
	if n == nil || len(n.Arguments) == 0 {
		return false, false
	}
	if b, ok := n.Arguments[0].Value.(bool); ok {
		return b, true
	}
	return false, false
}

func collectStringArgs(n *document.Node) []string {
	if n == nil {
		return nil
	}
	out := make([]string, 0, len(n.Arguments))
	for _, a := range n.Arguments {
		if s, ok := a.Value.(string); ok {
			out = append(out, s)
		}
	}
	if len(out) == 0 && len(n.Children) > 0 {
		out = make([]string, 0, len(n.Children))
		for _, child := range n.Children {
			if s, ok := firstStringArg(child); ok {
				out = append(out, s)
			} else if child.Name != nil {
				if s, ok := child.Name.Value.(string); ok {
					out = append(out, s)
				}
			}
		}
	}
	return out
}

func assignSimpleString(n *document.Node, target string, set func(string)) {
	if nodeName(n) == target {
		if s, ok := firstStringArg(n); ok {
			set(s)
		}
	}
}

