package tagstore

import (
	"fmt"
	"sort"
)

// isPlainIdentByte reports whether b is legal in a "plain" identifier:
// [A-Za-z0-9_-].
func isPlainIdentByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	case b == '_' || b == '-':
		return true
	}
	return false
}

func isPlainIdent(tag string) bool {
	if tag == "" {
		return false
	}
	for i := 0; i < len(tag); i++ {
		if !isPlainIdentByte(tag[i]) {
			return false
		}
	}
	return true
}

func (s *Store) truncate(recs []*Record) []*Record {
	if len(recs) > s.opts.MaxResults {
		return recs[:s.opts.MaxResults]
	}
	return recs
}

// FindExact returns records whose Tag equals tag exactly.
func (s *Store) FindExact(tag string) []*Record {
	lo := sort.Search(len(s.byTag), func(i int) bool { return s.byTag[i].Tag >= tag })
	var out []*Record
	for i := lo; i < len(s.byTag) && s.byTag[i].Tag == tag; i++ {
		out = append(out, s.byTag[i])
	}
	return s.truncate(out)
}

// FindPrefix returns prefix matches: if tag contains a
// non-[A-Za-z0-9_-] byte it is treated as a regular expression matched
// in full against each candidate tag; otherwise records whose Tag
// lexicographically starts with tag are returned via a binary-search
// range scan of the sorted byTag index.
func (s *Store) FindPrefix(tag string) ([]*Record, error) {
	if !isPlainIdent(tag) {
		re, err := compileRegex(tag)
		if err != nil {
			return nil, fmt.Errorf("invalid prefix regexp %q: %w", tag, err)
		}
		var out []*Record
		for _, r := range s.byTag {
			if re.FindString(r.Tag) == r.Tag {
				out = append(out, r)
				if len(out) >= s.opts.MaxResults {
					break
				}
			}
		}
		return out, nil
	}

	lo := sort.Search(len(s.byTag), func(i int) bool { return s.byTag[i].Tag >= tag })
	var out []*Record
	for i := lo; i < len(s.byTag); i++ {
		if len(s.byTag[i].Tag) < len(tag) || s.byTag[i].Tag[:len(tag)] != tag {
			break
		}
		out = append(out, s.byTag[i])
	}
	return s.truncate(out), nil
}

// FindSnippet returns records whose Snippet partial-matches the POSIX
// extended regular expression pattern.
func (s *Store) FindSnippet(pattern string) ([]*Record, error) {
	re, err := compileRegex(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid snippet regexp %q: %w", pattern, err)
	}
	var out []*Record
	for _, r := range s.byTag {
		if re.MatchString(r.Snippet) {
			out = append(out, r)
			if len(out) >= s.opts.MaxResults {
				break
			}
		}
	}
	return out, nil
}

// FindByFile returns every record owned by file, in load order. Requires
// byFile to be enabled at construction.
func (s *Store) FindByFile(file string) ([]*Record, error) {
	if !s.opts.EnableByFile {
		return nil, fmt.Errorf("tagstore: FindByFile requires byFile to be enabled")
	}
	return s.truncate(append([]*Record(nil), s.byFile[file]...)), nil
}

// FindFile returns the full paths whose basename matches the given
// basename.
func (s *Store) FindFile(basename string) []string {
	set := s.byBasename[basename]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
		if len(out) >= s.opts.MaxResults {
			break
		}
	}
	sort.Strings(out)
	return out
}
