package tagstore

import (
	"fmt"

	"github.com/standardbeagle/gtagsmixer/internal/sexpr"
)

// parsedDoc is the result of parsing a tag-file
// before interning: a flat list of file records, in file order.
type parsedDoc struct {
	version int
	files   []*parsedFile
}

type parsedFile struct {
	path     string
	language string
	deleted  bool
	items    []parsedItem
}

type parsedItem struct {
	kind    Kind
	line    int
	offset  int
	snippet string
	tag     string
}

// parseTagFile parses the on-disk tag-file grammar:
//
//	TAGSFILE := (tags-format-version 2) HEADER* FILE*
//	HEADER   := (tags-comment STRING) | (tags-corpus-name STRING)
//	          | (timestamp INT) | (features (SYMBOL*))
//	FILE     := (file (path STRING) (language STRING) (contents (ITEM*)))
//	          | (deleted STRING)
//	ITEM     := (item (line INT) (offset INT) (snippet STRING) (descriptor DESC))
//
// The grammar is a flat sequence of top-level forms, not a single
// enclosing list, so each form is read in turn until the input is
// exhausted.
func parseTagFile(data []byte) (*parsedDoc, error) {
	doc := &parsedDoc{}
	pos := 0
	for {
		for pos < len(data) && isBlank(data[pos]) {
			pos++
		}
		if pos >= len(data) {
			break
		}
		v, n, err := sexpr.Parse(data[pos:])
		if err != nil {
			return nil, fmt.Errorf("tagfile: parse error at byte %d: %w", pos, err)
		}
		pos += n

		items, ok := v.Items()
		if !ok || len(items) == 0 {
			continue
		}
		head, ok := items[0].Text()
		if !ok {
			continue
		}
		switch head {
		case "tags-format-version":
			if len(items) > 1 {
				if n, ok := items[1].Int64(); ok {
					doc.version = int(n)
				}
			}
		case "tags-comment", "tags-corpus-name", "timestamp", "features":
			// Headers carry no state the tag store needs to track.
		case "file":
			f, err := parseFileForm(items[1:])
			if err != nil {
				return nil, err
			}
			doc.files = append(doc.files, f)
		case "deleted":
			if len(items) > 1 {
				if p, ok := items[1].Text(); ok {
					doc.files = append(doc.files, &parsedFile{path: p, deleted: true})
				}
			}
		}
	}
	return doc, nil
}

func isBlank(b byte) bool { return b == ' ' || b == '\t' || b == '\r' || b == '\n' }

func parseFileForm(fields []*sexpr.Value) (*parsedFile, error) {
	f := &parsedFile{}
	for _, field := range fields {
		fi, ok := field.Items()
		if !ok || len(fi) == 0 {
			continue
		}
		key, ok := fi[0].Text()
		if !ok {
			continue
		}
		switch key {
		case "path":
			if len(fi) > 1 {
				f.path, _ = fi[1].Text()
			}
		case "language":
			if len(fi) > 1 {
				f.language, _ = fi[1].Text()
			}
		case "contents":
			if len(fi) > 1 {
				contentItems, ok := fi[1].Items()
				if !ok {
					continue
				}
				for _, ci := range contentItems {
					item, err := parseItemForm(ci)
					if err != nil {
						return nil, err
					}
					f.items = append(f.items, item)
				}
			}
		}
	}
	if f.path == "" {
		return nil, fmt.Errorf("tagfile: file form missing path")
	}
	return f, nil
}

// parseItemForm parses one ITEM := (item (line INT) (offset INT)
// (snippet STRING) (descriptor DESC)) form.
func parseItemForm(v *sexpr.Value) (parsedItem, error) {
	fields, ok := v.Items()
	if !ok || len(fields) == 0 {
		return parsedItem{}, fmt.Errorf("tagfile: malformed item")
	}
	head, _ := fields[0].Text()
	if head != "item" {
		return parsedItem{}, fmt.Errorf("tagfile: expected item form, got %q", head)
	}

	var it parsedItem
	for _, field := range fields[1:] {
		fi, ok := field.Items()
		if !ok || len(fi) == 0 {
			continue
		}
		key, _ := fi[0].Text()
		switch key {
		case "line":
			if len(fi) > 1 {
				if n, ok := fi[1].Int64(); ok {
					it.line = int(n)
				}
			}
		case "offset":
			if len(fi) > 1 {
				if n, ok := fi[1].Int64(); ok {
					it.offset = int(n)
				}
			}
		case "snippet":
			if len(fi) > 1 {
				it.snippet, _ = fi[1].Text()
			}
		case "descriptor":
			if len(fi) > 1 {
				kind, tag, err := parseDescriptor(fi[1])
				if err != nil {
					return parsedItem{}, err
				}
				it.kind = kind
				it.tag = tag
			}
		}
	}
	if it.tag == "" {
		return parsedItem{}, fmt.Errorf("tagfile: item at line %d missing descriptor tag name", it.line)
	}
	return it, nil
}

// parseDescriptor parses DESC := (call (to (ref (name STRING) (id INT))))
//
//	| (type (tag STRING)) | (function (tag STRING))
//	| (variable (tag STRING)) | (generic-tag (tag STRING))
func parseDescriptor(v *sexpr.Value) (Kind, string, error) {
	fields, ok := v.Items()
	if !ok || len(fields) == 0 {
		return 0, "", fmt.Errorf("tagfile: malformed descriptor")
	}
	kindName, _ := fields[0].Text()

	switch kindName {
	case "call":
		if len(fields) < 2 {
			return 0, "", fmt.Errorf("tagfile: call descriptor missing (to ...)")
		}
		toFields, ok := fields[1].Items()
		if !ok || len(toFields) < 2 {
			return 0, "", fmt.Errorf("tagfile: call descriptor missing ref")
		}
		refFields, ok := toFields[1].Items()
		if !ok {
			return 0, "", fmt.Errorf("tagfile: call descriptor missing ref fields")
		}
		for _, rf := range refFields {
			rfi, ok := rf.Items()
			if !ok || len(rfi) < 2 {
				continue
			}
			if key, _ := rfi[0].Text(); key == "name" {
				name, _ := rfi[1].Text()
				return KindCall, name, nil
			}
		}
		return 0, "", fmt.Errorf("tagfile: call descriptor missing name")
	case "type":
		return KindTypeDefn, descriptorTag(fields), nil
	case "function":
		return KindFunctionDefn, descriptorTag(fields), nil
	case "variable":
		return KindVariableDefn, descriptorTag(fields), nil
	case "generic-tag":
		return KindGenericDefn, descriptorTag(fields), nil
	default:
		return 0, "", fmt.Errorf("tagfile: unknown descriptor kind %q", kindName)
	}
}

func descriptorTag(fields []*sexpr.Value) string {
	for _, f := range fields[1:] {
		fi, ok := f.Items()
		if !ok || len(fi) < 2 {
			continue
		}
		if key, _ := fi[0].Text(); key == "tag" {
			s, _ := fi[1].Text()
			return s
		}
	}
	return ""
}
