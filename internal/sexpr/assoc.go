package sexpr

// AssocGet returns the value associated with the first sublist of list
// whose head symbol equals key: a list like ((language "c++") (corpus
// "corpus1")) resolves AssocGet(l, "language") to the value list
// ("c++"). Callers typically follow with .Car() to get the atom, since
// attributes are stored as (key value...) sublists.
func AssocGet(list *Value, key string) (*Value, bool) {
	items, ok := list.Items()
	if !ok {
		return nil, false
	}
	for _, item := range items {
		if !item.IsPair() {
			continue
		}
		head := item.Car()
		name, ok := head.Text()
		if !ok || name != key {
			continue
		}
		return item.Cdr(), true
	}
	return nil, false
}

// AssocGetValue is a convenience wrapper that returns the single value
// following key in an (key value) sublist, i.e. AssocGet(list,
// key).Car().
func AssocGetValue(list *Value, key string) (*Value, bool) {
	rest, ok := AssocGet(list, key)
	if !ok {
		return nil, false
	}
	return rest.Car(), true
}

// AssocReplace returns a new list with the first sublist whose head
// symbol equals key replaced by (key newValue...), preserving every
// other entry verbatim and its original order. If no entry matches, the
// replacement is appended.
func AssocReplace(list *Value, key string, newValues ...*Value) *Value {
	items, ok := list.Items()
	if !ok {
		items = nil
	}
	replaced := false
	out := make([]*Value, 0, len(items)+1)
	for _, item := range items {
		if item.IsPair() {
			head := item.Car()
			if name, ok := head.Text(); ok && name == key {
				out = append(out, List(append([]*Value{Symbol(key)}, newValues...)...))
				replaced = true
				continue
			}
		}
		out = append(out, item)
	}
	if !replaced {
		out = append(out, List(append([]*Value{Symbol(key)}, newValues...)...))
	}
	return List(out...)
}
