package query

import "github.com/standardbeagle/gtagsmixer/internal/sexpr"

// ParseRequest extracts the local engine's command attributes out of a
// parsed client command S-expression:
//
//	(COMMAND (client-type STRING) (client-version INT) (protocol-version 2)
//	 (tag STRING)? (file STRING)? (language STRING)? (callers BOOL)?
//	 (current-file STRING)?)
func ParseRequest(v *sexpr.Value) Request {
	items, _ := v.Items()
	var req Request
	if len(items) == 0 {
		return req
	}
	req.Command, _ = items[0].Text()

	if tag, ok := sexpr.AssocGetValue(v, "tag"); ok {
		req.Tag, _ = tag.Text()
	}
	if file, ok := sexpr.AssocGetValue(v, "file"); ok {
		req.File, _ = file.Text()
	}
	if lang, ok := sexpr.AssocGetValue(v, "language"); ok {
		req.Language, _ = lang.Text()
	}
	if cf, ok := sexpr.AssocGetValue(v, "current-file"); ok {
		req.ClientPath, _ = cf.Text()
	}
	if callers, ok := sexpr.AssocGetValue(v, "callers"); ok {
		req.CallersSet = true
		req.Callers = callers.Bool()
	}
	return req
}
