package sexpr

import "strings"

// Write returns the canonical textual form of v: nil prints as "nil",
// strings escape '"' and '\', and symbols are bar-quoted only when their
// name would otherwise be ambiguous.
func Write(v *Value) string {
	var b strings.Builder
	writeValue(&b, v)
	return b.String()
}

func writeValue(b *strings.Builder, v *Value) {
	switch {
	case v.IsNil():
		b.WriteString("nil")
	case v.IsInteger():
		n, _ := v.Int64()
		writeInt(b, n)
	case v.IsString():
		s, _ := v.Text()
		writeString(b, s)
	case v.IsSymbol():
		s, _ := v.Text()
		writeSymbol(b, s)
	case v.IsPair():
		writePair(b, v)
	}
}

func writeInt(b *strings.Builder, n int64) {
	// strconv.FormatInt allocates; for the wire sizes this protocol deals
	// in (line numbers, offsets, small counts) a manual loop isn't worth
	// it, so this just delegates via fmt-free manual conversion.
	if n == 0 {
		b.WriteByte('0')
		return
	}
	neg := n < 0
	if neg {
		b.WriteByte('-')
		n = -n
	}
	var digits [20]byte
	i := len(digits)
	for n > 0 {
		i--
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	b.Write(digits[i:])
}

func writeString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
}

// needsBars reports whether a symbol must be bar-quoted: it collides with
// integer syntax, contains a forbidden/delimiter character, or consists
// solely of periods.
func needsBars(s string) bool {
	if s == "" {
		return true
	}
	if looksLikeInteger(s) {
		return true
	}
	allDots := true
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '.' {
			allDots = false
		}
		if isDelim(c) {
			return true
		}
	}
	return allDots
}

func writeSymbol(b *strings.Builder, s string) {
	if !needsBars(s) {
		b.WriteString(s)
		return
	}
	b.WriteByte('|')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '|' || c == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	b.WriteByte('|')
}

func writePair(b *strings.Builder, v *Value) {
	b.WriteByte('(')
	cur := v
	first := true
	for {
		if !first {
			b.WriteByte(' ')
		}
		first = false
		writeValue(b, cur.Car())
		rest := cur.Cdr()
		if rest.IsNil() {
			break
		}
		if !rest.IsPair() {
			b.WriteString(" . ")
			writeValue(b, rest)
			break
		}
		cur = rest
	}
	b.WriteByte(')')
}
