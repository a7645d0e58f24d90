// Package filter parses the file-filter expressions applied to folder
// listings, for example "ext:jpg size:>1MB modified:>2024-01-01".
package filter

import (
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/justyntemme/waypoint/internal/vfs"
)

// Field is what a term tests.
type Field int

const (
	FieldName Field = iota
	FieldExt
	FieldSize
	FieldModified
	FieldType
)

// Operator compares sizes and dates.
type Operator int

const (
	OpEquals Operator = iota
	OpGreater
	OpLess
	OpGreaterEq
	OpLessEq
)

// Term is one "field:value" condition.
type Term struct {
	Field    Field
	Value    string
	Operator Operator
	Size     int64     // FieldSize, in bytes
	Time     time.Time // FieldModified
	Negate   bool      // leading "-"
}

// Query is a conjunction of terms.
type Query struct {
	Terms []Term
	Raw   string
}

// Parse parses a filter expression. Unknown fields are treated as name
// matches so that "a:b" still filters by name.
//   - "foo"              name contains foo
//   - "*.jpg"            name glob
//   - "ext:jpg"          extension
//   - "size:>1MB"        larger than 1 MiB
//   - "modified:<week"   older than a week
//   - "type:image"       content type prefix
//   - "-ext:tmp"         negation
func Parse(input string) *Query {
	q := &Query{Raw: input}
	for _, part := range splitRespectingQuotes(strings.TrimSpace(input)) {
		q.Terms = append(q.Terms, parseTerm(part))
	}
	return q
}

// Empty reports whether the query has no terms.
func (q *Query) Empty() bool {
	return q == nil || len(q.Terms) == 0
}

func (q *Query) String() string {
	if q == nil {
		return ""
	}
	return q.Raw
}

// Match reports whether file satisfies every term.
func (q *Query) Match(file *vfs.FileData) bool {
	if q.Empty() {
		return true
	}
	for _, t := range q.Terms {
		if t.match(file) == t.Negate {
			return false
		}
	}
	return true
}

func splitRespectingQuotes(s string) []string {
	var parts []string
	var current strings.Builder
	var quote rune

	for _, r := range s {
		switch {
		case (r == '"' || r == '\'') && quote == 0:
			quote = r
		case r == quote:
			quote = 0
		case r == ' ' && quote == 0:
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}

func parseTerm(s string) Term {
	var t Term
	if strings.HasPrefix(s, "-") && len(s) > 1 {
		t.Negate = true
		s = s[1:]
	}

	field, value, ok := strings.Cut(s, ":")
	if !ok || field == "" {
		t.Field, t.Value = FieldName, strings.ToLower(s)
		return t
	}

	switch strings.ToLower(field) {
	case "ext", "extension":
		value = strings.ToLower(value)
		if !strings.HasPrefix(value, ".") {
			value = "." + value
		}
		t.Field, t.Value = FieldExt, value
	case "size":
		t.Field, t.Value = FieldSize, value
		var num string
		t.Operator, num = parseOperator(value)
		t.Size = parseSize(num)
	case "modified", "date", "mtime":
		t.Field, t.Value = FieldModified, value
		var date string
		t.Operator, date = parseOperator(value)
		t.Time = parseDate(date, time.Now())
	case "type", "mime":
		t.Field, t.Value = FieldType, strings.ToLower(value)
	case "name", "filename":
		t.Field, t.Value = FieldName, strings.ToLower(value)
	default:
		t.Field, t.Value = FieldName, strings.ToLower(s)
	}
	return t
}

func parseOperator(s string) (Operator, string) {
	s = strings.TrimSpace(s)
	for _, p := range []struct {
		prefix string
		op     Operator
	}{
		{">=", OpGreaterEq},
		{"<=", OpLessEq},
		{">", OpGreater},
		{"<", OpLess},
		{"=", OpEquals},
	} {
		if strings.HasPrefix(s, p.prefix) {
			return p.op, strings.TrimSpace(s[len(p.prefix):])
		}
	}
	return OpEquals, s
}

// parseSize converts "1KB", "10MB", "1.5GB" or "512" to bytes.
func parseSize(s string) int64 {
	s = strings.ToUpper(strings.TrimSpace(s))

	multiplier := int64(1)
	for _, u := range []struct {
		suffix string
		mult   int64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	} {
		if strings.HasSuffix(s, u.suffix) {
			multiplier = u.mult
			s = strings.TrimSuffix(s, u.suffix)
			break
		}
	}

	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return int64(n * float64(multiplier))
}

// parseDate understands ISO dates and the words today, yesterday, week,
// month and year.
func parseDate(s string, now time.Time) time.Time {
	s = strings.ToLower(strings.TrimSpace(s))

	switch s {
	case "today":
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	case "yesterday":
		y, m, d := now.AddDate(0, 0, -1).Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	case "week":
		return now.AddDate(0, 0, -7)
	case "month":
		return now.AddDate(0, -1, 0)
	case "year":
		return now.AddDate(-1, 0, 0)
	}

	for _, layout := range []string{"2006-01-02", "2006-01", "2006/01/02", "01/02/2006"} {
		if t, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return t
		}
	}
	return time.Time{}
}

func (t Term) match(f *vfs.FileData) bool {
	switch t.Field {
	case FieldName:
		return matchGlob(strings.ToLower(f.Name), t.Value)
	case FieldExt:
		return strings.ToLower(path.Ext(f.Name)) == t.Value
	case FieldSize:
		if f.IsDir() {
			return false
		}
		return compareInt(f.Size, t.Size, t.Operator)
	case FieldModified:
		if t.Time.IsZero() {
			return true
		}
		return compareTime(f.ModTime, t.Time, t.Operator)
	case FieldType:
		return strings.HasPrefix(strings.ToLower(f.ContentType), t.Value)
	}
	return true
}

// matchGlob matches * wildcards; a pattern without * is a substring test.
func matchGlob(name, pattern string) bool {
	if !strings.Contains(pattern, "*") {
		return strings.Contains(name, pattern)
	}

	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(name, parts[0]) {
		return false
	}
	last := parts[len(parts)-1]
	if !strings.HasSuffix(name, last) || len(name) < len(parts[0])+len(last) {
		return false
	}

	pos := len(parts[0])
	end := len(name) - len(last)
	for _, part := range parts[1 : len(parts)-1] {
		if part == "" {
			continue
		}
		idx := strings.Index(name[pos:end], part)
		if idx < 0 {
			return false
		}
		pos += idx + len(part)
	}
	return true
}

func compareInt(val, target int64, op Operator) bool {
	switch op {
	case OpGreater:
		return val > target
	case OpLess:
		return val < target
	case OpGreaterEq:
		return val >= target
	case OpLessEq:
		return val <= target
	default:
		return val == target
	}
}

func compareTime(val, target time.Time, op Operator) bool {
	switch op {
	case OpGreater:
		return val.After(target)
	case OpLess:
		return val.Before(target)
	case OpGreaterEq:
		return !val.Before(target)
	case OpLessEq:
		return !val.After(target)
	default:
		vy, vm, vd := val.Date()
		ty, tm, td := target.Date()
		return vy == ty && vm == tm && vd == td
	}
}
