package filter

import "strings"

// Kind selects the coercion applied to values compared against a field.
type Kind uint8

const (
	KindScalar Kind = iota
	KindObjectID
	KindDate
)

// Field maps a filter field name onto a column.
type Field struct {
	Column string
	Kind   Kind
}

// Schema describes the fields a filter may reference. It is built once and
// shared read-only by every Translator using it.
type Schema struct {
	// IDField is the field name "id" is rewritten to.
	IDField string

	// Fields holds the known field names, dotted for nested fields.
	Fields map[string]Field

	// Custom fields below JSONPrefix (e.g. "metadata.") that are not listed
	// in Fields are looked up inside JSONColumn with json_extract.
	JSONPrefix string
	JSONColumn string
}

// target is where a field name resolves to.
type target struct {
	column   string
	jsonPath string
	kind     Kind
	unknown  bool
}

func (s *Schema) resolve(name string) target {
	if name == "id" && s.IDField != "" {
		name = s.IDField
	}

	if f, ok := s.Fields[name]; ok {
		return target{column: f.Column, kind: f.Kind}
	}

	if s.JSONPrefix != "" && s.JSONColumn != "" {
		if rest, ok := strings.CutPrefix(name, s.JSONPrefix); ok && rest != "" {
			return target{column: s.JSONColumn, jsonPath: jsonPath(rest)}
		}
	}

	return target{unknown: true}
}

// jsonPath turns a dotted path into an SQLite JSON path with every label
// quoted: "a.b" becomes `$."a"."b"`.
func jsonPath(dotted string) string {
	var b strings.Builder
	b.WriteByte('$')
	for _, label := range strings.Split(dotted, ".") {
		b.WriteString(`."`)
		b.WriteString(strings.ReplaceAll(label, `"`, `\"`))
		b.WriteByte('"')
	}
	return b.String()
}
