package filter

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm/clause"

	"github.com/alexjoedt/blobvault/objectid"
)

// sqlBuilder records the SQL and bind variables an expression produces.
type sqlBuilder struct {
	strings.Builder
	vars []any
}

func (b *sqlBuilder) WriteQuoted(field any) {
	if c, ok := field.(clause.Column); ok {
		b.WriteByte('`')
		b.WriteString(c.Name)
		b.WriteByte('`')
	}
}

func (b *sqlBuilder) AddVar(w clause.Writer, vars ...any) {
	for i, v := range vars {
		if i > 0 {
			w.WriteByte(',')
		}
		w.WriteString("?")
		b.vars = append(b.vars, v)
	}
}

func (b *sqlBuilder) AddError(err error) error {
	return err
}

var testSchema = &Schema{
	IDField: "_id",
	Fields: map[string]Field{
		"_id":                {Column: "id", Kind: KindObjectID},
		"filename":           {Column: "filename"},
		"length":             {Column: "length"},
		"uploadDate":         {Column: "upload_date", Kind: KindDate},
		"metadata.container": {Column: "container"},
	},
	JSONPrefix: "metadata.",
	JSONColumn: "metadata",
}

func render(q Query) (string, []any) {
	var b sqlBuilder
	q.Expression().Build(&b)
	return b.String(), b.vars
}

func translate(t *testing.T, where any) (string, []any) {
	t.Helper()
	return render(NewTranslator(testSchema, nil).Translate(where))
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name  string
		where Where
		sql   string
		vars  []any
	}{
		{
			name:  "equality",
			where: Where{"filename": "a.txt"},
			sql:   "`filename` = ?",
			vars:  []any{"a.txt"},
		},
		{
			name:  "null",
			where: Where{"filename": nil},
			sql:   "`filename` IS NULL",
		},
		{
			name:  "between is inclusive",
			where: Where{"length": Where{"between": []any{10, 20}}},
			sql:   "(`length` >= ? AND `length` <= ?)",
			vars:  []any{10, 20},
		},
		{
			name:  "inq with scalar",
			where: Where{"filename": Where{"inq": "a.txt"}},
			sql:   "`filename` IN (?)",
			vars:  []any{"a.txt"},
		},
		{
			name:  "inq with list",
			where: Where{"filename": Where{"inq": []string{"a.txt", "b.txt"}}},
			sql:   "`filename` IN (?,?)",
			vars:  []any{"a.txt", "b.txt"},
		},
		{
			name:  "empty inq matches nothing",
			where: Where{"filename": Where{"inq": []any{}}},
			sql:   "0 = 1",
		},
		{
			name:  "nin also matches absent fields",
			where: Where{"filename": Where{"nin": []any{"a", "b"}}},
			sql:   "(`filename` IS NULL OR NOT (`filename` IN (?,?)))",
			vars:  []any{"a", "b"},
		},
		{
			name:  "empty nin matches everything",
			where: Where{"filename": Where{"nin": []any{}}},
			sql:   "1 = 1",
		},
		{
			name:  "neq also matches absent fields",
			where: Where{"filename": Where{"neq": "a.txt"}},
			sql:   "(`filename` IS NULL OR `filename` <> ?)",
			vars:  []any{"a.txt"},
		},
		{
			name:  "neq null",
			where: Where{"filename": Where{"neq": nil}},
			sql:   "NOT (`filename` IS NULL)",
		},
		{
			name:  "comparison operators are ANDed in key order",
			where: Where{"length": Where{"lt": 5, "gte": 1}},
			sql:   "(`length` >= ? AND `length` < ?)",
			vars:  []any{1, 5},
		},
		{
			name:  "fields are ANDed in key order",
			where: Where{"length": 1, "filename": "a"},
			sql:   "(`filename` = ? AND `length` = ?)",
			vars:  []any{"a", 1},
		},
		{
			name:  "like with options",
			where: Where{"filename": Where{"like": "^rep", "options": "i"}},
			sql:   "`filename` REGEXP ?",
			vars:  []any{"(?i)^rep"},
		},
		{
			name:  "like with literal",
			where: Where{"filename": Where{"like": "/^rep/im"}},
			sql:   "`filename` REGEXP ?",
			vars:  []any{"(?im)^rep"},
		},
		{
			name:  "like with compiled pattern",
			where: Where{"filename": Where{"like": regexp.MustCompile(`\.txt$`)}},
			sql:   "`filename` REGEXP ?",
			vars:  []any{`\.txt$`},
		},
		{
			name:  "ilike folds case",
			where: Where{"filename": Where{"ilike": "^rep"}},
			sql:   "`filename` REGEXP ?",
			vars:  []any{"(?i)^rep"},
		},
		{
			name:  "ilike with literal keeps its flags",
			where: Where{"filename": Where{"ilike": "/^rep/m"}},
			sql:   "`filename` REGEXP ?",
			vars:  []any{"(?mi)^rep"},
		},
		{
			name:  "nilike",
			where: Where{"filename": Where{"nilike": "^tmp"}},
			sql:   "(`filename` IS NULL OR NOT (`filename` REGEXP ?))",
			vars:  []any{"(?i)^tmp"},
		},
		{
			name:  "$regex object",
			where: Where{"filename": Where{"$regex": "^rep", "$options": "i"}},
			sql:   "`filename` REGEXP ?",
			vars:  []any{"(?i)^rep"},
		},
		{
			name:  "$-prefixed comparison",
			where: Where{"length": Where{"$gt": 5}},
			sql:   "`length` > ?",
			vars:  []any{5},
		},
		{
			name:  "exists true",
			where: Where{"filename": Where{"exists": true}},
			sql:   "NOT (`filename` IS NULL)",
		},
		{
			name:  "exists false",
			where: Where{"filename": Where{"exists": false}},
			sql:   "`filename` IS NULL",
		},
		{
			name:  "exists as string",
			where: Where{"filename": Where{"exists": "false"}},
			sql:   "`filename` IS NULL",
		},
		{
			name:  "nlike",
			where: Where{"filename": Where{"nlike": "^tmp"}},
			sql:   "(`filename` IS NULL OR NOT (`filename` REGEXP ?))",
			vars:  []any{"^tmp"},
		},
		{
			name:  "invalid pattern matches literally",
			where: Where{"filename": Where{"like": "a(b"}},
			sql:   "`filename` REGEXP ?",
			vars:  []any{`a\(b`},
		},
		{
			name:  "nested metadata field",
			where: Where{"metadata.container": "docs"},
			sql:   "`container` = ?",
			vars:  []any{"docs"},
		},
		{
			name:  "custom metadata field",
			where: Where{"metadata.owner": "bob"},
			sql:   "json_extract(`metadata`, ?) = ?",
			vars:  []any{`$."owner"`, "bob"},
		},
		{
			name:  "unknown field",
			where: Where{"nope": "x"},
			sql:   "NULL = ?",
			vars:  []any{"x"},
		},
		{
			name:  "negated unknown field matches everything",
			where: Where{"nope": Where{"neq": "x"}},
			sql:   "1 = 1",
		},
		{
			name: "or",
			where: Where{"or": []any{
				Where{"filename": "a"},
				Where{"filename": "b"},
			}},
			sql:  "(`filename` = ? OR `filename` = ?)",
			vars: []any{"a", "b"},
		},
		{
			name: "nor",
			where: Where{"nor": []any{
				Where{"filename": "a"},
				Where{"filename": "b"},
			}},
			sql:  "NOT (`filename` = ? OR `filename` = ?)",
			vars: []any{"a", "b"},
		},
		{
			name: "and nested in or",
			where: Where{"or": []any{
				Where{"and": []any{Where{"filename": "a"}, Where{"length": 1}}},
				Where{"filename": "b"},
			}},
			sql:  "((`filename` = ? AND `length` = ?) OR `filename` = ?)",
			vars: []any{"a", 1, "b"},
		},
		{
			name:  "empty sub expression matches everything",
			where: Where{"or": []any{Where{}, Where{"filename": "b"}}},
			sql:   "(1 = 1 OR `filename` = ?)",
			vars:  []any{"b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, vars := translate(t, tt.where)
			assert.Equal(t, tt.sql, sql)
			assert.Equal(t, tt.vars, vars)
		})
	}
}

func TestTranslate_IDRewriteAndCoercion(t *testing.T) {
	id := objectid.New()

	sql, vars := translate(t, Where{"id": id.Hex()})
	assert.Equal(t, "`id` = ?", sql)
	require.Len(t, vars, 1)
	assert.Equal(t, id, vars[0])

	_, vars = translate(t, Where{"_id": strings.ToUpper(id.Hex())})
	assert.Equal(t, id, vars[0], "hex is case-insensitive")

	_, vars = translate(t, Where{"id": Where{"inq": []any{id.Hex(), "not-an-id"}}})
	assert.Equal(t, []any{id, "not-an-id"}, vars, "unparseable values pass through")
}

func TestTranslate_DateCoercion(t *testing.T) {
	want := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value any
	}{
		{"rfc3339 utc", "2025-03-01T12:00:00Z"},
		{"rfc3339 offset", "2025-03-01T13:00:00+01:00"},
		{"unix millis float", float64(want.UnixMilli())},
		{"unix millis int", want.UnixMilli()},
		{"time value", want.In(time.FixedZone("x", 3600))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, vars := translate(t, Where{"uploadDate": Where{"gte": tt.value}})
			require.Len(t, vars, 1)

			got, ok := vars[0].(time.Time)
			require.True(t, ok, "expected time.Time, got %T", vars[0])
			assert.True(t, want.Equal(got))
			assert.Equal(t, time.UTC, got.Location())
		})
	}

	_, vars := translate(t, Where{"uploadDate": "yesterday"})
	assert.Equal(t, []any{"yesterday"}, vars)
}

func TestTranslate_NotAMapping(t *testing.T) {
	tr := NewTranslator(testSchema, nil)

	for _, where := range []any{nil, "filename", 42, []any{Where{"filename": "a"}}, Where{}} {
		q := tr.Translate(where)
		assert.True(t, q.Empty(), "%#v", where)

		sql, vars := render(q)
		assert.Equal(t, "1 = 1", sql)
		assert.Empty(t, vars)
	}
}

func TestTranslate_TypedMaps(t *testing.T) {
	sql, vars := translate(t, map[string]string{"filename": "a.txt"})
	assert.Equal(t, "`filename` = ?", sql)
	assert.Equal(t, []any{"a.txt"}, vars)
}

func TestTranslate_Warnings(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	tr := NewTranslator(testSchema, zap.New(core))

	q := tr.Translate(Where{"filename": Where{"regexp": "/^a/g"}})
	sql, vars := render(q)
	assert.Equal(t, "`filename` REGEXP ?", sql)
	assert.Equal(t, []any{"^a"}, vars)
	assert.Equal(t, 1, logs.FilterMessage("regex syntax does not respect the g flag").Len())

	q = tr.Translate(Where{"length": Where{"near": 5}})
	sql, vars = render(q)
	assert.Equal(t, "`length` = ?", sql)
	assert.Equal(t, []any{5}, vars)
	assert.Equal(t, 1, logs.FilterMessage("unsupported filter operator, matching by equality").Len())

	q = tr.Translate(Where{"length": Where{"between": []any{1}}})
	sql, _ = render(q)
	assert.Equal(t, "0 = 1", sql)
}

func TestParseWhere(t *testing.T) {
	where, err := ParseWhere(`{"filename": {"inq": ["a", "b"]}}`)
	require.NoError(t, err)
	assert.Equal(t, Where{"filename": map[string]any{"inq": []any{"a", "b"}}}, where)

	where, err = ParseWhere("")
	require.NoError(t, err)
	assert.Empty(t, where)

	for _, raw := range []string{"{not json", "[1, 2]", `"text"`} {
		where, err := ParseWhere(raw)
		assert.Error(t, err, raw)
		assert.NotNil(t, where)
		assert.Empty(t, where)
	}
}

func TestMatchRegexp(t *testing.T) {
	ok, err := MatchRegexp("(?i)^rep", "Report.pdf")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = MatchRegexp("^rep", "summary.pdf")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = MatchRegexp("^4", int64(42))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = MatchRegexp("x", nil)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = MatchRegexp("a(b", "a(b")
	assert.Error(t, err)
}

func TestSplitLiteral(t *testing.T) {
	tests := []struct {
		in    string
		expr  string
		flags string
		ok    bool
	}{
		{"/abc/", "abc", "", true},
		{"/a/b/gi", "a/b", "gi", true},
		{"/abc/x", "", "", false},
		{"abc", "", "", false},
		{"/", "", "", false},
	}

	for _, tt := range tests {
		expr, flags, ok := splitLiteral(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.expr, expr, tt.in)
		assert.Equal(t, tt.flags, flags, tt.in)
	}
}
