// Package filter compiles backend-neutral filter expressions into gorm
// clause expressions.
//
// A filter expression is a mapping from field name to condition:
//
//	{"filename": "a.txt"}                         equality
//	{"metadata.note": null}                       absent or null
//	{"length": {"between": [10, 20]}}             inclusive range
//	{"_id": {"inq": ["65a1...", "65a2..."]}}      membership
//	{"filename": {"like": "^rep", "options": "i"}}
//	{"filename": {"$regex": "^rep", "$options": "i"}}
//	{"metadata.owner": {"exists": true}}          present and not null
//	{"or": [{"filename": "a"}, {"filename": "b"}]}
//
// Translation never fails. Shapes that cannot be expressed degrade to an
// equality match (or to matching nothing) and are logged.
package filter

import (
	"encoding/json"
	"errors"
	"reflect"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/alexjoedt/blobvault/objectid"
)

// Where is a decoded filter expression.
type Where = map[string]any

// Query is a translated filter expression.
type Query struct {
	expr clause.Expression
}

// Empty reports whether the query matches everything.
func (q Query) Empty() bool {
	return q.expr == nil
}

// Expression returns the query predicate; an empty query yields a predicate
// that is always true.
func (q Query) Expression() clause.Expression {
	if q.expr == nil {
		return matchAll
	}
	return q.expr
}

// Scope restricts db to the rows matched by the query. It is usable with
// (*gorm.DB).Scopes.
func (q Query) Scope(db *gorm.DB) *gorm.DB {
	if q.expr == nil {
		return db
	}
	return db.Where(group{q.expr})
}

// Translator turns filter expressions into queries against one Schema.
type Translator struct {
	schema *Schema
	logger *zap.Logger
}

func NewTranslator(schema *Schema, logger *zap.Logger) *Translator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if schema == nil {
		schema = &Schema{}
	}
	return &Translator{
		schema: schema,
		logger: logger.With(zap.String("component", "filter")),
	}
}

// Translate compiles where. Anything that is not a mapping yields the empty
// query.
func (t *Translator) Translate(where any) Query {
	m, ok := asMap(where)
	if !ok {
		return Query{}
	}
	return Query{expr: t.translate(m)}
}

// translate returns nil for an empty mapping.
func (t *Translator) translate(where map[string]any) clause.Expression {
	exprs := make([]clause.Expression, 0, len(where))

	for _, name := range sortedKeys(where) {
		cond := where[name]

		switch name {
		case "and", "or", "nor":
			exprs = append(exprs, t.logical(name, cond))
		default:
			exprs = append(exprs, t.condition(name, cond))
		}
	}

	if len(exprs) == 0 {
		return nil
	}
	return and(exprs...)
}

func (t *Translator) logical(op string, cond any) clause.Expression {
	list, ok := asList(cond)
	if !ok {
		t.logger.Warn("logical operator expects an array, ignoring", zap.String("operator", op))
		return matchAll
	}

	subs := make([]clause.Expression, 0, len(list))
	for _, item := range list {
		m, ok := asMap(item)
		if !ok {
			subs = append(subs, matchAll)
			continue
		}
		if expr := t.translate(m); expr != nil {
			subs = append(subs, expr)
		} else {
			subs = append(subs, matchAll)
		}
	}

	switch op {
	case "and":
		return and(subs...)
	case "or":
		return or(subs...)
	default:
		return not{or(subs...)}
	}
}

func (t *Translator) condition(name string, cond any) clause.Expression {
	field := operand{t.schema.resolve(name)}

	if cond == nil {
		return isNull{field}
	}

	ops, ok := asMap(cond)
	if !ok {
		return t.equal(name, field, cond)
	}

	var options string
	if len(ops) > 1 {
		options = regexOptions(ops)
	}

	exprs := make([]clause.Expression, 0, len(ops))
	for _, op := range sortedKeys(ops) {
		if isOptionsKey(op) && len(ops) > 1 {
			continue
		}
		exprs = append(exprs, t.operator(name, field, op, ops[op], options))
	}

	if len(exprs) == 0 {
		t.logger.Warn("empty condition object matches nothing", zap.String("field", name))
		return matchNone
	}
	return and(exprs...)
}

// regexOptions returns the flags given next to a pattern operator.
func regexOptions(ops map[string]any) string {
	for _, key := range []string{"options", "$options"} {
		if v, ok := ops[key].(string); ok {
			return v
		}
	}
	return ""
}

func isOptionsKey(op string) bool {
	return op == "options" || op == "$options"
}

func (t *Translator) operator(name string, field operand, op string, value any, options string) clause.Expression {
	// {"$gt": 1} and {"gt": 1} are the same condition.
	op = strings.TrimPrefix(op, "$")

	switch op {
	case "between":
		bounds, ok := asList(value)
		if !ok || len(bounds) != 2 {
			t.logger.Warn("between expects a two-element array", zap.String("field", name))
			return t.equal(name, field, value)
		}
		return and(
			compare{field, ">=", t.coerce(field.kind, bounds[0])},
			compare{field, "<=", t.coerce(field.kind, bounds[1])},
		)

	case "inq", "in":
		return in{field, t.coerceList(field.kind, value)}

	case "nin":
		values := t.coerceList(field.kind, value)
		if len(values) == 0 {
			return matchAll
		}
		return orNull(field, not{in{field, values}})

	case "like":
		return t.regex(name, field, value, options)

	case "nlike":
		return orNull(field, not{t.regex(name, field, value, options)})

	case "ilike":
		return t.regex(name, field, value, options+"i")

	case "nilike":
		return orNull(field, not{t.regex(name, field, value, options+"i")})

	case "regex":
		return t.regex(name, field, value, options)

	case "regexp":
		return t.regex(name, field, value, "")

	case "exists":
		if truthy(value) {
			return not{isNull{field}}
		}
		return isNull{field}

	case "neq", "ne":
		if value == nil {
			return not{isNull{field}}
		}
		return orNull(field, compare{field, "<>", t.coerce(field.kind, value)})

	case "eq":
		return t.equal(name, field, value)

	case "gt", "gte", "lt", "lte":
		return compare{field, comparisons[op], t.coerce(field.kind, value)}

	default:
		t.logger.Warn("unsupported filter operator, matching by equality",
			zap.String("field", name),
			zap.String("operator", op),
		)
		return t.equal(name, field, value)
	}
}

// truthy interprets the operand of exists.
func truthy(v any) bool {
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(b)
		return err != nil || parsed
	case float64:
		return b != 0
	case int:
		return b != 0
	case int64:
		return b != 0
	case json.Number:
		f, err := b.Float64()
		return err != nil || f != 0
	default:
		return true
	}
}

var comparisons = map[string]string{
	"gt":  ">",
	"gte": ">=",
	"lt":  "<",
	"lte": "<=",
}

func (t *Translator) equal(name string, field operand, value any) clause.Expression {
	if value == nil {
		return isNull{field}
	}
	if _, ok := asList(value); ok {
		t.logger.Warn("cannot compare a field with an array, matching nothing", zap.String("field", name))
		return matchNone
	}
	if _, ok := asMap(value); ok {
		t.logger.Warn("cannot compare a field with an object, matching nothing", zap.String("field", name))
		return matchNone
	}
	return compare{field, "=", t.coerce(field.kind, value)}
}

func (t *Translator) regex(name string, field operand, value any, options string) clause.Expression {
	p, ok := parsePattern(value, options)
	if !ok {
		t.logger.Warn("regular expression operand is not a string, matching by equality", zap.String("field", name))
		return t.equal(name, field, value)
	}

	if p.global {
		t.logger.Warn("regex syntax does not respect the g flag", zap.String("field", name))
	}

	if _, err := regexp.Compile(p.String()); err != nil {
		t.logger.Warn("invalid regular expression, matching literally",
			zap.String("field", name),
			zap.Error(err),
		)
		p.expr = regexp.QuoteMeta(p.expr)
	}

	return regex{field, p.String()}
}

func (t *Translator) coerceList(kind Kind, value any) []any {
	if value == nil {
		return nil
	}

	list, ok := asList(value)
	if !ok {
		list = []any{value}
	}

	out := make([]any, 0, len(list))
	for _, v := range list {
		out = append(out, t.coerce(kind, v))
	}
	return out
}

// coerce converts value to the type stored for kind. Values that cannot be
// converted are returned unchanged.
func (t *Translator) coerce(kind Kind, value any) any {
	switch kind {
	case KindObjectID:
		switch v := value.(type) {
		case string:
			if id, err := objectid.Parse(strings.ToLower(v)); err == nil {
				return id
			}
		case objectid.ID:
			return v
		}

	case KindDate:
		switch v := value.(type) {
		case time.Time:
			return v.UTC()
		case string:
			if ts, ok := parseDate(v); ok {
				return ts
			}
		case float64:
			return time.UnixMilli(int64(v)).UTC()
		case int:
			return time.UnixMilli(int64(v)).UTC()
		case int64:
			return time.UnixMilli(v).UTC()
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return time.UnixMilli(n).UTC()
			}
		}
	}

	return value
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// ParseWhere decodes a JSON filter expression. Malformed input yields an
// empty expression together with the decoding error, so callers can log it
// and continue with a match-all filter.
func ParseWhere(raw string) (Where, error) {
	if strings.TrimSpace(raw) == "" {
		return Where{}, nil
	}

	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return Where{}, err
	}

	m, ok := decoded.(map[string]any)
	if !ok {
		return Where{}, errNotObject
	}
	return m, nil
}

var errNotObject = errors.New("filter expression is not a JSON object")

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case nil:
		return nil, false
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}

	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []byte, string, nil:
		return nil, false
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	// objectid.ID is a byte array, not a list.
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}

	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
