package mercata

import (
	"net/url"
	"strconv"
	"strings"
)

// Query builds the filter parameters understood by the search endpoint.
// Column filters are encoded as "<op>.<value>", disjunctions as or=(...).
type Query struct {
	values url.Values
}

func NewQuery() *Query {
	return &Query{values: url.Values{}}
}

func (q *Query) set(col, v string) *Query {
	q.values.Set(col, v)
	return q
}

func (q *Query) Eq(col, v string) *Query { return q.set(col, "eq."+v) }

func (q *Query) Gt(col, v string) *Query { return q.set(col, "gt."+v) }

// ILike matches v as a case-insensitive substring.
func (q *Query) ILike(col, v string) *Query { return q.set(col, "ilike.*"+v+"*") }

func (q *Query) In(col string, vs ...string) *Query {
	return q.set(col, "in.("+strings.Join(vs, ",")+")")
}

func (q *Query) IsNull(col string) *Query { return q.set(col, "is.null") }

func (q *Query) NotNull(col string) *Query { return q.set(col, "neq.null") }

// Or adds a disjunction group of conditions built with EqCond and ILikeCond.
func (q *Query) Or(conds ...string) *Query {
	return q.set("or", "("+strings.Join(conds, ",")+")")
}

// Select projects columns. Embedded relations are passed as their own
// entries, e.g. "Table(*)".
func (q *Query) Select(cols ...string) *Query {
	return q.set("select", strings.Join(cols, ","))
}

func (q *Query) Limit(n int) *Query { return q.set("limit", strconv.Itoa(n)) }

func (q *Query) Get(col string) string { return q.values.Get(col) }

// Values returns a copy of the encoded parameters.
func (q *Query) Values() url.Values {
	out := make(url.Values, len(q.values))
	for k, v := range q.values {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func EqCond(col, v string) string { return col + ".eq." + v }

func ILikeCond(col, v string) string { return col + ".ilike.*" + v + "*" }

// reserveMatch matches each term against the reserve name (substring) or the
// exact asset root address.
func reserveMatch(terms []string) []string {
	conds := make([]string, 0, 2*len(terms))
	for _, term := range terms {
		conds = append(conds, ILikeCond("name", term), EqCond("assetRootAddress", term))
	}
	return conds
}
