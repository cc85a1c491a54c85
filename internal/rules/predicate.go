// internal/rules/predicate.go
package rules

import (
	"strings"

	"github.com/solatis/rulekeeper/internal/types"
)

/*
 * Composable predicates over the users relation.
 *
 * Compilation produces a tree of Predicate nodes rather than SQL text, so
 * nested rules (sub-rules, ability-delegated role rules) compose structurally
 * and operator precedence is always explicit: every Group renders inside its
 * own parentheses.
 *
 * Rendering emits '?' placeholders with positional args. Callers executing
 * against PostgreSQL rebind with sqlx (db.Rebind), the same way named queries
 * are handled in internal/core/db.
 *
 * Column and table names in nodes are compile-time constants from the
 * builders, never expression input; all expression values are bound.
 *
 * Empty groups: a Group with no constraining clauses is "empty". Parents drop
 * empty children; an empty group at the root renders as 1 = 1.
 */

// Predicate is a boolean SQL fragment that can be attached to a query over users.
type Predicate interface {
	writeSQL(w *sqlWriter)
	empty() bool
}

// Query is a subquery selecting a single user-id column.
type Query interface {
	writeQuery(w *sqlWriter)
}

type sqlWriter struct {
	b    strings.Builder
	args []any
}

func (w *sqlWriter) write(s string) {
	w.b.WriteString(s)
}

func (w *sqlWriter) bind(v any) {
	w.b.WriteString("?")
	w.args = append(w.args, v)
}

// Render returns the SQL text of p with '?' placeholders and its bound args.
func Render(p Predicate) (string, []any) {
	w := &sqlWriter{}
	if p == nil || p.empty() {
		True.writeSQL(w)
	} else {
		p.writeSQL(w)
	}
	return w.b.String(), w.args
}

// SelectUserIDs renders the query selecting every user id satisfying p.
func SelectUserIDs(p Predicate) (string, []any) {
	where, args := Render(p)
	return "SELECT users.id FROM users WHERE " + where + " ORDER BY users.id", args
}

// Bool is a constant predicate.
type Bool bool

const (
	True  Bool = true
	False Bool = false
)

func (b Bool) writeSQL(w *sqlWriter) {
	if b {
		w.write("1 = 1")
	} else {
		w.write("1 = 0")
	}
}

func (b Bool) empty() bool { return false }

// Group combines clauses with a logical operator.
type Group struct {
	Op      types.LogicalOperator
	Clauses []Predicate
}

// Add appends a clause, ignoring nil.
func (g *Group) Add(p Predicate) {
	if p != nil {
		g.Clauses = append(g.Clauses, p)
	}
}

func (g *Group) writeSQL(w *sqlWriter) {
	keyword := " AND "
	if g.Op == types.LogicalOr {
		keyword = " OR "
	}
	n := 0
	for _, c := range g.Clauses {
		if c.empty() {
			continue
		}
		if n == 0 {
			w.write("(")
		} else {
			w.write(keyword)
		}
		c.writeSQL(w)
		n++
	}
	if n == 0 {
		True.writeSQL(w)
		return
	}
	w.write(")")
}

func (g *Group) empty() bool {
	for _, c := range g.Clauses {
		if !c.empty() {
			return false
		}
	}
	return true
}

// Not negates its inner predicate.
type Not struct {
	Inner Predicate
}

func (n Not) writeSQL(w *sqlWriter) {
	w.write("NOT (")
	n.Inner.writeSQL(w)
	w.write(")")
}

func (n Not) empty() bool { return false }

// Comparison compares a column against a bound value.
type Comparison struct {
	Column string
	Symbol string
	Value  any
}

func (c Comparison) writeSQL(w *sqlWriter) {
	w.write(c.Column + " " + c.Symbol + " ")
	w.bind(c.Value)
}

func (c Comparison) empty() bool { return false }

// IsNull tests a column for NULL.
type IsNull struct {
	Column string
}

func (n IsNull) writeSQL(w *sqlWriter) {
	w.write(n.Column + " IS NULL")
}

func (n IsNull) empty() bool { return false }

// InList tests a column against a literal list.
type InList struct {
	Column string
	Negate bool
	Values []any
}

func (in InList) writeSQL(w *sqlWriter) {
	if len(in.Values) == 0 {
		// x IN () holds for nothing, x NOT IN () for everything.
		Bool(in.Negate).writeSQL(w)
		return
	}
	w.write(in.Column)
	if in.Negate {
		w.write(" NOT IN (")
	} else {
		w.write(" IN (")
	}
	for i, v := range in.Values {
		if i > 0 {
			w.write(", ")
		}
		w.bind(v)
	}
	w.write(")")
}

func (in InList) empty() bool { return false }

// InQuery tests a column against a subquery.
type InQuery struct {
	Column string
	Negate bool
	Query  Query
}

func (in InQuery) writeSQL(w *sqlWriter) {
	w.write(in.Column)
	if in.Negate {
		w.write(" NOT IN (")
	} else {
		w.write(" IN (")
	}
	in.Query.writeQuery(w)
	w.write(")")
}

func (in InQuery) empty() bool { return false }

// PathPrefix matches hierarchy node paths at or beneath the node of ValueID.
// The prefix is compared exactly: no LIKE wildcards, no case folding.
type PathPrefix struct {
	Column  string
	ValueID int64
}

func (p PathPrefix) writeSQL(w *sqlWriter) {
	w.write("EXISTS (SELECT 1 FROM hierarchy_nodes anchor WHERE anchor.field_value_id = ")
	w.bind(p.ValueID)
	w.write(" AND substr(" + p.Column + ", 1, length(anchor.path)) = anchor.path)")
}

func (p PathPrefix) empty() bool { return false }

// Select is a single-column subquery. Where clauses are ANDed.
// HavingDistinct/HavingCount add GROUP BY Column HAVING COUNT(DISTINCT HavingDistinct) = HavingCount.
type Select struct {
	Column         string
	From           string
	Joins          []string
	Where          []Predicate
	HavingDistinct string
	HavingCount    int
}

func (s *Select) writeQuery(w *sqlWriter) {
	w.write("SELECT " + s.Column + " FROM " + s.From)
	for _, j := range s.Joins {
		w.write(" " + j)
	}
	for i, p := range s.Where {
		if i == 0 {
			w.write(" WHERE ")
		} else {
			w.write(" AND ")
		}
		p.writeSQL(w)
	}
	if s.HavingDistinct != "" {
		w.write(" GROUP BY " + s.Column + " HAVING COUNT(DISTINCT " + s.HavingDistinct + ") = ")
		w.bind(s.HavingCount)
	}
}

// UnionAll concatenates subqueries with UNION ALL.
type UnionAll []Query

func (u UnionAll) writeQuery(w *sqlWriter) {
	for i, q := range u {
		if i > 0 {
			w.write(" UNION ALL ")
		}
		q.writeQuery(w)
	}
}
