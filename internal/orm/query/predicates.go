// Package query provides the equality predicates used to look up a single
// record by any of its key sets
package query

import (
	"fmt"
	"strings"

	"github.com/conduit-lang/deltapatch/internal/orm/schema"
)

// Operator represents a comparison operator
type Operator int

const (
	OpEqual Operator = iota
	OpIsNull
)

// String returns the string representation of the operator
func (o Operator) String() string {
	switch o {
	case OpEqual:
		return "="
	case OpIsNull:
		return "IS NULL"
	default:
		return "UNKNOWN"
	}
}

// Placeholder renders the n-th (1-based) bind parameter of a statement
type Placeholder func(n int) string

// Dollar renders PostgreSQL style placeholders ($1, $2, ...)
func Dollar(n int) string {
	return fmt.Sprintf("$%d", n)
}

// Question renders SQLite and MySQL style placeholders
func Question(int) string {
	return "?"
}

// Condition represents a single field comparison
type Condition struct {
	Field    string // canonical field name
	Column   string // storage column
	Operator Operator
	Value    interface{}
}

// PredicateGroup is a conjunction of conditions built from one key set
type PredicateGroup struct {
	Name       string
	Conditions []*Condition
}

// NewPredicateGroup creates a new predicate group
func NewPredicateGroup(name string) *PredicateGroup {
	return &PredicateGroup{
		Name:       name,
		Conditions: make([]*Condition, 0),
	}
}

// Equal adds field = value. A nil value becomes IS NULL.
func (pg *PredicateGroup) Equal(field, column string, value interface{}) *PredicateGroup {
	op := OpEqual
	if value == nil {
		op = OpIsNull
	}
	pg.Conditions = append(pg.Conditions, &Condition{
		Field:    field,
		Column:   column,
		Operator: op,
		Value:    value,
	})
	return pg
}

// Values returns the condition values keyed by field
func (pg *PredicateGroup) Values() map[string]interface{} {
	values := make(map[string]interface{}, len(pg.Conditions))
	for _, cond := range pg.Conditions {
		values[cond.Field] = cond.Value
	}
	return values
}

// ToSQL converts the group to SQL joined with AND
func (pg *PredicateGroup) ToSQL(ph Placeholder, paramCounter *int, args *[]interface{}) (string, error) {
	if len(pg.Conditions) == 0 {
		return "", nil
	}

	parts := make([]string, 0, len(pg.Conditions))
	for _, cond := range pg.Conditions {
		sql, err := conditionToSQL(cond, ph, paramCounter, args)
		if err != nil {
			return "", err
		}
		parts = append(parts, sql)
	}

	return strings.Join(parts, " AND "), nil
}

// Match reports whether every condition holds for rec
func (pg *PredicateGroup) Match(rec schema.Record, eq func(a, b interface{}) bool) bool {
	if len(pg.Conditions) == 0 {
		return false
	}
	for _, cond := range pg.Conditions {
		v, ok := rec[cond.Field]
		switch cond.Operator {
		case OpIsNull:
			if ok && v != nil {
				return false
			}
		case OpEqual:
			if !ok || !eq(v, cond.Value) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Predicate is a disjunction of predicate groups, most specific first
type Predicate struct {
	Groups []*PredicateGroup
}

// NewPredicate creates an empty predicate
func NewPredicate() *Predicate {
	return &Predicate{Groups: make([]*PredicateGroup, 0)}
}

// AddGroup appends a group to the disjunction
func (p *Predicate) AddGroup(group *PredicateGroup) *Predicate {
	p.Groups = append(p.Groups, group)
	return p
}

// Empty reports whether the predicate has no conditions
func (p *Predicate) Empty() bool {
	for _, g := range p.Groups {
		if len(g.Conditions) > 0 {
			return false
		}
	}
	return true
}

// ToSQL converts the predicate to SQL. Multiple groups are parenthesized and
// joined with OR.
func (p *Predicate) ToSQL(ph Placeholder, paramCounter *int, args *[]interface{}) (string, error) {
	parts := make([]string, 0, len(p.Groups))
	for _, group := range p.Groups {
		sql, err := group.ToSQL(ph, paramCounter, args)
		if err != nil {
			return "", err
		}
		if sql != "" {
			parts = append(parts, sql)
		}
	}

	switch len(parts) {
	case 0:
		return "", nil
	case 1:
		return parts[0], nil
	}
	for i, part := range parts {
		parts[i] = fmt.Sprintf("(%s)", part)
	}
	return strings.Join(parts, " OR "), nil
}

// Match reports whether any group matches rec
func (p *Predicate) Match(rec schema.Record, eq func(a, b interface{}) bool) bool {
	for _, g := range p.Groups {
		if g.Match(rec, eq) {
			return true
		}
	}
	return false
}

// String renders the predicate for logs
func (p *Predicate) String() string {
	groups := make([]string, 0, len(p.Groups))
	for _, g := range p.Groups {
		conds := make([]string, 0, len(g.Conditions))
		for _, c := range g.Conditions {
			if c.Operator == OpIsNull {
				conds = append(conds, fmt.Sprintf("%s IS NULL", c.Field))
				continue
			}
			conds = append(conds, fmt.Sprintf("%s = %v", c.Field, c.Value))
		}
		groups = append(groups, "("+strings.Join(conds, " AND ")+")")
	}
	return strings.Join(groups, " OR ")
}

// conditionToSQL converts a condition to SQL with parameterized values
func conditionToSQL(cond *Condition, ph Placeholder, paramCounter *int, args *[]interface{}) (string, error) {
	column := cond.Column
	if column == "" {
		column = cond.Field
	}

	switch cond.Operator {
	case OpEqual:
		*args = append(*args, cond.Value)
		sql := fmt.Sprintf("%s = %s", column, ph(*paramCounter))
		*paramCounter++
		return sql, nil

	case OpIsNull:
		return fmt.Sprintf("%s IS NULL", column), nil

	default:
		return "", fmt.Errorf("unsupported operator: %v", cond.Operator)
	}
}
