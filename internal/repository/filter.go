package repository

import (
	"fmt"
	"strings"
)

// where accumulates AND-ed predicates with positional placeholders.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(clause, len(w.args)))
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// next returns the placeholder index that the following argument will take.
func (w *where) next() int {
	return len(w.args) + 1
}
