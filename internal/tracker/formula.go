// Package tracker implements the external record-queue clients: a hosted
// Airtable-style REST tracker and a self-hosted Postgres tracker behind the
// same interface.
package tracker

import (
	"fmt"
	"strings"
)

// Formula is a tracker filter expression. Combinators below build the small
// predicate language the list endpoint understands: AND/OR/NOT over field
// equality, blankness and numeric comparison.
type Formula string

// And combines predicates conjunctively.
func And(fs ...Formula) Formula {
	return combine("AND", fs)
}

// Or combines predicates disjunctively.
func Or(fs ...Formula) Formula {
	return combine("OR", fs)
}

// Not negates a predicate.
func Not(f Formula) Formula {
	return Formula(fmt.Sprintf("NOT(%s)", f))
}

// Field references a field by name.
func Field(name string) Formula {
	return Formula(fmt.Sprintf("{%s}", name))
}

// Equals compares a field to a string literal.
func Equals(field, value string) Formula {
	return Formula(fmt.Sprintf("{%s} = '%s'", field, escape(value)))
}

// Blank is true when the field carries no value. Attachment fields report
// blank this way too.
func Blank(field string) Formula {
	return Not(Field(field))
}

// LessThan compares a numeric field against a bound.
func LessThan(field string, bound int) Formula {
	return Formula(fmt.Sprintf("{%s} < %d", field, bound))
}

func combine(op string, fs []Formula) Formula {
	if len(fs) == 1 {
		return fs[0]
	}
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = string(f)
	}
	return Formula(fmt.Sprintf("%s(%s)", op, strings.Join(parts, ",")))
}

func escape(s string) string {
	return strings.ReplaceAll(s, "'", `\'`)
}

// queueFormula selects jobs eligible for retrieval: no artifact yet, status
// empty or Error, attempts below the cap (a blank attempt count reads as
// zero).
func queueFormula(f Fields, maxAttempts int) Formula {
	return And(
		Blank(f.ArtifactFile),
		Or(Equals(f.Status, ""), Equals(f.Status, "Error")),
		Or(Equals(f.AttemptCount, ""), LessThan(f.AttemptCount, maxAttempts)),
	)
}
