// internal/circulation/codegen.go
package circulation

import (
	"fmt"
	"math/rand/v2"

	"libracirc/internal/calendar"
)

// CodeGenerator produces loan codes of the form PREFIX-YYYYMMDD-NNNNNN.
// Codes only look unique; the ledger's UNIQUE constraint is what makes
// them so.
type CodeGenerator struct {
	prefix string
	digits int
	bound  int
	intN   func(n int) int
}

// NewCodeGenerator returns a generator drawing digits random decimal
// digits per code. intN returns a value in [0, n); nil means math/rand/v2.
func NewCodeGenerator(prefix string, digits int, intN func(n int) int) *CodeGenerator {
	if intN == nil {
		intN = rand.IntN
	}
	bound := 1
	for range digits {
		bound *= 10
	}
	return &CodeGenerator{
		prefix: prefix,
		digits: digits,
		bound:  bound,
		intN:   intN,
	}
}

// Generate returns a candidate code for a loan made on day.
func (g *CodeGenerator) Generate(day calendar.Date) string {
	return fmt.Sprintf("%s-%s-%0*d", g.prefix, day.Time().Format("20060102"), g.digits, g.intN(g.bound))
}
