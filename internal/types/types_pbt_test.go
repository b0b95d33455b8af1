package types

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestTransactionTypeParsingIsCaseInsensitive(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("parse ignores case", prop.ForAll(
		func(idx int, upper bool) bool {
			tt := transactionTypes[idx]
			s := strings.ToLower(string(tt))
			if upper {
				s = strings.ToUpper(s)
			}
			return ParseTransactionType(s) == tt
		},
		gen.IntRange(0, len(transactionTypes)-1),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
