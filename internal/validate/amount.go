package validate

import (
	"regexp"
	"strings"

	"github.com/parleyhq/parley/internal/money"
)

// currencyPattern matches currency-formatted numbers in drafted text:
// "$1,500", "$1500.00", "$ 1,250.50". Only dollar-formatted figures are
// treated as monetary commitments; bare numbers (dates, counts) are not.
var currencyPattern = regexp.MustCompile(`\$\s*([0-9][0-9,]*(?:\.[0-9]{1,2})?)`)

// extractedAmount is one currency figure found in a draft, with the raw
// matched text kept for evidence.
type extractedAmount struct {
	Raw    string
	Amount money.Amount
}

// extractAmounts finds every currency-formatted number in text, strips the
// currency symbol and thousands separators, and parses each through the
// canonical decimal constructor. Figures that fail to parse are skipped;
// the pattern guarantees they will not.
func extractAmounts(text string) []extractedAmount {
	matches := currencyPattern.FindAllStringSubmatch(text, -1)
	out := make([]extractedAmount, 0, len(matches))
	for _, m := range matches {
		cleaned := strings.ReplaceAll(m[1], ",", "")
		amount, err := money.Parse(cleaned)
		if err != nil {
			continue
		}
		out = append(out, extractedAmount{Raw: m[0], Amount: amount})
	}
	return out
}
