package concept

import (
	"fmt"
	"strings"
)

// DecimalDenominator is the number of fractional units in one.
const DecimalDenominator uint64 = 10_000_000_000_000_000_000

// Decimal is a fixed-point number: Integer + Fractional/DecimalDenominator.
// Fractional is always in [0, DecimalDenominator), so -0.25 is stored as
// Integer -1 and Fractional 0.75e19.
type Decimal struct {
	Integer    int64
	Fractional uint64
}

// NewDecimal builds a Decimal, carrying any fractional overflow into the
// integer part.
func NewDecimal(integer int64, fractional uint64) Decimal {
	integer += int64(fractional / DecimalDenominator)
	return Decimal{Integer: integer, Fractional: fractional % DecimalDenominator}
}

// String renders the canonical form: trailing fractional zeros dropped, at
// least one fractional digit, suffixed with "dec".
func (d Decimal) String() string {
	sign := ""
	whole := uint64(d.Integer)
	frac := d.Fractional
	if d.Integer < 0 {
		sign = "-"
		if frac == 0 {
			whole = uint64(-(d.Integer + 1)) + 1
		} else {
			whole = uint64(-(d.Integer + 1))
			frac = DecimalDenominator - frac
		}
	}
	digits := strings.TrimRight(fmt.Sprintf("%019d", frac), "0")
	if digits == "" {
		digits = "0"
	}
	return fmt.Sprintf("%s%d.%sdec", sign, whole, digits)
}
