package aggregate

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Percent is a percentage that may be undefined. An undefined percent is
// reported as "no prior data", never as zero, NaN or infinity.
type Percent struct {
	Value decimal.Decimal
	Valid bool
}

// PercentChange returns change/base*100 rounded to two places, or an
// undefined Percent when base is zero.
func PercentChange(change, base int64) Percent {
	if base == 0 {
		return Percent{}
	}
	v := decimal.NewFromInt(change).Mul(hundred).DivRound(decimal.NewFromInt(base), 2)
	return Percent{Value: v, Valid: true}
}

// Float returns the value as a float64 and whether it is defined.
func (p Percent) Float() (float64, bool) {
	if !p.Valid {
		return 0, false
	}
	return p.Value.InexactFloat64(), true
}

func (p Percent) String() string {
	if !p.Valid {
		return "n/a"
	}
	s := p.Value.StringFixed(2) + "%"
	if p.Value.IsPositive() {
		s = "+" + s
	}
	return s
}

// MarshalJSON encodes an undefined percent as null and a defined one as a
// number with two decimals.
func (p Percent) MarshalJSON() ([]byte, error) {
	if !p.Valid {
		return []byte("null"), nil
	}
	return []byte(p.Value.StringFixed(2)), nil
}

// UnmarshalJSON accepts null or a number.
func (p *Percent) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = Percent{}
		return nil
	}
	v, err := decimal.NewFromString(string(data))
	if err != nil {
		return err
	}
	*p = Percent{Value: v, Valid: true}
	return nil
}
