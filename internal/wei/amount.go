package wei

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

var (
	ErrOverflow  = errors.New("amount overflow")
	ErrUnderflow = errors.New("amount underflow")
	ErrDivByZero = errors.New("amount division by zero")
)

// units lists the suffixes accepted by Parse with their decimal exponent.
// Longer suffixes come first so "gwei" is not read as "wei".
var units = []struct {
	suffix string
	exp    int
}{
	{"ether", 18},
	{"gwei", 9},
	{"wei", 0},
	{"og", 18},
}

// Amount is an unsigned 256-bit quantity of the smallest currency unit.
// The zero value is 0 wei. Arithmetic never wraps: Add and Sub report
// overflow and underflow instead.
type Amount struct {
	v uint256.Int
}

func Zero() Amount { return Amount{} }

func FromUint64(n uint64) Amount {
	var a Amount
	a.v.SetUint64(n)
	return a
}

// Parse reads a decimal wei amount, optionally with a unit suffix
// ("1500", "0.001ether", "5 gwei").
func Parse(s string) (Amount, error) {
	raw := strings.ToLower(strings.TrimSpace(s))
	if raw == "" {
		return Amount{}, errors.New("empty amount")
	}
	exp := 0
	for _, u := range units {
		if strings.HasSuffix(raw, u.suffix) {
			raw = strings.TrimSpace(strings.TrimSuffix(raw, u.suffix))
			exp = u.exp
			break
		}
	}
	if raw == "" {
		return Amount{}, fmt.Errorf("invalid amount %q", s)
	}
	whole, frac, hasDot := strings.Cut(raw, ".")
	if hasDot && frac == "" {
		return Amount{}, fmt.Errorf("invalid amount %q", s)
	}
	if len(frac) > exp {
		return Amount{}, fmt.Errorf("amount %q has more precision than its unit allows", s)
	}
	if whole == "" {
		whole = "0"
	}
	digits := whole + frac + strings.Repeat("0", exp-len(frac))
	for _, r := range digits {
		if r < '0' || r > '9' {
			return Amount{}, fmt.Errorf("invalid amount %q", s)
		}
	}
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return Amount{}, nil
	}
	v, err := uint256.FromDecimal(digits)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Amount{v: *v}, nil
}

// MustParse is Parse for constants; it panics on malformed input.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) Add(b Amount) (Amount, error) {
	var out Amount
	if _, overflow := out.v.AddOverflow(&a.v, &b.v); overflow {
		return Amount{}, ErrOverflow
	}
	return out, nil
}

func (a Amount) Sub(b Amount) (Amount, error) {
	var out Amount
	if _, underflow := out.v.SubOverflow(&a.v, &b.v); underflow {
		return Amount{}, ErrUnderflow
	}
	return out, nil
}

// MulDiv returns floor(a*num/den).
func (a Amount) MulDiv(num, den uint64) (Amount, error) {
	if den == 0 {
		return Amount{}, ErrDivByZero
	}
	var out Amount
	n := uint256.NewInt(num)
	if _, overflow := out.v.MulOverflow(&a.v, n); overflow {
		return Amount{}, ErrOverflow
	}
	out.v.Div(&out.v, uint256.NewInt(den))
	return out, nil
}

func (a Amount) Cmp(b Amount) int { return a.v.Cmp(&b.v) }
func (a Amount) Lt(b Amount) bool { return a.Cmp(b) < 0 }
func (a Amount) Gt(b Amount) bool { return a.Cmp(b) > 0 }
func (a Amount) Eq(b Amount) bool { return a.Cmp(b) == 0 }
func (a Amount) IsZero() bool     { return a.v.IsZero() }

// String returns the decimal wei representation.
func (a Amount) String() string { return a.v.Dec() }

// Ether renders the amount in ether with trailing zeros trimmed, for display.
func (a Amount) Ether() string {
	dec := a.v.Dec()
	if len(dec) <= 18 {
		dec = strings.Repeat("0", 19-len(dec)) + dec
	}
	whole, frac := dec[:len(dec)-18], strings.TrimRight(dec[len(dec)-18:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

func (a Amount) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Amount) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) { return json.Marshal(a.String()) }

// UnmarshalJSON accepts a JSON string or an integer literal.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n json.Number
		if err2 := json.Unmarshal(data, &n); err2 != nil {
			return fmt.Errorf("amount must be a string or integer: %w", err)
		}
		s = n.String()
	}
	return a.UnmarshalText([]byte(s))
}

// Value stores amounts as decimal TEXT.
func (a Amount) Value() (driver.Value, error) { return a.String(), nil }

func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = Amount{}
		return nil
	case string:
		return a.UnmarshalText([]byte(v))
	case []byte:
		return a.UnmarshalText(v)
	case int64:
		if v < 0 {
			return fmt.Errorf("negative amount %d", v)
		}
		*a = FromUint64(uint64(v))
		return nil
	default:
		return fmt.Errorf("cannot scan %T into wei.Amount", src)
	}
}

// Sum adds amounts with overflow checking.
func Sum(amounts ...Amount) (Amount, error) {
	var total Amount
	for _, a := range amounts {
		next, err := total.Add(a)
		if err != nil {
			return Amount{}, err
		}
		total = next
	}
	return total, nil
}
