package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// DecimalPlaces is the fixed number of fractional digits carried by Decimal.
const DecimalPlaces = 18

var (
	decimalUnit = new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(DecimalPlaces))

	errDecimalNegative  = errors.New("decimal: value must not be negative")
	errDecimalPrecision = errors.New("decimal: more than 18 fractional digits")
	errDecimalOverflow  = errors.New("decimal: value overflows 256 bits")
	errDecimalDivZero   = errors.New("decimal: division by zero")
)

// Decimal is a non-negative fixed-point number with 18 fractional digits. The
// raw value is the number scaled by 1e18, so 0.5 is stored as 5e17.
type Decimal struct {
	raw uint256.Int
}

// DecimalFromRaw wraps an already scaled value.
func DecimalFromRaw(raw *uint256.Int) Decimal {
	var d Decimal
	if raw != nil {
		d.raw.Set(raw)
	}
	return d
}

// DecimalFromUint64 returns the whole number v.
func DecimalFromUint64(v uint64) Decimal {
	var d Decimal
	d.raw.Mul(uint256.NewInt(v), decimalUnit)
	return d
}

// OneDecimal returns 1.0.
func OneDecimal() Decimal {
	return DecimalFromRaw(decimalUnit)
}

// ParseDecimal parses a human readable decimal such as "0.75" or "10".
func ParseDecimal(value string) (Decimal, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return Decimal{}, fmt.Errorf("decimal: empty value")
	}
	parsed, err := decimal.NewFromString(trimmed)
	if err != nil {
		return Decimal{}, fmt.Errorf("decimal: %w", err)
	}
	return DecimalFromShopspring(parsed)
}

// DecimalFromShopspring converts an arbitrary precision decimal.
func DecimalFromShopspring(value decimal.Decimal) (Decimal, error) {
	if value.Sign() < 0 {
		return Decimal{}, errDecimalNegative
	}
	if value.Exponent() < -DecimalPlaces {
		trimmed := value.Truncate(DecimalPlaces)
		if !trimmed.Equal(value) {
			return Decimal{}, errDecimalPrecision
		}
		value = trimmed
	}
	scaled := value.Shift(DecimalPlaces).BigInt()
	raw, overflow := uint256.FromBig(scaled)
	if overflow {
		return Decimal{}, errDecimalOverflow
	}
	return DecimalFromRaw(raw), nil
}

// MustDecimal parses value and panics on failure. Intended for constants and tests.
func MustDecimal(value string) Decimal {
	d, err := ParseDecimal(value)
	if err != nil {
		panic(err)
	}
	return d
}

// Raw returns a copy of the scaled value.
func (d Decimal) Raw() *uint256.Int {
	return new(uint256.Int).Set(&d.raw)
}

// Shopspring converts to an arbitrary precision decimal for display.
func (d Decimal) Shopspring() decimal.Decimal {
	return decimal.NewFromBigInt(d.raw.ToBig(), -DecimalPlaces)
}

func (d Decimal) String() string {
	return d.Shopspring().String()
}

func (d Decimal) IsZero() bool {
	return d.raw.IsZero()
}

func (d Decimal) Cmp(other Decimal) int {
	return d.raw.Cmp(&other.raw)
}

// LTE reports d <= other.
func (d Decimal) LTE(other Decimal) bool {
	return d.Cmp(other) <= 0
}

// Add returns d + other.
func (d Decimal) Add(other Decimal) (Decimal, error) {
	var out Decimal
	if _, overflow := out.raw.AddOverflow(&d.raw, &other.raw); overflow {
		return Decimal{}, errDecimalOverflow
	}
	return out, nil
}

// SubFloor returns d - other, or zero when other exceeds d.
func (d Decimal) SubFloor(other Decimal) Decimal {
	var out Decimal
	if d.raw.Lt(&other.raw) {
		return out
	}
	out.raw.Sub(&d.raw, &other.raw)
	return out
}

// MulAmount scales an integer amount by d.
func (d Decimal) MulAmount(amount *uint256.Int) (Decimal, error) {
	var out Decimal
	if amount == nil {
		return out, nil
	}
	if _, overflow := out.raw.MulOverflow(&d.raw, amount); overflow {
		return Decimal{}, errDecimalOverflow
	}
	return out, nil
}

// Mul returns d * other rounded down.
func (d Decimal) Mul(other Decimal) (Decimal, error) {
	var out Decimal
	if _, overflow := out.raw.MulDivOverflow(&d.raw, &other.raw, decimalUnit); overflow {
		return Decimal{}, errDecimalOverflow
	}
	return out, nil
}

// Quo returns d / other rounded down.
func (d Decimal) Quo(other Decimal) (Decimal, error) {
	if other.raw.IsZero() {
		return Decimal{}, errDecimalDivZero
	}
	var out Decimal
	if _, overflow := out.raw.MulDivOverflow(&d.raw, decimalUnit, &other.raw); overflow {
		return Decimal{}, errDecimalOverflow
	}
	return out, nil
}

func (d Decimal) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Decimal) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		var number json.Number
		if errNum := json.Unmarshal(data, &number); errNum != nil {
			return err
		}
		text = number.String()
	}
	parsed, err := ParseDecimal(text)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Decimal) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, &d.raw)
}

func (d *Decimal) DecodeRLP(s *rlp.Stream) error {
	raw := new(uint256.Int)
	if err := s.Decode(raw); err != nil {
		return err
	}
	d.raw.Set(raw)
	return nil
}
