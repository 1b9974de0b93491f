package models

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CurrencyTRY is the only currency both regional gateways settle in
const CurrencyTRY = "TRY"

// MoneyScale is the number of fractional digits kept on amounts (kuruş)
const MoneyScale = 2

// Money is a decimal amount stored as a BSON Decimal128 and rendered as a
// JSON string, so no value ever passes through float64
type Money struct {
	decimal.Decimal
}

// NewMoney ...
func NewMoney(d decimal.Decimal) Money {
	return Money{d.Round(MoneyScale)}
}

// MustMoney parses a literal amount and panics on bad input. Used for
// constants and tests.
func MustMoney(s string) Money {
	return NewMoney(decimal.RequireFromString(s))
}

// MoneyFromMinor converts an amount in minor units (kuruş) to Money
func MoneyFromMinor(minor int64) Money {
	return Money{decimal.New(minor, -MoneyScale)}
}

// Minor returns the amount in minor units (kuruş)
func (m Money) Minor() int64 {
	return m.Decimal.Shift(MoneyScale).Round(0).IntPart()
}

// Add ...
func (m Money) Add(o Money) Money {
	return Money{m.Decimal.Add(o.Decimal)}
}

// Sub ...
func (m Money) Sub(o Money) Money {
	return Money{m.Decimal.Sub(o.Decimal)}
}

// Equal ...
func (m Money) Equal(o Money) bool {
	return m.Decimal.Equal(o.Decimal)
}

// Format renders the amount with exactly two fractional digits
func (m Money) Format() string {
	return m.Decimal.StringFixed(MoneyScale)
}

// MarshalBSONValue stores the amount as Decimal128
func (m Money) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return marshalDecimal(m.Decimal, MoneyScale)
}

// UnmarshalBSONValue accepts Decimal128 and, for older rows, strings and doubles
func (m *Money) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	d, err := unmarshalDecimal(t, data)
	if err != nil {
		return err
	}
	*m = NewMoney(d)
	return nil
}

// MarshalJSON ...
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.Format() + `"`), nil
}

// UnmarshalJSON accepts both "12.50" and 12.5
func (m *Money) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	*m = NewMoney(d)
	return nil
}

// Rate is a ratio such as the commission rate. It keeps up to four
// fractional digits.
type Rate struct {
	decimal.Decimal
}

// RateScale ...
const RateScale = 4

// NewRate ...
func NewRate(d decimal.Decimal) Rate {
	return Rate{d.Round(RateScale)}
}

// MustRate ...
func MustRate(s string) Rate {
	return NewRate(decimal.RequireFromString(s))
}

// ParseRate ...
func ParseRate(s string) (Rate, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Rate{}, err
	}
	return NewRate(d), nil
}

// Of returns m multiplied by the rate, rounded to the money scale
func (r Rate) Of(m Money) Money {
	return NewMoney(m.Decimal.Mul(r.Decimal))
}

// MarshalBSONValue ...
func (r Rate) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return marshalDecimal(r.Decimal, RateScale)
}

// UnmarshalBSONValue ...
func (r *Rate) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	d, err := unmarshalDecimal(t, data)
	if err != nil {
		return err
	}
	*r = NewRate(d)
	return nil
}

// MarshalJSON ...
func (r Rate) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.Decimal.String() + `"`), nil
}

// UnmarshalJSON ...
func (r *Rate) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	*r = NewRate(d)
	return nil
}

func marshalDecimal(d decimal.Decimal, scale int32) (bsontype.Type, []byte, error) {
	d128, err := primitive.ParseDecimal128(d.StringFixed(scale))
	if err != nil {
		return 0, nil, err
	}
	return bson.MarshalValue(d128)
}

func unmarshalDecimal(t bsontype.Type, data []byte) (decimal.Decimal, error) {
	raw := bson.RawValue{Type: t, Value: data}
	switch t {
	case bsontype.Decimal128:
		return decimal.NewFromString(raw.Decimal128().String())
	case bsontype.String:
		return decimal.NewFromString(raw.StringValue())
	case bsontype.Double:
		return decimal.NewFromFloat(raw.Double()), nil
	case bsontype.Int32:
		return decimal.NewFromInt32(raw.Int32()), nil
	case bsontype.Int64:
		return decimal.NewFromInt(raw.Int64()), nil
	case bsontype.Null:
		return decimal.Zero, nil
	}
	return decimal.Zero, fmt.Errorf("models: cannot decode bson type %v as decimal", t)
}
