package asset

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	ErrNilToken        = errors.New("asset: nil token")
	ErrNegativeAmount  = errors.New("asset: negative amount")
	ErrTokenMismatch   = errors.New("asset: cannot operate on different tokens")
	ErrNegativeResult  = errors.New("asset: operation would result in negative amount")
	ErrTooManyDecimals = errors.New("asset: too many decimal places for token")
	ErrDivisionByZero  = errors.New("asset: division by zero")
)

const bpsDenominator = 10_000

// Amount is an immutable quantity of a token in its smallest unit.
type Amount struct {
	raw   *big.Int
	token *Token
}

// NewAmount creates an Amount from a raw value. Negative values panic.
func NewAmount(token *Token, raw *big.Int) Amount {
	if token == nil {
		panic(ErrNilToken)
	}
	if raw == nil {
		raw = new(big.Int)
	}
	if raw.Sign() < 0 {
		panic(ErrNegativeAmount)
	}
	return Amount{raw: new(big.Int).Set(raw), token: token}
}

// Zero returns a zero Amount of token.
func Zero(token *Token) Amount {
	return NewAmount(token, new(big.Int))
}

// Raw returns a copy of the raw value.
func (a Amount) Raw() *big.Int {
	if a.raw == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.raw)
}

func (a Amount) Token() *Token { return a.token }

func (a Amount) IsZero() bool { return a.raw == nil || a.raw.Sign() == 0 }

func (a Amount) IsPositive() bool { return a.raw != nil && a.raw.Sign() > 0 }

// Add returns a + b.
func (a Amount) Add(b Amount) (Amount, error) {
	if err := a.sameToken(b); err != nil {
		return Amount{}, err
	}
	return NewAmount(a.token, new(big.Int).Add(a.Raw(), b.Raw())), nil
}

// Sub returns a - b, failing when b > a.
func (a Amount) Sub(b Amount) (Amount, error) {
	if err := a.sameToken(b); err != nil {
		return Amount{}, err
	}
	if a.Raw().Cmp(b.Raw()) < 0 {
		return Amount{}, ErrNegativeResult
	}
	return NewAmount(a.token, new(big.Int).Sub(a.Raw(), b.Raw())), nil
}

// Shortfall returns max(a - b, 0).
func (a Amount) Shortfall(b Amount) (Amount, error) {
	if err := a.sameToken(b); err != nil {
		return Amount{}, err
	}
	if a.Raw().Cmp(b.Raw()) <= 0 {
		return Zero(a.token), nil
	}
	return NewAmount(a.token, new(big.Int).Sub(a.Raw(), b.Raw())), nil
}

// Cmp compares two amounts of the same token.
func (a Amount) Cmp(b Amount) (int, error) {
	if err := a.sameToken(b); err != nil {
		return 0, err
	}
	return a.Raw().Cmp(b.Raw()), nil
}

// AtLeast reports a >= b. Mismatched tokens are never at least each other.
func (a Amount) AtLeast(b Amount) bool {
	c, err := a.Cmp(b)
	return err == nil && c >= 0
}

// Min returns the smaller of a and b.
func (a Amount) Min(b Amount) (Amount, error) {
	c, err := a.Cmp(b)
	if err != nil {
		return Amount{}, err
	}
	if c <= 0 {
		return a, nil
	}
	return b, nil
}

// AddBps inflates the amount by bps basis points, rounding up.
func (a Amount) AddBps(bps int) Amount {
	if bps < 0 {
		panic(ErrNegativeAmount)
	}
	num := new(big.Int).Mul(a.Raw(), big.NewInt(int64(bpsDenominator+bps)))
	return NewAmount(a.token, ceilDiv(num, big.NewInt(bpsDenominator)))
}

// SubBps deflates the amount by bps basis points, rounding down.
func (a Amount) SubBps(bps int) Amount {
	if bps < 0 || bps > bpsDenominator {
		panic(fmt.Sprintf("asset: bps %d out of range", bps))
	}
	num := new(big.Int).Mul(a.Raw(), big.NewInt(int64(bpsDenominator-bps)))
	return NewAmount(a.token, num.Div(num, big.NewInt(bpsDenominator)))
}

// Split divides a into n parts; the remainder goes to the last part so the
// parts always sum to a.
func (a Amount) Split(n int) ([]Amount, error) {
	if n <= 0 {
		return nil, ErrDivisionByZero
	}
	size, rem := new(big.Int).QuoRem(a.Raw(), big.NewInt(int64(n)), new(big.Int))
	parts := make([]Amount, n)
	for i := range parts {
		parts[i] = NewAmount(a.token, size)
	}
	parts[n-1] = NewAmount(a.token, new(big.Int).Add(size, rem))
	return parts, nil
}

// Convert maps a into token `to` at the rate given by a pair of equivalent
// amounts (from, fromEquivalent), rounding up. It answers "how much of `to`
// matches a, if from buys fromEquivalent".
func (a Amount) Convert(from, fromEquivalent Amount) (Amount, error) {
	if err := a.sameToken(fromEquivalent); err != nil {
		return Amount{}, err
	}
	if fromEquivalent.IsZero() {
		return Amount{}, ErrDivisionByZero
	}
	num := new(big.Int).Mul(a.Raw(), from.Raw())
	return NewAmount(from.token, ceilDiv(num, fromEquivalent.Raw())), nil
}

// ToDecimal converts to a human-scale decimal. Boundary use only.
func (a Amount) ToDecimal() decimal.Decimal {
	if a.raw == nil || a.token == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(a.raw, -int32(a.token.Decimals()))
}

// ParseDecimal converts a human-scale decimal into an Amount.
func ParseDecimal(token *Token, d decimal.Decimal) (Amount, error) {
	if token == nil {
		return Amount{}, ErrNilToken
	}
	if d.IsNegative() {
		return Amount{}, ErrNegativeAmount
	}
	scaled := d.Shift(int32(token.Decimals()))
	if !scaled.Equal(scaled.Truncate(0)) {
		return Amount{}, ErrTooManyDecimals
	}
	return NewAmount(token, scaled.BigInt()), nil
}

// ParseString parses a decimal string such as "1078.5".
func ParseString(token *Token, s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("asset: invalid decimal string %q: %w", s, err)
	}
	return ParseDecimal(token, d)
}

// String renders e.g. "50 TKN".
func (a Amount) String() string {
	if a.token == nil {
		return "0 ???"
	}
	return a.ToDecimal().String() + " " + a.token.Symbol()
}

func (a Amount) sameToken(b Amount) error {
	if a.token == nil || b.token == nil {
		return ErrNilToken
	}
	if !a.token.Equals(b.token) {
		return fmt.Errorf("%w: %s vs %s", ErrTokenMismatch, a.token.Symbol(), b.token.Symbol())
	}
	return nil
}

func ceilDiv(num, den *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}
