package upstream

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrNoRoute marks a provider answering that it has no route.
var ErrNoRoute = errors.New("no route")

// NoRoute wraps a provider message as ErrNoRoute.
func NoRoute(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNoRoute, fmt.Sprintf(format, args...))
}

// ParseAmount parses a decimal integer string.
func ParseAmount(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("malformed %s %q", field, s)
	}
	return v, nil
}

// ParseValue parses a tx value given as decimal or 0x hex; empty is zero.
func ParseValue(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int), nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return hexutil.DecodeBig(s)
	}
	return ParseAmount("value", s)
}

// ParseAddress rejects anything that is not a non-zero hex address.
func ParseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("malformed %s %q", field, s)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("zero %s", field)
	}
	return addr, nil
}

// ParseCalldata decodes 0x-prefixed calldata.
func ParseCalldata(s string) ([]byte, error) {
	data, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("malformed calldata: %w", err)
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("calldata too short")
	}
	return data, nil
}

// ParseGas accepts gas as a JSON number or string.
func ParseGas(v any) uint64 {
	switch g := v.(type) {
	case float64:
		if g > 0 {
			return uint64(g)
		}
	case string:
		n, err := strconv.ParseUint(strings.TrimSpace(g), 10, 64)
		if err == nil {
			return n
		}
	}
	return 0
}

// BpsToPercent renders basis points as a percent string (100 -> "1").
func BpsToPercent(bps int) string {
	return strconv.FormatFloat(float64(bps)/100, 'f', -1, 64)
}
