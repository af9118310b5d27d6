package id

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/mercata-mcp/internal/errors"
)

// ZeroAddress is the unprefixed zero account. Staking into it opens a new escrow.
var ZeroAddress = strings.TrimPrefix(common.Address{}.Hex(), "0x")

// IsAddress reports whether input is a 20-byte hex account, with or without 0x.
func IsAddress(input string) bool {
	return common.IsHexAddress(strings.TrimSpace(input))
}

// ParseAddress validates an account address and returns it in the marketplace
// form: lowercase hex without the 0x prefix.
func ParseAddress(field, input string) (string, error) {
	v := strings.TrimSpace(input)
	if !common.IsHexAddress(v) {
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("%s must be a 40 character hex address", field))
	}
	return strings.ToLower(strings.TrimPrefix(common.HexToAddress(v).Hex(), "0x")), nil
}
