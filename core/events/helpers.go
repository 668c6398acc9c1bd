package events

import (
	"strconv"
	"strings"

	"github.com/holiman/uint256"

	"stakefarm/crypto"
)

func normalizeAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return ""
	}
	return strings.ToUpper(trimmed)
}

func formatAmount(value *uint256.Int) string {
	if value == nil {
		return "0"
	}
	return value.Dec()
}

func formatPool(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func formatParty(addr [20]byte) string {
	return crypto.MustNewAddress(crypto.FarmPrefix, addr[:]).String()
}

func zeroAddress(addr [20]byte) bool {
	for _, b := range addr {
		if b != 0 {
			return false
		}
	}
	return true
}
