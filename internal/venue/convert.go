package venue

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fundarb/internal/domain"
)

// NormalizeSide maps venue-native side tokens to the canonical side pair.
// Both order-direction vocabulary ("buy"/"sell") and position vocabulary
// ("long"/"short") are accepted, case-insensitively. Unrecognized input maps
// to SideUnknown; it never fails.
func NormalizeSide(s string) domain.Side {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "long":
		return domain.SideLong
	case "sell", "short":
		return domain.SideShort
	default:
		return domain.SideUnknown
	}
}

// ContractQuantity converts a coin-denominated quantity into a whole number
// of venue contracts, floor-rounded so the engine never over-orders. A
// non-positive contract size yields zero.
func ContractQuantity(qty, contractSize decimal.Decimal) decimal.Decimal {
	if contractSize.Sign() <= 0 {
		return decimal.Zero
	}
	return qty.Div(contractSize).Floor()
}

// quoteCurrencies are the recognized quote suffixes of the internal BASEQUOTE
// symbol form, longest first so "USDT" wins over "USD".
var quoteCurrencies = []string{"USDT", "USDC", "BUSD", "USD"}

// SplitSymbol splits an internal symbol like "BTCUSDT" into base and quote.
func SplitSymbol(symbol string) (base, quote string, err error) {
	for _, q := range quoteCurrencies {
		if strings.HasSuffix(symbol, q) && len(symbol) > len(q) {
			return symbol[:len(symbol)-len(q)], q, nil
		}
	}
	return "", "", fmt.Errorf("venue: cannot split symbol %q into base/quote", symbol)
}

// FormatSymbol converts the internal BASEQUOTE form into a venue's native
// instrument identifier. The mapping is bijective per venue: ParseSymbol is
// the exact inverse.
func FormatSymbol(v Name, symbol string) (string, error) {
	switch v {
	case Binance:
		// Binance USDⓈ-M futures use the plain concatenated form.
		return symbol, nil
	case OKX:
		base, quote, err := SplitSymbol(symbol)
		if err != nil {
			return "", err
		}
		return base + "-" + quote + "-SWAP", nil
	default:
		return "", fmt.Errorf("venue: unknown venue %q", v)
	}
}

// ParseSymbol converts a venue-native instrument identifier back into the
// internal BASEQUOTE form.
func ParseSymbol(v Name, native string) (string, error) {
	switch v {
	case Binance:
		return native, nil
	case OKX:
		parts := strings.Split(native, "-")
		if len(parts) != 3 || parts[2] != "SWAP" {
			return "", fmt.Errorf("venue: %q is not an okx swap instrument", native)
		}
		return parts[0] + parts[1], nil
	default:
		return "", fmt.Errorf("venue: unknown venue %q", v)
	}
}
