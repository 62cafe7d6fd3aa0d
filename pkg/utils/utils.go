package utils

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"plstrdash/pkg/errs"

	"github.com/shopspring/decimal"
)

// DisplayDecimals is the rounding applied to every amount shown on screen.
const DisplayDecimals = 2

const secondsPerDay = 86400

// Plain digits, or digits grouped in threes by commas, with an optional
// fractional part.
var (
	plainAmount   = regexp.MustCompile(`^\d+(\.\d+)?$`)
	groupedAmount = regexp.MustCompile(`^\d{1,3}(,\d{3})+(\.\d+)?$`)
)

func TruncateString(str string, num int) string {
	if len(str) <= num {
		return str
	}
	if num <= 3 {
		return str[:num]
	}
	return str[0:num-3] + "..."
}

// ShortenAddress renders 0x1234...abcd.
func ShortenAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

func AddCommas(s string) string {
	if len(s) == 0 {
		return s
	}
	parts := strings.Split(s, ".")
	integerPart := parts[0]
	sign := ""
	if strings.HasPrefix(integerPart, "-") {
		sign = "-"
		integerPart = integerPart[1:]
	}

	n := len(integerPart)
	if n <= 3 {
		return s
	}

	var result strings.Builder
	result.WriteString(sign)
	remainder := n % 3
	if remainder > 0 {
		result.WriteString(integerPart[:remainder])
		result.WriteString(",")
	}
	for i := remainder; i < n; i += 3 {
		if i > remainder {
			result.WriteString(",")
		}
		result.WriteString(integerPart[i : i+3])
	}

	if len(parts) > 1 {
		result.WriteString(".")
		result.WriteString(parts[1])
	}
	return result.String()
}

// ToDecimalDisplay converts base units into a comma grouped string rounded to
// two places. A nil value renders as "-" so a missing read never looks like zero.
func ToDecimalDisplay(v *big.Int, decimals int) string {
	if v == nil {
		return "-"
	}
	d := decimal.NewFromBigInt(v, -int32(decimals))
	return AddCommas(d.StringFixed(DisplayDecimals))
}

// FormatUnits converts base units into an exact decimal string.
func FormatUnits(v *big.Int, decimals int) string {
	if v == nil {
		return ""
	}
	return decimal.NewFromBigInt(v, -int32(decimals)).String()
}

// FromDecimalInput converts a human entered, non-negative decimal string into
// base units. Commas are accepted only as correctly placed thousands
// separators; exponents and signs are rejected. More fractional digits than
// the token carries are rejected instead of truncated.
func FromDecimalInput(s string, decimals int) (*big.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, errs.Errorf(errs.InvalidInput, "parse amount", "amount is empty")
	}
	if !plainAmount.MatchString(trimmed) && !groupedAmount.MatchString(trimmed) {
		return nil, errs.Errorf(errs.InvalidInput, "parse amount", "%q is not a plain decimal number", s)
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(trimmed, ",", ""))
	if err != nil {
		return nil, errs.Errorf(errs.InvalidInput, "parse amount", "%q is not a number", s)
	}
	shifted := d.Shift(int32(decimals))
	if !shifted.IsInteger() {
		return nil, errs.Errorf(errs.InvalidInput, "parse amount", "%q has more than %d decimal places", s, decimals)
	}
	return shifted.BigInt(), nil
}

// ParseAmount is FromDecimalInput for values sent in a transaction: zero is
// rejected as well.
func ParseAmount(s string, decimals int) (*big.Int, error) {
	v, err := FromDecimalInput(s, decimals)
	if err != nil {
		return nil, err
	}
	if v.Sign() <= 0 {
		return nil, errs.Errorf(errs.InvalidInput, "parse amount", "amount must be greater than zero")
	}
	return v, nil
}

// RatioDisplay renders a 1e18 scaled ratio.
func RatioDisplay(ratio *big.Int) string {
	return ToDecimalDisplay(ratio, 18)
}

// RatioFloat is for plotting only.
func RatioFloat(ratio *big.Int) float64 {
	if ratio == nil {
		return 0
	}
	f, _ := decimal.NewFromBigInt(ratio, -18).Float64()
	return f
}

// WholeDays floors a duration in seconds to days, never below zero.
func WholeDays(seconds *big.Int) int64 {
	if seconds == nil || seconds.Sign() <= 0 {
		return 0
	}
	return new(big.Int).Quo(seconds, big.NewInt(secondsPerDay)).Int64()
}

// FormatDate renders a unix timestamp in local time.
func FormatDate(unix int64) string {
	if unix <= 0 {
		return "Never"
	}
	return time.Unix(unix, 0).Local().Format("2006-01-02 15:04:05")
}

// FormatTime is FormatDate for time values.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "Never"
	}
	return FormatDate(t.Unix())
}

func FormatFloat(f float64, decimals int) string {
	return AddCommas(fmt.Sprintf("%.*f", decimals, f))
}
