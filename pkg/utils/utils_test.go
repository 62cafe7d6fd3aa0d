package utils

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"plstrdash/pkg/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncateString(t *testing.T) {
	tests := []struct {
		input    string
		length   int
		expected string
	}{
		{"hello world", 5, "he..."},
		{"short", 10, "short"},
		{"exact", 5, "exact"},
		{"", 5, ""},
		{"abc", 2, "ab"},
		{"abc", 3, "abc"},
	}

	for _, tt := range tests {
		result := TruncateString(tt.input, tt.length)
		if result != tt.expected {
			t.Errorf("TruncateString(%q, %d) = %q; want %q", tt.input, tt.length, result, tt.expected)
		}
	}
}

func TestAddCommas(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"123", "123"},
		{"1234", "1,234"},
		{"123456", "123,456"},
		{"1234567", "1,234,567"},
		{"1234.56", "1,234.56"},
		{"-1234", "-1,234"},
		{"", ""},
	}

	for _, tt := range tests {
		result := AddCommas(tt.input)
		if result != tt.expected {
			t.Errorf("AddCommas(%q) = %q; want %q", tt.input, result, tt.expected)
		}
	}
}

func ether(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic(s)
	}
	return v
}

func TestToDecimalDisplay(t *testing.T) {
	tests := []struct {
		input    *big.Int
		expected string
	}{
		{big.NewInt(0), "0.00"},
		{ether("1000000000000000000"), "1.00"},
		{ether("1234567800000000000000"), "1,234.57"},
		{ether("5000000000000000"), "0.01"},
		{ether("4999999999999999"), "0.00"},
		{ether("123456789012345678901234567890"), "123,456,789,012.35"},
		{nil, "-"},
	}

	for _, tt := range tests {
		result := ToDecimalDisplay(tt.input, 18)
		if result != tt.expected {
			t.Errorf("ToDecimalDisplay(%v) = %q; want %q", tt.input, result, tt.expected)
		}
	}
}

func TestDisplayRoundTrip(t *testing.T) {
	values := []string{
		"0",
		"1",
		"999999999999999999",
		"1000000000000000000",
		"1234567800000000000000",
		"5000000000000000",
		"115792089237316195423570985008687907853269984665640564039457584007913129639935",
	}
	for _, s := range values {
		v := ether(s)
		shown := ToDecimalDisplay(v, 18)
		back, err := FromDecimalInput(shown, 18)
		require.NoError(t, err, shown)
		assert.Equal(t, shown, ToDecimalDisplay(back, 18), s)
	}
}

func TestFromDecimalInput(t *testing.T) {
	v, err := FromDecimalInput("1,000.5", 18)
	require.NoError(t, err)
	assert.Equal(t, "1000500000000000000000", v.String())

	v, err = FromDecimalInput(" 0.000000000000000001 ", 18)
	require.NoError(t, err)
	assert.Equal(t, "1", v.String())

	_, err = FromDecimalInput("0.0000000000000000001", 18)
	assert.True(t, errors.Is(err, errs.ErrInvalidInput))

	v, err = FromDecimalInput("0", 18)
	require.NoError(t, err)
	assert.Equal(t, 0, v.Sign())
}

func TestParseAmountRejectsBadInput(t *testing.T) {
	for _, in := range []string{
		"", "0", "-5", "abc", "0.00", "1.2.3",
		"1,5", "1,2,3", "12,34", "1,0000", ",100", "1,000,",
		"1e3", "1E-18", "+5", "0x10", ".5", "5.", "1 000",
	} {
		_, err := ParseAmount(in, 18)
		assert.Truef(t, errors.Is(err, errs.ErrInvalidInput), "input %q: %v", in, err)
	}

	v, err := ParseAmount("100", 18)
	require.NoError(t, err)
	assert.Equal(t, "100000000000000000000", v.String())

	v, err = ParseAmount("12,345,678.5", 18)
	require.NoError(t, err)
	assert.Equal(t, "12345678500000000000000000", v.String())
}

func TestFormatUnits(t *testing.T) {
	assert.Equal(t, "1.5", FormatUnits(ether("1500000000000000000"), 18))
	assert.Equal(t, "0", FormatUnits(big.NewInt(0), 18))
	assert.Equal(t, "", FormatUnits(nil, 18))
}

func TestWholeDays(t *testing.T) {
	assert.Equal(t, int64(0), WholeDays(nil))
	assert.Equal(t, int64(0), WholeDays(big.NewInt(-5)))
	assert.Equal(t, int64(0), WholeDays(big.NewInt(86399)))
	assert.Equal(t, int64(2), WholeDays(big.NewInt(2*86400+10)))
}

func TestFormatDate(t *testing.T) {
	assert.Equal(t, "Never", FormatDate(0))
	ts := int64(1700000000)
	assert.Equal(t, time.Unix(ts, 0).Local().Format("2006-01-02 15:04:05"), FormatDate(ts))
	assert.Equal(t, "Never", FormatTime(time.Time{}))
}

func TestShortenAddress(t *testing.T) {
	assert.Equal(t, "0x6c1d...090e", ShortenAddress("0x6c1dA678A1B615f673208e74AB3510c22117090e"))
	assert.Equal(t, "0x12", ShortenAddress("0x12"))
}

func TestFormatFloat(t *testing.T) {
	assert.Equal(t, "1,234.57", FormatFloat(1234.5678, 2))
	assert.Equal(t, "0.00", FormatFloat(0, 2))
}
