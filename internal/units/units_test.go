package units

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUnits(t *testing.T) {
	cases := map[string]string{
		"1":          "1000000000000000000",
		"0.1":        "100000000000000000",
		".5":         "500000000000000000",
		"12.000001":  "12000001000000000000",
		"-2":         "-2000000000000000000",
		"0":          "0",
		" 3.25 ":     "3250000000000000000",
		"0.00000001": "10000000000",
	}
	for in, want := range cases {
		got, err := ParseUnits(in, 18)
		require.NoError(t, err, in)
		assert.Equal(t, want, got.String(), in)
	}

	for _, bad := range []string{"", "abc", "1.2.3", "1e18", "0.1234567"} {
		_, err := ParseUnits(bad, 6)
		assert.Error(t, err, bad)
	}
}

func TestFormatEther(t *testing.T) {
	wei := func(s string) *big.Int {
		v, ok := new(big.Int).SetString(s, 10)
		require.True(t, ok)
		return v
	}
	assert.Equal(t, "0", FormatEther(big.NewInt(0)))
	assert.Equal(t, "1", FormatEther(wei("1000000000000000000")))
	assert.Equal(t, "0.5", FormatEther(wei("500000000000000000")))
	assert.Equal(t, "0.000000000000000001", FormatEther(big.NewInt(1)))
	assert.Equal(t, "123.456", FormatEther(wei("123456000000000000000")))
	assert.Equal(t, "-1.5", FormatEther(wei("-1500000000000000000")))
	assert.Equal(t, "0", FormatEther(nil))
}

func TestFormatUnitsRoundTrip(t *testing.T) {
	for _, amount := range []string{"0.1", "42", "7.000123"} {
		v, err := ParseUnits(amount, 6)
		require.NoError(t, err)
		assert.Equal(t, amount, FormatUnits(v, 6))
	}
}
