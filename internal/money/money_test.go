package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Separators(t *testing.T) {
	for _, in := range []string{"12,50", "12.50", " 12.5 ", "12,5"} {
		got, err := Parse(in, Rules{})
		require.NoError(t, err, in)
		assert.Equal(t, int64(1250), got, in)
	}
}

func TestParse_Rejections(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		rules Rules
		want  error
	}{
		{"letters", "abc", Rules{}, ErrNotANumber},
		{"empty", "  ", Rules{}, ErrNotANumber},
		{"exponent", "1e3", Rules{}, ErrNotANumber},
		{"three decimals", "12.505", Rules{}, ErrTooManyDecimals},
		{"zero", "0", Rules{}, ErrZero},
		{"zero with decimals", "0.00", Rules{}, ErrZero},
		{"negative", "-5", Rules{AllowZero: true}, ErrNegative},
		{"above ceiling", "1000.01", Rules{Max: 100000}, ErrTooLarge},
		{"negative above ceiling", "-1000.01", Rules{AllowNegative: true, Max: 100000}, ErrTooLarge},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.in, tc.rules)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestParse_Allowances(t *testing.T) {
	got, err := Parse("0", Rules{AllowZero: true})
	require.NoError(t, err)
	assert.Equal(t, int64(0), got)

	got, err = Parse("-3,10", Rules{AllowNegative: true})
	require.NoError(t, err)
	assert.Equal(t, int64(-310), got)

	got, err = Parse("1000", Rules{Max: 100000})
	require.NoError(t, err)
	assert.Equal(t, int64(100000), got)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "100.50 EUR", Format(10050, "EUR"))
	assert.Equal(t, "-0.05 USD", Format(-5, "USD"))
	assert.Equal(t, "+12.00 USD", FormatSigned(1200, "USD"))
	assert.Equal(t, "0.00", Format(0, ""))
}
