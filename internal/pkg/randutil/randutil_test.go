package randutil

import (
	"regexp"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSixDigitCodeRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		code, err := SixDigitCode()
		require.NoError(t, err)
		require.Len(t, code, 6)
		n, err := strconv.Atoi(code)
		require.NoError(t, err)
		require.GreaterOrEqual(t, n, 100000)
		require.LessOrEqual(t, n, 999999)
	}
}

func TestAlphanumericCode(t *testing.T) {
	re := regexp.MustCompile(`^[A-Z0-9]{8}$`)
	code, err := AlphanumericCode(8)
	require.NoError(t, err)
	require.Regexp(t, re, code)
}

func TestToken(t *testing.T) {
	a, err := Token(32)
	require.NoError(t, err)
	b, err := Token(32)
	require.NoError(t, err)
	require.Len(t, a, 64)
	require.NotEqual(t, a, b)
}
