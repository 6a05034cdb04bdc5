package util

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestSanitizeText(t *testing.T) {
	t.Parallel()

	t.Run("flattens newlines and drops control characters", func(t *testing.T) {
		actual := SanitizeText(" 401 on\n/reports\x1b[31m\x00 ", MaxReasonRunes)
		require.Equal(t, "401 on /reports[31m", actual)
	})

	t.Run("strips zero-width characters", func(t *testing.T) {
		actual := SanitizeText("token\u200B expired\uFEFF", MaxReasonRunes)
		require.Equal(t, "token expired", actual)
	})

	t.Run("truncates by runes", func(t *testing.T) {
		actual := SanitizeText(strings.Repeat("ñ", 300), MaxReasonRunes)
		require.Equal(t, MaxReasonRunes, utf8.RuneCountInString(actual))
		require.True(t, utf8.ValidString(actual))
	})

	t.Run("repairs invalid utf8", func(t *testing.T) {
		actual := SanitizeText("bad\xffbyte", 0)
		require.Equal(t, "badbyte", actual)
	})

	t.Run("empty stays empty", func(t *testing.T) {
		require.Empty(t, SanitizeText("  \u200B ", MaxReasonRunes))
	})
}

func TestSanitizeUsername(t *testing.T) {
	t.Parallel()

	require.Equal(t, "40123456", SanitizeUsername(" 40123456\u200D\n"))
	require.Equal(t, "ana quispe", SanitizeUsername("ana quispe"))
	require.Len(t, []rune(SanitizeUsername(strings.Repeat("x", 500))), MaxUsernameRunes)
}
