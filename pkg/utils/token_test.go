package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateInviteCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code, err := GenerateInviteCode()
		require.NoError(t, err)
		assert.Len(t, code, InviteCodeLength)
		for _, c := range code {
			assert.True(t, strings.ContainsRune(inviteCodeAlphabet, c), "unexpected character %q in code %s", c, code)
		}
		seen[code] = true
	}
	// 200 draws from a 31^5 space should essentially never collide down to one value.
	assert.Greater(t, len(seen), 150)
}

func TestInviteCodeAlphabetAvoidsAmbiguity(t *testing.T) {
	for _, c := range "ILO01" {
		assert.False(t, strings.ContainsRune(inviteCodeAlphabet, c))
	}
}
