package slip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize_StripsNoiseAndPreservesOrder(t *testing.T) {
	tokens := Tokenize("Ref: TXN-998877,\nAmount (MVR) 1,250.00")
	assert.Equal(t, []string{"Ref", "TXN-998877", "Amount", "MVR", "125000"}, tokens)
}

func TestTokenize_Empty(t *testing.T) {
	assert.Empty(t, Tokenize(""))
	assert.Empty(t, Tokenize("  \n\t ### !!! "))
}

func TestDetectReference_AnchoredMatchBeatsLongestToken(t *testing.T) {
	got := DetectReference("INV2024 TXN998877 MVR", "998877")
	require.NotNil(t, got)
	assert.Equal(t, "TXN998877", *got)
}

func TestDetectReference_TruncatedTokenMatchesEnteredReference(t *testing.T) {
	// OCR cropped the token; the token is a substring of the entered reference.
	got := DetectReference("paid via 99887 today-ok-longest-token", "TXN998877")
	require.NotNil(t, got)
	assert.Equal(t, "99887", *got)
}

func TestDetectReference_LongestTokenFallback(t *testing.T) {
	got := DetectReference("A1 TRANSFER12345 B2", "")
	require.NotNil(t, got)
	assert.Equal(t, "TRANSFER12345", *got)
}

func TestDetectReference_LongestTokenTieBrokenByFirstOccurrence(t *testing.T) {
	got := DetectReference("AAAA1 BBBB2", "")
	require.NotNil(t, got)
	assert.Equal(t, "AAAA1", *got)
}

func TestDetectReference_NoAnchoredHitFallsBack(t *testing.T) {
	got := DetectReference("INV2024 TXN998877 MVR", "000000")
	require.NotNil(t, got)
	assert.Equal(t, "TXN998877", *got)
}

func TestDetectReference_NoTokens(t *testing.T) {
	assert.Nil(t, DetectReference("", "998877"))
	assert.Nil(t, DetectReference("!!! ###", "998877"))
}

func TestReferencesMatch(t *testing.T) {
	assert.True(t, ReferencesMatch("TXN998877", "998877"))
	assert.True(t, ReferencesMatch("998877", "TXN998877"))
	assert.True(t, ReferencesMatch("txn998877", "TXN998877"))
	assert.False(t, ReferencesMatch("TXN998877", "000000"))
	assert.False(t, ReferencesMatch("", "998877"))
	assert.False(t, ReferencesMatch("TXN998877", ""))
}
