package domain

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTokenRef(t *testing.T) {
	ref, err := ParseTokenRef("0xBC4CA0EdA7647A8aB7C2061c2E118A18a936f13D:0042")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xbc4ca0eda7647a8ab7c2061c2e118a18a936f13d"), ref.Contract)
	assert.Equal(t, "42", ref.TokenID)
	assert.Equal(t, "0xbc4ca0eda7647a8ab7c2061c2e118a18a936f13d:42", ref.String())
}

func TestParseTokenRefRejectsMalformedInput(t *testing.T) {
	cases := map[string]string{
		"missing id":      "0xbc4ca0eda7647a8ab7c2061c2e118a18a936f13d",
		"empty id":        "0xbc4ca0eda7647a8ab7c2061c2e118a18a936f13d:",
		"short contract":  "0xbc4ca0:1",
		"non-hex":         "0xzz4ca0eda7647a8ab7c2061c2e118a18a936f13d:1",
		"negative id":     "0xbc4ca0eda7647a8ab7c2061c2e118a18a936f13d:-1",
		"no 0x prefix":    "bc4ca0eda7647a8ab7c2061c2e118a18a936f13d:1",
		"trailing junk":   "0xbc4ca0eda7647a8ab7c2061c2e118a18a936f13d:1:2",
		"id over 78 long": "0xbc4ca0eda7647a8ab7c2061c2e118a18a936f13d:1234567890123456789012345678901234567890123456789012345678901234567890123456789",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseTokenRef(in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidInput))
		})
	}
}

func TestCompareRefsOrdersNumerically(t *testing.T) {
	a := common.HexToAddress("0x0000000000000000000000000000000000000001")
	b := common.HexToAddress("0x0000000000000000000000000000000000000002")

	assert.Negative(t, CompareRefs(TokenRef{a, "9"}, TokenRef{a, "10"}))
	assert.Positive(t, CompareRefs(TokenRef{b, "1"}, TokenRef{a, "999"}))
	assert.Zero(t, CompareRefs(TokenRef{a, "7"}, TokenRef{a, "7"}))
}

func TestTokenSetSingleton(t *testing.T) {
	ref := TokenRef{Contract: common.HexToAddress("0x01"), TokenID: "5"}
	assert.True(t, SingletonTokenSet(ref).IsSingleton())
	assert.False(t, TokenSetID("contract:0x0000000000000000000000000000000000000001").IsSingleton())
	assert.False(t, TokenSetID("list:0xabc").IsSingleton())
}
