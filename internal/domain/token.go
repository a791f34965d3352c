package domain

import (
	"bytes"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// tokenRefPattern is the accepted wire form of a token identifier after
// lowercasing: a 20-byte hex contract and a decimal token id.
var tokenRefPattern = regexp.MustCompile(`^0x[a-f0-9]{40}:[0-9]+$`)

// maxTokenIDDigits bounds token ids to what fits a NUMERIC(78,0) column.
const maxTokenIDDigits = 78

// TokenRef identifies a single token by contract and numeric id.
type TokenRef struct {
	Contract common.Address
	TokenID  string // decimal, no sign, no leading '+'
}

// ParseTokenRef parses "0x<contract>:<tokenId>". Input is lowercased first, so
// checksummed addresses are accepted.
func ParseTokenRef(s string) (TokenRef, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !tokenRefPattern.MatchString(s) {
		return TokenRef{}, fmt.Errorf("%w: token %q must match 0x<40 hex>:<digits>", ErrInvalidInput, s)
	}
	contract, id, _ := strings.Cut(s, ":")
	id = normalizeTokenID(id)
	if len(id) > maxTokenIDDigits {
		return TokenRef{}, fmt.Errorf("%w: token id has more than %d digits", ErrInvalidInput, maxTokenIDDigits)
	}
	return TokenRef{Contract: common.HexToAddress(contract), TokenID: id}, nil
}

// String renders the token as "0x<lowercase contract>:<tokenId>".
func (t TokenRef) String() string {
	return strings.ToLower(t.Contract.Hex()) + ":" + t.TokenID
}

// normalizeTokenID strips leading zeros so "007" and "7" compare and store
// identically.
func normalizeTokenID(id string) string {
	id = strings.TrimLeft(id, "0")
	if id == "" {
		return "0"
	}
	return id
}

// Cursor is the composite (contract, token id) key that token-set pagination
// advances over.
type Cursor = TokenRef

// CompareTokenIDs compares two decimal token ids numerically.
func CompareTokenIDs(a, b string) int {
	x, okX := new(big.Int).SetString(a, 10)
	y, okY := new(big.Int).SetString(b, 10)
	if !okX || !okY {
		return strings.Compare(a, b)
	}
	return x.Cmp(y)
}

// CompareRefs orders tokens by contract bytes, then numeric token id. This is
// the same order Postgres applies to (bytea, numeric).
func CompareRefs(a, b TokenRef) int {
	if c := bytes.Compare(a.Contract.Bytes(), b.Contract.Bytes()); c != 0 {
		return c
	}
	return CompareTokenIDs(a.TokenID, b.TokenID)
}

// TokenSetID names the set of tokens an order targets.
type TokenSetID string

const singletonTokenSetPrefix = "token:"

// IsSingleton reports whether the set holds exactly one token
// ("token:<contract>:<tokenId>").
func (id TokenSetID) IsSingleton() bool {
	return strings.HasPrefix(string(id), singletonTokenSetPrefix)
}

// SingletonTokenSet returns the token-set id of a single-token set.
func SingletonTokenSet(ref TokenRef) TokenSetID {
	return TokenSetID(singletonTokenSetPrefix + ref.String())
}

// Token holds the flag state of a token.
type Token struct {
	Ref            TokenRef
	CollectionID   string
	IsFlagged      bool
	LastFlagUpdate *time.Time
	LastFlagChange *time.Time
}

// FlagUpdate is a write of a token's flag fields. ChangedAt is nil when the
// flag value did not change.
type FlagUpdate struct {
	Ref       TokenRef
	Flagged   bool
	UpdatedAt time.Time
	ChangedAt *time.Time
}

// Collection is the subset of collection metadata the indexer reads.
type Collection struct {
	ID        string
	Contract  common.Address
	Name      string
	Community *string
}
