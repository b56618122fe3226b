package model

import (
	"math"
	"strings"
	"time"
)

// TokenType classifies a transaction.
type TokenType string

// Known token types. Anything else parses as TokenOther.
const (
	TokenPrompt     TokenType = "prompt"
	TokenCompletion TokenType = "completion"
	TokenCredits    TokenType = "credits"
	TokenOther      TokenType = "other"
)

// ParseTokenType maps a stored classification onto the closed set.
func ParseTokenType(s string) TokenType {
	switch t := TokenType(strings.ToLower(strings.TrimSpace(s))); t {
	case TokenPrompt, TokenCompletion, TokenCredits:
		return t
	default:
		return TokenOther
	}
}

// MicroUnitsPerCurrency converts stored raw amounts into currency units.
const MicroUnitsPerCurrency = 1_000_000

// Transaction is one token usage event. It is read-only to this service.
type Transaction struct {
	ID         string
	UserID     string
	CreatedAt  *time.Time
	TokenType  TokenType
	TokenValue float64
	RawAmount  float64
	Model      string
}

// TokenMagnitude is |TokenValue| rounded to the nearest integer. Debits are
// stored as negative values.
func (t Transaction) TokenMagnitude() int64 {
	return int64(math.Round(math.Abs(t.TokenValue)))
}

// Cost is |RawAmount| in currency units.
func (t Transaction) Cost() float64 {
	return math.Abs(t.RawAmount) / MicroUnitsPerCurrency
}
