package auth

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Common errors returned by the authentication subsystem.
var (
	ErrMissingToken    = errors.New("missing bearer token")
	ErrMalformedToken  = errors.New("malformed DID token")
	ErrInvalidToken    = errors.New("invalid DID token")
	ErrTokenExpired    = errors.New("DID token expired")
	ErrTokenNotYet     = errors.New("DID token not yet valid")
	ErrAudienceInvalid = errors.New("DID token audience mismatch")
	ErrMissingAddress  = errors.New("missing wallet address header")
)

// Mode enumerates the supported authentication providers.
type Mode string

const (
	// ModeDisabled trusts the X-Wallet-Address header. Local development only.
	ModeDisabled Mode = "disabled"
	// ModeMagic verifies Magic DID tokens sent as bearer tokens.
	ModeMagic Mode = "magic"
)

// WalletHeader carries the caller address when authentication is disabled.
const WalletHeader = "X-Wallet-Address"

// Config configures the authentication service.
type Config struct {
	Mode Mode
	// Audience, when set, must equal the token's aud claim.
	Audience string
	// ClockSkew is the grace applied to ext and nbf checks.
	ClockSkew time.Duration
}

// Subject identifies the wallet user behind a request.
type Subject struct {
	Address   common.Address `json:"address"`
	Issuer    string         `json:"issuer"`
	ExpiresAt time.Time      `json:"expires_at,omitempty"`
}

// Claim is the signed part of a DID token.
type Claim struct {
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"ext"`
	Issuer    string `json:"iss"`
	Subject   string `json:"sub"`
	Audience  string `json:"aud"`
	NotBefore int64  `json:"nbf"`
	TokenID   string `json:"tid"`
	Add       string `json:"add"`
}
