package auth

import (
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// didPrefix 是 Magic 签发者标识的前缀。
const didPrefix = "did:ethr:"

// DIDToken 是解码后的 Magic DID 令牌：签名与原始 claim 文本。
type DIDToken struct {
	Proof    []byte
	RawClaim string
	Claim    Claim
}

// ParseDIDToken 解码 base64 编码的 [proof, claim] 令牌，不做校验。
func ParseDIDToken(token string) (*DIDToken, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}
	raw, err := decodeBase64(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	var parts []string
	if err := json.Unmarshal(raw, &parts); err != nil || len(parts) != 2 {
		return nil, fmt.Errorf("%w: expected [proof, claim]", ErrMalformedToken)
	}
	proof, err := hexutil.Decode(parts[0])
	if err != nil || len(proof) != crypto.SignatureLength {
		return nil, fmt.Errorf("%w: proof is not a 65 byte signature", ErrMalformedToken)
	}
	var claim Claim
	if err := json.Unmarshal([]byte(parts[1]), &claim); err != nil {
		return nil, fmt.Errorf("%w: claim: %v", ErrMalformedToken, err)
	}
	return &DIDToken{Proof: proof, RawClaim: parts[1], Claim: claim}, nil
}

func decodeBase64(s string) ([]byte, error) {
	if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
		return raw, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// IssuerAddress 返回 iss 中携带的钱包地址。
func (t *DIDToken) IssuerAddress() (common.Address, error) {
	addr := strings.TrimPrefix(t.Claim.Issuer, didPrefix)
	if addr == t.Claim.Issuer || !common.IsHexAddress(addr) {
		return common.Address{}, fmt.Errorf("%w: issuer %q", ErrInvalidToken, t.Claim.Issuer)
	}
	return common.HexToAddress(addr), nil
}

// Signer 通过 personal_sign 规则从 proof 中恢复签名地址。
func (t *DIDToken) Signer() (common.Address, error) {
	sig := append([]byte(nil), t.Proof...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(t.RawClaim)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Validate 校验签名、签发者、有效期以及受众。
func (t *DIDToken) Validate(now time.Time, skew time.Duration, audience string) (*Subject, error) {
	issuer, err := t.IssuerAddress()
	if err != nil {
		return nil, err
	}
	signer, err := t.Signer()
	if err != nil {
		return nil, err
	}
	if signer != issuer {
		return nil, fmt.Errorf("%w: signature does not match issuer", ErrInvalidToken)
	}
	if t.Claim.ExpiresAt == 0 || now.After(time.Unix(t.Claim.ExpiresAt, 0).Add(skew)) {
		return nil, ErrTokenExpired
	}
	if t.Claim.NotBefore != 0 && now.Before(time.Unix(t.Claim.NotBefore, 0).Add(-skew)) {
		return nil, ErrTokenNotYet
	}
	if audience != "" && t.Claim.Audience != audience {
		return nil, ErrAudienceInvalid
	}
	return &Subject{
		Address:   issuer,
		Issuer:    t.Claim.Issuer,
		ExpiresAt: time.Unix(t.Claim.ExpiresAt, 0).UTC(),
	}, nil
}

// IssueDIDToken 使用 key 签发一个 Magic 兼容的 DID 令牌，供本地调试与测试使用。
func IssueDIDToken(key *ecdsa.PrivateKey, audience string, now time.Time, ttl time.Duration) (string, error) {
	address := crypto.PubkeyToAddress(key.PublicKey)
	claim := Claim{
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
		Issuer:    didPrefix + address.Hex(),
		Subject:   address.Hex(),
		Audience:  audience,
		NotBefore: now.Unix(),
		TokenID:   uuid.NewString(),
	}
	rawClaim, err := json.Marshal(claim)
	if err != nil {
		return "", err
	}
	sig, err := crypto.Sign(accounts.TextHash(rawClaim), key)
	if err != nil {
		return "", fmt.Errorf("sign claim: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	payload, err := json.Marshal([]string{hexutil.Encode(sig), string(rawClaim)})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(payload), nil
}
