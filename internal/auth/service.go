package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"SafeSwap-Chain/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// defaultClockSkew 是 ext/nbf 校验的默认宽限期。
const defaultClockSkew = 30 * time.Second

// Service 负责识别钱包用户。
type Service struct {
	mode     Mode
	audience string
	skew     time.Duration
	now      func() time.Time
	audit    *slog.Logger
}

// NewService 构造身份认证服务实例。
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeDisabled
	}
	switch mode {
	case ModeDisabled, ModeMagic:
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}
	skew := cfg.ClockSkew
	if skew <= 0 {
		skew = defaultClockSkew
	}
	return &Service{
		mode:     mode,
		audience: strings.TrimSpace(cfg.Audience),
		skew:     skew,
		now:      time.Now,
		audit:    logger.Audit(),
	}, nil
}

// Mode 返回当前身份认证服务的工作模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// VerifyDIDToken 校验 Magic DID 令牌并返回其主体。
func (s *Service) VerifyDIDToken(token string) (*Subject, error) {
	parsed, err := ParseDIDToken(token)
	if err != nil {
		return nil, err
	}
	return parsed.Validate(s.now(), s.skew, s.audience)
}

// AuthenticateRequest 从请求头中识别调用者。
func (s *Service) AuthenticateRequest(_ context.Context, r *http.Request) (*Subject, error) {
	if s == nil || s.mode == ModeDisabled {
		raw := strings.TrimSpace(r.Header.Get(WalletHeader))
		if raw == "" {
			return nil, ErrMissingAddress
		}
		if !common.IsHexAddress(raw) {
			return nil, fmt.Errorf("%w: %q is not an address", ErrInvalidToken, raw)
		}
		address := common.HexToAddress(raw)
		return &Subject{Address: address, Issuer: didPrefix + address.Hex()}, nil
	}
	token, err := bearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return nil, err
	}
	return s.VerifyDIDToken(token)
}

func bearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(token), nil
}
