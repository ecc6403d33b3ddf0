// Package workflow sequences the wallet card actions: provisioning a Safe
// for a logged-in user, deploying it, reading its status, and initiating a
// CoW Protocol swap executed through the Safe.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"SafeSwap-Chain/internal/account"
	"SafeSwap-Chain/internal/cow"
	xerrors "SafeSwap-Chain/internal/errors"
	"SafeSwap-Chain/internal/safe"
	"SafeSwap-Chain/internal/web3"
	"SafeSwap-Chain/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// SaltMode selects how provisioning picks the Safe salt nonce.
type SaltMode string

const (
	SaltDeterministic SaltMode = "deterministic"
	SaltRandom        SaltMode = "random"
)

// SafeThreshold is the signing threshold of every provisioned Safe.
const SafeThreshold = 1

// SwapSettings is the fixed-direction sell order InitSwap places.
type SwapSettings struct {
	SellToken         common.Address
	SellTokenDecimals int
	BuyToken          common.Address
	BuyTokenDecimals  int
	Amount            string
	SlippageBps       int
	ValidFor          time.Duration
}

// Recorder receives the outcome of every sequence.
type Recorder interface {
	ObserveSequence(sequence, outcome string, elapsed time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) ObserveSequence(string, string, time.Duration) {}

// Network describes the chain the service is bound to, for display.
type Network struct {
	Name        string `json:"name"`
	ChainID     int64  `json:"chain_id"`
	NativeToken string `json:"native_token"`
	ShortName   string `json:"short_name,omitempty"`
}

// Config wires the service dependencies.
type Config struct {
	Chain      web3.Client
	Network    Network
	Deployment safe.Deployment
	Signer     *safe.Signer
	Trading    *cow.TradingSDK
	Accounts   account.Store
	Locker     account.Locker
	Swap       SwapSettings
	SaltMode   SaltMode
	Recorder   Recorder
	Logger     *slog.Logger
	// ConfirmTimeout bounds each wait for a mined transaction.
	ConfirmTimeout time.Duration
}

// Service runs the sequences. It is safe for concurrent use; sequences for
// one user are serialised by the locker.
type Service struct {
	chain          web3.Client
	network        Network
	deployment     safe.Deployment
	signer         *safe.Signer
	trading        *cow.TradingSDK
	accounts       account.Store
	locker         account.Locker
	swap           SwapSettings
	saltMode       SaltMode
	recorder       Recorder
	log            *slog.Logger
	audit          *slog.Logger
	confirmTimeout time.Duration
}

// NewService validates cfg and builds a Service. A nil Chain is accepted:
// every sequence then fails with CHAIN_UNAVAILABLE without side effects.
func NewService(cfg Config) (*Service, error) {
	if cfg.Accounts == nil {
		return nil, errors.New("workflow requires an account store")
	}
	if cfg.Signer == nil {
		return nil, errors.New("workflow requires the agent signer")
	}
	if cfg.Locker == nil {
		cfg.Locker = account.NewMemoryLocker()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = noopRecorder{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Named("workflow")
	}
	switch cfg.SaltMode {
	case "":
		cfg.SaltMode = SaltDeterministic
	case SaltDeterministic, SaltRandom:
	default:
		return nil, fmt.Errorf("unsupported salt mode %q", cfg.SaltMode)
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 3 * time.Minute
	}
	if cfg.Swap.SlippageBps == 0 {
		cfg.Swap.SlippageBps = cow.DefaultSlippageBps
	}
	if cfg.Swap.ValidFor <= 0 {
		cfg.Swap.ValidFor = cow.DefaultValidFor
	}
	return &Service{
		chain:          cfg.Chain,
		network:        cfg.Network,
		deployment:     cfg.Deployment,
		signer:         cfg.Signer,
		trading:        cfg.Trading,
		accounts:       cfg.Accounts,
		locker:         cfg.Locker,
		swap:           cfg.Swap,
		saltMode:       cfg.SaltMode,
		recorder:       cfg.Recorder,
		log:            cfg.Logger,
		audit:          logger.Audit(),
		confirmTimeout: cfg.ConfirmTimeout,
	}, nil
}

// Network returns the chain the service is bound to.
func (s *Service) Network() Network {
	return s.network
}

// AgentAddress returns the agent owner address.
func (s *Service) AgentAddress() common.Address {
	return s.signer.Address()
}

// Login records a session for user.
func (s *Service) Login(ctx context.Context, user common.Address) (*account.Account, error) {
	if user == (common.Address{}) {
		return nil, xerrors.New(xerrors.CodeUnauthenticated, "user address is required")
	}
	acct, err := s.accounts.Login(ctx, user)
	if err != nil {
		return nil, err
	}
	s.log.Info("user logged in", "user", user.Hex(), "state", acct.State)
	return acct, nil
}

// Logout clears the session of user. The Safe address is kept.
func (s *Service) Logout(ctx context.Context, user common.Address) error {
	if err := s.accounts.Logout(ctx, user); err != nil {
		return err
	}
	s.log.Info("user logged out", "user", user.Hex())
	return nil
}

// Account returns the stored session of user.
func (s *Service) Account(ctx context.Context, user common.Address) (*account.Account, error) {
	return s.accounts.Get(ctx, user)
}

// session loads the logged-in account of user or fails with SESSION_MISSING.
func (s *Service) session(ctx context.Context, user common.Address) (*account.Account, error) {
	if user == (common.Address{}) {
		return nil, xerrors.New(xerrors.CodeUnauthenticated, "user address is required")
	}
	acct, err := s.accounts.Get(ctx, user)
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeNotFound {
			return nil, xerrors.New(xerrors.CodeSessionMissing, "user is not logged in")
		}
		return nil, err
	}
	if !acct.LoggedIn {
		return nil, xerrors.New(xerrors.CodeSessionMissing, "user is not logged in")
	}
	return acct, nil
}

func (s *Service) requireChain() error {
	if s.chain == nil {
		return xerrors.New(xerrors.CodeChainUnavailable, "no chain client configured")
	}
	return nil
}

// begin checks the chain, takes the user lock and returns a finish func that
// releases it and reports the outcome.
func (s *Service) begin(ctx context.Context, sequence string, user common.Address) (func(error), error) {
	start := time.Now()
	if err := s.requireChain(); err != nil {
		s.recorder.ObserveSequence(sequence, outcomeOf(err), time.Since(start))
		return nil, err
	}
	release, err := s.locker.Acquire(ctx, user)
	if err != nil {
		s.recorder.ObserveSequence(sequence, outcomeOf(err), time.Since(start))
		return nil, err
	}
	return func(err error) {
		release()
		s.recorder.ObserveSequence(sequence, outcomeOf(err), time.Since(start))
		if err != nil {
			s.log.Error("sequence failed",
				"sequence", sequence,
				"user", user.Hex(),
				"code", string(xerrors.CodeOf(err)),
				"error", err.Error(),
			)
			s.audit.Warn("sequence_failed",
				"sequence", sequence,
				"user", user.Hex(),
				"code", string(xerrors.CodeOf(err)),
				"metadata", xerrors.MetadataOf(err),
			)
		}
	}, nil
}

func outcomeOf(err error) string {
	if err == nil {
		return "success"
	}
	return strings.ToLower(string(xerrors.CodeOf(err)))
}

func (s *Service) kit(ctx context.Context) (*safe.Kit, error) {
	kit, err := safe.NewKit(ctx, s.chain, s.deployment, s.signer)
	if err != nil {
		return nil, chainError(err, "bind safe kit")
	}
	return kit, nil
}

func chainError(err error, message string) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, message)
	}
	return xerrors.Wrap(xerrors.CodeChainUnavailable, err, message)
}

// SafeAppURL links to the Safe web app for address.
func SafeAppURL(shortName string, address common.Address) string {
	if shortName == "" {
		return ""
	}
	return fmt.Sprintf("https://app.safe.global/home?safe=%s:%s", shortName, address.Hex())
}
