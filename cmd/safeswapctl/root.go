package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"SafeSwap-Chain/internal/auth"
	"SafeSwap-Chain/sdk/go/safeswap"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

// options holds the global flags.
type options struct {
	server   string
	token    string
	address  string
	userKey  string
	audience string
	timeout  time.Duration
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "safeswapctl",
		Short: "Drive the SafeSwap wallet card from the terminal",
		Long: `safeswapctl talks to a running safeswapd.

Identity comes from --token (a DID token), --user-key (a token is issued
locally for that key), or --address when the server runs with auth disabled.`,
		SilenceUsage: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.server, "server", envOr("SAFESWAP_SERVER", "http://localhost:8080"), "safeswapd base URL")
	flags.StringVar(&opts.token, "token", os.Getenv("SAFESWAP_TOKEN"), "DID bearer token")
	flags.StringVar(&opts.address, "address", os.Getenv("SAFESWAP_ADDRESS"), "wallet address (auth disabled servers only)")
	flags.StringVar(&opts.userKey, "user-key", os.Getenv("SAFESWAP_USER_KEY"), "hex private key used to issue a DID token")
	flags.StringVar(&opts.audience, "audience", os.Getenv("SAFESWAP_MAGIC_AUDIENCE"), "audience claim for issued tokens")
	flags.DurationVar(&opts.timeout, "timeout", 5*time.Minute, "request timeout")

	root.AddCommand(
		newLoginCmd(opts),
		newLogoutCmd(opts),
		newCreateSafeCmd(opts),
		newCheckSafeCmd(opts),
		newInitSwapCmd(opts),
		newWalletCmd(opts),
		newTaskCmd(opts),
		newTokenCmd(opts),
	)
	return root
}

// client builds an SDK client from the global flags.
func (o *options) client() (*safeswap.Client, error) {
	client, err := safeswap.NewClient(o.server, nil)
	if err != nil {
		return nil, err
	}
	switch {
	case o.token != "":
		client.SetToken(o.token)
	case o.userKey != "":
		token, err := o.issueToken(time.Hour)
		if err != nil {
			return nil, err
		}
		client.SetToken(token)
	case o.address != "":
		client.SetWalletAddress(o.address)
	default:
		return nil, errors.New("one of --token, --user-key or --address is required")
	}
	return client, nil
}

func (o *options) issueToken(ttl time.Duration) (string, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(o.userKey), "0x"))
	if err != nil {
		return "", fmt.Errorf("parse user key: %w", err)
	}
	return auth.IssueDIDToken(key, o.audience, time.Now(), ttl)
}

func (o *options) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.timeout)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
