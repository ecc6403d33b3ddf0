package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"SafeSwap-Chain/internal/auth"
	"SafeSwap-Chain/sdk/go/safeswap"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cliUser = "0x00000000000000000000000000000000000A11cE"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestWalletCommandRendersCard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/wallet", r.URL.Path)
		assert.Equal(t, cliUser, r.Header.Get(safeswap.WalletHeader))
		_ = json.NewEncoder(w).Encode(safeswap.Wallet{
			Network:   safeswap.Network{Name: "sepolia", ChainID: 11155111, NativeToken: "ETH"},
			User:      safeswap.Balance{Address: cliUser, Display: "0.12345"},
			Safe:      &safeswap.Balance{Address: "0x5afe", Display: "0"},
			SafeState: "deployed",
		})
	}))
	defer srv.Close()

	out, err := execute(t, "--server", srv.URL, "--address", cliUser, "wallet")
	require.NoError(t, err)
	assert.Contains(t, out, "network: sepolia (11155111)")
	assert.Contains(t, out, "0.12345 ETH")
	assert.Contains(t, out, "safe:    0x5afe  0 ETH (deployed)")
}

func TestCreateSafeSync(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("sync"))
		_ = json.NewEncoder(w).Encode(safeswap.SafeResponse{
			Safe:       &safeswap.SafeInfo{Address: "0x5afe", State: "deployed"},
			Deployment: &safeswap.DeployResult{SafeAddress: "0x5afe", BlockNumber: 9},
		})
	}))
	defer srv.Close()

	out, err := execute(t, "--server", srv.URL, "--address", cliUser, "create-safe", "--sync")
	require.NoError(t, err)
	var resp safeswap.SafeResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Deployment)
	assert.Equal(t, uint64(9), resp.Deployment.BlockNumber)
}

func TestCommandsRequireIdentity(t *testing.T) {
	_, err := execute(t, "--server", "http://127.0.0.1:1", "--address", "", "--token", "", "--user-key", "", "check-safe")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--token, --user-key or --address")
}

func TestAPIErrorsSurface(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"SEQUENCE_BUSY","message":"another sequence is running"}`))
	}))
	defer srv.Close()

	_, err := execute(t, "--server", srv.URL, "--address", cliUser, "init-swap")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SEQUENCE_BUSY")
}

func TestTokenCommandIssuesVerifiableToken(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := hexutil.Encode(crypto.FromECDSA(key))

	out, err := execute(t, "--user-key", hexKey, "--audience", "safeswap", "token")
	require.NoError(t, err)

	svc, err := auth.NewService(auth.Config{Mode: auth.ModeMagic, Audience: "safeswap"})
	require.NoError(t, err)
	subject, err := svc.VerifyDIDToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), subject.Address)
}
