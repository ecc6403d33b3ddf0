package provider

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"SafeSwap-Chain/internal/config"
	"SafeSwap-Chain/internal/web3"
	"SafeSwap-Chain/internal/web3/web3test"
)

func fakeDialer(dialed map[string]web3.ChainDefinition) Dialer {
	return func(_ context.Context, name string, def web3.ChainDefinition) (web3.Client, error) {
		if def.RPCURL == "" {
			return nil, errors.New("missing rpc")
		}
		dialed[name] = def
		return web3test.NewChain(def.ChainID), nil
	}
}

func TestRegistryUsesDefinitionsAndEnvRPC(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chain.yaml")
	content := "default: sepolia\nchains:\n  sepolia:\n    chain_id: 11155111\n  mainnet:\n    chain_id: 1\n    rpc_url: https://eth.example\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write chain file: %v", err)
	}

	dialed := make(map[string]web3.ChainDefinition)
	reg, err := NewRegistryWithDialer(context.Background(), config.Web3Config{
		ChainConfig: path,
		RPCURL:      "https://sepolia.example",
	}, fakeDialer(dialed))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	defer reg.Close()

	if dialed["sepolia"].RPCURL != "https://sepolia.example" {
		t.Fatalf("env rpc not applied to default chain: %+v", dialed["sepolia"])
	}
	if dialed["mainnet"].RPCURL != "https://eth.example" {
		t.Fatalf("file rpc should win for non-default chains: %+v", dialed["mainnet"])
	}
	name, def := reg.DefaultChain()
	if name != "sepolia" || def.ChainID != 11155111 {
		t.Fatalf("unexpected default chain %s %+v", name, def)
	}
	if _, err := reg.DefaultClient(); err != nil {
		t.Fatalf("default client: %v", err)
	}
	if got := reg.Chains(); len(got) != 2 || got[0] != "mainnet" {
		t.Fatalf("unexpected chains %v", got)
	}
}

func TestRegistryFallsBackToSingleRPC(t *testing.T) {
	dialed := make(map[string]web3.ChainDefinition)
	reg, err := NewRegistryWithDialer(context.Background(), config.Web3Config{RPCURL: "http://localhost:8545", ChainID: 1337}, fakeDialer(dialed))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	name, def := reg.DefaultChain()
	if name != "default" || def.ChainID != 1337 {
		t.Fatalf("unexpected fallback chain %s %+v", name, def)
	}
}

func TestRegistryRequiresEndpoint(t *testing.T) {
	if _, err := NewRegistryWithDialer(context.Background(), config.Web3Config{}, fakeDialer(map[string]web3.ChainDefinition{})); err == nil {
		t.Fatal("expected error without any endpoint")
	}
}

func TestRegistryClosesClientsOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chain.yaml")
	content := "default: missing\nchains:\n  a:\n    rpc_url: http://a\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write chain file: %v", err)
	}
	var created *web3test.Chain
	dial := func(_ context.Context, _ string, def web3.ChainDefinition) (web3.Client, error) {
		created = web3test.NewChain(1)
		return created, nil
	}
	if _, err := NewRegistryWithDialer(context.Background(), config.Web3Config{ChainConfig: path}, dial); err == nil {
		t.Fatal("expected error for unknown default chain")
	}
	if created == nil || !created.Closed() {
		t.Fatal("expected dialed client to be closed")
	}
}
