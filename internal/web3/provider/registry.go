package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"SafeSwap-Chain/internal/config"
	"SafeSwap-Chain/internal/web3"
	"SafeSwap-Chain/internal/web3/ethereum"
)

// Dialer constructs a chain client for a definition. Tests replace it to
// avoid network access.
type Dialer func(ctx context.Context, name string, def web3.ChainDefinition) (web3.Client, error)

// Registry manages a set of chain clients keyed by human readable names,
// together with the definition each client was built from.
type Registry struct {
	defaultChain string
	clients      map[string]web3.Client
	definitions  map[string]web3.ChainDefinition
}

// NewRegistry loads chain definitions and instantiates concrete clients.
func NewRegistry(ctx context.Context, cfg config.Web3Config) (*Registry, error) {
	return NewRegistryWithDialer(ctx, cfg, dialEVM)
}

// NewRegistryWithDialer is NewRegistry with a custom client constructor.
func NewRegistryWithDialer(ctx context.Context, cfg config.Web3Config, dial Dialer) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	defaultChain := strings.TrimSpace(cfg.DefaultChain)
	if defaultChain == "" {
		defaultChain = defs.Default
	}

	// 单 RPC 部署：未提供链配置文件时根据 RPC_URL 构造一个默认链。
	if len(defs.Chains) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		name := defaultChain
		if name == "" {
			name = "default"
		}
		defs.Chains[name] = web3.ChainDefinition{Network: name, NativeToken: "ETH", ChainID: cfg.ChainID}
		defaultChain = name
	}
	if len(defs.Chains) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}

	clients := make(map[string]web3.Client, len(defs.Chains))
	closeAll := func() {
		for _, client := range clients {
			client.Close()
		}
	}
	for _, name := range defs.Names() {
		def := defs.Chains[name]
		// 环境变量中的 RPC_URL 作用于默认链。
		if strings.TrimSpace(def.RPCURL) == "" || (name == defaultChain && strings.TrimSpace(cfg.RPCURL) != "") {
			def.RPCURL = cfg.RPCURL
		}
		if def.ChainID == 0 && name == defaultChain {
			def.ChainID = cfg.ChainID
		}
		chainType := strings.ToLower(strings.TrimSpace(def.Type))
		if chainType == "" {
			chainType = "evm"
			def.Type = chainType
		}
		if chainType != "evm" {
			closeAll()
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, def.Type)
		}
		client, err := dial(ctx, name, def)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		clients[name] = client
		defs.Chains[name] = def
	}

	if defaultChain == "" {
		defaultChain = defs.Names()[0]
	}
	if _, ok := clients[defaultChain]; !ok {
		closeAll()
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}

	return &Registry{defaultChain: defaultChain, clients: clients, definitions: defs.Chains}, nil
}

func dialEVM(ctx context.Context, name string, def web3.ChainDefinition) (web3.Client, error) {
	return ethereum.NewClient(ctx, ethereum.Config{
		Name:   name,
		RPCURL: def.RPCURL,
		Notes:  def.Description,
	})
}

// DefaultClient returns the client configured as default chain.
func (r *Registry) DefaultClient() (web3.Client, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	client, ok := r.clients[r.defaultChain]
	if !ok {
		return nil, fmt.Errorf("默认链 %s 未在注册表中", r.defaultChain)
	}
	return client, nil
}

// DefaultChain returns the name and definition of the default chain.
func (r *Registry) DefaultChain() (string, web3.ChainDefinition) {
	if r == nil {
		return "", web3.ChainDefinition{}
	}
	return r.defaultChain, r.definitions[r.defaultChain]
}

// Client returns the chain client identified by name.
func (r *Registry) Client(name string) (web3.Client, bool) {
	if r == nil {
		return nil, false
	}
	client, ok := r.clients[name]
	return client, ok
}

// Definition returns the chain definition identified by name.
func (r *Registry) Definition(name string) (web3.ChainDefinition, bool) {
	if r == nil {
		return web3.ChainDefinition{}, false
	}
	def, ok := r.definitions[name]
	return def, ok
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, name)
	}
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
