package web3

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of configs/chain.yaml.
type ChainDefinitions struct {
	Default string                     `yaml:"default"`
	Chains  map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single network: endpoint, display metadata and
// the contract address book used by the Safe kit and the order relay.
type ChainDefinition struct {
	Type        string `yaml:"type"`
	ChainID     int64  `yaml:"chain_id"`
	RPCURL      string `yaml:"rpc_url"`
	Network     string `yaml:"network"`
	NativeToken string `yaml:"native_token"`
	ShortName   string `yaml:"short_name"`
	Description string `yaml:"description"`

	Safe SafeContracts `yaml:"safe"`
	CoW  CoWContracts  `yaml:"cow"`
}

// SafeContracts lists the Safe singleton deployment a network uses.
type SafeContracts struct {
	Version           string `yaml:"version"`
	Singleton         string `yaml:"singleton"`
	ProxyFactory      string `yaml:"proxy_factory"`
	FallbackHandler   string `yaml:"fallback_handler"`
	MultiSendCallOnly string `yaml:"multi_send_call_only"`
}

// CoWContracts lists the order relay endpoint and settlement contracts.
type CoWContracts struct {
	OrderbookURL string `yaml:"orderbook_url"`
	Settlement   string `yaml:"settlement"`
	VaultRelayer string `yaml:"vault_relayer"`
}

// LoadChainDefinitions parses the YAML file containing chain metadata.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	for name, def := range defs.Chains {
		if def.Network == "" {
			def.Network = name
		}
		if def.NativeToken == "" {
			def.NativeToken = "ETH"
		}
		defs.Chains[name] = def
	}
	return defs, nil
}

// Names returns the configured chain names in a stable order.
func (d ChainDefinitions) Names() []string {
	names := make([]string, 0, len(d.Chains))
	for name := range d.Chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
