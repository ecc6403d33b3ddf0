package safe

import (
	"fmt"
	"strings"

	"SafeSwap-Chain/internal/web3"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultVersion is the Safe contracts release used when a chain definition
// does not name one.
const DefaultVersion = "1.4.1"

// Deployment is the set of Safe contracts a network provides.
type Deployment struct {
	Version           string
	Singleton         common.Address
	ProxyFactory      common.Address
	FallbackHandler   common.Address
	MultiSendCallOnly common.Address
}

type canonical struct {
	singleton, singletonL2, factory, fallback, multiSendCallOnly string
}

// canonicalDeployments are the deterministic-deployment addresses shared by
// every network the Safe team supports.
var canonicalDeployments = map[string]canonical{
	"1.4.1": {
		singleton:         "0x41675C099F32341bf84BFc5382aF534df5C7461a",
		singletonL2:       "0x29fcB43b46531BcA003ddC8FCB67FFE91900C762",
		factory:           "0x4e1DCf7AD4e460CfD30791CCC4F9c8a4f820ec67",
		fallback:          "0xfd0732Dc9E303f09fCEf3a7388Ad10A83459Ec99",
		multiSendCallOnly: "0x9641d764fc13c8B624c04430C7356C1C7C8102e2",
	},
	"1.3.0": {
		singleton:         "0xd9Db270c1B5E3Bd161E8c8503c55cEABeE709552",
		singletonL2:       "0x3E5c63644E683549055b9Be8653de26E0B4CD36E",
		factory:           "0xa6B71E26C5e0845f74c812102Ca7114b6a896AB2",
		fallback:          "0xf48f2B2d2a534e402487b3ee7C18c33Aec0Fe5e4",
		multiSendCallOnly: "0x40A2aCCbd92BCA938b02010E17A5b8929b49130D",
	},
}

// DefaultDeployment returns the canonical contracts for version.
func DefaultDeployment(version string, l2 bool) (Deployment, error) {
	if version == "" {
		version = DefaultVersion
	}
	c, ok := canonicalDeployments[version]
	if !ok {
		return Deployment{}, fmt.Errorf("unsupported safe version %q", version)
	}
	singleton := c.singleton
	if l2 {
		singleton = c.singletonL2
	}
	return Deployment{
		Version:           version,
		Singleton:         common.HexToAddress(singleton),
		ProxyFactory:      common.HexToAddress(c.factory),
		FallbackHandler:   common.HexToAddress(c.fallback),
		MultiSendCallOnly: common.HexToAddress(c.multiSendCallOnly),
	}, nil
}

// DeploymentFor merges the addresses a chain definition overrides into the
// canonical deployment of its version.
func DeploymentFor(contracts web3.SafeContracts, l2 bool) (Deployment, error) {
	d, err := DefaultDeployment(contracts.Version, l2)
	if err != nil {
		return Deployment{}, err
	}
	set := func(dst *common.Address, field, value string) error {
		value = strings.TrimSpace(value)
		if value == "" {
			return nil
		}
		if !common.IsHexAddress(value) {
			return fmt.Errorf("safe.%s is not an address: %q", field, value)
		}
		*dst = common.HexToAddress(value)
		return nil
	}
	if err := set(&d.Singleton, "singleton", contracts.Singleton); err != nil {
		return Deployment{}, err
	}
	if err := set(&d.ProxyFactory, "proxy_factory", contracts.ProxyFactory); err != nil {
		return Deployment{}, err
	}
	if err := set(&d.FallbackHandler, "fallback_handler", contracts.FallbackHandler); err != nil {
		return Deployment{}, err
	}
	if err := set(&d.MultiSendCallOnly, "multi_send_call_only", contracts.MultiSendCallOnly); err != nil {
		return Deployment{}, err
	}
	return d, nil
}
