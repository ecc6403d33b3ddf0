// Package web3 houses blockchain connectivity for the wallet sequences: the
// chain client abstraction, per-network contract address books loaded from
// YAML, and the provider registry that dials configured endpoints.
package web3
