// Package config loads the daemon configuration from a JSON file, overlays a
// .env file and SAFESWAP_* environment variables, and fills defaults for the
// Sepolia WETH to COW swap flow.
package config
