// Package domain defines core data structures shared by the trading pipeline.
package domain

import "fmt"

// Network exchange environment a profile trades on.
type Network string

const (
	// NetworkMainnet production exchange.
	NetworkMainnet Network = "mainnet"
	// NetworkTestnet exchange testnet.
	NetworkTestnet Network = "testnet"
)

// String returns the string representation.
func (n Network) String() string {
	return string(n)
}

// IsValid checks if the Network value is valid.
func (n Network) IsValid() bool {
	return n == NetworkMainnet || n == NetworkTestnet
}

// IsMainnet reports whether n selects the production exchange.
func (n Network) IsMainnet() bool {
	return n == NetworkMainnet
}

// ParseNetwork converts a stored value into a Network. Empty means mainnet.
func ParseNetwork(s string) (Network, error) {
	if s == "" {
		return NetworkMainnet, nil
	}
	n := Network(s)
	if !n.IsValid() {
		return "", fmt.Errorf("unknown network %q", s)
	}
	return n, nil
}
