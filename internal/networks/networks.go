// Package networks maps chain IDs to the Etherscan-family explorers that can
// verify contracts deployed on them.
package networks

import (
	"fmt"
	"sort"
	"strconv"
)

// Network is an explorer-supported chain.
type Network struct {
	Name    string
	ChainID int64
}

var known = []Network{
	{Name: "mainnet", ChainID: 1},
	{Name: "ropsten", ChainID: 3},
	{Name: "rinkeby", ChainID: 4},
	{Name: "goerli", ChainID: 5},
	{Name: "kovan", ChainID: 42},
	{Name: "holesky", ChainID: 17000},
	{Name: "sepolia", ChainID: 11155111},
}

// ByName looks up a network by its explorer name.
func ByName(name string) (Network, error) {
	for _, n := range known {
		if n.Name == name {
			return n, nil
		}
	}
	return Network{}, fmt.Errorf("network %s isn't available on etherscan.io for verification", name)
}

// ByChainID looks up a network by chain ID.
func ByChainID(id int64) (Network, error) {
	for _, n := range known {
		if n.ChainID == id {
			return n, nil
		}
	}
	return Network{}, fmt.Errorf("network with id %d isn't available on etherscan.io for verification", id)
}

// Names returns the supported network names in chain ID order.
func Names() []string {
	sorted := make([]Network, len(known))
	copy(sorted, known)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ChainID < sorted[j].ChainID })

	names := make([]string, len(sorted))
	for i, n := range sorted {
		names[i] = n.Name
	}
	return names
}

// ID returns the chain ID as the string key used in artifact "networks" maps.
func (n Network) ID() string {
	return strconv.FormatInt(n.ChainID, 10)
}

// APIURL returns the verification API endpoint.
func (n Network) APIURL() string {
	if n.Name == "mainnet" {
		return "https://api.etherscan.io/api"
	}
	return fmt.Sprintf("https://api-%s.etherscan.io/api", n.Name)
}

// ExplorerURL returns the human-facing explorer host.
func (n Network) ExplorerURL() string {
	if n.Name == "mainnet" {
		return "https://etherscan.io"
	}
	return fmt.Sprintf("https://%s.etherscan.io", n.Name)
}

// ContractCodeURL links to the verified source tab of an address.
func (n Network) ContractCodeURL(address string) string {
	return fmt.Sprintf("%s/address/%s#code", n.ExplorerURL(), address)
}
