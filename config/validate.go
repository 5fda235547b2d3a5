package config

import (
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"nounsgov/actions"
)

// Validate checks the fields every deployment needs. Contract addresses may
// be empty; the builders that need them fail with CONTRACTS_NOT_CONFIGURED.
func (n Network) Validate() error {
	if n.ChainID == 0 {
		return fmt.Errorf("config: network %s: chain id required", n.Name)
	}
	if err := checkURL("RPCURL", n.RPCURL, true); err != nil {
		return fmt.Errorf("config: network %s: %w", n.Name, err)
	}
	if err := checkURL("SubgraphURL", n.SubgraphURL, false); err != nil {
		return fmt.Errorf("config: network %s: %w", n.Name, err)
	}
	for field, value := range map[string]string{
		"DAO": n.DAO, "Data": n.Data, "Token": n.Token, "Pool": n.Pool, "Multicall": n.Multicall,
	} {
		if strings.TrimSpace(value) == "" {
			continue
		}
		if !common.IsHexAddress(value) {
			return fmt.Errorf("config: network %s: %s is not an address: %q", n.Name, field, value)
		}
	}
	return nil
}

// Deployment converts the network into the builders' contract set.
func (n Network) Deployment() (actions.Deployment, error) {
	if err := n.Validate(); err != nil {
		return actions.Deployment{}, err
	}
	return actions.Deployment{
		ChainID:   new(big.Int).SetUint64(n.ChainID),
		DAO:       address(n.DAO),
		Data:      address(n.Data),
		Token:     address(n.Token),
		Pool:      address(n.Pool),
		Multicall: address(n.Multicall),
	}, nil
}

func address(raw string) common.Address {
	if strings.TrimSpace(raw) == "" {
		return common.Address{}
	}
	return common.HexToAddress(raw)
}

func checkURL(field, raw string, required bool) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if required {
			return errors.New(field + " required")
		}
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("%s: unsupported scheme %q", field, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s: host required", field)
	}
	return nil
}
