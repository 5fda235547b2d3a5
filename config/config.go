// Package config resolves the contract deployment a governance client talks
// to. Built-in presets are embedded; an optional TOML file may override any
// field or add networks.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed networks.toml
var presetsTOML string

// DefaultNetwork is used when no network name is given.
const DefaultNetwork = "mainnet"

// Network is one deployment of the governance contracts.
type Network struct {
	Name        string `toml:"-"`
	ChainID     uint64 `toml:"ChainID"`
	RPCURL      string `toml:"RPCURL"`
	SubgraphURL string `toml:"SubgraphURL"`
	DAO         string `toml:"DAO"`
	Data        string `toml:"Data"`
	Token       string `toml:"Token"`
	Pool        string `toml:"Pool"`
	Multicall   string `toml:"Multicall"`
}

// Networks maps a network name to its deployment.
type Networks map[string]Network

// Presets decodes the embedded network table.
func Presets() (Networks, error) {
	raw := map[string]Network{}
	meta, err := toml.Decode(presetsTOML, &raw)
	if err != nil {
		return nil, fmt.Errorf("config: decode presets: %w", err)
	}
	if err := rejectUndecoded(meta, "presets"); err != nil {
		return nil, err
	}
	return named(raw), nil
}

// Load returns the presets with the file at path layered on top. A missing
// path yields the presets unchanged.
func Load(path string) (Networks, error) {
	nets, err := Presets()
	if err != nil {
		return nil, err
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nets, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config: network file %s not found", path)
	}
	overrides := map[string]Network{}
	meta, err := toml.DecodeFile(path, &overrides)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := rejectUndecoded(meta, path); err != nil {
		return nil, err
	}
	for name, o := range named(overrides) {
		nets[name] = merge(nets[name], o)
	}
	return nets, nil
}

// Names lists the configured networks in sorted order.
func (n Networks) Names() []string {
	out := make([]string, 0, len(n))
	for name := range n {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the validated network called name. An empty name selects
// DefaultNetwork.
func (n Networks) Lookup(name string) (Network, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = DefaultNetwork
	}
	net, ok := n[name]
	if !ok {
		return Network{}, fmt.Errorf("config: unknown network %q (have %s)", name, strings.Join(n.Names(), ", "))
	}
	if err := net.Validate(); err != nil {
		return Network{}, err
	}
	return net, nil
}

func named(raw map[string]Network) Networks {
	out := make(Networks, len(raw))
	for name, net := range raw {
		key := strings.ToLower(strings.TrimSpace(name))
		net.Name = key
		out[key] = net
	}
	return out
}

func merge(base, o Network) Network {
	base.Name = o.Name
	if o.ChainID != 0 {
		base.ChainID = o.ChainID
	}
	set := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&base.RPCURL, o.RPCURL)
	set(&base.SubgraphURL, o.SubgraphURL)
	set(&base.DAO, o.DAO)
	set(&base.Data, o.Data)
	set(&base.Token, o.Token)
	set(&base.Pool, o.Pool)
	set(&base.Multicall, o.Multicall)
	return base
}

func rejectUndecoded(meta toml.MetaData, source string) error {
	undecoded := meta.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}
	keys := make([]string, 0, len(undecoded))
	for _, k := range undecoded {
		keys = append(keys, k.String())
	}
	return fmt.Errorf("config: %s has unknown keys: %s", source, strings.Join(keys, ", "))
}
