package genesis

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"zkusd/crypto"
)

// GenesisSpec is the YAML description of the initial protocol state.
type GenesisSpec struct {
	Admin          string      `yaml:"admin"`
	Treasury       string      `yaml:"treasury"`
	OracleAccount  string      `yaml:"oracle_account"`
	ProtocolFeeBps uint64      `yaml:"protocol_fee_bps"`
	OracleFee      uint64      `yaml:"oracle_fee"`
	FallbackPrice  uint64      `yaml:"fallback_price"`
	Whitelist      []string    `yaml:"whitelist"`
	Alloc          []AllocSpec `yaml:"alloc"`
}

// AllocSpec credits base-asset balances at genesis.
type AllocSpec struct {
	Address string `yaml:"address"`
	Base    uint64 `yaml:"base"`
}

// Resolved is the decoded form of a GenesisSpec.
type Resolved struct {
	Admin          crypto.Address
	Treasury       crypto.Address
	OracleAccount  crypto.Address
	ProtocolFeeBps uint64
	OracleFee      uint64
	FallbackPrice  uint64
	Whitelist      [][20]byte
	Alloc          []Allocation
}

// Allocation is a resolved genesis balance.
type Allocation struct {
	Address [20]byte
	Base    uint64
}

// Load reads a YAML genesis file.
func Load(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open genesis: %w", err)
	}
	defer file.Close()

	spec := &GenesisSpec{}
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(spec); err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	return spec, nil
}

func parseAccount(field, value string) (crypto.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return crypto.Address{}, fmt.Errorf("genesis: %s required", field)
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("genesis: %s: %w", field, err)
	}
	if addr.Prefix() != crypto.AccountPrefix {
		return crypto.Address{}, fmt.Errorf("genesis: %s: unsupported prefix %q", field, addr.Prefix())
	}
	return addr, nil
}

// Resolve validates the spec and decodes every address.
func (s *GenesisSpec) Resolve() (*Resolved, error) {
	if s == nil {
		return nil, fmt.Errorf("genesis spec must not be nil")
	}
	out := &Resolved{
		ProtocolFeeBps: s.ProtocolFeeBps,
		OracleFee:      s.OracleFee,
		FallbackPrice:  s.FallbackPrice,
	}
	var err error
	if out.Admin, err = parseAccount("admin", s.Admin); err != nil {
		return nil, err
	}
	if out.Treasury, err = parseAccount("treasury", s.Treasury); err != nil {
		return nil, err
	}
	if strings.TrimSpace(s.OracleAccount) != "" {
		if out.OracleAccount, err = parseAccount("oracle_account", s.OracleAccount); err != nil {
			return nil, err
		}
	}
	if out.ProtocolFeeBps > 10_000 {
		return nil, fmt.Errorf("genesis: protocol_fee_bps %d exceeds 10000", out.ProtocolFeeBps)
	}
	for i, member := range s.Whitelist {
		addr, err := parseAccount(fmt.Sprintf("whitelist[%d]", i), member)
		if err != nil {
			return nil, err
		}
		out.Whitelist = append(out.Whitelist, addr.Array())
	}
	seen := make(map[[20]byte]struct{}, len(s.Alloc))
	for i, alloc := range s.Alloc {
		addr, err := parseAccount(fmt.Sprintf("alloc[%d]", i), alloc.Address)
		if err != nil {
			return nil, err
		}
		key := addr.Array()
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("genesis: duplicate alloc for %s", addr.String())
		}
		seen[key] = struct{}{}
		out.Alloc = append(out.Alloc, Allocation{Address: key, Base: alloc.Base})
	}
	return out, nil
}
