package chains

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrSpecName    = errors.New("chain spec: missing name")
	ErrSpecGenesis = errors.New("chain spec: missing or invalid genesis hash")
)

// Spec describes one chain to track: its identity, how to reach it and,
// for a parachain-style ledger, which relay chain it is anchored to.
type Spec struct {
	Name        string          `json:"name"`
	GenesisHash string          `json:"genesisHash"`
	Bootnodes   []string        `json:"bootNodes"`
	RelayChain  string          `json:"relayChain,omitempty"`
	Properties  json.RawMessage `json:"properties,omitempty"`

	genesis Hash
}

// ParseSpec decodes and validates a chain specification document.
func ParseSpec(raw []byte) (*Spec, error) {
	var s Spec
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("chain spec: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the mandatory fields and caches the parsed genesis hash.
func (s *Spec) Validate() error {
	if s.Name == "" {
		return ErrSpecName
	}
	genesis, err := HashFromHex(s.GenesisHash)
	if err != nil || genesis.IsZero() {
		return ErrSpecGenesis
	}
	s.genesis = genesis
	return nil
}

// Genesis returns the parsed genesis hash. Valid only after Validate.
func (s *Spec) Genesis() Hash {
	return s.genesis
}

// IsParachain reports whether the spec declares a relay-chain linkage.
func (s *Spec) IsParachain() bool {
	return s.RelayChain != ""
}
