package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/veris/pkg/coverage"
	"github.com/Mindburn-Labs/veris/pkg/eligibility"
	"github.com/Mindburn-Labs/veris/pkg/policy"
)

// Profile is the bootstrap state of one engine deployment: the owner, the
// year bounds, the initial rule book, enrollment windows, coverage windows,
// and the reservoir's opening balance.
//
// Patients are keyed by hex-encoded pseudonymous token. The profile is
// operator-supplied input and is never emitted back out; runtime stores
// re-key patient records by salted digest on load.
type Profile struct {
	Owner    string `yaml:"owner"`
	Currency string `yaml:"currency"`

	Years struct {
		Min uint16 `yaml:"min"`
		Max uint16 `yaml:"max"`
	} `yaml:"years"`

	Reservoir struct {
		OpeningBalance int64 `yaml:"opening_balance"`
	} `yaml:"reservoir"`

	Rules     map[uint16]policy.Rule        `yaml:"rules"`
	Providers map[string]eligibility.Window `yaml:"providers"`
	Patients  map[string]coverage.Window    `yaml:"patients"`
}

// LoadProfile reads and validates a profile YAML.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", path, err)
	}
	return ParseProfile(data)
}

// ParseProfile decodes and validates profile YAML bytes.
func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Profile) validate() error {
	if p.Owner == "" {
		return errors.New("profile: owner is required")
	}
	if p.Currency == "" {
		p.Currency = "USD"
	}
	if p.Reservoir.OpeningBalance < 0 {
		return errors.New("profile: opening balance cannot be negative")
	}
	if p.Years.Min != 0 && p.Years.Max != 0 && p.Years.Min > p.Years.Max {
		return fmt.Errorf("profile: year bounds inverted: %d > %d", p.Years.Min, p.Years.Max)
	}
	for code, rule := range p.Rules {
		if rule.Price < 0 {
			return fmt.Errorf("profile: rule %d has negative price", code)
		}
	}
	return nil
}
