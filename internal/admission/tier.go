package admission

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Tier is a named class of caller with its own quota configuration.
// Tier selection by endpoint path is a routing concern; the limiter
// applies identical logic to every tier.
type Tier string

const (
	TierAnonymous     Tier = "anonymous"
	TierAuthenticated Tier = "authenticated"
	TierPremium       Tier = "premium"
	TierAI            Tier = "ai-endpoints"
	TierBooking       Tier = "booking-endpoints"
)

// TierLimit holds the quota for one tier.
type TierLimit struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// UnmarshalYAML decodes a tier limit, accepting the window as a Go
// duration string (e.g. "60s", "1m").
func (t *TierLimit) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		MaxRequests int    `yaml:"max_requests"`
		Window      string `yaml:"window"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	window, err := time.ParseDuration(raw.Window)
	if err != nil {
		return fmt.Errorf("tier window %q: %w", raw.Window, err)
	}

	t.MaxRequests = raw.MaxRequests
	t.Window = window
	return nil
}

// Policy maps tiers to their quotas.
type Policy map[Tier]TierLimit

// DefaultPolicy returns the built-in tier table.
func DefaultPolicy() Policy {
	return Policy{
		TierAnonymous:     {MaxRequests: 10, Window: time.Minute},
		TierAuthenticated: {MaxRequests: 100, Window: time.Minute},
		TierPremium:       {MaxRequests: 500, Window: time.Minute},
		TierAI:            {MaxRequests: 20, Window: time.Minute},
		TierBooking:       {MaxRequests: 5, Window: time.Minute},
	}
}

// Limit returns the quota for a tier. Unknown tiers fall back to the
// anonymous quota so a routing mistake can only make limits stricter.
func (p Policy) Limit(tier Tier) TierLimit {
	if l, ok := p[tier]; ok {
		return l
	}
	return p[TierAnonymous]
}

// Validate checks the policy for unusable entries.
func (p Policy) Validate() error {
	if _, ok := p[TierAnonymous]; !ok {
		return fmt.Errorf("tier policy: %q tier is required as the fallback", TierAnonymous)
	}
	for tier, limit := range p {
		if limit.MaxRequests <= 0 {
			return fmt.Errorf("tier policy: %q max_requests must be positive", tier)
		}
		if limit.Window <= 0 {
			return fmt.Errorf("tier policy: %q window must be positive", tier)
		}
	}
	return nil
}

// policyFile is the YAML shape of a tier policy document.
type policyFile struct {
	Tiers map[string]TierLimit `yaml:"tiers"`
}

// LoadPolicy reads a tier policy from a YAML file. Tiers not present in
// the file keep their defaults; an empty path returns the defaults.
func LoadPolicy(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tier policy: %w", err)
	}

	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse tier policy: %w", err)
	}

	policy := DefaultPolicy()
	for name, limit := range file.Tiers {
		policy[Tier(name)] = limit
	}

	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return policy, nil
}
