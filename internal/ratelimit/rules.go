package ratelimit

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Endpoint names used as window-key components and rule selectors.
const (
	EndpointEntities     = "entities"
	EndpointTransactions = "transactions"
	EndpointMicroApps    = "micro-apps"
	EndpointCommand      = "command"
	EndpointIdentity     = "identity"
	EndpointHealth       = "health"
)

// Rules selects a Rule per endpoint and a multiplier per role. The role
// multiplier applies after endpoint selection.
type Rules struct {
	Default         Rule               `yaml:"default"`
	Endpoints       map[string]Rule    `yaml:"endpoints"`
	RoleMultipliers map[string]float64 `yaml:"role_multipliers"`
}

// DefaultRules returns the built-in rule set: 100 requests per 60s, with
// higher ceilings for health probes, financial transactions and identity
// resolution (auth retries), and elevated-role multipliers.
func DefaultRules() Rules {
	return Rules{
		Default: Rule{MaxRequests: 100, Window: time.Minute},
		Endpoints: map[string]Rule{
			EndpointHealth:       {MaxRequests: 1000, Window: time.Minute},
			EndpointTransactions: {MaxRequests: 200, Window: time.Minute},
			EndpointIdentity:     {MaxRequests: 300, Window: time.Minute},
			EndpointEntities:     {MaxRequests: 100, Window: time.Minute},
		},
		RoleMultipliers: map[string]float64{
			"owner":   2.0,
			"admin":   1.5,
			"manager": 1.2,
		},
	}
}

// LoadRules reads a rule set from a yaml file, falling back to defaults for
// anything unset.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read rate limit rules: %w", err)
	}
	rules := DefaultRules()
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("parse rate limit rules: %w", err)
	}
	rules.normalize()
	return rules, nil
}

func (r *Rules) normalize() {
	if r.Default.MaxRequests <= 0 {
		r.Default.MaxRequests = 100
	}
	if r.Default.Window <= 0 {
		r.Default.Window = time.Minute
	}
	for name, rule := range r.Endpoints {
		if rule.MaxRequests <= 0 {
			rule.MaxRequests = r.Default.MaxRequests
		}
		if rule.Window <= 0 {
			rule.Window = r.Default.Window
		}
		r.Endpoints[name] = rule
	}
}

func (r Rules) ruleFor(endpoint string) Rule {
	if rule, ok := r.Endpoints[endpoint]; ok {
		return rule
	}
	return r.Default
}

func (r Rules) multiplierFor(role string) float64 {
	if m, ok := r.RoleMultipliers[role]; ok && m > 0 {
		return m
	}
	return 1.0
}
