package policy

/*
Файл seed.go загружает стартовый набор политик (catch-all, правила безопасности) из YAML.
Условия в YAML пишутся той же структурой, что и в JSON:

	policies:
	  - name: verification-mail
	    priority: 1
	    action: label
	    params: {label: security}
	    confidence_threshold: 0.5
	    condition:
	      regex: [subject, "verif|confirm"]
*/

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xela07ax/inboxpilot/internal/condition"
	"github.com/xela07ax/inboxpilot/internal/domain"
)

type seedFile struct {
	Policies []seedPolicy `yaml:"policies"`
}

type seedPolicy struct {
	Name                string         `yaml:"name"`
	Enabled             *bool          `yaml:"enabled"`
	Priority            *int           `yaml:"priority"`
	Action              string         `yaml:"action"`
	Params              map[string]any `yaml:"params"`
	ConfidenceThreshold float64        `yaml:"confidence_threshold"`
	Condition           any            `yaml:"condition"`
}

// LoadSeedFile читает и валидирует файл сидов
func LoadSeedFile(path string) ([]domain.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed: read %s: %w", path, err)
	}
	return ParseSeed(data)
}

func ParseSeed(data []byte) ([]domain.Policy, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &domain.ValidationError{Field: "seed", Reason: err.Error()}
	}

	out := make([]domain.Policy, 0, len(f.Policies))
	for i, sp := range f.Policies {
		if _, err := condition.ParseValue(sp.Condition); err != nil {
			return nil, fmt.Errorf("seed policy #%d (%s): %w", i, sp.Name, err)
		}
		raw, err := json.Marshal(sp.Condition)
		if err != nil {
			return nil, fmt.Errorf("seed policy #%d (%s): encode condition: %w", i, sp.Name, err)
		}

		p := domain.Policy{
			Name:                sp.Name,
			Enabled:             sp.Enabled == nil || *sp.Enabled,
			Priority:            domain.PriorityCatchAll,
			Action:              domain.PolicyAction(sp.Action),
			Params:              sp.Params,
			ConfidenceThreshold: sp.ConfidenceThreshold,
			Condition:           raw,
			Origin:              domain.OriginSeed,
		}
		if sp.Priority != nil {
			p.Priority = *sp.Priority
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("seed policy #%d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}
