// Package model resolves the model and system-prompt selection rules an
// agent config declares, against the agent's current iteration number.
package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Tier is a model's position in the haiku < sonnet < opus ordering used to
// enforce a cluster's maxModel ceiling.
type Tier int

const (
	TierHaiku Tier = iota
	TierSonnet
	TierOpus
)

var tierByName = map[string]Tier{
	"haiku":  TierHaiku,
	"sonnet": TierSonnet,
	"opus":   TierOpus,
}

// TierOf returns the tier for a known model name. Unknown names are
// treated as TierSonnet, the middle tier, so a typo never silently grants
// opus-level spend.
func TierOf(modelName string) Tier {
	if t, ok := tierByName[strings.ToLower(modelName)]; ok {
		return t
	}
	return TierSonnet
}

// ModelRule is one entry of a ModelConfig's rules list.
type ModelRule struct {
	Iterations string // "N", "A-B", "N+", or "all"
	Model      string
}

// ModelConfig selects a model either statically or by iteration-ranged rule.
type ModelConfig struct {
	Type  string // "static" or "rules"
	Model string // used when Type == "static"
	Rules []ModelRule
}

// PromptRule is one entry of a PromptConfig's rules list.
type PromptRule struct {
	Match  string // same range language as ModelRule.Iterations
	System string
}

// PromptConfig selects a system prompt either literally or by rule.
type PromptConfig struct {
	Literal string // used when Rules is empty
	Rules   []PromptRule
}

// ResolveModel picks the model for the given iteration, then clamps it to
// maxModel if the selected model's tier would exceed the ceiling.
func ResolveModel(cfg ModelConfig, iteration int, maxModel string) (string, error) {
	var selected string

	switch cfg.Type {
	case "static", "":
		selected = cfg.Model
	case "rules":
		m, err := matchRules(cfg.Rules, iteration)
		if err != nil {
			return "", err
		}
		selected = m
	default:
		return "", fmt.Errorf("model: unknown ModelConfig.Type %q", cfg.Type)
	}

	if selected == "" {
		return "", fmt.Errorf("model: no rule matched iteration %d", iteration)
	}

	if maxModel != "" && TierOf(selected) > TierOf(maxModel) {
		return maxModel, nil
	}
	return selected, nil
}

// ResolvePrompt picks the system prompt for the given iteration.
func ResolvePrompt(cfg PromptConfig, iteration int) (string, error) {
	if len(cfg.Rules) == 0 {
		return cfg.Literal, nil
	}

	for _, r := range cfg.Rules {
		ok, err := matchRange(r.Match, iteration)
		if err != nil {
			return "", err
		}
		if ok {
			return r.System, nil
		}
	}
	return "", fmt.Errorf("model: no prompt rule matched iteration %d", iteration)
}

func matchRules(rules []ModelRule, iteration int) (string, error) {
	for _, r := range rules {
		ok, err := matchRange(r.Iterations, iteration)
		if err != nil {
			return "", err
		}
		if ok {
			return r.Model, nil
		}
	}
	return "", nil
}

// matchRange evaluates one range-language token against iteration:
//
//	"all"   matches every iteration
//	"N"     matches iteration == N
//	"A-B"   matches A <= iteration <= B
//	"N+"    matches iteration >= N
func matchRange(spec string, iteration int) (bool, error) {
	spec = strings.TrimSpace(spec)
	if spec == "all" || spec == "" {
		return true, nil
	}

	if strings.HasSuffix(spec, "+") {
		n, err := strconv.Atoi(strings.TrimSuffix(spec, "+"))
		if err != nil {
			return false, fmt.Errorf("model: invalid range %q: %w", spec, err)
		}
		return iteration >= n, nil
	}

	if idx := strings.Index(spec, "-"); idx > 0 {
		lo, err := strconv.Atoi(spec[:idx])
		if err != nil {
			return false, fmt.Errorf("model: invalid range %q: %w", spec, err)
		}
		hi, err := strconv.Atoi(spec[idx+1:])
		if err != nil {
			return false, fmt.Errorf("model: invalid range %q: %w", spec, err)
		}
		return iteration >= lo && iteration <= hi, nil
	}

	n, err := strconv.Atoi(spec)
	if err != nil {
		return false, fmt.Errorf("model: invalid range %q: %w", spec, err)
	}
	return iteration == n, nil
}
