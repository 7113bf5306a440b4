package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/dojopool/gatekeeper/security/input"
)

const inputRuleUsage = `add a named input filter rule, can be repeated, e.g. -input-rule 'ssti=\{\{.*\}\}'`

// ruleFlags collects additional input filter rules as name=expression
// pairs.
type ruleFlags []input.Rule

func (r ruleFlags) String() string {
	s := make([]string, len(r))
	for i, ri := range r {
		s[i] = ri.String()
	}

	return strings.Join(s, "\n")
}

func (r *ruleFlags) Set(value string) error {
	name, expr, found := strings.Cut(value, "=")
	if !found || name == "" || expr == "" {
		return errInvalidInputRule
	}

	rule, err := input.NewRule(name, expr)
	if err != nil {
		return err
	}

	*r = append(*r, rule)
	return nil
}

func (r *ruleFlags) UnmarshalYAML(unmarshal func(any) error) error {
	var m yaml.MapSlice
	if err := unmarshal(&m); err != nil {
		return err
	}

	for _, item := range m {
		name, nok := item.Key.(string)
		expr, eok := item.Value.(string)
		if !nok || !eok {
			return fmt.Errorf("%w: %v", errInvalidInputRule, item.Key)
		}

		rule, err := input.NewRule(name, expr)
		if err != nil {
			return err
		}

		*r = append(*r, rule)
	}

	return nil
}
