package config

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/dojopool/gatekeeper/ratelimit"
)

const policyUsage = `set a rate limit policy, can be repeated, e.g. -policy prefix=/api/auth,max-hits=5,time-window=1m,group=auth,input=reject
	possible policy properties:
	prefix: request path prefix, the longest matching prefix wins; without prefix the policy replaces the global default
	max-hits: the number of requests allowed per window
	time-window: the length of the fixed window
	group: shared counter name for all paths of the policy
	input: reject or sanitize (default) suspicious request bodies
	block: keep a rate limited client denied for this duration`

type policyFlags []ratelimit.Policy

var errInvalidPolicyConfig = errors.New("invalid policy config (allowed properties are: prefix, max-hits, time-window, group, input, block)")

func (p policyFlags) String() string {
	s := make([]string, len(p))
	for i, pi := range p {
		s[i] = pi.String()
	}

	return strings.Join(s, "\n")
}

func (p *policyFlags) Set(value string) error {
	s := ratelimit.Policy{TimeWindow: ratelimit.DefaultTimeWindow}

	for vi := range strings.SplitSeq(value, ",") {
		k, v, found := strings.Cut(vi, "=")
		if !found {
			return errInvalidPolicyConfig
		}

		switch k {
		case "prefix":
			s.Prefix = v
		case "max-hits":
			i, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			s.MaxHits = i
		case "time-window":
			d, err := time.ParseDuration(v)
			if err != nil {
				return err
			}
			s.TimeWindow = d
		case "group":
			s.Group = v
		case "input":
			switch v {
			case "reject":
				s.RejectInput = true
			case "sanitize":
				s.RejectInput = false
			default:
				return errInvalidPolicyConfig
			}
		case "block":
			d, err := time.ParseDuration(v)
			if err != nil {
				return err
			}
			s.Block = d
		default:
			return errInvalidPolicyConfig
		}
	}

	*p = append(*p, s)
	return nil
}

func (p *policyFlags) UnmarshalYAML(unmarshal func(any) error) error {
	var policies []ratelimit.Policy
	if err := unmarshal(&policies); err != nil {
		return err
	}

	for i := range policies {
		if policies[i].TimeWindow == 0 {
			policies[i].TimeWindow = ratelimit.DefaultTimeWindow
		}
	}

	*p = append(*p, policies...)
	return nil
}
