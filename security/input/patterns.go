package input

import (
	"fmt"
	"regexp"
)

// Rule is a named pattern of disallowed input.
type Rule struct {
	Name string
	re   *regexp.Regexp
}

func (r Rule) String() string {
	return fmt.Sprintf("%s(%s)", r.Name, r.re)
}

func mustRule(name, expr string) Rule {
	return Rule{Name: name, re: regexp.MustCompile(expr)}
}

// NewRule compiles a custom rule.
func NewRule(name, expr string) (Rule, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Rule{}, fmt.Errorf("invalid input rule %s: %w", name, err)
	}
	return Rule{Name: name, re: re}, nil
}

// lookupRule matches JNDI lookups like ${jndi:ldap://host/a}.
var lookupRule = mustRule("jndi-lookup", `\W\Wjndi:`)

// LookupProbe returns true when s contains a JNDI lookup.
func LookupProbe(s string) bool {
	return lookupRule.re.MatchString(s)
}

// DefaultRules detect script injection and SQL keywords combined with
// the special characters used to break out of a literal. Plain text
// mentioning SQL keywords is not matched.
var DefaultRules = []Rule{
	mustRule("script-tag", `(?is)<\s*script\b[^>]*>.*?<\s*/\s*script\s*>`),
	mustRule("script-open", `(?i)<\s*script\b`),
	mustRule("script-uri", `(?i)\b(java|vb)script\s*:`),
	mustRule("html-data-uri", `(?i)\bdata\s*:\s*text/html`),
	mustRule("event-handler", `(?i)(^|[\s"'/;<])on[a-z]{3,}\s*=`),
	mustRule("active-markup", `(?i)<\s*(iframe|frame|object|embed|applet|meta|base|svg|link|style)\b`),
	mustRule("script-eval", `(?i)\b(eval|expression)\s*\(`),

	mustRule("sql-tautology", `(?i)['"]\s*(or|and)\s+['"]?\w+['"]?\s*(=|<|>|like\b)`),
	mustRule("sql-stacked", `(?i)(;|--|/\*|')\s*(select|insert|update|delete|drop|alter|create|truncate|exec|execute|union|shutdown)\b`),
	mustRule("sql-union", `(?i)\bunion\s+(all\s+)?select\b`),
	mustRule("sql-drop", `(?i)\b(drop|truncate)\s+(table|database)\b`),
	mustRule("sql-procedure", `(?i)\bxp_cmdshell\b`),
	mustRule("sql-timing", `(?i)\b(sleep|benchmark|pg_sleep|waitfor\s+delay)\s*\(`),

	lookupRule,
}
