/*
Package input implements the heuristic input filter chain.

The filter rejects bodies matching one of its rules, and produces a
sanitized copy with all matches stripped and the HTML reserved
characters entity encoded. Structured bodies, JSON and url encoded
forms, are sanitized per value so the result stays parseable.

The rules are defense in depth, not a guarantee.
*/
package input

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrMalformedBody is returned when a body is not parseable as its
// declared content type.
var ErrMalformedBody = errors.New("malformed body")

// Result of a filter run.
type Result struct {
	Valid bool
	// Rule is the name of the first matching rule of an invalid
	// input
	Rule string
	// Sanitized is the cleaned input
	Sanitized string
}

// Filter matches input against its rules.
type Filter struct {
	rules []Rule
}

// New creates a filter with the default rules followed by the extra
// rules.
func New(extra ...Rule) *Filter {
	rules := make([]Rule, 0, len(DefaultRules)+len(extra))
	rules = append(rules, DefaultRules...)
	rules = append(rules, extra...)
	return &Filter{rules: rules}
}

// Match returns the name of the first rule matching s.
func (f *Filter) Match(s string) (string, bool) {
	for _, r := range f.rules {
		if r.re.MatchString(s) {
			return r.Name, true
		}
	}
	return "", false
}

// Strip removes all matches of all rules.
func (f *Filter) Strip(s string) string {
	for _, r := range f.rules {
		s = r.re.ReplaceAllString(s, "")
	}
	return s
}

// Validate checks text as a whole.
func (f *Filter) Validate(text string) Result {
	rule, matched := f.Match(text)
	return Result{
		Valid:     !matched,
		Rule:      rule,
		Sanitized: Sanitize(f.Strip(text)),
	}
}

var htmlReplacer = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
	"/", "&#x2F;",
)

// Sanitize entity encodes the HTML reserved characters and the
// forward slash.
func Sanitize(s string) string {
	return htmlReplacer.Replace(s)
}

// Body checks a request body of the given content type. JSON bodies
// are matched per decoded key and string value. The sanitized result
// keeps the encoding of the body.
func (f *Filter) Body(contentType string, body []byte) (Result, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)

	switch {
	case isJSON(mediaType):
		return f.json(body)
	case mediaType == "application/x-www-form-urlencoded":
		return f.form(body)
	case strings.HasPrefix(mediaType, "multipart/"):
		// parts may be binary, only the raw body is matched
		rule, matched := f.Match(string(body))
		return Result{Valid: !matched, Rule: rule, Sanitized: string(body)}, nil
	default:
		return f.Validate(string(body)), nil
	}
}

// Sanitizable returns false for content types whose bodies are only
// matched, never rewritten.
func Sanitizable(contentType string) bool {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	return !strings.HasPrefix(mediaType, "multipart/")
}

func isJSON(mediaType string) bool {
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func (f *Filter) json(body []byte) (Result, error) {
	if !gjson.ValidBytes(body) {
		return Result{}, ErrMalformedBody
	}

	// the quotes of the encoding would match the quote anchored
	// rules, only decoded keys and strings are matched
	res := Result{Valid: true}
	var buf bytes.Buffer
	if err := f.walk(&buf, gjson.ParseBytes(body), &res); err != nil {
		return Result{}, err
	}

	res.Sanitized = buf.String()
	return res, nil
}

// walk writes the sanitized value to buf and records the first rule
// matching a decoded string.
func (f *Filter) walk(buf *bytes.Buffer, v gjson.Result, res *Result) error {
	switch {
	case v.IsObject():
		buf.WriteByte('{')
		first := true
		var err error
		v.ForEach(func(key, value gjson.Result) bool {
			if !first {
				buf.WriteByte(',')
			}
			first = false

			f.check(key.String(), res)
			buf.WriteString(key.Raw)
			buf.WriteByte(':')
			err = f.walk(buf, value, res)
			return err == nil
		})
		buf.WriteByte('}')
		return err

	case v.IsArray():
		buf.WriteByte('[')
		first := true
		var err error
		v.ForEach(func(_, value gjson.Result) bool {
			if !first {
				buf.WriteByte(',')
			}
			first = false

			err = f.walk(buf, value, res)
			return err == nil
		})
		buf.WriteByte(']')
		return err

	case v.Type == gjson.String:
		s := v.String()
		f.check(s, res)

		b, err := marshalString(Sanitize(f.Strip(s)))
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil

	default:
		buf.WriteString(v.Raw)
		return nil
	}
}

func (f *Filter) check(s string, res *Result) {
	if !res.Valid {
		return
	}
	if rule, matched := f.Match(s); matched {
		res.Valid, res.Rule = false, rule
	}
}

// marshalString encodes s without escaping the entities produced by
// Sanitize.
func marshalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func (f *Filter) form(body []byte) (Result, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrMalformedBody, err)
	}

	res := Result{Valid: true}
	sanitized := make(url.Values, len(values))
	for key, vs := range values {
		f.check(key, &res)
		for _, v := range vs {
			f.check(v, &res)
			sanitized.Add(key, Sanitize(f.Strip(v)))
		}
	}

	res.Sanitized = sanitized.Encode()
	return res, nil
}
