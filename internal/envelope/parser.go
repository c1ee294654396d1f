package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/titanous/json5"
)

// PreviewLimit caps the raw text kept on parse failures.
const PreviewLimit = 1000

// Strategy names reported on a successful parse.
const (
	StrategyDirect         = "direct"
	StrategyCallback       = "callback"
	StrategyTrailingObject = "trailing-object"
	StrategyLenient        = "lenient"
)

var (
	// ErrEmptyBody is returned (wrapped) when the upstream sent nothing.
	ErrEmptyBody = errors.New("empty body")

	trailingObjectRe = regexp.MustCompile(`[^{]*(\{[\s\S]*\})[\s;]*$`)
	leadingCommentRe = regexp.MustCompile(`^(?s:\s*/\*.*?\*/)+`)
)

// Envelope is a JSON value recovered from an upstream body.
type Envelope struct {
	Value    any
	Raw      json.RawMessage
	Strategy string
}

// UnparseableError reports a body none of the strategies could decode.
type UnparseableError struct {
	Preview string
	Tried   []string
	Err     error
}

func (e *UnparseableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unparseable response (tried %s): %v", strings.Join(e.Tried, ","), e.Err)
	}
	return fmt.Sprintf("unparseable response (tried %s)", strings.Join(e.Tried, ","))
}

func (e *UnparseableError) Unwrap() error { return e.Err }

type strategy struct {
	name string
	try  func(text, token string) (any, bool, error)
}

// Parser decodes JSON, JSONP and loosely wrapped bodies.
type Parser struct {
	strategies []strategy
}

// NewParser returns a parser with the default strategy order.
func NewParser() *Parser {
	return &Parser{strategies: []strategy{
		{name: StrategyDirect, try: tryDirect},
		{name: StrategyCallback, try: tryCallback},
		{name: StrategyTrailingObject, try: tryTrailingObject},
		{name: StrategyLenient, try: tryLenient},
	}}
}

// Parse runs the strategies in order and returns the first successful decode.
func (p *Parser) Parse(text, token string) (env Envelope, err error) {
	defer func() {
		if r := recover(); r != nil {
			env = Envelope{}
			err = &UnparseableError{Preview: Preview(text), Err: fmt.Errorf("parser panic: %v", r)}
		}
	}()

	trimmed := leadingCommentRe.ReplaceAllString(strings.TrimSpace(text), "")
	trimmed = strings.TrimSpace(trimmed)
	if trimmed == "" {
		return Envelope{}, &UnparseableError{Preview: Preview(text), Err: ErrEmptyBody}
	}

	var (
		tried   []string
		lastErr error
	)
	for _, s := range p.strategies {
		value, applicable, tryErr := s.try(trimmed, token)
		if !applicable {
			continue
		}
		tried = append(tried, s.name)
		if tryErr != nil {
			lastErr = tryErr
			continue
		}
		raw, marshalErr := json.Marshal(value)
		if marshalErr != nil {
			lastErr = marshalErr
			continue
		}
		return Envelope{Value: value, Raw: raw, Strategy: s.name}, nil
	}

	return Envelope{}, &UnparseableError{Preview: Preview(text), Tried: tried, Err: lastErr}
}

// Preview returns at most PreviewLimit characters of s.
func Preview(s string) string {
	runes := []rune(s)
	if len(runes) <= PreviewLimit {
		return s
	}
	return string(runes[:PreviewLimit])
}

func tryDirect(text, _ string) (any, bool, error) {
	if !isBareJSON(text) {
		return nil, false, nil
	}
	v, err := decodeJSON(text)
	return v, true, err
}

func tryCallback(text, token string) (any, bool, error) {
	payload, ok := callbackPayload(text, token)
	if !ok {
		return nil, false, nil
	}
	v, err := decodeJSON(payload)
	return v, true, err
}

func tryTrailingObject(text, _ string) (any, bool, error) {
	m := trailingObjectRe.FindStringSubmatch(text)
	if m == nil || m[1] == "" {
		return nil, false, nil
	}
	v, err := decodeJSON(m[1])
	return v, true, err
}

// tryLenient accepts JavaScript object literals (unquoted keys, single quotes).
func tryLenient(text, token string) (any, bool, error) {
	candidate := text
	if payload, ok := callbackPayload(text, token); ok {
		candidate = payload
	}
	candidate = unwrapParens(strings.TrimSpace(candidate))
	if candidate == "" || !strings.ContainsAny(candidate[:1], "{[") {
		return nil, false, nil
	}

	var v any
	if err := json5.Unmarshal([]byte(candidate), &v); err != nil {
		return nil, true, err
	}
	return v, true, nil
}

func callbackPayload(text, token string) (string, bool) {
	if token == "" {
		return "", false
	}
	re, err := regexp.Compile(`(?is)^\s*` + regexp.QuoteMeta(token) + `\s*\(\s*(.*)\s*\)\s*;?\s*$`)
	if err != nil {
		return "", false
	}
	m := re.FindStringSubmatch(text)
	if m == nil || m[1] == "" {
		return "", false
	}
	return m[1], true
}

func isBareJSON(text string) bool {
	if len(text) < 2 {
		return false
	}
	first, last := text[0], text[len(text)-1]
	return (first == '{' && last == '}') || (first == '[' && last == ']')
}

func unwrapParens(s string) string {
	if len(s) >= 2 && s[0] == '(' && s[len(s)-1] == ')' {
		return strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

func decodeJSON(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}
