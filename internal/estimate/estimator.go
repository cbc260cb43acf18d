// Package estimate predicts the cost of a request payload before it is sent.
//
// Costs are token approximations derived from character counts, so no
// tokenizer vocabulary is needed. Estimates are deterministic and never
// decrease when text is added to a payload.
package estimate

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/samber/lo"
	"github.com/tidwall/gjson"
)

// Scheme names accepted by New.
const (
	SchemeCL100K   = "cl100k_base"
	SchemeO200K    = "o200k_base"
	SchemeChars    = "chars"
	SchemeBytes    = "bytes"
	SchemeRequests = "requests"
)

// DefaultCompletionAllowance is the completion cost assumed per choice when a
// payload sets neither max_completion_tokens nor max_tokens.
const DefaultCompletionAllowance = 15

// Chat framing overhead, in tokens.
const (
	tokensPerMessage = 4
	tokensPerName    = -1
	replyPriming     = 2
)

var (
	// ErrUnknownScheme is returned by New for an unsupported scheme name.
	ErrUnknownScheme = errors.New("estimate: unknown cost scheme")

	// ErrInvalidPayload is returned when a payload is not a JSON object.
	ErrInvalidPayload = errors.New("estimate: payload is not a JSON object")
)

var charsPerToken = map[string]float64{
	SchemeCL100K: 4.0,
	SchemeO200K:  4.2,
}

// Schemes returns every supported scheme name.
func Schemes() []string {
	return []string{SchemeCL100K, SchemeO200K, SchemeChars, SchemeBytes, SchemeRequests}
}

// Estimator computes the cost of a payload.
type Estimator interface {
	Estimate(payload []byte) (int, error)
}

// Config selects and tunes a scheme.
type Config struct {
	// Scheme defaults to cl100k_base.
	Scheme string

	// CharsPerToken is the ratio used by the chars scheme (default 4.0).
	CharsPerToken float64

	// CompletionAllowance replaces DefaultCompletionAllowance when positive.
	CompletionAllowance int
}

// TokenEstimator walks chat, completion and embedding payloads and counts
// their text with a character-ratio approximation.
type TokenEstimator struct {
	units        func(text string) int
	scheme       string
	allowance    int
	requestsOnly bool
}

// New builds the estimator for cfg.
func New(cfg Config) (*TokenEstimator, error) {
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = SchemeCL100K
	}

	e := &TokenEstimator{
		scheme:    scheme,
		allowance: DefaultCompletionAllowance,
	}
	if cfg.CompletionAllowance > 0 {
		e.allowance = cfg.CompletionAllowance
	}

	switch scheme {
	case SchemeCL100K, SchemeO200K:
		e.units = ratioUnits(charsPerToken[scheme])
	case SchemeChars:
		ratio := cfg.CharsPerToken
		if ratio <= 0 {
			ratio = charsPerToken[SchemeCL100K]
		}
		e.units = ratioUnits(ratio)
	case SchemeBytes:
		e.units = func(text string) int { return len(text) }
	case SchemeRequests:
		e.requestsOnly = true
		e.units = func(string) int { return 0 }
	default:
		return nil, fmt.Errorf("%w: %q (want one of %s)", ErrUnknownScheme, scheme, strings.Join(Schemes(), ", "))
	}

	return e, nil
}

func ratioUnits(ratio float64) func(string) int {
	return func(text string) int {
		if text == "" {
			return 0
		}
		return int(math.Ceil(float64(len(text)) / ratio))
	}
}

// Scheme returns the configured scheme name.
func (e *TokenEstimator) Scheme() string {
	return e.scheme
}

// Estimate returns the cost of payload, which must be a JSON object.
func (e *TokenEstimator) Estimate(payload []byte) (int, error) {
	if !gjson.ValidBytes(payload) {
		return 0, ErrInvalidPayload
	}
	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return 0, ErrInvalidPayload
	}
	if e.requestsOnly {
		return 0, nil
	}

	if messages := root.Get("messages"); messages.IsArray() {
		return addUnits(e.chatUnits(messages), e.completionUnits(root)), nil
	}
	if prompt := root.Get("prompt"); prompt.Exists() {
		return addUnits(e.listUnits(prompt), e.completionUnits(root)), nil
	}
	if input := root.Get("input"); input.Exists() {
		return e.listUnits(input), nil
	}

	return e.units(root.Raw), nil
}

func (e *TokenEstimator) chatUnits(messages gjson.Result) int {
	total := 0
	messages.ForEach(func(_, message gjson.Result) bool {
		total += tokensPerMessage
		message.ForEach(func(key, value gjson.Result) bool {
			total += e.valueUnits(value)
			if key.Str == "name" {
				total += tokensPerName
			}
			return true
		})
		return true
	})
	return total + replyPriming
}

// valueUnits counts a message field: strings directly, content part arrays
// by their text members.
func (e *TokenEstimator) valueUnits(value gjson.Result) int {
	switch {
	case value.Type == gjson.String:
		return e.units(value.Str)
	case value.IsArray():
		total := 0
		value.ForEach(func(_, part gjson.Result) bool {
			if part.Type == gjson.String {
				total += e.units(part.Str)
				return true
			}
			if text := part.Get("text"); text.Type == gjson.String {
				total += e.units(text.Str)
			}
			return true
		})
		return total
	default:
		return 0
	}
}

// listUnits counts a prompt or input member: a string, a list of strings, a
// list of token ids, or a list of token id lists.
func (e *TokenEstimator) listUnits(value gjson.Result) int {
	if value.Type == gjson.String {
		return e.units(value.Str)
	}
	if !value.IsArray() {
		return 0
	}

	return lo.SumBy(value.Array(), func(element gjson.Result) int {
		switch {
		case element.Type == gjson.String:
			return e.units(element.Str)
		case element.Type == gjson.Number:
			return 1
		case element.IsArray():
			return len(element.Array())
		default:
			return 0
		}
	})
}

// completionUnits is n times the per-choice allowance. Both come from the
// payload, so the product saturates at MaxUnits instead of wrapping.
func (e *TokenEstimator) completionUnits(root gjson.Result) int {
	choices := clampUnits(root.Get("n").Int())
	if choices < 1 {
		choices = 1
	}

	perChoice := e.allowance
	for _, key := range []string{"max_completion_tokens", "max_tokens"} {
		if v := root.Get(key); v.Type == gjson.Number {
			perChoice = clampUnits(v.Int())
			break
		}
	}
	if perChoice <= 0 {
		return 0
	}

	if choices > MaxUnits/perChoice {
		return MaxUnits
	}
	return choices * perChoice
}

// MaxUnits is the largest cost Estimate reports. Larger estimates saturate,
// which is still far above any cost budget.
const MaxUnits = math.MaxInt32

func clampUnits(v int64) int {
	switch {
	case v > MaxUnits:
		return MaxUnits
	case v < 0:
		return 0
	}
	return int(v)
}

func addUnits(a, b int) int {
	if a > MaxUnits-b {
		return MaxUnits
	}
	return a + b
}

var _ Estimator = (*TokenEstimator)(nil)
