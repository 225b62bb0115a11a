// File: internal/intent/intent.go
package intent

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies which browser action an Intent requests.
type Kind string

const (
	KindNavigate Kind = "navigate"
	KindClick    Kind = "click"
	KindSearch   Kind = "search"
	KindType     Kind = "type"
	KindScroll   Kind = "scroll"
	KindExtract  Kind = "extract"
	KindRespond  Kind = "respond"
	KindBack     Kind = "back"
	KindForward  Kind = "forward"
	KindReload   Kind = "reload"
)

// kindAliases maps alternate spellings emitted by planners to their canonical kind.
var kindAliases = map[string]Kind{
	"enter_text": KindType,
	"goto":       KindNavigate,
	"go_back":    KindBack,
	"refresh":    KindReload,
}

// ParseKind canonicalizes a raw action name. Unknown names are returned as-is
// so that validation can report them.
func ParseKind(raw string) Kind {
	name := strings.ToLower(strings.TrimSpace(raw))
	if k, ok := kindAliases[name]; ok {
		return k
	}
	return Kind(name)
}

// Known reports whether k is one of the supported kinds.
func (k Kind) Known() bool {
	switch k {
	case KindNavigate, KindClick, KindSearch, KindType, KindScroll, KindExtract,
		KindRespond, KindBack, KindForward, KindReload:
		return true
	}
	return false
}

// Scroll directions.
const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

// Intent is one abstract browser action requested by a planner. It is a value
// type: the engine keeps its own copy once an intent is enqueued. Which fields
// are meaningful depends on Kind.
type Intent struct {
	Kind        Kind   `json:"action"`
	URL         string `json:"url,omitempty"`
	Selector    string `json:"selector,omitempty"`
	Text        string `json:"text,omitempty"`
	ElementType string `json:"element_type,omitempty"`
	Value       string `json:"value,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Direction   string `json:"direction,omitempty"`
	Amount      int    `json:"amount,omitempty"`
	Attribute   string `json:"attribute,omitempty"`
	Message     string `json:"message,omitempty"`
}

// wireIntent mirrors Intent for decoding, with a lenient amount field.
type wireIntent struct {
	Action      string          `json:"action"`
	URL         string          `json:"url"`
	Selector    string          `json:"selector"`
	Text        string          `json:"text"`
	ElementType string          `json:"element_type"`
	Value       string          `json:"value"`
	Placeholder string          `json:"placeholder"`
	Direction   string          `json:"direction"`
	Amount      json.RawMessage `json:"amount"`
	Attribute   string          `json:"attribute"`
	Message     string          `json:"message"`
}

// UnmarshalJSON accepts the planner wire format. The action name is
// canonicalized and amount may be a number or a numeric string.
func (i *Intent) UnmarshalJSON(data []byte) error {
	var w wireIntent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	amount, err := parseAmount(w.Amount)
	if err != nil {
		return err
	}
	*i = Intent{
		Kind:        ParseKind(w.Action),
		URL:         w.URL,
		Selector:    w.Selector,
		Text:        w.Text,
		ElementType: w.ElementType,
		Value:       w.Value,
		Placeholder: w.Placeholder,
		Direction:   strings.ToLower(strings.TrimSpace(w.Direction)),
		Amount:      amount,
		Attribute:   w.Attribute,
		Message:     w.Message,
	}
	return nil
}

func parseAmount(raw json.RawMessage) (int, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSuffix(strings.TrimSpace(unq), "px")
		if s == "" {
			return 0, nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("amount must be a number, got %s", string(raw))
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("amount must be finite, got %s", string(raw))
	}
	if math.Abs(f) > MaxScrollAmount {
		return 0, fmt.Errorf("amount must be at most %d, got %s", MaxScrollAmount, string(raw))
	}
	return int(f), nil
}

// MaxScrollAmount bounds the scroll distance in pixels.
const MaxScrollAmount = 1_000_000

// ErrInvalidIntent is wrapped by every ValidationError.
var ErrInvalidIntent = errors.New("invalid intent")

// ValidationError describes why an intent was rejected.
type ValidationError struct {
	Kind   Kind
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid %s intent: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("invalid %s intent: %s %s", e.Kind, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidIntent }

func invalid(k Kind, field, reason string) error {
	return &ValidationError{Kind: k, Field: field, Reason: reason}
}

// Validate checks the kind-specific required fields. It never modifies the
// intent.
func (i Intent) Validate() error {
	switch i.Kind {
	case KindNavigate:
		if strings.TrimSpace(i.URL) == "" {
			return invalid(i.Kind, "url", "is required")
		}
		if _, err := NormalizeURL(i.URL); err != nil {
			return invalid(i.Kind, "url", err.Error())
		}
	case KindClick:
		if strings.TrimSpace(i.Selector) == "" && strings.TrimSpace(i.Text) == "" {
			return invalid(i.Kind, "", "one of selector or text is required")
		}
	case KindSearch:
		if strings.TrimSpace(i.Value) == "" {
			return invalid(i.Kind, "value", "is required")
		}
	case KindType:
		if i.Text == "" {
			return invalid(i.Kind, "text", "is required")
		}
	case KindScroll:
		if i.Direction != DirectionUp && i.Direction != DirectionDown {
			return invalid(i.Kind, "direction", fmt.Sprintf("must be %q or %q", DirectionUp, DirectionDown))
		}
		if i.Amount < 0 {
			return invalid(i.Kind, "amount", "must be positive")
		}
		if i.Amount > MaxScrollAmount {
			return invalid(i.Kind, "amount", fmt.Sprintf("must be at most %d", MaxScrollAmount))
		}
	case KindExtract:
		if strings.TrimSpace(i.Selector) == "" {
			return invalid(i.Kind, "selector", "is required")
		}
	case KindRespond:
		if strings.TrimSpace(i.Message) == "" {
			return invalid(i.Kind, "message", "is required")
		}
	case KindBack, KindForward, KindReload:
	case "":
		return invalid(i.Kind, "action", "is required")
	default:
		return invalid(i.Kind, "action", "is not a supported kind")
	}
	return nil
}

// Fingerprint returns a stable identity of the kind and payload. Two intents
// are duplicates exactly when their fingerprints are equal.
func (i Intent) Fingerprint() string {
	fields := []string{
		string(i.Kind), i.URL, i.Selector, i.Text, i.ElementType, i.Value,
		i.Placeholder, i.Direction, strconv.Itoa(i.Amount), i.Attribute, i.Message,
	}
	var b strings.Builder
	for n, f := range fields {
		if n > 0 {
			b.WriteByte(0x1f)
		}
		b.WriteString(strconv.Quote(f))
	}
	return b.String()
}

// String renders a short human description for logs and the chat transcript.
func (i Intent) String() string {
	switch i.Kind {
	case KindNavigate:
		return fmt.Sprintf("navigate %s", i.URL)
	case KindClick:
		if i.Text != "" {
			return fmt.Sprintf("click %q", i.Text)
		}
		return fmt.Sprintf("click %s", i.Selector)
	case KindSearch:
		return fmt.Sprintf("search %q", i.Value)
	case KindType:
		return fmt.Sprintf("type %q", i.Text)
	case KindScroll:
		if i.Amount > 0 {
			return fmt.Sprintf("scroll %s %d", i.Direction, i.Amount)
		}
		return fmt.Sprintf("scroll %s", i.Direction)
	case KindExtract:
		return fmt.Sprintf("extract %s", i.Selector)
	case KindRespond:
		return "respond"
	default:
		return string(i.Kind)
	}
}

// ParseList decodes a JSON array of intents, or a single intent object.
func ParseList(data []byte) ([]Intent, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var one Intent
		if err := json.Unmarshal([]byte(trimmed), &one); err != nil {
			return nil, fmt.Errorf("decoding intent: %w", err)
		}
		return []Intent{one}, nil
	}
	var list []Intent
	if err := json.Unmarshal([]byte(trimmed), &list); err != nil {
		return nil, fmt.Errorf("decoding intent list: %w", err)
	}
	return list, nil
}
