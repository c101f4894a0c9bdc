// Package extract turns rendered HTML into a normalized key/value state map
// according to a per-target extraction config. It is deterministic for a
// fixed document and config, and never touches storage.
package extract

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/xpath"
	"golang.org/x/net/html"
)

// StateMap is the normalized observation of a page: one value per configured
// key. Keys missing from the page carry an empty string.
type StateMap map[string]string

// KeySpec describes how one key is located and normalized.
type KeySpec struct {
	// Selector is a CSS selector, or an XPath expression when it starts
	// with "//".
	Selector string `json:"selector"`
	// Lowercase folds the value to lower case after whitespace collapsing.
	Lowercase bool `json:"lowercase,omitempty"`
	// Numeric casts the value to a canonical decimal rendering. Cast
	// failures fall back to the uncast value.
	Numeric bool `json:"numeric,omitempty"`
	// AlertValues lists the values considered alert-relevant under the
	// first-match-only policy. Ignored by other policies.
	AlertValues []string `json:"alert_values,omitempty"`
}

// Config maps state keys to their extraction rules.
type Config struct {
	Keys map[string]KeySpec `json:"keys"`
}

// MinimalConfig is the fallback used when config synthesis is unavailable:
// the whole visible body text under a single "content" key.
func MinimalConfig() Config {
	return Config{Keys: map[string]KeySpec{
		"content": {Selector: "body"},
	}}
}

// ParseConfig decodes and validates a stored config document.
func ParseConfig(raw string) (Config, error) {
	var cfg Config
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Bounds on synthesized configs.
const (
	maxKeys     = 64
	maxKeyBytes = 128
)

// Validate checks that the config has at least one key and that every
// selector compiles under its engine. Invalid configs must never be
// persisted.
func (c Config) Validate() error {
	if len(c.Keys) == 0 {
		return fmt.Errorf("config has no keys")
	}
	if len(c.Keys) > maxKeys {
		return fmt.Errorf("config has %d keys, max %d", len(c.Keys), maxKeys)
	}
	for key, spec := range c.Keys {
		if key == "" {
			return fmt.Errorf("config has an empty key name")
		}
		if len(key) > maxKeyBytes {
			return fmt.Errorf("key name exceeds %d bytes", maxKeyBytes)
		}
		if spec.Selector == "" {
			return fmt.Errorf("key %q: empty selector", key)
		}
		if isXPath(spec.Selector) {
			if _, err := xpath.Compile(spec.Selector); err != nil {
				return fmt.Errorf("key %q: invalid xpath %q: %w", key, spec.Selector, err)
			}
		} else {
			if _, err := cascadia.Compile(spec.Selector); err != nil {
				return fmt.Errorf("key %q: invalid css selector %q: %w", key, spec.Selector, err)
			}
		}
	}
	return nil
}

// JSON renders the config for storage.
func (c Config) JSON() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return string(b), nil
}

// Extractor applies configs to documents. Normalization fallbacks are
// logged, never fatal.
type Extractor struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger.With("component", "extract")}
}

// Extract resolves every configured key against the document. A key whose
// selector matches nothing yields an empty string; only when every key is
// missing does extraction fail, since that almost always means the page
// changed shape underneath the config.
func (x *Extractor) Extract(htmlSrc string, cfg Config) (StateMap, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &Error{Kind: KindSelectorMissing, Detail: "invalid config", Err: err}
	}

	root, err := html.Parse(strings.NewReader(htmlSrc))
	if err != nil {
		return nil, &Error{Kind: KindTransient, Detail: "parse document", Err: err}
	}
	doc := goquery.NewDocumentFromNode(root)

	state := make(StateMap, len(cfg.Keys))
	missing := 0
	for key, spec := range cfg.Keys {
		raw, found := firstMatch(doc, root, spec.Selector)
		if !found {
			state[key] = ""
			missing++
			continue
		}
		val, err := normalizeValue(raw, spec)
		if err != nil {
			// Cast failures keep the whitespace-normalized value.
			x.logger.Debug("extract: normalize fallback",
				"key", key, "value", val, "error", err)
		}
		state[key] = val
	}

	if missing == len(cfg.Keys) {
		return nil, &Error{
			Kind:   KindSelectorMissing,
			Detail: fmt.Sprintf("all %d selectors matched nothing", len(cfg.Keys)),
		}
	}
	return state, nil
}

// Equal reports whether two state maps carry identical observations.
func (m StateMap) Equal(other StateMap) bool {
	if len(m) != len(other) {
		return false
	}
	for k, v := range m {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// JSON renders the state for storage. Map keys are sorted by the encoder, so
// equal states always produce identical documents.
func (m StateMap) JSON() (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}
	return string(b), nil
}

// ParseState decodes a stored state document. An empty document is a missing
// baseline, not an error.
func ParseState(raw string) (StateMap, error) {
	if raw == "" {
		return nil, nil
	}
	var m StateMap
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	return m, nil
}
