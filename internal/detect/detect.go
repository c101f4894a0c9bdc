// Package detect decides whether two observations of a page differ in a way
// worth alerting on. It is pure: no storage, no clock, no I/O, so every
// policy rule is testable with plain maps.
package detect

import (
	"fmt"
	"slices"
	"strings"

	"github.com/hazyhaar/vigil/internal/extract"
)

// Policy selects the emission rule. Values mirror the stored alert_policy
// column; the pipeline converts between the two.
type Policy string

const (
	// PolicyEveryChange emits on any non-empty diff.
	PolicyEveryChange Policy = "every-change"
	// PolicyFirstMatchOnly emits only when a changed key enters its
	// alert-relevant value set: once per entry, again on every re-entry.
	PolicyFirstMatchOnly Policy = "first-match-only"
	// PolicyIntent emits on any non-empty diff like every-change; the
	// pipeline then asks the AI judge whether the diff matches the
	// target's stated intent.
	PolicyIntent Policy = "intent"
)

// Input is one detection round. LastAlert carries the alert-key snapshot
// persisted after the previous round and is ignored by the other policies.
type Input struct {
	Policy    Policy
	KeyAlerts map[string][]string
	Prior     extract.StateMap
	Current   extract.StateMap
	LastAlert extract.StateMap
}

// Draft is the unpersisted change event produced on emit. The pipeline
// completes it with the target name, permalink and timestamps.
type Draft struct {
	Title       string
	Description string
	Fingerprint string
	ChangedKeys []string
}

// Result of one detection round. NextAlertState must be persisted by the
// caller whether or not an event was emitted.
type Result struct {
	Emit           bool
	Draft          *Draft
	NextAlertState extract.StateMap
}

// Detect compares prior and current state under the given policy. A nil
// prior establishes the baseline and never emits.
func Detect(in Input) Result {
	res := Result{NextAlertState: in.LastAlert}
	if in.Prior == nil {
		return res
	}

	changed := diffKeys(in.Prior, in.Current)
	if len(changed) == 0 {
		return res
	}

	if in.Policy == PolicyFirstMatchOnly {
		// The snapshot tracks the current values regardless of emission,
		// so a key that leaves its alert set clears its slot and a later
		// re-entry alerts again.
		res.NextAlertState = alertSnapshot(in.KeyAlerts, in.Current)
		if !alertTransition(changed, in) {
			return res
		}
	}

	res.Emit = true
	res.Draft = &Draft{
		Description: describe(changed, in.Prior, in.Current),
		Fingerprint: fingerprint(changed, in.Prior, in.Current),
		ChangedKeys: changed,
	}
	return res
}

// diffKeys returns the sorted set of keys added, removed, or changed between
// the two states.
func diffKeys(prior, current extract.StateMap) []string {
	var changed []string
	for k, cv := range current {
		pv, ok := prior[k]
		if !ok || pv != cv {
			changed = append(changed, k)
		}
	}
	for k := range prior {
		if _, ok := current[k]; !ok {
			changed = append(changed, k)
		}
	}
	slices.Sort(changed)
	return changed
}

// alertTransition reports whether any changed key entered its alert-relevant
// value set this round: the current value is in the set while the prior one
// was not. Any one qualifying key suffices.
func alertTransition(changed []string, in Input) bool {
	for _, k := range changed {
		relevant := in.KeyAlerts[k]
		if len(relevant) == 0 {
			continue
		}
		cv, ok := in.Current[k]
		if !ok {
			continue
		}
		if !slices.Contains(relevant, cv) {
			continue
		}
		if pv, ok := in.Prior[k]; ok && slices.Contains(relevant, pv) {
			continue
		}
		return true
	}
	return false
}

// alertSnapshot records the current values of every alert-relevant key, so a
// value oscillating back and forth alerts once per entry rather than on
// every scrape in between.
func alertSnapshot(keyAlerts map[string][]string, current extract.StateMap) extract.StateMap {
	snap := make(extract.StateMap, len(keyAlerts))
	for k := range keyAlerts {
		if v, ok := current[k]; ok {
			snap[k] = v
		}
	}
	return snap
}

// describe renders one line per changed key in "key: prior → current" form.
// Keys absent from a state render as "(none)".
func describe(changed []string, prior, current extract.StateMap) string {
	lines := make([]string, 0, len(changed))
	for _, k := range changed {
		lines = append(lines, fmt.Sprintf("%s: %s → %s", k, renderValue(prior, k), renderValue(current, k)))
	}
	return strings.Join(lines, "\n")
}

func renderValue(m extract.StateMap, key string) string {
	v, ok := m[key]
	if !ok {
		return "(none)"
	}
	return v
}
