package orchestrator

import (
	"strings"

	"github.com/themislabs/themis/internal/matter"
)

// DefaultSignalAliases maps canonical signal names to the matter keys
// that satisfy them. Agents and clients do not always use the canonical
// name, so presence checks expand through these before scanning.
func DefaultSignalAliases() map[string][]string {
	return map[string][]string{
		"facts":                {"fact_pattern", "fact_pattern_summary"},
		"issues":               {"legal_issues"},
		"controlling_authority": {"controlling_authorities", "authorities"},
		"contrary_authority":    {"contrary_authorities", "negative_authority"},
		"application":           {"analysis", "application"},
		"draft":                 {"strategy", "draft"},
		"client_safe_summary":   {"client_safe", "client_summary"},
	}
}

// SignalPresent reports whether a signal is satisfied by the matter.
// Each candidate name (the signal itself plus its aliases) is checked
// as a dotted path, then as a top-level key, then by a depth-bounded
// scan of nested payloads. A key that exists but holds an empty value
// does not satisfy the signal.
func SignalPresent(m matter.Matter, signal string, aliases map[string][]string, maxDepth int) bool {
	candidates := []string{signal}
	if alts, ok := aliases[signal]; ok {
		candidates = append(candidates, alts...)
	}
	for _, name := range candidates {
		if strings.Contains(name, ".") {
			if v, ok := m.Lookup(name); ok && matter.Truthy(v) {
				return true
			}
			continue
		}
		if v, ok := m[name]; ok && matter.Truthy(v) {
			return true
		}
		if v, found := matter.FindNested(m, name, maxDepth); found && matter.Truthy(v) {
			return true
		}
	}
	return false
}

// MissingSignals returns the signals from want not satisfied by the
// matter, in the order given.
func MissingSignals(m matter.Matter, want []string, aliases map[string][]string, maxDepth int) []string {
	var missing []string
	for _, signal := range want {
		if !SignalPresent(m, signal, aliases, maxDepth) {
			missing = append(missing, signal)
		}
	}
	return missing
}
