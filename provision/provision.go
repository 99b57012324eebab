package provision

import (
	"strings"

	"go.uber.org/zap"

	"github.com/isdmx/codeact/capability"
	"github.com/isdmx/codeact/config"
	"github.com/isdmx/codeact/engine"
)

// corrections maps frequent misspellings of module names to their
// canonical form. Applied before authorization so a typo'd request still
// resolves to the module the caller meant.
var corrections = map[string]string{
	"maths":   "math",
	"string":  "strings",
	"jsn":     "json",
	"jsonn":   "json",
	"canvass": "canvas",
	"canves":  "canvas",
}

// NewCapabilitySet builds the session capability set from configuration.
// The standard tier comes from the engine's built-in module registry; the
// extended tier is the configured list after canonicalization.
func NewCapabilitySet(cfg *config.Config, logger *zap.Logger) *capability.Set {
	extended := make([]string, 0, len(cfg.Capabilities.Extended))
	seen := make(map[string]struct{})

	for _, raw := range cfg.Capabilities.Extended {
		name := Canonicalize(raw)
		if name == "" {
			continue
		}
		if name != strings.TrimSpace(raw) {
			logger.Info("corrected misspelled capability name",
				zap.String("requested", raw),
				zap.String("resolved", name))
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		extended = append(extended, name)
	}

	logger.Info("capability set provisioned",
		zap.Strings("extended", extended),
		zap.Strings("standard", engine.StandardModuleNames()))

	return capability.NewSet(engine.StandardModuleNames(), extended)
}

// Canonicalize normalizes a requested module name: trims whitespace,
// lowercases, and applies the misspelling table. Returns "" for names
// that are empty after trimming.
func Canonicalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if fixed, ok := corrections[name]; ok {
		return fixed
	}
	return name
}
