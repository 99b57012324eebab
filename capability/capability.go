package capability

import (
	"fmt"
	"sort"
	"strings"
)

// Decision classifies the outcome of an authorization check.
type Decision int

const (
	// Denied means the name is not present in the capability set.
	Denied Decision = iota
	// StdlibOnly means the name belongs to the standard tier and is
	// resolvable without any provisioning step.
	StdlibOnly
	// Authorized means the name belongs to the extended tier and was
	// explicitly provisioned for this session.
	Authorized
)

// String returns a human-readable name for the decision.
func (d Decision) String() string {
	switch d {
	case StdlibOnly:
		return "stdlib"
	case Authorized:
		return "authorized"
	default:
		return "denied"
	}
}

// Error is raised when execution references a module that is not in the
// capability set. It always identifies the offending top-level name so
// the denial is never silently swallowed.
type Error struct {
	Name string
}

func (e *Error) Error() string {
	return fmt.Sprintf("capability error: module %q is not authorized for this session", e.Name)
}

// Set is the whitelist of module names a sandbox session may reference.
// It is read-only after construction.
type Set struct {
	std      map[string]struct{}
	extended map[string]struct{}
}

// NewSet builds a capability set from the standard and extended name lists.
// Empty names are ignored.
func NewSet(std, extended []string) *Set {
	s := &Set{
		std:      make(map[string]struct{}, len(std)),
		extended: make(map[string]struct{}, len(extended)),
	}
	for _, name := range std {
		if name != "" {
			s.std[name] = struct{}{}
		}
	}
	for _, name := range extended {
		if name != "" {
			s.extended[name] = struct{}{}
		}
	}
	return s
}

// Authorize resolves a requested name against the set. Dotted names are
// evaluated by their top-level component, so "a.b.c" is looked up as "a".
func (s *Set) Authorize(name string) Decision {
	top := name
	if idx := strings.IndexByte(name, '.'); idx >= 0 {
		top = name[:idx]
	}
	if _, ok := s.std[top]; ok {
		return StdlibOnly
	}
	if _, ok := s.extended[top]; ok {
		return Authorized
	}
	return Denied
}

// TopLevel returns the component of name that authorization decisions are
// based on.
func TopLevel(name string) string {
	if idx := strings.IndexByte(name, '.'); idx >= 0 {
		return name[:idx]
	}
	return name
}

// Names returns every authorized name, sorted, for diagnostics.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.std)+len(s.extended))
	for name := range s.std {
		names = append(names, name)
	}
	for name := range s.extended {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
