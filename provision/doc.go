// Package provision builds the capability set a sandbox session starts with.
//
// Provisioning resolves the configured extended module names into
// authorization grants, correcting common misspellings before they reach
// the engine. The standard module tier is always granted and never needs
// provisioning. The resulting capability set is immutable for the session.
package provision
