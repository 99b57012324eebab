// Package capability implements the import whitelist consulted during
// sandboxed execution.
//
// A capability Set partitions module names into a standard tier (always
// resolvable, no provisioning required) and an extended tier (must be
// explicitly authorized before the session starts). The Set is immutable
// for the lifetime of a session; changing the authorized names requires
// constructing a new session.
//
// Usage:
//
//	set := capability.NewSet([]string{"math", "json"}, []string{"canvas"})
//	switch set.Authorize("canvas.rect") {
//	case capability.Authorized:
//	    // extended module, explicitly provisioned
//	case capability.StdlibOnly:
//	    // standard module, always available
//	case capability.Denied:
//	    // must surface a capability.Error to the caller
//	}
package capability
