package engine

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"

	"github.com/isdmx/codeact/capability"
)

// SyntaxRejection is raised when the deny-by-default transformer meets a
// construct it has not explicitly allowed. The program never runs.
type SyntaxRejection struct {
	Line      int
	Construct string
	Reason    string
}

func (e *SyntaxRejection) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("line %d: %s is not permitted (%s)", e.Line, e.Construct, e.Reason)
	}
	return fmt.Sprintf("line %d: %s is not permitted", e.Line, e.Construct)
}

// ProtectedWriteError is raised when a program writes to an attribute
// name reserved for engine internals.
type ProtectedWriteError struct {
	Name string
}

func (e *ProtectedWriteError) Error() string {
	return fmt.Sprintf("write to protected attribute %q is rejected", e.Name)
}

// protectedName reports whether an attribute name is off-limits for
// writes. Dunder-style names are reserved for engine bindings.
func protectedName(name string) bool {
	switch name {
	case "__proto__", "prototype", "constructor":
		return true
	}
	return len(name) >= 2 && name[0] == '_' && name[1] == '_'
}

// runtimeFault is an execution fault raised by the interpreted strategy.
type runtimeFault struct {
	msg   string
	line  int
	stack []string
}

func (e *runtimeFault) Error() string {
	if e.line > 0 {
		return fmt.Sprintf("%s (line %d)", e.msg, e.line)
	}
	return e.msg
}

func faultf(line int, format string, args ...any) *runtimeFault {
	return &runtimeFault{msg: fmt.Sprintf(format, args...), line: line}
}

// unwrapHostFault digs the original Go error out of an engine exception
// so capability denials and guard rejections keep their identity after
// crossing the script boundary.
func unwrapHostFault(err error) error {
	var exc *goja.Exception
	if errors.As(err, &exc) {
		if v := exc.Value(); v != nil {
			if hostErr, ok := v.Export().(error); ok {
				return hostErr
			}
		}
	}
	return err
}

// formatFault renders an execution fault as the stderr diagnostic text.
// Every fault class keeps a recognizable shape so callers can tell a
// capability denial from a rejected construct or an ordinary exception.
func formatFault(err error) string {
	err = unwrapHostFault(err)

	var capErr *capability.Error
	if errors.As(err, &capErr) {
		return capErr.Error()
	}
	var rej *SyntaxRejection
	if errors.As(err, &rej) {
		return "compilation rejected:\n" + rej.Error()
	}
	var guard *ProtectedWriteError
	if errors.As(err, &guard) {
		return guard.Error()
	}
	var thrown *thrownError
	if errors.As(err, &thrown) {
		return "uncaught exception: " + displayString(thrown.value)
	}
	var fault *runtimeFault
	if errors.As(err, &fault) {
		text := "execution fault: " + fault.Error()
		for _, frame := range fault.stack {
			text += "\n  in " + frame
		}
		return text
	}
	var exc *goja.Exception
	if errors.As(err, &exc) {
		return exc.String()
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Sprintf("execution fault: %v", interrupted.Value())
	}
	return err.Error()
}
