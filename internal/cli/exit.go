package cli

import "fmt"

// ExitError carries a process exit code out of a command. Message is
// printed to stderr when non-empty; a bare code exits silently.
type ExitError struct {
	code    int
	message string
}

func (e *ExitError) Error() string {
	if e == nil {
		return ""
	}
	if e.message == "" {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.message
}

func (e *ExitError) Code() int {
	if e == nil {
		return 1
	}
	return e.code
}

func (e *ExitError) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}
