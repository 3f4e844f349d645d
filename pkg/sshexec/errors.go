package sshexec

import "fmt"

// ErrorKind classifies connection and execution failures so callers can
// report which stage of a pipeline broke on which rig.
type ErrorKind int

const (
	KindTimeout ErrorKind = iota
	KindAuthFailed
	KindUnreachable
	KindNonZeroExit
	KindDisconnected
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindAuthFailed:
		return "auth-failed"
	case KindUnreachable:
		return "unreachable"
	case KindNonZeroExit:
		return "non-zero-exit"
	case KindDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ConnectError is returned by Dial when a session could not be established.
type ConnectError struct {
	Kind ErrorKind
	Host string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to %s failed (%s): %v", e.Host, e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ExecError is returned by Run when the remote command did not complete
// successfully. Output carries whatever the command produced before failing.
type ExecError struct {
	Kind    ErrorKind
	Command string
	Output  string
	Err     error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("remote command failed (%s): %v", e.Kind, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a connect or exec timeout.
func IsTimeout(err error) bool {
	switch e := err.(type) {
	case *ConnectError:
		return e.Kind == KindTimeout
	case *ExecError:
		return e.Kind == KindTimeout
	}
	return false
}
