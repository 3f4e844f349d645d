package sshexec

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/projectdiscovery/gologger"
	errorutil "github.com/projectdiscovery/utils/errors"
	"golang.org/x/crypto/ssh"
)

// DefaultConnectTimeout bounds session establishment when the caller does
// not supply one. There is no "wait forever" mode anywhere in this package.
const DefaultConnectTimeout = 10 * time.Second

// Runner executes a command on a remote host and blocks until the command
// has fully completed. Higher layers depend on this interface so they can be
// exercised against a recording double in tests.
type Runner interface {
	Run(ctx context.Context, command string, timeout time.Duration) (string, error)
}

// PasswordFunc supplies the remote login secret. It is invoked once per
// dialed session.
type PasswordFunc func() (string, error)

// Config describes one SSH endpoint.
type Config struct {
	Host           string
	Port           int
	Username       string
	Password       PasswordFunc
	ConnectTimeout time.Duration
}

func (c *Config) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Client wraps an authenticated SSH connection. Each Run opens a fresh
// session on the shared connection; sessions are single-use in the SSH
// protocol.
type Client struct {
	conn *ssh.Client
	addr string
}

// Dial establishes an authenticated session to the configured endpoint.
func Dial(ctx context.Context, config *Config) (*Client, error) {
	if config.Password == nil {
		return nil, errorutil.New("sshexec: password callback is required")
	}
	timeout := config.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	addr := config.addr()
	clientConfig := &ssh.ClientConfig{
		User:            config.Username,
		Auth:            []ssh.AuthMethod{ssh.PasswordCallback(config.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	type dialResult struct {
		conn *ssh.Client
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := ssh.Dial("tcp", addr, clientConfig)
		ch <- dialResult{conn, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, &ConnectError{Kind: classifyDialError(r.err), Host: addr, Err: r.err}
		}
		gologger.Verbose().Msgf("connected to %s as %s", addr, config.Username)
		return &Client{conn: r.conn, addr: addr}, nil
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, &ConnectError{Kind: KindTimeout, Host: addr, Err: ctx.Err()}
	}
}

// Run executes command on the remote host and waits for it to fully
// complete before returning. Returning at session-creation time instead of
// command completion silently breaks every downstream step that assumes the
// previous one finished, so completion here means the remote process exited
// and its output has been drained.
func (c *Client) Run(ctx context.Context, command string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		return "", errorutil.New("sshexec: an explicit timeout is required")
	}

	type runResult struct {
		output []byte
		err    error
	}
	ch := make(chan runResult, 1)
	go func() {
		session, err := c.conn.NewSession()
		if err != nil {
			ch <- runResult{nil, &ExecError{Kind: KindDisconnected, Command: command, Err: err}}
			return
		}
		defer session.Close()
		// CombinedOutput blocks until the remote process exits and both
		// streams are drained.
		output, err := session.CombinedOutput(command)
		if err != nil {
			ch <- runResult{output, classifyRunError(command, output, err)}
			return
		}
		ch <- runResult{output, nil}
	}()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case r := <-ch:
		return string(r.output), r.err
	case <-runCtx.Done():
		// The remote command cannot be recalled once dispatched; the
		// goroutine is left to drain on its own.
		return "", &ExecError{Kind: KindTimeout, Command: command, Err: runCtx.Err()}
	}
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func classifyDialError(err error) ErrorKind {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	if strings.Contains(err.Error(), "unable to authenticate") ||
		strings.Contains(err.Error(), "permission denied") {
		return KindAuthFailed
	}
	return KindUnreachable
}

func classifyRunError(command string, output []byte, err error) error {
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return &ExecError{
			Kind:    KindNonZeroExit,
			Command: command,
			Output:  string(output),
			Err:     errorutil.NewWithErr(err).Msgf("exit status %d", exitErr.ExitStatus()),
		}
	}
	// anything else (ExitMissingError included) means the session died
	// before the command's exit status was seen
	return &ExecError{Kind: KindDisconnected, Command: command, Output: string(output), Err: err}
}
