package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/ssh"
)

// Run executes a shell command in dir on the remote host, streaming
// combined output to out. Returns the command's exit code. Cancelling
// ctx signals and closes the session.
func (c *Client) Run(ctx context.Context, command, dir string, out io.Writer) (int, error) {
	session, err := c.conn.NewSession()
	if err != nil {
		return -1, fmt.Errorf("ssh session: %w", err)
	}
	defer session.Close()

	session.Stdout = out
	session.Stderr = out

	full := command
	if dir != "" {
		full = fmt.Sprintf("cd %s && %s", shellQuote(dir), command)
	}
	if err := session.Start("sh -c " + shellQuote(full)); err != nil {
		return -1, fmt.Errorf("start command: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		session.Close()
		<-done
		return -1, ctx.Err()
	case err := <-done:
		if err == nil {
			return 0, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitStatus(), nil
		}
		return -1, err
	}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Terminal is an interactive remote shell on a PTY.
type Terminal struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
}

// Shell opens a login shell in dir with a PTY of the given size.
func (c *Client) Shell(dir string, cols, rows int) (*Terminal, error) {
	session, err := c.conn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("ssh session: %w", err)
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm-256color", rows, cols, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, err
	}
	// With a PTY allocated the remote merges stderr into the terminal
	// stream, so stdout alone carries everything.
	cmd := "exec $SHELL -l"
	if dir != "" {
		cmd = fmt.Sprintf("cd %s && exec $SHELL -l", shellQuote(dir))
	}
	if err := session.Start(cmd); err != nil {
		session.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}
	return &Terminal{session: session, stdin: stdin, stdout: stdout}, nil
}

func (t *Terminal) Read(p []byte) (int, error) { return t.stdout.Read(p) }

func (t *Terminal) Write(p []byte) (int, error) { return t.stdin.Write(p) }

// Resize propagates a window size change to the remote PTY.
func (t *Terminal) Resize(cols, rows int) error {
	return t.session.WindowChange(rows, cols)
}

func (t *Terminal) Close() error {
	t.stdin.Close()
	return t.session.Close()
}
