//go:build unix

package ptybridge

import (
	"context"
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// LocalBackend spawns Command as a child process attached to a real PTY
// device, grounded on the creack/pty usage in the retrieval pack's
// standalone sandbox-server example (the teacher itself never opens a
// genuine PTY — see DESIGN.md).
type LocalBackend struct {
	// Command is the program to launch as the terminal's foreground
	// process, e.g. the user's shell. Args are passed through unmodified.
	Command string
	Args    []string
}

type localSession struct {
	cmd *exec.Cmd
	pty *os.File
}

// Open implements Backend.
func (b LocalBackend) Open(ctx context.Context, rows, cols uint16) (Session, error) {
	cmd := exec.CommandContext(ctx, b.Command, b.Args...)
	f, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		return nil, err
	}
	return &localSession{cmd: cmd, pty: f}, nil
}

func (s *localSession) Read(p []byte) (int, error)  { return s.pty.Read(p) }
func (s *localSession) Write(p []byte) (int, error) { return s.pty.Write(p) }

func (s *localSession) Resize(rows, cols uint16) error {
	return pty.Setsize(s.pty, &pty.Winsize{Rows: rows, Cols: cols})
}

func (s *localSession) Kill() error {
	_ = s.pty.Close()
	if s.cmd.Process != nil {
		return s.cmd.Process.Kill()
	}
	return nil
}
