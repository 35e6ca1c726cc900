// Package sandbox adapts the teacher's Docker-exec machinery
// (internal/container.DockerManager's CreateExecSession/ResizeExecSession)
// into an optional ptybridge.Backend: when a target container id is
// configured, the PTY Bridge spawns its child as a Docker exec session
// inside that already-running container instead of a local OS process.
// Container provisioning and network setup have no SPEC_FULL.md component
// to attach to (the spec assumes the container already exists) and are not
// carried over — see DESIGN.md.
package sandbox

import (
	"context"
	"fmt"
	"io"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/ashureev/agentgateway/internal/ptybridge"
)

// DockerExecBackend implements ptybridge.Backend by attaching to a shell
// exec session inside an already-running container.
type DockerExecBackend struct {
	Client      *client.Client
	ContainerID string
	// Shell is the command run inside the container; defaults to
	// /bin/bash when empty, matching the teacher's containerUser/exec
	// defaults.
	Shell string
}

type execSession struct {
	cli    *client.Client
	execID string
	conn   io.ReadWriteCloser
}

// Open implements ptybridge.Backend.
func (b DockerExecBackend) Open(ctx context.Context, rows, cols uint16) (ptybridge.Session, error) {
	shell := b.Shell
	if shell == "" {
		shell = "/bin/bash"
	}

	resp, err := b.Client.ContainerExecCreate(ctx, b.ContainerID, container.ExecOptions{
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          true,
		Cmd:          []string{shell},
		ConsoleSize:  &[2]uint{uint(rows), uint(cols)},
	})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("sandbox: container %s not found: %w", b.ContainerID, err)
		}
		return nil, fmt.Errorf("sandbox: create exec session in %s: %w", b.ContainerID, err)
	}

	attach, err := b.Client.ContainerExecAttach(ctx, resp.ID, container.ExecStartOptions{Tty: true})
	if err != nil {
		if errdefs.IsConflict(err) {
			return nil, fmt.Errorf("sandbox: container %s is not running: %w", b.ContainerID, err)
		}
		return nil, fmt.Errorf("sandbox: attach to exec session %s: %w", resp.ID, err)
	}

	return &execSession{cli: b.Client, execID: resp.ID, conn: attach.Conn}, nil
}

func (s *execSession) Read(p []byte) (int, error)  { return s.conn.Read(p) }
func (s *execSession) Write(p []byte) (int, error) { return s.conn.Write(p) }

func (s *execSession) Resize(rows, cols uint16) error {
	return s.cli.ContainerExecResize(context.Background(), s.execID, container.ResizeOptions{
		Height: uint(rows),
		Width:  uint(cols),
	})
}

func (s *execSession) Kill() error {
	return s.conn.Close()
}
