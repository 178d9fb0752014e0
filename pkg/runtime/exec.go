package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/lsclear/sandbox/pkg/errdefs"
)

// ExecStream is one live interactive shell inside a container. The hijacked
// connection is byte-oriented and bidirectional: Conn accepts writes to the
// shell's stdin, Reader yields the merged tty output. It is safe for one
// concurrent reader plus one concurrent writer.
type ExecStream struct {
	ID   string
	resp types.HijackedResponse
}

// Read pulls raw shell output.
func (s *ExecStream) Read(p []byte) (int, error) {
	return s.resp.Reader.Read(p)
}

// Write pushes raw bytes to the shell's stdin.
func (s *ExecStream) Write(p []byte) (int, error) {
	return s.resp.Conn.Write(p)
}

// CloseWrite half-closes the stdin side so the shell sees EOF.
func (s *ExecStream) CloseWrite() error {
	return s.resp.CloseWrite()
}

// Close tears down the hijacked connection. The exec process inside the
// container receives EOF/SIGHUP through its tty and exits.
func (s *ExecStream) Close() error {
	s.resp.Close()
	return nil
}

// OpenShell creates an interactive login shell exec with a TTY at the given
// geometry and attaches to its byte stream.
func (r *DockerRuntime) OpenShell(ctx context.Context, containerID string, cols, rows uint) (*ExecStream, error) {
	created, err := r.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          []string{"/bin/bash", "-i"},
		Tty:          true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   "",
		Env: []string{
			"TERM=xterm-256color",
			"COLUMNS=" + strconv.FormatUint(uint64(cols), 10),
			"LINES=" + strconv.FormatUint(uint64(rows), 10),
			"HOME=/root",
			"SHELL=/bin/bash",
			"USER=root",
		},
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, errdefs.NotFoundf("container %s not found", containerID)
		}
		return nil, errdefs.Transport(fmt.Errorf("failed to create exec: %w", err))
	}

	resp, err := r.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{Tty: true})
	if err != nil {
		return nil, errdefs.Transport(fmt.Errorf("failed to attach exec: %w", err))
	}

	return &ExecStream{ID: created.ID, resp: resp}, nil
}

// ResizeExec changes the tty geometry of a running exec out of band.
func (r *DockerRuntime) ResizeExec(ctx context.Context, execID string, cols, rows uint) error {
	err := r.cli.ContainerExecResize(ctx, execID, container.ResizeOptions{
		Height: rows,
		Width:  cols,
	})
	if err != nil {
		return errdefs.Transport(fmt.Errorf("failed to resize exec: %w", err))
	}
	return nil
}

// ExecOneshot runs argv inside the container with a tty, waits for it to
// finish, and returns the exit code with the combined output. Output is
// capped at 1 MiB.
func (r *DockerRuntime) ExecOneshot(ctx context.Context, containerID string, argv []string, workdir string) (int, []byte, error) {
	created, err := r.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          argv,
		Tty:          true,
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   workdir,
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return 0, nil, errdefs.NotFoundf("container %s not found", containerID)
		}
		return 0, nil, errdefs.Transport(fmt.Errorf("failed to create exec: %w", err))
	}

	resp, err := r.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{Tty: true})
	if err != nil {
		return 0, nil, errdefs.Transport(fmt.Errorf("failed to attach exec: %w", err))
	}
	defer resp.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(resp.Reader, 1<<20)); err != nil {
		return 0, nil, errdefs.Transport(fmt.Errorf("failed to read exec output: %w", err))
	}

	inspect, err := r.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return 0, buf.Bytes(), errdefs.Transport(fmt.Errorf("failed to inspect exec: %w", err))
	}
	return inspect.ExitCode, buf.Bytes(), nil
}
