package runtime

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"github.com/lsclear/sandbox/pkg/errdefs"
	"github.com/lsclear/sandbox/pkg/log"
	"github.com/lsclear/sandbox/pkg/metrics"
	"github.com/lsclear/sandbox/pkg/types"
)

const (
	// idleCommand keeps the container's foreground process alive between
	// sessions; every shell runs as an exec on top of it.
	idleCommand = "sleep"

	// statusPollInterval is how often EnsureContainer re-checks a starting
	// container against the start timeout.
	statusPollInterval = 500 * time.Millisecond
)

// Options configures the Docker runtime driver.
type Options struct {
	// Image is the pinned sandbox image.
	Image string

	// IntakeURL is exported to containers as IDE_API for the shell hook.
	IntakeURL string

	// StartTimeout bounds the wait for a container to reach running.
	StartTimeout time.Duration

	// Resource limits.
	MemoryBytes int64
	CPUQuota    int64
	CPUPeriod   int64
}

// ManagedContainer is one container carrying this system's labels.
type ManagedContainer struct {
	ID     string
	UserID string
	State  string
}

// DockerRuntime drives the local Docker Engine: container lifecycle, exec
// streams, and archive transfer. It is safe for concurrent use; the
// underlying client multiplexes requests over its own connection pool.
type DockerRuntime struct {
	cli  *client.Client
	opts Options
}

// NewDockerRuntime connects to the engine using the standard environment
// (DOCKER_HOST et al.) and negotiates the API version.
func NewDockerRuntime(opts Options) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	if opts.StartTimeout <= 0 {
		opts.StartTimeout = 30 * time.Second
	}

	return &DockerRuntime{cli: cli, opts: opts}, nil
}

// Close releases the client connection.
func (r *DockerRuntime) Close() error {
	return r.cli.Close()
}

// Ping verifies the engine is reachable.
func (r *DockerRuntime) Ping(ctx context.Context) error {
	if _, err := r.cli.Ping(ctx); err != nil {
		return errdefs.Transport(fmt.Errorf("docker daemon unreachable: %w", err))
	}
	return nil
}

func managedFilters(userID string) filters.Args {
	args := filters.NewArgs(filters.Arg("label", types.ManagedByLabel+"="+types.ManagedByValue))
	if userID != "" {
		args.Add("label", types.UserIDLabel+"="+userID)
	}
	return args
}

// ListManaged returns every container tagged with this system's labels,
// regardless of state. The label set is the source of truth for ownership.
func (r *DockerRuntime) ListManaged(ctx context.Context) ([]ManagedContainer, error) {
	list, err := r.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: managedFilters(""),
	})
	if err != nil {
		return nil, errdefs.Transport(fmt.Errorf("failed to list managed containers: %w", err))
	}

	managed := make([]ManagedContainer, 0, len(list))
	for _, c := range list {
		managed = append(managed, ManagedContainer{
			ID:     c.ID,
			UserID: c.Labels[types.UserIDLabel],
			State:  c.State,
		})
	}
	return managed, nil
}

// EnsureContainer returns the id of a running container for userID, reusing
// and healing an existing one where possible and creating a fresh one
// otherwise. The returned bool reports whether a new container was created.
func (r *DockerRuntime) EnsureContainer(ctx context.Context, userID string) (string, bool, error) {
	logger := log.WithUserID(userID)

	list, err := r.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: managedFilters(userID),
	})
	if err != nil {
		return "", false, errdefs.Transport(fmt.Errorf("failed to query containers: %w", err))
	}

	healed := false
	if len(list) > 0 {
		existing := list[0]
		if existing.State == "running" {
			logger.Debug().Str("container_id", existing.ID).Msg("reusing running container")
			return existing.ID, false, nil
		}

		// Not running: try to revive it before giving up on it.
		if err := r.reviveContainer(ctx, existing.ID); err == nil {
			logger.Info().Str("container_id", existing.ID).Msg("revived stopped container")
			return existing.ID, false, nil
		}
		logger.Warn().Str("container_id", existing.ID).Msg("container unresponsive, removing")
		if err := r.removeByID(ctx, existing.ID); err != nil {
			logger.Warn().Err(err).Msg("failed to remove unresponsive container")
		}
		healed = true
	}

	id, err := r.createContainer(ctx, userID)
	if err != nil {
		return "", false, err
	}
	if healed {
		metrics.ContainersHealed.Inc()
	}

	// The hook install is best-effort: a session without interception still
	// gives the user a working shell.
	if err := r.installShellHook(ctx, id, userID); err != nil {
		logger.Warn().Err(err).Msg("failed to install shell hook")
	}

	return id, true, nil
}

// reviveContainer starts a stopped container and waits for it to answer a
// shell probe within the start timeout.
func (r *DockerRuntime) reviveContainer(ctx context.Context, id string) error {
	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	if err := r.awaitRunning(ctx, id); err != nil {
		return err
	}
	return r.probe(ctx, id)
}

// probe runs `echo test` through a shell inside the container and checks the
// expected output comes back.
func (r *DockerRuntime) probe(ctx context.Context, id string) error {
	code, out, err := r.ExecOneshot(ctx, id, []string{"/bin/sh", "-c", "echo test"}, "")
	if err != nil {
		return fmt.Errorf("probe exec failed: %w", err)
	}
	if code != 0 || !strings.Contains(string(out), "test") {
		return fmt.Errorf("probe returned exit %d, output %q", code, out)
	}
	return nil
}

func (r *DockerRuntime) createContainer(ctx context.Context, userID string) (string, error) {
	cfg := &container.Config{
		Image:      r.opts.Image,
		Cmd:        []string{idleCommand, "infinity"},
		Tty:        true,
		WorkingDir: types.WorkspaceRoot,
		Env:        r.containerEnv(userID),
		Labels: map[string]string{
			types.ManagedByLabel: types.ManagedByValue,
			types.UserIDLabel:    userID,
		},
	}
	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			Memory:    r.opts.MemoryBytes,
			CPUQuota:  r.opts.CPUQuota,
			CPUPeriod: r.opts.CPUPeriod,
		},
		RestartPolicy: container.RestartPolicy{
			Name:              container.RestartPolicyOnFailure,
			MaximumRetryCount: 3,
		},
	}
	name := types.ContainerPrefix + userID

	resp, err := r.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if client.IsErrNotFound(err) {
		// Image missing locally: pull once and retry.
		if pullErr := r.pullImage(ctx); pullErr != nil {
			return "", errdefs.Unavailable(pullErr)
		}
		resp, err = r.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	}
	if err != nil {
		return "", errdefs.Unavailable(fmt.Errorf("failed to create container: %w", err))
	}

	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = r.removeByID(ctx, resp.ID)
		return "", errdefs.Unavailable(fmt.Errorf("failed to start container: %w", err))
	}

	if err := r.awaitRunning(ctx, resp.ID); err != nil {
		r.logStartupFailure(ctx, resp.ID)
		_ = r.removeByID(ctx, resp.ID)
		return "", errdefs.Unavailable(err)
	}

	log.WithUserID(userID).Info().
		Str("container_id", resp.ID).
		Str("image", r.opts.Image).
		Msg("created container")
	return resp.ID, nil
}

func (r *DockerRuntime) containerEnv(userID string) []string {
	return []string{
		"TERM=xterm-256color",
		"HOME=/root",
		"SHELL=/bin/bash",
		"USER=root",
		"IDE_API=" + r.opts.IntakeURL,
		"USER_ID=" + userID,
	}
}

func (r *DockerRuntime) pullImage(ctx context.Context) error {
	reader, err := r.cli.ImagePull(ctx, r.opts.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", r.opts.Image, err)
	}
	defer reader.Close()
	// Drain so the pull runs to completion.
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

// awaitRunning polls container state until running or the start timeout
// elapses.
func (r *DockerRuntime) awaitRunning(ctx context.Context, id string) error {
	deadline := time.Now().Add(r.opts.StartTimeout)
	for {
		info, err := r.cli.ContainerInspect(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to inspect container: %w", err)
		}
		if info.State != nil && info.State.Running {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("container %s not running after %s", id, r.opts.StartTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(statusPollInterval):
		}
	}
}

func (r *DockerRuntime) logStartupFailure(ctx context.Context, id string) {
	rc, err := r.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       "50",
	})
	if err != nil {
		log.Logger.Warn().Err(err).Str("container_id", id).Msg("failed to collect startup logs")
		return
	}
	defer rc.Close()
	out, _ := io.ReadAll(io.LimitReader(rc, 16*1024))
	log.Logger.Error().Str("container_id", id).Bytes("logs", out).Msg("container failed to start")
}

// Status reports the coarse lifecycle state of a container. A missing
// container counts as failed.
func (r *DockerRuntime) Status(ctx context.Context, id string) (types.ContainerState, error) {
	info, err := r.cli.ContainerInspect(ctx, id)
	if client.IsErrNotFound(err) {
		return types.ContainerFailed, nil
	}
	if err != nil {
		return types.ContainerFailed, errdefs.Transport(fmt.Errorf("failed to inspect container: %w", err))
	}
	switch {
	case info.State == nil:
		return types.ContainerPending, nil
	case info.State.Running:
		return types.ContainerRunning, nil
	case info.State.Status == "exited" || info.State.Dead:
		return types.ContainerFailed, nil
	default:
		return types.ContainerPending, nil
	}
}

// RemoveContainer force-removes a container by id. Removing a container that
// is already gone is not an error.
func (r *DockerRuntime) RemoveContainer(ctx context.Context, id string) error {
	return r.removeByID(ctx, id)
}

func (r *DockerRuntime) removeByID(ctx context.Context, id string) error {
	err := r.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return errdefs.Transport(fmt.Errorf("failed to remove container %s: %w", id, err))
	}
	return nil
}
