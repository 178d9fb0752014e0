/*
Package runtime drives per-user sandbox containers through the Docker Engine
API.

The runtime package owns everything that touches the container daemon:
ensuring the single managed container each user gets, opening interactive
shell execs for terminal sessions, one-shot command execution, and moving
file content in and out through tar archives. Labels on the daemon are the
source of truth for which containers belong to this system.

# Architecture

	┌─────────────────── CONTAINER RUNTIME ─────────────────────┐
	│                                                            │
	│  ┌──────────────────────────────────────────────┐         │
	│  │          DockerRuntime Client                 │         │
	│  │  - Engine API via FromEnv                     │         │
	│  │  - API version negotiation                    │         │
	│  └──────────────────┬───────────────────────────┘         │
	│                     │                                      │
	│  ┌──────────────────▼───────────────────────────┐         │
	│  │        Container Lifecycle                    │         │
	│  │  - Ensure: reuse running → revive → create    │         │
	│  │  - Probe: `echo test` through a shell exec    │         │
	│  │  - Heal: force-remove and recreate            │         │
	│  │  - Labels: managed_by=terminal, user_id=<id>  │         │
	│  └──────────────────┬───────────────────────────┘         │
	│                     │                                      │
	│  ┌──────────────────▼───────────────────────────┐         │
	│  │           Exec Operations                     │         │
	│  │  - OpenShell: tty exec + hijacked stream      │         │
	│  │  - ResizeExec: out-of-band tty geometry       │         │
	│  │  - ExecOneshot: run, wait, collect output     │         │
	│  └──────────────────┬───────────────────────────┘         │
	│                     │                                      │
	│  ┌──────────────────▼───────────────────────────┐         │
	│  │          Archive Operations                   │         │
	│  │  - WriteFile: single-file tar extracted at /  │         │
	│  │  - ReadFile: copy-from-container tar          │         │
	│  │  - Mkdir: `mkdir -p` through an exec          │         │
	│  └──────────────────────────────────────────────┘         │
	│                                                            │
	└────────────────────────────────────────────────────────────┘

# Container Shape

Every sandbox container is created the same way: a pinned image, an idle
foreground command keeping it alive, a tty, workdir /workspace, a 1 GiB
memory cap and a 50% CPU quota, and a restart policy of on-failure with
three attempts. The shell hook that reports filesystem commands back to the
intake endpoint is appended to the login profile after a healthy start.

# Error Classification

Errors cross this package boundary already classified: a missing container
is a not-found, a container that cannot be produced within the start timeout
is unavailable, and daemon connectivity failures are transport errors.
*/
package runtime
