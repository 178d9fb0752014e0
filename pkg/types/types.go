package types

import (
	"time"
)

// Workspace constants shared by every component. The workspace root is the
// fixed directory inside each container that anchors the user-visible tree.
const (
	WorkspaceRoot = "/workspace"

	// ManagedByLabel / UserIDLabel tag every container this system owns.
	// The label set on the runtime is authoritative; in-memory and on-disk
	// maps are caches of it.
	ManagedByLabel  = "managed_by"
	ManagedByValue  = "terminal"
	UserIDLabel     = "user_id"
	ContainerPrefix = "terminal-"
)

// Session is an ephemeral authorization token for one terminal WebSocket.
// Several sessions for the same user may point at the same container.
type Session struct {
	ID          string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	ContainerID string    `json:"container_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// ContainerState is the coarse lifecycle state reported for a session's
// container.
type ContainerState string

const (
	ContainerRunning ContainerState = "RUNNING"
	ContainerFailed  ContainerState = "FAILED"
	ContainerPending ContainerState = "PENDING"
)

// ContainerRecord maps a user to their single managed container. Persisted in
// the local state cache so the orphan reaper survives process restarts.
type ContainerRecord struct {
	UserID      string    `json:"user_id"`
	ContainerID string    `json:"container_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// FSNode is one row of the persisted file tree. Content is meaningful only
// for files; directories carry an empty string.
type FSNode struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"-"`
	ParentID  *int64    `json:"parent_id,omitempty"`
	Name      string    `json:"name"`
	IsDir     bool      `json:"is_dir"`
	Content   string    `json:"content,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TreeNode is an FSNode with its children resolved, as returned by the tree
// query. Siblings are ordered directories-first, then by name.
type TreeNode struct {
	FSNode
	Children []*TreeNode `json:"children,omitempty"`
}

// FileAction enumerates the mutations announced on the notification bus.
type FileAction string

const (
	FileCreated FileAction = "create"
	FileDeleted FileAction = "delete"
	FileMoved   FileAction = "move"
)

// FileEvent is the envelope pushed to update subscribers. Path is absolute
// inside the container (under /workspace). Timestamp is ISO-8601 UTC.
type FileEvent struct {
	Type      string     `json:"type"`
	Action    FileAction `json:"action"`
	Path      string     `json:"path"`
	Timestamp string     `json:"timestamp"`
}

// NewFileEvent stamps a file_update envelope with the current UTC time.
func NewFileEvent(action FileAction, path string) FileEvent {
	return FileEvent{
		Type:      "file_update",
		Action:    action,
		Path:      path,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// ShellEvent is one intercepted shell command as posted by the in-container
// hook: the raw command line and the directory it ran in.
type ShellEvent struct {
	UserID string `json:"user_id"`
	Cmd    string `json:"cmd"`
	Cwd    string `json:"cwd"`
}

// RunResult is the outcome of a one-shot program execution inside a
// container.
type RunResult struct {
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output"`
}
