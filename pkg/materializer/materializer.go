// Package materializer projects the database-held file tree into a user's
// container and propagates per-file writes. The container side is reached
// exclusively through the runtime's archive API; no host-side temp files are
// involved.
package materializer

import (
	"context"
	"fmt"
	"path"

	"github.com/lsclear/sandbox/pkg/log"
	"github.com/lsclear/sandbox/pkg/types"
)

// Starter file provisioned for users whose tree is empty.
const (
	starterName    = "main.py"
	starterContent = "# Welcome to your project!\nprint('Hello, World!')"
)

// ContainerFS is the slice of the container runtime the materializer needs.
type ContainerFS interface {
	Mkdir(ctx context.Context, containerID, absPath string) error
	WriteFile(ctx context.Context, containerID, absPath string, content []byte) error
}

// TreeSource is the slice of the tree store the materializer needs.
type TreeSource interface {
	Tree(ctx context.Context, userID string) ([]*types.TreeNode, error)
	CreateNode(ctx context.Context, userID string, parentID *int64, name string, isDir bool, content string) (*types.FSNode, error)
}

// Materializer copies tree state into containers.
type Materializer struct {
	store TreeSource
	fs    ContainerFS
}

// New wires a materializer over a tree source and a container filesystem.
func New(store TreeSource, fs ContainerFS) *Materializer {
	return &Materializer{store: store, fs: fs}
}

// Seed projects the user's full tree into /workspace inside the container,
// creating the workspace root if absent. An empty tree is first provisioned
// with the starter file so a new user lands in a non-empty editor.
func (m *Materializer) Seed(ctx context.Context, userID, containerID string) error {
	if err := m.fs.Mkdir(ctx, containerID, types.WorkspaceRoot); err != nil {
		return fmt.Errorf("failed to create workspace root: %w", err)
	}

	roots, err := m.store.Tree(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load tree: %w", err)
	}

	if len(roots) == 0 {
		if _, err := m.store.CreateNode(ctx, userID, nil, starterName, false, starterContent); err != nil {
			// Non-fatal: a concurrent seed may have provisioned it already.
			log.WithUserID(userID).Warn().Err(err).Msg("failed to provision starter file")
		}
		if roots, err = m.store.Tree(ctx, userID); err != nil {
			return fmt.Errorf("failed to reload tree: %w", err)
		}
	}

	for _, root := range roots {
		if err := m.seedNode(ctx, containerID, types.WorkspaceRoot, root); err != nil {
			return err
		}
	}
	return nil
}

// seedNode materializes one node and, depth-first, its children.
func (m *Materializer) seedNode(ctx context.Context, containerID, parentPath string, node *types.TreeNode) error {
	abs := path.Join(parentPath, node.Name)

	if node.IsDir {
		if err := m.fs.Mkdir(ctx, containerID, abs); err != nil {
			return fmt.Errorf("failed to seed directory %s: %w", abs, err)
		}
		for _, child := range node.Children {
			if err := m.seedNode(ctx, containerID, abs, child); err != nil {
				return err
			}
		}
		return nil
	}

	if err := m.fs.WriteFile(ctx, containerID, abs, []byte(node.Content)); err != nil {
		return fmt.Errorf("failed to seed file %s: %w", abs, err)
	}
	return nil
}

// PushFile overwrites one file's bytes inside the container. relPath is
// workspace-relative; parents are created as needed by the runtime.
func (m *Materializer) PushFile(ctx context.Context, userID, containerID, relPath string, content []byte) error {
	abs := path.Join(types.WorkspaceRoot, relPath)
	if err := m.fs.WriteFile(ctx, containerID, abs, content); err != nil {
		return fmt.Errorf("failed to push %s: %w", abs, err)
	}
	log.WithUserID(userID).Debug().Str("path", abs).Int("bytes", len(content)).Msg("pushed file")
	return nil
}
