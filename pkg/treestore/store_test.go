package treestore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsclear/sandbox/pkg/errdefs"
)

// newTestStore connects to the database named by SANDBOX_TEST_DSN, skipping
// the test when none is configured. Each test gets its own user id so runs
// do not interfere.
func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dsn := os.Getenv("SANDBOX_TEST_DSN")
	if dsn == "" {
		t.Skip("SANDBOX_TEST_DSN not set; skipping database tests")
	}

	s, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s, fmt.Sprintf("test-%s-%d", t.Name(), time.Now().UnixNano())
}

func TestCreateAndGetNode(t *testing.T) {
	s, user := newTestStore(t)
	ctx := context.Background()

	dir, err := s.CreateNode(ctx, user, nil, "src", true, "")
	require.NoError(t, err)
	assert.True(t, dir.IsDir)
	assert.Nil(t, dir.ParentID)

	file, err := s.CreateNode(ctx, user, &dir.ID, "main.py", false, "print(1)")
	require.NoError(t, err)
	assert.Equal(t, "print(1)", file.Content)
	require.NotNil(t, file.ParentID)
	assert.Equal(t, dir.ID, *file.ParentID)

	got, err := s.GetNode(ctx, user, file.ID)
	require.NoError(t, err)
	assert.Equal(t, file.Name, got.Name)

	// Duplicate sibling name, including at the root level.
	_, err = s.CreateNode(ctx, user, &dir.ID, "main.py", false, "")
	assert.True(t, errdefs.IsConflict(err))
	_, err = s.CreateNode(ctx, user, nil, "src", true, "")
	assert.True(t, errdefs.IsConflict(err))

	// Parent must exist and be a directory.
	bogus := int64(1 << 40)
	_, err = s.CreateNode(ctx, user, &bogus, "x", false, "")
	assert.True(t, errdefs.IsNotFound(err))
	_, err = s.CreateNode(ctx, user, &file.ID, "x", false, "")
	assert.True(t, errdefs.IsConflict(err))
}

func TestGetNodeForeignUser(t *testing.T) {
	s, user := newTestStore(t)
	ctx := context.Background()

	n, err := s.CreateNode(ctx, user, nil, "secret.txt", false, "mine")
	require.NoError(t, err)

	_, err = s.GetNode(ctx, user+"-other", n.ID)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestDeleteNodeCascades(t *testing.T) {
	s, user := newTestStore(t)
	ctx := context.Background()

	dir, err := s.CreateNode(ctx, user, nil, "a", true, "")
	require.NoError(t, err)
	sub, err := s.CreateNode(ctx, user, &dir.ID, "b", true, "")
	require.NoError(t, err)
	leaf, err := s.CreateNode(ctx, user, &sub.ID, "c.txt", false, "x")
	require.NoError(t, err)

	deleted, err := s.DeleteNode(ctx, user, dir.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{dir.ID, sub.ID, leaf.ID}, deleted)

	_, err = s.GetNode(ctx, user, leaf.ID)
	assert.True(t, errdefs.IsNotFound(err))

	_, err = s.DeleteNode(ctx, user, dir.ID)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestUpdateContent(t *testing.T) {
	s, user := newTestStore(t)
	ctx := context.Background()

	file, err := s.CreateNode(ctx, user, nil, "f.txt", false, "old")
	require.NoError(t, err)
	dir, err := s.CreateNode(ctx, user, nil, "d", true, "")
	require.NoError(t, err)

	require.NoError(t, s.UpdateContent(ctx, user, file.ID, "new"))
	got, err := s.GetNode(ctx, user, file.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Content)

	assert.True(t, errdefs.IsConflict(s.UpdateContent(ctx, user, dir.ID, "x")))
	assert.True(t, errdefs.IsNotFound(s.UpdateContent(ctx, user, 1<<40, "x")))
}

func TestMoveNode(t *testing.T) {
	s, user := newTestStore(t)
	ctx := context.Background()

	src, err := s.CreateNode(ctx, user, nil, "a.txt", false, "x")
	require.NoError(t, err)
	dst, err := s.CreateNode(ctx, user, nil, "dst", true, "")
	require.NoError(t, err)

	require.NoError(t, s.MoveNode(ctx, user, src.ID, &dst.ID, "b.txt"))

	moved, err := s.Resolve(ctx, user, "dst/b.txt")
	require.NoError(t, err)
	assert.Equal(t, src.ID, moved.ID)

	// Collision at the destination.
	other, err := s.CreateNode(ctx, user, nil, "c.txt", false, "")
	require.NoError(t, err)
	err = s.MoveNode(ctx, user, other.ID, &dst.ID, "b.txt")
	assert.True(t, errdefs.IsConflict(err))
}

func TestResolveAndPathOf(t *testing.T) {
	s, user := newTestStore(t)
	ctx := context.Background()

	a, err := s.CreateNode(ctx, user, nil, "a", true, "")
	require.NoError(t, err)
	b, err := s.CreateNode(ctx, user, &a.ID, "b", true, "")
	require.NoError(t, err)
	c, err := s.CreateNode(ctx, user, &b.ID, "c.txt", false, "")
	require.NoError(t, err)

	got, err := s.Resolve(ctx, user, "a/b/c.txt")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	_, err = s.Resolve(ctx, user, "a/missing")
	assert.True(t, errdefs.IsNotFound(err))

	// A file used as a non-terminal segment.
	_, err = s.Resolve(ctx, user, "a/b/c.txt/deeper")
	assert.True(t, errdefs.IsConflict(err))

	path, err := s.PathOf(ctx, user, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "a/b/c.txt", path)

	_, err = s.PathOf(ctx, user, 1<<40)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestEnsureDirs(t *testing.T) {
	s, user := newTestStore(t)
	ctx := context.Background()

	parentID, err := s.EnsureDirs(ctx, user, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.NotNil(t, parentID)

	node, err := s.Resolve(ctx, user, "a/b/c")
	require.NoError(t, err)
	assert.Equal(t, *parentID, node.ID)
	assert.True(t, node.IsDir)

	// Idempotent on the existing chain.
	again, err := s.EnsureDirs(ctx, user, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, *parentID, *again)

	// Empty segment list names the root.
	root, err := s.EnsureDirs(ctx, user, nil)
	require.NoError(t, err)
	assert.Nil(t, root)

	// A file in the chain is a conflict.
	_, err = s.CreateNode(ctx, user, parentID, "f.txt", false, "")
	require.NoError(t, err)
	_, err = s.EnsureDirs(ctx, user, []string{"a", "b", "c", "f.txt"})
	assert.True(t, errdefs.IsConflict(err))
}

func TestTree(t *testing.T) {
	s, user := newTestStore(t)
	ctx := context.Background()

	src, err := s.CreateNode(ctx, user, nil, "src", true, "")
	require.NoError(t, err)
	_, err = s.CreateNode(ctx, user, &src.ID, "main.py", false, "print(1)")
	require.NoError(t, err)
	_, err = s.CreateNode(ctx, user, nil, "README", false, "")
	require.NoError(t, err)

	roots, err := s.Tree(ctx, user)
	require.NoError(t, err)
	require.Len(t, roots, 2)
	assert.Equal(t, "src", roots[0].Name)
	assert.Equal(t, "README", roots[1].Name)
	require.Len(t, roots[0].Children, 1)
	assert.Equal(t, "print(1)", roots[0].Children[0].Content)

	// Another user sees nothing.
	other, err := s.Tree(ctx, user+"-other")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestCopySubtree(t *testing.T) {
	s, user := newTestStore(t)
	ctx := context.Background()

	dir, err := s.CreateNode(ctx, user, nil, "a", true, "")
	require.NoError(t, err)
	_, err = s.CreateNode(ctx, user, &dir.ID, "f.txt", false, "data")
	require.NoError(t, err)

	copyRoot, err := s.CopySubtree(ctx, user, dir.ID, nil, "b")
	require.NoError(t, err)
	assert.NotEqual(t, dir.ID, copyRoot.ID)

	// Both trees exist with independent content rows.
	orig, err := s.Resolve(ctx, user, "a/f.txt")
	require.NoError(t, err)
	cp, err := s.Resolve(ctx, user, "b/f.txt")
	require.NoError(t, err)
	assert.NotEqual(t, orig.ID, cp.ID)
	assert.Equal(t, "data", cp.Content)
}
