package materializer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsclear/sandbox/pkg/types"
)

// fakeFS records the container filesystem calls in order.
type fakeFS struct {
	mkdirs []string
	writes map[string]string
}

func newFakeFS() *fakeFS {
	return &fakeFS{writes: make(map[string]string)}
}

func (f *fakeFS) Mkdir(_ context.Context, _, absPath string) error {
	f.mkdirs = append(f.mkdirs, absPath)
	return nil
}

func (f *fakeFS) WriteFile(_ context.Context, _, absPath string, content []byte) error {
	f.writes[absPath] = string(content)
	return nil
}

// fakeSource serves a canned tree and records starter provisioning.
type fakeSource struct {
	roots     []*types.TreeNode
	created   []string
	createErr error
}

func (s *fakeSource) Tree(context.Context, string) ([]*types.TreeNode, error) {
	return s.roots, nil
}

func (s *fakeSource) CreateNode(_ context.Context, _ string, _ *int64, name string, isDir bool, content string) (*types.FSNode, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created = append(s.created, name)
	n := &types.FSNode{ID: int64(len(s.created)), Name: name, IsDir: isDir, Content: content}
	s.roots = append(s.roots, &types.TreeNode{FSNode: *n})
	return n, nil
}

func dir(name string, children ...*types.TreeNode) *types.TreeNode {
	return &types.TreeNode{FSNode: types.FSNode{Name: name, IsDir: true}, Children: children}
}

func file(name, content string) *types.TreeNode {
	return &types.TreeNode{FSNode: types.FSNode{Name: name, Content: content}}
}

func TestSeedProjectsTree(t *testing.T) {
	fs := newFakeFS()
	src := &fakeSource{roots: []*types.TreeNode{
		dir("src",
			file("main.py", "print(1)"),
			dir("lib", file("util.py", "pass")),
		),
		file("README", "hi"),
	}}

	m := New(src, fs)
	require.NoError(t, m.Seed(context.Background(), "u1", "ctr-1"))

	assert.Equal(t, []string{"/workspace", "/workspace/src", "/workspace/src/lib"}, fs.mkdirs)
	assert.Equal(t, map[string]string{
		"/workspace/src/main.py":     "print(1)",
		"/workspace/src/lib/util.py": "pass",
		"/workspace/README":          "hi",
	}, fs.writes)
	assert.Empty(t, src.created)
}

func TestSeedProvisionsStarterForEmptyTree(t *testing.T) {
	fs := newFakeFS()
	src := &fakeSource{}

	m := New(src, fs)
	require.NoError(t, m.Seed(context.Background(), "u1", "ctr-1"))

	assert.Equal(t, []string{"main.py"}, src.created)
	assert.Contains(t, fs.writes, "/workspace/main.py")
	assert.Contains(t, fs.writes["/workspace/main.py"], "Hello, World!")
}

func TestSeedToleratesStarterRace(t *testing.T) {
	fs := newFakeFS()
	src := &fakeSource{createErr: errors.New("duplicate")}

	m := New(src, fs)
	// The starter failing to provision must not fail the seed.
	require.NoError(t, m.Seed(context.Background(), "u1", "ctr-1"))
	assert.Equal(t, []string{"/workspace"}, fs.mkdirs)
}

func TestPushFile(t *testing.T) {
	fs := newFakeFS()
	m := New(&fakeSource{}, fs)

	require.NoError(t, m.PushFile(context.Background(), "u1", "ctr-1", "src/app.py", []byte("x = 1")))
	assert.Equal(t, "x = 1", fs.writes["/workspace/src/app.py"])
}
