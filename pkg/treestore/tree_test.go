package treestore

import (
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsclear/sandbox/pkg/errdefs"
	"github.com/lsclear/sandbox/pkg/types"
)

func ptr(v int64) *int64 { return &v }

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "plain file", input: "main.py"},
		{name: "dotfile", input: ".bashrc"},
		{name: "empty", input: "", wantErr: true},
		{name: "contains slash", input: "a/b", wantErr: true},
		{name: "dot", input: ".", wantErr: true},
		{name: "dotdot", input: "..", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateName(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errdefs.IsInvalidParameter(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSplitPath(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{name: "single segment", input: "main.py", want: []string{"main.py"}},
		{name: "nested", input: "a/b/c.txt", want: []string{"a", "b", "c.txt"}},
		{name: "leading and trailing slashes", input: "/a/b/", want: []string{"a", "b"}},
		{name: "empty", input: "", wantErr: true},
		{name: "only slashes", input: "///", wantErr: true},
		{name: "dotdot segment", input: "a/../b", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segs, err := SplitPath(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, segs)
		})
	}
}

func TestBuildTree(t *testing.T) {
	flat := []*types.FSNode{
		{ID: 1, Name: "src", IsDir: true},
		{ID: 2, Name: "zz.txt"},
		{ID: 3, ParentID: ptr(1), Name: "main.py", Content: "print(1)"},
		{ID: 4, ParentID: ptr(1), Name: "lib", IsDir: true},
		{ID: 5, ParentID: ptr(4), Name: "util.py"},
		{ID: 6, Name: "aa.txt"},
	}

	roots := buildTree(flat)
	require.Len(t, roots, 3)

	// Directories first, then files by name.
	assert.Equal(t, "src", roots[0].Name)
	assert.Equal(t, "aa.txt", roots[1].Name)
	assert.Equal(t, "zz.txt", roots[2].Name)

	src := roots[0]
	require.Len(t, src.Children, 2)
	assert.Equal(t, "lib", src.Children[0].Name)
	assert.Equal(t, "main.py", src.Children[1].Name)
	assert.Equal(t, "print(1)", src.Children[1].Content)

	require.Len(t, src.Children[0].Children, 1)
	assert.Equal(t, "util.py", src.Children[0].Children[0].Name)
}

func TestBuildTreeEmpty(t *testing.T) {
	assert.Empty(t, buildTree(nil))
}

func TestErrorClassifiers(t *testing.T) {
	unique := &pq.Error{Code: "23505"}
	fk := &pq.Error{Code: "23503"}

	assert.True(t, isUniqueViolation(unique))
	assert.False(t, isUniqueViolation(fk))

	// A parent deleted between the existence check and the insert surfaces
	// as an FK violation; it must classify, wrapped or not.
	assert.True(t, isForeignKeyViolation(fk))
	assert.True(t, isForeignKeyViolation(fmt.Errorf("insert: %w", fk)))
	assert.False(t, isForeignKeyViolation(unique))
	assert.False(t, isForeignKeyViolation(nil))
}
