package treestore

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"github.com/lsclear/sandbox/pkg/errdefs"
	"github.com/lsclear/sandbox/pkg/types"
)

// Tree returns the user's full tree rooted at the virtual workspace root.
// Siblings are ordered directories-first, then by name; file content is
// included in the payload.
func (s *Store) Tree(ctx context.Context, userID string) ([]*types.TreeNode, error) {
	var flat []*types.FSNode
	err := s.withRetry(func(db *sql.DB) error {
		flat = flat[:0]
		rows, err := db.QueryContext(ctx,
			`SELECT `+nodeColumns+` FROM fs_nodes WHERE user_id = $1`, userID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			n, err := scanNode(rows)
			if err != nil {
				return err
			}
			flat = append(flat, n)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return buildTree(flat), nil
}

// buildTree shapes a flat node list into the rooted tree, sorting each
// sibling group directories-first then by name.
func buildTree(flat []*types.FSNode) []*types.TreeNode {
	byID := make(map[int64]*types.TreeNode, len(flat))
	for _, n := range flat {
		byID[n.ID] = &types.TreeNode{FSNode: *n}
	}

	var roots []*types.TreeNode
	for _, n := range flat {
		tn := byID[n.ID]
		if n.ParentID == nil {
			roots = append(roots, tn)
			continue
		}
		if parent, ok := byID[*n.ParentID]; ok {
			parent.Children = append(parent.Children, tn)
		}
	}

	var sortSiblings func(nodes []*types.TreeNode)
	sortSiblings = func(nodes []*types.TreeNode) {
		sort.Slice(nodes, func(i, j int) bool {
			if nodes[i].IsDir != nodes[j].IsDir {
				return nodes[i].IsDir
			}
			return nodes[i].Name < nodes[j].Name
		})
		for _, n := range nodes {
			sortSiblings(n.Children)
		}
	}
	sortSiblings(roots)
	return roots
}

// SplitPath breaks a workspace-relative path into its segments, rejecting
// empty input.
func SplitPath(p string) ([]string, error) {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil, errdefs.InvalidParameterf("empty path")
	}
	segs := strings.Split(p, "/")
	for _, seg := range segs {
		if err := validateName(seg); err != nil {
			return nil, err
		}
	}
	return segs, nil
}

// Resolve walks a workspace-relative path from the user's virtual root and
// returns the node it names. Every non-terminal segment must be a directory.
func (s *Store) Resolve(ctx context.Context, userID, path string) (*types.FSNode, error) {
	segs, err := SplitPath(path)
	if err != nil {
		return nil, err
	}

	var parentID *int64
	var node *types.FSNode
	for i, seg := range segs {
		node, err = s.lookupChild(ctx, userID, parentID, seg)
		if err != nil {
			return nil, err
		}
		if i < len(segs)-1 {
			if !node.IsDir {
				return nil, errdefs.Conflictf("%q is not a directory", seg)
			}
			parentID = &node.ID
		}
	}
	return node, nil
}

// PathOf returns the /-joined chain of names from the virtual root to the
// node, without a leading slash.
func (s *Store) PathOf(ctx context.Context, userID string, id int64) (string, error) {
	var path string
	err := s.withRetry(func(db *sql.DB) error {
		row := db.QueryRowContext(ctx, `
			WITH RECURSIVE chain AS (
				SELECT id, parent_id, name, 0 AS depth
				FROM fs_nodes WHERE id = $1 AND user_id = $2
				UNION ALL
				SELECT n.id, n.parent_id, n.name, c.depth + 1
				FROM fs_nodes n JOIN chain c ON n.id = c.parent_id
			)
			SELECT string_agg(name, '/' ORDER BY depth DESC) FROM chain`, id, userID)

		var p sql.NullString
		if err := row.Scan(&p); err != nil {
			return err
		}
		if !p.Valid {
			return errdefs.NotFoundf("node %d not found", id)
		}
		path = p.String
		return nil
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

// EnsureDirs walks segments from the root, creating missing directories, and
// returns the id of the final directory (nil for the root itself). A
// concurrent duplicate insert is retried as a lookup: the sibling-uniqueness
// index makes the race deterministic.
func (s *Store) EnsureDirs(ctx context.Context, userID string, segs []string) (*int64, error) {
	var parentID *int64
	for _, seg := range segs {
		node, err := s.lookupChild(ctx, userID, parentID, seg)
		if errdefs.IsNotFound(err) {
			node, err = s.CreateNode(ctx, userID, parentID, seg, true, "")
			if errdefs.IsConflict(err) {
				// Lost the race to a concurrent insert; use the winner.
				node, err = s.lookupChild(ctx, userID, parentID, seg)
			}
		}
		if err != nil {
			return nil, err
		}
		if !node.IsDir {
			return nil, errdefs.Conflictf("%q exists and is not a directory", seg)
		}
		id := node.ID
		parentID = &id
	}
	return parentID, nil
}
