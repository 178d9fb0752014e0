package treestore

import (
	"context"
	"database/sql"
	"strings"

	"github.com/lsclear/sandbox/pkg/errdefs"
	"github.com/lsclear/sandbox/pkg/types"
)

const nodeColumns = "id, user_id, parent_id, name, is_dir, COALESCE(content, ''), created_at, updated_at"

func scanNode(row interface{ Scan(...any) error }) (*types.FSNode, error) {
	var n types.FSNode
	var parent sql.NullInt64
	err := row.Scan(&n.ID, &n.UserID, &parent, &n.Name, &n.IsDir, &n.Content, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if parent.Valid {
		n.ParentID = &parent.Int64
	}
	return &n, nil
}

// validateName rejects names that would break the path model.
func validateName(name string) error {
	if name == "" {
		return errdefs.InvalidParameterf("node name must not be empty")
	}
	if strings.ContainsRune(name, '/') {
		return errdefs.InvalidParameterf("node name %q must not contain '/'", name)
	}
	if name == "." || name == ".." {
		return errdefs.InvalidParameterf("node name %q is reserved", name)
	}
	return nil
}

// CreateNode inserts one node. A nil parentID means a root-level node. The
// parent, when given, must exist, belong to the same user, and be a
// directory; a sibling with the same name yields a Conflict distinguishable
// from the missing-parent NotFound.
func (s *Store) CreateNode(ctx context.Context, userID string, parentID *int64, name string, isDir bool, content string) (*types.FSNode, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	var node *types.FSNode
	err := s.withRetry(func(db *sql.DB) error {
		if parentID != nil {
			var parentIsDir bool
			err := db.QueryRowContext(ctx,
				`SELECT is_dir FROM fs_nodes WHERE id = $1 AND user_id = $2`,
				*parentID, userID).Scan(&parentIsDir)
			if err == sql.ErrNoRows {
				return errdefs.NotFoundf("parent node %d not found", *parentID)
			}
			if err != nil {
				return err
			}
			if !parentIsDir {
				return errdefs.Conflictf("parent node %d is not a directory", *parentID)
			}
		}

		row := db.QueryRowContext(ctx,
			`INSERT INTO fs_nodes (user_id, parent_id, name, is_dir, content)
			 VALUES ($1, $2, $3, $4, NULLIF($5, ''))
			 RETURNING `+nodeColumns,
			userID, parentPtr(parentID), name, isDir, content)

		n, err := scanNode(row)
		if err != nil {
			if isUniqueViolation(err) {
				return errdefs.Conflictf("a node named %q already exists here", name)
			}
			if isForeignKeyViolation(err) {
				// Parent deleted between the check above and the insert.
				return errdefs.NotFoundf("parent node %d not found", *parentID)
			}
			return err
		}
		node = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

func parentPtr(parentID *int64) any {
	if parentID == nil {
		return nil
	}
	return *parentID
}

// GetNode fetches one node by id. Nodes belonging to another user report
// NotFound rather than a distinct access error, so ids do not leak
// existence across users.
func (s *Store) GetNode(ctx context.Context, userID string, id int64) (*types.FSNode, error) {
	var node *types.FSNode
	err := s.withRetry(func(db *sql.DB) error {
		row := db.QueryRowContext(ctx,
			`SELECT `+nodeColumns+` FROM fs_nodes WHERE id = $1 AND user_id = $2`,
			id, userID)
		n, err := scanNode(row)
		if err == sql.ErrNoRows {
			return errdefs.NotFoundf("node %d not found", id)
		}
		if err != nil {
			return err
		}
		node = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// DeleteNode removes a node and, through the database cascade, every
// descendant. It returns the full list of deleted ids so callers can fan out
// notifications.
func (s *Store) DeleteNode(ctx context.Context, userID string, id int64) ([]int64, error) {
	var deleted []int64
	err := s.withRetry(func(db *sql.DB) error {
		deleted = deleted[:0]

		rows, err := db.QueryContext(ctx, `
			WITH RECURSIVE subtree AS (
				SELECT id FROM fs_nodes WHERE id = $1 AND user_id = $2
				UNION ALL
				SELECT n.id FROM fs_nodes n JOIN subtree s ON n.parent_id = s.id
			)
			SELECT id FROM subtree`, id, userID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var nid int64
			if err := rows.Scan(&nid); err != nil {
				return err
			}
			deleted = append(deleted, nid)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(deleted) == 0 {
			return errdefs.NotFoundf("node %d not found", id)
		}

		res, err := db.ExecContext(ctx,
			`DELETE FROM fs_nodes WHERE id = $1 AND user_id = $2`, id, userID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errdefs.NotFoundf("node %d not found", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// UpdateContent replaces a file's text. Directories cannot carry content.
func (s *Store) UpdateContent(ctx context.Context, userID string, id int64, content string) error {
	return s.withRetry(func(db *sql.DB) error {
		var isDir bool
		err := db.QueryRowContext(ctx,
			`SELECT is_dir FROM fs_nodes WHERE id = $1 AND user_id = $2`,
			id, userID).Scan(&isDir)
		if err == sql.ErrNoRows {
			return errdefs.NotFoundf("node %d not found", id)
		}
		if err != nil {
			return err
		}
		if isDir {
			return errdefs.Conflictf("node %d is a directory", id)
		}

		_, err = db.ExecContext(ctx,
			`UPDATE fs_nodes SET content = $3, updated_at = now() WHERE id = $1 AND user_id = $2`,
			id, userID, content)
		return err
	})
}

// MoveNode reparents and/or renames a node. The destination parent must be a
// directory of the same user; name collisions at the destination are
// conflicts.
func (s *Store) MoveNode(ctx context.Context, userID string, id int64, newParentID *int64, newName string) error {
	if err := validateName(newName); err != nil {
		return err
	}
	return s.withRetry(func(db *sql.DB) error {
		if newParentID != nil {
			var parentIsDir bool
			err := db.QueryRowContext(ctx,
				`SELECT is_dir FROM fs_nodes WHERE id = $1 AND user_id = $2`,
				*newParentID, userID).Scan(&parentIsDir)
			if err == sql.ErrNoRows {
				return errdefs.NotFoundf("destination parent %d not found", *newParentID)
			}
			if err != nil {
				return err
			}
			if !parentIsDir {
				return errdefs.Conflictf("destination parent %d is not a directory", *newParentID)
			}
		}

		res, err := db.ExecContext(ctx,
			`UPDATE fs_nodes SET parent_id = $3, name = $4, updated_at = now()
			 WHERE id = $1 AND user_id = $2`,
			id, userID, parentPtr(newParentID), newName)
		if err != nil {
			if isUniqueViolation(err) {
				return errdefs.Conflictf("a node named %q already exists at the destination", newName)
			}
			if isForeignKeyViolation(err) {
				return errdefs.NotFoundf("destination parent %d not found", *newParentID)
			}
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errdefs.NotFoundf("node %d not found", id)
		}
		return nil
	})
}

// CopySubtree clones the node and all descendants under a new parent and
// name, returning the new root node. Contents are copied as-is.
func (s *Store) CopySubtree(ctx context.Context, userID string, srcID int64, newParentID *int64, newName string) (*types.FSNode, error) {
	src, err := s.GetNode(ctx, userID, srcID)
	if err != nil {
		return nil, err
	}

	root, err := s.CreateNode(ctx, userID, newParentID, newName, src.IsDir, src.Content)
	if err != nil {
		return nil, err
	}
	if !src.IsDir {
		return root, nil
	}

	children, err := s.children(ctx, userID, &src.ID)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		if _, err := s.CopySubtree(ctx, userID, child.ID, &root.ID, child.Name); err != nil {
			return nil, err
		}
	}
	return root, nil
}

func (s *Store) children(ctx context.Context, userID string, parentID *int64) ([]*types.FSNode, error) {
	var nodes []*types.FSNode
	err := s.withRetry(func(db *sql.DB) error {
		nodes = nodes[:0]

		var rows *sql.Rows
		var err error
		if parentID == nil {
			rows, err = db.QueryContext(ctx,
				`SELECT `+nodeColumns+` FROM fs_nodes
				 WHERE user_id = $1 AND parent_id IS NULL
				 ORDER BY is_dir DESC, name ASC`, userID)
		} else {
			rows, err = db.QueryContext(ctx,
				`SELECT `+nodeColumns+` FROM fs_nodes
				 WHERE user_id = $1 AND parent_id = $2
				 ORDER BY is_dir DESC, name ASC`, userID, *parentID)
		}
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			n, err := scanNode(rows)
			if err != nil {
				return err
			}
			nodes = append(nodes, n)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

// lookupChild finds a node by (parent, name) within one user's tree.
func (s *Store) lookupChild(ctx context.Context, userID string, parentID *int64, name string) (*types.FSNode, error) {
	var node *types.FSNode
	err := s.withRetry(func(db *sql.DB) error {
		var row *sql.Row
		if parentID == nil {
			row = db.QueryRowContext(ctx,
				`SELECT `+nodeColumns+` FROM fs_nodes
				 WHERE user_id = $1 AND parent_id IS NULL AND name = $2`, userID, name)
		} else {
			row = db.QueryRowContext(ctx,
				`SELECT `+nodeColumns+` FROM fs_nodes
				 WHERE user_id = $1 AND parent_id = $2 AND name = $3`, userID, *parentID, name)
		}
		n, err := scanNode(row)
		if err == sql.ErrNoRows {
			return errdefs.NotFoundf("no node named %q here", name)
		}
		if err != nil {
			return err
		}
		node = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}
