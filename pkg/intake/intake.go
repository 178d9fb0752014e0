// Package intake ingests shell-intercepted filesystem commands and replays
// them against the persisted tree. The shell hook posts the raw command line
// and its working directory; everything here is tokenizing, path discipline,
// and a tagged dispatch over the small verb set the hook intercepts.
package intake

import (
	"context"
	"path"
	"strings"

	shellquote "github.com/kballard/go-shellquote"

	"github.com/lsclear/sandbox/pkg/errdefs"
	"github.com/lsclear/sandbox/pkg/log"
	"github.com/lsclear/sandbox/pkg/metrics"
	"github.com/lsclear/sandbox/pkg/treestore"
	"github.com/lsclear/sandbox/pkg/types"
)

// TreeStore is the slice of the tree store the intake mutates.
type TreeStore interface {
	Resolve(ctx context.Context, userID, path string) (*types.FSNode, error)
	CreateNode(ctx context.Context, userID string, parentID *int64, name string, isDir bool, content string) (*types.FSNode, error)
	DeleteNode(ctx context.Context, userID string, id int64) ([]int64, error)
	MoveNode(ctx context.Context, userID string, id int64, newParentID *int64, newName string) error
	CopySubtree(ctx context.Context, userID string, srcID int64, newParentID *int64, newName string) (*types.FSNode, error)
	EnsureDirs(ctx context.Context, userID string, segs []string) (*int64, error)
}

// Publisher fans out file-change events to update subscribers.
type Publisher interface {
	Publish(userID string, event types.FileEvent)
}

// Processor applies intercepted shell commands to one user's tree.
type Processor struct {
	store TreeStore
	bus   Publisher
}

// New wires a processor over a tree store and a notification publisher.
func New(store TreeStore, bus Publisher) *Processor {
	return &Processor{store: store, bus: bus}
}

// Handle applies one intercepted command. Unknown verbs and commands with no
// path arguments are acknowledged without touching the store; path escapes
// are rejected as invalid parameters.
func (p *Processor) Handle(ctx context.Context, ev types.ShellEvent) error {
	tokens, err := shellquote.Split(ev.Cmd)
	if err != nil {
		return errdefs.InvalidParameterf("unparseable command: %v", err)
	}
	if len(tokens) == 0 {
		return nil
	}

	verb := tokens[0]
	args := pathArgs(tokens[1:])

	outcome := "ok"
	switch verb {
	case "touch":
		err = p.eachPath(ctx, ev, args, p.touch)
	case "mkdir":
		err = p.eachPath(ctx, ev, args, p.mkdir)
	case "rm":
		err = p.eachPath(ctx, ev, args, p.remove)
	case "mv":
		err = p.transfer(ctx, ev, args, false)
	case "cp":
		err = p.transfer(ctx, ev, args, true)
	case "cd":
		// Informational only; the hook reports it so the cwd stays fresh.
		outcome = "noop"
	default:
		outcome = "noop"
	}

	if err != nil {
		if errdefs.IsInvalidParameter(err) {
			outcome = "rejected"
		} else {
			outcome = "error"
		}
	}
	metrics.FSEventsTotal.WithLabelValues(verb, outcome).Inc()
	return err
}

// pathArgs drops option tokens. Flag handling is deliberately shallow: `-r`,
// `-f` and friends change nothing about which tree mutation applies.
func pathArgs(tokens []string) []string {
	args := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if strings.HasPrefix(t, "-") {
			continue
		}
		args = append(args, t)
	}
	return args
}

// workspacePath resolves one shell argument to a cleaned absolute container
// path and its workspace-relative form. Anything outside /workspace is an
// invalid parameter.
func workspacePath(arg, cwd string) (abs, rel string, err error) {
	if path.IsAbs(arg) {
		abs = path.Clean(arg)
	} else {
		abs = path.Clean(path.Join(cwd, arg))
	}

	switch {
	case abs == types.WorkspaceRoot:
		return abs, "", nil
	case strings.HasPrefix(abs, types.WorkspaceRoot+"/"):
		return abs, strings.TrimPrefix(abs, types.WorkspaceRoot+"/"), nil
	default:
		return "", "", errdefs.InvalidParameterf("path %q is outside the workspace", abs)
	}
}

func (p *Processor) eachPath(ctx context.Context, ev types.ShellEvent, args []string, op func(ctx context.Context, userID, abs, rel string) error) error {
	for _, arg := range args {
		abs, rel, err := workspacePath(arg, ev.Cwd)
		if err != nil {
			return err
		}
		if rel == "" {
			// The workspace root itself is not a tree node.
			continue
		}
		if err := op(ctx, ev.UserID, abs, rel); err != nil {
			return err
		}
	}
	return nil
}

// touch ensures parents and creates an empty file at rel. An existing leaf,
// file or directory, is left alone in the store, but the notification still
// goes out so subscribers see the shell activity.
func (p *Processor) touch(ctx context.Context, userID, abs, rel string) error {
	if _, err := p.store.Resolve(ctx, userID, rel); err == nil {
		p.bus.Publish(userID, types.NewFileEvent(types.FileCreated, abs))
		return nil
	} else if !errdefs.IsNotFound(err) {
		return err
	}

	segs, err := treestore.SplitPath(rel)
	if err != nil {
		return err
	}
	parentID, err := p.store.EnsureDirs(ctx, userID, segs[:len(segs)-1])
	if err != nil {
		return err
	}
	if _, err := p.store.CreateNode(ctx, userID, parentID, segs[len(segs)-1], false, ""); err != nil {
		if !errdefs.IsConflict(err) {
			return err
		}
		// Raced another creator; the file exists, which is what touch wants.
	}

	p.bus.Publish(userID, types.NewFileEvent(types.FileCreated, abs))
	return nil
}

// mkdir ensures the full directory chain. An existing directory is a no-op;
// an existing file at the leaf is a conflict.
func (p *Processor) mkdir(ctx context.Context, userID, abs, rel string) error {
	if node, err := p.store.Resolve(ctx, userID, rel); err == nil {
		if node.IsDir {
			return nil
		}
		return errdefs.Conflictf("%q exists and is not a directory", rel)
	} else if !errdefs.IsNotFound(err) {
		return err
	}

	segs, err := treestore.SplitPath(rel)
	if err != nil {
		return err
	}
	if _, err := p.store.EnsureDirs(ctx, userID, segs); err != nil {
		return err
	}

	p.bus.Publish(userID, types.NewFileEvent(types.FileCreated, abs))
	return nil
}

// remove deletes the node at rel, recursively for directories.
func (p *Processor) remove(ctx context.Context, userID, abs, rel string) error {
	node, err := p.store.Resolve(ctx, userID, rel)
	if err != nil {
		return err
	}

	deleted, err := p.store.DeleteNode(ctx, userID, node.ID)
	if err != nil {
		return err
	}
	log.WithUserID(userID).Debug().
		Str("path", abs).Int("nodes", len(deleted)).Msg("removed subtree")

	p.bus.Publish(userID, types.NewFileEvent(types.FileDeleted, abs))
	return nil
}

// transfer implements mv (and, with keepSource, cp). The destination may be
// an existing directory (place inside, keeping the source name), a missing
// path (rename to its leaf, creating parents), or an existing file, which is
// a conflict. Moving a node under its own subtree is rejected up front.
func (p *Processor) transfer(ctx context.Context, ev types.ShellEvent, args []string, keepSource bool) error {
	if len(args) < 2 {
		return nil
	}
	// Only single-source transfers are modeled; the last argument is the
	// destination.
	srcAbs, srcRel, err := workspacePath(args[0], ev.Cwd)
	if err != nil {
		return err
	}
	dstAbs, dstRel, err := workspacePath(args[len(args)-1], ev.Cwd)
	if err != nil {
		return err
	}
	if srcRel == "" {
		return errdefs.InvalidParameterf("cannot move the workspace root")
	}
	// Reject cycles before any store call so a doomed mv leaves no
	// half-created destination parents behind.
	if !keepSource && (dstAbs == srcAbs || strings.HasPrefix(dstAbs, srcAbs+"/")) {
		return errdefs.InvalidParameterf("cannot move %q into itself", srcAbs)
	}

	src, err := p.store.Resolve(ctx, ev.UserID, srcRel)
	if err != nil {
		return err
	}

	var parentID *int64
	var newName string
	targetAbs := dstAbs

	if dstRel == "" {
		// Destination is the workspace root itself.
		newName = src.Name
		targetAbs = path.Join(types.WorkspaceRoot, src.Name)
	} else {
		dst, err := p.store.Resolve(ctx, ev.UserID, dstRel)
		switch {
		case err == nil && dst.IsDir:
			// Into an existing directory, keeping the source name.
			parentID = &dst.ID
			newName = src.Name
			targetAbs = path.Join(dstAbs, src.Name)
		case err == nil:
			return errdefs.Conflictf("%q already exists", dstRel)
		case errdefs.IsNotFound(err):
			segs, serr := treestore.SplitPath(dstRel)
			if serr != nil {
				return serr
			}
			newName = segs[len(segs)-1]
			if parentID, err = p.store.EnsureDirs(ctx, ev.UserID, segs[:len(segs)-1]); err != nil {
				return err
			}
		default:
			return err
		}
	}

	if !keepSource && (targetAbs == srcAbs || strings.HasPrefix(targetAbs, srcAbs+"/")) {
		return errdefs.InvalidParameterf("cannot move %q into itself", srcAbs)
	}

	if keepSource {
		if _, err := p.store.CopySubtree(ctx, ev.UserID, src.ID, parentID, newName); err != nil {
			return err
		}
		p.bus.Publish(ev.UserID, types.NewFileEvent(types.FileCreated, targetAbs))
		return nil
	}

	if err := p.store.MoveNode(ctx, ev.UserID, src.ID, parentID, newName); err != nil {
		return err
	}
	p.bus.Publish(ev.UserID, types.NewFileEvent(types.FileMoved, targetAbs))
	return nil
}
