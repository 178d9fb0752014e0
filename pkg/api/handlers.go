package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/lsclear/sandbox/pkg/errdefs"
	"github.com/lsclear/sandbox/pkg/log"
	"github.com/lsclear/sandbox/pkg/types"
)

type startRequest struct {
	UserID string `json:"user_id"`
}

type startResponse struct {
	SessionID      string `json:"session_id"`
	ContainerID    string `json:"container_id"`
	IsNewContainer bool   `json:"is_new_container"`
}

func (s *Server) handleTerminalStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errdefs.InvalidParameterf("invalid request body: %v", err))
		return
	}

	res, err := s.sessions.StartSession(r.Context(), req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, startResponse{
		SessionID:      res.Session.ID,
		ContainerID:    res.Session.ContainerID,
		IsNewContainer: res.IsNewContainer,
	})
}

func (s *Server) handleTerminalStatus(w http.ResponseWriter, r *http.Request) {
	sid := mux.Vars(r)["sid"]

	state, err := s.sessions.Status(r.Context(), sid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(state)})
}

func (s *Server) handleTerminalEnd(w http.ResponseWriter, r *http.Request) {
	sid := mux.Vars(r)["sid"]

	if err := s.sessions.EndSession(r.Context(), sid); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]

	removed, err := s.sessions.CleanupUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	if !removed {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "not_found",
			"message": fmt.Sprintf("no container for user %s", userID),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": fmt.Sprintf("container for user %s removed", userID),
	})
}

func (s *Server) handleFSEvent(w http.ResponseWriter, r *http.Request) {
	var ev types.ShellEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, errdefs.InvalidParameterf("invalid request body: %v", err))
		return
	}
	if ev.UserID == "" {
		writeError(w, errdefs.InvalidParameterf("user_id is required"))
		return
	}
	if _, ok := s.sessions.ContainerFor(ev.UserID); !ok {
		writeError(w, errdefs.NotFoundf("no container for user %s", ev.UserID))
		return
	}

	if err := s.intake.Handle(r.Context(), ev); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleFileRead serves a file's current bytes from inside the container, so
// the editor sees what the shell sees, not what the store last persisted.
func (s *Server) handleFileRead(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	sess := s.sessions.Lookup(vars["sid"])
	if sess == nil {
		writeError(w, errdefs.NotFoundf("session %s not found", vars["sid"]))
		return
	}

	rel := strings.Trim(vars["name"], "/")
	abs := path.Clean(path.Join(types.WorkspaceRoot, rel))
	if !strings.HasPrefix(abs, types.WorkspaceRoot+"/") {
		writeError(w, errdefs.InvalidParameterf("path %q is outside the workspace", rel))
		return
	}

	content, err := s.runtime.ReadFile(r.Context(), sess.ContainerID, abs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"content": string(content)})
}

type fileUpdateRequest struct {
	Content  string `json:"content"`
	UserID   string `json:"userId"`
	FilePath string `json:"filePath,omitempty"`
}

// handleFileUpdate persists an editor write and pushes it into the user's
// container when one is running. The node id in the URL is only honored for
// the user named in the body; a mismatch reads as not-found.
func (s *Server) handleFileUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["file_id"], 10, 64)
	if err != nil {
		writeError(w, errdefs.InvalidParameterf("invalid file id"))
		return
	}

	var req fileUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errdefs.InvalidParameterf("invalid request body: %v", err))
		return
	}
	if req.UserID == "" {
		writeError(w, errdefs.InvalidParameterf("userId is required"))
		return
	}

	if _, err := s.store.GetNode(r.Context(), req.UserID, id); err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.UpdateContent(r.Context(), req.UserID, id, req.Content); err != nil {
		writeError(w, err)
		return
	}

	// Best-effort propagation; the store is authoritative and the next
	// seed reconciles a container we could not reach.
	if containerID, ok := s.sessions.ContainerFor(req.UserID); ok {
		rel := req.FilePath
		if rel == "" {
			if rel, err = s.store.PathOf(r.Context(), req.UserID, id); err != nil {
				writeError(w, err)
				return
			}
		}
		rel = strings.TrimPrefix(strings.TrimPrefix(rel, types.WorkspaceRoot), "/")
		if err := s.pusher.PushFile(r.Context(), req.UserID, containerID, rel, []byte(req.Content)); err != nil {
			log.WithUserID(req.UserID).Warn().Err(err).Int64("file_id", id).Msg("failed to push editor write")
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

type runRequest struct {
	UserID     string `json:"user_id"`
	FilePath   string `json:"file_path"`
	WorkingDir string `json:"working_dir,omitempty"`
}

// interpreterFor picks the program to run a file with, by extension.
func interpreterFor(filePath string) (string, error) {
	switch path.Ext(filePath) {
	case ".py":
		return "python3", nil
	case ".sh":
		return "sh", nil
	case ".js":
		return "node", nil
	default:
		return "", errdefs.InvalidParameterf("no interpreter for %q", filePath)
	}
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errdefs.InvalidParameterf("invalid request body: %v", err))
		return
	}
	if req.UserID == "" || req.FilePath == "" {
		writeError(w, errdefs.InvalidParameterf("user_id and file_path are required"))
		return
	}

	containerID, ok := s.sessions.ContainerFor(req.UserID)
	if !ok {
		writeError(w, errdefs.NotFoundf("no container for user %s", req.UserID))
		return
	}

	interp, err := interpreterFor(req.FilePath)
	if err != nil {
		writeError(w, err)
		return
	}

	workdir := req.WorkingDir
	if workdir == "" {
		workdir = types.WorkspaceRoot
	}

	exitCode, output, err := s.runtime.ExecOneshot(r.Context(), containerID, []string{interp, req.FilePath}, workdir)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.RunResult{ExitCode: exitCode, Output: string(output)})
}
