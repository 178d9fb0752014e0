package runtime

import (
	"context"
	"fmt"
	"strings"
)

// hookMarker makes the install idempotent: the snippet is appended only if
// the profile does not already carry it.
const hookMarker = "__sandbox_fs_notify"

// hookSnippet is appended to the login profile at container creation. Before
// every command bash runs, it POSTs the command line and working directory to
// the intake endpoint, but only for the filesystem verbs the intake models.
// IDE_API and USER_ID are baked into the container environment at create
// time.
const hookSnippet = `
# sandbox filesystem interception
__sandbox_fs_notify() {
  case "${BASH_COMMAND%% *}" in
    touch|mkdir|rm|mv|cp|cd) ;;
    *) return ;;
  esac
  local cmd="$BASH_COMMAND"
  cmd=${cmd//\\/\\\\}
  cmd=${cmd//\"/\\\"}
  curl -s -m 2 -X POST "$IDE_API/api/fs-event" \
    -H "Content-Type: application/json" \
    -d "{\"user_id\":\"$USER_ID\",\"cmd\":\"$cmd\",\"cwd\":\"$PWD\"}" \
    >/dev/null 2>&1
}
trap __sandbox_fs_notify DEBUG
`

// installShellHook appends the interception snippet to ~/.bashrc inside the
// container. Failure leaves the terminal usable, so callers treat it as
// non-fatal.
func (r *DockerRuntime) installShellHook(ctx context.Context, containerID, userID string) error {
	script := fmt.Sprintf(
		"grep -q %s /root/.bashrc 2>/dev/null || cat >> /root/.bashrc <<'SANDBOX_HOOK'\n%s\nSANDBOX_HOOK",
		hookMarker, strings.TrimSpace(hookSnippet),
	)
	code, out, err := r.ExecOneshot(ctx, containerID, []string{"/bin/bash", "-c", script}, "")
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("hook install exited %d: %s", code, strings.TrimSpace(string(out)))
	}
	return nil
}
