package runtime

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/lsclear/sandbox/pkg/errdefs"
)

// PutArchive streams a tar archive into the container, extracting it at
// dstDir. Extraction replaces files whole, which makes single-file writes
// atomic at the file level.
func (r *DockerRuntime) PutArchive(ctx context.Context, containerID, dstDir string, archive io.Reader) error {
	err := r.cli.CopyToContainer(ctx, containerID, dstDir, archive, container.CopyToContainerOptions{})
	if err != nil {
		if client.IsErrNotFound(err) {
			return errdefs.NotFoundf("container %s gone", containerID)
		}
		return errdefs.Transport(fmt.Errorf("failed to copy archive into container: %w", err))
	}
	return nil
}

// WriteFile writes content to an absolute path inside the container by
// wrapping it in a single-entry tar extracted at /. Missing parent
// directories are created first.
func (r *DockerRuntime) WriteFile(ctx context.Context, containerID, absPath string, content []byte) error {
	dir := path.Dir(absPath)
	if dir != "/" {
		if err := r.Mkdir(ctx, containerID, dir); err != nil {
			return err
		}
	}

	archive, err := singleFileTar(strings.TrimPrefix(absPath, "/"), content)
	if err != nil {
		return err
	}
	return r.PutArchive(ctx, containerID, "/", archive)
}

// Mkdir creates a directory (and its parents) inside the container.
func (r *DockerRuntime) Mkdir(ctx context.Context, containerID, absPath string) error {
	code, out, err := r.ExecOneshot(ctx, containerID, []string{"mkdir", "-p", absPath}, "")
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("mkdir -p %s failed: %s", absPath, strings.TrimSpace(string(out)))
	}
	return nil
}

// ReadFile fetches a single file's bytes from the container through the
// archive API.
func (r *DockerRuntime) ReadFile(ctx context.Context, containerID, absPath string) ([]byte, error) {
	rc, _, err := r.cli.CopyFromContainer(ctx, containerID, absPath)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, errdefs.NotFoundf("%s not found in container", absPath)
		}
		return nil, errdefs.Transport(fmt.Errorf("failed to copy from container: %w", err))
	}
	defer rc.Close()

	// The engine wraps the file in a tar archive whose first regular entry
	// is the file itself.
	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read archive: %w", err)
		}
		if hdr.Typeflag == tar.TypeReg {
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, fmt.Errorf("failed to read archive entry: %w", err)
			}
			return data, nil
		}
	}
	return nil, errdefs.NotFoundf("%s is not a regular file", absPath)
}

// singleFileTar builds an in-memory tar archive holding one file at the
// given slash-relative path.
func singleFileTar(relPath string, content []byte) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     relPath,
		Mode:     0644,
		Size:     int64(len(content)),
		ModTime:  time.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, fmt.Errorf("failed to write tar header: %w", err)
	}
	if _, err := tw.Write(content); err != nil {
		return nil, fmt.Errorf("failed to write tar body: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize tar: %w", err)
	}
	return &buf, nil
}
