package task

import (
	"context"
	"fmt"
	"os"
)

// logReader abstracts "how big is the log file" and "read me the bytes
// that grew" over a direct host file handle or a container exec
// round-trip, so the log-follow loop in logfollow.go doesn't care which.
type logReader interface {
	Size(ctx context.Context, path string) (int64, error)
	ReadRange(ctx context.Context, path string, offset, length int64) ([]byte, error)
}

type hostLogReader struct{}

func (hostLogReader) Size(ctx context.Context, path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (hostLogReader) ReadRange(ctx context.Context, path string, offset, length int64) ([]byte, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path comes from the runner's own get-log-path output
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := f.Seek(offset, 0); err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	n, err := f.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	return nil, err
}

// isolatedLogReader shells out inside the container to stat and tail the
// log file, since the isolated task store has no direct filesystem
// access from the host process.
type isolatedLogReader struct {
	clusterID string
	exec      ContainerExecutor
}

func (r isolatedLogReader) Size(ctx context.Context, path string) (int64, error) {
	stdout, stderr, code, err := r.exec.ExecInContainer(ctx, r.clusterID, []string{"sh", "-c", fmt.Sprintf("wc -c < %q", path)})
	if err != nil {
		return 0, err
	}
	if code != 0 {
		return 0, fmt.Errorf("stat log size: exit %d: %s", code, stderr)
	}
	var size int64
	if _, err := fmt.Sscanf(trimTrailingNewline(stdout), "%d", &size); err != nil {
		return 0, fmt.Errorf("parsing log size %q: %w", stdout, err)
	}
	return size, nil
}

func (r isolatedLogReader) ReadRange(ctx context.Context, path string, offset, length int64) ([]byte, error) {
	cmd := fmt.Sprintf("tail -c +%d %q | head -c %d", offset+1, path, length)
	stdout, stderr, code, err := r.exec.ExecInContainer(ctx, r.clusterID, []string{"sh", "-c", cmd})
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, fmt.Errorf("read log range: exit %d: %s", code, stderr)
	}
	return []byte(stdout), nil
}
