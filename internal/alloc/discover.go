package alloc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sys/unix"

	"github.com/yofukashino/go-funnel/internal/constants"
	"github.com/yofukashino/go-funnel/internal/logging"
)

const drmDir = "/dev/dri"

// DiscoverRenderNode opens the first available DRM render node under
// /dev/dri. It watches the directory with fsnotify so a node that appears
// after the call starts (e.g. a GPU driver finishing probe) is picked up
// immediately, falling back to a bounded poll if fsnotify can't be set up.
// This replaces the teacher's sleep-poll waitLive with an event-driven
// wait, still bounded by constants.RenderNodeDiscoveryTimeout.
func DiscoverRenderNode(ctx context.Context) (string, int, error) {
	if node, fd, err := tryOpenExisting(); err == nil {
		return node, fd, nil
	}

	ctx, cancel := context.WithTimeout(ctx, constants.RenderNodeDiscoveryTimeout)
	defer cancel()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Default().Warn("fsnotify unavailable, falling back to poll", "error", err)
		return pollForRenderNode(ctx)
	}
	defer watcher.Close()

	if err := watcher.Add(drmDir); err != nil {
		logging.Default().Warn("failed to watch drm directory, falling back to poll", "dir", drmDir, "error", err)
		return pollForRenderNode(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return "", -1, fmt.Errorf("no render node appeared under %s within timeout: %w", drmDir, ctx.Err())
		case ev, ok := <-watcher.Events:
			if !ok {
				return "", -1, fmt.Errorf("fsnotify watcher closed unexpectedly")
			}
			if !isRenderNode(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if fd, err := unix.Open(ev.Name, unix.O_RDWR|unix.O_CLOEXEC, 0); err == nil {
				return ev.Name, fd, nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return "", -1, fmt.Errorf("fsnotify watcher closed unexpectedly")
			}
			logging.Default().Warn("fsnotify error while watching drm directory", "error", err)
		}
	}
}

func pollForRenderNode(ctx context.Context) (string, int, error) {
	ticker := time.NewTicker(constants.RenderNodePollInterval)
	defer ticker.Stop()

	for {
		if node, fd, err := tryOpenExisting(); err == nil {
			return node, fd, nil
		}
		select {
		case <-ctx.Done():
			return "", -1, fmt.Errorf("no render node appeared under %s within timeout: %w", drmDir, ctx.Err())
		case <-ticker.C:
		}
	}
}

func tryOpenExisting() (string, int, error) {
	entries, err := os.ReadDir(drmDir)
	if err != nil {
		return "", -1, fmt.Errorf("read %s: %w", drmDir, err)
	}

	var nodes []string
	for _, e := range entries {
		if isRenderNode(e.Name()) {
			nodes = append(nodes, filepath.Join(drmDir, e.Name()))
		}
	}
	sort.Strings(nodes)

	for _, node := range nodes {
		fd, err := unix.Open(node, unix.O_RDWR|unix.O_CLOEXEC, 0)
		if err == nil {
			return node, fd, nil
		}
	}
	return "", -1, fmt.Errorf("no usable render node under %s", drmDir)
}

func isRenderNode(path string) bool {
	return strings.HasPrefix(filepath.Base(path), "renderD")
}
