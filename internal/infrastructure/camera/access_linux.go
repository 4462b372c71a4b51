//go:build linux

package camera

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"

	"webcam-capture/internal/domain"
)

// checkAccess проверяет права на чтение и запись узлов /dev/video*.
// Достаточно одного доступного узла.
func checkAccess(devDir string) error {
	nodes, err := filepath.Glob(filepath.Join(devDir, "video*"))
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return domain.NewError(domain.KindDeviceNotFound, "request access", nil)
	}

	var lastErr error
	for _, node := range nodes {
		if err := unix.Access(node, unix.R_OK|unix.W_OK); err != nil {
			lastErr = fmt.Errorf("%s: %w", node, err)
			continue
		}
		return nil
	}
	return domain.NewError(domain.KindPermissionDenied, "request access", lastErr)
}
