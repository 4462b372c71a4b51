package camera

import (
	"errors"
	"io/fs"
	"strings"
	"syscall"

	"webcam-capture/internal/domain"
)

// classifyOpenError относит ошибку драйвера к категории. hasDevices
// различает отсутствие устройств и невыполнимые ограничения, так как
// mediadevices сообщает об обоих случаях одной ошибкой.
func classifyOpenError(err error, hasDevices bool) error {
	if err == nil {
		return nil
	}
	var ce *domain.CaptureError
	if errors.As(err, &ce) {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM),
		strings.Contains(msg, "permission denied"), strings.Contains(msg, "not permitted"):
		return domain.NewError(domain.KindPermissionDenied, "open stream", err)
	case errors.Is(err, syscall.EBUSY), strings.Contains(msg, "resource busy"), strings.Contains(msg, "in use"):
		return domain.NewError(domain.KindHardwareBusy, "open stream", err)
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENODEV), strings.Contains(msg, "no such device"):
		return domain.NewError(domain.KindDeviceNotFound, "open stream", err)
	case strings.Contains(msg, "fits the constraints"), strings.Contains(msg, "constraint"):
		if !hasDevices {
			return domain.NewError(domain.KindDeviceNotFound, "open stream", err)
		}
		return domain.NewError(domain.KindConstraintsUnsatisfiable, "open stream", err)
	default:
		return domain.NewError(domain.KindOther, "open stream", err)
	}
}

// isConstraintsError сообщает, имеет ли смысл повторить с мягкими ограничениями
func isConstraintsError(err error) bool {
	return domain.IsKind(err, domain.KindConstraintsUnsatisfiable)
}
