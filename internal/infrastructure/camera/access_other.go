//go:build !linux

package camera

// checkAccess на других платформах доступ запрашивает сама система при открытии
func checkAccess(string) error {
	return nil
}
