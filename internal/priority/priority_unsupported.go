//go:build !linux && !darwin
// +build !linux,!darwin

package priority

// BumpCurrentThread is a no-op on platforms without a priority-bump path.
func BumpCurrentThread() error {
	return nil
}
