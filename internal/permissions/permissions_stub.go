//go:build !darwin

package permissions

// CheckMicrophone always reports Authorized on non-macOS platforms.
func CheckMicrophone() (Status, error) { return Authorized, nil }

// CheckCamera always reports Authorized on non-macOS platforms.
func CheckCamera() (Status, error) { return Authorized, nil }

func RequestMicrophone() error { return nil }

func RequestCamera() error { return nil }

// EnsurePermissions is a no-op on non-macOS platforms.
func EnsurePermissions() error {
	return nil
}
