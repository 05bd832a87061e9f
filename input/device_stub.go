//go:build !linux

package input

// enumerateDevices has no implementation outside Linux; the engine reports
// capture as disabled, which the daemon treats as a non-fatal warning.
func enumerateDevices() ([]Device, error) {
	return nil, nil
}
