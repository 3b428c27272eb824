package hardware

import "context"

// CompileError reports a firmware compilation failure during deploy.
type CompileError struct {
	Detail string
}

func (e *CompileError) Error() string {
	return "Compilation failed: " + e.Detail
}

// Service is the hardware surface consumed during the deploying phase.
// Web targets never touch it.
type Service interface {
	// Compile builds firmware from the workspace for the device.
	// Failures are reported as *CompileError.
	Compile(ctx context.Context, dir string, device *Device) error

	// Flash uploads the compiled firmware to the device.
	Flash(ctx context.Context, device *Device) error
}
