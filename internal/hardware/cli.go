package hardware

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"go.uber.org/zap"

	"github.com/elisa-dev/elisa/internal/common/logger"
)

// fqbnByType maps supported device types to their arduino-cli board names.
var fqbnByType = map[string]string{
	"esp32": "esp32:esp32:esp32",
}

// CLIService compiles and flashes firmware through arduino-cli.
type CLIService struct {
	logger *logger.Logger
}

// NewCLIService creates the arduino-cli backed hardware service.
func NewCLIService(log *logger.Logger) *CLIService {
	return &CLIService{logger: log.WithFields(zap.String("component", "hardware"))}
}

func (s *CLIService) Compile(ctx context.Context, dir string, device *Device) error {
	fqbn, ok := fqbnByType[device.Type]
	if !ok {
		return &CompileError{Detail: "unsupported device type " + device.Type}
	}
	out, err := s.run(ctx, dir, "compile", "--fqbn", fqbn, dir)
	if err != nil {
		s.logger.Warn("firmware compile failed",
			zap.String("device", device.Name), zap.Error(err))
		return &CompileError{Detail: firstLine(out, err)}
	}
	return nil
}

func (s *CLIService) Flash(ctx context.Context, device *Device) error {
	if device.Port == "" {
		return fmt.Errorf("device %s has no configured port", device.Name)
	}
	fqbn := fqbnByType[device.Type]
	if _, err := s.run(ctx, "", "upload", "--fqbn", fqbn, "--port", device.Port); err != nil {
		return fmt.Errorf("upload to %s failed: %w", device.Name, err)
	}
	return nil
}

func (s *CLIService) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "arduino-cli", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}

func firstLine(output string, err error) string {
	for _, line := range bytes.Split([]byte(output), []byte("\n")) {
		if len(bytes.TrimSpace(line)) > 0 {
			return string(bytes.TrimSpace(line))
		}
	}
	return err.Error()
}
