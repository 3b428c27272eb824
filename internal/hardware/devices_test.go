package hardware

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRegistry_MissingFile(t *testing.T) {
	reg, err := LoadRegistry(filepath.Join(t.TempDir(), "devices.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if len(reg.Devices) != 0 {
		t.Errorf("expected empty registry, got %d devices", len(reg.Devices))
	}
}

func TestLoadRegistry_ParsesDevices(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.yaml")
	content := `devices:
  - name: bench-esp32
    type: esp32
    port: /dev/ttyUSB0
    pins:
      led: "13"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	reg, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	dev, ok := reg.Find("esp32")
	if !ok {
		t.Fatal("esp32 device not found")
	}
	if dev.Name != "bench-esp32" || dev.Port != "/dev/ttyUSB0" || dev.Pins["led"] != "13" {
		t.Errorf("unexpected device: %+v", dev)
	}
}

func TestLoadRegistry_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.yaml")
	if err := os.WriteFile(path, []byte("devices: [broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRegistry(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestFind_UnknownType(t *testing.T) {
	reg := &Registry{Devices: []Device{{Name: "d1", Type: "esp32"}}}
	if _, ok := reg.Find("arduino-uno"); ok {
		t.Error("unknown type should not match")
	}
}
