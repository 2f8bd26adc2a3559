package device

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pyrowatch/pyrowatch/internal/config"
	"github.com/pyrowatch/pyrowatch/internal/events"
	"github.com/pyrowatch/pyrowatch/internal/metrics"
)

func newTestMonitor(t *testing.T, cfg config.DeviceConfig) *Monitor {
	t.Helper()
	return NewMonitor(cfg, time.Minute, events.New(), metrics.New())
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestScanNoDevices(t *testing.T) {
	dir := t.TempDir()
	mon := newTestMonitor(t, config.DeviceConfig{
		DeviceGlob:      filepath.Join(dir, "hailo*"),
		SysfsClassPath:  filepath.Join(dir, "sysfs"),
		HwmonSearchPath: filepath.Join(dir, "hwmon"),
	})

	snap := mon.scan()
	if snap.DeviceCount != 0 {
		t.Errorf("expected 0 devices, got %d", snap.DeviceCount)
	}
	if snap.Devices == nil {
		t.Error("devices slice should be non-nil for JSON output")
	}
}

func TestScanFindsDevices(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "dev", "hailo0"), "")
	writeFile(t, filepath.Join(dir, "sysfs", "hailo0", "device", "board_name"), "Hailo-8\n")
	writeFile(t, filepath.Join(dir, "sysfs", "hailo0", "device", "serial_number"), "HLDDLB123456789\n")
	writeFile(t, filepath.Join(dir, "sysfs", "hailo0", "device", "device_architecture"), "HAILO8\n")

	hwmon := filepath.Join(dir, "hwmon", "hwmon3")
	writeFile(t, filepath.Join(hwmon, "name"), "hailo\n")
	writeFile(t, filepath.Join(hwmon, "temp1_input"), "47500\n")
	writeFile(t, filepath.Join(hwmon, "temp1_label"), "cluster\n")

	mon := newTestMonitor(t, config.DeviceConfig{
		DeviceGlob:      filepath.Join(dir, "dev", "hailo*"),
		SysfsClassPath:  filepath.Join(dir, "sysfs"),
		HwmonSearchPath: filepath.Join(dir, "hwmon"),
	})

	snap := mon.scan()
	if snap.DeviceCount != 1 {
		t.Fatalf("expected 1 device, got %d", snap.DeviceCount)
	}
	dev := snap.Devices[0]
	if dev.Name != "hailo0" {
		t.Errorf("unexpected name %q", dev.Name)
	}
	if dev.BoardName != "Hailo-8" {
		t.Errorf("unexpected board name %q", dev.BoardName)
	}
	if dev.SerialNumber != "HLDDLB123456789" {
		t.Errorf("unexpected serial %q", dev.SerialNumber)
	}
	if dev.Architecture != "HAILO8" {
		t.Errorf("unexpected architecture %q", dev.Architecture)
	}
	if got := dev.Temperatures["cluster"]; got != 47.5 {
		t.Errorf("expected 47.5C, got %v", got)
	}
}

func TestScanIgnoresForeignHwmon(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "dev", "hailo0"), "")

	hwmon := filepath.Join(dir, "hwmon", "hwmon0")
	writeFile(t, filepath.Join(hwmon, "name"), "coretemp\n")
	writeFile(t, filepath.Join(hwmon, "temp1_input"), "60000\n")

	mon := newTestMonitor(t, config.DeviceConfig{
		DeviceGlob:      filepath.Join(dir, "dev", "hailo*"),
		SysfsClassPath:  filepath.Join(dir, "sysfs"),
		HwmonSearchPath: filepath.Join(dir, "hwmon"),
	})

	snap := mon.scan()
	if len(snap.Devices[0].Temperatures) != 0 {
		t.Errorf("coretemp sensors should be ignored, got %v", snap.Devices[0].Temperatures)
	}
}

func TestPollWritesStatusFile(t *testing.T) {
	dir := t.TempDir()
	statusFile := filepath.Join(dir, "status", "device_status.json")

	mon := newTestMonitor(t, config.DeviceConfig{
		DeviceGlob:      filepath.Join(dir, "dev", "hailo*"),
		SysfsClassPath:  filepath.Join(dir, "sysfs"),
		HwmonSearchPath: filepath.Join(dir, "hwmon"),
		StatusFile:      statusFile,
	})

	mon.poll()

	data, err := os.ReadFile(statusFile)
	if err != nil {
		t.Fatalf("status file not written: %v", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("status file is not valid JSON: %v", err)
	}
	if snap.DeviceCount != 0 {
		t.Errorf("expected 0 devices, got %d", snap.DeviceCount)
	}
	if snap.Timestamp.IsZero() {
		t.Error("snapshot timestamp should be set")
	}

	if got := mon.Snapshot(); got.Timestamp.IsZero() {
		t.Error("monitor should retain the last snapshot")
	}
}

func TestStopIdempotent(t *testing.T) {
	dir := t.TempDir()
	mon := newTestMonitor(t, config.DeviceConfig{
		DeviceGlob:      filepath.Join(dir, "hailo*"),
		HwmonSearchPath: filepath.Join(dir, "hwmon"),
	})
	mon.Start()
	mon.Stop()
	mon.Stop()
}
