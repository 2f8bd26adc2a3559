// Package device monitors Hailo accelerator devices: presence via the
// character device nodes, identity via sysfs, and temperatures via hwmon.
// The snapshot is served by the API and mirrored to a JSON status file for
// host-side tooling.
package device

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pyrowatch/pyrowatch/internal/config"
	"github.com/pyrowatch/pyrowatch/internal/events"
	"github.com/pyrowatch/pyrowatch/internal/logging"
	"github.com/pyrowatch/pyrowatch/internal/metrics"
)

// Device describes one detected accelerator.
type Device struct {
	Path         string             `json:"path" example:"/dev/hailo0" doc:"Character device node"`
	Name         string             `json:"name" example:"hailo0" doc:"Device name"`
	BoardName    string             `json:"board_name,omitempty" example:"Hailo-8" doc:"Board identity from sysfs"`
	SerialNumber string             `json:"serial_number,omitempty" doc:"Device serial from sysfs"`
	Architecture string             `json:"architecture,omitempty" example:"HAILO8" doc:"Device architecture from sysfs"`
	Temperatures map[string]float64 `json:"temperatures,omitempty" doc:"Sensor temperatures in celsius"`
}

// Snapshot is the full monitor state at one poll.
type Snapshot struct {
	Timestamp   time.Time `json:"timestamp" doc:"When the snapshot was taken"`
	DeviceCount int       `json:"device_count" example:"1" doc:"Number of accelerator devices found"`
	Devices     []Device  `json:"devices" doc:"Detected devices"`
}

// Monitor polls for accelerator devices on a fixed interval.
type Monitor struct {
	cfg      config.DeviceConfig
	interval time.Duration
	bus      *events.Bus
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu   sync.RWMutex
	last Snapshot

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMonitor creates a monitor. Call Start to begin polling.
func NewMonitor(cfg config.DeviceConfig, interval time.Duration, bus *events.Bus, m *metrics.Metrics) *Monitor {
	return &Monitor{
		cfg:      cfg,
		interval: interval,
		bus:      bus,
		metrics:  m,
		logger:   logging.GetLogger("device"),
		stop:     make(chan struct{}),
	}
}

// Start performs an immediate scan and then polls until Stop. Missing
// hardware is a normal condition, not an error: the service runs fine on
// CPU-only hosts.
func (m *Monitor) Start() {
	m.poll()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.poll()
			}
		}
	}()
}

// Stop ends polling. Idempotent.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	m.wg.Wait()
}

// Snapshot returns the most recent poll result.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

func (m *Monitor) poll() {
	snap := m.scan()

	m.mu.Lock()
	prevCount := m.last.DeviceCount
	hadPrev := !m.last.Timestamp.IsZero()
	m.last = snap
	m.mu.Unlock()

	m.metrics.AcceleratorDevices.Set(float64(snap.DeviceCount))
	for _, dev := range snap.Devices {
		for sensor, temp := range dev.Temperatures {
			m.metrics.AcceleratorTemp.WithLabelValues(dev.Name, sensor).Set(temp)
		}
	}

	if err := m.writeStatusFile(snap); err != nil {
		m.logger.Warn("Failed to write device status file", "path", m.cfg.StatusFile, "error", err)
	}

	if !hadPrev || prevCount != snap.DeviceCount {
		m.bus.Publish(events.DeviceStatusEvent{
			DeviceCount: snap.DeviceCount,
			Timestamp:   snap.Timestamp.UTC().Format(time.RFC3339),
		})
		m.logger.Info("Accelerator device count changed",
			"previous", prevCount, "current", snap.DeviceCount)
	}
}

// scan globs the device nodes and collects identity and temperatures.
func (m *Monitor) scan() Snapshot {
	snap := Snapshot{
		Timestamp: time.Now(),
		Devices:   []Device{},
	}

	paths, err := filepath.Glob(m.cfg.DeviceGlob)
	if err != nil {
		m.logger.Warn("Device glob failed", "glob", m.cfg.DeviceGlob, "error", err)
		return snap
	}

	for _, path := range paths {
		name := filepath.Base(path)
		dev := Device{
			Path:         path,
			Name:         name,
			BoardName:    m.readSysfsAttr(name, "board_name", "device_id"),
			SerialNumber: m.readSysfsAttr(name, "serial_number"),
			Architecture: m.readSysfsAttr(name, "device_architecture", "architecture"),
		}
		if temps := m.readTemperatures(); len(temps) > 0 {
			dev.Temperatures = temps
		}
		snap.Devices = append(snap.Devices, dev)
	}
	snap.DeviceCount = len(snap.Devices)
	return snap
}

// readSysfsAttr reads the first present attribute from the device's sysfs
// class entry. Attribute names vary across driver versions, hence the
// alternatives.
func (m *Monitor) readSysfsAttr(name string, attrs ...string) string {
	for _, attr := range attrs {
		data, err := os.ReadFile(filepath.Join(m.cfg.SysfsClassPath, name, "device", attr))
		if err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	return ""
}

// readTemperatures finds hwmon entries whose name matches the accelerator
// driver and reads all temp*_input sensors.
func (m *Monitor) readTemperatures() map[string]float64 {
	entries, err := os.ReadDir(m.cfg.HwmonSearchPath)
	if err != nil {
		return nil
	}

	temps := map[string]float64{}
	for _, entry := range entries {
		hwmonDir := filepath.Join(m.cfg.HwmonSearchPath, entry.Name())
		nameData, err := os.ReadFile(filepath.Join(hwmonDir, "name"))
		if err != nil || !strings.Contains(strings.ToLower(strings.TrimSpace(string(nameData))), "hailo") {
			continue
		}

		inputs, _ := filepath.Glob(filepath.Join(hwmonDir, "temp*_input"))
		for _, input := range inputs {
			raw, err := os.ReadFile(input)
			if err != nil {
				continue
			}
			milli, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
			if err != nil {
				continue
			}

			sensor := strings.TrimSuffix(filepath.Base(input), "_input")
			if label, err := os.ReadFile(strings.TrimSuffix(input, "input") + "label"); err == nil {
				sensor = strings.TrimSpace(string(label))
			}
			temps[sensor] = milli / 1000.0
		}
	}
	if len(temps) == 0 {
		return nil
	}
	return temps
}

// writeStatusFile mirrors the snapshot to disk atomically so readers never
// see a partial file.
func (m *Monitor) writeStatusFile(snap Snapshot) error {
	if m.cfg.StatusFile == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.cfg.StatusFile), 0755); err != nil {
		return fmt.Errorf("create status directory: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	tmp := m.cfg.StatusFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return os.Rename(tmp, m.cfg.StatusFile)
}
