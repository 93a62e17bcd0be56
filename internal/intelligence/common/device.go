package common

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/turtacn/progres-go/pkg/errors"
)

// DeviceKind is the execution backend family.
type DeviceKind string

const (
	DeviceCPU  DeviceKind = "cpu"
	DeviceCUDA DeviceKind = "cuda"
	DeviceMPS  DeviceKind = "mps"
)

// DeviceConfig is chosen once per process and passed explicitly to the
// embedding engine. It also carries the batching parameters because both are
// execution concerns that never change results.
type DeviceConfig struct {
	Kind      DeviceKind
	Index     int
	Workers   int
	BatchSize int
}

func (d DeviceConfig) String() string {
	if d.Kind == DeviceCUDA {
		return fmt.Sprintf("cuda:%d", d.Index)
	}
	return string(d.Kind)
}

// ParseDevice parses "cpu", "cuda", "cuda:N" or "mps".
func ParseDevice(s string) (DeviceConfig, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		s = string(DeviceCPU)
	}
	kind, idx, hasIdx := strings.Cut(s, ":")
	d := DeviceConfig{Kind: DeviceKind(kind)}
	switch d.Kind {
	case DeviceCPU, DeviceMPS:
		if hasIdx {
			return DeviceConfig{}, errors.Newf(errors.ErrCodeInvalidParam, "device %q takes no index", s)
		}
	case DeviceCUDA:
		if hasIdx {
			n, err := strconv.Atoi(idx)
			if err != nil || n < 0 {
				return DeviceConfig{}, errors.Newf(errors.ErrCodeInvalidParam, "invalid cuda device index in %q", s)
			}
			d.Index = n
		}
	default:
		return DeviceConfig{}, errors.Newf(errors.ErrCodeInvalidParam, "unknown device %q; expected cpu, cuda[:n] or mps", s)
	}
	return d, nil
}

// AvailableDevices lists the devices this build can execute on. The EGNN
// engine is pure Go, so only the CPU is available.
func AvailableDevices() []DeviceKind {
	return []DeviceKind{DeviceCPU}
}

// SelectDevice parses spec and verifies the device is usable. Requesting an
// accelerator that is not available is a configuration error; there is no
// fallback to the CPU.
func SelectDevice(spec string, workers, batchSize int) (DeviceConfig, error) {
	d, err := ParseDevice(spec)
	if err != nil {
		return DeviceConfig{}, err
	}
	available := false
	for _, k := range AvailableDevices() {
		if k == d.Kind {
			available = true
			break
		}
	}
	if !available {
		return DeviceConfig{}, errors.Newf(errors.ErrCodeDeviceUnavailable,
			"device %s is not available in this build", d).
			WithDetail("available: cpu")
	}
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	if batchSize < 1 {
		batchSize = 1
	}
	d.Workers = workers
	d.BatchSize = batchSize
	return d, nil
}

// CPU returns a ready CPU device with the given worker count.
func CPU(workers int) DeviceConfig {
	d, _ := SelectDevice(string(DeviceCPU), workers, 32)
	return d
}
