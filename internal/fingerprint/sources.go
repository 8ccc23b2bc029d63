package fingerprint

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"
)

// systemPrimarySource probes the running machine for hardware descriptors.
// Probes are OS-specific; any failure is reported to the resolver, which
// degrades to the fallback source.
type systemPrimarySource struct{}

func (systemPrimarySource) ProcessorID() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if procID := os.Getenv("PROCESSOR_IDENTIFIER"); procID != "" {
			return procID, nil
		}
		return "", fmt.Errorf("PROCESSOR_IDENTIFIER not set")
	case "linux":
		return linuxProcessorID()
	default:
		return "", fmt.Errorf("no processor id probe for %s", runtime.GOOS)
	}
}

func (systemPrimarySource) StorageSerial() (string, error) {
	switch runtime.GOOS {
	case "linux":
		return linuxStorageSerial()
	default:
		return "", fmt.Errorf("no storage serial probe for %s", runtime.GOOS)
	}
}

// linuxProcessorID reads the first model/vendor line from /proc/cpuinfo.
func linuxProcessorID() (string, error) {
	data, err := os.ReadFile("/proc/cpuinfo")
	if err != nil {
		return "", fmt.Errorf("failed to read /proc/cpuinfo: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "model name") || strings.HasPrefix(line, "vendor_id") {
			return strings.TrimSpace(line), nil
		}
	}
	return "", fmt.Errorf("no processor identity in /proc/cpuinfo")
}

// linuxStorageSerial returns the serial of the first block device exposing one.
func linuxStorageSerial() (string, error) {
	matches, err := filepath.Glob("/sys/block/*/device/serial")
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("no block device serial available")
	}
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if serial := strings.TrimSpace(string(data)); serial != "" {
			return serial, nil
		}
	}
	return "", fmt.Errorf("no readable block device serial")
}

// systemFallbackSource derives identity from the environment.
type systemFallbackSource struct{}

func (systemFallbackSource) Hostname() (string, error) {
	return os.Hostname()
}

func (systemFallbackSource) Username() (string, error) {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username, nil
	}
	if name := os.Getenv("USER"); name != "" {
		return name, nil
	}
	if name := os.Getenv("USERNAME"); name != "" {
		return name, nil
	}
	return "", fmt.Errorf("no account name available")
}
