package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// SystemProvider collects fingerprints from the local machine: machine ID,
// physical network adapter MACs, a CPU identifier, and a host identifier.
// Results are cached since hardware identity does not change at runtime.
type SystemProvider struct {
	mu          sync.RWMutex
	cache       []string
	cacheExpiry time.Time

	cacheDuration time.Duration
}

// NewSystemProvider creates a provider with a one-hour collection cache.
func NewSystemProvider() *SystemProvider {
	return &SystemProvider{cacheDuration: time.Hour}
}

// Collect gathers the machine-identifying strings, discarding any source
// that is empty or unavailable on this platform.
func (p *SystemProvider) Collect() []string {
	p.mu.RLock()
	if p.cache != nil && time.Now().Before(p.cacheExpiry) {
		cached := append([]string(nil), p.cache...)
		p.mu.RUnlock()
		return cached
	}
	p.mu.RUnlock()

	var fingerprints []string

	if id := machineID(); id != "" {
		fingerprints = append(fingerprints, "machine:"+id)
	}
	for _, mac := range macAddresses() {
		fingerprints = append(fingerprints, "mac:"+mac)
	}
	if id := cpuID(); id != "" {
		fingerprints = append(fingerprints, "cpu:"+id)
	}
	if id := hostID(); id != "" {
		fingerprints = append(fingerprints, "host:"+id)
	}

	slog.Debug("hardware fingerprints collected",
		slog.Int("count", len(fingerprints)),
		slog.String("os", runtime.GOOS),
	)

	p.mu.Lock()
	p.cache = fingerprints
	p.cacheExpiry = time.Now().Add(p.cacheDuration)
	p.mu.Unlock()

	return append([]string(nil), fingerprints...)
}

// machineID reads the OS machine/system-board identifier where available.
func machineID() string {
	switch runtime.GOOS {
	case "linux":
		for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id", "/sys/class/dmi/id/product_uuid"} {
			if data, err := os.ReadFile(path); err == nil {
				if id := strings.TrimSpace(string(data)); id != "" {
					return shortHash(id)
				}
			}
		}
	case "windows":
		// MachineGuid is mirrored into the environment by the installer;
		// fall back to the computer name sources below when absent.
		if id := os.Getenv("MACHINE_GUID"); id != "" {
			return shortHash(id)
		}
	}
	return ""
}

// macAddresses returns MACs of physical, non-loopback interfaces.
func macAddresses() []string {
	interfaces, err := net.Interfaces()
	if err != nil {
		slog.Warn("failed to enumerate network interfaces", slog.String("error", err.Error()))
		return nil
	}

	var macs []string
	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		if isVirtualInterface(iface.Name) {
			continue
		}
		mac := iface.HardwareAddr.String()
		if mac != "" && mac != "00:00:00:00:00:00" {
			macs = append(macs, mac)
		}
	}
	return macs
}

// isVirtualInterface filters out common virtual adapter names so a binding
// does not depend on containers or VPN tunnels that come and go.
func isVirtualInterface(name string) bool {
	lower := strings.ToLower(name)
	for _, prefix := range []string{"veth", "docker", "br-", "virbr", "tun", "tap", "wg", "vmnet", "utun"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// cpuID derives a stable processor identifier per platform.
func cpuID() string {
	switch runtime.GOOS {
	case "windows":
		if procID := os.Getenv("PROCESSOR_IDENTIFIER"); procID != "" {
			return shortHash(procID)
		}
	case "linux":
		if data, err := os.ReadFile("/proc/cpuinfo"); err == nil {
			for _, line := range strings.Split(string(data), "\n") {
				if strings.HasPrefix(line, "model name") {
					return shortHash(line)
				}
			}
		}
	}
	// Architecture-level fallback; stable but weak, still one more factor.
	return shortHash(fmt.Sprintf("%s-%s", runtime.GOOS, runtime.GOARCH))
}

// hostID hashes the normalized hostname.
func hostID() string {
	hostname, err := os.Hostname()
	if err != nil {
		return ""
	}
	hostname = strings.ToLower(strings.TrimSpace(hostname))
	if hostname == "" {
		return ""
	}
	return shortHash(hostname)
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
