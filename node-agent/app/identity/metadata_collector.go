package identity

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// Metadata is the host description an agent reports with its heartbeats
type Metadata struct {
	OSName        string
	OSVersion     string
	Arch          string
	KernelVersion string
	Hostname      string
	IPAddress     string
	CPUCores      int
	MemoryMB      int
}

// Platform returns "os/arch"
func (m *Metadata) Platform() string {
	return m.OSName + "/" + m.Arch
}

// Map returns the metadata as the free-form map sent to the controller. Unknown values are omitted.
func (m *Metadata) Map() map[string]interface{} {
	out := map[string]interface{}{
		"osName":   m.OSName,
		"arch":     m.Arch,
		"cpuCores": m.CPUCores,
	}
	if m.OSVersion != "" {
		out["osVersion"] = m.OSVersion
	}
	if m.KernelVersion != "" {
		out["kernelVersion"] = m.KernelVersion
	}
	if m.IPAddress != "" {
		out["ipAddress"] = m.IPAddress
	}
	if m.MemoryMB > 0 {
		out["memoryMb"] = m.MemoryMB
	}
	return out
}

// Collector collects system metadata
type Collector struct {
	procRoot string
	etcRoot  string
	ipLookup func() (string, error)
}

// NewCollector creates a new metadata collector. ipLookup may be nil.
func NewCollector(ipLookup func() (string, error)) *Collector {
	return &Collector{procRoot: "/proc", etcRoot: "/etc", ipLookup: ipLookup}
}

// Collect gathers what it can; probes that fail leave their fields empty.
func (c *Collector) Collect() *Metadata {
	metadata := &Metadata{
		OSName:   runtime.GOOS,
		Arch:     runtime.GOARCH,
		CPUCores: runtime.NumCPU(),
	}

	if hostname, err := os.Hostname(); err == nil {
		metadata.Hostname = hostname
	}

	if runtime.GOOS == "linux" {
		if osRelease, err := c.readOSRelease(); err == nil {
			metadata.OSVersion = osRelease
		}
		if kernel, err := exec.Command("uname", "-r").Output(); err == nil {
			metadata.KernelVersion = strings.TrimSpace(string(kernel))
		}
		if mem, err := c.getMemoryMB(); err == nil {
			metadata.MemoryMB = mem
		}
	}

	if c.ipLookup != nil {
		if ip, err := c.ipLookup(); err == nil {
			metadata.IPAddress = ip
		}
	}
	return metadata
}

func (c *Collector) readOSRelease() (string, error) {
	data, err := os.ReadFile(c.etcRoot + "/os-release")
	if err != nil {
		return "", err
	}

	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "PRETTY_NAME=") {
			return strings.Trim(strings.TrimPrefix(line, "PRETTY_NAME="), "\""), nil
		}
	}
	return "", fmt.Errorf("PRETTY_NAME not found")
}

func (c *Collector) getMemoryMB() (int, error) {
	data, err := os.ReadFile(c.procRoot + "/meminfo")
	if err != nil {
		return 0, err
	}

	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "MemTotal:") {
			parts := strings.Fields(line)
			if len(parts) >= 2 {
				if kb, err := strconv.Atoi(parts[1]); err == nil {
					return kb / 1024, nil
				}
			}
		}
	}
	return 0, fmt.Errorf("could not determine memory")
}
