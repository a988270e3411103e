package utils

import (
	"reflect"
	"strings"
)

// NormalizePlatform normalizes an "os/arch" platform string, e.g. "Linux/x86_64" to "linux/amd64".
func NormalizePlatform(platform string) string {
	platform = strings.TrimSpace(strings.ToLower(platform))
	if platform == "" {
		return ""
	}
	osName, arch, found := strings.Cut(platform, "/")
	if !found {
		return NormalizeOSName(osName)
	}
	return NormalizeOSName(osName) + "/" + NormalizeArch(arch)
}

// NormalizeOSName normalizes OS name for consistent storage
func NormalizeOSName(osName string) string {
	osName = strings.ToLower(osName)
	switch {
	case strings.HasPrefix(osName, "darwin"), strings.HasPrefix(osName, "macos"):
		return "darwin"
	case strings.HasPrefix(osName, "win"):
		return "windows"
	case strings.Contains(osName, "linux"):
		return "linux"
	}
	return osName
}

// NormalizeArch normalizes architecture name
func NormalizeArch(arch string) string {
	arch = strings.ToLower(arch)
	switch arch {
	case "x86_64", "amd64":
		return "amd64"
	case "aarch64", "arm64":
		return "arm64"
	case "armv7l", "armv7", "arm":
		return "arm"
	case "i386", "i686", "x86":
		return "386"
	default:
		return arch
	}
}

// DiffMetadata returns the keys of next whose values are new or differ from prev
func DiffMetadata(prev, next map[string]interface{}) []string {
	changed := make([]string, 0)
	for key, nv := range next {
		ov, exists := prev[key]
		if !exists || !reflect.DeepEqual(ov, nv) {
			changed = append(changed, key)
		}
	}
	return changed
}
