package utils

import (
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
)

// GetPrimaryIP returns the primary IP address of the host
func GetPrimaryIP() (string, error) {
	output, err := exec.Command("ip", "route", "get", "1").Output()
	if err == nil {
		parts := strings.Fields(string(output))
		for i, part := range parts {
			if part == "src" && i+1 < len(parts) {
				return parts[i+1], nil
			}
		}
	}

	interfaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to get interfaces: %w", err)
	}
	return firstIPv4(interfaces)
}

func firstIPv4(interfaces []net.Interface) (string, error) {
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
				return ipnet.IP.String(), nil
			}
		}
	}
	return "", fmt.Errorf("could not determine IP address")
}

// AdvertiseURL returns configured when set, otherwise http://<primary ip>:<port>.
// An empty result means the controller cannot reach this agent's API.
func AdvertiseURL(configured string, port int, lookup func() (string, error)) string {
	if configured != "" {
		return strings.TrimRight(configured, "/")
	}
	if lookup == nil || port <= 0 {
		return ""
	}
	ip, err := lookup()
	if err != nil || ip == "" {
		return ""
	}
	return "http://" + net.JoinHostPort(ip, strconv.Itoa(port))
}
