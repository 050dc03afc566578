package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"runtime"
	"strings"
)

// Resolver derives the stable pseudonymous user id attached to every record
type Resolver struct {
	machineID func() (string, error)
	username  func() (string, error)
}

// NewResolver creates a resolver backed by the host's machine id and login name
func NewResolver() *Resolver {
	return &Resolver{
		machineID: platformMachineID,
		username:  currentUsername,
	}
}

// UserID returns configured when set, otherwise sha256(machine_user)[:16]
func (r *Resolver) UserID(configured string) (string, error) {
	if configured = strings.TrimSpace(configured); configured != "" {
		return configured, nil
	}

	machine, err := r.machineID()
	if err != nil {
		return "", fmt.Errorf("could not determine machine id: %w", err)
	}
	name, err := r.username()
	if err != nil {
		return "", fmt.Errorf("could not determine username: %w", err)
	}
	if machine == "" || name == "" {
		return "", fmt.Errorf("machine id and username must not be empty")
	}

	sum := sha256.Sum256([]byte(machine + "_" + name))
	return hex.EncodeToString(sum[:])[:16], nil
}

// Hostname returns the host name reported on each record
func Hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

func currentUsername() (string, error) {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username, nil
	}
	for _, key := range []string{"USER", "USERNAME"} {
		if v := os.Getenv(key); v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("no username available")
}

func platformMachineID() (string, error) {
	var id string
	switch runtime.GOOS {
	case "windows":
		id = windowsMachineID()
	case "darwin":
		id = darwinMachineID()
	case "linux":
		id = linuxMachineID()
	}
	if id != "" {
		return id, nil
	}

	hostname, err := os.Hostname()
	if err == nil && hostname != "" {
		return runtime.GOOS + "-" + hostname, nil
	}
	return "", fmt.Errorf("could not determine %s machine id", runtime.GOOS)
}

func windowsMachineID() string {
	output, err := exec.Command("wmic", "csproduct", "get", "uuid").Output()
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && line != "UUID" && len(line) > 10 {
			return line
		}
	}
	return ""
}

func darwinMachineID() string {
	output, err := exec.Command("system_profiler", "SPHardwareDataType").Output()
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(output), "\n") {
		if strings.Contains(line, "Hardware UUID") {
			if _, value, ok := strings.Cut(line, ":"); ok {
				return strings.TrimSpace(value)
			}
		}
	}
	return ""
}

func linuxMachineID() string {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if data, err := os.ReadFile(path); err == nil {
			if id := strings.TrimSpace(string(data)); id != "" {
				return id
			}
		}
	}
	return ""
}
