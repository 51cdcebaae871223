package crypto

import (
	"crypto/sha256"
	"net"
	"os"
)

// machineID returns a stable per-host identifier: the OS-provided machine
// ID where available, else a hash of hostname + first non-loopback MAC.
// It never touches persistent application storage — only OS/kernel state.
func machineID() ([]byte, error) {
	for _, p := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if b, err := os.ReadFile(p); err == nil && len(b) > 0 {
			return b, nil
		}
	}
	return fallbackMachineID()
}

func fallbackMachineID() ([]byte, error) {
	h := sha256.New()
	hostname, err := os.Hostname()
	if err != nil {
		return nil, err
	}
	h.Write([]byte(hostname))

	ifaces, err := net.Interfaces()
	if err != nil {
		return h.Sum(nil), nil
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		h.Write(iface.HardwareAddr)
		break
	}
	return h.Sum(nil), nil
}
