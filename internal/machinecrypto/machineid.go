package machinecrypto

import (
	"os"
	"strings"
)

// EnvMachineID overrides machine identity resolution. Test use only.
const EnvMachineID = "APITAP_MACHINE_ID"

// machineIDFiles are checked in order for a platform-stable identifier.
var machineIDFiles = []string{
	"/etc/machine-id",
	"/var/lib/dbus/machine-id",
}

// MachineID returns a stable identifier for this machine. Resolution
// order: APITAP_MACHINE_ID env override, the systemd/dbus machine-id
// files, and finally the hostname. The hostname fallback is weaker but
// keeps the store usable on platforms without a machine-id file.
func MachineID() string {
	if id := os.Getenv(EnvMachineID); id != "" {
		return id
	}
	for _, path := range machineIDFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "apitap-unknown-machine"
	}
	return hostname
}
