// Package systemd generates the unit file for the unattended
// fail-safe runner and detects tampering with an installed unit.
// Stopping or editing the recovery service is the cheapest way to
// make restrictions permanent, so the unit file hash is recorded at
// install time and checked on every watch start.
package systemd

// FailsafeTemplate returns the systemd unit for lockward-failsafe.
func FailsafeTemplate() string {
	return `[Unit]
Description=Lockward fail-safe recovery runner
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart=/usr/local/bin/lockward-failsafe --interval 1m
Restart=always
RestartSec=5
NoNewPrivileges=true
PrivateTmp=true
ProtectHome=read-only

[Install]
WantedBy=multi-user.target
`
}
