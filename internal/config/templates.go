package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "node":
		return nodeTemplate, nil
	case "channel":
		return channelTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const nodeTemplate = `name = "binlink"
listen = ":7400"
admin_addr = ":7401"
admin_token = ""
cors_origins = ["http://localhost:3000"]
out_dir = "received"
mode = "tcp"

[security]
mode = "development"
tls = false
mutual = false
cert_file = ""
key_file = ""
ca_file = ""

[[peers]]
name = "local"
addr = "127.0.0.1:7400"
group = "root"
`

const channelTemplate = `ack_timeout = "10s"
write_timeout = "15s"
mode = "tcp"
connect_timeout = "5s"
max_connect_attempts = 5
`
