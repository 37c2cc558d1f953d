package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const vcuHeader = `# Modbatt VCU configuration.
# transport: socketcan | slcan | loopback
# sequence: state digits, 0=off 1=standby 2=precharge 3=on
# fault_bits: optional table of "0xNN" = "name" overriding module fault names
# message_tables: optional YAML file whose tables replace built-in layouts by name

`

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "vcu", "keyctl":
		body, err := toml.Marshal(DefaultVCUFile())
		if err != nil {
			return "", fmt.Errorf("render %s template: %w", kind, err)
		}
		return vcuHeader + string(body), nil
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
