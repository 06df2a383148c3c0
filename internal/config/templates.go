package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/aodjo/KakaoForge-sub001/internal/auth"
	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
)

const (
	KindClient = "client"
	KindAuth   = "auth"
)

// TemplateConfig is Default with placeholders a fresh install needs filled in.
func TemplateConfig() Config {
	cfg := Default()
	cfg.Client.BookingAddr = "booking.example.net:443"
	cfg.AuthFile = "auth.json"
	cfg.PublicKeyFile = "carriage.pub.pem"
	cfg.Status.CorsOrigins = []string{"http://localhost:3000"}
	return cfg
}

const clientHeader = `# carriagectl configuration.
# Durations use Go syntax (250ms, 30s, 10m). Set carriage.secure = true
# together with carriage.public_key_file to enable the record layer.

`

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindClient:
		data, err := toml.Marshal(ToFile(TemplateConfig()))
		if err != nil {
			return "", fmt.Errorf("render client template: %w", err)
		}
		return clientHeader + string(data), nil
	case KindAuth:
		// userId and accessToken come from the external login flow.
		data, err := json.MarshalIndent(auth.Artifact{
			DeviceUUID: uuid.NewString(),
		}, "", "  ")
		if err != nil {
			return "", fmt.Errorf("render auth template: %w", err)
		}
		return string(data) + "\n", nil
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
