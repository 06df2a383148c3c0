package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Artifact is the persisted login result written by the login tooling.
type Artifact struct {
	UserID       int64     `json:"userId"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	DeviceUUID   string    `json:"deviceUuid"`
	SavedAt      time.Time `json:"savedAt"`
}

// UnmarshalJSON accepts userId as either a number or a decimal string, since
// ids above 2^53 are often stored quoted.
func (a *Artifact) UnmarshalJSON(data []byte) error {
	type plain Artifact
	var raw struct {
		plain
		UserID json.RawMessage `json:"userId"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = Artifact(raw.plain)
	id := strings.Trim(strings.TrimSpace(string(raw.UserID)), `"`)
	if id == "" || id == "null" {
		a.UserID = 0
		return nil
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("auth: userId %q: %w", id, err)
	}
	a.UserID = n
	return nil
}

// LoadArtifact reads an artifact file. The transport never writes it.
func LoadArtifact(path string) (Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("auth: read artifact (%s): %w", path, err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return Artifact{}, fmt.Errorf("auth: parse artifact (%s): %w", path, err)
	}
	if err := a.Credential().Validate(); err != nil {
		return Artifact{}, fmt.Errorf("auth: artifact (%s): %w", path, err)
	}
	return a, nil
}

func (a Artifact) Credential() Credential {
	return Credential{
		UserID:       a.UserID,
		AccessToken:  a.AccessToken,
		RefreshToken: a.RefreshToken,
		DeviceUUID:   a.DeviceUUID,
	}
}
