package auth

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aodjo/KakaoForge-sub001/internal/testutil/testlog"
	"github.com/rs/zerolog/log"
)

func TestStaticTokenValidate(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name    string
		stored  string
		input   string
		wantErr error
	}{
		{name: "empty token denied", stored: "", input: "abc", wantErr: ErrUnauthorized},
		{name: "mismatched token denied", stored: "abc", input: "xyz", wantErr: ErrUnauthorized},
		{name: "matching token accepted", stored: "abc", input: "abc", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := (StaticToken{Token: tc.stored}).Validate(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
			log.Debug().Msgf("auth/static-token: stored=%q input=%q err=%v", tc.stored, tc.input, err)
		})
	}
}

func TestCredentialValidate(t *testing.T) {
	testlog.Start(t)
	ok := Credential{UserID: 1, AccessToken: "tok", DeviceUUID: "dev"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("expected valid credential, got %v", err)
	}
	for _, bad := range []Credential{
		{AccessToken: "tok", DeviceUUID: "dev"},
		{UserID: 1, DeviceUUID: "dev"},
		{UserID: 1, AccessToken: "tok"},
	} {
		if err := bad.Validate(); !errors.Is(err, ErrCredentialRequired) {
			t.Fatalf("expected ErrCredentialRequired for %+v, got %v", bad, err)
		}
	}
	if got := (Credential{UserID: 5, AccessToken: "abcdefghij", DeviceUUID: "d"}).Redacted(); got != "user=5 token=abcdef... device=d" {
		t.Fatalf("redacted=%q", got)
	}
}

func TestLoadArtifactAcceptsQuotedUserID(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "auth.json")
	data := `{"userId":"9007199254740993","accessToken":"a","refreshToken":"r","deviceUuid":"d","savedAt":"2026-01-02T03:04:05Z"}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	a, err := LoadArtifact(path)
	if err != nil {
		t.Fatalf("load artifact: %v", err)
	}
	if a.UserID != 9007199254740993 || a.RefreshToken != "r" || a.SavedAt.Year() != 2026 {
		t.Fatalf("unexpected artifact %+v", a)
	}
	cred := a.Credential()
	if cred.DeviceUUID != "d" || cred.AccessToken != "a" {
		t.Fatalf("unexpected credential %+v", cred)
	}
}

func TestLoadArtifactRejectsIncomplete(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "auth.json")
	if err := os.WriteFile(path, []byte(`{"userId":12}`), 0o600); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	if _, err := LoadArtifact(path); !errors.Is(err, ErrCredentialRequired) {
		t.Fatalf("expected ErrCredentialRequired, got %v", err)
	}
}

func TestParseNetType(t *testing.T) {
	testlog.Start(t)
	if ParseNetType("LTE") != NetCellular || ParseNetType("wifi") != NetWifi || ParseNetType("") != NetWifi {
		t.Fatalf("unexpected net type parse")
	}
}
