package auth

import "strings"

// NetType is the network class reported at checkin. It also decides which
// relay port list is tried first.
type NetType int32

const (
	NetWifi     NetType = 0
	NetCellular NetType = 3
)

func ParseNetType(raw string) NetType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "cellular", "3g", "lte", "mobile":
		return NetCellular
	default:
		return NetWifi
	}
}

func (n NetType) String() string {
	if n == NetCellular {
		return "cellular"
	}
	return "wifi"
}

// Device is the client context sent with directory and login requests.
type Device struct {
	OS         string
	AppVersion string
	Language   string
	NetType    NetType
	MCCMNC     string
	Model      string
	CountryISO string
}

func DefaultDevice() Device {
	return Device{
		OS:         "android",
		AppVersion: "25.2.1",
		Language:   "ko",
		NetType:    NetWifi,
		MCCMNC:     "999",
		CountryISO: "KR",
	}
}

// WithDefaults fills empty fields from DefaultDevice.
func (d Device) WithDefaults() Device {
	def := DefaultDevice()
	if d.OS == "" {
		d.OS = def.OS
	}
	if d.AppVersion == "" {
		d.AppVersion = def.AppVersion
	}
	if d.Language == "" {
		d.Language = def.Language
	}
	if d.MCCMNC == "" {
		d.MCCMNC = def.MCCMNC
	}
	if d.CountryISO == "" {
		d.CountryISO = def.CountryISO
	}
	return d
}

// Identity pairs the credential with the device context for one client.
type Identity struct {
	Credential Credential
	Device     Device
}
