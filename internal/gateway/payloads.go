package gateway

import "strings"

// State is the normalized connection state of an instance.
type State string

const (
	StateConnected    State = "connected"
	StateConnecting   State = "connecting"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

// Observation is one normalized reading of an instance's live state.
type Observation struct {
	State           State
	PhoneIdentifier string
	Detail          string
}

// Instance is what the gateway returns when an instance is created.
type Instance struct {
	Name     string
	RawState string
	Pairing  string
}

type createInstanceRequest struct {
	InstanceName string `json:"instanceName"`
	QRCode       bool   `json:"qrcode"`
	Integration  string `json:"integration"`
}

type createInstanceResponse struct {
	Instance struct {
		InstanceName string `json:"instanceName"`
		Status       string `json:"status"`
	} `json:"instance"`
	QRCode *qrPayload `json:"qrcode"`
}

type qrPayload struct {
	PairingCode string `json:"pairingCode"`
	Code        string `json:"code"`
	Base64      string `json:"base64"`
}

// artifact prefers the short pairing code, then the QR image, then the raw QR text.
func (q qrPayload) artifact() string {
	switch {
	case q.PairingCode != "":
		return q.PairingCode
	case q.Base64 != "":
		return q.Base64
	default:
		return q.Code
	}
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type sendTextResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
}

// Normalize maps the gateway's connection-state payloads into an
// Observation. The gateway reports the state under "instance.state",
// "state", "status" or "connectionStatus" depending on version.
func Normalize(raw map[string]any) Observation {
	src := raw
	if nested, ok := raw["instance"].(map[string]any); ok {
		src = nested
	}

	var rawState string
	for _, key := range []string{"state", "connectionStatus", "status"} {
		if v, ok := src[key].(string); ok && v != "" {
			rawState = v
			break
		}
		if v, ok := raw[key].(string); ok && v != "" {
			rawState = v
			break
		}
	}

	obs := Observation{State: normalizeState(rawState), Detail: rawState}
	for _, key := range []string{"owner", "ownerJid", "wuid", "number"} {
		if v, ok := src[key].(string); ok && v != "" {
			obs.PhoneIdentifier = phoneFromJID(v)
			break
		}
	}
	return obs
}

func normalizeState(raw string) State {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "open", "connected", "online":
		return StateConnected
	case "connecting", "qr", "pairing", "syncing":
		return StateConnecting
	case "close", "closed", "disconnected", "logout", "logged_out", "offline":
		return StateDisconnected
	default:
		return StateError
	}
}

func phoneFromJID(v string) string {
	if i := strings.IndexAny(v, "@:"); i >= 0 {
		v = v[:i]
	}
	return v
}
