package envelope

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrIgnored is the parent of every reason a frame candidate is dropped.
// Callers check errors.Is(err, ErrIgnored) and discard the candidate.
var ErrIgnored = errors.New("envelope: ignored")

var (
	ErrNotBase64   = fmt.Errorf("%w: not base64", ErrIgnored)
	ErrNotJSON     = fmt.Errorf("%w: not a JSON object", ErrIgnored)
	ErrNotMessage  = fmt.Errorf("%w: not a protocol message", ErrIgnored)
	ErrUnknownType = fmt.Errorf("%w: unknown message type", ErrIgnored)
)

// SendCommandPrefix is the controller-side command that carries a frame to
// the codec. The codec echoes it back to the controller as a message event.
const SendCommandPrefix = "xcommand message send text:"

// Decode turns a frame candidate into an Envelope. Every failure wraps
// ErrIgnored.
func Decode(candidate string) (Envelope, error) {
	text, err := decodeBase64(strings.TrimSpace(candidate))
	if err != nil {
		return Envelope{}, err
	}
	return DecodeJSON(text)
}

// DecodeJSON parses the decoded text. The first pass escapes backslashes and
// quotes, unquotes the result as a JSON string and parses that, which
// tolerates payloads carrying pre-escaped inner data. If that fails the text
// is parsed as-is.
func DecodeJSON(text string) (Envelope, error) {
	var env Envelope
	if unescaped, ok := roundTripEscape(text); ok {
		if err := json.Unmarshal([]byte(unescaped), &env); err == nil {
			return env, nil
		} else if errors.Is(err, ErrNotMessage) {
			return Envelope{}, err
		}
	}
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		if errors.Is(err, ErrNotMessage) {
			return Envelope{}, err
		}
		return Envelope{}, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}
	return env, nil
}

// Encode serializes env as compact JSON and base64-encodes it.
func Encode(env Envelope) (string, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("envelope: encode %s: %w", env.Type, err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// WrapSend embeds an encoded frame in the controller's message send command.
func WrapSend(encoded string) string {
	return SendCommandPrefix + `"` + encoded + `"`
}

// EncodeCommand is Encode followed by WrapSend.
func EncodeCommand(env Envelope) (string, error) {
	encoded, err := Encode(env)
	if err != nil {
		return "", err
	}
	return WrapSend(encoded), nil
}

func decodeBase64(s string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		var rawErr error
		data, rawErr = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
		if rawErr != nil {
			return "", fmt.Errorf("%w: %v", ErrNotBase64, err)
		}
	}
	return string(data), nil
}

func roundTripEscape(text string) (string, bool) {
	escaped := strings.ReplaceAll(text, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	var out string
	if err := json.Unmarshal([]byte(`"`+escaped+`"`), &out); err != nil {
		return "", false
	}
	return out, true
}
