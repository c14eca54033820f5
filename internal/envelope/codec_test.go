package envelope

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func TestDecodeListRequest(t *testing.T) {
	env, err := Decode("eyJDNFgiOiIxQTJCIiwidCI6ImNnZXQifQ==")
	require.NoError(t, err)
	assert.Equal(t, "1A2B", env.ID)
	assert.Equal(t, TypeListSerial, env.Type)
	assert.Empty(t, env.Fields)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
	}{
		{"bare", New("AA11", TypeInit)},
		{"empty id", New("", TypeSerialReceived).With(KeyPort, 2).With(KeyData, "PWR=ON\r")},
		{"configure", ConfigurePort{ID: "7F", Port: "2", BaudRate: 38400, Descriptor: "8E1"}.Envelope()},
		{"quotes in data", SendData{ID: "01", Port: "COM3", Data: `power "on"` + "\r\n"}.Envelope()},
		{"backslashes", PrintLine{ID: "02", Text: `C:\path\to "x"`}.Envelope()},
		{"list", SerialPortList{ID: "1A2B", Ports: []string{"COM2", "COM3"}}.Envelope()},
		{"unicode", PrintLine{ID: "03", Text: "héllo ✓"}.Envelope()},
		{"relay", SetRelay{ID: "04", Relay: "1", State: true}.Envelope()},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := Encode(tc.env)
			require.NoError(t, err)
			got, err := Decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, tc.env, got)
		})
	}
}

func TestEncodeIsCompactWithIDAndTypeFirst(t *testing.T) {
	env := ConfigurePort{ID: "7F", Port: "2", BaudRate: 38400, Descriptor: "8E1"}.Envelope()
	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Equal(t, `{"C4X":"7F","t":"ccom","b":38400,"d":"8E1","p":2}`, string(data))
}

func TestWrapSend(t *testing.T) {
	cmd, err := EncodeCommand(New("", TypeInitNotify))
	require.NoError(t, err)
	assert.Equal(t, `xcommand message send text:"`+b64(`{"C4X":"","t":"inot"}`)+`"`, cmd)
}

func TestDecodeIgnoresMalformedInput(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		want      error
	}{
		{"not base64", "not base64!!", ErrNotBase64},
		{"not json", b64("hello"), ErrNotJSON},
		{"json array", b64(`[1,2]`), ErrNotJSON},
		{"missing id", b64(`{"t":"cget"}`), ErrNotMessage},
		{"missing type", b64(`{"C4X":"1"}`), ErrNotMessage},
		{"numeric type", b64(`{"C4X":"1","t":5}`), ErrNotMessage},
		{"null", b64(`null`), ErrNotMessage},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.candidate)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
			assert.True(t, errors.Is(err, ErrIgnored))
		})
	}
}

func TestDecodeToleratesUnpaddedBase64(t *testing.T) {
	env, err := Decode(base64.RawStdEncoding.EncodeToString([]byte(`{"C4X":"1","t":"boot"}`)))
	require.NoError(t, err)
	assert.Equal(t, TypeReboot, env.Type)
}

func TestDecodeFallsBackToRawParse(t *testing.T) {
	// a raw newline inside a string is invalid in the escaped first pass and
	// in strict JSON alike, while an escaped one survives both passes
	env, err := Decode(b64(`{"C4X":"9","t":"csnd","p":"COM2","d":"line\r\n"}`))
	require.NoError(t, err)
	d, _ := env.String(KeyData)
	assert.Equal(t, "line\r\n", d)

	env, err = Decode(b64("{\"C4X\":\"9\",\n\"t\":\"boot\"}"))
	require.NoError(t, err)
	assert.Equal(t, TypeReboot, env.Type)
}

func TestDecodeNonStringID(t *testing.T) {
	env, err := Decode(b64(`{"C4X":1234,"t":"init"}`))
	require.NoError(t, err)
	assert.Equal(t, "1234", env.ID)

	env, err = Decode(b64(`{"C4X":null,"t":"init"}`))
	require.NoError(t, err)
	assert.Equal(t, "", env.ID)
}
