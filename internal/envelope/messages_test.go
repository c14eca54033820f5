package envelope

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDecodeJSON(t *testing.T, s string) Envelope {
	t.Helper()
	env, err := DecodeJSON(s)
	require.NoError(t, err)
	return env
}

func TestParseConfigureAppliesDefaults(t *testing.T) {
	msg, err := Parse(mustDecodeJSON(t, `{"C4X":"7F","t":"ccom","p":2}`))
	require.NoError(t, err)
	assert.Equal(t, ConfigurePort{ID: "7F", Kind: KindSerial, Port: "2", BaudRate: 9600, Descriptor: "8N1"}, msg)

	msg, err = Parse(mustDecodeJSON(t, `{"C4X":"7F","t":"cirp","p":"IR1","b":"19200","d":"7E1"}`))
	require.NoError(t, err)
	assert.Equal(t, ConfigurePort{ID: "7F", Kind: KindIR, Port: "IR1", BaudRate: 19200, Descriptor: "7E1"}, msg)
}

func TestParseSetRelay(t *testing.T) {
	msg, err := Parse(mustDecodeJSON(t, `{"C4X":"1","t":"srly","i":1,"s":true}`))
	require.NoError(t, err)
	assert.Equal(t, SetRelay{ID: "1", Relay: "1", State: true}, msg)

	msg, err = Parse(mustDecodeJSON(t, `{"C4X":"1","t":"srly","p":"RLY2","s":false}`))
	require.NoError(t, err)
	assert.Equal(t, SetRelay{ID: "1", Relay: "RLY2", State: false}, msg)

	_, err = Parse(mustDecodeJSON(t, `{"C4X":"1","t":"srly","i":1}`))
	assert.True(t, errors.Is(err, ErrIgnored))
}

func TestParsePortListAcceptsNumbersAndStrings(t *testing.T) {
	msg, err := Parse(mustDecodeJSON(t, `{"C4X":"1A2B","t":"cger","p":["COM2","COM3"]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"COM2", "COM3"}, msg.(SerialPortList).Ports)

	msg, err = Parse(mustDecodeJSON(t, `{"C4X":"1A2B","t":"cger","p":[2,3]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3"}, msg.(SerialPortList).Ports)
}

func TestParseConfigResults(t *testing.T) {
	msg, err := Parse(mustDecodeJSON(t, `{"C4X":"7F","t":"crer","e":"SerialPort 2 not found."}`))
	require.NoError(t, err)
	assert.Equal(t, ConfigResult{ID: "7F", Kind: KindSerial, Err: "SerialPort 2 not found."}, msg)

	msg, err = Parse(mustDecodeJSON(t, `{"C4X":"8","t":"irok","s":"ok"}`))
	require.NoError(t, err)
	assert.Equal(t, ConfigResult{ID: "8", Kind: KindIR}, msg)
}

func TestParseUnknownType(t *testing.T) {
	_, err := Parse(New("1", "zzzz"))
	assert.True(t, errors.Is(err, ErrUnknownType))
	assert.True(t, errors.Is(err, ErrIgnored))
}

func TestTypedMessagesRoundTripThroughParse(t *testing.T) {
	msgs := []Message{
		InitRequest{ID: "a"},
		ConfigurePort{ID: "b", Kind: KindIR, Port: "IR1", BaudRate: 9600, Descriptor: "8N1"},
		SendData{ID: "c", Kind: KindSerial, Port: "COM2", Data: "x"},
		ListSerialPorts{ID: "d"},
		PrintLine{ID: "e", Text: "hello"},
		SetRelay{ID: "f", Relay: "RLY1", State: true},
		Reboot{ID: "g"},
		InitNotify{ID: "h", Version: "1.0.0", SerialNumber: "SN1", RAMTotal: 1024, RAMFree: 512},
		ConfigResult{ID: "i", Kind: KindSerial},
		ConfigResult{ID: "j", Kind: KindIR, Err: "nope"},
		SerialPortList{ID: "k", Ports: []string{"COM2"}},
		DataReceived{ID: "", Kind: KindSerial, Port: "2", Data: "OK\r"},
	}
	for _, m := range msgs {
		t.Run(m.Type(), func(t *testing.T) {
			got, err := Parse(m.Envelope())
			require.NoError(t, err)
			assert.Equal(t, m, got)
		})
	}
}

func TestPortNumber(t *testing.T) {
	tests := []struct {
		prefix, ref string
		want        uint
		ok          bool
	}{
		{"COM", "COM2", 2, true},
		{"COM", "com12", 12, true},
		{"COM", "3", 3, true},
		{"IR", "ir1", 1, true},
		{"COM", "IR1", 0, false},
		{"COM", "", 0, false},
		{"RLY", "RLYx", 0, false},
	}
	for _, tc := range tests {
		got, ok := PortNumber(tc.prefix, tc.ref)
		assert.Equal(t, tc.ok, ok, tc.ref)
		assert.Equal(t, tc.want, got, tc.ref)
	}
}
