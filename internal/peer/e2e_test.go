package peer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/c4xtender/internal/controller"
	"github.com/shaunagostinho/c4xtender/internal/correlation"
	"github.com/shaunagostinho/c4xtender/internal/envelope"
	"github.com/shaunagostinho/c4xtender/internal/ports"
)

// wire connects a Client and a Controller in memory, passing everything
// through the same framing the codec applies.
type wire struct {
	ctrl   *controller.Controller
	link   *CodecLink
	client *Client
}

func (w *wire) WriteLine(line string) error {
	w.link.Feed(w.client, []byte(line+"\r\n"))
	return nil
}

func (w *wire) Send(encoded string) error {
	w.ctrl.Feed([]byte(EchoPrefix + `"` + encoded + "\"\r\n"))
	return nil
}

func newWire(t *testing.T, cfg ports.Config) (*wire, *ports.Registry) {
	t.Helper()
	reg, err := ports.Build(cfg)
	require.NoError(t, err)
	w := &wire{link: NewCodecLink(nil)}
	w.ctrl = controller.New(w, controller.Config{SerialNumber: "E2E", HeartbeatInterval: time.Hour}, nil)
	controller.NewService(reg, nil).Attach(w.ctrl)
	w.client = NewClient(w, Options{RequestTimeout: time.Second})
	t.Cleanup(func() {
		w.ctrl.Stop()
		w.client.Close()
	})
	return w, reg
}

func TestEndToEndPortList(t *testing.T) {
	w, _ := newWire(t, ports.DefaultConfig())
	c := w.client

	p, err := c.table.Register("1A2B", &call{request: envelope.TypeListSerial})
	require.NoError(t, err)
	require.NoError(t, c.send(envelope.ListSerialPorts{ID: "1A2B"}))
	v, err := c.table.Wait(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []string{"COM2", "COM3"}, v)

	assert.False(t, c.table.Resolve("1A2B", nil), "second completion is a no-op")
}

func TestEndToEndUnknownSerialPort(t *testing.T) {
	w, _ := newWire(t, ports.Config{})
	c := w.client

	var replies []envelope.Envelope
	c.SetTap(func(direction string, env envelope.Envelope) {
		if direction == "in" {
			replies = append(replies, env)
		}
	})
	p, err := c.table.Register("7F", &call{request: envelope.TypeConfigureSerial, handle: &ComPort{c: c, ID: 2}})
	require.NoError(t, err)
	require.NoError(t, c.send(envelope.ConfigurePort{ID: "7F", Kind: envelope.KindSerial, Port: "2", BaudRate: 38400, Descriptor: "8E1"}))
	_, err = c.table.Wait(context.Background(), p)

	var remote *correlation.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "SerialPort 2 not found.", remote.Message)

	require.Len(t, replies, 1)
	data, err := replies[0].MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"C4X":"7F","t":"crer","e":"SerialPort 2 not found."}`, string(data))
}

func TestEndToEndSession(t *testing.T) {
	w, reg := newWire(t, ports.DefaultConfig())
	c := w.client
	ctx := context.Background()

	var ready []SystemInfo
	c.OnReady(func(info SystemInfo) { ready = append(ready, info) })
	require.NoError(t, w.ctrl.Start())
	require.Len(t, ready, 1)
	assert.Equal(t, "E2E", ready[0].SerialNumber)

	info, err := c.Init(ctx)
	require.NoError(t, err)
	assert.Equal(t, controller.Version, info.Version)

	names, err := c.ListSerialPorts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"COM2", "COM3"}, names)

	port, err := c.OpenSerialPort(ctx, "COM2", 38400, "8E1")
	require.NoError(t, err)
	var got []string
	port.OnData(func(s string) { got = append(got, s) })

	// The demo port echoes, so the write comes back as crcv.
	require.NoError(t, port.Send(`AT"1"`))
	assert.Equal(t, []string{`AT"1"`}, got)

	_, err = c.OpenSerialPort(ctx, "COM9", 0, "")
	assert.Error(t, err)

	ir, err := c.OpenIRPort(ctx, "IR1", 57600, "")
	require.NoError(t, err)
	require.NoError(t, ir.Send("sendir,1:1,1,38000"))
	demoIR, _ := reg.IR("1")
	assert.Equal(t, []string{"sendir,1:1,1,38000"}, demoIR.(*ports.DemoIR).Sent())

	require.NoError(t, c.Relay("RLY1").SetState(true))
	rl, _ := reg.Relay("1")
	assert.True(t, rl.State())

	require.NoError(t, c.PrintLine("hello from the peer"))
	assert.Zero(t, c.Pending())
}
