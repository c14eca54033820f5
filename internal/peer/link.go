package peer

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/shaunagostinho/c4xtender/internal/envelope"
	"github.com/shaunagostinho/c4xtender/internal/frame"
)

// EchoPrefix is how the codec presents a message send event to the
// controller.
const EchoPrefix = "*e Message Send Text: "

// CodecLink stands in for the codec on a direct line to the controller. It
// writes frames the way the codec echoes them and extracts the
// controller's message send commands from what it reads back.
type CodecLink struct {
	rw        io.ReadWriter
	extractor *frame.Extractor

	wmu sync.Mutex
}

// NewCodecLink wraps rw.
func NewCodecLink(rw io.ReadWriter) *CodecLink {
	return &CodecLink{
		rw: rw,
		extractor: frame.New(frame.Config{
			Marker:   envelope.SendCommandPrefix,
			FoldCase: true,
		}),
	}
}

// OpenCodecLink opens a serial line to the controller at 8N1.
func OpenCodecLink(path string, baud int) (*CodecLink, io.Closer, error) {
	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("peer: open %s: %w", path, err)
	}
	if err := port.SetReadTimeout(200 * time.Millisecond); err != nil {
		port.Close()
		return nil, nil, fmt.Errorf("peer: set timeout on %s: %w", path, err)
	}
	return NewCodecLink(port), port, nil
}

// Send implements Transport.
func (l *CodecLink) Send(encoded string) error {
	l.wmu.Lock()
	defer l.wmu.Unlock()
	_, err := io.WriteString(l.rw, EchoPrefix+`"`+encoded+"\"\r\n")
	return err
}

// Feed extracts frames from chunk and hands them to c.
func (l *CodecLink) Feed(c *Client, chunk []byte) {
	for _, candidate := range l.extractor.Feed(chunk) {
		c.HandleText(candidate)
	}
}

// Run reads until ctx ends or the line fails, feeding c.
func (l *CodecLink) Run(ctx context.Context, c *Client) error {
	buf := make([]byte, 1024)
	for ctx.Err() == nil {
		n, err := l.rw.Read(buf)
		if n > 0 {
			l.Feed(c, buf[:n])
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("peer: read: %w", err)
		}
	}
	return nil
}

// Stats returns the extractor statistics.
func (l *CodecLink) Stats() frame.Stats {
	return l.extractor.Stats()
}
