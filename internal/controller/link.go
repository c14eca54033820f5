package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Codec channel defaults.
const (
	DefaultLinkBaud = 115200
	linkReadTimeout = 200 * time.Millisecond
)

// ErrLinkClosed is returned by writes after Close.
var ErrLinkClosed = errors.New("controller: link closed")

// Link is the serial connection to the codec, run at 8N1.
type Link struct {
	path string
	baud int

	mu     sync.Mutex
	port   serial.Port
	closed bool
}

// OpenLink opens the codec channel on path. A zero baud uses DefaultLinkBaud.
func OpenLink(path string, baud int) (*Link, error) {
	if baud <= 0 {
		baud = DefaultLinkBaud
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("controller: open %s: %w", path, err)
	}
	if err := port.SetReadTimeout(linkReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("controller: set timeout on %s: %w", path, err)
	}
	return &Link{path: path, baud: baud, port: port}, nil
}

func (l *Link) Path() string { return l.path }

// WriteLine writes line and CRLF.
func (l *Link) WriteLine(line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLinkClosed
	}
	_, err := io.WriteString(l.port, line+"\r\n")
	return err
}

// Run reads from the channel and passes each chunk to fn until ctx ends or a
// read fails. It returns nil when ctx ends.
func (l *Link) Run(ctx context.Context, fn func([]byte)) error {
	buf := make([]byte, 1024)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := l.port.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("controller: read %s: %w", l.path, err)
		}
		if n > 0 {
			fn(buf[:n])
		}
	}
}

func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.port.Close()
}
