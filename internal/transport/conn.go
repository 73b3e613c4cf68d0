// Package transport provides the line-framed connection used by matchmaking sessions.
package transport

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// MaxLineLength bounds a single inbound line, terminator excluded.
const MaxLineLength = 4096

// ErrLineTooLong is returned by ReadLine when a line exceeds MaxLineLength.
var ErrLineTooLong = errors.New("line too long")

// Telnet command bytes. Clients speaking telnet may interleave these with
// text; they are stripped from input.
const (
	iac  byte = 255
	dont byte = 254
	do   byte = 253
	wont byte = 252
	will byte = 251
	sb   byte = 250
	se   byte = 240
)

// Conn wraps a TCP connection with line-based reading and serialized writes.
// ReadLine must only be called from one goroutine; writes are safe for concurrent use.
type Conn struct {
	raw    net.Conn
	reader *bufio.Reader
	mu     sync.Mutex

	readTimeout  time.Duration
	writeTimeout time.Duration
}

// NewConn wraps a raw connection. A zero timeout disables that deadline.
//
// Precondition: raw must be a valid, open network connection.
// Postcondition: Returns a Conn ready for reading and writing.
func NewConn(raw net.Conn, readTimeout, writeTimeout time.Duration) *Conn {
	return &Conn{
		raw:          raw,
		reader:       bufio.NewReaderSize(raw, 4096),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

// ReadLine reads a single line of input. The returned line does not include
// the trailing \r\n. Control characters other than tab are dropped.
//
// Postcondition: Returns the next line of text input, or an error (including io.EOF).
func (c *Conn) ReadLine() (string, error) {
	if c.readTimeout > 0 {
		_ = c.raw.SetReadDeadline(time.Now().Add(c.readTimeout))
	}

	var line bytes.Buffer
	for {
		b, err := c.reader.ReadByte()
		if err != nil {
			return line.String(), err
		}

		if b == iac {
			if err := c.skipCommand(); err != nil {
				return line.String(), err
			}
			continue
		}

		if b == '\n' {
			break
		}
		if b == '\r' {
			next, err := c.reader.Peek(1)
			if err == nil && len(next) > 0 && next[0] == '\n' {
				_, _ = c.reader.ReadByte()
			}
			break
		}

		if b < 32 && b != '\t' {
			continue
		}
		if line.Len() >= MaxLineLength {
			return "", ErrLineTooLong
		}
		line.WriteByte(b)
	}

	return line.String(), nil
}

// skipCommand consumes a telnet command after its leading IAC byte.
func (c *Conn) skipCommand() error {
	cmd, err := c.reader.ReadByte()
	if err != nil {
		return err
	}

	switch cmd {
	case will, wont, do, dont:
		_, err := c.reader.ReadByte()
		return err
	case sb:
		for {
			b, err := c.reader.ReadByte()
			if err != nil {
				return err
			}
			if b != iac {
				continue
			}
			next, err := c.reader.ReadByte()
			if err != nil {
				return err
			}
			if next == se {
				return nil
			}
		}
	}
	return nil
}

// WriteLine sends a line of text followed by \r\n.
//
// Precondition: text should not contain newline characters.
// Postcondition: text + \r\n is written to the connection, or an error is returned.
func (c *Conn) WriteLine(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if _, err := fmt.Fprintf(c.raw, "%s\r\n", text); err != nil {
		return fmt.Errorf("writing line: %w", err)
	}
	return nil
}

// Close closes the underlying connection. It unblocks a pending ReadLine.
func (c *Conn) Close() error {
	return c.raw.Close()
}

// RemoteAddr returns the remote network address of the client.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}
