package testutil

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"
)

// LineClient is a line-protocol test client for integration testing.
type LineClient struct {
	conn   net.Conn
	reader *bufio.Reader
	t      *testing.T
}

// NewLineClient dials addr and returns a test client.
//
// Precondition: addr must be a valid "host:port" string with a listening server.
// Postcondition: Returns a connected LineClient or fails the test.
func NewLineClient(t *testing.T, addr string) *LineClient {
	t.Helper()
	start := time.Now()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", addr, err, time.Since(start))
	}

	t.Cleanup(func() {
		conn.Close()
	})

	t.Logf("line client connected to %s [%s]", addr, time.Since(start))
	return &LineClient{
		conn:   conn,
		reader: bufio.NewReader(conn),
		t:      t,
	}
}

// ReadLine reads one line, without its terminator, or fails on timeout.
func (c *LineClient) ReadLine(timeout time.Duration) string {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	line, err := c.reader.ReadString('\n')
	if err != nil {
		c.t.Fatalf("reading line: got %q, error: %v", line, err)
	}
	return strings.TrimRight(line, "\r\n")
}

// ReadUntil reads lines until one starts with prefix and returns it. Lines
// read before the match are discarded.
//
// Precondition: prefix must be non-empty.
// Postcondition: Returns the first line starting with prefix, or fails on timeout.
func (c *LineClient) ReadUntil(prefix string, timeout time.Duration) string {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	_ = c.conn.SetReadDeadline(deadline)

	var seen []string
	for {
		line, err := c.reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if err != nil {
			c.t.Fatalf("reading until %q: saw %q, error: %v", prefix, seen, err)
		}
		if strings.HasPrefix(line, prefix) {
			return line
		}
		seen = append(seen, line)
	}
}

// ExpectClosed fails the test unless the server closes the connection within timeout.
func (c *LineClient) ExpectClosed(timeout time.Duration) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				c.t.Fatalf("connection still open after %s", timeout)
			}
			return
		}
		c.t.Logf("discarding %q before close", strings.TrimRight(line, "\r\n"))
	}
}

// Send writes a line of text to the server, appending \r\n.
//
// Precondition: text should not contain trailing newline characters.
// Postcondition: text + \r\n is written to the connection.
func (c *LineClient) Send(text string) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := fmt.Fprintf(c.conn, "%s\r\n", text); err != nil {
		c.t.Fatalf("sending %q: %v", text, err)
	}
}

// Close closes the underlying connection.
func (c *LineClient) Close() {
	c.conn.Close()
}
