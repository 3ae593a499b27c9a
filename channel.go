package binlog

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"time"
)

// packetChannel is the framed transport described by the wire protocol:
// three-byte little-endian length, one-byte sequence id, payload bytes,
// with reassembly across the 16 MiB boundary handled by packetReader
// and writer.
type packetChannel struct {
	conn    net.Conn
	seq     uint8
	timeout time.Duration
}

func dialChannel(network, address string, timeout time.Duration) (*packetChannel, error) {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	conn, err := net.DialTimeout(network, address, timeout)
	if err != nil {
		return nil, wrapConnectError("dial", err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(30 * time.Second)
	}
	return &packetChannel{conn: conn, timeout: timeout}, nil
}

// upgradeSSL replaces the raw connection with a TLS client connection.
// The sequence counter is left as it is: the handshake packets sent
// over TLS continue the same numbering.
func (c *packetChannel) upgradeSSL(rootCAs *x509.CertPool, serverName string) error {
	cfg := &tls.Config{RootCAs: rootCAs, ServerName: serverName}
	tlsConn := tls.Client(c.conn, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return wrapConnectError("tls handshake", err)
	}
	c.conn = tlsConn
	return nil
}

// write sends one logical packet with the given sequence id, splitting
// it across multiple frames if it exceeds the 16 MiB frame limit.
func (c *packetChannel) write(payload []byte, seq uint8) error {
	c.seq = seq
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	w := newWriter(c.conn, &c.seq)
	if _, err := w.Write(payload); err != nil {
		return wrapConnectError("write", err)
	}
	return wrapConnectError("write", w.Close())
}

// readWithSequence reads one reassembled logical packet and reports the
// sequence id of its last frame.
func (c *packetChannel) readWithSequence() ([]byte, uint8, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	pr := &packetReader{rd: &boundedZeroReader{rd: c.conn, maxZero: int(c.timeout/time.Millisecond/10) + 100}, seq: &c.seq}
	buf, err := readAllFrames(pr)
	if err != nil {
		return nil, 0, unexpectedDataf("read: %v", err)
	}
	return buf, c.seq - 1, nil
}

func (c *packetChannel) read() ([]byte, error) {
	buf, _, err := c.readWithSequence()
	return buf, err
}

func (c *packetChannel) close() error {
	return c.conn.Close()
}

func readAllFrames(r *packetReader) ([]byte, error) {
	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, err
		}
	}
}

// boundedZeroReader guards against a misbehaving peer that returns
// (0, nil) from Read indefinitely: after maxZero consecutive empty,
// error-free reads it fails the channel rather than spinning forever.
type boundedZeroReader struct {
	rd      net.Conn
	maxZero int
	zeros   int
}

func (z *boundedZeroReader) Read(p []byte) (int, error) {
	for {
		n, err := z.rd.Read(p)
		if n > 0 || err != nil {
			z.zeros = 0
			return n, err
		}
		z.zeros++
		if z.zeros >= z.maxZero {
			return 0, unexpectedData("too many zero-length reads")
		}
	}
}
