package tds

import (
	"crypto/tls"
	"net"
	"time"
)

// preloginTLSConn adapts a raw net.Conn so that bytes written to it during
// the TLS handshake are wrapped as TDS PRELOGIN packets, and bytes read
// from it are unwrapped from PRELOGIN packets first. SQL Server requires
// the handshake itself to be tunneled this way; once tls.Conn reports the
// handshake complete, the caller discards this adapter and talks TLS
// directly over the underlying socket for every packet that follows.
type preloginTLSConn struct {
	net.Conn
	packetSize int
	nextPktID  uint8

	pending []byte // unread bytes from the most recently unwrapped packet
}

func newPreloginTLSConn(conn net.Conn, packetSize int) *preloginTLSConn {
	return &preloginTLSConn{Conn: conn, packetSize: ClampPacketSize(packetSize), nextPktID: 1}
}

func (c *preloginTLSConn) Read(p []byte) (int, error) {
	for len(c.pending) == 0 {
		hdr, err := ReadHeader(c.Conn)
		if err != nil {
			return 0, err
		}
		payload := make([]byte, hdr.PayloadLength())
		if len(payload) > 0 {
			if _, err := readFull(c.Conn, payload); err != nil {
				return 0, err
			}
		}
		c.pending = payload
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *preloginTLSConn) Write(p []byte) (int, error) {
	maxBody := c.packetSize - HeaderSize
	total := 0
	for total < len(p) {
		end := total + maxBody
		if end > len(p) {
			end = len(p)
		}
		hdr := Header{
			Type:     PacketPrelogin,
			Status:   StatusEOM,
			Length:   uint16(HeaderSize + (end - total)),
			PacketID: c.nextPktID,
		}
		c.nextPktID++
		if c.nextPktID == 0 {
			c.nextPktID = 1
		}
		if err := hdr.Write(c.Conn); err != nil {
			return total, err
		}
		if _, err := c.Conn.Write(p[total:end]); err != nil {
			return total, err
		}
		total = end
	}
	return total, nil
}

func readFull(r net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// NegotiateTLS performs the PRELOGIN-tunneled TLS handshake required when
// the server's PreloginResponse.Encryption is EncryptOn, EncryptReq, or
// EncryptStrict, then swaps t's underlying connection for the encrypted
// one so every subsequent packet (including LOGIN7) is sent over TLS
// directly, with no further PRELOGIN wrapping.
func NegotiateTLS(t *Transport, cfg *tls.Config, handshakeTimeout time.Duration) error {
	wrapper := newPreloginTLSConn(t.Conn(), t.PacketSize())

	if handshakeTimeout > 0 {
		_ = wrapper.Conn.SetDeadline(time.Now().Add(handshakeTimeout))
		defer wrapper.Conn.SetDeadline(time.Time{})
	}

	tlsConn := tls.Client(wrapper, cfg)
	if err := tlsConn.Handshake(); err != nil {
		return newIOError(IOErrTLSHandshake, err)
	}

	t.SetConn(tlsConn)
	return nil
}

// ClientTLSConfig builds the tls.Config used for the connection's
// lifetime, honoring the SQL Server driver convention of allowing callers
// to opt out of certificate validation for self-signed development
// instances via TrustServerCertificate.
func ClientTLSConfig(serverName string, trustServerCertificate bool) *tls.Config {
	return &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: trustServerCertificate,
		MinVersion:         tls.VersionTLS12,
	}
}
