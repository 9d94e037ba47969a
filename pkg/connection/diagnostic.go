package connection

import (
	"context"
	"fmt"
	"time"

	"github.com/ha1tch/mssqlengine/pkg/tds"
)

// Report is the outcome of Diagnose: enough to tell a host's "test
// connection" affordance whether the network path and TLS posture are
// sound, without paying for a full LOGIN7.
type Report struct {
	Reachable    bool
	EncryptMode  uint8
	RequiresTLS  bool
	ServerVersion string
	RoundTrip    time.Duration
	Err          error
}

// Diagnose dials addr and runs a PRELOGIN round trip only (no LOGIN7,
// no TLS negotiation), reporting what the server advertises. It never
// mutates an existing Connection; it always opens and closes its own
// transport.
func Diagnose(ctx context.Context, host string, port int, connectTimeout time.Duration) *Report {
	start := time.Now()
	addr := fmt.Sprintf("%s:%d", host, port)

	transport, err := tds.Dial("tcp", addr, connectTimeout)
	if err != nil {
		return &Report{Reachable: false, Err: err}
	}
	defer transport.Close()

	req := &tds.PreloginRequest{Version: tds.DefaultClientVersion(), Encryption: tds.EncryptNotSup}
	if err := transport.SendPacket(tds.PacketPrelogin, req.Encode()); err != nil {
		return &Report{Reachable: false, Err: err}
	}

	pkt, err := transport.ReceivePacket(connectTimeout)
	if err != nil {
		return &Report{Reachable: true, Err: err}
	}
	resp, err := tds.ParsePreloginResponse(pkt.Payload)
	if err != nil {
		return &Report{Reachable: true, Err: err}
	}

	return &Report{
		Reachable:   true,
		EncryptMode: resp.Encryption,
		RequiresTLS: resp.RequiresTLS(),
		ServerVersion: fmt.Sprintf("%d.%d.%d.%d",
			resp.Version.Major, resp.Version.Minor, resp.Version.Build, resp.Version.SubBuild),
		RoundTrip: time.Since(start),
	}
}

// livenessProbe is the trivial statement sent to validate an idle pooled
// connection before handing it back out.
const livenessProbe = "SELECT 1"

// Ping sends the liveness probe and reads to its final DONE, returning
// an error if the connection did not answer cleanly. Call only while
// Idle; on success the connection remains Idle.
func (c *Connection) Ping(deadline time.Duration) error {
	if err := c.BeginExecute(livenessProbe); err != nil {
		return err
	}
	reader := tds.NewMessageReader(c.transport, deadline)
	parser := tds.NewTokenParser(reader)
	for {
		tok, err := parser.Next()
		if err != nil {
			c.fail()
			return err
		}
		if tok.Type == tds.TokError {
			c.EndExecute()
			return tok.Error
		}
		if tok.Type == tds.TokDone || tok.Type == tds.TokDoneProc || tok.Type == tds.TokDoneInProc {
			if !tok.Done.More() {
				c.EndExecute()
				return nil
			}
		}
	}
}
