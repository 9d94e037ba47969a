// Package connection implements the TDS connection state machine: dial,
// PRELOGIN/TLS negotiation, LOGIN7 authentication, SQL_BATCH execution,
// and attention-driven cancellation.
package connection

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ha1tch/mssqlengine/pkg/auth"
	"github.com/ha1tch/mssqlengine/pkg/tds"
	"github.com/ha1tch/mssqlengine/pkg/version"
)

// State identifies where a Connection sits in its lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateIdle
	StateExecuting
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateIdle:
		return "IDLE"
	case StateExecuting:
		return "EXECUTING"
	case StateDraining:
		return "DRAINING"
	default:
		return "UNKNOWN"
	}
}

// Options configures a new Connection.
type Options struct {
	Host     string
	Port     int
	Database string

	Strategy auth.Strategy

	ConnectTimeout    time.Duration
	HandshakeTimeout  time.Duration
	PacketSize        int
	TrustServerCert   bool
	AttentionAckDeadline time.Duration
}

func (o Options) addr() string {
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
}

// Connection wraps one TDS transport and enforces the
// Disconnected→Connecting→Authenticating→Idle⇄Executing→Draining state
// machine. It is not safe for concurrent use: only one goroutine may
// drive a Connection's message exchange at a time, matching the "one
// in-flight message per connection" invariant.
type Connection struct {
	mu    sync.Mutex
	state State
	opt   Options

	transport *tds.Transport
	fedAuthInfo *tds.PreloginResponse

	createdAt    time.Time
	lastActiveAt time.Time
}

// New dials addr, runs PRELOGIN/TLS negotiation and LOGIN7, and returns a
// Connection in StateIdle, or an error and StateDisconnected.
func New(ctx context.Context, opt Options) (*Connection, error) {
	c := &Connection{opt: opt, state: StateDisconnected, createdAt: time.Now()}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Connection) connect(ctx context.Context) error {
	c.state = StateConnecting

	connectTimeout := c.opt.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}
	transport, err := tds.Dial("tcp", c.opt.addr(), connectTimeout)
	if err != nil {
		c.state = StateDisconnected
		return err
	}
	c.transport = transport

	preOpt := c.opt.Strategy.PreloginOptions()
	req := &tds.PreloginRequest{
		Version:         tds.DefaultClientVersion(),
		Encryption:      encryptOption(preOpt.UseEncrypt),
		FedAuthRequired: preOpt.RequestFedAuth,
	}
	if err := transport.SendPacket(tds.PacketPrelogin, req.Encode()); err != nil {
		c.fail()
		return err
	}

	handshakeTimeout := c.opt.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = 15 * time.Second
	}
	pkt, err := transport.ReceivePacket(handshakeTimeout)
	if err != nil {
		c.fail()
		return err
	}
	resp, err := tds.ParsePreloginResponse(pkt.Payload)
	if err != nil {
		c.fail()
		return err
	}
	c.fedAuthInfo = resp

	if resp.RequiresTLS() {
		tlsCfg := tds.ClientTLSConfig(c.opt.Host, c.opt.TrustServerCert)
		if err := tds.NegotiateTLS(transport, tlsCfg, handshakeTimeout); err != nil {
			c.fail()
			return err
		}
	} else if resp.RefusesEncryption() && preOpt.UseEncrypt {
		c.fail()
		return fmt.Errorf("tds: server refused encryption but strategy requires it")
	}

	c.state = StateAuthenticating
	if err := c.login(ctx); err != nil {
		c.fail()
		return err
	}

	c.state = StateIdle
	c.lastActiveAt = time.Now()
	return nil
}

func (c *Connection) login(ctx context.Context) error {
	login7Opt := c.opt.Strategy.Login7Options()
	major, minor, build, _ := version.Numeric()
	loginBody := tds.BuildLogin7(tds.LoginOptions{
		HostName:        "localhost",
		UserName:        login7Opt.Username,
		Password:        login7Opt.Password,
		AppName:         valueOrDefault(login7Opt.AppName, "mssqlengine"),
		ServerName:      c.opt.Host,
		CtlIntName:      "mssqlengine",
		Language:        "",
		Database:        valueOrDefault(login7Opt.Database, c.opt.Database),
		PacketSize:      uint32(tds.ClampPacketSize(c.opt.PacketSize)),
		ClientProgVer:   uint32(major)<<24 | uint32(minor)<<16 | uint32(build),
		ClientPID:       uint32(os.Getpid()),
		FedAuthRequired: login7Opt.IncludeFedAuthExt,
	})
	if err := c.transport.SendPacket(tds.PacketLogin7, loginBody); err != nil {
		return err
	}

	reader := tds.NewMessageReader(c.transport, 30*time.Second)
	parser := tds.NewTokenParser(reader)
	fedAuthSent := false
	for {
		tok, err := parser.Next()
		if err != nil {
			return err
		}
		switch tok.Type {
		case tds.TokFedAuthInfo:
			if !c.opt.Strategy.RequiresFedAuth() || fedAuthSent {
				continue
			}
			token, err := c.opt.Strategy.FedAuthToken(ctx, auth.FedAuthInfo{
				STSURL: tok.FedAuthInfo.STSURL,
				SPN:    tok.FedAuthInfo.SPN,
			})
			if err != nil {
				return fmt.Errorf("tds: fedauth token acquisition: %w", err)
			}
			fedBody := tds.BuildFedAuthToken(token, c.fedAuthInfo.Nonce)
			if err := c.transport.SendPacket(tds.PacketFedAuthToken, fedBody); err != nil {
				return err
			}
			fedAuthSent = true
		case tds.TokError:
			return tok.Error
		case tds.TokDone, tds.TokDoneProc, tds.TokDoneInProc:
			if !tok.Done.More() {
				return nil
			}
		}
	}
}

// State returns the connection's current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transport exposes the underlying packet transport for callers (query
// executor, attention sender) that need to drive the wire directly.
func (c *Connection) Transport() *tds.Transport { return c.transport }

// BeginExecute transitions Idle->Executing, sending the SQL_BATCH body.
// It is an error to call this outside StateIdle.
func (c *Connection) BeginExecute(sqlText string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return fmt.Errorf("tds: BeginExecute called in state %s, want IDLE", c.state)
	}
	body := tds.EncodeUCS2(sqlText)
	if err := c.transport.SendPacket(tds.PacketSQLBatch, body); err != nil {
		c.state = StateDisconnected
		return err
	}
	c.state = StateExecuting
	return nil
}

// EndExecute transitions Executing->Idle once the caller has consumed the
// final DONE of the response message.
func (c *Connection) EndExecute() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateExecuting {
		c.state = StateIdle
		c.lastActiveAt = time.Now()
	}
}

// Cancel sends an ATTENTION and transitions Executing->Draining. The
// caller (ResultStream) is responsible for draining the acknowledgment;
// EndDrain returns the connection to Idle or marks it Disconnected if
// the drain failed.
func (c *Connection) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateExecuting {
		return nil
	}
	if err := tds.SendAttention(c.transport); err != nil {
		c.state = StateDisconnected
		return err
	}
	c.state = StateDraining
	return nil
}

// EndDrain completes a Cancel-initiated drain. ok indicates whether the
// ATTENTION was acknowledged cleanly within the deadline; a false value
// leaves the connection Disconnected so the pool will not reuse it.
func (c *Connection) EndDrain(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok {
		c.state = StateIdle
		c.lastActiveAt = time.Now()
	} else {
		c.state = StateDisconnected
	}
}

func (c *Connection) fail() {
	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
}

// IsAlive reports whether the connection is usable for a pool liveness
// check: it must be Idle and its transport connected.
func (c *Connection) IsAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateIdle && c.transport != nil
}

// Close tears down the underlying transport unconditionally.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateDisconnected
	if c.transport == nil {
		return nil
	}
	return c.transport.Close()
}

func encryptOption(useEncrypt bool) uint8 {
	if useEncrypt {
		return tds.EncryptOn
	}
	return tds.EncryptOff
}

func valueOrDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
