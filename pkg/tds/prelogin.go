package tds

import (
	"encoding/binary"
	"fmt"

	"github.com/ha1tch/mssqlengine/pkg/version"
)

// TDS protocol versions.
const (
	VerTDS70     uint32 = 0x70000000
	VerTDS71     uint32 = 0x71000000
	VerTDS71Rev1 uint32 = 0x71000001
	VerTDS72     uint32 = 0x72090002
	VerTDS73A    uint32 = 0x730A0003
	VerTDS73B    uint32 = 0x730B0003
	VerTDS74     uint32 = 0x74000004
	VerTDS80     uint32 = 0x08000000 // TDS 8.0 (strict encryption)
)

// VersionString returns a human-readable version string.
func VersionString(ver uint32) string {
	switch ver {
	case VerTDS70:
		return "7.0"
	case VerTDS71:
		return "7.1"
	case VerTDS71Rev1:
		return "7.1 Rev 1"
	case VerTDS72:
		return "7.2"
	case VerTDS73A:
		return "7.3A"
	case VerTDS73B:
		return "7.3B"
	case VerTDS74:
		return "7.4"
	case VerTDS80:
		return "8.0"
	default:
		return fmt.Sprintf("unknown (0x%08X)", ver)
	}
}

// Prelogin option tokens.
const (
	PreloginVersion    uint8 = 0x00
	PreloginEncryption uint8 = 0x01
	PreloginInstOpt    uint8 = 0x02
	PreloginThreadID   uint8 = 0x03
	PreloginMARS       uint8 = 0x04
	PreloginTraceID    uint8 = 0x05
	PreloginFedAuth    uint8 = 0x06
	PreloginNonceOpt   uint8 = 0x07
	PreloginTerminator uint8 = 0xFF
)

// Encryption options for prelogin.
const (
	EncryptOff    uint8 = 0x00 // Encryption available but off
	EncryptOn     uint8 = 0x01 // Encryption available and on
	EncryptNotSup uint8 = 0x02 // Encryption not supported
	EncryptReq    uint8 = 0x03 // Encryption required
	EncryptStrict uint8 = 0x04 // Strict encryption (TDS 8.0)
)

// PreloginOption represents a single prelogin option header entry.
type PreloginOption struct {
	Token  uint8
	Offset uint16
	Length uint16
}

// ClientVersion is the fixed 6-byte client version field sent in PRELOGIN.
type ClientVersion struct {
	Major    uint8
	Minor    uint8
	Build    uint16
	SubBuild uint16
}

func (v ClientVersion) bytes() []byte {
	buf := make([]byte, 6)
	buf[0] = v.Major
	buf[1] = v.Minor
	binary.BigEndian.PutUint16(buf[2:4], v.Build)
	binary.BigEndian.PutUint16(buf[4:6], v.SubBuild)
	return buf
}

// DefaultClientVersion returns the running build's version in the 6-byte
// form PRELOGIN expects. A malformed or missing version string degrades to
// all zeros rather than failing the handshake.
func DefaultClientVersion() ClientVersion {
	major, minor, build, subBuild := version.Numeric()
	return ClientVersion{Major: major, Minor: minor, Build: build, SubBuild: subBuild}
}

// PreloginRequest is the set of options the client negotiates before
// LOGIN7. FedAuthRequired controls whether the FEDAUTHREQUIRED option is
// sent at all.
type PreloginRequest struct {
	Version         ClientVersion
	Encryption      uint8
	Instance        string
	ThreadID        uint32
	MARS            uint8
	FedAuthRequired bool
}

// Encode serializes the PRELOGIN request into wire bytes: the option
// header table terminated by 0xFF, followed by the option data area.
func (p *PreloginRequest) Encode() []byte {
	instanceData := append([]byte(p.Instance), 0) // null terminator

	type opt struct {
		token uint8
		data  []byte
	}
	opts := []opt{
		{PreloginVersion, p.Version.bytes()},
		{PreloginEncryption, []byte{p.Encryption}},
		{PreloginInstOpt, instanceData},
		{PreloginThreadID, u32be(p.ThreadID)},
		{PreloginMARS, []byte{p.MARS}},
		// TRACEID body: 16-byte activity GUID, 4-byte sequence, 16-byte
		// connection GUID; sent zeroed.
		{PreloginTraceID, make([]byte, 36)},
	}
	if p.FedAuthRequired {
		// FEDAUTHREQUIRED option body is a single byte: 0x01.
		opts = append(opts, opt{PreloginFedAuth, []byte{0x01}})
	}

	headerSize := len(opts)*5 + 1
	offset := uint16(headerSize)

	header := make([]byte, 0, headerSize)
	data := make([]byte, 0, 64)
	for _, o := range opts {
		header = append(header, o.token)
		header = appendU16BE(header, offset)
		header = appendU16BE(header, uint16(len(o.data)))
		data = append(data, o.data...)
		offset += uint16(len(o.data))
	}
	header = append(header, PreloginTerminator)

	return append(header, data...)
}

func u32be(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func appendU16BE(b []byte, v uint16) []byte {
	return append(b, byte(v>>8), byte(v))
}

// PreloginResponse is the server's answer to PRELOGIN: its chosen
// encryption mode and version, and (if requested) whether FEDAUTH is
// supported.
type PreloginResponse struct {
	Version    ClientVersion
	Encryption uint8
	Instance   string
	ThreadID   uint32
	MARS       uint8
	FedAuth    uint8
	Nonce      []byte
}

// ParsePreloginResponse parses the server's PRELOGIN reply.
func ParsePreloginResponse(data []byte) (*PreloginResponse, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("tds: empty prelogin response")
	}

	options := make(map[uint8]PreloginOption)
	offset := 0
	for {
		if offset >= len(data) {
			return nil, fmt.Errorf("tds: prelogin response truncated reading options")
		}
		token := data[offset]
		if token == PreloginTerminator {
			break
		}
		if offset+5 > len(data) {
			return nil, fmt.Errorf("tds: prelogin option header truncated")
		}
		options[token] = PreloginOption{
			Token:  token,
			Offset: binary.BigEndian.Uint16(data[offset+1 : offset+3]),
			Length: binary.BigEndian.Uint16(data[offset+3 : offset+5]),
		}
		offset += 5
	}

	p := &PreloginResponse{}
	for token, opt := range options {
		start, end := int(opt.Offset), int(opt.Offset)+int(opt.Length)
		if end > len(data) {
			return nil, fmt.Errorf("tds: prelogin option %d out of bounds", token)
		}
		value := data[start:end]

		switch token {
		case PreloginVersion:
			if len(value) >= 6 {
				p.Version = ClientVersion{
					Major:    value[0],
					Minor:    value[1],
					Build:    binary.BigEndian.Uint16(value[2:4]),
					SubBuild: binary.BigEndian.Uint16(value[4:6]),
				}
			}
		case PreloginEncryption:
			if len(value) >= 1 {
				p.Encryption = value[0]
			}
		case PreloginInstOpt:
			for i, b := range value {
				if b == 0 {
					p.Instance = string(value[:i])
					break
				}
			}
		case PreloginThreadID:
			if len(value) >= 4 {
				p.ThreadID = binary.BigEndian.Uint32(value)
			}
		case PreloginMARS:
			if len(value) >= 1 {
				p.MARS = value[0]
			}
		case PreloginFedAuth:
			if len(value) >= 1 {
				p.FedAuth = value[0]
			}
		case PreloginNonceOpt:
			if len(value) >= 32 {
				p.Nonce = append([]byte(nil), value[:32]...)
			}
		}
	}

	return p, nil
}

// RequiresTLS reports whether the server's chosen encryption mode means
// the client must negotiate TLS before LOGIN7.
func (r *PreloginResponse) RequiresTLS() bool {
	return r.Encryption == EncryptOn || r.Encryption == EncryptReq || r.Encryption == EncryptStrict
}

// RefusesEncryption reports whether the server refuses to encrypt at all.
func (r *PreloginResponse) RefusesEncryption() bool {
	return r.Encryption == EncryptNotSup
}
