package tds

import (
	"encoding/binary"
	"unicode/utf16"
)

// Login7 option flags.
const (
	// OptionFlags1
	FlagByteOrder uint8 = 0x01 // Byte order (0=little endian)
	FlagChar      uint8 = 0x02 // Character set (0=ASCII)
	FlagFloat     uint8 = 0x0C // Float representation
	FlagDumpLoad  uint8 = 0x10 // Dump/load off
	FlagUseDB     uint8 = 0x20 // USE DATABASE in login
	FlagDatabase  uint8 = 0x40 // Initial database fatal
	FlagSetLang   uint8 = 0x80 // SET LANGUAGE in login

	// OptionFlags2
	FlagLanguage      uint8 = 0x01 // Language fatal
	FlagODBC          uint8 = 0x02 // ODBC driver
	FlagTransBoundary uint8 = 0x04 // Transaction boundary
	FlagCacheConnect  uint8 = 0x08 // Cache connect
	FlagUserType      uint8 = 0x70 // User type
	FlagIntSecurity   uint8 = 0x80 // Integrated security (SSPI)

	// OptionFlags3
	FlagChangePassword   uint8 = 0x01 // Change password
	FlagBinaryXML        uint8 = 0x02 // Send Yukon binary XML
	FlagUserInstance     uint8 = 0x04 // User instance
	FlagUnknownCollation uint8 = 0x08 // Unknown collation handling
	FlagExtension        uint8 = 0x10 // Feature extension present

	// TypeFlags
	FlagSQLType        uint8 = 0x0F // SQL type (4 bits)
	FlagOLEDB          uint8 = 0x10 // OLE DB
	FlagReadOnlyIntent uint8 = 0x20 // Read-only intent
)

// Login7HeaderSize is the fixed size of the LOGIN7 header.
const Login7HeaderSize = 94

// FeatureExtFedAuth is the FeatureExt ID for federated authentication.
const FeatureExtFedAuth uint8 = 0x02

// FeatureExtTerminator marks the end of the FeatureExt block.
const FeatureExtTerminator uint8 = 0xFF

// FedAuthLibrary identifies the FEDAUTH sub-protocol requested in the
// feature extension: securityToken means the client will follow up with
// a FEDAUTH_TOKEN message carrying a bearer token it already holds.
const FedAuthLibrarySecurityToken uint8 = 0x01

// LoginOptions carries everything BuildLogin7 needs to construct the
// variable-length LOGIN7 packet body.
type LoginOptions struct {
	HostName   string
	UserName   string
	Password   string // plaintext; mangled on encode
	AppName    string
	ServerName string
	CtlIntName string // client interface/library name
	Language   string
	Database   string

	PacketSize    uint32
	ClientProgVer uint32
	ClientPID     uint32
	ClientLCID    uint32

	// FedAuthRequired appends a FeatureExt block declaring FEDAUTH support.
	// The bearer token itself is sent afterward as a separate
	// FEDAUTH_TOKEN message (see BuildFedAuthToken), never inline here.
	FedAuthRequired bool
}

// BuildLogin7 encodes a LOGIN7 packet body: the 94-byte fixed header
// followed by the offset/length-addressed variable section.
func BuildLogin7(opt LoginOptions) []byte {
	type field struct {
		data []byte
		// mangled fields are length-in-characters * 2 bytes, same as others;
		// mangling only affects content, not framing.
	}

	hostName := stringToUCS2(opt.HostName)
	userName := stringToUCS2(opt.UserName)
	password := manglePassword(opt.Password)
	appName := stringToUCS2(opt.AppName)
	serverName := stringToUCS2(opt.ServerName)
	ctlIntName := stringToUCS2(opt.CtlIntName)
	language := stringToUCS2(opt.Language)
	database := stringToUCS2(opt.Database)

	var featureExt []byte
	if opt.FedAuthRequired {
		// FeatureExt block: FEATUREEXT_FEDAUTH(1) + DWORD length + payload,
		// where payload = library(1) + fedAuthEcho(1), terminated by 0xFF.
		payload := []byte{FedAuthLibrarySecurityToken, 0x00}
		featureExt = append(featureExt, FeatureExtFedAuth)
		featureExt = appendU32LE(featureExt, uint32(len(payload)))
		featureExt = append(featureExt, payload...)
		featureExt = append(featureExt, FeatureExtTerminator)
	}

	fields := []field{
		{hostName}, {userName}, {password}, {appName}, {serverName},
	}
	// Extension "data" is a 4-byte offset pointer into the variable
	// section, not the feature bytes themselves; handled specially below.
	fields = append(fields,
		field{ctlIntName}, field{language}, field{database},
	)

	varSectionStart := Login7HeaderSize
	offsets := make([]uint16, len(fields))
	cursor := varSectionStart
	for i, f := range fields {
		offsets[i] = uint16(cursor)
		cursor += len(f.data)
	}

	clientID := [6]byte{}

	// SSPI, AtchDBFile, and ChangePassword are never used by this client;
	// their offset/length pairs point at the current cursor with length 0.
	var extensionOffset, extensionLength uint16
	var extensionPointerPos int
	var featureExtAbsOffset uint32

	if len(featureExt) > 0 {
		extensionPointerPos = cursor
		extensionOffset = uint16(extensionPointerPos)
		extensionLength = 4 // the offset/length pair addresses a 4-byte DWORD pointer
		cursor += 4
		featureExtAbsOffset = uint32(cursor)
		cursor += len(featureExt)
	}

	sspiOffset := uint16(cursor)
	atchDBFileOffset := uint16(cursor)
	changePwOffset := uint16(cursor)
	const sspiLength, atchDBFileLength, changePwLength = uint16(0), uint16(0), uint16(0)

	totalLen := cursor

	buf := make([]byte, totalLen)

	optFlags3 := uint8(0)
	if len(featureExt) > 0 {
		optFlags3 |= FlagExtension
	}

	binary.LittleEndian.PutUint32(buf[0:4], uint32(totalLen))
	binary.LittleEndian.PutUint32(buf[4:8], VerTDS74)
	binary.LittleEndian.PutUint32(buf[8:12], valueOr(opt.PacketSize, DefaultPacketSize))
	binary.LittleEndian.PutUint32(buf[12:16], opt.ClientProgVer)
	binary.LittleEndian.PutUint32(buf[16:20], opt.ClientPID)
	binary.LittleEndian.PutUint32(buf[20:24], 0) // ConnectionID
	buf[24] = FlagByteOrder&0 | FlagUseDB | FlagDatabase | FlagSetLang
	buf[25] = FlagODBC
	buf[26] = 0 // TypeFlags
	buf[27] = optFlags3
	binary.LittleEndian.PutUint32(buf[28:32], 0) // ClientTimeZone
	binary.LittleEndian.PutUint32(buf[32:36], opt.ClientLCID)

	putOffLen(buf, 36, offsets[0], uint16(len(opt.HostName)))
	putOffLen(buf, 40, offsets[1], uint16(len(opt.UserName)))
	putOffLen(buf, 44, offsets[2], uint16(len(opt.Password)))
	putOffLen(buf, 48, offsets[3], uint16(len(opt.AppName)))
	putOffLen(buf, 52, offsets[4], uint16(len(opt.ServerName)))
	putOffLen(buf, 56, extensionOffset, extensionLength)
	putOffLen(buf, 60, offsets[5], uint16(len(opt.CtlIntName)))
	putOffLen(buf, 64, offsets[6], uint16(len(opt.Language)))
	putOffLen(buf, 68, offsets[7], uint16(len(opt.Database)))
	copy(buf[72:78], clientID[:])
	putOffLen(buf, 78, sspiOffset, sspiLength)
	putOffLen(buf, 82, atchDBFileOffset, atchDBFileLength)
	putOffLen(buf, 86, changePwOffset, changePwLength)
	binary.LittleEndian.PutUint32(buf[90:94], 0) // SSPILongLength

	pos := varSectionStart
	for i, f := range fields {
		copy(buf[pos:], f.data)
		pos += len(f.data)
	}
	if len(featureExt) > 0 {
		binary.LittleEndian.PutUint32(buf[extensionPointerPos:extensionPointerPos+4], featureExtAbsOffset)
		copy(buf[int(featureExtAbsOffset):], featureExt)
	}

	return buf
}

func valueOr(v, def uint32) uint32 {
	if v == 0 {
		return def
	}
	return v
}

func putOffLen(buf []byte, at int, offset, length uint16) {
	binary.LittleEndian.PutUint16(buf[at:at+2], offset)
	binary.LittleEndian.PutUint16(buf[at+2:at+4], length)
}

func appendU32LE(b []byte, v uint32) []byte {
	tmp := make([]byte, 4)
	binary.LittleEndian.PutUint32(tmp, v)
	return append(b, tmp...)
}

// manglePassword obfuscates a password per the TDS rule: swap each byte's
// nibbles, then XOR with 0xA5. This is not encryption, only obfuscation
// against casual packet inspection.
func manglePassword(password string) []byte {
	raw := stringToUCS2(password)
	out := make([]byte, len(raw))
	for i, b := range raw {
		swapped := (b << 4) | (b >> 4)
		out[i] = swapped ^ 0xA5
	}
	return out
}

// demanglePassword reverses manglePassword; nothing in this module calls
// it.
func demanglePassword(mangled []byte) string {
	out := make([]byte, len(mangled))
	for i, b := range mangled {
		unxored := b ^ 0xA5
		out[i] = (unxored >> 4) | (unxored << 4)
	}
	return ucs2ToString(out)
}

// ucs2ToString converts UCS-2 (UTF-16LE) bytes to a Go string.
func ucs2ToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if len(b)%2 != 0 {
		b = b[:len(b)-1]
	}
	u16 := make([]uint16, len(b)/2)
	for i := range u16 {
		u16[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return string(utf16.Decode(u16))
}

// EncodeUCS2 converts a Go string to UCS-2 (UTF-16LE) bytes, the wire
// encoding required for SQL_BATCH payloads and every LOGIN7 string field.
func EncodeUCS2(s string) []byte {
	return stringToUCS2(s)
}

// stringToUCS2 converts a Go string to UCS-2 (UTF-16LE) bytes.
func stringToUCS2(s string) []byte {
	u16 := utf16.Encode([]rune(s))
	b := make([]byte, len(u16)*2)
	for i, v := range u16 {
		binary.LittleEndian.PutUint16(b[i*2:], v)
	}
	return b
}

// BuildFedAuthToken encodes a FEDAUTH_TOKEN message body: total length,
// token length, the UTF-16LE bearer token, and an optional 4-byte nonce
// echoed back from PRELOGIN.
func BuildFedAuthToken(accessToken string, nonce []byte) []byte {
	tokenBytes := stringToUCS2(accessToken)
	totalLen := 4 + len(tokenBytes) + len(nonce)

	buf := make([]byte, 8, 8+len(tokenBytes)+len(nonce))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(totalLen))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(tokenBytes)))
	buf = append(buf, tokenBytes...)
	buf = append(buf, nonce...)
	return buf
}
