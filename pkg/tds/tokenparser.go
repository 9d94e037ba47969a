package tds

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ParsedTokenType discriminates the Token union returned by TokenParser.
type ParsedTokenType int

const (
	TokColMetadata ParsedTokenType = iota
	TokRow
	TokDone
	TokDoneProc
	TokDoneInProc
	TokError
	TokInfo
	TokEnvChange
	TokLoginAck
	TokReturnStatus
	TokFeatureExtAck
	TokOrder
	TokFedAuthInfo
)

// Token is one decoded item from the response token stream. Only the
// field matching Type is populated.
type Token struct {
	Type ParsedTokenType

	Columns      []Column      // TokColMetadata
	Row          []interface{} // TokRow, aligned with the active ColMetadata
	Done         Done          // TokDone/TokDoneProc/TokDoneInProc
	Error        *ErrorInfo    // TokError
	Info         *InfoInfo     // TokInfo
	EnvChange    EnvChange     // TokEnvChange
	LoginAck     LoginAck      // TokLoginAck
	ReturnStatus int32         // TokReturnStatus
	FedAuthInfo  FedAuthInfo   // TokFedAuthInfo
}

// FedAuthInfo carries the STS URL and resource SPN the server sends after
// a LOGIN7 declaring FEDAUTH support, before the client replies with a
// FEDAUTH_TOKEN message.
type FedAuthInfo struct {
	STSURL string
	SPN    string
}

// TokenParser pulls decoded tokens off a MessageReader one at a time. It
// tracks the most recently seen COLMETADATA so ROW/NBCROW tokens can be
// decoded against the right column set, mirroring how the server response
// stream is itself structured (COLMETADATA always precedes its rows).
type TokenParser struct {
	r        io.Reader
	columns  []Column
	skipMode bool
}

// NewTokenParser creates a parser reading tokens from r.
func NewTokenParser(r io.Reader) *TokenParser {
	return &TokenParser{r: r}
}

// Columns returns the column set from the most recently parsed
// COLMETADATA token, or nil if none has been seen yet.
func (p *TokenParser) Columns() []Column { return p.columns }

// SetSkipMode toggles measure-and-advance decoding for ROW/NBCROW bodies:
// when on, row values are discarded at wire speed instead of decoded, and
// the returned Token's Row field is left nil. Used by DrainAttentionAck,
// where nobody reads the rows buffered ahead of the DONE(ATTN) ack.
func (p *TokenParser) SetSkipMode(on bool) { p.skipMode = on }

// Next decodes and returns the next token, or io.EOF when the underlying
// message is exhausted.
func (p *TokenParser) Next() (*Token, error) {
	var tb [1]byte
	if _, err := io.ReadFull(p.r, tb[:]); err != nil {
		return nil, err
	}

	switch TokenType(tb[0]) {
	case TokenColMetadata:
		cols, err := ReadColMetadata(p.r)
		if err != nil {
			return nil, err
		}
		p.columns = cols
		return &Token{Type: TokColMetadata, Columns: cols}, nil

	case TokenRow:
		if p.columns == nil {
			return nil, fmt.Errorf("tds: ROW token with no preceding COLMETADATA")
		}
		if p.skipMode {
			if err := skipRow(p.r, p.columns); err != nil {
				return nil, err
			}
			return &Token{Type: TokRow}, nil
		}
		row, err := readRow(p.r, p.columns)
		if err != nil {
			return nil, err
		}
		return &Token{Type: TokRow, Row: row}, nil

	case TokenNBCRow:
		if p.columns == nil {
			return nil, fmt.Errorf("tds: NBCROW token with no preceding COLMETADATA")
		}
		if p.skipMode {
			if err := skipNBCRow(p.r, p.columns); err != nil {
				return nil, err
			}
			return &Token{Type: TokRow}, nil
		}
		row, err := readNBCRow(p.r, p.columns)
		if err != nil {
			return nil, err
		}
		return &Token{Type: TokRow, Row: row}, nil

	case TokenDone, TokenDoneProc, TokenDoneInProc:
		d, err := readDone(p.r, TokenType(tb[0]))
		if err != nil {
			return nil, err
		}
		tt := TokDone
		if TokenType(tb[0]) == TokenDoneProc {
			tt = TokDoneProc
		} else if TokenType(tb[0]) == TokenDoneInProc {
			tt = TokDoneInProc
		}
		return &Token{Type: tt, Done: d}, nil

	case TokenError:
		e, err := readErrorOrInfo(p.r)
		if err != nil {
			return nil, err
		}
		return &Token{Type: TokError, Error: &ErrorInfo{
			Number: e.Number, State: e.State, Severity: e.Severity,
			Message: e.Message, ServerName: e.ServerName, ProcName: e.ProcName, LineNo: e.LineNo,
		}}, nil

	case TokenInfo:
		e, err := readErrorOrInfo(p.r)
		if err != nil {
			return nil, err
		}
		return &Token{Type: TokInfo, Info: &InfoInfo{
			Number: e.Number, State: e.State, Severity: e.Severity,
			Message: e.Message, ServerName: e.ServerName, ProcName: e.ProcName, LineNo: e.LineNo,
		}}, nil

	case TokenEnvChange:
		ec, err := readEnvChange(p.r)
		if err != nil {
			return nil, err
		}
		return &Token{Type: TokEnvChange, EnvChange: ec}, nil

	case TokenLoginAck:
		la, err := readLoginAck(p.r)
		if err != nil {
			return nil, err
		}
		return &Token{Type: TokLoginAck, LoginAck: la}, nil

	case TokenReturnStatus:
		var b [4]byte
		if _, err := io.ReadFull(p.r, b[:]); err != nil {
			return nil, err
		}
		return &Token{Type: TokReturnStatus, ReturnStatus: int32(binary.LittleEndian.Uint32(b[:]))}, nil

	case TokenFeatureExtAck:
		if err := skipLenPrefixedU16(p.r); err != nil {
			return nil, err
		}
		return &Token{Type: TokFeatureExtAck}, nil

	case TokenOrder:
		if err := skipLenPrefixedU16(p.r); err != nil {
			return nil, err
		}
		return &Token{Type: TokOrder}, nil

	case TokenFedAuthInfo:
		fi, err := readFedAuthInfo(p.r)
		if err != nil {
			return nil, err
		}
		return &Token{Type: TokFedAuthInfo, FedAuthInfo: fi}, nil

	case TokenSSPI:
		if err := skipLenPrefixedU16(p.r); err != nil {
			return nil, err
		}
		return p.Next()

	case TokenReturnValue, 0xA4, 0xA5: // RETURNVALUE, TABNAME, COLINFO
		if err := skipLenPrefixedU16(p.r); err != nil {
			return nil, err
		}
		return p.Next()

	default:
		return nil, fmt.Errorf("tds: unrecognized token type 0x%02X", tb[0])
	}
}

func skipLenPrefixedU16(r io.Reader) error {
	var lb [2]byte
	if _, err := io.ReadFull(r, lb[:]); err != nil {
		return err
	}
	n := binary.LittleEndian.Uint16(lb[:])
	buf := make([]byte, n)
	_, err := io.ReadFull(r, buf)
	return err
}

func readRow(r io.Reader, cols []Column) ([]interface{}, error) {
	row := make([]interface{}, len(cols))
	for i, col := range cols {
		v, err := ReadValue(r, col)
		if err != nil {
			return nil, fmt.Errorf("tds: decoding column %q: %w", col.Name, err)
		}
		row[i] = v
	}
	return row, nil
}

func readNBCRow(r io.Reader, cols []Column) ([]interface{}, error) {
	bitmap := make([]byte, NullBitmapSize(len(cols)))
	if _, err := io.ReadFull(r, bitmap); err != nil {
		return nil, err
	}

	row := make([]interface{}, len(cols))
	for i, col := range cols {
		if IsNullInBitmap(bitmap, i) {
			row[i] = nil
			continue
		}
		v, err := ReadValue(r, col)
		if err != nil {
			return nil, fmt.Errorf("tds: decoding column %q: %w", col.Name, err)
		}
		row[i] = v
	}
	return row, nil
}

// skipRow measures and advances past one ROW body without decoding any
// column, for cancellation drain.
func skipRow(r io.Reader, cols []Column) error {
	for _, col := range cols {
		if err := SkipValue(r, col); err != nil {
			return fmt.Errorf("tds: skipping column %q: %w", col.Name, err)
		}
	}
	return nil
}

// skipNBCRow measures and advances past one NBCROW body without decoding
// any column, for cancellation drain. The null bitmap itself still has to
// be read, since it determines which columns carry a body at all.
func skipNBCRow(r io.Reader, cols []Column) error {
	bitmap := make([]byte, NullBitmapSize(len(cols)))
	if _, err := io.ReadFull(r, bitmap); err != nil {
		return err
	}
	for i, col := range cols {
		if IsNullInBitmap(bitmap, i) {
			continue
		}
		if err := SkipValue(r, col); err != nil {
			return fmt.Errorf("tds: skipping column %q: %w", col.Name, err)
		}
	}
	return nil
}

func readDone(r io.Reader, kind TokenType) (Done, error) {
	var b [12]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return Done{}, err
	}
	return Done{
		Kind:     kind,
		Status:   binary.LittleEndian.Uint16(b[0:2]),
		CurCmd:   binary.LittleEndian.Uint16(b[2:4]),
		RowCount: binary.LittleEndian.Uint64(b[4:12]),
	}, nil
}

type errorOrInfoBody struct {
	Number     int32
	State      uint8
	Severity   uint8
	Message    string
	ServerName string
	ProcName   string
	LineNo     int32
}

// readErrorOrInfo decodes the shared ERROR/INFO token body: a 2-byte
// token length (read and not used), then Number/State/Class,
// UCS-2 message/server/proc strings, and a line number.
func readErrorOrInfo(r io.Reader) (errorOrInfoBody, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return errorOrInfoBody{}, err
	}
	// Length is informational; we decode the fixed grammar directly.

	var fixed [6]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return errorOrInfoBody{}, err
	}
	body := errorOrInfoBody{
		Number:   int32(binary.LittleEndian.Uint32(fixed[0:4])),
		State:    fixed[4],
		Severity: fixed[5],
	}

	msg, err := readUCS2String16(r)
	if err != nil {
		return body, err
	}
	body.Message = msg

	srv, err := readUCS2String8(r)
	if err != nil {
		return body, err
	}
	body.ServerName = srv

	proc, err := readUCS2String8(r)
	if err != nil {
		return body, err
	}
	body.ProcName = proc

	var lineBuf [4]byte
	if _, err := io.ReadFull(r, lineBuf[:]); err != nil {
		return body, err
	}
	body.LineNo = int32(binary.LittleEndian.Uint32(lineBuf[:]))

	return body, nil
}

func readUCS2String16(r io.Reader) (string, error) {
	var lb [2]byte
	if _, err := io.ReadFull(r, lb[:]); err != nil {
		return "", err
	}
	n := binary.LittleEndian.Uint16(lb[:])
	data := make([]byte, int(n)*2)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", err
	}
	return ucs2ToString(data), nil
}

func readUCS2String8(r io.Reader) (string, error) {
	var lb [1]byte
	if _, err := io.ReadFull(r, lb[:]); err != nil {
		return "", err
	}
	n := lb[0]
	data := make([]byte, int(n)*2)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", err
	}
	return ucs2ToString(data), nil
}

func readEnvChange(r io.Reader) (EnvChange, error) {
	var lb [2]byte
	if _, err := io.ReadFull(r, lb[:]); err != nil {
		return EnvChange{}, err
	}
	n := binary.LittleEndian.Uint16(lb[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return EnvChange{}, err
	}

	if len(body) == 0 {
		return EnvChange{}, fmt.Errorf("tds: empty ENVCHANGE body")
	}
	envType := body[0]
	rest := body[1:]

	ec := EnvChange{Type: envType}

	if envType == EnvSQLCollation {
		newLen := int(rest[0])
		rest = rest[1:]
		ec.NewCollation = append([]byte(nil), rest[:newLen]...)
		rest = rest[newLen:]
		oldLen := int(rest[0])
		rest = rest[1:]
		ec.OldCollation = append([]byte(nil), rest[:oldLen]...)
		return ec, nil
	}

	newLen := int(rest[0])
	rest = rest[1:]
	ec.NewValue = ucs2ToString(rest[:newLen*2])
	rest = rest[newLen*2:]
	if len(rest) == 0 {
		return ec, nil
	}
	oldLen := int(rest[0])
	rest = rest[1:]
	ec.OldValue = ucs2ToString(rest[:oldLen*2])
	return ec, nil
}

// fedAuthInfoIDSTSURL and fedAuthInfoIDSPN are the FEDAUTHINFO option IDs
// for the two fields this client cares about.
const (
	fedAuthInfoIDSTSURL = 0x01
	fedAuthInfoIDSPN    = 0x02
)

// readFedAuthInfo decodes a FEDAUTHINFO token body: total length, a count
// of (id, dataLen, dataOffset) option descriptors, then the raw data area
// those offsets index into (offsets are relative to the start of the
// data area, i.e. right after the descriptor array).
func readFedAuthInfo(r io.Reader) (FedAuthInfo, error) {
	var lb [4]byte
	if _, err := io.ReadFull(r, lb[:]); err != nil {
		return FedAuthInfo{}, err
	}
	tokenLen := binary.LittleEndian.Uint32(lb[:])
	body := make([]byte, tokenLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return FedAuthInfo{}, err
	}
	if len(body) < 4 {
		return FedAuthInfo{}, fmt.Errorf("tds: FEDAUTHINFO body too short")
	}
	count := binary.LittleEndian.Uint32(body[0:4])
	descStart := 4
	dataStart := descStart + int(count)*9

	var info FedAuthInfo
	for i := 0; i < int(count); i++ {
		off := descStart + i*9
		if off+9 > len(body) {
			break
		}
		id := body[off]
		dataLen := binary.LittleEndian.Uint32(body[off+1 : off+5])
		dataOffset := binary.LittleEndian.Uint32(body[off+5 : off+9])
		start := dataStart + int(dataOffset)
		end := start + int(dataLen)
		if start < 0 || end > len(body) || start > end {
			continue
		}
		switch id {
		case fedAuthInfoIDSTSURL:
			info.STSURL = ucs2ToString(body[start:end])
		case fedAuthInfoIDSPN:
			info.SPN = ucs2ToString(body[start:end])
		}
	}
	return info, nil
}

func readLoginAck(r io.Reader) (LoginAck, error) {
	var lb [2]byte
	if _, err := io.ReadFull(r, lb[:]); err != nil {
		return LoginAck{}, err
	}
	n := binary.LittleEndian.Uint16(lb[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return LoginAck{}, err
	}

	if len(body) < 5 {
		return LoginAck{}, fmt.Errorf("tds: LOGINACK body too short")
	}
	iface := LoginAckInterface(body[0])
	tdsVer := binary.BigEndian.Uint32(body[1:5])
	rest := body[5:]

	progNameLen := int(rest[0])
	rest = rest[1:]
	progName := ucs2ToString(rest[:progNameLen*2])
	rest = rest[progNameLen*2:]

	var progVer uint32
	if len(rest) >= 4 {
		progVer = binary.BigEndian.Uint32(rest[0:4])
	}

	return LoginAck{Interface: iface, TDSVersion: tdsVer, ProgName: progName, ProgVer: progVer}, nil
}
