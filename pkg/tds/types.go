package tds

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SQLType identifies a SQL Server wire type.
type SQLType uint8

const (
	TypeNull      SQLType = 0x1F // 31
	TypeInt1      SQLType = 0x30 // 48  - tinyint
	TypeBit       SQLType = 0x32 // 50
	TypeInt2      SQLType = 0x34 // 52  - smallint
	TypeInt4      SQLType = 0x38 // 56  - int
	TypeDateTime4 SQLType = 0x3A // 58  - smalldatetime
	TypeFloat4    SQLType = 0x3B // 59  - real
	TypeMoney     SQLType = 0x3C // 60
	TypeDateTime  SQLType = 0x3D // 61
	TypeFloat8    SQLType = 0x3E // 62  - float
	TypeMoney4    SQLType = 0x7A // 122 - smallmoney
	TypeInt8      SQLType = 0x7F // 127 - bigint

	// Variable length types
	TypeGUID            SQLType = 0x24 // 36
	TypeIntN            SQLType = 0x26 // 38
	TypeDecimal         SQLType = 0x37 // 55  - (legacy)
	TypeNumeric         SQLType = 0x3F // 63  - (legacy)
	TypeBitN            SQLType = 0x68 // 104
	TypeDecimalN        SQLType = 0x6A // 106
	TypeNumericN        SQLType = 0x6C // 108
	TypeFloatN          SQLType = 0x6D // 109
	TypeMoneyN          SQLType = 0x6E // 110
	TypeDateTimeN       SQLType = 0x6F // 111
	TypeDateN           SQLType = 0x28 // 40
	TypeTimeN           SQLType = 0x29 // 41
	TypeDateTime2N      SQLType = 0x2A // 42
	TypeDateTimeOffsetN SQLType = 0x2B // 43

	// String types
	TypeChar      SQLType = 0x2F // 47
	TypeVarChar   SQLType = 0x27 // 39
	TypeBinary    SQLType = 0x2D // 45
	TypeVarBinary SQLType = 0x25 // 37

	// Large types (2-byte length)
	TypeBigVarBin  SQLType = 0xA5 // 165
	TypeBigVarChar SQLType = 0xA7 // 167
	TypeBigBinary  SQLType = 0xAD // 173
	TypeBigChar    SQLType = 0xAF // 175
	TypeNVarChar   SQLType = 0xE7 // 231
	TypeNChar      SQLType = 0xEF // 239
	TypeXML        SQLType = 0xF1 // 241
	TypeUDT        SQLType = 0xF0 // 240

	// Legacy LOB types, carried as a text pointer, timestamp and 4-byte
	// length (see readLegacyLOB), not in PLP form.
	TypeText      SQLType = 0x23 // 35
	TypeImage     SQLType = 0x22 // 34
	TypeNText     SQLType = 0x63 // 99
	TypeSSVariant SQLType = 0x62 // 98
)

func (t SQLType) String() string {
	switch t {
	case TypeNull:
		return "NULL"
	case TypeInt1:
		return "TINYINT"
	case TypeBit, TypeBitN:
		return "BIT"
	case TypeInt2:
		return "SMALLINT"
	case TypeInt4:
		return "INT"
	case TypeInt8:
		return "BIGINT"
	case TypeIntN:
		return "INTN"
	case TypeFloat4:
		return "REAL"
	case TypeFloat8:
		return "FLOAT"
	case TypeFloatN:
		return "FLOATN"
	case TypeDateTime, TypeDateTimeN:
		return "DATETIME"
	case TypeDateTime4:
		return "SMALLDATETIME"
	case TypeMoney, TypeMoneyN:
		return "MONEY"
	case TypeMoney4:
		return "SMALLMONEY"
	case TypeGUID:
		return "UNIQUEIDENTIFIER"
	case TypeDateN:
		return "DATE"
	case TypeTimeN:
		return "TIME"
	case TypeDateTime2N:
		return "DATETIME2"
	case TypeDateTimeOffsetN:
		return "DATETIMEOFFSET"
	case TypeDecimalN, TypeNumericN, TypeDecimal, TypeNumeric:
		return "DECIMAL"
	case TypeChar, TypeBigChar:
		return "CHAR"
	case TypeVarChar, TypeBigVarChar:
		return "VARCHAR"
	case TypeBinary, TypeBigBinary:
		return "BINARY"
	case TypeVarBinary, TypeBigVarBin:
		return "VARBINARY"
	case TypeNVarChar:
		return "NVARCHAR"
	case TypeNChar:
		return "NCHAR"
	case TypeText:
		return "TEXT"
	case TypeNText:
		return "NTEXT"
	case TypeImage:
		return "IMAGE"
	case TypeXML:
		return "XML"
	case TypeUDT:
		return "UDT"
	case TypeSSVariant:
		return "SQL_VARIANT"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(t))
	}
}

// IsPLP reports whether this type is carried in PLP ("MAX") chunked form
// rather than a plain length-prefixed blob.
func (t SQLType) IsPLP() bool {
	switch t {
	case TypeNVarChar, TypeBigVarChar, TypeBigVarBin, TypeXML:
		return true
	default:
		return false
	}
}

// IsLOB reports whether this type is always carried as a LOB (TEXT/NTEXT/
// IMAGE style 4-byte-length), independent of declared max length.
func (t SQLType) IsLOB() bool {
	switch t {
	case TypeText, TypeNText, TypeImage:
		return true
	default:
		return false
	}
}

// Column describes one column from a COLMETADATA token.
type Column struct {
	Name      string
	Type      SQLType
	Length    uint32 // declared max length; 0xFFFFFFFF (PLPLenMax) means MAX
	Precision uint8  // DECIMAL/NUMERIC only
	Scale     uint8  // DECIMAL/NUMERIC/TIME/DATETIME2/DATETIMEOFFSET
	Collation []byte // 5 bytes, present for character types
	Nullable  bool
	UserType  uint32
	Flags     uint16
}

// ColumnFlags bits within COLMETADATA's Flags field.
const (
	ColFlagNullable        uint16 = 0x0001
	ColFlagCaseSen         uint16 = 0x0002
	ColFlagUpdateable      uint16 = 0x0008
	ColFlagIdentity        uint16 = 0x0010
	ColFlagComputed        uint16 = 0x0020
	ColFlagFixedLenCLR     uint16 = 0x0100
	ColFlagSparseColumn    uint16 = 0x0400
	ColFlagEncrypted       uint16 = 0x0800
	ColFlagHidden          uint16 = 0x2000
	ColFlagKey             uint16 = 0x4000
	ColFlagNullableUnknown uint16 = 0x8000
)

// PLPLenMax marks a PLP type's declared length as unbounded ("(max)").
const PLPLenMax uint32 = 0xFFFFFFFF

// PLPNull and PLPUnknownLen are the two special PLP length sentinels that
// precede a PLP value's chunk sequence.
const (
	PLPNull       uint64 = 0xFFFFFFFFFFFFFFFF
	PLPUnknownLen uint64 = 0xFFFFFFFFFFFFFFFE
)

// baseDate is the TDS epoch for DATETIME/DATETIME4 day counts.
var baseDate = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

// DecodeDateTime converts a DATETIME/DATETIMEN pair of (days since
// baseDate, 1/300s ticks since midnight) into a time.Time.
func DecodeDateTime(days int32, ticks int32) time.Time {
	t := baseDate.AddDate(0, 0, int(days))
	ms := int64(ticks) * 10 / 3
	return t.Add(time.Duration(ms) * time.Millisecond)
}

// DecodeSmallDateTime converts a SMALLDATETIME pair of (days since
// baseDate, minutes since midnight) into a time.Time.
func DecodeSmallDateTime(days uint16, minutes uint16) time.Time {
	t := baseDate.AddDate(0, 0, int(days))
	return t.Add(time.Duration(minutes) * time.Minute)
}

// DecodeDate converts a DATEN 3-byte little-endian day count (since
// 0001-01-01) into a time.Time.
func DecodeDate(raw []byte) time.Time {
	var days int64
	for i := len(raw) - 1; i >= 0; i-- {
		days = days<<8 | int64(raw[i])
	}
	base := time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
	return base.AddDate(0, 0, int(days))
}

// DecodeTime converts a TIMEN value (scale-dependent byte width, ticks
// since midnight at 10^-scale second resolution) into a time.Duration.
func DecodeTime(raw []byte, scale uint8) time.Duration {
	var ticks int64
	for i := len(raw) - 1; i >= 0; i-- {
		ticks = ticks<<8 | int64(raw[i])
	}
	return scaledTicksToDuration(ticks, scale)
}

func scaledTicksToDuration(ticks int64, scale uint8) time.Duration {
	// Ticks are expressed at 10^scale units per second; normalize to ns.
	divisors := [8]int64{1e9, 1e8, 1e7, 1e6, 1e5, 1e4, 1e3, 1e2}
	var nsPerTick int64
	if int(scale) < len(divisors) {
		nsPerTick = divisors[scale]
	} else {
		nsPerTick = 100
	}
	return time.Duration(ticks) * time.Duration(nsPerTick)
}

// DecodeDateTime2 converts DATETIME2N's (time bytes, date bytes) pair into
// a time.Time in UTC.
func DecodeDateTime2(timeRaw []byte, dateRaw []byte, scale uint8) time.Time {
	d := DecodeDate(dateRaw)
	dur := DecodeTime(timeRaw, scale)
	return d.Add(dur)
}

// DecodeDateTimeOffset converts DATETIMEOFFSETN's (time bytes, date bytes,
// minute offset) triple into a time.Time carrying the reported zone offset.
func DecodeDateTimeOffset(timeRaw, dateRaw []byte, offsetMinutes int16, scale uint8) time.Time {
	t := DecodeDateTime2(timeRaw, dateRaw, scale)
	loc := time.FixedZone("", int(offsetMinutes)*60)
	return t.In(loc)
}

// DecodeMoney converts a MONEY (8-byte, hi/lo int32 pair scaled 1e4) or
// SMALLMONEY (4-byte, scaled 1e4) value into a decimal.Decimal.
func DecodeMoney(raw []byte) decimal.Decimal {
	var v int64
	switch len(raw) {
	case 4:
		v = int64(int32(binary.LittleEndian.Uint32(raw)))
	case 8:
		hi := int32(binary.LittleEndian.Uint32(raw[0:4]))
		lo := binary.LittleEndian.Uint32(raw[4:8])
		v = int64(hi)<<32 | int64(lo)
	}
	return decimal.New(v, -4)
}

// DecodeDecimal converts a DECIMALN/NUMERICN value (1-byte sign, then
// little-endian unsigned magnitude) into a decimal.Decimal at the column's
// declared scale.
func DecodeDecimal(raw []byte, scale uint8) decimal.Decimal {
	if len(raw) == 0 {
		return decimal.Zero
	}
	sign := raw[0]
	mag := append([]byte(nil), raw[1:]...)
	reverseBytes(mag) // wire magnitude is little-endian; big.Int wants big-endian

	coeff := new(big.Int).SetBytes(mag)
	d := decimal.NewFromBigInt(coeff, -int32(scale))
	if sign == 0 {
		d = d.Neg()
	}
	return d
}

func reverseBytes(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

// DecodeGUID converts SQL Server's mixed-endian 16-byte UNIQUEIDENTIFIER
// wire encoding into a uuid.UUID. SQL Server stores the first three
// fields (time-low, time-mid, time-hi-and-version) little-endian and the
// remaining 8 bytes big-endian, the reverse of RFC 4122's all-big-endian
// layout.
func DecodeGUID(raw []byte) uuid.UUID {
	var u uuid.UUID
	if len(raw) != 16 {
		return u
	}
	u[0], u[1], u[2], u[3] = raw[3], raw[2], raw[1], raw[0]
	u[4], u[5] = raw[5], raw[4]
	u[6], u[7] = raw[7], raw[6]
	copy(u[8:], raw[8:16])
	return u
}

// EncodeGUID is the inverse of DecodeGUID, used when binding a UUID
// parameter value into a UNIQUEIDENTIFIER wire value.
func EncodeGUID(u uuid.UUID) []byte {
	raw := make([]byte, 16)
	raw[0], raw[1], raw[2], raw[3] = u[3], u[2], u[1], u[0]
	raw[4], raw[5] = u[5], u[4]
	raw[6], raw[7] = u[7], u[6]
	copy(raw[8:16], u[8:])
	return raw
}
