package binlog

// JSON binary decoder. MySQL's binary JSON format is an offset-indexed
// tree; see https://dev.mysql.com/worklog/task/?id=8132#tabs-8132-4.
// The traversal here emits to a pluggable JsonFormatter instead of
// building a native Go value, so callers can plug in a different
// output representation (test fixtures, translation to another wire
// format) without touching the decoder.

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

const (
	jsonSmallObj byte = iota
	jsonLargeObj
	jsonSmallArr
	jsonLargeArr
	jsonLiteral
	jsonInt16
	jsonUInt16
	jsonInt32
	jsonUInt32
	jsonInt64
	jsonUInt64
	jsonDouble
	jsonString
	jsonCustom = 0x0f
)

// JsonFormatter receives a stream of callbacks describing a decoded
// binary JSON document, in document order. A container's elements are
// separated by NextEntry; the container itself is bracketed by
// Begin/End calls.
type JsonFormatter interface {
	BeginObject(numElements int)
	BeginArray(numElements int)
	EndObject()
	EndArray()
	Name(name string)
	NextEntry()
	ValueBool(v bool)
	ValueNull()
	ValueString(v string)
	ValueInt(v int32)
	ValueLong(v int64)
	ValueDouble(v float64)
	ValueBigInt(v uint64)
	ValueDecimal(v Decimal)
	ValueYear(year int)
	ValueDate(year, month, day int)
	ValueDateTime(year, month, day, hour, min, sec, micros int)
	ValueTime(hour, min, sec, micros int)
	ValueTimestamp(secondsPastEpoch int64, micros int)
	ValueOpaque(typ ColumnType, value []byte)
}

// ParseJSON decodes a MySQL binary JSON column value, emitting to
// formatter. The first byte's value decides whether the payload is
// MySQL's binary tree format or (MariaDB compatibility) a raw JSON
// text blob: a leading byte above 0x0f cannot be a valid top-level
// type code, so such payloads are treated as UTF-8 text verbatim.
func ParseJSON(data []byte, formatter JsonFormatter) error {
	if len(data) == 0 {
		formatter.ValueNull()
		return nil
	}
	if data[0] > 0x0f {
		formatter.ValueString(string(data))
		return nil
	}
	d := &jsonDecoder{formatter: formatter}
	return d.decodeValue(data)
}

// JSONString renders a binary JSON column value as canonical JSON text.
func JSONString(data []byte) (string, error) {
	f := newJSONStringFormatter()
	if err := ParseJSON(data, f); err != nil {
		return "", err
	}
	return f.String(), nil
}

type jsonDecoder struct {
	formatter JsonFormatter
}

func (d *jsonDecoder) decodeValue(data []byte) error {
	if len(data) < 1 {
		return parseJSONError("empty value")
	}
	return d.decodeValueType(data[0], data[1:])
}

func (d *jsonDecoder) decodeValueType(typ byte, data []byte) error {
	switch typ {
	case jsonSmallObj:
		return d.decodeComposite(data, true, true)
	case jsonLargeObj:
		return d.decodeComposite(data, false, true)
	case jsonSmallArr:
		return d.decodeComposite(data, true, false)
	case jsonLargeArr:
		return d.decodeComposite(data, false, false)
	case jsonLiteral:
		return d.decodeLiteral(data)
	case jsonInt16:
		v, err := d.decodeUInt16(data)
		d.formatter.ValueInt(int32(int16(v)))
		return err
	case jsonUInt16:
		v, err := d.decodeUInt16(data)
		d.formatter.ValueInt(int32(v))
		return err
	case jsonInt32:
		v, err := d.decodeUInt32(data)
		d.formatter.ValueInt(int32(v))
		return err
	case jsonUInt32:
		v, err := d.decodeUInt32(data)
		d.formatter.ValueLong(int64(v))
		return err
	case jsonInt64:
		v, err := d.decodeUInt64(data)
		d.formatter.ValueLong(int64(v))
		return err
	case jsonUInt64:
		v, err := d.decodeUInt64(data)
		d.formatter.ValueBigInt(v)
		return err
	case jsonDouble:
		v, err := d.decodeUInt64(data)
		d.formatter.ValueDouble(math.Float64frombits(v))
		return err
	case jsonString:
		s, err := d.decodeString(data)
		d.formatter.ValueString(s)
		return err
	case jsonCustom:
		return d.decodeCustom(data)
	}
	return parseJSONError(fmt.Sprintf("invalid value type 0x%02x", typ))
}

func (d *jsonDecoder) decodeComposite(data []byte, small bool, obj bool) error {
	var off int
	decodeUInt := func() (uint32, error) {
		if small {
			v, err := d.decodeUInt16(data[off:])
			off += 2
			return uint32(v), err
		}
		v, err := d.decodeUInt32(data[off:])
		off += 4
		return v, err
	}
	elemCount, err := decodeUInt()
	if err != nil {
		return err
	}
	if _, err := decodeUInt(); err != nil { // num_bytes, unused by this traversal
		return err
	}

	var keys []string
	if obj {
		keys = make([]string, elemCount)
		for i := uint32(0); i < elemCount; i++ {
			keyOff, err := decodeUInt()
			if err != nil {
				return err
			}
			keyLen, err := d.decodeUInt16(data[off:])
			if err != nil {
				return err
			}
			off += 2
			if len(data) < int(keyOff)+int(keyLen) {
				return parseJSONError("key offset out of range")
			}
			keys[i] = string(data[keyOff : keyOff+uint32(keyLen)])
		}
	}

	inlineValue := func(typ byte) bool {
		switch typ {
		case jsonLiteral, jsonInt16, jsonUInt16:
			return true
		case jsonInt32, jsonUInt32:
			return !small
		}
		return false
	}

	if obj {
		d.formatter.BeginObject(int(elemCount))
	} else {
		d.formatter.BeginArray(int(elemCount))
	}
	for i := uint32(0); i < elemCount; i++ {
		if i > 0 {
			d.formatter.NextEntry()
		}
		if off >= len(data) {
			return parseJSONError("truncated value entry")
		}
		typ := data[off]
		off++
		if obj {
			d.formatter.Name(keys[i])
		}
		if inlineValue(typ) {
			if err := d.decodeValueType(typ, data[off:]); err != nil {
				return err
			}
			if small {
				off += 2
			} else {
				off += 4
			}
		} else {
			valueOff, err := decodeUInt()
			if err != nil {
				return err
			}
			if int(valueOff) > len(data) {
				return parseJSONError("value offset out of range")
			}
			if err := d.decodeValueType(typ, data[valueOff:]); err != nil {
				return err
			}
		}
	}
	if obj {
		d.formatter.EndObject()
	} else {
		d.formatter.EndArray()
	}
	return nil
}

func (d *jsonDecoder) decodeLiteral(data []byte) error {
	if len(data) < 1 {
		return parseJSONError("truncated literal")
	}
	switch data[0] {
	case 0x00:
		d.formatter.ValueNull()
	case 0x01:
		d.formatter.ValueBool(true)
	case 0x02:
		d.formatter.ValueBool(false)
	default:
		return parseJSONError(fmt.Sprintf("invalid literal byte 0x%02x", data[0]))
	}
	return nil
}

func (d *jsonDecoder) decodeUInt16(data []byte) (uint16, error) {
	if len(data) < 2 {
		return 0, parseJSONError("truncated uint16")
	}
	return binary.LittleEndian.Uint16(data), nil
}

func (d *jsonDecoder) decodeUInt32(data []byte) (uint32, error) {
	if len(data) < 4 {
		return 0, parseJSONError("truncated uint32")
	}
	return binary.LittleEndian.Uint32(data), nil
}

func (d *jsonDecoder) decodeUInt64(data []byte) (uint64, error) {
	if len(data) < 8 {
		return 0, parseJSONError("truncated uint64")
	}
	return binary.LittleEndian.Uint64(data), nil
}

// decodeDataLen reads MySQL's var-int length prefix: up to 5 bytes, 7
// data bits per byte, continuation bit 0x80.
func (d *jsonDecoder) decodeDataLen(data []byte) (uint64, []byte, error) {
	const max = 5 // math.MaxUint32 fits in 5 such bytes
	var size uint64
	for i := 0; i < max; i++ {
		if len(data) == 0 {
			return 0, data, parseJSONError("truncated var-int length")
		}
		v := data[0]
		data = data[1:]
		size |= uint64(v&0x7F) << uint(7*i)
		if v&0x80 == 0 {
			return size, data, nil
		}
	}
	return 0, nil, parseJSONError("var-int length too long")
}

func (d *jsonDecoder) decodeString(data []byte) (string, error) {
	size, data, err := d.decodeDataLen(data)
	if err != nil {
		return "", err
	}
	if uint64(len(data)) < size {
		return "", parseJSONError("truncated string")
	}
	return string(data[:size]), nil
}

func (d *jsonDecoder) decodeCustom(data []byte) error {
	if len(data) == 0 {
		return parseJSONError("truncated opaque value")
	}
	typ := ColumnType(data[0])
	data = data[1:]
	size, data, err := d.decodeDataLen(data)
	if err != nil {
		return err
	}
	if uint64(len(data)) < size {
		return parseJSONError("truncated opaque payload")
	}
	data = data[:size]

	switch typ {
	case TypeNewDecimal:
		if len(data) < 2 {
			return parseJSONError("truncated decimal opaque value")
		}
		precision, scale := int(data[0]), int(data[1])
		dec, err := decodeDecimal(data[2:], precision, scale)
		if err != nil {
			return err
		}
		d.formatter.ValueDecimal(dec)
		return nil
	case TypeTime:
		if len(data) < 8 {
			return parseJSONError("truncated time opaque value")
		}
		v := int64(binary.LittleEndian.Uint64(data))
		var hour, min, sec, frac int64
		if v != 0 {
			if v < 0 {
				v = -v
			}
			frac = v % (1 << 24)
			v >>= 24
			hour = (v >> 12) % (1 << 10)
			min = (v >> 6) % (1 << 6)
			sec = v % (1 << 6)
		}
		d.formatter.ValueTime(int(hour), int(min), int(sec), int(frac))
		return nil
	case TypeDate, TypeDateTime, TypeTimestamp:
		if len(data) < 8 {
			return parseJSONError("truncated temporal opaque value")
		}
		v := binary.LittleEndian.Uint64(data)
		var year, month, day, hour, min, sec, frac uint64
		if v != 0 {
			frac = v % (1 << 24)
			v >>= 24
			ymd := v >> 17
			ym := ymd >> 5
			year, month, day = ym/13, ym%13, ymd%(1<<5)
			hms := v % (1 << 17)
			hour, min, sec = hms>>12, (hms>>6)%(1<<6), hms%(1<<6)
		}
		switch typ {
		case TypeDate:
			d.formatter.ValueDate(int(year), int(month), int(day))
		case TypeTimestamp:
			d.formatter.ValueTimestamp(timeToUnix(int(year), int(month), int(day), int(hour), int(min), int(sec)), int(frac))
		default:
			d.formatter.ValueDateTime(int(year), int(month), int(day), int(hour), int(min), int(sec), int(frac))
		}
		return nil
	default:
		d.formatter.ValueOpaque(typ, data)
		return nil
	}
}

// jsonStringFormatter is the default JsonFormatter: it renders a
// canonical JSON string, escaping control characters the way the
// MySQL JSON type's own textual form does.
type jsonStringFormatter struct {
	buf       strings.Builder
	needsName bool
}

func newJSONStringFormatter() *jsonStringFormatter { return &jsonStringFormatter{} }

func (f *jsonStringFormatter) String() string { return f.buf.String() }

func (f *jsonStringFormatter) BeginObject(int) { f.buf.WriteByte('{') }
func (f *jsonStringFormatter) BeginArray(int)  { f.buf.WriteByte('[') }
func (f *jsonStringFormatter) EndObject()      { f.buf.WriteByte('}') }
func (f *jsonStringFormatter) EndArray()       { f.buf.WriteByte(']') }
func (f *jsonStringFormatter) NextEntry()      { f.buf.WriteByte(',') }

func (f *jsonStringFormatter) Name(name string) {
	f.writeQuoted(name)
	f.buf.WriteByte(':')
}

func (f *jsonStringFormatter) ValueBool(v bool) {
	if v {
		f.buf.WriteString("true")
	} else {
		f.buf.WriteString("false")
	}
}

func (f *jsonStringFormatter) ValueNull() { f.buf.WriteString("null") }

func (f *jsonStringFormatter) ValueString(v string) { f.writeQuoted(v) }

func (f *jsonStringFormatter) ValueInt(v int32)    { fmt.Fprintf(&f.buf, "%d", v) }
func (f *jsonStringFormatter) ValueLong(v int64)   { fmt.Fprintf(&f.buf, "%d", v) }
func (f *jsonStringFormatter) ValueBigInt(v uint64) { fmt.Fprintf(&f.buf, "%d", v) }
func (f *jsonStringFormatter) ValueDouble(v float64) { fmt.Fprintf(&f.buf, "%v", v) }
func (f *jsonStringFormatter) ValueDecimal(v Decimal) { f.buf.WriteString(string(v)) }

func (f *jsonStringFormatter) ValueYear(year int) { fmt.Fprintf(&f.buf, "%d", year) }

func (f *jsonStringFormatter) ValueDate(year, month, day int) {
	fmt.Fprintf(&f.buf, "\"%04d-%02d-%02d\"", year, month, day)
}

func (f *jsonStringFormatter) ValueDateTime(year, month, day, hour, min, sec, micros int) {
	fmt.Fprintf(&f.buf, "\"%04d-%02d-%02d %02d:%02d:%02d.%06d\"", year, month, day, hour, min, sec, micros)
}

func (f *jsonStringFormatter) ValueTime(hour, min, sec, micros int) {
	fmt.Fprintf(&f.buf, "\"%02d:%02d:%02d.%06d\"", hour, min, sec, micros)
}

func (f *jsonStringFormatter) ValueTimestamp(secondsPastEpoch int64, micros int) {
	fmt.Fprintf(&f.buf, "%d.%06d", secondsPastEpoch, micros)
}

func (f *jsonStringFormatter) ValueOpaque(typ ColumnType, value []byte) {
	f.writeQuoted(string(value))
}

func (f *jsonStringFormatter) writeQuoted(s string) {
	f.buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			f.buf.WriteString(`\"`)
		case '\\':
			f.buf.WriteString(`\\`)
		case '\b':
			f.buf.WriteString(`\b`)
		case '\t':
			f.buf.WriteString(`\t`)
		case '\n':
			f.buf.WriteString(`\n`)
		case '\f':
			f.buf.WriteString(`\f`)
		case '\r':
			f.buf.WriteString(`\r`)
		default:
			if r < 0x20 {
				fmt.Fprintf(&f.buf, `\u%04x`, r)
			} else {
				f.buf.WriteRune(r)
			}
		}
	}
	f.buf.WriteByte('"')
}
