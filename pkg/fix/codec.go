package fix

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrFieldNotFound = errors.New("field not found")

	ErrMalformed        = errors.New("malformed message")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrIncomplete       = errors.New("incomplete message")
)

// DecodeErrorKind classifies a decode failure.
type DecodeErrorKind int

const (
	Malformed DecodeErrorKind = iota
	ChecksumMismatch
	Incomplete
)

func (k DecodeErrorKind) String() string {
	switch k {
	case Malformed:
		return "Malformed"
	case ChecksumMismatch:
		return "ChecksumMismatch"
	case Incomplete:
		return "Incomplete"
	default:
		return "Unknown"
	}
}

// DecodeError is returned by Decode. errors.Is matches it against
// ErrMalformed, ErrChecksumMismatch and ErrIncomplete.
type DecodeError struct {
	Kind   DecodeErrorKind
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return "fix decode: " + e.Kind.String()
	}
	return fmt.Sprintf("fix decode: %s: %s", e.Kind, e.Detail)
}

func (e *DecodeError) Is(target error) bool {
	switch target {
	case ErrMalformed:
		return e.Kind == Malformed
	case ErrChecksumMismatch:
		return e.Kind == ChecksumMismatch
	case ErrIncomplete:
		return e.Kind == Incomplete
	}
	return false
}

func malformed(format string, args ...any) error {
	return &DecodeError{Kind: Malformed, Detail: fmt.Sprintf(format, args...)}
}

var errIncomplete = &DecodeError{Kind: Incomplete}

// Checksum is the byte sum of b modulo 256.
func Checksum(b []byte) int {
	sum := 0
	for _, c := range b {
		sum += int(c)
	}
	return sum % 256
}

func appendField(buf []byte, t Tag, v string) []byte {
	buf = strconv.AppendInt(buf, int64(t), 10)
	buf = append(buf, '=')
	buf = append(buf, v...)
	return append(buf, SOH)
}

// Encode serialises m. MsgType is written first, then the remaining header
// fields, then the body in insertion order.
func Encode(m *Message) ([]byte, error) {
	begin, ok := m.Get(TagBeginString)
	if !ok || begin == "" {
		return nil, fmt.Errorf("encode: %w: BeginString", ErrFieldNotFound)
	}
	msgType := m.MsgType()
	if msgType == "" {
		return nil, fmt.Errorf("encode: %w: MsgType", ErrFieldNotFound)
	}

	body := make([]byte, 0, 256)
	body = appendField(body, TagMsgType, msgType)
	for _, f := range m.Fields {
		if f.Tag != TagMsgType && isHeaderTag(f.Tag) {
			body = appendField(body, f.Tag, f.Value)
		}
	}
	for _, f := range m.Fields {
		switch {
		case f.Tag == TagBeginString, f.Tag == TagBodyLength, f.Tag == TagCheckSum:
		case isHeaderTag(f.Tag):
		default:
			body = appendField(body, f.Tag, f.Value)
		}
	}

	out := make([]byte, 0, len(body)+32)
	out = appendField(out, TagBeginString, begin)
	out = appendField(out, TagBodyLength, strconv.Itoa(len(body)))
	out = append(out, body...)
	out = appendField(out, TagCheckSum, fmt.Sprintf("%03d", Checksum(out)))
	return out, nil
}

// readField parses "tag=value<SOH>" at buf[pos:]. It returns ErrIncomplete when
// the SOH has not arrived yet.
func readField(buf []byte, pos int) (Field, int, error) {
	eq := bytes.IndexByte(buf[pos:], '=')
	soh := bytes.IndexByte(buf[pos:], SOH)
	if soh >= 0 && (eq < 0 || soh < eq) {
		return Field{}, 0, malformed("field without '=' at offset %d", pos)
	}
	if eq < 0 || soh < 0 {
		return Field{}, 0, errIncomplete
	}
	tagBytes := buf[pos : pos+eq]
	n, err := strconv.Atoi(string(tagBytes))
	if err != nil || n <= 0 {
		return Field{}, 0, malformed("invalid tag %q at offset %d", tagBytes, pos)
	}
	value := buf[pos+eq+1 : pos+soh]
	return Field{Tag: Tag(n), Value: string(value)}, pos + soh + 1, nil
}

// MaxMessageSize bounds the BodyLength accepted by Decode.
const MaxMessageSize = 1 << 20

var beginMarker = []byte("\x018=FIX")

// Decode parses one message from the start of buf and returns the number of
// bytes consumed. The buffer must start with "8=".
func Decode(buf []byte) (*Message, int, error) {
	if len(buf) < 2 {
		return nil, 0, errIncomplete
	}
	if !bytes.HasPrefix(buf, []byte("8=")) {
		return nil, 0, malformed("message does not start with BeginString")
	}

	begin, pos, err := readField(buf, 0)
	if err != nil {
		return nil, 0, err
	}
	if begin.Value == "" {
		return nil, 0, malformed("empty BeginString")
	}
	length, pos, err := readField(buf, pos)
	if err != nil {
		return nil, 0, err
	}
	if length.Tag != TagBodyLength {
		return nil, 0, malformed("second field is tag %d, want BodyLength", length.Tag)
	}
	bodyLen, err := strconv.Atoi(length.Value)
	if err != nil || bodyLen < 0 {
		return nil, 0, malformed("invalid BodyLength %q", length.Value)
	}
	if bodyLen > MaxMessageSize {
		return nil, 0, malformed("BodyLength %d exceeds %d", bodyLen, MaxMessageSize)
	}

	// trailer is "10=NNN<SOH>"
	const trailerLen = 7
	if bodyLen > len(buf)-pos-trailerLen {
		// a new BeginString inside the announced body means BodyLength lied
		if i := bytes.Index(buf[pos:], beginMarker); i >= 0 {
			return nil, 0, malformed("BodyLength %d overruns the next message at offset %d", bodyLen, pos+i+1)
		}
		return nil, 0, errIncomplete
	}
	bodyEnd := pos + bodyLen
	if bodyLen > 0 && buf[bodyEnd-1] != SOH {
		return nil, 0, malformed("BodyLength %d does not end on a field boundary", bodyLen)
	}
	trailer, end, err := readField(buf, bodyEnd)
	if err != nil {
		return nil, 0, err
	}
	if trailer.Tag != TagCheckSum || len(trailer.Value) != 3 {
		return nil, 0, malformed("expected CheckSum after body, got tag %d", trailer.Tag)
	}
	want, err := strconv.Atoi(trailer.Value)
	if err != nil {
		return nil, 0, malformed("invalid CheckSum %q", trailer.Value)
	}
	if got := Checksum(buf[:bodyEnd]); got != want {
		return nil, 0, &DecodeError{Kind: ChecksumMismatch, Detail: fmt.Sprintf("computed %03d, received %03d", got, want)}
	}

	m := &Message{Fields: make([]Field, 0, 16)}
	m.Fields = append(m.Fields, begin)
	for pos < bodyEnd {
		var f Field
		f, pos, err = readField(buf[:bodyEnd], pos)
		if err != nil {
			// the checksum matched, so a short field here is a framing error
			return nil, 0, malformed("invalid body field: %v", err)
		}
		m.Fields = append(m.Fields, f)
	}
	if len(m.Fields) < 2 || m.Fields[1].Tag != TagMsgType {
		return nil, 0, malformed("MsgType must be the first body field")
	}
	return m, end, nil
}
