package fix

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// SOH is the FIX field delimiter.
const SOH = '\x01'

// Field is a single tag=value pair.
type Field struct {
	Tag   Tag
	Value string
}

// Message is an ordered list of fields. Order is significant: repeating groups
// are represented by consecutive fields after their NoXxx counter.
//
// BeginString (8) is stored like any other field. BodyLength (9) and CheckSum
// (10) are computed by Encode and stripped by Decode.
type Message struct {
	Fields []Field
}

func NewMessage(msgType string) *Message {
	m := &Message{}
	m.Set(TagMsgType, msgType)
	return m
}

// MsgType returns tag 35, or "" when absent.
func (m *Message) MsgType() string {
	v, _ := m.Get(TagMsgType)
	return v
}

// Get returns the value of the first occurrence of t.
func (m *Message) Get(t Tag) (string, bool) {
	for _, f := range m.Fields {
		if f.Tag == t {
			return f.Value, true
		}
	}
	return "", false
}

func (m *Message) Has(t Tag) bool {
	_, ok := m.Get(t)
	return ok
}

// GetString is Get without the presence flag.
func (m *Message) GetString(t Tag) string {
	v, _ := m.Get(t)
	return v
}

func (m *Message) GetInt(t Tag) (int, error) {
	v, ok := m.Get(t)
	if !ok {
		return 0, fmt.Errorf("tag %d: %w", t, ErrFieldNotFound)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("tag %d: invalid int %q", t, v)
	}
	return n, nil
}

func (m *Message) GetUint(t Tag) (uint64, error) {
	v, ok := m.Get(t)
	if !ok {
		return 0, fmt.Errorf("tag %d: %w", t, ErrFieldNotFound)
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("tag %d: invalid seqnum %q", t, v)
	}
	return n, nil
}

func (m *Message) GetDecimal(t Tag) (decimal.Decimal, error) {
	v, ok := m.Get(t)
	if !ok {
		return decimal.Zero, fmt.Errorf("tag %d: %w", t, ErrFieldNotFound)
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("tag %d: invalid decimal %q", t, v)
	}
	return d, nil
}

// GetBool treats "Y" as true; absence is false.
func (m *Message) GetBool(t Tag) bool {
	v, _ := m.Get(t)
	return v == "Y"
}

// Set replaces the first occurrence of t, or appends it.
func (m *Message) Set(t Tag, v string) *Message {
	for i := range m.Fields {
		if m.Fields[i].Tag == t {
			m.Fields[i].Value = v
			return m
		}
	}
	m.Fields = append(m.Fields, Field{Tag: t, Value: v})
	return m
}

// Add appends t even if it is already present (repeating groups).
func (m *Message) Add(t Tag, v string) *Message {
	m.Fields = append(m.Fields, Field{Tag: t, Value: v})
	return m
}

func (m *Message) SetInt(t Tag, v int) *Message { return m.Set(t, strconv.Itoa(v)) }

func (m *Message) SetUint(t Tag, v uint64) *Message {
	return m.Set(t, strconv.FormatUint(v, 10))
}

// SetDecimal keeps the scale d was built with, so "10000.00" stays "10000.00".
func (m *Message) SetDecimal(t Tag, d decimal.Decimal) *Message {
	return m.Set(t, FormatDecimal(d))
}

// FormatDecimal renders d without dropping trailing zeros of its scale.
func FormatDecimal(d decimal.Decimal) string {
	if exp := d.Exponent(); exp < 0 {
		return d.StringFixed(-exp)
	}
	return d.String()
}

func (m *Message) SetBool(t Tag, b bool) *Message {
	if b {
		return m.Set(t, "Y")
	}
	return m.Set(t, "N")
}

// Remove deletes every occurrence of t.
func (m *Message) Remove(t Tag) {
	out := m.Fields[:0]
	for _, f := range m.Fields {
		if f.Tag != t {
			out = append(out, f)
		}
	}
	m.Fields = out
}

// Clone returns a deep copy.
func (m *Message) Clone() *Message {
	cp := &Message{Fields: make([]Field, len(m.Fields))}
	copy(cp.Fields, m.Fields)
	return cp
}

// String renders the message with '|' in place of SOH, for logs.
func (m *Message) String() string {
	var b strings.Builder
	for _, f := range m.Fields {
		b.WriteString(strconv.Itoa(int(f.Tag)))
		b.WriteByte('=')
		b.WriteString(f.Value)
		b.WriteByte('|')
	}
	return b.String()
}

// Group returns the entries of the repeating group started by counter. Each
// entry starts at delim; the group ends at the first tag outside members.
func (m *Message) Group(counter, delim Tag, members ...Tag) [][]Field {
	isMember := func(t Tag) bool {
		if t == delim {
			return true
		}
		for _, mt := range members {
			if mt == t {
				return true
			}
		}
		return false
	}

	var groups [][]Field
	in := false
	for _, f := range m.Fields {
		switch {
		case f.Tag == counter:
			in = true
		case !in:
		case f.Tag == delim:
			groups = append(groups, []Field{f})
		case len(groups) > 0 && isMember(f.Tag):
			groups[len(groups)-1] = append(groups[len(groups)-1], f)
		default:
			return groups
		}
	}
	return groups
}
