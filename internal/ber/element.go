package ber

import (
	"encoding/binary"
)

// Tag class constants (bits 7-8 of the tag byte).
const (
	ClassUniversal       byte = 0x00
	ClassApplication     byte = 0x40
	ClassContextSpecific byte = 0x80
	ClassPrivate         byte = 0xC0
)

// TypeConstructed is the constructed flag (bit 6 of the tag byte).
const TypeConstructed byte = 0x20

// Universal tags for the types LDAP uses. Constructed types carry the
// constructed bit in the constant so the full tag byte can be compared
// directly.
const (
	TagBoolean     byte = 0x01
	TagInteger     byte = 0x02
	TagOctetString byte = 0x04
	TagNull        byte = 0x05
	TagEnumerated  byte = 0x0A
	TagSequence    byte = 0x30
	TagSet         byte = 0x31
)

// Length encoding constants.
const (
	lengthLongFormBit  = 0x80
	maxShortFormLength = 127
	// maxLengthOctets bounds the long-form length-of-length. Four bytes
	// covers any message the engine will see; wider lengths are rejected
	// rather than risking an int overflow on a hostile header.
	maxLengthOctets = 4
)

// Element is one BER TLV unit: a full tag byte plus either primitive
// content (Value) or ordered sub-elements (Children) when the tag's
// constructed bit is set.
type Element struct {
	Tag      byte
	Value    []byte
	Children []*Element
}

// IsConstructed reports whether the element's tag has the constructed bit.
func (e *Element) IsConstructed() bool {
	return e.Tag&TypeConstructed != 0
}

// NewBoolean builds a primitive boolean element with the given tag.
func NewBoolean(tag byte, v bool) *Element {
	value := []byte{0x00}
	if v {
		value[0] = 0xFF
	}
	return &Element{Tag: tag, Value: value}
}

// NewInteger builds a primitive integer element with the given tag, using
// the minimal two's-complement big-endian content encoding.
func NewInteger(tag byte, v int64) *Element {
	return &Element{Tag: tag, Value: encodeIntegerValue(v)}
}

// NewEnumerated builds an ENUMERATED element; the content encoding is the
// same as an integer's.
func NewEnumerated(tag byte, v int64) *Element {
	return NewInteger(tag, v)
}

// NewOctetString builds a primitive octet string element with the given tag.
// A nil value is normalized to empty so round-trips compare equal.
func NewOctetString(tag byte, v []byte) *Element {
	if v == nil {
		v = []byte{}
	}
	return &Element{Tag: tag, Value: v}
}

// NewNull builds a zero-length primitive element with the given tag.
func NewNull(tag byte) *Element {
	return &Element{Tag: tag, Value: []byte{}}
}

// NewSequence builds a constructed element from the given children. The
// constructed bit is forced on so a caller passing a bare context tag still
// gets a well-formed constructed element.
func NewSequence(tag byte, children ...*Element) *Element {
	kids := make([]*Element, 0, len(children))
	kids = append(kids, children...)
	return &Element{Tag: tag | TypeConstructed, Children: kids}
}

// NewSet builds a universal SET element from the given children. LDAP uses
// sets for attribute value lists; element order is preserved as given.
func NewSet(children ...*Element) *Element {
	return NewSequence(TagSet, children...)
}

// Boolean interprets the element's content as a boolean. Any non-zero
// content byte is true, per BER.
func (e *Element) Boolean() (bool, error) {
	if e.IsConstructed() || len(e.Value) != 1 {
		return false, newDecodeError(0, "boolean content must be one byte", ErrInvalidBoolean)
	}
	return e.Value[0] != 0x00, nil
}

// Integer interprets the element's content as a two's-complement integer of
// at most 64 bits.
func (e *Element) Integer() (int64, error) {
	if e.IsConstructed() || len(e.Value) == 0 || len(e.Value) > 8 {
		return 0, newDecodeError(0, "integer content must be 1-8 bytes", ErrInvalidInteger)
	}
	v := int64(0)
	if e.Value[0]&0x80 != 0 {
		v = -1
	}
	for _, b := range e.Value {
		v = v<<8 | int64(b)
	}
	return v, nil
}

// OctetString returns the element's raw content bytes.
func (e *Element) OctetString() []byte {
	return e.Value
}

// Elements returns the element's ordered sub-elements. Only meaningful for
// constructed elements; primitives have none.
func (e *Element) Elements() []*Element {
	return e.Children
}

// EncodedLen returns the total encoded size of the element including its
// tag and length header.
func (e *Element) EncodedLen() int {
	n := e.contentLen()
	return 1 + lengthHeaderLen(n) + n
}

func (e *Element) contentLen() int {
	if e.IsConstructed() {
		n := 0
		for _, child := range e.Children {
			n += child.EncodedLen()
		}
		return n
	}
	return len(e.Value)
}

// Encode serializes the element. The output is deterministic: the same
// logical element always produces the same bytes.
func (e *Element) Encode() []byte {
	buf := make([]byte, 0, e.EncodedLen())
	return e.appendTo(buf)
}

func (e *Element) appendTo(buf []byte) []byte {
	buf = append(buf, e.Tag)
	buf = appendLength(buf, e.contentLen())
	if e.IsConstructed() {
		for _, child := range e.Children {
			buf = child.appendTo(buf)
		}
		return buf
	}
	return append(buf, e.Value...)
}

func lengthHeaderLen(n int) int {
	if n <= maxShortFormLength {
		return 1
	}
	octets := 0
	for v := n; v > 0; v >>= 8 {
		octets++
	}
	return 1 + octets
}

func appendLength(buf []byte, n int) []byte {
	if n <= maxShortFormLength {
		return append(buf, byte(n))
	}
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(n))
	first := 0
	for first < 7 && tmp[first] == 0 {
		first++
	}
	octets := 8 - first
	buf = append(buf, byte(lengthLongFormBit|octets))
	return append(buf, tmp[first:]...)
}

func encodeIntegerValue(v int64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(v))
	first := 0
	if v >= 0 {
		// Trim leading 0x00 bytes but keep one if the next byte would
		// flip the sign bit.
		for first < 7 && tmp[first] == 0x00 && tmp[first+1]&0x80 == 0 {
			first++
		}
	} else {
		for first < 7 && tmp[first] == 0xFF && tmp[first+1]&0x80 != 0 {
			first++
		}
	}
	out := make([]byte, 8-first)
	copy(out, tmp[first:])
	return out
}

// Decode parses exactly one element from data, failing with
// ErrTrailingData if bytes remain after it. Constructed elements are
// recursively parsed and their declared lengths validated against the
// consumed sub-element bytes.
func Decode(data []byte) (*Element, error) {
	el, consumed, err := decodeAt(data, 0)
	if err != nil {
		return nil, err
	}
	if consumed != len(data) {
		return nil, newDecodeError(consumed, "bytes remain after element", ErrTrailingData)
	}
	return el, nil
}

func decodeAt(data []byte, offset int) (*Element, int, error) {
	if offset >= len(data) {
		return nil, 0, newDecodeError(offset, "cannot read tag", ErrUnexpectedEOF)
	}
	tag := data[offset]
	pos := offset + 1

	length, pos, err := decodeLength(data, pos)
	if err != nil {
		return nil, 0, err
	}
	end := pos + length
	if end > len(data) {
		return nil, 0, newDecodeError(pos, "content extends past end of data", ErrUnexpectedEOF)
	}

	el := &Element{Tag: tag}
	if tag&TypeConstructed != 0 {
		children, err := decodeChildren(data[pos:end])
		if err != nil {
			return nil, 0, err
		}
		el.Children = children
	} else {
		el.Value = make([]byte, length)
		copy(el.Value, data[pos:end])
	}
	return el, end - offset, nil
}

func decodeLength(data []byte, offset int) (length, next int, err error) {
	if offset >= len(data) {
		return 0, 0, newDecodeError(offset, "cannot read length", ErrUnexpectedEOF)
	}
	first := data[offset]
	offset++
	if first&lengthLongFormBit == 0 {
		return int(first), offset, nil
	}
	octets := int(first & 0x7F)
	if octets == 0 {
		return 0, 0, newDecodeError(offset-1, "indefinite length not supported", ErrInvalidLength)
	}
	if octets > maxLengthOctets {
		return 0, 0, newDecodeError(offset-1, "length-of-length exceeds supported width", ErrInvalidLength)
	}
	if offset+octets > len(data) {
		return 0, 0, newDecodeError(offset, "truncated long-form length", ErrUnexpectedEOF)
	}
	length = 0
	for i := 0; i < octets; i++ {
		length = length<<8 | int(data[offset+i])
	}
	return length, offset + octets, nil
}
