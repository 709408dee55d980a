package ber

import (
	"errors"
	"io"
)

// ReadElement reads exactly one element from r without requiring the total
// message size in advance: it reads the tag byte, then the length header,
// then exactly length content bytes, recursing into constructed content.
//
// A clean end of stream before the first tag byte returns io.EOF. A stream
// that ends anywhere inside an element returns an error matching
// ErrMalformedElement.
func ReadElement(r io.Reader) (*Element, error) {
	var one [1]byte
	if _, err := io.ReadFull(r, one[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, newDecodeError(0, "cannot read tag", ErrUnexpectedEOF)
	}
	tag := one[0]

	length, err := readLength(r)
	if err != nil {
		return nil, err
	}

	content := make([]byte, length)
	if _, err := io.ReadFull(r, content); err != nil {
		return nil, newDecodeError(0, "stream ended mid-element", ErrUnexpectedEOF)
	}

	el := &Element{Tag: tag}
	if el.IsConstructed() {
		el.Children, err = decodeChildren(content)
		if err != nil {
			return nil, err
		}
	} else {
		el.Value = content
	}
	return el, nil
}

func readLength(r io.Reader) (int, error) {
	var one [1]byte
	if _, err := io.ReadFull(r, one[:]); err != nil {
		return 0, newDecodeError(0, "cannot read length", ErrUnexpectedEOF)
	}
	first := one[0]
	if first&lengthLongFormBit == 0 {
		return int(first), nil
	}
	octets := int(first & 0x7F)
	if octets == 0 {
		return 0, newDecodeError(0, "indefinite length not supported", ErrInvalidLength)
	}
	if octets > maxLengthOctets {
		return 0, newDecodeError(0, "length-of-length exceeds supported width", ErrInvalidLength)
	}
	buf := make([]byte, octets)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, newDecodeError(0, "truncated long-form length", ErrUnexpectedEOF)
	}
	length := 0
	for _, b := range buf {
		length = length<<8 | int(b)
	}
	return length, nil
}

func decodeChildren(content []byte) ([]*Element, error) {
	children := []*Element{}
	pos := 0
	for pos < len(content) {
		child, consumed, err := decodeAt(content, pos)
		if err != nil {
			if errors.Is(err, ErrUnexpectedEOF) {
				return nil, newDecodeError(pos, "sub-element disagrees with declared length", ErrLengthMismatch)
			}
			return nil, err
		}
		children = append(children, child)
		pos += consumed
	}
	return children, nil
}
