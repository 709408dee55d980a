// Package ber implements ASN.1 BER (Basic Encoding Rules) encoding and
// decoding as specified in ITU-T X.690, restricted to the subset LDAP uses
// on the wire: definite-length elements over booleans, integers, octet
// strings and sequences.
//
// The package models BER data as a tree of Elements. Each Element carries
// its full tag byte, so application- and context-specific tags can alias
// the universal primitive encodings (an implicitly tagged 0x80 octet string
// is just an Element with Tag 0x80 and a Value).
//
// # Encoding
//
// Build a tree with the constructors and call Encode:
//
//	el := ber.NewSequence(ber.TagSequence,
//		ber.NewInteger(ber.TagInteger, 42),
//		ber.NewOctetString(ber.TagOctetString, []byte("hello")))
//	data := el.Encode()
//
// Encoding is deterministic: the same logical element always produces the
// same bytes.
//
// # Decoding
//
// Decode parses a complete buffer; ReadElement reads exactly one element
// from a stream without needing to know the total message size in advance:
//
//	el, err := ber.ReadElement(reader)
//	if errors.Is(err, io.EOF) {
//		// clean end of stream, no partial element consumed
//	}
//
// All structural decode failures (truncation, invalid length encodings,
// sequence length mismatches) match ErrMalformedElement via errors.Is.
package ber
