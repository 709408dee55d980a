package ldapwire

import (
	"github.com/netresearch/ldap-wire-go/internal/ber"
)

// Application tags for the protocol operations the engine encodes or
// decodes, per RFC 4511 Section 4. Fixed constants: the envelope codec
// treats these as a configuration table, never re-derived per message.
const (
	ApplicationBindRequest           byte = 0x60
	ApplicationBindResponse          byte = 0x61
	ApplicationUnbindRequest         byte = 0x42
	ApplicationSearchRequest         byte = 0x63
	ApplicationSearchResultEntry     byte = 0x64
	ApplicationSearchResultDone      byte = 0x65
	ApplicationSearchResultReference byte = 0x73
	ApplicationModifyRequest         byte = 0x66
	ApplicationModifyResponse        byte = 0x67
	ApplicationAddRequest            byte = 0x68
	ApplicationAddResponse           byte = 0x69
	ApplicationDeleteRequest         byte = 0x4A
	ApplicationDeleteResponse        byte = 0x6B
	ApplicationCompareRequest        byte = 0x6E
	ApplicationCompareResponse       byte = 0x6F
	ApplicationAbandonRequest        byte = 0x50
	ApplicationExtendedRequest       byte = 0x77
	ApplicationExtendedResponse      byte = 0x78
	ApplicationIntermediateResponse  byte = 0x79
)

// Context-specific tags inside the envelope and result shapes.
const (
	tagControls byte = 0xA0
	tagReferral byte = 0xA3
)

// Message is one LDAP protocol message envelope. Immutable once
// constructed; owned by the connection that sent or received it.
type Message struct {
	// MessageID correlates the message with its request. Unique per
	// connection while the request is outstanding; zero is reserved for
	// unsolicited notifications.
	MessageID int32
	// ProtocolOp is the operation payload, an application-tagged element.
	ProtocolOp *ber.Element
	// Controls are the message's controls in wire order, nil if absent.
	Controls []Control
}

// Encode serializes the envelope:
//
//	LDAPMessage ::= SEQUENCE {
//		messageID  MessageID,
//		protocolOp CHOICE { ... },
//		controls   [0] Controls OPTIONAL }
func (m *Message) Encode() []byte {
	children := []*ber.Element{
		ber.NewInteger(ber.TagInteger, int64(m.MessageID)),
		m.ProtocolOp,
	}
	if len(m.Controls) > 0 {
		ctls := make([]*ber.Element, 0, len(m.Controls))
		for _, c := range m.Controls {
			ctls = append(ctls, c.encode())
		}
		children = append(children, ber.NewSequence(tagControls, ctls...))
	}
	return ber.NewSequence(ber.TagSequence, children...).Encode()
}

// DecodeMessage interprets a decoded element as a message envelope.
func DecodeMessage(el *ber.Element) (*Message, error) {
	if el.Tag != ber.TagSequence {
		return nil, ErrMalformedMessage
	}
	kids := el.Elements()
	if len(kids) < 2 || len(kids) > 3 {
		return nil, ErrMalformedMessage
	}

	if kids[0].Tag != ber.TagInteger {
		return nil, ErrMalformedMessage
	}
	msgID, err := kids[0].Integer()
	if err != nil || msgID < 0 || msgID > 2147483647 {
		return nil, ErrMalformedMessage
	}

	op := kids[1]
	if op.Tag&0xC0 != ber.ClassApplication {
		return nil, ErrMalformedMessage
	}

	msg := &Message{MessageID: int32(msgID), ProtocolOp: op}
	if len(kids) == 3 {
		if kids[2].Tag != tagControls {
			return nil, ErrMalformedMessage
		}
		for _, ctl := range kids[2].Elements() {
			control, err := decodeControlElement(ctl)
			if err != nil {
				return nil, err
			}
			msg.Controls = append(msg.Controls, control)
		}
	}
	return msg, nil
}
