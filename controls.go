package ldapwire

import (
	"fmt"
	"sync"

	"github.com/netresearch/ldap-wire-go/internal/ber"
)

// Control OIDs for the typed controls the engine ships decoders for.
const (
	// ControlTypePagedResults is the simple paged results control,
	// RFC 2696.
	ControlTypePagedResults = "1.2.840.113556.1.4.319"
	// ControlTypePostReadResponse is the post-read response control,
	// RFC 4527.
	ControlTypePostReadResponse = "1.3.6.1.1.13.2"
	// ControlTypeMatchingEntryCountRequest tunes server-side candidate
	// examination for matching entry count estimation.
	ControlTypeMatchingEntryCountRequest = "1.3.6.1.4.1.30221.2.5.36"
)

// Control is one request or response control as it appears on the wire.
// A value type with no shared mutable state: identifier, criticality and
// the raw, undecoded value.
type Control struct {
	// OID is the control's dotted-numeric identifier.
	OID string
	// Criticality marks the control as critical per RFC 4511 4.1.11.
	Criticality bool
	// Value is the control's raw value bytes, nil when absent.
	Value []byte
}

// TypedControl is implemented by decoded response controls. The opaque
// Control itself implements it, so unrecognized controls pass through the
// registry unchanged.
type TypedControl interface {
	// ControlOID returns the control's identifier.
	ControlOID() string
	// ControlCriticality returns the control's criticality flag.
	ControlCriticality() bool
}

// ControlOID implements TypedControl.
func (c Control) ControlOID() string { return c.OID }

// ControlCriticality implements TypedControl.
func (c Control) ControlCriticality() bool { return c.Criticality }

func (c Control) encode() *ber.Element {
	children := []*ber.Element{
		ber.NewOctetString(ber.TagOctetString, []byte(c.OID)),
	}
	// criticality has DEFAULT FALSE and is omitted when false
	if c.Criticality {
		children = append(children, ber.NewBoolean(ber.TagBoolean, true))
	}
	if c.Value != nil {
		children = append(children, ber.NewOctetString(ber.TagOctetString, c.Value))
	}
	return ber.NewSequence(ber.TagSequence, children...)
}

func decodeControlElement(el *ber.Element) (Control, error) {
	kids := el.Elements()
	if len(kids) < 1 || len(kids) > 3 {
		return Control{}, ErrMalformedMessage
	}
	control := Control{OID: string(kids[0].OctetString())}
	for _, extra := range kids[1:] {
		switch extra.Tag {
		case ber.TagBoolean:
			crit, err := extra.Boolean()
			if err != nil {
				return Control{}, ErrMalformedMessage
			}
			control.Criticality = crit
		case ber.TagOctetString:
			control.Value = extra.OctetString()
		default:
			return Control{}, ErrMalformedMessage
		}
	}
	return control, nil
}

// ControlDecoder turns a raw control value into a typed control. Decoders
// must be pure: no shared state, same bytes always produce the same result.
type ControlDecoder func(criticality bool, value []byte) (TypedControl, error)

// The decoder registry is process-wide and append-only: registration is
// expected at startup, decode calls may run concurrently afterwards.
var (
	controlDecodersMu sync.RWMutex
	controlDecoders   = map[string]ControlDecoder{}
)

// RegisterControlDecoder registers a typed decoder for the given control
// OID. Later registrations for the same OID replace earlier ones.
func RegisterControlDecoder(oid string, decoder ControlDecoder) {
	controlDecodersMu.Lock()
	defer controlDecodersMu.Unlock()
	controlDecoders[oid] = decoder
}

func lookupControlDecoder(oid string) (ControlDecoder, bool) {
	controlDecodersMu.RLock()
	defer controlDecodersMu.RUnlock()
	d, ok := controlDecoders[oid]
	return d, ok
}

// DecodeControl decodes one control through the registry. A control with
// no registered decoder passes through as the opaque Control, preserving
// identifier, criticality and raw bytes unchanged; that is never an error.
func DecodeControl(oid string, criticality bool, value []byte) (TypedControl, error) {
	if decoder, ok := lookupControlDecoder(oid); ok {
		typed, err := decoder(criticality, value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrControlDecoding, oid, err)
		}
		return typed, nil
	}
	return Control{OID: oid, Criticality: criticality, Value: value}, nil
}

// DecodeResponseControls decodes all controls of a response through the
// registry. A control whose registered decoder fails stays in the output
// as its opaque form rather than failing the response; a caller that needs
// a specific control decoded, errors included, uses the typed accessor for
// that control instead.
func DecodeResponseControls(controls []Control) []TypedControl {
	out := make([]TypedControl, 0, len(controls))
	for _, c := range controls {
		typed, err := DecodeControl(c.OID, c.Criticality, c.Value)
		if err != nil {
			out = append(out, c)
			continue
		}
		out = append(out, typed)
	}
	return out
}

// findControl returns the raw control with the given OID, if present.
func findControl(controls []Control, oid string) (Control, bool) {
	for _, c := range controls {
		if c.OID == oid {
			return c, true
		}
	}
	return Control{}, false
}

// PagedResultsControl is the RFC 2696 simple paged results control. On a
// request, Size is the page size and Cookie the continuation cookie from
// the previous page (empty on the first). On a response, Cookie empty
// means no further pages.
type PagedResultsControl struct {
	Criticality bool
	Size        int32
	Cookie      []byte
}

// ControlOID implements TypedControl.
func (c *PagedResultsControl) ControlOID() string { return ControlTypePagedResults }

// ControlCriticality implements TypedControl.
func (c *PagedResultsControl) ControlCriticality() bool { return c.Criticality }

// Control encodes the paged results control into its wire form.
func (c *PagedResultsControl) Control() Control {
	value := ber.NewSequence(ber.TagSequence,
		ber.NewInteger(ber.TagInteger, int64(c.Size)),
		ber.NewOctetString(ber.TagOctetString, c.Cookie),
	)
	return Control{
		OID:         ControlTypePagedResults,
		Criticality: c.Criticality,
		Value:       value.Encode(),
	}
}

func decodePagedResultsControl(criticality bool, value []byte) (TypedControl, error) {
	el, err := ber.Decode(value)
	if err != nil {
		return nil, err
	}
	kids := el.Elements()
	if el.Tag != ber.TagSequence || len(kids) != 2 {
		return nil, fmt.Errorf("paged results value must be a two-element sequence")
	}
	size, err := kids[0].Integer()
	if err != nil {
		return nil, err
	}
	cookie := make([]byte, len(kids[1].OctetString()))
	copy(cookie, kids[1].OctetString())
	return &PagedResultsControl{Criticality: criticality, Size: int32(size), Cookie: cookie}, nil
}

// FindPagedResultsControl locates and decodes the paged results control in
// a response. Unlike the generic registry path, a malformed value here is
// surfaced to the caller, since the caller explicitly asked for this
// control.
func FindPagedResultsControl(controls []Control) (*PagedResultsControl, error) {
	raw, ok := findControl(controls, ControlTypePagedResults)
	if !ok {
		return nil, nil
	}
	typed, err := DecodeControl(raw.OID, raw.Criticality, raw.Value)
	if err != nil {
		return nil, err
	}
	return typed.(*PagedResultsControl), nil
}

// PostReadResponseControl is the RFC 4527 post-read response control: the
// entry as it appeared immediately after the operation.
type PostReadResponseControl struct {
	Criticality bool
	Entry       Entry
}

// ControlOID implements TypedControl.
func (c *PostReadResponseControl) ControlOID() string { return ControlTypePostReadResponse }

// ControlCriticality implements TypedControl.
func (c *PostReadResponseControl) ControlCriticality() bool { return c.Criticality }

func decodePostReadResponseControl(criticality bool, value []byte) (TypedControl, error) {
	el, err := ber.Decode(value)
	if err != nil {
		return nil, err
	}
	entry, err := decodeEntryShape(el)
	if err != nil {
		return nil, err
	}
	return &PostReadResponseControl{Criticality: criticality, Entry: *entry}, nil
}

// FindPostReadResponseControl locates and decodes the post-read response
// control, surfacing decode failures to the caller.
func FindPostReadResponseControl(controls []Control) (*PostReadResponseControl, error) {
	raw, ok := findControl(controls, ControlTypePostReadResponse)
	if !ok {
		return nil, nil
	}
	typed, err := DecodeControl(raw.OID, raw.Criticality, raw.Value)
	if err != nil {
		return nil, err
	}
	return typed.(*PostReadResponseControl), nil
}

// Context tags inside the matching entry count request value sequence.
const (
	typeMaxCandidatesToExamine       byte = 0x80
	typeAlwaysExamineCandidates      byte = 0x81
	typeProcessSearchIfUnindexed     byte = 0x82
	typeSkipResolvingExplodedIndexes byte = 0x83
	typeFastShortCircuitThreshold    byte = 0x84
	typeSlowShortCircuitThreshold    byte = 0x85
)

// MatchingEntryCountRequestControl asks the server to return entry count
// information for a search, with optional tuning of how hard the server
// should work for an accurate count. All fields are optional on the wire;
// the threshold pointers are nil when absent.
type MatchingEntryCountRequestControl struct {
	Criticality                  bool
	MaxCandidatesToExamine       int32
	AlwaysExamineCandidates      bool
	ProcessSearchIfUnindexed     bool
	SkipResolvingExplodedIndexes bool
	FastShortCircuitThreshold    *int64
	SlowShortCircuitThreshold    *int64
}

// ControlOID implements TypedControl.
func (c *MatchingEntryCountRequestControl) ControlOID() string {
	return ControlTypeMatchingEntryCountRequest
}

// ControlCriticality implements TypedControl.
func (c *MatchingEntryCountRequestControl) ControlCriticality() bool { return c.Criticality }

// Control encodes the matching entry count request into its wire form.
// Only non-default fields are emitted.
func (c *MatchingEntryCountRequestControl) Control() Control {
	var children []*ber.Element
	if c.MaxCandidatesToExamine > 0 {
		children = append(children, ber.NewInteger(typeMaxCandidatesToExamine, int64(c.MaxCandidatesToExamine)))
	}
	if c.AlwaysExamineCandidates {
		children = append(children, ber.NewBoolean(typeAlwaysExamineCandidates, true))
	}
	if c.ProcessSearchIfUnindexed {
		children = append(children, ber.NewBoolean(typeProcessSearchIfUnindexed, true))
	}
	if c.SkipResolvingExplodedIndexes {
		children = append(children, ber.NewBoolean(typeSkipResolvingExplodedIndexes, true))
	}
	if c.FastShortCircuitThreshold != nil {
		children = append(children, ber.NewInteger(typeFastShortCircuitThreshold, *c.FastShortCircuitThreshold))
	}
	if c.SlowShortCircuitThreshold != nil {
		children = append(children, ber.NewInteger(typeSlowShortCircuitThreshold, *c.SlowShortCircuitThreshold))
	}
	value := ber.NewSequence(ber.TagSequence, children...)
	return Control{
		OID:         ControlTypeMatchingEntryCountRequest,
		Criticality: c.Criticality,
		Value:       value.Encode(),
	}
}

func decodeMatchingEntryCountRequestControl(criticality bool, value []byte) (TypedControl, error) {
	el, err := ber.Decode(value)
	if err != nil {
		return nil, err
	}
	if el.Tag != ber.TagSequence {
		return nil, fmt.Errorf("matching entry count value must be a sequence")
	}
	ctl := &MatchingEntryCountRequestControl{Criticality: criticality}
	for _, field := range el.Elements() {
		switch field.Tag {
		case typeMaxCandidatesToExamine:
			v, err := field.Integer()
			if err != nil {
				return nil, err
			}
			if v < 0 {
				return nil, fmt.Errorf("max candidates to examine must be non-negative, got %d", v)
			}
			ctl.MaxCandidatesToExamine = int32(v)
		case typeAlwaysExamineCandidates:
			if ctl.AlwaysExamineCandidates, err = field.Boolean(); err != nil {
				return nil, err
			}
		case typeProcessSearchIfUnindexed:
			if ctl.ProcessSearchIfUnindexed, err = field.Boolean(); err != nil {
				return nil, err
			}
		case typeSkipResolvingExplodedIndexes:
			if ctl.SkipResolvingExplodedIndexes, err = field.Boolean(); err != nil {
				return nil, err
			}
		case typeFastShortCircuitThreshold:
			v, err := field.Integer()
			if err != nil {
				return nil, err
			}
			ctl.FastShortCircuitThreshold = &v
		case typeSlowShortCircuitThreshold:
			v, err := field.Integer()
			if err != nil {
				return nil, err
			}
			ctl.SlowShortCircuitThreshold = &v
		default:
			return nil, fmt.Errorf("unrecognized element %#x in matching entry count value", field.Tag)
		}
	}
	return ctl, nil
}

// FindMatchingEntryCountRequestControl locates and decodes the matching
// entry count request control, surfacing decode failures to the caller.
func FindMatchingEntryCountRequestControl(controls []Control) (*MatchingEntryCountRequestControl, error) {
	raw, ok := findControl(controls, ControlTypeMatchingEntryCountRequest)
	if !ok {
		return nil, nil
	}
	typed, err := DecodeControl(raw.OID, raw.Criticality, raw.Value)
	if err != nil {
		return nil, err
	}
	return typed.(*MatchingEntryCountRequestControl), nil
}

func init() {
	RegisterControlDecoder(ControlTypePagedResults, decodePagedResultsControl)
	RegisterControlDecoder(ControlTypePostReadResponse, decodePostReadResponseControl)
	RegisterControlDecoder(ControlTypeMatchingEntryCountRequest, decodeMatchingEntryCountRequestControl)
}
