package ldapwire

import (
	"github.com/netresearch/ldap-wire-go/internal/ber"
)

// Scope controls how much of the tree below the base DN a search covers,
// per RFC 4511 Section 4.5.1.2.
type Scope int

const (
	ScopeBaseObject   Scope = 0
	ScopeSingleLevel  Scope = 1
	ScopeWholeSubtree Scope = 2
)

// DerefPolicy controls alias dereferencing during a search.
type DerefPolicy int

const (
	NeverDerefAliases   DerefPolicy = 0
	DerefInSearching    DerefPolicy = 1
	DerefFindingBaseObj DerefPolicy = 2
	DerefAlways         DerefPolicy = 3
)

// Filter context tags per RFC 4511 Section 4.5.1.7.
const (
	tagFilterAnd      byte = 0xA0
	tagFilterOr       byte = 0xA1
	tagFilterNot      byte = 0xA2
	tagFilterEquality byte = 0xA3
	tagFilterPresent  byte = 0x87
)

// FilterPresent matches entries that have the named attribute.
func FilterPresent(attribute string) *ber.Element {
	return ber.NewOctetString(tagFilterPresent, []byte(attribute))
}

// FilterEquality matches entries whose attribute equals the given value.
func FilterEquality(attribute string, value []byte) *ber.Element {
	return ber.NewSequence(tagFilterEquality,
		ber.NewOctetString(ber.TagOctetString, []byte(attribute)),
		ber.NewOctetString(ber.TagOctetString, value),
	)
}

// FilterAnd matches entries that match all of the given filters.
func FilterAnd(filters ...*ber.Element) *ber.Element {
	return ber.NewSequence(tagFilterAnd, filters...)
}

// FilterOr matches entries that match any of the given filters.
func FilterOr(filters ...*ber.Element) *ber.Element {
	return ber.NewSequence(tagFilterOr, filters...)
}

// FilterNot negates a filter.
func FilterNot(filter *ber.Element) *ber.Element {
	return ber.NewSequence(tagFilterNot, filter)
}

// SearchRequest describes one search operation. The filter is a pre-built
// element; string filter parsing belongs to the callers' domain.
type SearchRequest struct {
	BaseDN      string
	Scope       Scope
	DerefPolicy DerefPolicy
	// SizeLimit and TimeLimit are server-side limits; zero means none.
	SizeLimit int32
	TimeLimit int32
	// TypesOnly requests attribute names without values.
	TypesOnly bool
	Filter    *ber.Element
	// Attributes lists the attributes to return; empty means all user
	// attributes.
	Attributes []string
	// Controls are attached to every page of the search.
	Controls []Control
}

// NewSearchRequest builds a search request with the engine's defaults:
// no alias dereferencing, no size or time limits, values included.
func NewSearchRequest(baseDN string, scope Scope, filter *ber.Element, attributes ...string) *SearchRequest {
	return &SearchRequest{
		BaseDN:     baseDN,
		Scope:      scope,
		Filter:     filter,
		Attributes: attributes,
	}
}

// encode produces the [APPLICATION 3] SearchRequest payload.
func (r *SearchRequest) encode() *ber.Element {
	attrs := make([]*ber.Element, 0, len(r.Attributes))
	for _, a := range r.Attributes {
		attrs = append(attrs, ber.NewOctetString(ber.TagOctetString, []byte(a)))
	}
	return ber.NewSequence(ApplicationSearchRequest,
		ber.NewOctetString(ber.TagOctetString, []byte(r.BaseDN)),
		ber.NewEnumerated(ber.TagEnumerated, int64(r.Scope)),
		ber.NewEnumerated(ber.TagEnumerated, int64(r.DerefPolicy)),
		ber.NewInteger(ber.TagInteger, int64(r.SizeLimit)),
		ber.NewInteger(ber.TagInteger, int64(r.TimeLimit)),
		ber.NewBoolean(ber.TagBoolean, r.TypesOnly),
		r.Filter,
		ber.NewSequence(ber.TagSequence, attrs...),
	)
}

// decodeEntryShape parses the SearchResultEntry shape shared by entry
// responses and the post-read control value: a DN plus a partial
// attribute list.
func decodeEntryShape(op *ber.Element) (*Entry, error) {
	kids := op.Elements()
	if len(kids) != 2 {
		return nil, ErrMalformedMessage
	}
	entry := &Entry{DN: string(kids[0].OctetString())}
	for _, attrEl := range kids[1].Elements() {
		attrKids := attrEl.Elements()
		if len(attrKids) != 2 {
			return nil, ErrMalformedMessage
		}
		attr := Attribute{Name: string(attrKids[0].OctetString())}
		for _, valEl := range attrKids[1].Elements() {
			attr.Values = append(attr.Values, valEl.OctetString())
		}
		entry.Attributes = append(entry.Attributes, attr)
	}
	return entry, nil
}

// decodeReference parses a SearchResultReference payload into its
// referral URLs.
func decodeReference(op *ber.Element) []string {
	urls := make([]string, 0, len(op.Elements()))
	for _, u := range op.Elements() {
		urls = append(urls, string(u.OctetString()))
	}
	return urls
}

// SearchCallbacks receive streamed search responses as they arrive. Nil
// callbacks are skipped; counting still happens.
type SearchCallbacks struct {
	// OnEntry is invoked once per unique entry within a page.
	OnEntry func(*Entry)
	// OnReference is invoked once per search reference with its URLs.
	OnReference func([]string)
}

// SearchResult is the aggregate outcome of one logical (possibly
// multi-page) search.
type SearchResult struct {
	Result
	// Entries holds collected entries for the non-streaming Search
	// variant; the paged variant delivers entries through callbacks only.
	Entries []*Entry
	// EntriesReturned and ReferencesReturned are cumulative totals across
	// all pages, never reset between pages.
	EntriesReturned    int
	ReferencesReturned int
	// PagesRetrieved counts pages fetched, 1 for a non-paged search.
	PagesRetrieved int
}

// searchTraversalState lives for the duration of one logical search call.
// The duplicate-suppression set and per-page counters reset on every page
// boundary; cumulative totals do not.
type searchTraversalState struct {
	seenDNs        map[string]struct{}
	pageEntries    int
	pageReferences int
	result         *SearchResult
	callbacks      SearchCallbacks
}

func newSearchTraversalState(callbacks SearchCallbacks) *searchTraversalState {
	return &searchTraversalState{
		seenDNs:   make(map[string]struct{}),
		result:    &SearchResult{},
		callbacks: callbacks,
	}
}

// beginPage resets the per-page duplicate set and counters.
func (s *searchTraversalState) beginPage() {
	s.seenDNs = make(map[string]struct{})
	s.pageEntries = 0
	s.pageReferences = 0
}

// onMessage consumes one intermediate search response message.
func (s *searchTraversalState) onMessage(msg *Message) error {
	switch msg.ProtocolOp.Tag {
	case ApplicationSearchResultEntry:
		entry, err := decodeEntryShape(msg.ProtocolOp)
		if err != nil {
			return err
		}
		// The retry path can re-deliver entries from a partially
		// streamed first attempt; an exact repeat within the page is
		// silently dropped.
		key := NormalizeDN(entry.DN)
		if _, seen := s.seenDNs[key]; seen {
			return nil
		}
		s.seenDNs[key] = struct{}{}
		s.pageEntries++
		s.result.EntriesReturned++
		searchEntries.Inc()
		if s.callbacks.OnEntry != nil {
			s.callbacks.OnEntry(entry)
		}
	case ApplicationSearchResultReference:
		urls := decodeReference(msg.ProtocolOp)
		s.pageReferences++
		s.result.ReferencesReturned++
		if s.callbacks.OnReference != nil {
			s.callbacks.OnReference(urls)
		}
	}
	return nil
}
