package ldapwire

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/netresearch/ldap-wire-go/internal/ber"
)

// Attribute is one named attribute with its values, in server order. The
// engine does not interpret attribute semantics; values are raw bytes.
type Attribute struct {
	Name   string
	Values [][]byte
}

// StringValues returns the attribute values as strings.
func (a Attribute) StringValues() []string {
	out := make([]string, len(a.Values))
	for i, v := range a.Values {
		out[i] = string(v)
	}
	return out
}

// Entry is one directory entry as decoded from the wire: a DN plus an
// ordered attribute list, handed to collaborators uninterpreted.
type Entry struct {
	DN         string
	Attributes []Attribute
}

// GetAttributeValues returns the values of the named attribute, matching
// the name case-insensitively as attribute descriptions are.
func (e *Entry) GetAttributeValues(name string) [][]byte {
	for _, attr := range e.Attributes {
		if strings.EqualFold(attr.Name, name) {
			return attr.Values
		}
	}
	return nil
}

// Result is the terminal outcome of one protocol operation.
type Result struct {
	ResultCode        ResultCode
	MatchedDN         string
	DiagnosticMessage string
	Referrals         []string
	Controls          []Control
}

// decodeResult parses the LDAPResult shape shared by every response
// operation: resultCode, matchedDN, diagnosticMessage, optional referral.
func decodeResult(op *ber.Element) (*Result, error) {
	kids := op.Elements()
	if len(kids) < 3 {
		return nil, ErrMalformedMessage
	}
	code, err := kids[0].Integer()
	if err != nil {
		return nil, ErrMalformedMessage
	}
	result := &Result{
		ResultCode:        ResultCode(code),
		MatchedDN:         string(kids[1].OctetString()),
		DiagnosticMessage: string(kids[2].OctetString()),
	}
	for _, extra := range kids[3:] {
		if extra.Tag == tagReferral {
			for _, url := range extra.Elements() {
				result.Referrals = append(result.Referrals, string(url.OctetString()))
			}
		}
	}
	return result, nil
}

// localResult synthesizes a Result for a client-side failure so transport
// errors flow through the same classification as server results.
func localResult(code ResultCode, diagnostic string) *Result {
	return &Result{ResultCode: code, DiagnosticMessage: diagnostic}
}

// NormalizeDN produces the canonical form used when comparing DNs: folded
// case and no insignificant whitespace around RDN separators. Search
// traversal relies on this for its per-page duplicate suppression.
func NormalizeDN(dn string) string {
	folded := cases.Fold().String(dn)
	parts := strings.Split(folded, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return strings.Join(parts, ",")
}
