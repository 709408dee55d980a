package ldapwire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netresearch/ldap-wire-go/internal/ber"
)

func TestDecodeControlUnknownOIDPassesThrough(t *testing.T) {
	raw := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	typed, err := DecodeControl("1.2.3.4.5.6", true, raw)
	require.NoError(t, err)

	opaque, ok := typed.(Control)
	require.True(t, ok, "unknown OID must decode to the opaque Control")
	assert.Equal(t, "1.2.3.4.5.6", opaque.OID)
	assert.True(t, opaque.Criticality)
	assert.Equal(t, raw, opaque.Value)
}

func TestRegisterControlDecoder(t *testing.T) {
	type testControl struct {
		Control
	}
	oid := "1.9.9.9.1"
	RegisterControlDecoder(oid, func(criticality bool, value []byte) (TypedControl, error) {
		return testControl{Control{OID: oid, Criticality: criticality, Value: value}}, nil
	})

	typed, err := DecodeControl(oid, false, []byte("v"))
	require.NoError(t, err)
	_, ok := typed.(testControl)
	assert.True(t, ok)
}

func TestPagedResultsControlRoundTrip(t *testing.T) {
	request := &PagedResultsControl{Size: 100, Cookie: []byte("opaque-cookie")}
	wire := request.Control()
	assert.Equal(t, ControlTypePagedResults, wire.OID)

	typed, err := DecodeControl(wire.OID, wire.Criticality, wire.Value)
	require.NoError(t, err)
	decoded, ok := typed.(*PagedResultsControl)
	require.True(t, ok)
	assert.Equal(t, int32(100), decoded.Size)
	assert.Equal(t, []byte("opaque-cookie"), decoded.Cookie)
}

func TestPagedResultsControlRejectsBadValue(t *testing.T) {
	_, err := DecodeControl(ControlTypePagedResults, false, []byte("not a sequence"))
	assert.ErrorIs(t, err, ErrControlDecoding)

	// a sequence with the wrong element count is also rejected
	bad := ber.NewSequence(ber.TagSequence, ber.NewInteger(ber.TagInteger, 1)).Encode()
	_, err = DecodeControl(ControlTypePagedResults, false, bad)
	assert.ErrorIs(t, err, ErrControlDecoding)
}

func TestPostReadResponseControlDecode(t *testing.T) {
	entry := ber.NewSequence(ApplicationSearchResultEntry,
		ber.NewOctetString(ber.TagOctetString, []byte("uid=jdoe,dc=example,dc=com")),
		ber.NewSequence(ber.TagSequence,
			ber.NewSequence(ber.TagSequence,
				ber.NewOctetString(ber.TagOctetString, []byte("cn")),
				ber.NewSet(
					ber.NewOctetString(ber.TagOctetString, []byte("John Doe")),
				),
			),
		),
	)

	typed, err := DecodeControl(ControlTypePostReadResponse, false, entry.Encode())
	require.NoError(t, err)
	decoded, ok := typed.(*PostReadResponseControl)
	require.True(t, ok)
	assert.Equal(t, "uid=jdoe,dc=example,dc=com", decoded.Entry.DN)
	require.Len(t, decoded.Entry.Attributes, 1)
	assert.Equal(t, "cn", decoded.Entry.Attributes[0].Name)
	assert.Equal(t, [][]byte{[]byte("John Doe")}, decoded.Entry.Attributes[0].Values)
}

func TestMatchingEntryCountRequestControlRoundTrip(t *testing.T) {
	fast := int64(1 << 35)
	slow := int64(1 << 40)
	request := &MatchingEntryCountRequestControl{
		Criticality:               true,
		MaxCandidatesToExamine:    500,
		AlwaysExamineCandidates:   true,
		ProcessSearchIfUnindexed:  true,
		FastShortCircuitThreshold: &fast,
		SlowShortCircuitThreshold: &slow,
	}
	wire := request.Control()
	assert.Equal(t, ControlTypeMatchingEntryCountRequest, wire.OID)

	typed, err := DecodeControl(wire.OID, wire.Criticality, wire.Value)
	require.NoError(t, err)
	decoded, ok := typed.(*MatchingEntryCountRequestControl)
	require.True(t, ok)
	assert.Equal(t, int32(500), decoded.MaxCandidatesToExamine)
	assert.True(t, decoded.AlwaysExamineCandidates)
	assert.True(t, decoded.ProcessSearchIfUnindexed)
	assert.False(t, decoded.SkipResolvingExplodedIndexes)
	require.NotNil(t, decoded.FastShortCircuitThreshold)
	assert.Equal(t, fast, *decoded.FastShortCircuitThreshold)
	require.NotNil(t, decoded.SlowShortCircuitThreshold)
	assert.Equal(t, slow, *decoded.SlowShortCircuitThreshold)
}

func TestMatchingEntryCountRejectsNegativeMaxCandidates(t *testing.T) {
	value := ber.NewSequence(ber.TagSequence,
		ber.NewInteger(typeMaxCandidatesToExamine, -1),
	).Encode()

	_, err := DecodeControl(ControlTypeMatchingEntryCountRequest, true, value)
	assert.ErrorIs(t, err, ErrControlDecoding)
}

func TestMatchingEntryCountRejectsNonSequenceValue(t *testing.T) {
	value := ber.NewOctetString(ber.TagOctetString, []byte("foo")).Encode()
	_, err := DecodeControl(ControlTypeMatchingEntryCountRequest, true, value)
	assert.ErrorIs(t, err, ErrControlDecoding)
}

// A registered decoder failing on one control must not fail the response:
// the generic path keeps the opaque control, while the typed accessor for
// that specific control surfaces the error.
func TestControlDecodeFailureAsymmetry(t *testing.T) {
	badValue := ber.NewSequence(ber.TagSequence,
		ber.NewInteger(typeMaxCandidatesToExamine, -1),
	).Encode()
	controls := []Control{
		{OID: ControlTypeMatchingEntryCountRequest, Criticality: true, Value: badValue},
		{OID: "1.2.3.4", Value: []byte("unrelated")},
	}

	typed := DecodeResponseControls(controls)
	require.Len(t, typed, 2, "a failing control never aborts the response")
	opaque, ok := typed[0].(Control)
	require.True(t, ok, "the failing control stays in its opaque form")
	assert.Equal(t, ControlTypeMatchingEntryCountRequest, opaque.OID)
	assert.Equal(t, badValue, opaque.Value)

	_, err := FindMatchingEntryCountRequestControl(controls)
	assert.ErrorIs(t, err, ErrControlDecoding,
		"the explicitly requested control surfaces its decode error")
}

func TestFindControlsAbsent(t *testing.T) {
	controls := []Control{{OID: "1.2.3.4"}}

	paged, err := FindPagedResultsControl(controls)
	require.NoError(t, err)
	assert.Nil(t, paged)

	postRead, err := FindPostReadResponseControl(controls)
	require.NoError(t, err)
	assert.Nil(t, postRead)
}
