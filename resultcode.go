package ldapwire

import "fmt"

// ResultCode is an LDAP result code per RFC 4511 Section 4.1.9, extended
// with the client-side codes (81-91) the engine synthesizes for local
// failures, matching the numbering directory SDKs conventionally use.
type ResultCode int

// Protocol result codes.
const (
	ResultSuccess                      ResultCode = 0
	ResultOperationsError              ResultCode = 1
	ResultProtocolError                ResultCode = 2
	ResultTimeLimitExceeded            ResultCode = 3
	ResultSizeLimitExceeded            ResultCode = 4
	ResultCompareFalse                 ResultCode = 5
	ResultCompareTrue                  ResultCode = 6
	ResultAuthMethodNotSupported       ResultCode = 7
	ResultStrongerAuthRequired         ResultCode = 8
	ResultReferral                     ResultCode = 10
	ResultAdminLimitExceeded           ResultCode = 11
	ResultUnavailableCriticalExtension ResultCode = 12
	ResultConfidentialityRequired      ResultCode = 13
	ResultSASLBindInProgress           ResultCode = 14
	ResultNoSuchAttribute              ResultCode = 16
	ResultUndefinedAttributeType       ResultCode = 17
	ResultInappropriateMatching        ResultCode = 18
	ResultConstraintViolation          ResultCode = 19
	ResultAttributeOrValueExists       ResultCode = 20
	ResultInvalidAttributeSyntax       ResultCode = 21
	ResultNoSuchObject                 ResultCode = 32
	ResultAliasProblem                 ResultCode = 33
	ResultInvalidDNSyntax              ResultCode = 34
	ResultAliasDereferencingProblem    ResultCode = 36
	ResultInappropriateAuthentication  ResultCode = 48
	ResultInvalidCredentials           ResultCode = 49
	ResultInsufficientAccessRights     ResultCode = 50
	ResultBusy                         ResultCode = 51
	ResultUnavailable                  ResultCode = 52
	ResultUnwillingToPerform           ResultCode = 53
	ResultLoopDetect                   ResultCode = 54
	ResultNamingViolation              ResultCode = 64
	ResultObjectClassViolation         ResultCode = 65
	ResultNotAllowedOnNonLeaf          ResultCode = 66
	ResultNotAllowedOnRDN              ResultCode = 67
	ResultEntryAlreadyExists           ResultCode = 68
	ResultObjectClassModsProhibited    ResultCode = 69
	ResultAffectsMultipleDSAs          ResultCode = 71
	ResultOther                        ResultCode = 80
)

// Client-side result codes synthesized by the engine for local failures.
const (
	ResultServerDown    ResultCode = 81
	ResultLocalError    ResultCode = 82
	ResultEncodingError ResultCode = 83
	ResultDecodingError ResultCode = 84
	ResultTimeout       ResultCode = 85
	ResultUserCancelled ResultCode = 88
	ResultConnectError  ResultCode = 91
)

var resultCodeNames = map[ResultCode]string{
	ResultSuccess:                      "success",
	ResultOperationsError:              "operations error",
	ResultProtocolError:                "protocol error",
	ResultTimeLimitExceeded:            "time limit exceeded",
	ResultSizeLimitExceeded:            "size limit exceeded",
	ResultCompareFalse:                 "compare false",
	ResultCompareTrue:                  "compare true",
	ResultAuthMethodNotSupported:       "auth method not supported",
	ResultStrongerAuthRequired:         "stronger auth required",
	ResultReferral:                     "referral",
	ResultAdminLimitExceeded:           "admin limit exceeded",
	ResultUnavailableCriticalExtension: "unavailable critical extension",
	ResultConfidentialityRequired:      "confidentiality required",
	ResultSASLBindInProgress:           "SASL bind in progress",
	ResultNoSuchAttribute:              "no such attribute",
	ResultUndefinedAttributeType:       "undefined attribute type",
	ResultInappropriateMatching:        "inappropriate matching",
	ResultConstraintViolation:          "constraint violation",
	ResultAttributeOrValueExists:       "attribute or value exists",
	ResultInvalidAttributeSyntax:       "invalid attribute syntax",
	ResultNoSuchObject:                 "no such object",
	ResultAliasProblem:                 "alias problem",
	ResultInvalidDNSyntax:              "invalid DN syntax",
	ResultAliasDereferencingProblem:    "alias dereferencing problem",
	ResultInappropriateAuthentication:  "inappropriate authentication",
	ResultInvalidCredentials:           "invalid credentials",
	ResultInsufficientAccessRights:     "insufficient access rights",
	ResultBusy:                         "busy",
	ResultUnavailable:                  "unavailable",
	ResultUnwillingToPerform:           "unwilling to perform",
	ResultLoopDetect:                   "loop detect",
	ResultNamingViolation:              "naming violation",
	ResultObjectClassViolation:         "object class violation",
	ResultNotAllowedOnNonLeaf:          "not allowed on non-leaf",
	ResultNotAllowedOnRDN:              "not allowed on RDN",
	ResultEntryAlreadyExists:           "entry already exists",
	ResultObjectClassModsProhibited:    "object class mods prohibited",
	ResultAffectsMultipleDSAs:          "affects multiple DSAs",
	ResultOther:                        "other",
	ResultServerDown:                   "server down",
	ResultLocalError:                   "local error",
	ResultEncodingError:                "encoding error",
	ResultDecodingError:                "decoding error",
	ResultTimeout:                      "timeout",
	ResultUserCancelled:                "user cancelled",
	ResultConnectError:                 "connect error",
}

// String returns the RFC name of the result code.
func (c ResultCode) String() string {
	if name, ok := resultCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("result code %d", int(c))
}

// ResultClass partitions result codes by their effect on the connection
// that produced them.
type ResultClass int

const (
	// ClassSuccess marks codes that indicate a completed operation.
	ClassSuccess ResultClass = iota
	// ClassConnectionUsable marks application-level failures after which
	// the connection can serve further requests.
	ClassConnectionUsable
	// ClassConnectionFatal marks failures after which the connection must
	// be discarded.
	ClassConnectionFatal
)

func (c ResultClass) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassConnectionUsable:
		return "connection-usable"
	case ClassConnectionFatal:
		return "connection-fatal"
	default:
		return "unknown"
	}
}

// ResultClassifier maps a result code to its class. Callers may supply
// their own via WithResultClassifier to override retry eligibility.
type ResultClassifier func(ResultCode) ResultClass

// DefaultResultClassifier is the fixed classification table used unless a
// caller overrides it. Client-side transport codes are connection-fatal;
// compare verdicts and referrals count as success; everything else is an
// application error that leaves the connection usable.
func DefaultResultClassifier(code ResultCode) ResultClass {
	switch code {
	case ResultSuccess, ResultCompareFalse, ResultCompareTrue, ResultReferral:
		return ClassSuccess
	case ResultServerDown, ResultLocalError, ResultEncodingError,
		ResultDecodingError, ResultTimeout, ResultConnectError:
		return ClassConnectionFatal
	default:
		return ClassConnectionUsable
	}
}
