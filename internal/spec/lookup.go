package spec

import "net/http"

/* PREDEFINED VALUES */

const (
	NullOp          Action = 0   // Invalid operation code
	EmptyInfo       byte   = 0xFF // No information provided
	PartyIDSize     int    = 36  // Fixed width of a party id inside a stick id
	TokenSize       int    = 32  // Random bytes in an auth token, hex encoded on the wire
	DefaultCeiling  uint32 = 300 // Default step ceiling of a sticky session
	DefaultTrials   int    = 15  // Failed password attempts before a lock
	DefaultLockTime int    = 10  // Minutes a locked account stays locked
)

/* ACTION CODES */

// Specifies an operation to be performed.
type Action uint8

// The integer follows the order of the route table.
const (
	UPLOAD_PKB Action = iota + 1
	UPLOAD_PRE_KEYS
	FETCH_PKB
	FETCH_PKBS
	FETCH_SK
	FETCH_STANDARD_SKS
	FETCH_UPLOADED_SKS
	GET_ACTIVE_STICK_ID
	UPLOAD_SK
	UPLOAD_SKS
	UPLOAD_STANDARD_SKS
	UPDATE_ACTIVE_SPK
	UPDATE_ACTIVE_IK
	LOGIN
	CHANGE_PASSWORD
	FETCH_PENDING_KEYS
	ACK_PENDING_KEYS
	UPDATE_CHAIN_STEP
	FETCH_OTID
)

// Identifies an operation to be performed
// with detailed information about how it
// is exposed over HTTP.
type lookup struct {
	op     Action // Operation code
	str    string // Operation code as string
	method string // HTTP method
	path   string // Legacy HTTP path
	auth   bool   // Requires an auth token
}

var (
	uploadPKBLookup      = lookup{UPLOAD_PKB, "UPLOAD_PKB", http.MethodPost, "/api/upload-pkb/", false}
	uploadPreKeysLookup  = lookup{UPLOAD_PRE_KEYS, "UPLOAD_PRE_KEYS", http.MethodPost, "/api/upload-pre-keys/", true}
	fetchPKBLookup       = lookup{FETCH_PKB, "FETCH_PKB", http.MethodGet, "/api/fetch-pkb/", true}
	fetchPKBsLookup      = lookup{FETCH_PKBS, "FETCH_PKBS", http.MethodPost, "/api/fetch-pkbs/", true}
	fetchSKLookup        = lookup{FETCH_SK, "FETCH_SK", http.MethodPost, "/api/fetch-sk/", true}
	fetchStandardLookup  = lookup{FETCH_STANDARD_SKS, "FETCH_STANDARD_SKS", http.MethodPost, "/api/fetch-standard-sks/", true}
	fetchUploadedLookup  = lookup{FETCH_UPLOADED_SKS, "FETCH_UPLOADED_SKS", http.MethodPost, "/api/fetch-uploaded-sks/", true}
	activeStickLookup    = lookup{GET_ACTIVE_STICK_ID, "GET_ACTIVE_STICK_ID", http.MethodPost, "/api/get-active-stick-id/", true}
	uploadSKLookup       = lookup{UPLOAD_SK, "UPLOAD_SK", http.MethodPost, "/api/upload-sk/", true}
	uploadSKsLookup      = lookup{UPLOAD_SKS, "UPLOAD_SKS", http.MethodPost, "/api/upload-sks/", true}
	uploadStandardLookup = lookup{UPLOAD_STANDARD_SKS, "UPLOAD_STANDARD_SKS", http.MethodPost, "/api/upload-standard-sks/", true}
	activeSPKLookup      = lookup{UPDATE_ACTIVE_SPK, "UPDATE_ACTIVE_SPK", http.MethodPost, "/api/update-active-spk/", true}
	activeIKLookup       = lookup{UPDATE_ACTIVE_IK, "UPDATE_ACTIVE_IK", http.MethodPost, "/api/update-active-ik/", true}
	loginLookup          = lookup{LOGIN, "LOGIN", http.MethodPost, "/api/login/", false}
	changePassLookup     = lookup{CHANGE_PASSWORD, "CHANGE_PASSWORD", http.MethodPost, "/api/change-password/", true}
	fetchPendingLookup   = lookup{FETCH_PENDING_KEYS, "FETCH_PENDING_KEYS", http.MethodGet, "/api/fetch-pending-keys/", true}
	ackPendingLookup     = lookup{ACK_PENDING_KEYS, "ACK_PENDING_KEYS", http.MethodPost, "/api/ack-pending-keys/", true}
	chainStepLookup      = lookup{UPDATE_CHAIN_STEP, "UPDATE_CHAIN_STEP", http.MethodPost, "/api/update-chain-step/", true}
	fetchOTIDLookup      = lookup{FETCH_OTID, "FETCH_OTID", http.MethodGet, "/api/fetch-otid/", true}
)

var lookupByOperation map[Action]lookup = map[Action]lookup{
	UPLOAD_PKB:          uploadPKBLookup,
	UPLOAD_PRE_KEYS:     uploadPreKeysLookup,
	FETCH_PKB:           fetchPKBLookup,
	FETCH_PKBS:          fetchPKBsLookup,
	FETCH_SK:            fetchSKLookup,
	FETCH_STANDARD_SKS:  fetchStandardLookup,
	FETCH_UPLOADED_SKS:  fetchUploadedLookup,
	GET_ACTIVE_STICK_ID: activeStickLookup,
	UPLOAD_SK:           uploadSKLookup,
	UPLOAD_SKS:          uploadSKsLookup,
	UPLOAD_STANDARD_SKS: uploadStandardLookup,
	UPDATE_ACTIVE_SPK:   activeSPKLookup,
	UPDATE_ACTIVE_IK:    activeIKLookup,
	LOGIN:               loginLookup,
	CHANGE_PASSWORD:     changePassLookup,
	FETCH_PENDING_KEYS:  fetchPendingLookup,
	ACK_PENDING_KEYS:    ackPendingLookup,
	UPDATE_CHAIN_STEP:   chainStepLookup,
	FETCH_OTID:          fetchOTIDLookup,
}

var lookupByString map[string]lookup = func() map[string]lookup {
	m := make(map[string]lookup, len(lookupByOperation))
	for _, v := range lookupByOperation {
		m[v.str] = v
	}
	return m
}()

// Returns the action code associated to a string.
// Result is NullOp if not found.
func StringToCode(s string) Action {
	v, ok := lookupByString[s]
	if !ok {
		return NullOp
	}
	return v.op
}

// Returns the string associated to an operation code.
// Result is an empty string if not found.
func CodeToString(a Action) string {
	v, ok := lookupByOperation[a]
	if !ok {
		return ""
	}
	return v.str
}

// Returns the HTTP method and path that expose an operation.
// Both are empty if the operation does not exist.
func Route(a Action) (string, string) {
	v, ok := lookupByOperation[a]
	if !ok {
		return "", ""
	}
	return v.method, v.path
}

// Indicates whether the operation needs an authenticated user.
// Unknown operations always require it.
func NeedsAuth(a Action) bool {
	v, ok := lookupByOperation[a]
	if !ok {
		return true
	}
	return v.auth
}

// Returns every known operation in code order.
func Actions() []Action {
	list := make([]Action, 0, len(lookupByOperation))
	for i := UPLOAD_PKB; i <= FETCH_OTID; i++ {
		list = append(list, i)
	}
	return list
}

/* ERROR CODES */

// Error that implements the error interface from
// the [errors] package with specific information
// that follows the wire contract, including the
// HTTP status it is reported with.
type SpecError struct {
	Code   uint8
	Status int
	Text   string
}

// Returns the text asocciated to the error.
func (err SpecError) Error() string {
	return err.Text
}

var (
	ErrorUndefined    error = SpecError{0x00, http.StatusInternalServerError, "undefined problem occured"}      // undefined problem occured
	ErrorInvalid      error = SpecError{0x01, http.StatusNotFound, "invalid operation performed"}               // invalid operation performed
	ErrorNotFound     error = SpecError{0x02, http.StatusNotFound, "content can not be found"}                  // content can not be found
	ErrorArguments    error = SpecError{0x03, http.StatusBadRequest, "invalid arguments given"}                 // invalid arguments given
	ErrorUnauthorized error = SpecError{0x04, http.StatusUnauthorized, "not authorized for this party"}        // not authorized for this party
	ErrorNoSession    error = SpecError{0x05, http.StatusUnauthorized, "missing or invalid auth token"}        // missing or invalid auth token
	ErrorNotAvailable error = SpecError{0x06, http.StatusOK, "sender key not yet available"}                   // sender key not yet available
	ErrorExhausted    error = SpecError{0x07, http.StatusConflict, "no unused prekeys remain"}                 // no unused prekeys remain
	ErrorDuplicateKey error = SpecError{0x08, http.StatusConflict, "key id already in use"}                    // key id already in use
	ErrorPassword     error = SpecError{0x09, http.StatusForbidden, "invalid password"}                        // invalid password
	ErrorLocked       error = SpecError{0x0A, http.StatusLocked, "account is temporarily locked"}             // account is temporarily locked
	ErrorRegistered   error = SpecError{0x0B, http.StatusConflict, "registration already finished"}           // registration already finished
	ErrorEmpty        error = SpecError{0x0C, http.StatusNotFound, "queried data is empty"}                    // queried data is empty
	ErrorServer       error = SpecError{0x0D, http.StatusInternalServerError, "server operation failed"}       // server operation failed
	ErrorConflict     error = SpecError{0x0E, http.StatusServiceUnavailable, "concurrent update, try again"} // concurrent update, try again
)

var codeToError map[byte]error = map[byte]error{
	0x00: ErrorUndefined,
	0x01: ErrorInvalid,
	0x02: ErrorNotFound,
	0x03: ErrorArguments,
	0x04: ErrorUnauthorized,
	0x05: ErrorNoSession,
	0x06: ErrorNotAvailable,
	0x07: ErrorExhausted,
	0x08: ErrorDuplicateKey,
	0x09: ErrorPassword,
	0x0A: ErrorLocked,
	0x0B: ErrorRegistered,
	0x0C: ErrorEmpty,
	0x0D: ErrorServer,
	0x0E: ErrorConflict,
}

// Returns the hex byte asocciated to an error.
// Result is EmptyInfo if not found.
func ErrorCode(err error) byte {
	switch v := err.(type) {
	case SpecError:
		return v.Code
	default:
		return EmptyInfo
	}
}

// Returns the HTTP status asocciated to an error.
// Errors outside the taxonomy are reported as server failures.
func ErrorStatus(err error) int {
	switch v := err.(type) {
	case SpecError:
		return v.Status
	default:
		return http.StatusInternalServerError
	}
}

// Returns the error asocciated to a hex byte.
// Result is nil if not found.
func ErrorCodeToError(b byte) error {
	v, ok := codeToError[b]
	if !ok {
		return nil
	}
	return v
}
