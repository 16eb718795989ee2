// Package wire defines the fixed request/response record exchanged
// between varbus clients and the server, together with the bitsets and
// request codes that form the de facto wire contract.
//
// The record is a fixed-size, big-endian header optionally followed by
// payloadLength raw bytes (string or blob content) carried in the
// session's work buffer or directly on the stream. All bounded strings
// inside the header are zero-padded fixed fields; content must always be
// strictly shorter than the field so a terminator byte survives.
//
// Encoding stability matters more than elegance here: client and server
// builds in one deployment must agree byte for byte, so every change to
// these structs is a protocol version bump.
package wire

// Protocol identification. The magic doubles as an endianness check:
// a peer reading it byte-swapped is not speaking this protocol.
const (
	Magic   uint32 = 0x56425553 // "VBUS"
	Version uint16 = 1
)

// Bounded field capacities inside the fixed header.
const (
	// NameMax bounds variable names and query match text.
	NameMax = 64

	// FormatMax bounds a variable's format specification.
	FormatMax = 32

	// TagMax bounds a variable's tag specification.
	TagMax = 64

	// CredMax bounds the per-principal permission sets and the request
	// credential set.
	CredMax = 16
)

// Handle identifies a named variable for the lifetime of the server
// process. HandleInvalid is the reserved "not found" sentinel.
type Handle uint32

const HandleInvalid Handle = 0

// RequestType selects the server operation.
type RequestType uint16

const (
	ReqInvalid RequestType = iota

	// ReqOpen establishes a session. Its payloadLength field carries the
	// requested work-buffer capacity; no payload bytes follow it, ever.
	ReqOpen
	ReqClose

	ReqCreate
	ReqUnlink
	ReqLookup
	ReqGet
	ReqSet

	ReqQueryFirst
	ReqQueryNext

	ReqWatchOpen
	ReqWatchWait
	ReqWatchClose

	// ReqPrintRequest asks the server to have a variable's registered
	// renderer write into the requesting process's output stream. The
	// response is withheld until the renderer closes the session.
	ReqPrintRequest

	// ReqPrintPoll blocks the registered renderer until a print request
	// arrives; the response carries the requestor pid and the handle.
	ReqPrintPoll
	ReqPrintOpen
	ReqPrintClose

	reqEnd
)

var reqNames = [reqEnd]string{
	ReqInvalid:      "INVALID",
	ReqOpen:         "OPEN",
	ReqClose:        "CLOSE",
	ReqCreate:       "CREATE",
	ReqUnlink:       "UNLINK",
	ReqLookup:       "LOOKUP",
	ReqGet:          "GET",
	ReqSet:          "SET",
	ReqQueryFirst:   "QUERY_FIRST",
	ReqQueryNext:    "QUERY_NEXT",
	ReqWatchOpen:    "WATCH_OPEN",
	ReqWatchWait:    "WATCH_WAIT",
	ReqWatchClose:   "WATCH_CLOSE",
	ReqPrintRequest: "PRINT_REQUEST",
	ReqPrintPoll:    "PRINT_POLL",
	ReqPrintOpen:    "PRINT_OPEN",
	ReqPrintClose:   "PRINT_CLOSE",
}

// String returns the request name for logs and metrics labels.
func (r RequestType) String() string {
	if r < reqEnd {
		return reqNames[r]
	}
	return "UNKNOWN"
}

// Flags is the per-variable flag bitset.
type Flags uint32

const (
	// FlagPersist marks a variable for write-through persistence; it
	// survives a server restart.
	FlagPersist Flags = 1 << iota

	// FlagReadOnly rejects writes from sessions other than the creator's.
	FlagReadOnly

	// FlagRenderer marks a variable whose creator renders it on demand
	// through the print-session protocol.
	FlagRenderer
)

// SearchType is the query search-criteria bitset.
type SearchType uint32

const (
	// MatchByRegex matches variable names against matchText as a regular
	// expression.
	MatchByRegex SearchType = 1 << iota

	// MatchByName matches variable names against matchText as a shell
	// glob pattern.
	MatchByName

	// ByFlags restricts matches to variables with all filter flags set.
	ByFlags

	// ByTags restricts matches to variables carrying all listed tags.
	ByTags

	// ByInstanceID restricts matches to one creator instance.
	ByInstanceID

	// ShowType asks the server to include the value type in each result.
	ShowType

	// ShowValue asks the server to include the rendered value payload in
	// each result.
	ShowValue
)
