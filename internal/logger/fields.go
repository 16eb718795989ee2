package logger

// Standard field keys. Use these consistently so logs from the daemon,
// the client engine, and the CLIs can be aggregated and queried together.
const (
	// Protocol & operation
	KeyRequest = "request" // wire request name: GET, SET, QUERY_FIRST, ...
	KeyStatus  = "status"  // status code name for the outcome
	KeyHandle  = "handle"  // variable handle
	KeyName    = "name"    // variable name
	KeyType    = "type"    // value type name

	// Session & peers
	KeySession   = "session"   // session identifier (client pid)
	KeyPID       = "pid"       // local process id
	KeyPeerPID   = "peer_pid"  // collaborating process id
	KeyTransport = "transport" // transport binding: socket, shm

	// Payload
	KeyPayloadLen = "payload_len" // trailing payload length in bytes
	KeyWorkBuf    = "work_buf"    // work-buffer capacity in bytes

	// Query & watch
	KeyContext = "context" // server cursor / change serial
	KeyMatches = "matches" // query match count

	// Generic
	KeyAddr     = "addr"     // socket address or region path
	KeyDuration = "duration" // elapsed time
	KeyError    = "error"    // error detail
)
