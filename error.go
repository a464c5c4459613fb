package go_hub_i_guess

// Error type for this package.
type HubError uint

const (
	// The connection's socket isn't open anymore.
	TransportClosed HubError = iota
	// The requested method wasn't registered on the hub.
	UnknownMethod
	// A method name is empty.
	InvalidMethodName
	// A client identifier is empty.
	InvalidClientID
	// A group identifier is empty.
	InvalidGroupID
	// The hub configuration can't be used.
	InvalidConf
	// The identity policy requires an identity accessor, but none was given.
	MissingIdentity
	// The HTTP request didn't ask for a WebSocket upgrade.
	UpgradeRequired
)

func (e HubError) Error() string {
	switch e {
	case TransportClosed:
		return "The connection is not open"
	case UnknownMethod:
		return "The method doesn't exist on this hub"
	case InvalidMethodName:
		return "Method name cannot be empty"
	case InvalidClientID:
		return "Client ID cannot be empty"
	case InvalidGroupID:
		return "Group ID cannot be empty"
	case InvalidConf:
		return "Invalid hub configuration"
	case MissingIdentity:
		return "No identity accessor was configured"
	case UpgradeRequired:
		return "Request is not a WebSocket upgrade"
	default:
		return "Unknown error"
	}
}

// CloseStatus is the status sent to the peer when the hub closes a
// connection. The values are the ones defined by RFC 6455, section 7.4.1.
type CloseStatus uint16

const (
	// The connection was closed by the peer, or cleanly shut down.
	NormalClosure CloseStatus = 1000
	// The received envelope failed the codec validation.
	InvalidPayloadData CloseStatus = 1007
	// The received message didn't fit in the configured buffer.
	MessageTooBig CloseStatus = 1009
)

func (s CloseStatus) String() string {
	switch s {
	case NormalClosure:
		return "NormalClosure"
	case InvalidPayloadData:
		return "InvalidPayloadData"
	case MessageTooBig:
		return "MessageTooBig"
	default:
		return "Unknown"
	}
}
