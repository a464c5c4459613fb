package go_hub_i_guess

import (
	"bytes"
	"encoding/json"
)

// helloMethod is the method name of the message sent right after a client
// connects, if the hub is configured to do so.
const helloMethod = "Hello"

// Message is the invocation envelope exchanged with the clients.
type Message struct {
	// MethodName is the hub method (inbound) or client callback
	// (outbound) being invoked.
	MethodName string `json:"methodName"`

	// Args of the invocation. After decoding, each argument has the Go
	// type registered for its position.
	Args []any `json:"args"`
}

// HelloArg is the single argument of the hello message.
type HelloArg struct {
	ClientID string `json:"clientId"`
}

// NewHelloMessage create the message that informs a client of its
// assigned identifier.
func NewHelloMessage(clientID string) *Message {
	return &Message{
		MethodName: helloMethod,
		Args:       []any{HelloArg{ClientID: clientID}},
	}
}

// envelope is only used to decode the outer structure of a message.
// Pointers distinguish missing fields from zero values.
type envelope struct {
	MethodName *string          `json:"methodName"`
	Args       *json.RawMessage `json:"args"`
}

// Codec converts between invocation messages and their wire format,
// validating inbound messages against a method registry.
type Codec struct {
	methods *MethodRegistry
}

// NewCodec create a codec validating against `methods`.
//
// If `methods` is nil, then this function will panic!
func NewCodec(methods *MethodRegistry) *Codec {
	if methods == nil {
		panic("go_hub_i_guess/codec NewCodec: nil methods")
	}

	return &Codec{methods: methods}
}

// Deserialize decode a message received from a client.
//
// Anything that isn't a fully valid invocation of a registered method
// results in nil: unparseable documents, a missing or non-string method
// name, unknown methods, a number of arguments different from the
// registered one (including omitted trailing arguments) or any argument
// that can't be converted to its registered type. A missing (or null)
// `args` is the same as an empty list.
func (c *Codec) Deserialize(data []byte) *Message {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil
	}

	if env.MethodName == nil || !c.methods.Exists(*env.MethodName) {
		return nil
	}
	argTypes, err := c.methods.ArgsTypes(*env.MethodName)
	if err != nil {
		return nil
	}

	var rawArgs []json.RawMessage
	if env.Args != nil && !bytes.Equal(bytes.TrimSpace(*env.Args), []byte("null")) {
		if err := json.Unmarshal(*env.Args, &rawArgs); err != nil {
			return nil
		}
	}

	// There's no way to tell which argument was omitted (or added), so
	// any mismatch rejects the message.
	if len(rawArgs) != len(argTypes) {
		return nil
	}

	msg := &Message{
		MethodName: *env.MethodName,
		Args:       make([]any, len(argTypes)),
	}
	for i, typ := range argTypes {
		v, err := typ.Decode(rawArgs[i])
		if err != nil {
			return nil
		}
		msg.Args[i] = v
	}

	return msg
}

// Serialize encode a message to be sent to clients. Outbound messages are
// built by the server, so they aren't validated against the registry.
func (c *Codec) Serialize(msg *Message) ([]byte, error) {
	return serialize(msg)
}

// serialize encode `msg`, writing a nil `Args` as an empty list.
func serialize(msg *Message) ([]byte, error) {
	if msg.Args == nil {
		tmp := *msg
		tmp.Args = []any{}
		msg = &tmp
	}

	return json.Marshal(msg)
}
