/*
Package go_hub_i_guess implements a generic, transport-agnostic hub for
invoking methods over long-lived, message oriented connections.

The hub is divided into a few components:

  - `Hub`: Accepts connections and runs their life cycle
  - `Handler`: The application logic, implemented by the caller
  - `MethodRegistry`: The methods that clients may invoke
  - `Registry`: Tracks clients, their connections and their groups
  - `Socket`: A connection to the remote endpoint

The first step is to list the methods that clients are allowed to invoke,
along with the type of each of their arguments:

	methods, err := go_hub_i_guess.NewMethodRegistry(map[string][]go_hub_i_guess.ArgType{
		"SendMessage": {go_hub_i_guess.Arg[string](), go_hub_i_guess.Arg[string]()},
		"JoinGroup":   {go_hub_i_guess.Arg[string]()},
	})
	if err != nil {
		// Handle the error
	}

Then, the hub must be instantiated through `NewHub`. Its configuration
should be retrieved from `GetDefaultHubConf` and modified as desired:

	conf := go_hub_i_guess.GetDefaultHubConf()
	conf.Upgrader = &gorilla_ws_conn.Upgrader{}
	// Modify 'conf' as desired
	hub, err := go_hub_i_guess.NewHub(handler, methods, conf)
	if err != nil {
		// Handle the error
	}
	defer hub.Close()

`Hub` implements `http.Handler`, so it may be served directly. Each
request gets upgraded, through the configured `Upgrader`, into a `Socket`.
Sockets may also be served manually with `Hub.Serve`, which blocks until
the connection closes.

Every connection belongs to a client. Depending on
`HubConf.ClientIdentity`, authenticated connections share their user's
client, so a message sent to that client reaches every one of the user's
devices. Otherwise, each connection is a new client with a random
identifier.

Messages are JSON objects naming the invoked method and its arguments:

	{"methodName": "SendMessage", "args": ["alice", "hi!"]}

Messages that name an unknown method, or whose arguments don't match the
registered types, close the connection with `InvalidPayloadData`. Valid
messages reach `Handler.HandleMessage` with their arguments already
converted to the registered types. From there, the handler may reply to
other clients or groups through the `Session`:

	func (h *myHandler) HandleMessage(ctx context.Context, s *go_hub_i_guess.Session, msg *go_hub_i_guess.Message) error {
		switch msg.MethodName {
		case "JoinGroup":
			return s.Groups().Add(s.ClientID(), msg.Args[0].(string))
		}
		return nil
	}

Writes to a connection never interleave, even when many goroutines send
to the same client at once. The `Socket` implementations live in
`gorilla-ws-conn` (over github.com/gorilla/websocket) and `gobwas-ws-conn`
(over github.com/gobwas/ws).
*/
package go_hub_i_guess
