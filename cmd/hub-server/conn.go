package main

import (
	"net/http"
	"time"

	gohub "github.com/SirGFM/go-hub-i-guess"
	gohub_gbw "github.com/SirGFM/go-hub-i-guess/gobwas-ws-conn"
	gohub_ws "github.com/SirGFM/go-hub-i-guess/gorilla-ws-conn"
	gows "github.com/gorilla/websocket"
)

// How long a remote connection may stay idle.
const timeout = time.Minute

func ignoreOrigin(r *http.Request) bool {
	return true
}

// newUpgrader for the transport selected in `args`.
func newUpgrader(args Args) gohub.Upgrader {
	if args.Transport == transportGobwas {
		return &gohub_gbw.Upgrader{}
	}

	upgrader := &gohub_ws.Upgrader{
		Upgrader: gows.Upgrader{
			ReadBufferSize:  args.ReadSize,
			WriteBufferSize: args.WriteSize,
		},
		Timeout: timeout,
	}
	if args.IgnoreOrigin {
		upgrader.Upgrader.CheckOrigin = ignoreOrigin
	}

	return upgrader
}
