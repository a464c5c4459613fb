package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	gohub "github.com/SirGFM/go-hub-i-guess"
	"github.com/julienschmidt/httprouter"
)

// userHeader carries the demo's authenticated user. There's no actual
// authentication, so anyone may claim to be anyone.
const userHeader = "X-Hub-User"

type server struct {
	// The server's HTTP server
	httpServer *http.Server
	// The hub
	hub *gohub.Hub
	// logger for HTTP requests
	logger *slog.Logger
}

// withUser attach the request's claimed user to its context, so the hub
// may identify it.
func withUser(next http.Handler) httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		user := req.Header.Get(userHeader)
		if len(user) == 0 {
			user = req.URL.Query().Get("user")
		}
		if len(user) > 0 {
			req = req.WithContext(gohub.WithIdentity(req.Context(), user))
		}

		next.ServeHTTP(w, req)
	}
}

// logged log every request served by `next`.
func (s *server) logged(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		s.logger.Info("Request",
			gohub.LabelRemoteAddr.L(req.RemoteAddr),
			"method", req.Method,
			"path", req.URL.Path)
		next(w, req, ps)
	}
}

func (s *server) handleChatPage(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	serveChatPage(w)
}

func (s *server) handleNotFound(w http.ResponseWriter, req *http.Request) {
	httpTextReply(http.StatusNotFound, "404 - Nothing to see here...", w, s.logger)
}

// httpTextReply send a simple HTTP response as a plain text.
func httpTextReply(status int, msg string, w http.ResponseWriter, logger *slog.Logger) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)

	for data := []byte(msg); len(data) > 0; {
		n, err := w.Write(data)
		if err != nil {
			logger.Error("Failed to send reply", "status", status, gohub.LabelError.L(err))
			return
		}
		data = data[n:]
	}
}

// Close the running web server and clean up resourcers
func (s *server) Close() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()

		// Hijacked connections aren't tracked by the HTTP server, so the
		// hub must close them by itself.
		s.hub.Close()
		s.httpServer.Shutdown(ctx)
		s.httpServer = nil
	}

	return nil
}

// runWeb server into a goroutine
func runWeb(args Args, logger *slog.Logger) (io.Closer, error) {
	var srv server
	srv.logger = logger

	conf := gohub.GetDefaultHubConf()
	conf.BufferSize = args.BufferSize
	conf.SendHelloOnConnect = args.Hello
	conf.Upgrader = newUpgrader(args)
	conf.Logger = logger
	conf.DebugLog = args.Debug
	if args.Anonymous {
		conf.ClientIdentity = gohub.AlwaysAnonymous
	}

	methods, err := gohub.NewMethodRegistry(chatMethods)
	if err != nil {
		return nil, err
	}

	srv.hub, err = gohub.NewHub(&chatHandler{logger: logger}, methods, conf)
	if err != nil {
		return nil, err
	}

	router := httprouter.New()
	router.GET("/", srv.logged(srv.handleChatPage))
	router.GET("/chat_page", srv.logged(srv.handleChatPage))
	router.GET("/hub", srv.logged(withUser(srv.hub)))
	router.NotFound = http.HandlerFunc(srv.handleNotFound)

	srv.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", args.IP, args.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Waiting...", "addr", srv.httpServer.Addr)
		err := srv.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			logger.Error("Server stopped", gohub.LabelError.L(err))
		}
	}()

	return &srv, nil
}
