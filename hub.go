package go_hub_i_guess

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-metrics"
)

const (
	// Default size, in bytes, of the buffer receiving each message.
	defBufferSize = 32768

	// Default number of random bytes in anonymous client identifiers.
	defAnonymousClientIDSize = 32

	// Default time allowed for the disconnect hooks and closing handshake.
	defCloseTimeout = time.Second * 5

	// Default delay between reports of the hub's gauges.
	defStatsInterval = time.Second * 10
)

// Upgrader turns an HTTP request into a `Socket`.
type Upgrader interface {
	// IsUpgradeRequest check whether `req` asks for a protocol upgrade.
	IsUpgradeRequest(req *http.Request) bool

	// Upgrade the request's connection into a socket. On failure, the
	// upgrader is responsible for replying to the request.
	Upgrade(w http.ResponseWriter, req *http.Request) (Socket, error)
}

// HubConf configures a Hub. Retrieve the default configuration with
// `GetDefaultHubConf` and modify it as desired.
type HubConf struct {
	// BufferSize is the size, in bytes, of the buffer that receives each
	// message. Messages that don't fit are rejected with `MessageTooBig`.
	BufferSize int

	// AnonymousClientIDSize is the number of random bytes in generated
	// client identifiers.
	AnonymousClientIDSize int

	// ClientIdentity selects whether authenticated users are identified by
	// their user identifier.
	ClientIdentity ClientIdentityPolicy

	// SendHelloOnConnect sends a "Hello" message, carrying the client's
	// identifier, right after each connection is registered.
	SendHelloOnConnect bool

	// CloseTimeout bounds the disconnect hooks and the closing handshake.
	CloseTimeout time.Duration

	// StatsInterval is the delay between reports of the hub's gauges.
	StatsInterval time.Duration

	// DebugLog enables debug messages.
	DebugLog bool

	// Identity retrieves the authenticated user of a request. Required by
	// `UserWhenAuthenticated`.
	Identity IdentityFunc `json:"-"`

	// Upgrader used by `Hub.ServeHTTP`.
	Upgrader Upgrader `json:"-"`

	// Logger used by the hub to report events. If this is nil, no message
	// shall be logged!
	Logger *slog.Logger `json:"-"`

	// MetricSink receives the hub's metrics. Defaults to a blackhole.
	MetricSink metrics.MetricSink `json:"-"`

	// MetricLabels are added to every metric.
	MetricLabels []metrics.Label `json:"-"`
}

// GetDefaultHubConf retrieve the default configuration for hubs.
func GetDefaultHubConf() HubConf {
	return HubConf{
		BufferSize:            defBufferSize,
		AnonymousClientIDSize: defAnonymousClientIDSize,
		ClientIdentity:        UserWhenAuthenticated,
		SendHelloOnConnect:    false,
		CloseTimeout:          defCloseTimeout,
		StatsInterval:         defStatsInterval,
		Identity:              IdentityFromContext,
		MetricSink:            &metrics.BlackholeSink{},
	}
}

// validate the configuration, filling any unset optional field.
func (conf *HubConf) validate() error {
	if conf.BufferSize <= 0 {
		return fmt.Errorf("%w: BufferSize must be positive", InvalidConf)
	} else if conf.AnonymousClientIDSize <= 0 {
		return fmt.Errorf("%w: AnonymousClientIDSize must be positive", InvalidConf)
	}

	switch conf.ClientIdentity {
	case AlwaysAnonymous:
	case UserWhenAuthenticated:
		if conf.Identity == nil {
			return MissingIdentity
		}
	default:
		return fmt.Errorf("%w: unknown ClientIdentity %d", InvalidConf,
			conf.ClientIdentity)
	}

	if conf.CloseTimeout <= 0 {
		conf.CloseTimeout = defCloseTimeout
	}
	if conf.StatsInterval <= 0 {
		conf.StatsInterval = defStatsInterval
	}
	if conf.MetricSink == nil {
		conf.MetricSink = &metrics.BlackholeSink{}
	}

	return nil
}

// Hub accepts connections and routes invocation messages between them and
// the application's `Handler`.
type Hub struct {
	conf     HubConf
	handler  Handler
	methods  *MethodRegistry
	codec    *Codec
	registry *Registry

	// ctx is cancelled when the hub closes, ending every session.
	ctx    context.Context
	cancel context.CancelFunc

	// sessions tracks the running sessions, so `Close` may wait for them.
	sessions sync.WaitGroup

	// mu orders new sessions against `Close`.
	mu sync.Mutex

	// Whether the hub is currently running. Only modified with `mu` held.
	running uint32

	// stop signals, by getting closed, that the stats goroutine should
	// exit.
	stop chan struct{}
}

var _ http.Handler = (*Hub)(nil)
var _ io.Closer = (*Hub)(nil)

// NewHub create a hub dispatching messages to `handler`. Only messages
// invoking a method listed in `methods` reach the handler.
//
// `NewHub()` starts a goroutine that periodically reports the hub's
// gauges. Call `Close()` to stop it and to disconnect every client.
func NewHub(handler Handler, methods *MethodRegistry, conf HubConf) (*Hub, error) {
	if handler == nil {
		return nil, fmt.Errorf("%w: nil handler", InvalidConf)
	} else if methods == nil {
		return nil, fmt.Errorf("%w: nil method registry", InvalidConf)
	}
	if err := conf.validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		conf:     conf,
		handler:  handler,
		methods:  methods,
		codec:    NewCodec(methods),
		registry: NewRegistry(conf),
		ctx:      ctx,
		cancel:   cancel,
		running:  1,
		stop:     make(chan struct{}),
	}

	go h.reportStats()

	return h, nil
}

// GetConf retrieve the hub's configuration.
func (h *Hub) GetConf() HubConf {
	return h.conf
}

// Registry retrieve the hub's client and group registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Codec retrieve the codec used to decode and encode messages.
func (h *Hub) Codec() *Codec {
	return h.codec
}

// Clients retrieve a proxy to send messages to the hub's clients from
// outside of a `Handler`.
func (h *Hub) Clients() ClientProxy {
	return clientProxy{r: h.registry}
}

// Groups retrieve a proxy to manage and reach the hub's groups from
// outside of a `Handler`.
func (h *Hub) Groups() GroupProxy {
	return groupProxy{r: h.registry}
}

// IsClosed check if the hub is closed.
func (h *Hub) IsClosed() bool {
	return atomic.LoadUint32(&h.running) == 0
}

// Close the hub, ending every session and waiting for them to finish.
//
// This can safely be called multiple times, as it will only run on the
// first call.
func (h *Hub) Close() error {
	h.mu.Lock()
	closing := atomic.CompareAndSwapUint32(&h.running, 1, 0)
	h.mu.Unlock()

	if closing {
		h.info("Closing hub...")
		h.cancel()
		close(h.stop)
		h.sessions.Wait()
	}

	return nil
}

// ServeHTTP upgrades the request to a socket and serves it until the
// connection closes.
//
// Requests that don't ask for an upgrade are answered with
// `400 Bad Request`, without ever touching the registry.
func (h *Hub) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if h.conf.Upgrader == nil {
		h.error("No upgrader configured", LabelRemoteAddr.L(req.RemoteAddr))
		http.Error(w, "no upgrader configured", http.StatusInternalServerError)
		return
	} else if !h.conf.Upgrader.IsUpgradeRequest(req) {
		http.Error(w, UpgradeRequired.Error(), http.StatusBadRequest)
		return
	}

	var identity string
	if h.conf.Identity != nil {
		if id, ok := h.conf.Identity(req); ok {
			identity = id
		}
	}

	socket, err := h.conf.Upgrader.Upgrade(w, req)
	if err != nil {
		h.debug("Couldn't upgrade the connection",
			LabelRemoteAddr.L(req.RemoteAddr),
			LabelError.L(err))
		return
	}

	err = h.Serve(req.Context(), socket, identity)
	if err != nil {
		h.error("Couldn't serve the connection",
			LabelRemoteAddr.L(req.RemoteAddr),
			LabelError.L(err))
	}
}

// reportStats periodically report the number of clients and groups.
func (h *Hub) reportStats() {
	ticker := time.NewTicker(h.conf.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.conf.MetricSink.SetGaugeWithLabels(MetricHubClients,
				float32(h.registry.ClientCount()), h.conf.MetricLabels)
			h.conf.MetricSink.SetGaugeWithLabels(MetricHubGroups,
				float32(h.registry.GroupCount()), h.conf.MetricLabels)
		}
	}
}

func (h *Hub) debug(msg string, args ...any) {
	if h.conf.DebugLog && h.conf.Logger != nil {
		h.conf.Logger.Debug(msg, args...)
	}
}

func (h *Hub) info(msg string, args ...any) {
	if h.conf.Logger != nil {
		h.conf.Logger.Info(msg, args...)
	}
}

func (h *Hub) error(msg string, args ...any) {
	if h.conf.Logger != nil {
		h.conf.Logger.Error(msg, args...)
	}
}
