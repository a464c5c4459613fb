package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	mrand "math/rand"
	"net"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"time"

	gohub "github.com/SirGFM/go-hub-i-guess"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/spf13/cobra"
)

var hubURL string

var rootCmd = &cobra.Command{
	Use:   "hub-pinger group username",
	Short: "Join a group on hub-server and talk to it every now and then",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ping(args[0], args[1])
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVar(&hubURL, "url", "ws://localhost:8888/hub", "URL of the hub")
}

// pinger talks to the hub over a single connection.
type pinger struct {
	conn net.Conn

	// m synchronizes writes on `conn`.
	m sync.Mutex

	logger *slog.Logger
}

// invoke the hub method `methodName`.
func (p *pinger) invoke(methodName string, args ...any) error {
	data, err := json.Marshal(&gohub.Message{
		MethodName: methodName,
		Args:       args,
	})
	if err != nil {
		return err
	}

	p.m.Lock()
	defer p.m.Unlock()
	return wsutil.WriteClientMessage(p.conn, ws.OpText, data)
}

// onClose start the closing handshake and release the connection.
func (p *pinger) onClose() {
	p.m.Lock()
	body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
	err := wsutil.WriteClientMessage(p.conn, ws.OpClose, body)
	p.m.Unlock()
	if err != nil {
		p.logger.Info("Couldn't send close", gohub.LabelError.L(err))
	}
	time.Sleep(time.Millisecond)

	p.conn.Close()
}

// talk send a message to `group` at random intervals.
func (p *pinger) talk(group string) {
	for {
		// Generate a number between 1 and 128 and
		// then convert it to 125ms to 16s
		n := (mrand.Uint32() & 0x7f) + 1
		t := time.Millisecond * time.Duration(n*125)
		time.Sleep(t)

		s := fmt.Sprintf("waited %s to say something", t)
		err := p.invoke("SendMessageToGroup", group, s)
		if err != nil {
			p.logger.Error("Couldn't send message", gohub.LabelError.L(err))
			return
		}
	}
}

// receive log every message from the hub, until it closes the connection.
func (p *pinger) receive() error {
	for {
		msgs, err := wsutil.ReadServerMessage(p.conn, nil)
		if err != nil {
			return err
		}

		for i := range msgs {
			data := &(msgs[i])
			switch data.OpCode {
			case ws.OpClose:
				p.logger.Info("Server closed the connection")
				return nil
			case ws.OpPing:
				p.m.Lock()
				err = wsutil.WriteClientMessage(p.conn, ws.OpPong, data.Payload)
				p.m.Unlock()
				if err != nil {
					return fmt.Errorf("couldn't pong: %w", err)
				}
			case ws.OpBinary, ws.OpText:
				var msg gohub.Message
				if err := json.Unmarshal(data.Payload, &msg); err != nil {
					p.logger.Info("Ignoring invalid message", gohub.LabelError.L(err))
					continue
				}
				p.logger.Info("Received",
					gohub.LabelMethod.L(msg.MethodName),
					"args", msg.Args)
			}
		}
	}
}

func ping(group, username string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	uri, err := url.Parse(hubURL)
	if err != nil {
		return fmt.Errorf("couldn't parse the URL: %w", err)
	}
	query := uri.Query()
	query.Set("user", username)
	uri.RawQuery = query.Encode()

	conn, _, _, err := ws.Dial(context.Background(), uri.String())
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	p := &pinger{
		conn:   conn,
		logger: logger.With(gohub.LabelClientID.L(username), gohub.LabelGroupID.L(group)),
	}

	var once sync.Once
	closeOnce := func() {
		once.Do(p.onClose)
	}
	defer closeOnce()

	if err := p.invoke("JoinGroup", group); err != nil {
		return fmt.Errorf("couldn't join the group: %w", err)
	}

	intHndlr := make(chan os.Signal, 1)
	signal.Notify(intHndlr, os.Interrupt)

	go func() {
		<-intHndlr
		p.logger.Info("Exiting...")
		closeOnce()
	}()

	go p.talk(group)

	p.logger.Info("Waiting...")
	return p.receive()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
