package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event types handled by the receiver.
const (
	EventMessageCreated       = "MESSAGE_CREATED"
	EventDirectMessageCreated = "DIRECT_MESSAGE_CREATED"
	EventPing                 = "PING"
)

const defaultReconnectDelay = 5 * time.Second

// MessageHandler handles one chat message. *Dispatcher is the production
// implementation.
type MessageHandler interface {
	Handle(ctx context.Context, msg Message) error
}

// event is the envelope of every frame on the bot WebSocket.
type event struct {
	Type  string          `json:"type"`
	ReqID string          `json:"reqId"`
	Body  json.RawMessage `json:"body"`
}

type messageEventBody struct {
	EventTime string  `json:"eventTime"`
	Message   Message `json:"message"`
}

// Receiver reads bot events from the traQ WebSocket and hands messages to a
// handler, each in its own goroutine.
type Receiver struct {
	url            string
	token          string
	handler        MessageHandler
	logger         *zap.Logger
	dialer         *websocket.Dialer
	reconnectDelay time.Duration

	wg sync.WaitGroup
}

// ReceiverOption defines a functional option for Receiver
type ReceiverOption func(*Receiver)

// WithURL overrides the WebSocket URL derived from the host.
func WithURL(url string) ReceiverOption {
	return func(r *Receiver) {
		r.url = url
	}
}

// WithReconnectDelay sets the pause between reconnect attempts.
func WithReconnectDelay(d time.Duration) ReceiverOption {
	return func(r *Receiver) {
		r.reconnectDelay = d
	}
}

// NewReceiver creates a receiver for wss://<host>/api/v3/bots/ws.
func NewReceiver(logger *zap.Logger, host, token string, handler MessageHandler, options ...ReceiverOption) *Receiver {
	r := &Receiver{
		url:            "wss://" + host + "/api/v3/bots/ws",
		token:          token,
		handler:        handler,
		logger:         logger,
		dialer:         websocket.DefaultDialer,
		reconnectDelay: defaultReconnectDelay,
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Run connects and reads events until ctx is done, reconnecting after every
// failure. It waits for in-flight handlers before returning.
func (r *Receiver) Run(ctx context.Context) error {
	defer r.wg.Wait()

	for {
		err := r.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		r.logger.Warn("bot connection lost, reconnecting", zap.Error(err), zap.Duration("delay", r.reconnectDelay))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.reconnectDelay):
		}
	}
}

// session holds one WebSocket connection until it fails or ctx is done.
func (r *Receiver) session(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+r.token)

	conn, resp, err := r.dialer.DialContext(ctx, r.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", r.url, err)
	}
	defer conn.Close()
	r.logger.Info("bot connected", zap.String("url", r.url))

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var ev event
		if err := json.Unmarshal(data, &ev); err != nil {
			r.logger.Warn("malformed bot event", zap.Error(err))
			continue
		}
		r.handleEvent(ctx, ev)
	}
}

func (r *Receiver) handleEvent(ctx context.Context, ev event) {
	switch ev.Type {
	case EventMessageCreated, EventDirectMessageCreated:
	case EventPing:
		r.logger.Debug("bot ping", zap.String("req_id", ev.ReqID))
		return
	default:
		r.logger.Debug("ignoring bot event", zap.String("type", ev.Type))
		return
	}

	var body messageEventBody
	if err := json.Unmarshal(ev.Body, &body); err != nil {
		r.logger.Warn("malformed message event", zap.String("req_id", ev.ReqID), zap.Error(err))
		return
	}
	msg := body.Message
	if msg.User.Bot {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.handler.Handle(ctx, msg); err != nil {
			r.logger.Error("failed to handle message",
				zap.String("message_id", msg.ID),
				zap.String("channel_id", msg.ChannelID),
				zap.Error(err))
		}
	}()
}
