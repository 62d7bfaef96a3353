package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/service"
)

// Subscriber opens a standing message feed for a session. service.Channel implements it.
type Subscriber interface {
	Subscribe(ctx context.Context, sessionID string, onUpdate func([]model.Message)) (cancel func())
}

// Appender writes a message into a session. service.Channel implements it.
type Appender interface {
	Append(ctx context.Context, in service.AppendInput) (string, error)
}

type Options struct {
	MaxConns       int
	SendBuffer     int
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
}

func (o *Options) defaults() {
	if o.MaxConns <= 0 {
		o.MaxConns = 10000
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = sendBufSize
	}
	if o.WriteWait <= 0 {
		o.WriteWait = writeWait
	}
	if o.PongWait <= 0 {
		o.PongWait = pongWait
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = maxMessageSize
	}
}

// room holds the clients watching one session. One Channel subscription serves all of them.
type room struct {
	clients map[*Client]struct{}
	cancel  func()
	latest  *MessagesPayload
}

type Hub struct {
	mu         sync.RWMutex
	rooms      map[string]*room
	total      int
	opts       Options
	feed       Subscriber
	channel    Appender
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(feed Subscriber, channel Appender, opts Options) *Hub {
	opts.defaults()
	return &Hub{
		rooms:      make(map[string]*room),
		opts:       opts,
		feed:       feed,
		channel:    channel,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	all := make([]*Client, 0, h.total)
	cancels := make([]func(), 0, len(h.rooms))
	for _, r := range h.rooms {
		for c := range r.clients {
			all = append(all, c)
		}
		cancels = append(cancels, r.cancel)
	}
	h.rooms = make(map[string]*room)
	h.total = 0
	h.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.opts.MaxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting session=%s user=%s", h.opts.MaxConns, c.sessionID, c.principal.ID)
		c.Close()
		return
	}
	r, ok := h.rooms[c.sessionID]
	if !ok {
		r = &room{clients: make(map[*Client]struct{})}
		h.rooms[c.sessionID] = r
	}
	r.clients[c] = struct{}{}
	h.total++
	latest := r.latest
	h.mu.Unlock()

	if !ok {
		// Subscribe outside the lock: the first delivery may call back immediately.
		cancel := h.feed.Subscribe(context.Background(), c.sessionID, func(msgs []model.Message) {
			h.deliver(c.sessionID, msgs)
		})
		h.mu.Lock()
		if cur, alive := h.rooms[c.sessionID]; alive && cur == r {
			r.cancel = cancel
			cancel = nil
		}
		h.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return
	}
	if latest != nil {
		h.sendToClient(c, OutgoingMessage{Type: EventMessages, Payload: latest})
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	r, ok := h.rooms[c.sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := r.clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(r.clients, c)
	h.total--
	var cancel func()
	if len(r.clients) == 0 {
		delete(h.rooms, c.sessionID)
		cancel = r.cancel
	}
	h.mu.Unlock()

	c.Close()
	if cancel != nil {
		cancel()
	}
}

// deliver fans a full message list out to every client of the session.
// A late delivery for a room that is already gone is dropped.
func (h *Hub) deliver(sessionID string, msgs []model.Message) {
	payload := &MessagesPayload{SessionID: sessionID, Messages: msgs}
	h.mu.Lock()
	r, ok := h.rooms[sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	r.latest = payload
	targets := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	out := OutgoingMessage{Type: EventMessages, Payload: payload}
	for _, c := range targets {
		h.sendToClient(c, out)
	}
}

// HandleMessage dispatches incoming WebSocket messages.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	switch msg.Type {
	case EventSendMessage:
		h.handleSendMessage(ctx, c, msg)
	case EventTyping:
		h.handleTyping(c)
	default:
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "unknown event type"})
	}
}

func senderRole(p model.Principal) model.SenderRole {
	if p.IsAdmin() {
		return model.SenderRoleAdmin
	}
	return model.SenderRoleUser
}

func (h *Hub) handleSendMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleSendMessage", time.Now())()
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	id, err := h.channel.Append(ctx, service.AppendInput{
		SessionID:  c.sessionID,
		SenderID:   c.principal.ID,
		SenderRole: senderRole(c.principal),
		Text:       msg.Text,
		ImageURL:   msg.ImageURL,
	})
	if err != nil {
		payload := "failed to send message"
		if errors.Is(err, service.ErrValidation) {
			payload = err.Error()
		}
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: payload})
		return
	}
	h.sendToClient(c, OutgoingMessage{Type: EventMessageSent, Payload: MessageSentPayload{ID: id, ClientID: msg.ClientID}})
}

func (h *Hub) handleTyping(c *Client) {
	out := OutgoingMessage{Type: EventTyping, Payload: TypingPayload{
		SessionID: c.sessionID,
		UserID:    c.principal.ID,
		Role:      string(senderRole(c.principal)),
	}}
	h.mu.RLock()
	r, ok := h.rooms[c.sessionID]
	targets := make([]*Client, 0, 4)
	if ok {
		for other := range r.clients {
			if other != c {
				targets = append(targets, other)
			}
		}
	}
	h.mu.RUnlock()
	for _, t := range targets {
		h.sendToClient(t, out)
	}
}

// Clients returns the number of connections watching sessionID.
func (h *Hub) Clients(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r, ok := h.rooms[sessionID]; ok {
		return len(r.clients)
	}
	return 0
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client session=%s user=%s", c.sessionID, c.principal.ID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
