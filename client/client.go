package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/go-querystring/query"
	jsoniter "github.com/json-iterator/go"
	"github.com/seventv/relay/internal/events"
	"go.uber.org/zap"
)

var jsonx = jsoniter.ConfigCompatibleWithStandardLibrary

// Handler receives the decoded data of one stream frame.
type Handler func(data json.RawMessage)

// DisconnectHandler fires once when the client gives up reconnecting.
type DisconnectHandler func(err error)

type Options struct {
	// URL is the server base, e.g. http://localhost:3100
	URL string

	// Token authenticates the stream and publishes
	Token string

	// ClientID rides along as a query parameter on the stream request
	ClientID string

	HTTP *http.Client

	// ReconnectDelay is multiplied by the attempt number, capped at
	// ReconnectCap. After MaxReconnects failed attempts the client
	// stops and reports a terminal disconnect.
	ReconnectDelay time.Duration
	ReconnectCap   time.Duration
	MaxReconnects  int
}

type connectQuery struct {
	ClientID string `url:"clientId,omitempty"`
}

// Message is the payload of a publish.
type Message struct {
	Text            string `json:"text"`
	SenderID        string `json:"senderId"`
	SenderName      string `json:"senderName"`
	IsDirectMessage bool   `json:"isDirectMessage"`
	RecipientID     string `json:"recipientId,omitempty"`
}

// BroadcastTarget addresses every subscribed stream instead of a
// single user.
const BroadcastTarget = "broadcast"

type Client struct {
	opt  Options
	http *http.Client

	mx           sync.Mutex
	handlers     map[events.Type][]Handler
	onDisconnect DisconnectHandler
	running      bool
	cancel       context.CancelFunc

	connected atomic.Bool
}

func New(opt Options) *Client {
	if opt.ReconnectDelay <= 0 {
		opt.ReconnectDelay = time.Second
	}

	if opt.ReconnectCap <= 0 {
		opt.ReconnectCap = time.Second * 30
	}

	if opt.MaxReconnects <= 0 {
		opt.MaxReconnects = 5
	}

	h := opt.HTTP
	if h == nil {
		h = &http.Client{}
	}

	return &Client{
		opt:      opt,
		http:     h,
		handlers: map[events.Type][]Handler{},
	}
}

// OnEvent registers a handler for one frame kind. Frames with a kind
// nothing is registered for are dropped silently.
func (c *Client) OnEvent(t events.Type, h Handler) {
	c.mx.Lock()
	defer c.mx.Unlock()

	c.handlers[t] = append(c.handlers[t], h)
}

func (c *Client) OnDisconnect(h DisconnectHandler) {
	c.mx.Lock()
	defer c.mx.Unlock()

	c.onDisconnect = h
}

func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Connect starts the stream loop. Calling it while a stream is live is
// a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mx.Lock()
	defer c.mx.Unlock()

	if c.running {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true

	go c.run(ctx)

	return nil
}

// Disconnect stops the stream loop. It does not count as a terminal
// disconnect.
func (c *Client) Disconnect() {
	c.mx.Lock()
	defer c.mx.Unlock()

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Client) run(ctx context.Context) {
	defer func() {
		c.connected.Store(false)

		c.mx.Lock()
		c.running = false
		c.mx.Unlock()
	}()

	attempts := 0

	for {
		sawConnected, err := c.stream(ctx)
		c.connected.Store(false)

		if ctx.Err() != nil {
			return
		}

		// A stream that made it to the connected frame starts the
		// attempt count over
		if sawConnected {
			attempts = 0
		}

		if attempts >= c.opt.MaxReconnects {
			zap.S().Warnw("client, reconnect attempts exhausted",
				"attempts", attempts,
				"error", err,
			)

			c.mx.Lock()
			h := c.onDisconnect
			c.mx.Unlock()

			if h != nil {
				h(err)
			}

			return
		}

		attempts++

		delay := time.Duration(attempts) * c.opt.ReconnectDelay
		if delay > c.opt.ReconnectCap {
			delay = c.opt.ReconnectCap
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (c *Client) stream(ctx context.Context) (bool, error) {
	u := strings.TrimSuffix(c.opt.URL, "/") + "/v1/events"

	if v, err := query.Values(connectQuery{ClientID: c.opt.ClientID}); err == nil && len(v) > 0 {
		u += "?" + v.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, err
	}

	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	if c.opt.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opt.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("stream rejected: %s", resp.Status)
	}

	var (
		sawConnected bool
		eventName    string
		data         bytes.Buffer
	)

	br := bufio.NewReader(resp.Body)

	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return sawConnected, err
		}

		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if eventName != "" {
				if t, ok := events.ParseType(eventName); ok {
					if t == events.TypeConnected {
						sawConnected = true
						c.connected.Store(true)
					}

					payload := make(json.RawMessage, data.Len())
					copy(payload, data.Bytes())

					c.dispatch(t, payload)
				}
			}

			eventName = ""
			data.Reset()
		case strings.HasPrefix(line, "event: "):
			eventName = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data.WriteString(strings.TrimPrefix(line, "data: "))
		}
	}
}

func (c *Client) dispatch(t events.Type, data json.RawMessage) {
	c.mx.Lock()
	hs := make([]Handler, len(c.handlers[t]))
	copy(hs, c.handlers[t])
	c.mx.Unlock()

	for _, h := range hs {
		h(data)
	}
}

type publishRequest struct {
	ClientID string  `json:"clientId"`
	Data     Message `json:"data"`
}

type publishResponse struct {
	Success bool `json:"success"`
}

// Send publishes a message addressed to one user id, or to everyone
// with BroadcastTarget.
func (c *Client) Send(ctx context.Context, target string, msg Message) (bool, error) {
	body, err := jsonx.Marshal(publishRequest{
		ClientID: target,
		Data:     msg,
	})
	if err != nil {
		return false, err
	}

	u := strings.TrimSuffix(c.opt.URL, "/") + "/v1/messages"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return false, err
	}

	req.Header.Set("Content-Type", "application/json")

	if c.opt.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opt.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("publish rejected: %s", resp.Status)
	}

	out := publishResponse{}
	if err := jsonx.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, err
	}

	return out.Success, nil
}
