package telephony

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"voxcampaign/internal/config"
)

// event is one parsed "Key: Value" block terminated by a blank line,
// grounded on ami.Client's event framing.
type event struct {
	kind   string
	fields map[string]string
}

// Client is the concrete Provider: a persistent TCP control channel to
// the carrier, with actionID-correlated request/response, grounded on
// ami.Client's login/readEvents/reconnect pattern generalized from the
// Asterisk Manager Interface's specific verbs to an abstract Dial/Hangup
// action set.
type Client struct {
	cfg    config.TelephonyConfig
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	mu        sync.Mutex
	connected bool
	pending   map[string]chan event // actionID -> response channel
	done      chan struct{}
}

func NewClient(cfg config.TelephonyConfig) *Client {
	return &Client{
		cfg:     cfg,
		pending: make(map[string]chan event),
		done:    make(chan struct{}),
	}
}

func (c *Client) Connect() error {
	addr := c.cfg.Address()
	log.Printf("[Telephony] connecting to %s", addr)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("connecting to carrier control channel: %w", err)
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.writer = bufio.NewWriter(conn)

	if _, err := c.reader.ReadString('\n'); err != nil {
		return fmt.Errorf("reading banner: %w", err)
	}

	if err := c.login(); err != nil {
		c.conn.Close()
		return err
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	log.Printf("[Telephony] control channel authenticated")

	go c.readLoop()
	return nil
}

func (c *Client) login() error {
	action := fmt.Sprintf("Action: Login\r\nUsername: %s\r\nSecret: %s\r\n\r\n",
		c.cfg.Username, c.cfg.Secret)

	if _, err := c.writer.WriteString(action); err != nil {
		return err
	}
	if err := c.writer.Flush(); err != nil {
		return err
	}

	resp, err := c.readBlock()
	if err != nil {
		return err
	}
	if resp.fields["Response"] != "Success" {
		return fmt.Errorf("login failed: %s", resp.fields["Message"])
	}
	return nil
}

func (c *Client) readBlock() (event, error) {
	fields := make(map[string]string)
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return event{}, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		parts := strings.SplitN(line, ": ", 2)
		if len(parts) == 2 {
			fields[parts[0]] = parts[1]
		}
	}
	kind := fields["Response"]
	if kind == "" {
		kind = fields["Event"]
	}
	return event{kind: kind, fields: fields}, nil
}

func (c *Client) readLoop() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		ev, err := c.readBlock()
		if err != nil {
			log.Printf("[Telephony] control channel read error: %v", err)
			c.reconnect()
			return
		}

		actionID := ev.fields["ActionID"]
		if actionID != "" {
			c.mu.Lock()
			ch, ok := c.pending[actionID]
			c.mu.Unlock()
			if ok {
				select {
				case ch <- ev:
				default:
				}
			}
		}
	}
}

func (c *Client) reconnect() {
	c.mu.Lock()
	c.connected = false
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()

	interval := c.cfg.ReconnectInterval
	if interval <= 0 {
		interval = 5
	}

	for {
		select {
		case <-c.done:
			return
		default:
		}

		log.Printf("[Telephony] reconnecting in %ds", interval)
		time.Sleep(time.Duration(interval) * time.Second)

		if err := c.Connect(); err != nil {
			log.Printf("[Telephony] reconnect failed: %v", err)
			continue
		}
		return
	}
}

func (c *Client) send(actionID, action string) (<-chan event, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil, fmt.Errorf("telephony: control channel not connected")
	}
	ch := make(chan event, 1)
	c.pending[actionID] = ch
	_, err := c.writer.WriteString(action)
	if err == nil {
		err = c.writer.Flush()
	}
	c.mu.Unlock()

	if err != nil {
		c.mu.Lock()
		delete(c.pending, actionID)
		c.mu.Unlock()
		return nil, err
	}
	return ch, nil
}

func (c *Client) forget(actionID string) {
	c.mu.Lock()
	delete(c.pending, actionID)
	c.mu.Unlock()
}

// Dial places an outbound call and blocks until the carrier accepts or
// rejects the origination request, or ctx/the dial timeout expires.
func (c *Client) Dial(ctx context.Context, opts DialOptions) (string, error) {
	actionID := uuid.NewString()
	callSid := uuid.NewString()

	var sb strings.Builder
	sb.WriteString("Action: Originate\r\n")
	fmt.Fprintf(&sb, "ActionID: %s\r\n", actionID)
	fmt.Fprintf(&sb, "CallSid: %s\r\n", callSid)
	fmt.Fprintf(&sb, "To: %s\r\n", opts.To)
	fmt.Fprintf(&sb, "From: %s\r\n", opts.From)
	if opts.Region != "" {
		fmt.Fprintf(&sb, "Region: %s\r\n", opts.Region)
	}
	fmt.Fprintf(&sb, "MachineDetection: %t\r\n", opts.MachineDetection.Enabled)
	if opts.MachineDetection.Enabled {
		fmt.Fprintf(&sb, "MachineDetectionTimeout: %d\r\n", opts.MachineDetection.TimeoutMs)
	}
	fmt.Fprintf(&sb, "Record: %t\r\n", opts.Recording)
	fmt.Fprintf(&sb, "MediaStreamUrl: %s\r\n", opts.MediaStreamURL)
	fmt.Fprintf(&sb, "StatusCallbackUrl: %s\r\n", opts.StatusCallbackURL)
	for k, v := range opts.CustomParameters {
		fmt.Fprintf(&sb, "Variable: %s=%s\r\n", k, v)
	}
	sb.WriteString("\r\n")

	respCh, err := c.send(actionID, sb.String())
	if err != nil {
		return "", fmt.Errorf("sending dial action: %w", err)
	}
	defer c.forget(actionID)

	timeout := c.cfg.DialTimeout()
	select {
	case ev := <-respCh:
		if ev.fields["Response"] != "Success" {
			return "", fmt.Errorf("dial rejected: %s", ev.fields["Message"])
		}
		return callSid, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(timeout):
		return "", fmt.Errorf("dial timed out after %s", timeout)
	}
}

// Hangup is idempotent: an unknown or already-terminated callSid is
// logged and treated as success.
func (c *Client) Hangup(ctx context.Context, callSid, reason string) error {
	actionID := uuid.NewString()
	action := fmt.Sprintf("Action: Hangup\r\nActionID: %s\r\nCallSid: %s\r\nReason: %s\r\n\r\n",
		actionID, callSid, reason)

	respCh, err := c.send(actionID, action)
	if err != nil {
		log.Printf("[Telephony] hangup for %s could not be sent (treating as already terminated): %v", callSid, err)
		return nil
	}
	defer c.forget(actionID)

	timeout := c.cfg.HangupTimeout()
	select {
	case ev := <-respCh:
		if ev.fields["Response"] != "Success" {
			log.Printf("[Telephony] hangup for unknown/ended call %s: %s", callSid, ev.fields["Message"])
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		log.Printf("[Telephony] hangup confirmation for %s timed out after %s", callSid, timeout)
		return nil
	}
}

func (c *Client) Close() error {
	close(c.done)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
