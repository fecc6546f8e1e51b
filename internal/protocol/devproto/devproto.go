// Package devproto is an in-memory loopback protocol driver. It pairs
// instantly without a real phone, which makes the full session lifecycle
// explorable in local development and exercisable in tests. Register it by
// blank-importing the package and setting PROTOCOL_DRIVER=dev.
package devproto

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/WHABGAMES/rafeq-backend-sub002/internal/protocol"
)

const DriverName = "dev"

const (
	qrDelay       = 50 * time.Millisecond
	autoPairDelay = 2 * time.Second
	resumeDelay   = 50 * time.Millisecond

	credsFile    = "creds.json"
	defaultPhone = "966500000000"
)

func init() {
	protocol.Register(DriverName, factory{})
}

type factory struct{}

func (factory) NewClient(authDir string) (protocol.Client, error) {
	if err := os.MkdirAll(authDir, 0o700); err != nil {
		return nil, fmt.Errorf("create auth dir: %w", err)
	}
	return &client{authDir: authDir}, nil
}

type creds struct {
	Phone    string    `json:"phone"`
	PairedAt time.Time `json:"pairedAt"`
}

// client simulates a device-paired connection. Pairing completes on its own
// after autoPairDelay, or immediately resumes when creds.json exists.
type client struct {
	mu          sync.Mutex
	authDir     string
	connHandler func(protocol.ConnectionUpdate)
	credHandler func()
	msgHandler  func(protocol.IncomingMessage)
	phone       string
	connected   bool
	closed      bool
	msgSeq      int
}

func (c *client) SetConnectionHandler(fn func(protocol.ConnectionUpdate)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connHandler = fn
}

func (c *client) SetCredentialHandler(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credHandler = fn
}

func (c *client) SetMessageHandler(fn func(protocol.IncomingMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgHandler = fn
}

func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("devproto: client is closed")
	}
	c.mu.Unlock()

	stored, err := c.readCreds()
	if err == nil {
		go c.resume(stored)
		return nil
	}

	go c.pair()
	return nil
}

func (c *client) resume(stored creds) {
	time.Sleep(resumeDelay)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.phone = stored.Phone
	c.connected = true
	c.mu.Unlock()

	c.emit(protocol.ConnectionUpdate{State: protocol.StateOpen})
}

func (c *client) pair() {
	time.Sleep(qrDelay)
	c.emit(protocol.ConnectionUpdate{State: protocol.StateQR, QR: "dev://pair/" + randomHex(16)})

	time.Sleep(autoPairDelay)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.phone == "" {
		c.phone = defaultPhone
	}
	phone := c.phone
	c.connected = true
	c.mu.Unlock()

	if err := c.writeCreds(creds{Phone: phone, PairedAt: time.Now()}); err == nil {
		c.emitCreds()
	}
	c.emit(protocol.ConnectionUpdate{State: protocol.StateOpen})
}

func (c *client) RequestPairingCode(ctx context.Context, phoneNumber string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", fmt.Errorf("devproto: client is closed")
	}
	c.phone = phoneNumber
	return fmt.Sprintf("%s-%s", randomDigits(4), randomDigits(4)), nil
}

func (c *client) SendText(ctx context.Context, to string, text string) (string, error) {
	c.mu.Lock()
	if !c.connected || c.closed {
		c.mu.Unlock()
		return "", fmt.Errorf("devproto: not connected")
	}
	c.msgSeq++
	id := fmt.Sprintf("dev-%d", c.msgSeq)
	handler := c.msgHandler
	c.mu.Unlock()

	// Loop the message back so message flow is observable in development.
	if handler != nil {
		go handler(protocol.IncomingMessage{
			ID:        id + "-echo",
			From:      to,
			Text:      text,
			Timestamp: time.Now(),
		})
	}
	return id, nil
}

func (c *client) PhoneNumber() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phone
}

func (c *client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.connected = false
	return nil
}

// Drop simulates an involuntary disconnect with the given reason. On logout
// the stored credentials are removed, like a real remote unpair.
func (c *client) Drop(reason protocol.CloseReason) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.mu.Unlock()

	if reason.Terminal() {
		os.Remove(filepath.Join(c.authDir, credsFile))
	}
	c.emit(protocol.ConnectionUpdate{State: protocol.StateClosed, Reason: reason})
}

func (c *client) emit(u protocol.ConnectionUpdate) {
	c.mu.Lock()
	handler := c.connHandler
	c.mu.Unlock()
	if handler != nil {
		handler(u)
	}
}

func (c *client) emitCreds() {
	c.mu.Lock()
	handler := c.credHandler
	c.mu.Unlock()
	if handler != nil {
		handler()
	}
}

func (c *client) readCreds() (creds, error) {
	data, err := os.ReadFile(filepath.Join(c.authDir, credsFile))
	if err != nil {
		return creds{}, err
	}
	var stored creds
	if err := json.Unmarshal(data, &stored); err != nil {
		return creds{}, err
	}
	return stored, nil
}

func (c *client) writeCreds(stored creds) error {
	data, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.authDir, credsFile), data, 0o600)
}

func randomHex(n int) string {
	b := make([]byte, n)
	rand.Read(b)
	return hex.EncodeToString(b)
}

func randomDigits(n int) string {
	b := make([]byte, n)
	rand.Read(b)
	out := make([]byte, n)
	for i, v := range b {
		out[i] = '0' + v%10
	}
	return string(out)
}
