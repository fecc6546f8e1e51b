package session

import (
	"context"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/WHABGAMES/rafeq-backend-sub002/internal/events"
	"github.com/WHABGAMES/rafeq-backend-sub002/internal/model"
	"github.com/WHABGAMES/rafeq-backend-sub002/internal/protocol"
	"github.com/WHABGAMES/rafeq-backend-sub002/internal/repository"
)

// fakeClient is a hand-driven protocol client: tests emit events on it to
// simulate the wire library.
type fakeClient struct {
	mu          sync.Mutex
	authDir     string
	connHandler func(protocol.ConnectionUpdate)
	credHandler func()
	msgHandler  func(protocol.IncomingMessage)

	// onConnect runs in its own goroutine when Connect is called.
	onConnect func(*fakeClient)

	connectErr   error
	connectCalls int

	pairingCode  string
	pairingErrs  []error // consumed one per RequestPairingCode call
	pairingCalls int

	phone   string
	sendID  string
	sendErr error
	closed  bool
}

func (c *fakeClient) SetConnectionHandler(fn func(protocol.ConnectionUpdate)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connHandler = fn
}

func (c *fakeClient) SetCredentialHandler(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credHandler = fn
}

func (c *fakeClient) SetMessageHandler(fn func(protocol.IncomingMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgHandler = fn
}

func (c *fakeClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.connectCalls++
	err := c.connectErr
	script := c.onConnect
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if script != nil {
		go script(c)
	}
	return nil
}

func (c *fakeClient) RequestPairingCode(ctx context.Context, phoneNumber string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pairingCalls++
	if len(c.pairingErrs) > 0 {
		err := c.pairingErrs[0]
		c.pairingErrs = c.pairingErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return c.pairingCode, nil
}

func (c *fakeClient) SendText(ctx context.Context, to, text string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return "", c.sendErr
	}
	return c.sendID, nil
}

func (c *fakeClient) PhoneNumber() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phone
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeClient) hasHandlers() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connHandler != nil || c.credHandler != nil || c.msgHandler != nil
}

func (c *fakeClient) emitQR(payload string) {
	c.mu.Lock()
	fn := c.connHandler
	c.mu.Unlock()
	if fn != nil {
		fn(protocol.ConnectionUpdate{State: protocol.StateQR, QR: payload})
	}
}

func (c *fakeClient) emitOpen(phone string) {
	c.mu.Lock()
	c.phone = phone
	fn := c.connHandler
	c.mu.Unlock()
	if fn != nil {
		fn(protocol.ConnectionUpdate{State: protocol.StateOpen})
	}
}

func (c *fakeClient) emitClose(reason protocol.CloseReason) {
	c.mu.Lock()
	fn := c.connHandler
	c.mu.Unlock()
	if fn != nil {
		fn(protocol.ConnectionUpdate{State: protocol.StateClosed, Reason: reason})
	}
}

func (c *fakeClient) emitCredentials() {
	c.mu.Lock()
	fn := c.credHandler
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *fakeClient) emitMessage(msg protocol.IncomingMessage) {
	c.mu.Lock()
	fn := c.msgHandler
	c.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

type fakeFactory struct {
	mu      sync.Mutex
	clients []*fakeClient
	newErr  error
	// scripts are consumed one per new client; after they run out, the
	// prototype's onConnect applies.
	scripts []func(*fakeClient)
	// prototype is copied onto every new client.
	prototype fakeClient
	// onNewClient runs at the start of every NewClient call; tests use it
	// to interleave manager operations with a handle mid-creation.
	onNewClient func()
}

func (f *fakeFactory) pushScript(fn func(*fakeClient)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, fn)
}

func (f *fakeFactory) NewClient(authDir string) (protocol.Client, error) {
	f.mu.Lock()
	hook := f.onNewClient
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newErr != nil {
		return nil, f.newErr
	}
	c := &fakeClient{
		authDir:     authDir,
		onConnect:   f.prototype.onConnect,
		connectErr:  f.prototype.connectErr,
		pairingCode: f.prototype.pairingCode,
		pairingErrs: f.prototype.pairingErrs,
		phone:       f.prototype.phone,
		sendID:      f.prototype.sendID,
		sendErr:     f.prototype.sendErr,
	}
	if len(f.scripts) > 0 {
		c.onConnect = f.scripts[0]
		f.scripts = f.scripts[1:]
	}
	f.clients = append(f.clients, c)
	return c, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *fakeFactory) client(i int) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[i]
}

func (f *fakeFactory) last() *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[len(f.clients)-1]
}

// fakeChannelRepo records the channel-store writes the manager performs.
// The connected/disconnected maps model one status column: a write to one
// clears the other.
type fakeChannelRepo struct {
	mu           sync.Mutex
	channels     []model.Channel
	blobs        map[string][]byte
	connected    map[string]string // channelID -> phone
	disconnected map[string]string // channelID -> message
	lastErrors   map[string]string

	// connectDelay stalls MarkConnected before it writes, simulating a
	// slow database.
	connectDelay time.Duration
}

func newFakeChannelRepo() *fakeChannelRepo {
	return &fakeChannelRepo{
		blobs:        make(map[string][]byte),
		connected:    make(map[string]string),
		disconnected: make(map[string]string),
		lastErrors:   make(map[string]string),
	}
}

func (f *fakeChannelRepo) FindByID(ctx context.Context, id string) (*model.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.channels {
		if f.channels[i].ID == id {
			return &f.channels[i], nil
		}
	}
	return nil, nil
}

func (f *fakeChannelRepo) FindByStatus(ctx context.Context, status model.ChannelStatus) ([]model.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Channel
	for _, ch := range f.channels {
		if ch.Status == status {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (f *fakeChannelRepo) MarkConnecting(ctx context.Context, id, sessionID string) error {
	return nil
}

func (f *fakeChannelRepo) MarkConnected(ctx context.Context, id, phoneNumber, sessionID string) error {
	f.mu.Lock()
	delay := f.connectDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected[id] = phoneNumber
	delete(f.disconnected, id)
	return nil
}

func (f *fakeChannelRepo) MarkDisconnected(ctx context.Context, id, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected[id] = message
	delete(f.connected, id)
	return nil
}

func (f *fakeChannelRepo) SetLastError(ctx context.Context, id, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastErrors[id] = message
	return nil
}

func (f *fakeChannelRepo) SaveAuthState(ctx context.Context, id string, blob []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[id] = blob
	return nil
}

func (f *fakeChannelRepo) GetAuthState(ctx context.Context, id string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blobs[id], nil
}

func (f *fakeChannelRepo) ClearAuthState(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blobs, id)
	return nil
}

func (f *fakeChannelRepo) WithTx(tx *sqlx.Tx) repository.ChannelRepository { return f }

func (f *fakeChannelRepo) connectedPhone(id string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	phone, ok := f.connected[id]
	return phone, ok
}

func (f *fakeChannelRepo) disconnectedMessage(id string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.disconnected[id]
	return msg, ok
}

func (f *fakeChannelRepo) authBlob(id string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blobs[id]
}

// fakeNotifier records published notifications.
type fakeNotifier struct {
	mu     sync.Mutex
	events []events.Event
}

func (f *fakeNotifier) Publish(ctx context.Context, event events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeNotifier) byType(t events.Type) []events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []events.Event
	for _, e := range f.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
