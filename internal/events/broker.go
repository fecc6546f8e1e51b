package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	redisclient "github.com/WHABGAMES/rafeq-backend-sub002/internal/redis"
)

// Client is one in-process subscriber to a channel's notification stream.
type Client struct {
	ChannelID string
	Events    chan Event
	Done      chan struct{}
}

// Broker fans session notifications out to in-process subscribers and
// mirrors every publish through Redis pub/sub so other instances (and the
// automation dispatcher) see them too.
type Broker struct {
	redis   *redisclient.Client
	clients map[string]map[*Client]bool // channelID -> set of clients
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:   redisClient,
		clients: make(map[string]map[*Client]bool),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *Broker) Subscribe(channelID string) *Client {
	client := &Client{
		ChannelID: channelID,
		Events:    make(chan Event, 100),
		Done:      make(chan struct{}),
	}

	b.mu.Lock()
	if b.clients[channelID] == nil {
		b.clients[channelID] = make(map[*Client]bool)
		go b.subscribeToRedis(channelID)
	}
	b.clients[channelID][client] = true
	clientCount := len(b.clients[channelID])
	b.mu.Unlock()

	log.Info().
		Str("channelId", channelID).
		Int("clientCount", clientCount).
		Msg("event client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if clients, ok := b.clients[client.ChannelID]; ok {
		delete(clients, client)
		close(client.Done)

		if len(clients) == 0 {
			delete(b.clients, client.ChannelID)
		}

		log.Info().
			Str("channelId", client.ChannelID).
			Int("clientCount", len(clients)).
			Msg("event client unsubscribed")
	}
}

func (b *Broker) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	channel := redisclient.SessionEventChannel(event.ChannelID)
	return b.redis.Publish(ctx, channel, data).Err()
}

func (b *Broker) subscribeToRedis(channelID string) {
	channel := redisclient.SessionEventChannel(channelID)
	pubsub := b.redis.Subscribe(b.ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("channelId", channelID).
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-b.ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			b.broadcast(channelID, event)
		}
	}
}

func (b *Broker) broadcast(channelID string, event Event) {
	b.mu.RLock()
	clients := b.clients[channelID]
	b.mu.RUnlock()

	for client := range clients {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("channelId", channelID).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, clients := range b.clients {
		for client := range clients {
			close(client.Done)
		}
	}
	b.clients = make(map[string]map[*Client]bool)
}

func (b *Broker) ClientCount(channelID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[channelID])
}
