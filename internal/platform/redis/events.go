package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"cid-escrow-backend/internal/domain/escrow"
)

const publishTimeout = 5 * time.Second

// EncodeChange is the pub/sub payload of an account change.
func EncodeChange(change escrow.AccountChange) ([]byte, error) {
	return json.Marshal(change)
}

func DecodeChange(payload string) (escrow.AccountChange, error) {
	var change escrow.AccountChange
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		return escrow.AccountChange{}, fmt.Errorf("decode account change: %w", err)
	}
	if change.Kind == "" || change.Escrow == "" {
		return escrow.AccountChange{}, fmt.Errorf("decode account change: missing kind or escrow")
	}
	return change, nil
}

type publishClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Publisher fans ledger account changes out over a pub/sub channel.
type Publisher struct {
	client  publishClient
	channel string
	log     zerolog.Logger
}

func NewPublisher(client publishClient, channel string, log zerolog.Logger) *Publisher {
	return &Publisher{
		client:  client,
		channel: channel,
		log:     log.With().Str("component", "ledger_publisher").Str("channel", channel).Logger(),
	}
}

func (p *Publisher) Publish(ctx context.Context, change escrow.AccountChange) error {
	payload, err := EncodeChange(change)
	if err != nil {
		return fmt.Errorf("encode account change: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish account change: %w", err)
	}
	return nil
}

// Forward publishes every change n reports until the returned function is
// called. Publish failures are logged; subscribers resync on their next
// notification anyway.
func (p *Publisher) Forward(n escrow.Notifier) (stop func()) {
	return n.OnAccountChange(func(change escrow.AccountChange) {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := p.Publish(ctx, change); err != nil {
			p.log.Error().Err(err).Str("escrow", change.Escrow).Str("kind", string(change.Kind)).Msg("Failed to publish account change")
		}
	})
}

// Subscriber receives account changes published by a Publisher. Its
// Subscribe method satisfies watch.SubscribeFunc.
type Subscriber struct {
	client  *Client
	channel string
	log     zerolog.Logger
}

func NewSubscriber(client *Client, channel string, log zerolog.Logger) *Subscriber {
	return &Subscriber{
		client:  client,
		channel: channel,
		log:     log.With().Str("component", "ledger_subscriber").Str("channel", channel).Logger(),
	}
}

func (s *Subscriber) Subscribe(fn func(escrow.AccountChange)) (func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	ps := s.client.Subscribe(ctx, s.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", s.channel, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		dispatch(ps.Channel(), fn, s.log)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = ps.Close()
			<-done
		})
	}, nil
}

// dispatch runs until msgs is closed.
func dispatch(msgs <-chan *redis.Message, fn func(escrow.AccountChange), log zerolog.Logger) {
	for msg := range msgs {
		change, err := DecodeChange(msg.Payload)
		if err != nil {
			log.Warn().Err(err).Msg("Dropping malformed account change")
			continue
		}
		fn(change)
	}
}
