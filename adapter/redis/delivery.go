package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/seamline-io/conveyor/collab"
	"github.com/seamline-io/conveyor/types"
)

// DefaultDeliveryChannel is the default channel for outbound documents.
const DefaultDeliveryChannel = "conveyor:delivery"

// deliveryEnvelope is the wire shape pushed to the delivery channel. The
// subscriber (a bot, a mailer, a CMS bridge) fans the document out to its
// real destination.
type deliveryEnvelope struct {
	Token    string `json:"token"`
	RunDate  string `json:"run_date"`
	Kind     string `json:"kind"`
	Document string `json:"document"`
	SentAt   string `json:"sent_at"`
}

// Delivery implements the delivery collaborator over Redis pub/sub.
type Delivery struct {
	client  *goredis.Client
	channel string
	now     func() time.Time
}

// NewDelivery creates a pub/sub delivery channel. Returns an error if the
// URL is empty or invalid.
func NewDelivery(url, channel string) (*Delivery, error) {
	if url == "" {
		return nil, fmt.Errorf("redis delivery requires a URL")
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis delivery: invalid URL: %w", err)
	}
	if channel == "" {
		channel = DefaultDeliveryChannel
	}
	return &Delivery{
		client:  goredis.NewClient(opts),
		channel: channel,
		now:     time.Now,
	}, nil
}

// Deliver publishes the document and returns its delivery token. The token
// is content-derived so a replayed publish of the same document on the same
// date yields the same token.
func (d *Delivery) Deliver(ctx context.Context, date types.RunDate, kind string, doc []byte) (string, error) {
	sum := sha256.Sum256(append([]byte(string(date)+"/"+kind+"\x00"), doc...))
	token := hex.EncodeToString(sum[:8])

	body, err := json.Marshal(deliveryEnvelope{
		Token:    token,
		RunDate:  string(date),
		Kind:     kind,
		Document: string(doc),
		SentAt:   d.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("redis delivery: marshal: %w", err)
	}
	if err := d.client.Publish(ctx, d.channel, body).Err(); err != nil {
		return "", fmt.Errorf("redis delivery: publish: %w", err)
	}
	return token, nil
}

// Close releases the client.
func (d *Delivery) Close() error { return d.client.Close() }

// Verify Delivery implements the collaborator interface.
var _ collab.Delivery = (*Delivery)(nil)
