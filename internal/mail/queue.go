package mail

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/imroc/req/v3"

	"github.com/rnblock/api-key-provider/internal/config"
)

// SendEmailPath is the job endpoint the queue delivers to
const SendEmailPath = "/api/jobs/send-email"

// Publisher defers a message for later delivery
type Publisher interface {
	Publish(ctx context.Context, msg *Message) error
}

// QueuePublisher posts mail jobs to a QStash-compatible HTTP queue. The queue then
// calls the send-email job endpoint of this service with the same JSON body.
type QueuePublisher struct {
	client  *req.Client
	token   string
	target  string
	retries int
}

// NewQueuePublisher returns nil when no queue token is configured
func NewQueuePublisher(cfg config.QueueConfig, publicURL string) *QueuePublisher {
	if cfg.Token == "" {
		return nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &QueuePublisher{
		client: req.C().
			SetTimeout(timeout).
			SetCommonRetryCount(2).
			SetUserAgent("api-key-provider"),
		token:   cfg.Token,
		target:  strings.TrimRight(cfg.PublishURL, "/") + "/" + strings.TrimRight(publicURL, "/") + SendEmailPath,
		retries: cfg.Retries,
	}
}

// Publish enqueues msg; the queue retries delivery to the job endpoint on failure
func (p *QueuePublisher) Publish(ctx context.Context, msg *Message) error {
	resp, err := p.client.R().
		SetContext(ctx).
		SetBearerAuthToken(p.token).
		SetHeader("Upstash-Retries", strconv.Itoa(p.retries)).
		SetBodyJsonMarshal(msg).
		Post(p.target)
	if err != nil {
		return fmt.Errorf("publish %s email: %w", msg.Type, err)
	}
	if resp.IsErrorState() {
		return fmt.Errorf("publish %s email: queue returned %d: %s", msg.Type, resp.StatusCode, resp.String())
	}
	return nil
}
