package producer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"procodus.dev/water-monitor/pkg/mq"
)

// Sink names used in logs and metrics.
const (
	SinkAMQP = "amqp"
	SinkHTTP = "http"
)

// submitPath is the backend endpoint that accepts readings.
const submitPath = "/api/sensor-data"

// Publisher delivers one encoded reading.
type Publisher interface {
	Publish(ctx context.Context, payload []byte) error
	Sink() string
	Close() error
}

// AMQPPublisher pushes readings onto the RabbitMQ ingest queue.
type AMQPPublisher struct {
	Client mq.ClientInterface
}

// Publish implements Publisher.
func (p AMQPPublisher) Publish(ctx context.Context, payload []byte) error {
	return p.Client.Push(ctx, payload)
}

// Sink implements Publisher.
func (AMQPPublisher) Sink() string { return SinkAMQP }

// Close implements Publisher.
func (p AMQPPublisher) Close() error {
	if err := p.Client.Close(); err != nil && !errors.Is(err, mq.ErrAlreadyClosed) {
		return err
	}
	return nil
}

// HTTPPublisher posts readings to the backend API.
type HTTPPublisher struct {
	url    string
	client *http.Client
}

// NewHTTPPublisher creates a publisher for the API at baseURL.
func NewHTTPPublisher(baseURL string, client *http.Client) (*HTTPPublisher, error) {
	if baseURL == "" {
		return nil, errors.New("API URL cannot be empty")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPPublisher{
		url:    strings.TrimRight(baseURL, "/") + submitPath,
		client: client,
	}, nil
}

// Publish implements Publisher. Anything but 201 Created is an error.
func (p *HTTPPublisher) Publish(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Sink implements Publisher.
func (*HTTPPublisher) Sink() string { return SinkHTTP }

// Close implements Publisher.
func (p *HTTPPublisher) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
