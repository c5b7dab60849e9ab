package backend_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"procodus.dev/water-monitor/internal/backend"
	"procodus.dev/water-monitor/internal/hub"
	"procodus.dev/water-monitor/pkg/metrics"
	"procodus.dev/water-monitor/pkg/mq/mock"
)

// blockingPublisher holds every Publish call until release is closed.
type blockingPublisher struct {
	mu       sync.Mutex
	payloads [][]byte
	release  chan struct{}
	closed   int
}

func (b *blockingPublisher) Publish(ctx context.Context, payload []byte) error {
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.payloads = append(b.payloads, payload)
	return nil
}

func (b *blockingPublisher) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed++
	return nil
}

func (b *blockingPublisher) Payloads() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.payloads...)
}

var _ = Describe("Relay", func() {
	var (
		logger *slog.Logger
		am     *metrics.APIMetrics
		event  hub.Event
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
		am = metrics.NewAPIMetricsWith(prometheus.NewRegistry(), "test")
		event = hub.Event{
			Timestamp:  time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
			WaterLevel: 210.25,
			WaterFlow:  88.5,
		}
	})

	Describe("NewRelay", func() {
		DescribeTable("should reject incomplete configuration",
			func(cfg *backend.RelayConfig, msg string) {
				relay, err := backend.NewRelay(cfg)
				Expect(err).To(MatchError(ContainSubstring(msg)))
				Expect(relay).To(BeNil())
			},
			Entry("nil config", nil, "config cannot be nil"),
			Entry("missing name", &backend.RelayConfig{Publisher: &blockingPublisher{}, Logger: slog.Default()}, "name cannot be empty"),
			Entry("missing publisher", &backend.RelayConfig{Name: "x", Logger: slog.Default()}, "publisher cannot be nil"),
			Entry("missing logger", &backend.RelayConfig{Name: "x", Publisher: &blockingPublisher{}}, "logger cannot be nil"),
		)
	})

	Context("with an AMQP publisher", func() {
		It("should publish the sensor-update envelope", func() {
			client := mock.NewClient("sensor-events")
			relay, err := backend.NewRelay(&backend.RelayConfig{
				Name:      "amqp",
				Publisher: backend.AMQPPublisher{Client: client},
				Logger:    logger,
				Metrics:   am,
			})
			Expect(err).NotTo(HaveOccurred())
			relay.Start(context.Background())
			DeferCleanup(func() { _ = relay.Stop() })

			Expect(relay.Deliver(event)).To(Succeed())

			Eventually(client.Pushed).Should(HaveLen(1))
			var env hub.Envelope
			Expect(json.Unmarshal(client.Pushed()[0], &env)).To(Succeed())
			Expect(env.Event).To(Equal(hub.EventName))
			Expect(env.Data).To(Equal(event))
			Eventually(func() float64 {
				return testutil.ToFloat64(am.RelayEvents.WithLabelValues("amqp", "published"))
			}).Should(Equal(1.0))
		})

		It("should count failed publishes and keep running", func() {
			client := mock.NewClient("sensor-events")
			client.PushError = errors.New("broker unavailable")
			relay, err := backend.NewRelay(&backend.RelayConfig{
				Name: "amqp", Publisher: backend.AMQPPublisher{Client: client}, Logger: logger, Metrics: am,
			})
			Expect(err).NotTo(HaveOccurred())
			relay.Start(context.Background())
			DeferCleanup(func() { _ = relay.Stop() })

			Expect(relay.Deliver(event)).To(Succeed())
			Expect(relay.Deliver(event)).To(Succeed())

			Eventually(func() float64 {
				return testutil.ToFloat64(am.RelayEvents.WithLabelValues("amqp", "failed"))
			}).Should(Equal(2.0))
		})

		It("should close the client on Stop", func() {
			client := mock.NewClient("sensor-events")
			relay, err := backend.NewRelay(&backend.RelayConfig{
				Name: "amqp", Publisher: backend.AMQPPublisher{Client: client}, Logger: logger,
			})
			Expect(err).NotTo(HaveOccurred())
			relay.Start(context.Background())

			Expect(relay.Stop()).To(Succeed())
			Expect(relay.Stop()).To(Succeed())
			Expect(client.CloseCalls()).To(Equal(1))
		})
	})

	It("should drop events when the buffer is full without blocking the caller", func() {
		pub := &blockingPublisher{release: make(chan struct{})}
		relay, err := backend.NewRelay(&backend.RelayConfig{
			Name: "slow", Publisher: pub, Logger: logger, Buffer: 1, Metrics: am,
		})
		Expect(err).NotTo(HaveOccurred())
		relay.Start(context.Background())
		DeferCleanup(func() { _ = relay.Stop() })

		// At most one event is in flight and one buffered; the rest are dropped.
		Expect(relay.Deliver(event)).To(Succeed())
		Eventually(func() int {
			Expect(relay.Deliver(event)).To(Succeed())
			return int(testutil.ToFloat64(am.RelayEvents.WithLabelValues("slow", "dropped")))
		}).Should(BeNumerically(">=", 1))

		close(pub.release)
		Eventually(pub.Payloads).ShouldNot(BeEmpty())
		Consistently(func() int { return len(pub.Payloads()) }, 100*time.Millisecond).Should(BeNumerically("<=", 2))
	})

	It("should refuse delivery after Stop so the hub unsubscribes it", func() {
		pub := &blockingPublisher{release: make(chan struct{})}
		relay, err := backend.NewRelay(&backend.RelayConfig{Name: "gone", Publisher: pub, Logger: logger})
		Expect(err).NotTo(HaveOccurred())
		relay.Start(context.Background())

		h := hub.New(logger, nil)
		h.Subscribe(relay)
		Expect(h.Len()).To(Equal(1))

		Expect(relay.Stop()).To(Succeed())
		Expect(relay.Deliver(event)).NotTo(Succeed())

		h.Broadcast(event)
		Expect(h.Len()).To(Equal(0))
		Expect(pub.closed).To(Equal(1))
	})

	Describe("NewKafkaPublisher", func() {
		It("should require brokers and a topic", func() {
			_, err := backend.NewKafkaPublisher(nil, "sensor-events")
			Expect(err).To(MatchError(ContainSubstring("brokers cannot be empty")))

			_, err = backend.NewKafkaPublisher([]string{"localhost:9092"}, "")
			Expect(err).To(MatchError(ContainSubstring("topic cannot be empty")))
		})

		It("should create a writer without connecting", func() {
			pub, err := backend.NewKafkaPublisher([]string{"localhost:9092"}, "sensor-events")
			Expect(err).NotTo(HaveOccurred())
			Expect(pub.Close()).To(Succeed())
		})
	})
})
