package producer_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"procodus.dev/water-monitor/internal/producer"
	"procodus.dev/water-monitor/pkg/generator"
	"procodus.dev/water-monitor/pkg/metrics"
	"procodus.dev/water-monitor/pkg/mq"
	"procodus.dev/water-monitor/pkg/mq/mock"
)

var _ = Describe("Producer", func() {
	var (
		client *mock.Client
		pm     *metrics.ProducerMetrics
	)

	BeforeEach(func() {
		client = mock.NewClient("sensor-readings")
		pm = metrics.NewProducerMetricsWith(prometheus.NewRegistry(), "test")
	})

	It("should simulate a named station", func() {
		p := producer.NewProducer(producer.AMQPPublisher{Client: client}, nil)
		Expect(p.Station).NotTo(BeNil())
		Expect(p.Station.ID).NotTo(BeEmpty())
	})

	Describe("RandomDataPoint", func() {
		It("should publish a reading the ingest path accepts", func() {
			p := producer.NewProducer(producer.AMQPPublisher{Client: client}, pm)

			Expect(p.RandomDataPoint(context.Background())).To(Succeed())

			pushed := client.Pushed()
			Expect(pushed).To(HaveLen(1))
			var body map[string]any
			Expect(json.Unmarshal(pushed[0], &body)).To(Succeed())
			Expect(body).To(HaveKey("waterLevel"))
			Expect(body).To(HaveKey("waterFlow"))
			Expect(body).To(HaveKey("timestamp"))
			Expect(body["waterLevel"]).To(BeNumerically(">=", generator.MinLevel))
			Expect(body["waterLevel"]).To(BeNumerically("<=", generator.MaxLevel))
			Expect(testutil.ToFloat64(pm.ReadingsGenerated)).To(Equal(1.0))
		})

		It("should report and count publish failures", func() {
			client.PushError = mq.ErrNotConnected
			p := producer.NewProducer(producer.AMQPPublisher{Client: client}, pm)

			Expect(p.RandomDataPoint(context.Background())).To(MatchError(mq.ErrNotConnected))
			Expect(testutil.ToFloat64(pm.PublishFailures.WithLabelValues("amqp", "publish_error"))).To(Equal(1.0))
			Expect(testutil.ToFloat64(pm.ReadingsGenerated)).To(BeZero())
		})
	})
})

var _ = Describe("Publishers", func() {
	Describe("AMQPPublisher", func() {
		It("should tolerate an already closed client", func() {
			client := mock.NewClient("q")
			client.CloseError = mq.ErrAlreadyClosed
			Expect(producer.AMQPPublisher{Client: client}.Close()).To(Succeed())
		})

		It("should report other close errors", func() {
			client := mock.NewClient("q")
			client.CloseError = errors.New("boom")
			Expect(producer.AMQPPublisher{Client: client}.Close()).To(MatchError("boom"))
		})
	})

	Describe("HTTPPublisher", func() {
		var (
			status   int
			received chan []byte
			server   *httptest.Server
		)

		BeforeEach(func() {
			status = http.StatusCreated
			received = make(chan []byte, 1)
			server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				defer GinkgoRecover()
				Expect(r.Method).To(Equal(http.MethodPost))
				Expect(r.URL.Path).To(Equal("/api/sensor-data"))
				Expect(r.Header.Get("Content-Type")).To(Equal("application/json"))
				body, err := io.ReadAll(r.Body)
				Expect(err).NotTo(HaveOccurred())
				received <- body
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
			}))
			DeferCleanup(server.Close)
		})

		It("should require a URL", func() {
			_, err := producer.NewHTTPPublisher("", nil)
			Expect(err).To(MatchError(ContainSubstring("URL cannot be empty")))
		})

		It("should post the payload to the submit endpoint", func() {
			pub, err := producer.NewHTTPPublisher(server.URL+"/", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(pub.Sink()).To(Equal(producer.SinkHTTP))

			Expect(pub.Publish(context.Background(), []byte(`{"waterLevel":1,"waterFlow":2}`))).To(Succeed())
			Expect(received).To(Receive(MatchJSON(`{"waterLevel":1,"waterFlow":2}`)))
			Expect(pub.Close()).To(Succeed())
		})

		It("should fail on any status but 201", func() {
			status = http.StatusBadRequest
			pub, err := producer.NewHTTPPublisher(server.URL, nil)
			Expect(err).NotTo(HaveOccurred())

			err = pub.Publish(context.Background(), []byte(`{}`))
			Expect(err).To(MatchError(ContainSubstring("unexpected status 400")))
		})
	})
})
