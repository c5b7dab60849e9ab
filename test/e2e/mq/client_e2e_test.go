package mq

import (
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/water-monitor/pkg/mq"
)

var _ = Describe("MQ Client E2E", func() {
	var (
		client    *mq.Client
		queueName string
	)

	BeforeEach(func() {
		queueName = "e2e-" + time.Now().Format("150405.000000")
		client = mq.New(mq.Config{URL: rabbitmqURL, Queue: queueName, Logger: testLogger})
		DeferCleanup(func() { _ = client.Close() })
		Eventually(client.Ready, 20*time.Second).Should(BeTrue())
	})

	receive := func(deliveries <-chan amqp.Delivery) amqp.Delivery {
		var d amqp.Delivery
		Eventually(deliveries, 10*time.Second).Should(Receive(&d))
		return d
	}

	It("should report its queue name", func() {
		Expect(client.QueueName()).To(Equal(queueName))
	})

	It("should deliver confirmed pushes in order", func() {
		deliveries, err := client.Consume()
		Expect(err).NotTo(HaveOccurred())

		for i := range 3 {
			Expect(client.Push(context.Background(), fmt.Appendf(nil, `{"seq":%d}`, i))).To(Succeed())
		}

		for i := range 3 {
			d := receive(deliveries)
			Expect(d.Body).To(MatchJSON(fmt.Sprintf(`{"seq":%d}`, i)))
			Expect(d.ContentType).To(Equal("application/json"))
			Expect(d.Ack(false)).To(Succeed())
		}
	})

	It("should redeliver a requeued message", func() {
		deliveries, err := client.Consume()
		Expect(err).NotTo(HaveOccurred())
		Expect(client.UnsafePush(context.Background(), []byte(`{"waterLevel":1,"waterFlow":2}`))).To(Succeed())

		first := receive(deliveries)
		Expect(first.Nack(false, true)).To(Succeed())

		again := receive(deliveries)
		Expect(again.Redelivered).To(BeTrue())
		Expect(again.Body).To(Equal(first.Body))
		Expect(again.Ack(false)).To(Succeed())
	})

	It("should refuse work after Close", func() {
		Expect(client.Close()).To(Succeed())
		Expect(client.Close()).To(MatchError(mq.ErrAlreadyClosed))

		err := client.Push(context.Background(), []byte("late"))
		Expect(err).To(HaveOccurred())
	})
})
