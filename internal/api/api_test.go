package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"procodus.dev/water-monitor/internal/api"
	"procodus.dev/water-monitor/internal/command"
	"procodus.dev/water-monitor/internal/hub"
	"procodus.dev/water-monitor/internal/ingest"
	"procodus.dev/water-monitor/internal/store"
	"procodus.dev/water-monitor/pkg/metrics"
)

const adminSecret = "letmein"

// brokenReadings fails every call with err, or panics when err is nil.
type brokenReadings struct{ err error }

func (b brokenReadings) fail() error {
	if b.err == nil {
		panic("boom")
	}
	return b.err
}

func (b brokenReadings) SubmitReading(context.Context, ingest.Submission) (*store.Reading, error) {
	return nil, b.fail()
}

func (b brokenReadings) GetLatest(context.Context) (*store.Reading, error) {
	return nil, b.fail()
}

func (b brokenReadings) GetHistory(context.Context) ([]store.Reading, error) {
	return nil, b.fail()
}

// stuckViewer refuses every event like a viewer with a full queue.
type stuckViewer struct{}

func (stuckViewer) Deliver(hub.Event) error { return errors.New("send buffer full") }

type fixture struct {
	server   *httptest.Server
	hub      *hub.Hub
	gateway  *command.Gateway
	notified *bytes.Buffer
	logger   *slog.Logger
}

func newFixture(m *metrics.APIMetrics, override api.Readings) *fixture {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))

	db, err := store.NewDB(&store.DBConfig{Logger: logger, DSN: ":memory:"})
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(func() { _ = store.CloseDB(db, logger) })

	rs, err := store.New(store.Config{DB: db, Logger: logger})
	Expect(err).NotTo(HaveOccurred())

	h := hub.New(logger, m)
	svc, err := ingest.NewService(ingest.Config{Store: rs, Broadcaster: h, Logger: logger})
	Expect(err).NotTo(HaveOccurred())

	notified := &bytes.Buffer{}
	gw, err := command.NewGateway(command.Config{
		Secret:   adminSecret,
		Notifier: command.LogNotifier{Logger: slog.New(slog.NewJSONHandler(notified, nil))},
		Logger:   logger,
	})
	Expect(err).NotTo(HaveOccurred())

	var readings api.Readings = svc
	if override != nil {
		readings = override
	}

	a, err := api.New(api.Config{
		Readings:       readings,
		Commands:       gw,
		Subscriptions:  h,
		Logger:         logger,
		Metrics:        m,
		MetricsHandler: metrics.Handler(),
	})
	Expect(err).NotTo(HaveOccurred())

	srv := httptest.NewServer(a)
	DeferCleanup(srv.Close)

	return &fixture{server: srv, hub: h, gateway: gw, notified: notified, logger: logger}
}

func (f *fixture) do(method, path, body string) (int, []byte) {
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	Expect(err).NotTo(HaveOccurred())
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return resp.StatusCode, data
}

func (f *fixture) dial() *websocket.Conn {
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + api.PathLive
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(func() { _ = conn.Close() })
	return conn
}

var _ = Describe("API", func() {
	var f *fixture

	BeforeEach(func() {
		f = newFixture(nil, nil)
	})

	Describe("New", func() {
		It("should validate dependencies", func() {
			_, err := api.New(api.Config{Commands: f.gateway, Subscriptions: f.hub, Logger: f.logger})
			Expect(err).To(MatchError(ContainSubstring("readings service cannot be nil")))
		})
	})

	Describe("GET /api/sensor-data/latest", func() {
		It("should return null on an empty store", func() {
			code, body := f.do(http.MethodGet, api.PathLatest, "")
			Expect(code).To(Equal(http.StatusOK))
			Expect(strings.TrimSpace(string(body))).To(Equal("null"))
		})

		It("should return the most recent reading", func() {
			f.do(http.MethodPost, api.PathSubmit, `{"waterLevel":1,"waterFlow":1,"timestamp":"2024-01-01T00:00:00Z"}`)
			f.do(http.MethodPost, api.PathSubmit, `{"waterLevel":2,"waterFlow":2,"timestamp":"2024-01-02T00:00:00Z"}`)

			code, body := f.do(http.MethodGet, api.PathLatest, "")
			Expect(code).To(Equal(http.StatusOK))

			var r map[string]any
			Expect(json.Unmarshal(body, &r)).To(Succeed())
			Expect(r).To(HaveKeyWithValue("waterLevel", 2.0))
			Expect(r).To(HaveKey("id"))
			Expect(r).To(HaveKey("timestamp"))
		})
	})

	Describe("GET /api/sensor-data/history", func() {
		It("should return an empty array on an empty store", func() {
			code, body := f.do(http.MethodGet, api.PathHistory, "")
			Expect(code).To(Equal(http.StatusOK))
			Expect(strings.TrimSpace(string(body))).To(Equal("[]"))
		})

		It("should return at most 100 readings newest first", func() {
			base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			for i := range 105 {
				ts := base.Add(time.Duration(i) * time.Minute).Format(time.RFC3339)
				code, _ := f.do(http.MethodPost, api.PathSubmit,
					fmt.Sprintf(`{"waterLevel":%d,"waterFlow":1,"timestamp":%q}`, i, ts))
				Expect(code).To(Equal(http.StatusCreated))
			}

			_, body := f.do(http.MethodGet, api.PathHistory, "")
			var rows []store.Reading
			Expect(json.Unmarshal(body, &rows)).To(Succeed())
			Expect(rows).To(HaveLen(100))
			Expect(rows[0].WaterLevel).To(Equal(104.0))
			Expect(rows[99].WaterLevel).To(Equal(5.0))
		})
	})

	Describe("POST /api/sensor-data", func() {
		It("should store the reading and answer 201 with the stored form", func() {
			code, body := f.do(http.MethodPost, api.PathSubmit, `{"waterLevel":42,"waterFlow":7}`)
			Expect(code).To(Equal(http.StatusCreated))

			var r store.Reading
			Expect(json.Unmarshal(body, &r)).To(Succeed())
			Expect(r.ID).NotTo(BeZero())
			Expect(r.WaterLevel).To(Equal(42.0))
			Expect(r.WaterFlow).To(Equal(7.0))
			Expect(r.Timestamp).To(BeTemporally("~", time.Now(), 5*time.Second))
		})

		DescribeTable("should answer 400 with a message for bad submissions",
			func(body string) {
				code, resp := f.do(http.MethodPost, api.PathSubmit, body)
				Expect(code).To(Equal(http.StatusBadRequest))

				var msg map[string]string
				Expect(json.Unmarshal(resp, &msg)).To(Succeed())
				Expect(msg["message"]).NotTo(BeEmpty())

				_, history := f.do(http.MethodGet, api.PathHistory, "")
				Expect(strings.TrimSpace(string(history))).To(Equal("[]"))
			},
			Entry("malformed JSON", `{"waterLevel":`),
			Entry("missing flow", `{"waterLevel":1}`),
			Entry("string value", `{"waterLevel":"1","waterFlow":2}`),
			Entry("empty body", ``),
		)
	})

	Describe("POST /api/send-sms", func() {
		It("should acknowledge a command with the right password", func() {
			code, body := f.do(http.MethodPost, api.PathSendSMS,
				`{"phoneNumber":"+15550100","message":"open valve","password":"`+adminSecret+`"}`)
			Expect(code).To(Equal(http.StatusOK))
			Expect(body).To(MatchJSON(`{"success":true,"message":"SMS command sent"}`))
			Expect(f.notified.String()).To(ContainSubstring("+15550100"))
		})

		DescribeTable("should answer 401 for other passwords",
			func(body string) {
				code, resp := f.do(http.MethodPost, api.PathSendSMS, body)
				Expect(code).To(Equal(http.StatusUnauthorized))
				Expect(resp).To(MatchJSON(`{"message":"Authentication failed"}`))
				Expect(f.notified.String()).To(BeEmpty())
			},
			Entry("wrong password", `{"phoneNumber":"1","message":"m","password":"nope"}`),
			Entry("missing password", `{"phoneNumber":"1","message":"m"}`),
		)

		It("should answer 400 for a malformed body", func() {
			code, _ := f.do(http.MethodPost, api.PathSendSMS, `not json`)
			Expect(code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("failure mapping", func() {
		It("should answer 500 with the error message when the store fails", func() {
			f = newFixture(nil, brokenReadings{err: fmt.Errorf("latest reading: %w", store.ErrPersistence)})

			for _, path := range []string{api.PathLatest, api.PathHistory} {
				code, body := f.do(http.MethodGet, path, "")
				Expect(code).To(Equal(http.StatusInternalServerError))
				Expect(body).To(MatchJSON(`{"message":"latest reading: persistence failure"}`))
			}

			code, _ := f.do(http.MethodPost, api.PathSubmit, `{"waterLevel":1,"waterFlow":1}`)
			Expect(code).To(Equal(http.StatusInternalServerError))
		})

		It("should recover from panics", func() {
			f = newFixture(nil, brokenReadings{})
			code, _ := f.do(http.MethodGet, api.PathLatest, "")
			Expect(code).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("ambient routes", func() {
		It("should report health", func() {
			code, body := f.do(http.MethodGet, api.PathHealth, "")
			Expect(code).To(Equal(http.StatusOK))
			Expect(body).To(MatchJSON(`{"status":"ok"}`))
		})

		It("should allow any origin", func() {
			req, err := http.NewRequest(http.MethodOptions, f.server.URL+api.PathSubmit, nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Origin", "http://dashboard.example")
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)

			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})

		It("should expose prometheus metrics", func() {
			code, body := f.do(http.MethodGet, api.PathMetrics, "")
			Expect(code).To(Equal(http.StatusOK))
			Expect(string(body)).To(ContainSubstring("go_goroutines"))
		})

		It("should record request metrics by route", func() {
			m := metrics.NewAPIMetricsWith(prometheus.NewRegistry(), "test")
			f = newFixture(m, nil)
			f.do(http.MethodGet, api.PathHistory, "")

			Expect(testutil.ToFloat64(
				m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, api.PathHistory, "200"),
			)).To(Equal(1.0))
		})
	})

	Describe("live channel", func() {
		It("should push sensor-update events to every connected viewer", func() {
			a, b := f.dial(), f.dial()
			Eventually(f.hub.Len).Should(Equal(2))

			code, body := f.do(http.MethodPost, api.PathSubmit, `{"waterLevel":42,"waterFlow":7}`)
			Expect(code).To(Equal(http.StatusCreated))
			var stored store.Reading
			Expect(json.Unmarshal(body, &stored)).To(Succeed())

			for _, conn := range []*websocket.Conn{a, b} {
				Expect(conn.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())
				var env hub.Envelope
				Expect(conn.ReadJSON(&env)).To(Succeed())
				Expect(env.Event).To(Equal("sensor-update"))
				Expect(env.Data.WaterLevel).To(Equal(42.0))
				Expect(env.Data.WaterFlow).To(Equal(7.0))
				Expect(env.Data.Timestamp).To(BeTemporally("==", stored.Timestamp))
			}
		})

		It("should not push rejected submissions", func() {
			conn := f.dial()
			Eventually(f.hub.Len).Should(Equal(1))

			code, _ := f.do(http.MethodPost, api.PathSubmit, `{"waterLevel":1}`)
			Expect(code).To(Equal(http.StatusBadRequest))

			Expect(conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))).To(Succeed())
			_, _, err := conn.ReadMessage()
			Expect(err).To(HaveOccurred())
		})

		It("should unsubscribe viewers that disconnect", func() {
			conn := f.dial()
			Eventually(f.hub.Len).Should(Equal(1))

			Expect(conn.Close()).To(Succeed())
			Eventually(f.hub.Len).Should(BeZero())

			code, _ := f.do(http.MethodPost, api.PathSubmit, `{"waterLevel":1,"waterFlow":1}`)
			Expect(code).To(Equal(http.StatusCreated))
		})

		It("should close a viewer whose queue overflows", func() {
			accepted := make(chan hub.Subscriber, 1)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				upgrader := websocket.Upgrader{}
				conn, err := upgrader.Upgrade(w, r, nil)
				if err != nil {
					return
				}
				accepted <- api.NewLiveSession(conn)
			}))
			DeferCleanup(srv.Close)

			client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(client.Close)

			var viewer hub.Subscriber
			Eventually(accepted).Should(Receive(&viewer))

			ev := hub.Event{WaterLevel: 1, WaterFlow: 1, Timestamp: time.Now()}
			for range api.SendBuffer {
				Expect(viewer.Deliver(ev)).To(Succeed())
			}
			Expect(viewer.Deliver(ev)).To(HaveOccurred())
			Expect(viewer.Deliver(ev)).To(HaveOccurred())

			Expect(client.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())
			_, _, err = client.ReadMessage()
			Expect(websocket.IsCloseError(err, websocket.CloseAbnormalClosure)).To(BeTrue())
		})

		It("should drop an overflowing viewer from the hub and keep serving others", func() {
			slow := &stuckViewer{}
			f.hub.Subscribe(slow)
			conn := f.dial()
			Eventually(f.hub.Len).Should(Equal(2))

			code, _ := f.do(http.MethodPost, api.PathSubmit, `{"waterLevel":3,"waterFlow":4}`)
			Expect(code).To(Equal(http.StatusCreated))
			Expect(f.hub.Len()).To(Equal(1))

			Expect(conn.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())
			var env hub.Envelope
			Expect(conn.ReadJSON(&env)).To(Succeed())
			Expect(env.Data.WaterLevel).To(Equal(3.0))
		})

		It("should reject plain HTTP requests", func() {
			code, _ := f.do(http.MethodGet, api.PathLive, "")
			Expect(code).To(Equal(http.StatusBadRequest))
			Expect(f.hub.Len()).To(BeZero())
		})
	})

	It("should treat a failing readings service error as internal", func() {
		f = newFixture(nil, brokenReadings{err: errors.New("disk full")})
		code, body := f.do(http.MethodGet, api.PathHistory, "")
		Expect(code).To(Equal(http.StatusInternalServerError))
		Expect(body).To(MatchJSON(`{"message":"disk full"}`))
	})
})
