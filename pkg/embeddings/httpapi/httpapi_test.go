package httpapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/weftlabs/weft/pkg/embeddings/httpapi"
)

var _ = Describe("Custom Endpoint Embedder", func() {
	var (
		ctx     context.Context
		slept   []time.Duration
		sleep   func(time.Duration)
		bodies  []map[string]any
		status  int
		payload string
		server  *httptest.Server
	)

	BeforeEach(func() {
		ctx = context.Background()
		slept = nil
		sleep = func(d time.Duration) { slept = append(slept, d) }
		bodies = nil
		status = http.StatusOK
		payload = `{"data":[{"embedding":[0.1,0.2,0.3]}]}`

		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body map[string]any
			Expect(json.NewDecoder(r.Body).Decode(&body)).To(Succeed())
			bodies = append(bodies, body)

			w.WriteHeader(status)
			_, _ = w.Write([]byte(payload))
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	It("posts input and model to <baseURL>/embeddings", func() {
		e := httpapi.New(httpapi.Config{
			BaseURL: server.URL,
			Model:   "custom-embed-v2",
			Sleep:   sleep,
		})

		vector, err := e.Embed(ctx, "some text")
		Expect(err).NotTo(HaveOccurred())
		Expect(vector).To(Equal([]float32{0.1, 0.2, 0.3}))
		Expect(bodies).To(HaveLen(1))
		Expect(bodies[0]["input"]).To(Equal("some text"))
		Expect(bodies[0]["model"]).To(Equal("custom-embed-v2"))
	})

	It("omits the model field when unset and SendNullModel is false", func() {
		e := httpapi.New(httpapi.Config{BaseURL: server.URL, Sleep: sleep})

		_, err := e.Embed(ctx, "some text")
		Expect(err).NotTo(HaveOccurred())
		Expect(bodies[0]).NotTo(HaveKey("model"))
	})

	It("sends a null model field when SendNullModel is set", func() {
		e := httpapi.New(httpapi.Config{
			BaseURL:       server.URL,
			SendNullModel: true,
			Sleep:         sleep,
		})

		_, err := e.Embed(ctx, "some text")
		Expect(err).NotTo(HaveOccurred())
		Expect(bodies[0]).To(HaveKey("model"))
		Expect(bodies[0]["model"]).To(BeNil())
	})

	It("retries with exponential backoff of 2^attempt seconds", func() {
		status = http.StatusBadGateway

		e := httpapi.New(httpapi.Config{
			BaseURL:    server.URL,
			MaxRetries: 3,
			Sleep:      sleep,
		})

		_, err := e.Embed(ctx, "some text")
		Expect(err).To(HaveOccurred())
		Expect(bodies).To(HaveLen(3))
		Expect(slept).To(Equal([]time.Duration{2 * time.Second, 4 * time.Second}))
	})

	It("treats a missing data[0].embedding as failure", func() {
		payload = `{"data":[]}`

		e := httpapi.New(httpapi.Config{
			BaseURL:    server.URL,
			MaxRetries: 1,
			Sleep:      sleep,
		})

		_, err := e.Embed(ctx, "some text")
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("embedding"))
	})
})
