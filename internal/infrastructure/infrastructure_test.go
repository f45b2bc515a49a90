package infrastructure

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/krobus00/broker-gateway/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"pgregory.net/rapid"
)

type pingRoutes struct{}

func (pingRoutes) Register(r chi.Router) {
	r.Get("/v1/ping/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(chi.URLParam(r, "id")))
	})
	r.Get("/v1/panic", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
}

func TestHTTPServer_Middlewares(t *testing.T) {
	server := NewHTTPServerWithConfig(HTTPServerConfig{Addr: ":0"}, NewRouter(nil, pingRoutes{}))

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ping/42", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "42", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	req := httptest.NewRequest(http.MethodGet, "/v1/ping/1", nil)
	req.Header.Set("X-Request-Id", "abc")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-Id"))

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestNewRouter_HealthAndMetrics(t *testing.T) {
	var readyErr error
	router := NewRouter(func(context.Context) error { return readyErr })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	readyErr = errors.New("venue unreachable")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "broker_gateway_http_requests_total")
}

func TestHTTPResponseRecorder_Hijack(t *testing.T) {
	rec := &httpResponseRecorder{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}
	_, _, err := rec.Hijack()
	assert.Error(t, err)
}

func TestBackoffWithJitter_Bounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		attempt := rapid.IntRange(0, 30).Draw(t, "attempt")
		minJitter := time.Duration(rapid.Int64Range(1, int64(time.Second)).Draw(t, "min"))
		maxJitter := minJitter + time.Duration(rapid.Int64Range(0, int64(5*time.Second)).Draw(t, "extra"))
		rng := rand.New(rand.NewSource(rapid.Int64().Draw(t, "seed")))

		got := backoffWithJitter(attempt, 2, minJitter, maxJitter, rng)
		if got < minJitter || got > maxJitter {
			t.Fatalf("backoff %s outside [%s, %s]", got, minJitter, maxJitter)
		}
	})
}

func TestResolvePostgresOptions(t *testing.T) {
	opts := resolvePostgresOptions(config.DatabaseConfig{MaxRetry: -1, MinJitter: 2 * time.Second, MaxJitter: time.Second})
	assert.Equal(t, 0, opts.maxRetry)
	assert.Equal(t, defaultConnectTimeout, opts.connectTimeout)
	assert.Equal(t, defaultBackoffFactor, opts.backoffFactor)
	assert.Equal(t, 2*time.Second, opts.maxJitter)
	assert.Equal(t, defaultMaxOpenConns, opts.maxOpenConns)

	opts = resolvePostgresOptions(config.DatabaseConfig{MaxRetry: 3, MaxIdleConns: 2, MaxActiveConns: 4})
	assert.Equal(t, 3, opts.maxRetry)
	assert.Equal(t, 2, opts.maxIdleConns)
	assert.Equal(t, 4, opts.maxOpenConns)
}

func TestResolveJetstreamOptions(t *testing.T) {
	_, err := resolveJetstreamOptions(config.NatsJetstreamConfig{URL: "  "})
	require.Error(t, err)

	opts, err := resolveJetstreamOptions(config.NatsJetstreamConfig{
		URL:             " nats://localhost:4222 ",
		ReconnectFactor: 0.5,
		MinJitter:       3 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "nats://localhost:4222", opts.url)
	assert.Equal(t, defaultNatsMaxRetries, opts.maxRetries)
	assert.Equal(t, defaultNatsBackoffFactor, opts.backoffFactor)
	assert.Equal(t, 3*time.Second, opts.maxJitter)
}

func TestMaskDSN(t *testing.T) {
	assert.Equal(t, "postgres://***@db:5432/reference", maskDSN("postgres://user:secret@db:5432/reference"))
	assert.Equal(t, "host=db", maskDSN("host=db"))
}

func TestGRPCServer_Health(t *testing.T) {
	server, err := NewGRPCServer("127.0.0.1:0", true)
	require.NoError(t, err)
	go func() { _ = server.Start() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var probeErr error = errors.New("venue down")
	done := make(chan struct{})
	go func() {
		defer close(done)
		server.WatchHealth(ctx, time.Hour, func(context.Context) error { return probeErr })
	}()

	conn, err := grpc.NewClient(server.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)
	require.Eventually(t, func() bool {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
		return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	<-done

	shutdownCtx, stop := context.WithTimeout(context.Background(), time.Second)
	defer stop()
	require.NoError(t, server.Shutdown(shutdownCtx))
}
