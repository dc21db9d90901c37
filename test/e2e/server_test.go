package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sundayezeilo/linkgate/internal/app"
	"github.com/sundayezeilo/linkgate/internal/config"
)

const (
	siteToken     = "site-token-123"
	captchaSecret = "captcha-secret"
	validCaptcha  = "valid-token"
)

// testApp is a running application behind a real HTTP listener.
type testApp struct {
	url    string
	client *http.Client
}

// newCaptchaProvider accepts exactly validCaptcha for captchaSecret.
func newCaptchaProvider(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Secret   string `json:"secret"`
			Response string `json:"response"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		ok := req.Secret == captchaSecret && req.Response == validCaptcha
		_ = json.NewEncoder(w).Encode(map[string]bool{"success": ok})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func baseConfig(t *testing.T) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:            "8080",
			Host:            "localhost",
			BaseURL:         "https://sho.rt",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Auth: config.AuthConfig{
			SiteToken:        siteToken,
			CaptchaSecret:    captchaSecret,
			CaptchaVerifyURL: newCaptchaProvider(t).URL,
			CaptchaTimeout:   5 * time.Second,
		},
		Links: config.LinkConfig{
			DefaultTTL:        7 * 24 * time.Hour,
			SlugLength:        6,
			SlugMaxRetries:    3,
			SlugGenerator:     config.GeneratorRandom,
			DeleteConcurrency: 8,
		},
		Store: config.StoreConfig{
			Timeout:   3 * time.Second,
			KeyPrefix: "link:",
		},
		App: config.AppConfig{
			Environment: "test",
			LogLevel:    "error",
		},
		Observability: config.ObservabilityConfig{
			ServiceName:       "linkgate-test",
			ServiceVersion:    "test",
			TracingSampleRate: 1,
			MetricsEnabled:    true,
		},
	}
}

func startApp(t *testing.T, cfg *config.Config) *testApp {
	t.Helper()

	a, err := app.Build(context.Background(), cfg, setupTestLogger())
	if err != nil {
		t.Fatalf("failed to build app: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown() })

	srv := httptest.NewServer(a.Server.Handler())
	t.Cleanup(srv.Close)

	return &testApp{
		url: srv.URL,
		client: &http.Client{
			Timeout: 10 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func setupRedisApp(t *testing.T) *testApp {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Errorf("failed to terminate container: %v", err)
		}
	})

	redisURL, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	cfg := baseConfig(t)
	cfg.Store.Backend = config.BackendRedis
	cfg.Redis = config.RedisConfig{URL: redisURL, PoolSize: 10}
	return startApp(t, cfg)
}

func setupPostgresApp(t *testing.T) *testApp {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Errorf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("failed to get mapped port: %v", err)
	}

	cfg := baseConfig(t)
	cfg.Store.Backend = config.BackendPostgres
	cfg.Database = config.DatabaseConfig{
		Host:     host,
		Port:     port.Port(),
		User:     "testuser",
		Password: "testpass",
		Name:     "testdb",
		SSLMode:  "disable",
		MaxConns: 10,
		MinConns: 2,
	}
	return startApp(t, cfg)
}

func (a *testApp) do(t *testing.T, method, path string, body any, header map[string]string) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, a.url+path, &buf)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if resp.Header.Get("Content-Type") == "application/json" {
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
	}
	return resp, decoded
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func runScenarios(t *testing.T, a *testApp) {
	t.Run("captcha token creates a custom slug", func(t *testing.T) {
		resp, body := a.do(t, http.MethodPost, "/api/link/create", map[string]string{
			"url":          "https://example.com",
			"slug":         "abc",
			"captchaToken": validCaptcha,
		}, nil)

		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("status = %d, want %d (body: %v)", resp.StatusCode, http.StatusCreated, body)
		}
		if shortLink, _ := body["shortLink"].(string); !strings.HasSuffix(shortLink, "/abc") {
			t.Errorf("shortLink = %v, want suffix /abc", body["shortLink"])
		}
		link, _ := body["link"].(map[string]any)
		created, _ := link["createdAt"].(float64)
		expiration, _ := link["expiration"].(float64)
		if expiration-created != 604800 {
			t.Errorf("expiration - createdAt = %v, want 604800", expiration-created)
		}
	})

	t.Run("repeated slug conflicts", func(t *testing.T) {
		resp, body := a.do(t, http.MethodPost, "/api/link/create", map[string]string{
			"url":          "https://example.com/other",
			"slug":         "ABC",
			"captchaToken": validCaptcha,
		}, nil)

		if resp.StatusCode != http.StatusConflict {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusConflict)
		}
		if body["error"] != "conflict" {
			t.Errorf("error = %v, want conflict", body["error"])
		}

		resp, _ = a.do(t, http.MethodGet, "/abc", nil, nil)
		if loc := resp.Header.Get("Location"); loc != "https://example.com" {
			t.Errorf("Location = %q, original record was overwritten", loc)
		}
	})

	t.Run("bearer token without captcha", func(t *testing.T) {
		resp, body := a.do(t, http.MethodPost, "/api/link/create",
			map[string]string{"url": "https://example.com"}, bearer(siteToken))

		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("status = %d, want %d (body: %v)", resp.StatusCode, http.StatusCreated, body)
		}
	})

	t.Run("invalid captcha and wrong bearer", func(t *testing.T) {
		resp, _ := a.do(t, http.MethodPost, "/api/link/create", map[string]string{
			"url":          "https://example.com",
			"slug":         "denied",
			"captchaToken": "bogus",
		}, bearer("wrong-token-xyz"))

		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
		}

		resp, _ = a.do(t, http.MethodGet, "/denied", nil, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("denied slug status = %d, want %d", resp.StatusCode, http.StatusNotFound)
		}
	})

	t.Run("empty delete batch", func(t *testing.T) {
		resp, _ := a.do(t, http.MethodPost, "/api/link/delete-batch",
			map[string][]string{"slugs": {}}, bearer(siteToken))
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
		}
	})

	t.Run("delete batch ignores missing slugs", func(t *testing.T) {
		resp, body := a.do(t, http.MethodPost, "/api/link/delete-batch",
			map[string][]string{"slugs": {"abc", "does-not-exist"}}, bearer(siteToken))

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
		if body["success"] != true {
			t.Errorf("success = %v, want true", body["success"])
		}

		resp, _ = a.do(t, http.MethodGet, "/abc", nil, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("deleted slug status = %d, want %d", resp.StatusCode, http.StatusNotFound)
		}
	})

	t.Run("deleted slug can be reused", func(t *testing.T) {
		resp, _ := a.do(t, http.MethodPost, "/api/link/create", map[string]string{
			"url":  "https://example.com/again",
			"slug": "abc",
		}, bearer(siteToken))
		if resp.StatusCode != http.StatusCreated {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
		}
	})
}

func TestRedis_E2E(t *testing.T) {
	runScenarios(t, setupRedisApp(t))
}

func TestPostgres_E2E(t *testing.T) {
	runScenarios(t, setupPostgresApp(t))
}

func TestConcurrentCustomSlug_E2E(t *testing.T) {
	a := setupRedisApp(t)

	const concurrency = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[int]int{}
	)

	for i := range concurrency {
		wg.Go(func() {
			body := fmt.Sprintf(`{"url":"https://example.com/concurrent-%d","slug":"contested"}`, i)
			req, _ := http.NewRequest(http.MethodPost, a.url+"/api/link/create", strings.NewReader(body))
			req.Header.Set("Authorization", "Bearer "+siteToken)

			resp, err := a.client.Do(req)
			if err != nil {
				t.Errorf("request %d failed: %v", i, err)
				return
			}
			resp.Body.Close()

			mu.Lock()
			statuses[resp.StatusCode]++
			mu.Unlock()
		})
	}
	wg.Wait()

	if statuses[http.StatusCreated] != 1 || statuses[http.StatusConflict] != concurrency-1 {
		t.Errorf("statuses = %v, want exactly one 201 and %d 409", statuses, concurrency-1)
	}
}

func TestHealthCheck_E2E(t *testing.T) {
	a := setupRedisApp(t)

	resp, body := a.do(t, http.MethodGet, "/x/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if body["status"] != "ok" || body["store"] != config.BackendRedis {
		t.Errorf("health = %v", body)
	}
}

func setupTestLogger() *slog.Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only show errors in tests
	})
	return slog.New(handler)
}
