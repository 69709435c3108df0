package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// fakeCheckoutAPI повторяет маршруты HTTP API, нужные сценариям.
type fakeCheckoutAPI struct {
	mu           sync.Mutex
	orders       atomic.Int64
	payments     atomic.Int64
	cancels      atomic.Int64
	idemKeys     map[string]bool
	seeded       map[string]string
	failOrders   bool
	missingUsers int
}

func newFakeCheckoutAPI(t *testing.T) (*fakeCheckoutAPI, *httptest.Server) {
	t.Helper()

	api := &fakeCheckoutAPI{idemKeys: make(map[string]bool), seeded: make(map[string]string)}
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /admin/products/{sku}", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(headerAdminToken) != "secret" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		var body struct {
			Price decimal.Decimal `json:"price"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		api.mu.Lock()
		api.seeded[r.PathValue("sku")] = body.Price.StringFixed(2)
		api.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("PUT /admin/products/{sku}/stock", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /cart/items", api.withUser(func(w http.ResponseWriter, _ *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]any{"items": []any{}})
	}))
	mux.HandleFunc("POST /orders", api.withUser(func(w http.ResponseWriter, r *http.Request) {
		if api.failOrders {
			writeTestJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]string{"code": "insufficient_stock"}})
			return
		}
		api.mu.Lock()
		api.idemKeys[r.Header.Get(headerIdempotencyKey)] = true
		api.mu.Unlock()
		id := api.orders.Add(1)
		writeTestJSON(w, http.StatusCreated, map[string]any{"id": "ord-" + string(rune('a'+id%26)), "status": "PENDING_PAYMENT"})
	}))
	mux.HandleFunc("POST /orders/{id}/payment", api.withUser(func(w http.ResponseWriter, _ *http.Request) {
		api.payments.Add(1)
		writeTestJSON(w, http.StatusOK, map[string]any{"client_secret": "cs"})
	}))
	mux.HandleFunc("POST /orders/{id}/cancel", api.withUser(func(w http.ResponseWriter, _ *http.Request) {
		api.cancels.Add(1)
		writeTestJSON(w, http.StatusOK, map[string]any{"status": "CANCELLED"})
	}))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return api, srv
}

func (a *fakeCheckoutAPI) withUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(headerUserID) == "" {
			a.mu.Lock()
			a.missingUsers++
			a.mu.Unlock()
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func writeTestJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func testConfig(baseURL string, mode loadMode) config {
	return config{
		baseURL:     baseURL,
		total:       10,
		concurrency: 3,
		connections: 2,
		timeout:     2 * time.Second,
		mode:        mode,
		sku:         "SKU-LOAD",
		price:       decimal.RequireFromString("10.00"),
		userTag:     "load",
	}
}

func withCLIArgs(t *testing.T, args []string, fn func()) {
	t.Helper()

	oldArgs := os.Args
	oldCommandLine := flag.CommandLine

	os.Args = append([]string{"loadtest"}, args...)
	fs := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	flag.CommandLine = fs

	defer func() {
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	}()

	fn()
}

func TestParseMode(t *testing.T) {
	for _, mode := range []loadMode{modeCheckout, modeCheckoutPay, modeCheckoutPayCancel} {
		got, err := parseMode(" " + string(mode) + " ")
		require.NoError(t, err)
		require.Equal(t, mode, got)
	}

	_, err := parseMode("create")
	require.ErrorContains(t, err, "unsupported mode")
}

func TestParseConfig(t *testing.T) {
	t.Run("count mode", func(t *testing.T) {
		withCLIArgs(t, []string{
			"-base-url=http://api:8080",
			"-mode=checkout-pay",
			"-total=12",
			"-cancel-rate=25",
			"-price=19.90",
			"-seed-stock=100",
			"-admin-token=secret",
		}, func() {
			cfg, err := parseConfig()
			require.NoError(t, err)
			require.Equal(t, "http://api:8080", cfg.baseURL)
			require.Equal(t, modeCheckoutPay, cfg.mode)
			require.Equal(t, 12, cfg.total)
			require.True(t, cfg.totalSet)
			require.Equal(t, 25, cfg.cancelRate)
			require.Equal(t, "19.9", cfg.price.String())
			require.Equal(t, 100, cfg.seedStock)
		})
	})

	t.Run("duration mode", func(t *testing.T) {
		withCLIArgs(t, []string{"-duration=1m"}, func() {
			cfg, err := parseConfig()
			require.NoError(t, err)
			require.Equal(t, time.Minute, cfg.duration)
			require.False(t, cfg.totalSet)
		})
	})

	t.Run("bad values", func(t *testing.T) {
		for _, args := range [][]string{
			{"-timeout=soon"},
			{"-duration=forever"},
			{"-price=cheap"},
			{"-mode=create"},
		} {
			withCLIArgs(t, args, func() {
				_, err := parseConfig()
				require.Error(t, err, args)
			})
		}
	})
}

func TestConfigValidate(t *testing.T) {
	valid := testConfig("http://localhost:8080", modeCheckout)
	require.NoError(t, valid.validate())

	tests := map[string]func(*config){
		"negative duration":   func(c *config) { c.duration = -time.Second },
		"zero total":          func(c *config) { c.total = 0 },
		"explicit zero total": func(c *config) { c.duration = time.Second; c.totalSet = true; c.total = 0 },
		"zero concurrency":    func(c *config) { c.concurrency = 0 },
		"zero connections":    func(c *config) { c.connections = 0 },
		"zero timeout":        func(c *config) { c.timeout = 0 },
		"cancel rate":         func(c *config) { c.cancelRate = 101 },
		"base url":            func(c *config) { c.baseURL = " " },
		"sku":                 func(c *config) { c.sku = "" },
		"user tag":            func(c *config) { c.userTag = "" },
		"negative stock":      func(c *config) { c.seedStock = -1 },
		"seed without token":  func(c *config) { c.seedStock = 5 },
		"seed with zero price": func(c *config) {
			c.seedStock = 5
			c.adminToken = "secret"
			c.price = decimal.Zero
		},
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := valid
			mutate(&cfg)
			require.Error(t, cfg.validate())
		})
	}
}

func TestDispatchJobs(t *testing.T) {
	drain := func(jobs <-chan int) int {
		count := 0
		for range jobs {
			count++
		}
		return count
	}

	t.Run("count", func(t *testing.T) {
		jobs := make(chan int, 10)
		go dispatchJobs(context.Background(), jobs, config{total: 4})
		require.Equal(t, 4, drain(jobs))
	})

	t.Run("duration with max total", func(t *testing.T) {
		jobs := make(chan int)
		go dispatchJobs(context.Background(), jobs, config{total: 3, totalSet: true, duration: time.Minute})
		require.Equal(t, 3, drain(jobs))
	})

	t.Run("duration stops on deadline", func(t *testing.T) {
		jobs := make(chan int)
		go dispatchJobs(context.Background(), jobs, config{duration: 20 * time.Millisecond})
		count := 0
		for range jobs {
			count++
			time.Sleep(time.Millisecond)
		}
		require.Positive(t, count)
	})

	t.Run("context cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		jobs := make(chan int)
		go dispatchJobs(ctx, jobs, config{duration: time.Hour})
		require.Equal(t, 0, drain(jobs))
	})
}

func TestRunScenarioModes(t *testing.T) {
	api, srv := newFakeCheckoutAPI(t)

	for _, tc := range []struct {
		mode     loadMode
		payments int64
		cancels  int64
	}{
		{mode: modeCheckout},
		{mode: modeCheckoutPay, payments: 1},
		{mode: modeCheckoutPayCancel, payments: 2, cancels: 1},
	} {
		col := newCollector()
		client := newCheckoutClient(testConfig(srv.URL, tc.mode), col)
		require.NoError(t, runScenario(context.Background(), client, testConfig(srv.URL, tc.mode), 1, "run"))
		require.Equal(t, tc.payments, api.payments.Load(), tc.mode)
		require.Equal(t, tc.cancels, api.cancels.Load(), tc.mode)

		scenario, ok := col.snapshot(scenarioMethod)
		require.True(t, ok)
		require.Equal(t, int64(1), scenario.Success)
	}

	require.True(t, api.idemKeys["lt-run-1"])
	require.Zero(t, api.missingUsers)
}

func TestRunScenarioRecordsFailures(t *testing.T) {
	api, srv := newFakeCheckoutAPI(t)
	api.failOrders = true

	col := newCollector()
	cfg := testConfig(srv.URL, modeCheckoutPay)
	err := runScenario(context.Background(), newCheckoutClient(cfg, col), cfg, 0, "run")

	var se *statusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusBadRequest, se.status)
	require.Contains(t, se.Error(), "insufficient_stock")

	step, ok := col.snapshot("CreateOrder")
	require.True(t, ok)
	require.Equal(t, int64(1), step.Failed)
	require.Equal(t, int64(1), step.Statuses["400"])

	scenario, _ := col.snapshot(scenarioMethod)
	require.Equal(t, int64(1), scenario.Statuses["400"])
	require.Zero(t, api.payments.Load())
}

func TestRunSeedsCatalogAndWritesReport(t *testing.T) {
	api, srv := newFakeCheckoutAPI(t)

	cfg := testConfig(srv.URL, modeCheckoutPay)
	cfg.cancelRate = 5
	cfg.seedStock = 100
	cfg.adminToken = "secret"
	cfg.outputPath = filepath.Join(t.TempDir(), "report.json")

	var out bytes.Buffer
	result, err := run(context.Background(), cfg, &out)
	require.NoError(t, err)

	require.Equal(t, "10.00", api.seeded["SKU-LOAD"])
	require.Equal(t, int64(10), result.TotalScenarios)
	require.Zero(t, result.FailedScenarios)
	require.Equal(t, int64(10), api.payments.Load())
	require.Equal(t, int64(5), api.cancels.Load())
	require.Contains(t, out.String(), "CreateOrder: calls=10")
	require.Contains(t, out.String(), "run=count:10")

	raw, err := os.ReadFile(cfg.outputPath)
	require.NoError(t, err)
	var decoded report
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, int64(10), decoded.Steps["AddToCart"].Success)
}

func TestRunSeedFailure(t *testing.T) {
	_, srv := newFakeCheckoutAPI(t)

	cfg := testConfig(srv.URL, modeCheckout)
	cfg.seedStock = 1
	cfg.adminToken = "wrong"

	_, err := run(context.Background(), cfg, io.Discard)
	require.ErrorContains(t, err, "seed catalog")
}

func TestTransportErrorLabel(t *testing.T) {
	col := newCollector()
	cfg := testConfig("http://127.0.0.1:1", modeCheckout)
	cfg.timeout = 200 * time.Millisecond

	err := newCheckoutClient(cfg, col).addToCart(context.Background(), "u1", "SKU", 1)
	require.Error(t, err)
	require.Equal(t, statusTransportError, statusLabel(err))

	step, ok := col.snapshot("AddToCart")
	require.True(t, ok)
	require.Equal(t, int64(1), step.Statuses[statusTransportError])
	require.Equal(t, "200", statusLabel(nil))
}

func TestReportHelpers(t *testing.T) {
	require.False(t, shouldCancelScenario(1, 0))
	require.True(t, shouldCancelScenario(99, 100))
	require.True(t, shouldCancelScenario(101, 5))
	require.False(t, shouldCancelScenario(10, 5))

	require.Zero(t, ratio(1, 0))
	require.InDelta(t, 0.25, ratio(1, 4), 1e-9)

	require.Zero(t, percentile(nil, 50))
	require.InDelta(t, 7.0, percentile([]float64{7}, 99), 1e-9)
	require.InDelta(t, 2.5, percentile([]float64{1, 2, 3, 4}, 50), 1e-9)

	summary := buildLatencySummary([]float64{3, 1, 2})
	require.InDelta(t, 1.0, summary.Min, 1e-9)
	require.InDelta(t, 3.0, summary.Max, 1e-9)
	require.InDelta(t, 2.0, summary.Avg, 1e-9)

	require.Equal(t, "count:5", runTarget(config{total: 5}))
	require.Equal(t, "duration:1m0s", runTarget(config{duration: time.Minute}))
	require.Equal(t, "duration:1m0s,max-total:5", runTarget(config{duration: time.Minute, total: 5, totalSet: true}))
}

func TestWriteJSONReportRejectsBadPaths(t *testing.T) {
	require.Error(t, writeJSONReport(".", report{}))
	require.Error(t, writeJSONReport("../outside.json", report{}))
}

func TestMainSmoke(t *testing.T) {
	_, srv := newFakeCheckoutAPI(t)
	outPath := filepath.Join(t.TempDir(), "main-report.json")

	withCLIArgs(t, []string{
		"-base-url=" + srv.URL,
		"-mode=checkout",
		"-total=5",
		"-concurrency=2",
		"-connections=1",
		"-timeout=2s",
		"-output=" + outPath,
	}, main)

	_, err := os.Stat(outPath)
	require.NoError(t, err)
}
