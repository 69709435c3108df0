package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const defaultQty = int32(1)

type loadMode string

const (
	modeCheckout          loadMode = "checkout"
	modeCheckoutPay       loadMode = "checkout-pay"
	modeCheckoutPayCancel loadMode = "checkout-pay-cancel"
)

type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	connections int
	timeout     time.Duration
	mode        loadMode
	cancelRate  int
	sku         string
	price       decimal.Decimal
	seedStock   int
	adminToken  string
	userTag     string
	outputPath  string
}

func parseConfig() (config, error) {
	var cfg config
	var modeValue, timeoutValue, durationValue, priceValue string

	flag.StringVar(&cfg.baseURL, "base-url", "http://localhost:8080", "checkout HTTP API base URL")
	flag.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	flag.StringVar(&durationValue, "duration", "0s", "optional time-based run duration (e.g. 10m, 15m)")
	flag.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	flag.IntVar(&cfg.connections, "connections", 20, "max HTTP connections to the API")
	flag.StringVar(&timeoutValue, "timeout", "5s", "per-request timeout")
	flag.StringVar(&modeValue, "mode", string(modeCheckout), "load mode: checkout | checkout-pay | checkout-pay-cancel")
	flag.IntVar(&cfg.cancelRate, "cancel-rate", 0, "cancel probability in percent for checkout-pay mode (0..100)")
	flag.StringVar(&cfg.sku, "sku", "SKU-LOAD", "product id placed into every cart")
	flag.StringVar(&priceValue, "price", "10.00", "product price used when seeding the catalog")
	flag.IntVar(&cfg.seedStock, "seed-stock", 0, "seed the product with this on-hand stock before the run (needs -admin-token)")
	flag.StringVar(&cfg.adminToken, "admin-token", os.Getenv("CHECKOUT_ADMIN_TOKEN"), "admin token for catalog seeding")
	flag.StringVar(&cfg.userTag, "user-tag", "load", "user id prefix")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

	timeout, err := time.ParseDuration(strings.TrimSpace(timeoutValue))
	if err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	cfg.timeout = timeout

	duration, err := time.ParseDuration(strings.TrimSpace(durationValue))
	if err != nil {
		return cfg, fmt.Errorf("parse duration: %w", err)
	}
	cfg.duration = duration

	price, err := decimal.NewFromString(strings.TrimSpace(priceValue))
	if err != nil {
		return cfg, fmt.Errorf("parse price: %w", err)
	}
	cfg.price = price

	flag.CommandLine.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	return cfg, cfg.validate()
}

func (cfg config) validate() error {
	switch {
	case cfg.duration < 0:
		return errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return errors.New("concurrency must be > 0")
	case cfg.connections <= 0:
		return errors.New("connections must be > 0")
	case cfg.timeout <= 0:
		return errors.New("timeout must be > 0")
	case cfg.cancelRate < 0 || cfg.cancelRate > 100:
		return errors.New("cancel-rate must be between 0 and 100")
	case strings.TrimSpace(cfg.baseURL) == "":
		return errors.New("base-url is required")
	case strings.TrimSpace(cfg.sku) == "":
		return errors.New("sku is required")
	case strings.TrimSpace(cfg.userTag) == "":
		return errors.New("user-tag is required")
	case cfg.seedStock < 0:
		return errors.New("seed-stock must be >= 0")
	case cfg.seedStock > 0 && strings.TrimSpace(cfg.adminToken) == "":
		return errors.New("admin-token is required for seed-stock")
	case cfg.seedStock > 0 && !cfg.price.IsPositive():
		return errors.New("price must be > 0")
	}
	return nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeCheckout:
		return modeCheckout, nil
	case modeCheckoutPay:
		return modeCheckoutPay, nil
	case modeCheckoutPayCancel:
		return modeCheckoutPayCancel, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := run(ctx, cfg, os.Stdout)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}
	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

// run выполняет прогон и печатает сводку в out.
func run(ctx context.Context, cfg config, out io.Writer) (report, error) {
	col := newCollector()
	client := newCheckoutClient(cfg, col)

	if cfg.seedStock > 0 {
		if err := client.seedProduct(ctx, cfg.sku, cfg.price, int32(cfg.seedStock)); err != nil {
			return report{}, fmt.Errorf("seed catalog: %w", err)
		}
	}

	startedAt := time.Now()
	runID := uuid.NewString()[:8]

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for w := 0; w < cfg.concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				_ = runScenario(ctx, client, cfg, id, runID)
			}
		}()
	}

	dispatchJobs(ctx, jobs, cfg)
	wg.Wait()

	result := col.buildReport(startedAt, time.Since(startedAt))
	printReport(out, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			return result, fmt.Errorf("write report: %w", err)
		}
	}
	return result, nil
}

func dispatchJobs(ctx context.Context, jobs chan<- int, cfg config) {
	defer close(jobs)

	var deadline <-chan time.Time
	if cfg.duration > 0 {
		timer := time.NewTimer(cfg.duration)
		defer timer.Stop()
		deadline = timer.C
	}

	for i := 0; ; i++ {
		if (cfg.duration <= 0 || cfg.totalSet) && i >= cfg.total {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case jobs <- i:
		}
	}
}

// runScenario проводит одного пользователя через корзину, заказ и, в зависимости
// от режима, запрос оплаты и отмену.
func runScenario(ctx context.Context, client *checkoutClient, cfg config, index int, runID string) (err error) {
	started := time.Now()
	defer func() {
		client.col.record(scenarioMethod, time.Since(started), statusLabel(err), err == nil)
	}()

	userID := fmt.Sprintf("%s-%s-%d", cfg.userTag, runID, index)
	if err = client.addToCart(ctx, userID, cfg.sku, defaultQty); err != nil {
		return err
	}

	orderID, err := client.createOrder(ctx, userID, fmt.Sprintf("lt-%s-%d", runID, index))
	if err != nil {
		return err
	}
	if cfg.mode == modeCheckout {
		return nil
	}

	if err = client.requestPayment(ctx, userID, orderID); err != nil {
		return err
	}

	if cfg.mode == modeCheckoutPayCancel || shouldCancelScenario(index, cfg.cancelRate) {
		err = client.cancelOrder(ctx, userID, orderID)
	}
	return err
}

func shouldCancelScenario(index, cancelRate int) bool {
	if cancelRate <= 0 {
		return false
	}
	if cancelRate >= 100 {
		return true
	}
	return index%100 < cancelRate
}
