package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/campusmart/internal/transport/httpapi"
)

type scenario string

const (
	scenarioCart           scenario = "cart"
	scenarioCheckout       scenario = "checkout"
	scenarioCheckoutCancel scenario = "checkout-cancel"
)

// statusTransport — код, которым помечаются сетевые ошибки без ответа.
const statusTransport = 0

type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	scenario    scenario
	productID   string
	quantity    int
	buyerTag    string
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type stepReport struct {
	Calls     int64            `json:"calls"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Statuses  map[string]int64 `json:"statuses"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt       time.Time             `json:"started_at"`
	DurationSeconds float64               `json:"duration_seconds"`
	Scenarios       int64                 `json:"scenarios"`
	Failed          int64                 `json:"failed"`
	ErrorRate       float64               `json:"error_rate"`
	RPS             float64               `json:"rps"`
	Steps           map[string]stepReport `json:"steps"`
}

type stepStats struct {
	calls     int64
	failed    int64
	statuses  map[string]int64
	latencies []float64
}

// collector копит длительность и коды по каждому шагу сценария.
type collector struct {
	mu    sync.Mutex
	steps map[string]*stepStats
}

func newCollector() *collector {
	return &collector{steps: make(map[string]*stepStats)}
}

func (c *collector) record(step string, latency time.Duration, status int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, found := c.steps[step]
	if !found {
		stats = &stepStats{statuses: make(map[string]int64)}
		c.steps[step] = stats
	}
	stats.calls++
	if !ok {
		stats.failed++
	}
	label := strconv.Itoa(status)
	if status == statusTransport {
		label = "transport"
	}
	stats.statuses[label]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) report(startedAt time.Time, elapsed time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: elapsed.Seconds(),
		Steps:           make(map[string]stepReport, len(c.steps)),
	}
	for name, stats := range c.steps {
		statuses := make(map[string]int64, len(stats.statuses))
		for k, v := range stats.statuses {
			statuses[k] = v
		}
		result.Steps[name] = stepReport{
			Calls:     stats.calls,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Statuses:  statuses,
			LatencyMs: summarize(stats.latencies),
		}
	}
	if total, ok := result.Steps["scenario"]; ok {
		result.Scenarios = total.Calls
		result.Failed = total.Failed
		result.ErrorRate = total.ErrorRate
	}
	if elapsed > 0 {
		result.RPS = float64(result.Scenarios) / elapsed.Seconds()
	}
	return result
}

func parseConfig(args []string) (config, error) {
	var (
		cfg           config
		scenarioValue string
	)

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "storefront base URL")
	fs.IntVar(&cfg.total, "total", 200, "scenarios to run; with -duration acts as an upper bound when set")
	fs.DurationVar(&cfg.duration, "duration", 0, "run for this long instead of a fixed count")
	fs.IntVar(&cfg.concurrency, "concurrency", 20, "concurrent buyers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&scenarioValue, "scenario", string(scenarioCheckout), "scenario: cart | checkout | checkout-cancel")
	fs.StringVar(&cfg.productID, "product", "", "catalog product id to buy")
	fs.IntVar(&cfg.quantity, "quantity", 1, "units per order")
	fs.StringVar(&cfg.buyerTag, "buyer-tag", "load", "buyer id prefix")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	switch s := scenario(strings.TrimSpace(scenarioValue)); s {
	case scenarioCart, scenarioCheckout, scenarioCheckoutCancel:
		cfg.scenario = s
	default:
		return cfg, fmt.Errorf("unsupported scenario: %s", scenarioValue)
	}
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")

	switch {
	case cfg.baseURL == "":
		return cfg, errors.New("url is required")
	case strings.TrimSpace(cfg.productID) == "":
		return cfg, errors.New("product is required")
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.quantity <= 0:
		return cfg, errors.New("quantity must be > 0")
	case strings.TrimSpace(cfg.buyerTag) == "":
		return cfg, errors.New("buyer-tag is required")
	}
	return cfg, nil
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(2)
	}

	result := execute(context.Background(), cfg, &http.Client{Timeout: cfg.timeout})
	printReport(os.Stdout, result, cfg)

	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}
	if result.Failed > 0 {
		os.Exit(1)
	}
}

// execute прогоняет сценарии пулом покупателей и возвращает отчёт.
func execute(ctx context.Context, cfg config, httpClient *http.Client) report {
	startedAt := time.Now()
	runID := strconv.FormatInt(startedAt.UnixNano(), 36)
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for i := 0; i < cfg.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				buyer := &buyerClient{
					http:    httpClient,
					baseURL: cfg.baseURL,
					buyerID: fmt.Sprintf("%s-%s-%d", cfg.buyerTag, runID, idx),
					col:     col,
				}
				_ = runScenario(ctx, buyer, cfg)
			}
		}()
	}

	dispatch(ctx, jobs, cfg)
	wg.Wait()
	return col.report(startedAt, time.Since(startedAt))
}

func dispatch(ctx context.Context, jobs chan<- int, cfg config) {
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

// buyerClient выполняет запросы от имени одного покупателя.
type buyerClient struct {
	http    *http.Client
	baseURL string
	buyerID string
	col     *collector
}

type stepError struct {
	step   string
	status int
	body   string
}

func (e *stepError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.step, e.status, e.body)
}

func (b *buyerClient) call(ctx context.Context, step, method, path string, body any, headers map[string]string, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(httpapi.HeaderUserID, b.buyerID)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := b.http.Do(req)
	if err != nil {
		b.col.record(step, time.Since(start), statusTransport, false)
		return fmt.Errorf("%s: %w", step, err)
	}
	defer resp.Body.Close()

	payload, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	ok := resp.StatusCode < http.StatusBadRequest && readErr == nil
	b.col.record(step, time.Since(start), resp.StatusCode, ok)
	if readErr != nil {
		return fmt.Errorf("%s: read body: %w", step, readErr)
	}
	if !ok {
		return &stepError{step: step, status: resp.StatusCode, body: strings.TrimSpace(string(payload))}
	}
	if out != nil {
		return json.Unmarshal(payload, out)
	}
	return nil
}

func runScenario(ctx context.Context, b *buyerClient, cfg config) (err error) {
	start := time.Now()
	defer func() {
		status := http.StatusOK
		var se *stepError
		if errors.As(err, &se) {
			status = se.status
		} else if err != nil {
			status = statusTransport
		}
		b.col.record("scenario", time.Since(start), status, err == nil)
	}()

	item := map[string]any{"product_id": cfg.productID, "quantity": cfg.quantity, "replace": true}
	if err := b.call(ctx, "AddToCart", http.MethodPost, "/api/v1/cart/items", item, nil, nil); err != nil {
		return err
	}
	if cfg.scenario == scenarioCart {
		return nil
	}

	steps := []struct {
		name, method, path string
		body               any
	}{
		{"StartCheckout", http.MethodPost, "/api/v1/checkout", nil},
		{"SetDelivery", http.MethodPut, "/api/v1/checkout/delivery", map[string]string{"method": "pickup"}},
		{"NextStep", http.MethodPost, "/api/v1/checkout/next", nil},
		{"SetPayment", http.MethodPut, "/api/v1/checkout/payment", map[string]string{"method": "card"}},
		{"NextStep", http.MethodPost, "/api/v1/checkout/next", nil},
	}
	for _, s := range steps {
		if err := b.call(ctx, s.name, s.method, s.path, s.body, nil, nil); err != nil {
			return err
		}
	}

	var submitted struct {
		Order *struct {
			ID string `json:"id"`
		} `json:"order"`
	}
	headers := map[string]string{"Idempotency-Key": "lt-submit-" + b.buyerID}
	if err := b.call(ctx, "Submit", http.MethodPost, "/api/v1/checkout/submit", nil, headers, &submitted); err != nil {
		return err
	}
	if submitted.Order == nil || submitted.Order.ID == "" {
		return errors.New("submit returned no order")
	}

	if cfg.scenario == scenarioCheckoutCancel {
		path := "/api/v1/orders/" + submitted.Order.ID + "/cancel"
		reason := map[string]string{"reason": "load test"}
		if err := b.call(ctx, "CancelOrder", http.MethodPost, path, reason, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

func writeJSONReport(path string, result report) error {
	clean := filepath.Clean(path)
	if clean == "." || clean == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- путь задаёт оператор.
	file, err := os.Create(clean)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(w io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintf(w, "scenario=%s scenarios=%d failed=%d error_rate=%.4f\n",
		cfg.scenario, result.Scenarios, result.Failed, result.ErrorRate)
	_, _ = fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)

	names := make([]string, 0, len(result.Steps))
	for name := range result.Steps {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := result.Steps[name]
		_, _ = fmt.Fprintf(w, "%-14s calls=%d failed=%d p50=%.2fms p95=%.2fms p99=%.2fms\n",
			name, s.Calls, s.Failed, s.LatencyMs.P50, s.LatencyMs.P95, s.LatencyMs.P99)
	}
}

func summarize(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

// percentile интерполирует между соседними рангами отсортированной выборки.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lower, upper := int(math.Floor(rank)), int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	return sorted[lower] + (sorted[upper]-sorted[lower])*(rank-float64(lower))
}

func ratio(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total)
}
