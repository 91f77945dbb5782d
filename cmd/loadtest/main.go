// Команда loadtest нагружает POST /v1/orders и печатает сводку по латентности и кодам ответа.
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
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
	scenarioMethod    = "scenario"
)

type loadMode string

const (
	// modePlace отправляет каждый заказ один раз.
	modePlace loadMode = "place"
	// modePlaceRetry повторяет каждый запрос с тем же Idempotency-Key и проверяет replay.
	modePlaceRetry loadMode = "place-retry"
)

// outcome классифицирует ответ: отказ из-за остатков — ожидаемый результат, а не сбой.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeRejected
	outcomeFailed
)

func classify(status int) outcome {
	switch {
	case status >= 200 && status < 300:
		return outcomeSuccess
	case status >= 400 && status < 500:
		return outcomeRejected
	default:
		return outcomeFailed
	}
}

type config struct {
	baseURL     string
	total       int
	concurrency int
	timeout     time.Duration
	mode        loadMode
	customers   []string
	products    []string
	maxQty      int
	outputPath  string
	seed        int64
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Rejected  int64            `json:"rejected"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt       time.Time               `json:"started_at"`
	DurationSeconds float64                 `json:"duration_seconds"`
	RPS             float64                 `json:"rps"`
	Scenarios       methodReport            `json:"scenarios"`
	Methods         map[string]methodReport `json:"methods"`
}

type methodStats struct {
	calls     int64
	byOutcome [3]int64
	codes     map[string]int64
	latencies []float64
}

func (s *methodStats) report() methodReport {
	codes := make(map[string]int64, len(s.codes))
	for code, n := range s.codes {
		codes[code] = n
	}
	return methodReport{
		Calls:     s.calls,
		Success:   s.byOutcome[outcomeSuccess],
		Rejected:  s.byOutcome[outcomeRejected],
		Failed:    s.byOutcome[outcomeFailed],
		ErrorRate: ratio(s.byOutcome[outcomeFailed], s.calls),
		Codes:     codes,
		LatencyMs: buildLatencySummary(s.latencies),
	}
}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{methods: make(map[string]*methodStats)}
}

// record сохраняет вызов; code — HTTP-статус или "transport_error".
func (c *collector) record(method string, latency time.Duration, code string, out outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{codes: make(map[string]int64)}
		c.methods[method] = stats
	}
	stats.calls++
	stats.byOutcome[out]++
	stats.codes[code]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}
	for name, stats := range c.methods {
		if name == scenarioMethod {
			result.Scenarios = stats.report()
			continue
		}
		result.Methods[name] = stats.report()
	}
	if duration > 0 {
		result.RPS = float64(result.Scenarios.Calls) / duration.Seconds()
	}
	return result
}

func parseConfig(args []string) (config, error) {
	var (
		cfg          config
		modeValue    string
		customersRaw string
		productsRaw  string
	)

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "orderflow HTTP API base URL")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios to execute")
	fs.IntVar(&cfg.concurrency, "concurrency", 16, "parallel workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modePlace), "scenario: place|place-retry")
	fs.StringVar(&customersRaw, "customers", "C1,C2", "comma-separated customer ids")
	fs.StringVar(&productsRaw, "products", "P1,P2", "comma-separated product ids")
	fs.IntVar(&cfg.maxQty, "max-qty", 3, "max quantity per line")
	fs.StringVar(&cfg.outputPath, "out", "", "write JSON report to this file")
	fs.Int64Var(&cfg.seed, "seed", time.Now().UnixNano(), "random seed for order composition")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	switch loadMode(modeValue) {
	case modePlace, modePlaceRetry:
		cfg.mode = loadMode(modeValue)
	default:
		return config{}, fmt.Errorf("unsupported mode %q (use place|place-retry)", modeValue)
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	cfg.customers = splitList(customersRaw)
	cfg.products = splitList(productsRaw)

	switch {
	case cfg.baseURL == "":
		return config{}, errors.New("url is required")
	case cfg.total <= 0:
		return config{}, errors.New("total must be > 0")
	case cfg.concurrency <= 0:
		return config{}, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return config{}, errors.New("timeout must be > 0")
	case len(cfg.customers) == 0:
		return config{}, errors.New("at least one customer is required")
	case len(cfg.products) == 0:
		return config{}, errors.New("at least one product is required")
	case cfg.maxQty <= 0:
		return config{}, errors.New("max-qty must be > 0")
	}
	return cfg, nil
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	result := run(context.Background(), cfg, &http.Client{Timeout: cfg.timeout})

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}
	if result.Scenarios.Failed > 0 {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config, client *http.Client) report {
	startedAt := time.Now()
	runID := strconv.FormatInt(startedAt.UnixNano(), 36)
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for w := 0; w < cfg.concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				runScenario(ctx, client, cfg, id, runID, col)
			}
		}()
	}
	for i := 0; i < cfg.total; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return col.buildReport(startedAt, time.Since(startedAt))
}

type orderLine struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

type orderRequest struct {
	CustomerID string      `json:"customer_id"`
	Products   []orderLine `json:"products"`
}

// buildOrder детерминированно собирает заказ по номеру сценария.
func buildOrder(cfg config, index int) orderRequest {
	rnd := rand.New(rand.NewSource(cfg.seed + int64(index)))
	req := orderRequest{CustomerID: cfg.customers[rnd.Intn(len(cfg.customers))]}

	lines := 1 + rnd.Intn(len(cfg.products))
	for _, i := range rnd.Perm(len(cfg.products))[:lines] {
		req.Products = append(req.Products, orderLine{ID: cfg.products[i], Quantity: 1 + rnd.Intn(cfg.maxQty)})
	}
	return req
}

func runScenario(ctx context.Context, client *http.Client, cfg config, index int, runID string, col *collector) {
	start := time.Now()
	body, err := json.Marshal(buildOrder(cfg, index))
	if err != nil {
		col.record(scenarioMethod, time.Since(start), "marshal_error", outcomeFailed)
		return
	}

	key := fmt.Sprintf("lt-%s-%d", runID, index)
	status, _, err := placeOrder(ctx, client, cfg.baseURL, key, body, col, "PlaceOrder")
	if err != nil {
		col.record(scenarioMethod, time.Since(start), "transport_error", outcomeFailed)
		return
	}

	result := classify(status)
	if cfg.mode == modePlaceRetry && result != outcomeFailed {
		retryStatus, replayed, err := placeOrder(ctx, client, cfg.baseURL, key, body, col, "PlaceOrderRetry")
		if err != nil || retryStatus != status || !replayed {
			result = outcomeFailed
		}
	}
	col.record(scenarioMethod, time.Since(start), strconv.Itoa(status), result)
}

func placeOrder(ctx context.Context, client *http.Client, baseURL, key string, body []byte, col *collector, method string) (int, bool, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return 0, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(idempotencyHeader, key)

	resp, err := client.Do(req)
	if err != nil {
		col.record(method, time.Since(start), "transport_error", outcomeFailed)
		return 0, false, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	col.record(method, time.Since(start), strconv.Itoa(resp.StatusCode), classify(resp.StatusCode))
	return resp.StatusCode, resp.Header.Get(replayedHeader) == "true", nil
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- путь задаётся явно флагом -out.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(w io.Writer, result report, cfg config) {
	s := result.Scenarios
	_, _ = fmt.Fprintln(w, "Load test summary")
	_, _ = fmt.Fprintf(w, "mode=%s total=%d success=%d rejected=%d failed=%d error_rate=%.4f\n",
		cfg.mode, s.Calls, s.Success, s.Rejected, s.Failed, s.ErrorRate)
	_, _ = fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	_, _ = fmt.Fprintf(w, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		s.LatencyMs.Min, s.LatencyMs.Avg, s.LatencyMs.P50, s.LatencyMs.P95, s.LatencyMs.P99, s.LatencyMs.Max)

	names := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m := result.Methods[name]
		_, _ = fmt.Fprintf(w, "%s: calls=%d success=%d rejected=%d failed=%d p95=%.2fms\n",
			name, m.Calls, m.Success, m.Rejected, m.Failed, m.LatencyMs.P95)
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
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

// percentile — линейная интерполяция между соседними рангами.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total)
}
