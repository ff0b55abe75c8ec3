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
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/donation-reconciler/internal/domain"
	"github.com/vladislavdragonenkov/donation-reconciler/internal/gateway/razorpay"
	registrationv1 "github.com/vladislavdragonenkov/donation-reconciler/proto/registration/v1"
)

const (
	defaultAmount   = int64(50000)
	webhookPath     = "/webhooks/razorpay"
	methodScenario  = "scenario"
	methodCreate    = "CreatePendingRegistration"
	methodWebhook   = "Webhook"
	methodLink      = "LinkRegistration"
	methodGetStatus = "GetPaymentStatus"
)

type loadMode string

const (
	// modeCapture: регистрация и оплата без привязки сущности.
	modeCapture loadMode = "capture"
	// modeCaptureLink: оплата приходит раньше регистрации сущности.
	modeCaptureLink loadMode = "capture-link"
	// modeLinkFirst: сущность создаётся до того, как пришёл webhook.
	modeLinkFirst loadMode = "link-first"
)

type config struct {
	grpcAddr    string
	httpAddr    string
	secret      string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	connections int
	duplicates  int
	timeout     time.Duration
	mode        loadMode
	entityType  string
	amountMinor int64
	currency    string
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

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{
		methods: make(map[string]*methodStats),
	}
}

// record учитывает вызов; code содержит код gRPC или HTTP-статус строкой.
func (c *collector) record(method string, latency time.Duration, ok bool, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, found := c.methods[method]
	if !found {
		stats = &methodStats{
			codes: make(map[string]int64),
		}
		c.methods[method] = stats
	}

	stats.calls++
	if ok {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[code]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) recordGRPC(method string, latency time.Duration, err error) {
	code := grpcCode(err)
	c.record(method, latency, code == codes.OK, code.String())
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	if scenarioStats := c.methods[methodScenario]; scenarioStats != nil {
		result.TotalScenarios = scenarioStats.calls
		result.SuccessScenarios = scenarioStats.success
		result.FailedScenarios = scenarioStats.failed
		result.ErrorRate = ratio(scenarioStats.failed, scenarioStats.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenarioStats.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		codesCopy := make(map[string]int64, len(stats.codes))
		for code, count := range stats.codes {
			codesCopy[code] = count
		}
		result.Methods[name] = methodReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Codes:     codesCopy,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}

	return result
}

func parseConfig() (config, error) {
	var cfg config
	var modeValue string

	flag.StringVar(&cfg.grpcAddr, "grpc-addr", "localhost:50051", "gRPC target address")
	flag.StringVar(&cfg.httpAddr, "http-addr", "http://localhost:8080", "public HTTP API base URL")
	flag.StringVar(&cfg.secret, "secret", os.Getenv("RECON_WEBHOOK_SECRET"), "webhook signing secret (fallback: RECON_WEBHOOK_SECRET)")
	flag.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	flag.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m, 15m)")
	flag.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	flag.IntVar(&cfg.connections, "connections", 20, "number of gRPC client connections")
	flag.IntVar(&cfg.duplicates, "duplicates", 3, "concurrent deliveries of each webhook (gateway retries)")
	flag.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-call timeout")
	flag.StringVar(&modeValue, "mode", string(modeCaptureLink), "load mode: capture | capture-link | link-first")
	flag.StringVar(&cfg.entityType, "entity-type", string(domain.EntityTypeMember), "intended entity type: MEMBER | VOLUNTEER | DONATION")
	flag.Int64Var(&cfg.amountMinor, "amount-minor", defaultAmount, "payment amount in minor units")
	flag.StringVar(&cfg.currency, "currency", "INR", "payment currency")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

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
	cfg.httpAddr = strings.TrimRight(strings.TrimSpace(cfg.httpAddr), "/")
	cfg.entityType = strings.ToUpper(strings.TrimSpace(cfg.entityType))

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (cfg config) validate() error {
	if cfg.duration < 0 {
		return errors.New("duration must be >= 0")
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		return errors.New("total must be > 0 when duration is not set")
	}
	if cfg.duration > 0 && cfg.totalSet && cfg.total <= 0 {
		return errors.New("total must be > 0 when explicitly set with duration")
	}
	if cfg.concurrency <= 0 {
		return errors.New("concurrency must be > 0")
	}
	if cfg.connections <= 0 {
		return errors.New("connections must be > 0")
	}
	if cfg.duplicates <= 0 {
		return errors.New("duplicates must be > 0")
	}
	if cfg.timeout <= 0 {
		return errors.New("timeout must be > 0")
	}
	if cfg.amountMinor <= 0 {
		return errors.New("amount-minor must be > 0")
	}
	if cfg.secret == "" {
		return errors.New("secret is required (-secret or RECON_WEBHOOK_SECRET)")
	}
	if !strings.HasPrefix(cfg.httpAddr, "http://") && !strings.HasPrefix(cfg.httpAddr, "https://") {
		return errors.New("http-addr must be an http(s) URL")
	}
	if !domain.EntityType(cfg.entityType).Valid() {
		return fmt.Errorf("unsupported entity-type: %s", cfg.entityType)
	}
	if strings.TrimSpace(cfg.currency) == "" {
		return errors.New("currency is required")
	}
	return nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeCapture:
		return modeCapture, nil
	case modeCaptureLink:
		return modeCaptureLink, nil
	case modeLinkFirst:
		return modeLinkFirst, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

// runner держит клиентов одного воркера.
type runner struct {
	cfg        config
	client     registrationv1.RegistrationServiceClient
	httpClient *http.Client
	runID      string
	col        *collector
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	conns := make([]*grpc.ClientConn, 0, cfg.connections)
	clients := make([]registrationv1.RegistrationServiceClient, 0, cfg.connections)
	for i := 0; i < cfg.connections; i++ {
		conn, dialErr := grpc.NewClient(cfg.grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if dialErr != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to create grpc client connection: %v\n", dialErr)
			os.Exit(1)
		}
		conns = append(conns, conn)
		clients = append(clients, registrationv1.NewRegistrationServiceClient(conn))
	}
	defer func() {
		for _, conn := range conns {
			_ = conn.Close()
		}
	}()

	httpClient := &http.Client{
		Timeout: cfg.timeout,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.concurrency * cfg.duplicates,
			MaxIdleConnsPerHost: cfg.concurrency * cfg.duplicates,
			IdleConnTimeout:     30 * time.Second,
		},
	}

	startedAt := time.Now()
	runID := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var failures int64
	var wg sync.WaitGroup

	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		r := &runner{
			cfg:        cfg,
			client:     clients[workerID%len(clients)],
			httpClient: httpClient,
			runID:      runID,
			col:        col,
		}
		go func() {
			defer wg.Done()
			for id := range jobs {
				if runErr := r.runScenario(id); runErr != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	duration := time.Since(startedAt)
	result := col.buildReport(startedAt, duration)
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

func (r *runner) runScenario(index int) (err error) {
	scenarioStart := time.Now()
	defer func() {
		code := "OK"
		if err != nil {
			code = "FAILED"
		}
		r.col.record(methodScenario, time.Since(scenarioStart), err == nil, code)
	}()

	orderID := fmt.Sprintf("order_lt_%s_%d", r.runID, index)
	entityID := fmt.Sprintf("entity_lt_%s_%d", r.runID, index)

	if err := r.createRegistration(orderID); err != nil {
		return err
	}

	if r.cfg.mode == modeLinkFirst {
		outcome, err := r.link(orderID, entityID)
		if err != nil {
			return err
		}
		if outcome != string(domain.LinkOutcomeAwaitingPaymentStill) {
			return fmt.Errorf("link before payment returned %s", outcome)
		}
	}

	body, err := razorpay.PaymentEvent{
		Event:       "payment.captured",
		OrderID:     orderID,
		PaymentID:   fmt.Sprintf("pay_lt_%s_%d", r.runID, index),
		AmountMinor: r.cfg.amountMinor,
		Currency:    r.cfg.currency,
	}.Encode()
	if err != nil {
		return fmt.Errorf("encode webhook: %w", err)
	}
	if err := r.deliverWebhook(body, fmt.Sprintf("evt_lt_%s_%d", r.runID, index)); err != nil {
		return err
	}

	want := domain.RegistrationStatusAwaitingRegistration
	switch r.cfg.mode {
	case modeCaptureLink:
		outcome, err := r.link(orderID, entityID)
		if err != nil {
			return err
		}
		if outcome != string(domain.LinkOutcomeLinked) {
			return fmt.Errorf("link after payment returned %s", outcome)
		}
		want = domain.RegistrationStatusCompleted
	case modeLinkFirst:
		want = domain.RegistrationStatusCompleted
	}

	return r.expectStatus(orderID, want)
}

func (r *runner) createRegistration(orderID string) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.timeout)
	defer cancel()

	_, err := r.client.CreatePendingRegistration(ctx, &registrationv1.CreatePendingRegistrationRequest{
		OrderId:            orderID,
		IntendedEntityType: r.cfg.entityType,
	})
	r.col.recordGRPC(methodCreate, time.Since(start), err)
	return err
}

func (r *runner) link(orderID, entityID string) (string, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.timeout)
	defer cancel()

	resp, err := r.client.LinkRegistration(ctx, &registrationv1.LinkRegistrationRequest{
		OrderId:  orderID,
		EntityId: entityID,
	})
	r.col.recordGRPC(methodLink, time.Since(start), err)
	return resp.GetOutcome(), err
}

func (r *runner) expectStatus(orderID string, want domain.RegistrationStatus) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.timeout)
	defer cancel()

	resp, err := r.client.GetPaymentStatus(ctx, &registrationv1.GetPaymentStatusRequest{OrderId: orderID})
	r.col.recordGRPC(methodGetStatus, time.Since(start), err)
	if err != nil {
		return err
	}
	if got := resp.GetRegistration().GetStatus(); got != string(want) {
		return fmt.Errorf("order %s: expected status %s, got %s", orderID, want, got)
	}
	return nil
}

// deliverWebhook отправляет одно и то же подписанное событие несколько раз
// параллельно, как это делает шлюз при повторах. Каждая доставка обязана получить 200.
func (r *runner) deliverWebhook(body []byte, eventID string) error {
	signature := razorpay.Sign(body, r.cfg.secret)

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < r.cfg.duplicates; i++ {
		g.Go(func() error {
			return r.postWebhook(ctx, body, signature, eventID)
		})
	}
	return g.Wait()
}

func (r *runner) postWebhook(ctx context.Context, body []byte, signature, eventID string) error {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.httpAddr+webhookPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(razorpay.SignatureHeader, signature)
	req.Header.Set(razorpay.EventIDHeader, eventID)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.col.record(methodWebhook, time.Since(start), false, "TRANSPORT_ERROR")
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	ok := resp.StatusCode == http.StatusOK
	r.col.record(methodWebhook, time.Since(start), ok, "HTTP_"+strconv.Itoa(resp.StatusCode))
	if !ok {
		return fmt.Errorf("webhook %s returned %d", eventID, resp.StatusCode)
	}
	return nil
}

func grpcCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	return status.Code(err)
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
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
	_, _ = fmt.Fprintln(w, "Webhook load test summary")
	_, _ = fmt.Fprintf(w, "mode=%s run=%s duplicates=%d total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode,
		runTarget(cfg),
		cfg.duplicates,
		result.TotalScenarios,
		result.SuccessScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	_, _ = fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	_, _ = fmt.Fprintf(w, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	methodNames := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name == methodScenario {
			continue
		}
		methodNames = append(methodNames, name)
	}
	sort.Strings(methodNames)
	for _, name := range methodNames {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(w,
			"%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Failed,
			stats.ErrorRate,
			stats.LatencyMs.P95,
		)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
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

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
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

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
