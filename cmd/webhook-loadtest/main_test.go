package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/vladislavdragonenkov/donation-reconciler/internal/domain"
	"github.com/vladislavdragonenkov/donation-reconciler/internal/gateway/razorpay"
	"github.com/vladislavdragonenkov/donation-reconciler/internal/metrics"
	grpcsvc "github.com/vladislavdragonenkov/donation-reconciler/internal/service/grpc"
	"github.com/vladislavdragonenkov/donation-reconciler/internal/service/httpapi"
	"github.com/vladislavdragonenkov/donation-reconciler/internal/service/reconcile"
	"github.com/vladislavdragonenkov/donation-reconciler/internal/storage/memory"
	registrationv1 "github.com/vladislavdragonenkov/donation-reconciler/proto/registration/v1"
)

const testSecret = "whsec_loadtest"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func withCLIArgs(t *testing.T, args []string, fn func()) {
	t.Helper()

	oldArgs := os.Args
	oldCommandLine := flag.CommandLine

	os.Args = append([]string{"webhook-loadtest"}, args...)
	fs := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	flag.CommandLine = fs

	defer func() {
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	}()

	fn()
}

// stack поднимает HTTP API и gRPC поверх одного движка сверки в памяти.
type stack struct {
	httpURL string
	client  registrationv1.RegistrationServiceClient
	store   *memory.Store
}

func newStack(t *testing.T) *stack {
	t.Helper()

	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	entry := log.NewEntry(logger)

	store := memory.NewStore()
	m := metrics.NewReconcileMetricsWithRegisterer(prometheus.NewRegistry())
	engine := reconcile.NewEngine(store,
		reconcile.WithLogger(entry),
		reconcile.WithMetrics(m),
	)

	api := httptest.NewServer(httpapi.NewRouter(httpapi.NewHandler(engine, razorpay.NewVerifier(testSecret),
		httpapi.WithLogger(entry),
		httpapi.WithMetrics(m),
	)))

	listener := bufconn.Listen(1024 * 1024)
	server := grpc.NewServer()
	registrationv1.RegisterRegistrationServiceServer(server, grpcsvc.NewRegistrationService(engine, entry))
	go func() { _ = server.Serve(listener) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return listener.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("create grpc client: %v", err)
	}

	t.Cleanup(func() {
		_ = conn.Close()
		server.Stop()
		api.Close()
	})

	return &stack{
		httpURL: api.URL,
		client:  registrationv1.NewRegistrationServiceClient(conn),
		store:   store,
	}
}

func (s *stack) runner(mode loadMode, col *collector) *runner {
	return &runner{
		cfg: config{
			httpAddr:    s.httpURL,
			secret:      testSecret,
			duplicates:  3,
			timeout:     5 * time.Second,
			mode:        mode,
			entityType:  string(domain.EntityTypeMember),
			amountMinor: defaultAmount,
			currency:    "INR",
		},
		client:     s.client,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		runID:      "test",
		col:        col,
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    loadMode
		wantErr string
	}{
		{name: "capture", input: "capture", want: modeCapture},
		{name: "capture-link", input: " capture-link ", want: modeCaptureLink},
		{name: "link-first", input: "link-first", want: modeLinkFirst},
		{name: "unsupported", input: "bad", wantErr: "unsupported mode"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseMode(tc.input)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("unexpected mode: got %q want %q", got, tc.want)
			}
		})
	}
}

func TestParseConfig(t *testing.T) {
	t.Run("count mode", func(t *testing.T) {
		withCLIArgs(t, []string{
			"-grpc-addr=127.0.0.1:50051",
			"-http-addr=http://127.0.0.1:8080/",
			"-secret=whsec",
			"-mode=link-first",
			"-total=12",
			"-concurrency=3",
			"-connections=2",
			"-duplicates=4",
			"-timeout=2s",
			"-entity-type=volunteer",
			"-amount-minor=99",
		}, func() {
			cfg, err := parseConfig()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !cfg.totalSet {
				t.Fatalf("expected totalSet=true")
			}
			if cfg.mode != modeLinkFirst {
				t.Fatalf("unexpected mode: %s", cfg.mode)
			}
			if cfg.total != 12 || cfg.concurrency != 3 || cfg.connections != 2 || cfg.duplicates != 4 {
				t.Fatalf("unexpected numeric config: %+v", cfg)
			}
			if cfg.httpAddr != "http://127.0.0.1:8080" {
				t.Fatalf("trailing slash must be trimmed, got %s", cfg.httpAddr)
			}
			if cfg.entityType != string(domain.EntityTypeVolunteer) {
				t.Fatalf("unexpected entity type: %s", cfg.entityType)
			}
			if cfg.timeout != 2*time.Second {
				t.Fatalf("unexpected timeout: %s", cfg.timeout)
			}
		})
	})

	t.Run("duration mode", func(t *testing.T) {
		withCLIArgs(t, []string{"-secret=whsec", "-duration=3s", "-concurrency=2", "-connections=1"}, func() {
			cfg, err := parseConfig()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.duration != 3*time.Second {
				t.Fatalf("unexpected duration: %s", cfg.duration)
			}
			if cfg.totalSet {
				t.Fatalf("expected totalSet=false when -total was not provided")
			}
		})
	})

	t.Run("validation errors", func(t *testing.T) {
		t.Setenv("RECON_WEBHOOK_SECRET", "")

		tests := []struct {
			name    string
			args    []string
			wantErr string
		}{
			{name: "missing secret", args: []string{"-secret="}, wantErr: "secret is required"},
			{name: "negative duration", args: []string{"-secret=x", "-duration=-1s"}, wantErr: "duration must be >= 0"},
			{name: "zero duplicates", args: []string{"-secret=x", "-duplicates=0"}, wantErr: "duplicates must be > 0"},
			{name: "bad entity type", args: []string{"-secret=x", "-entity-type=ALIEN"}, wantErr: "unsupported entity-type"},
			{name: "bad http addr", args: []string{"-secret=x", "-http-addr=localhost:8080"}, wantErr: "http(s) URL"},
			{name: "empty total", args: []string{"-secret=x", "-total=0"}, wantErr: "total must be > 0"},
			{name: "bad mode", args: []string{"-secret=x", "-mode=refund"}, wantErr: "unsupported mode"},
		}

		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				withCLIArgs(t, tc.args, func() {
					_, err := parseConfig()
					if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
						t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
					}
				})
			})
		}
	})
}

func TestDispatchJobs(t *testing.T) {
	t.Run("count mode", func(t *testing.T) {
		jobs := make(chan int, 16)
		dispatchJobs(jobs, config{total: 5})

		var got []int
		for v := range jobs {
			got = append(got, v)
		}
		if !slices.Equal(got, []int{0, 1, 2, 3, 4}) {
			t.Fatalf("unexpected jobs sequence: %v", got)
		}
	})

	t.Run("duration with explicit max total", func(t *testing.T) {
		jobs := make(chan int, 16)
		dispatchJobs(jobs, config{duration: time.Second, total: 3, totalSet: true})
		count := 0
		for range jobs {
			count++
		}
		if count != 3 {
			t.Fatalf("expected 3 jobs, got %d", count)
		}
	})
}

func TestCollectorAndReport(t *testing.T) {
	c := newCollector()
	c.record(methodScenario, 10*time.Millisecond, true, "OK")
	c.record(methodScenario, 20*time.Millisecond, false, "FAILED")
	c.recordGRPC(methodCreate, 15*time.Millisecond, nil)
	c.recordGRPC(methodCreate, 5*time.Millisecond, status.Error(codes.AlreadyExists, "exists"))
	c.record(methodWebhook, time.Millisecond, true, "HTTP_200")

	r := c.buildReport(time.Now(), 2*time.Second)
	if r.TotalScenarios != 2 || r.FailedScenarios != 1 {
		t.Fatalf("unexpected report totals: %+v", r)
	}
	if r.RPS <= 0 {
		t.Fatalf("expected positive rps, got %f", r.RPS)
	}
	create := r.Methods[methodCreate]
	if create.Calls != 2 || create.Failed != 1 || create.Codes[codes.AlreadyExists.String()] != 1 {
		t.Fatalf("unexpected create stats: %+v", create)
	}
	if r.Methods[methodWebhook].Codes["HTTP_200"] != 1 {
		t.Fatalf("unexpected webhook stats: %+v", r.Methods[methodWebhook])
	}
}

func TestUtilityFunctions(t *testing.T) {
	if got := grpcCode(nil); got != codes.OK {
		t.Fatalf("grpcCode(nil) = %s, want OK", got)
	}
	if got := grpcCode(status.Error(codes.Unavailable, "down")); got != codes.Unavailable {
		t.Fatalf("unexpected grpc code: %s", got)
	}
	if got := ratio(1, 4); got != 0.25 {
		t.Fatalf("ratio mismatch: %f", got)
	}
	if got := ratio(1, 0); got != 0 {
		t.Fatalf("ratio with zero total must be 0, got %f", got)
	}

	summary := buildLatencySummary([]float64{10, 20, 30, 40})
	if summary.Min != 10 || summary.Max != 40 || summary.Avg != 25 || summary.P50 != 25 {
		t.Fatalf("unexpected latency summary: %+v", summary)
	}
	if got := buildLatencySummary(nil); got != (latencySummary{}) {
		t.Fatalf("empty summary expected, got %+v", got)
	}

	if got := runTarget(config{total: 50}); got != "count:50" {
		t.Fatalf("unexpected run target: %s", got)
	}
	if got := runTarget(config{duration: 2 * time.Second, total: 10, totalSet: true}); got != "duration:2s,max-total:10" {
		t.Fatalf("unexpected capped duration run target: %s", got)
	}
}

func TestWriteJSONReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")

	if err := writeJSONReport(path, report{TotalScenarios: 2, SuccessScenarios: 2}); err != nil {
		t.Fatalf("writeJSONReport error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var decoded report
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if decoded.TotalScenarios != 2 || decoded.SuccessScenarios != 2 {
		t.Fatalf("unexpected decoded report: %+v", decoded)
	}

	if err := writeJSONReport("../escape.json", report{}); err == nil {
		t.Fatal("expected error for path outside current directory")
	}
}

func TestRunScenario_AllModes(t *testing.T) {
	s := newStack(t)
	col := newCollector()

	for i, mode := range []loadMode{modeCapture, modeCaptureLink, modeLinkFirst} {
		t.Run(string(mode), func(t *testing.T) {
			if err := s.runner(mode, col).runScenario(i); err != nil {
				t.Fatalf("scenario failed: %v", err)
			}
		})
	}

	r := col.buildReport(time.Now(), time.Second)
	if r.SuccessScenarios != 3 || r.FailedScenarios != 0 {
		t.Fatalf("unexpected scenario totals: %+v", r)
	}
	webhook := r.Methods[methodWebhook]
	if webhook.Calls != 9 || webhook.Codes["HTTP_200"] != 9 {
		t.Fatalf("every duplicate delivery must be acknowledged: %+v", webhook)
	}
}

func TestRunScenario_DuplicateDeliveriesStoreOneEvent(t *testing.T) {
	s := newStack(t)
	r := s.runner(modeCapture, newCollector())
	r.cfg.duplicates = 8

	if err := r.runScenario(0); err != nil {
		t.Fatalf("scenario failed: %v", err)
	}

	if _, err := s.store.GetEvent(context.Background(), "evt_lt_test_0"); err != nil {
		t.Fatalf("event must be stored: %v", err)
	}
	timeline, err := s.store.ListTimeline(context.Background(), "order_lt_test_0")
	if err != nil {
		t.Fatalf("list timeline: %v", err)
	}
	captured := 0
	for _, event := range timeline {
		if event.Type == domain.TimelinePaymentCaptured {
			captured++
		}
	}
	if captured != 1 {
		t.Fatalf("expected exactly one capture in timeline, got %d", captured)
	}
}

func TestRunScenario_WrongSecretFails(t *testing.T) {
	s := newStack(t)
	col := newCollector()
	r := s.runner(modeCapture, col)
	r.cfg.secret = "whsec_wrong"

	if err := r.runScenario(0); err == nil {
		t.Fatal("expected scenario to fail with a wrong signing secret")
	}

	webhook := col.buildReport(time.Now(), time.Second).Methods[methodWebhook]
	if webhook.Success != 0 || webhook.Codes["HTTP_400"] == 0 {
		t.Fatalf("expected rejected deliveries, got %+v", webhook)
	}
}

func TestPostWebhook_TransportError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	col := newCollector()
	r := &runner{
		cfg:        config{httpAddr: srv.URL, secret: testSecret, duplicates: 2, timeout: time.Second},
		httpClient: srv.Client(),
		col:        col,
	}

	if err := r.deliverWebhook([]byte(`{}`), "evt_1"); err == nil {
		t.Fatal("expected error for 503 response")
	}
	if hits.Load() == 0 {
		t.Fatal("expected at least one delivery")
	}

	srv.Close()
	if err := r.postWebhook(context.Background(), []byte(`{}`), "sig", "evt_2"); err == nil {
		t.Fatal("expected transport error after server shutdown")
	}
	if col.buildReport(time.Now(), time.Second).Methods[methodWebhook].Codes["TRANSPORT_ERROR"] != 1 {
		t.Fatal("transport errors must be recorded")
	}
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, report{
		TotalScenarios:   2,
		SuccessScenarios: 2,
		Methods: map[string]methodReport{
			methodScenario: {Calls: 2},
			methodWebhook:  {Calls: 6, Success: 6},
			methodCreate:   {Calls: 2, Success: 2},
		},
	}, config{mode: modeCapture, total: 2, duplicates: 3})

	out := buf.String()
	if !strings.Contains(out, "mode=capture run=count:2 duplicates=3") {
		t.Fatalf("unexpected header: %s", out)
	}
	if strings.Index(out, methodCreate) > strings.Index(out, methodWebhook+":") {
		t.Fatalf("methods must be sorted: %s", out)
	}
	if strings.Contains(out, methodScenario+":") {
		t.Fatalf("scenario must not be listed as a method: %s", out)
	}
}
