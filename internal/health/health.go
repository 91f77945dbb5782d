// Package health собирает состояние внешних зависимостей сервиса
// и отдаёт его ops-эндпоинтам /healthz, /readyz и /livez.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/version"
)

// Status — состояние зависимости или сервиса целиком.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) severity() int {
	switch s {
	case StatusUnhealthy:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

const defaultProbeTimeout = 2 * time.Second

// Result — итог одной проверки.
type Result struct {
	Status    Status `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// Checker проверяет одну зависимость.
type Checker interface {
	Check(ctx context.Context) Result
}

// Probe проверяет зависимость вызовом ping. Ошибка критичной зависимости
// делает сервис unhealthy, некритичной — degraded.
type Probe struct {
	ping     func(ctx context.Context) error
	optional bool
}

// Critical — зависимость, без которой сервис не обслуживает запросы (БД, Redis).
func Critical(ping func(ctx context.Context) error) Probe {
	return Probe{ping: ping}
}

// Optional — зависимость, отказ которой сервис переживает (брокер).
func Optional(ping func(ctx context.Context) error) Probe {
	return Probe{ping: ping, optional: true}
}

func (p Probe) Check(ctx context.Context) Result {
	started := time.Now()
	err := p.ping(ctx)
	res := Result{Status: StatusHealthy, LatencyMs: time.Since(started).Milliseconds()}
	if err == nil {
		return res
	}

	res.Error = err.Error()
	res.Status = StatusUnhealthy
	if p.optional {
		res.Status = StatusDegraded
	}
	return res
}

// Report — сводное состояние сервиса.
type Report struct {
	Status        Status            `json:"status"`
	CheckedAt     time.Time         `json:"checked_at"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Build         version.Build     `json:"build"`
	Components    map[string]Result `json:"components,omitempty"`
}

// Option настраивает Registry.
type Option func(*Registry)

// WithProbeTimeout ограничивает время всех проверок одного опроса.
func WithProbeTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// Registry хранит проверки зависимостей и признак остановки сервиса.
type Registry struct {
	mu       sync.RWMutex
	checkers map[string]Checker

	build    version.Build
	started  time.Time
	timeout  time.Duration
	draining atomic.Bool
}

// NewRegistry создаёт пустой реестр; без проверок сервис считается healthy.
func NewRegistry(build version.Build, opts ...Option) *Registry {
	r := &Registry{
		checkers: make(map[string]Checker),
		build:    build,
		started:  time.Now(),
		timeout:  defaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add регистрирует проверку; повторное имя заменяет прежнюю.
func (r *Registry) Add(name string, checker Checker) {
	r.mu.Lock()
	r.checkers[name] = checker
	r.mu.Unlock()
}

// Drain снимает сервис с readiness до завершения процесса.
func (r *Registry) Drain() {
	r.draining.Store(true)
}

// Report опрашивает все зависимости параллельно.
func (r *Registry) Report(ctx context.Context) Report {
	r.mu.RLock()
	names := make([]string, 0, len(r.checkers))
	for name := range r.checkers {
		names = append(names, name)
	}
	checkers := make([]Checker, len(names))
	sort.Strings(names)
	for i, name := range names {
		checkers[i] = r.checkers[name]
	}
	r.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	results := make([]Result, len(checkers))
	var wg sync.WaitGroup
	for i, checker := range checkers {
		wg.Add(1)
		go func(i int, checker Checker) {
			defer wg.Done()
			results[i] = checker.Check(ctx)
		}(i, checker)
	}
	wg.Wait()

	report := Report{
		Status:        StatusHealthy,
		CheckedAt:     time.Now().UTC(),
		UptimeSeconds: int64(time.Since(r.started).Seconds()),
		Build:         r.build,
		Components:    make(map[string]Result, len(names)),
	}
	for i, name := range names {
		report.Components[name] = results[i]
		if results[i].Status.severity() > report.Status.severity() {
			report.Status = results[i].Status
		}
	}
	return report
}

// Ready: сервис не останавливается и ни одна критичная зависимость не упала.
func (r *Registry) Ready(ctx context.Context) bool {
	if r.draining.Load() {
		return false
	}
	return r.Report(ctx).Status != StatusUnhealthy
}

// Mount вешает /healthz, /readyz и /livez на mux.
func (r *Registry) Mount(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", r.serveHealth)
	mux.HandleFunc("/readyz", r.serveReady)
	mux.HandleFunc("/livez", serveLive)
}

func (r *Registry) serveHealth(w http.ResponseWriter, req *http.Request) {
	report := r.Report(req.Context())
	code := http.StatusOK
	if report.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report)
}

func (r *Registry) serveReady(w http.ResponseWriter, req *http.Request) {
	if r.Ready(req.Context()) {
		writeText(w, http.StatusOK, "ready")
		return
	}
	writeText(w, http.StatusServiceUnavailable, "not ready")
}

// serveLive отвечает 200, пока процесс жив.
func serveLive(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "ok")
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}
