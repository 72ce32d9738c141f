// README: Bench cases: environment, migrations, the session lifecycle and device ingest throughput.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const benchDevice = "bench-device"

// benchRoute runs ~222 m north then ~200 m east from Taipei 101.
const benchRoute = `{
  "distance": 424, "duration": 60,
  "legs": [{"steps": [
    {"distance": 222, "duration": 30, "name": "Songzhi Rd",
     "geometry": {"type": "LineString", "coordinates": [[121.5645, 25.034], [121.5645, 25.036]]},
     "bannerInstructions": [{"distanceAlongGeometry": 222, "primary": {"text": "Turn right onto Xinyi Rd"}}]},
    {"distance": 202, "duration": 30, "name": "Xinyi Rd",
     "geometry": {"type": "LineString", "coordinates": [[121.5645, 25.036], [121.5665, 25.036]]},
     "bannerInstructions": [{"distanceAlongGeometry": 202, "primary": {"text": "You have arrived"}}]}
  ]}]
}`

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	sessionID string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-7s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}

	return results
}

func (r *Runner) cases() []TestCase {
	base := r.cfg.BaseURL
	return []TestCase{
		{
			Name: "Env: Postgres connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "SKIP", Note: "db not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name: "Env: Redis connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: "SKIP", Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name: "Migration: apply (optional)",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration || r.db == nil {
					return Result{Status: "SKIP", Note: "apply-migration=false or no db"}
				}
				sql, err := os.ReadFile(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				for _, s := range splitSQL(string(sql)) {
					if _, err := r.db.Exec(ctx, s); err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name: "Migration: tables exist",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "SKIP", Note: "db not configured"}
				}
				tables, err := extractTables(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				for _, t := range tables {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
						t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
					if !exists {
						return Result{Status: "FAIL", Note: "missing table: " + t}
					}
				}
				return Result{Status: "PASS"}
			},
		},
		httpCase("API: health", http.MethodGet, base+"/health", "", []int{200}, nil),
		httpCase("API: metrics", http.MethodGet, base+"/metrics", "", []int{200}, nil),
		httpCase("Session: invalid route -> 400", http.MethodPost, base+"/api/navigation/sessions", `{"legs": []}`, []int{400}, nil),
		httpCase("Session: create", http.MethodPost, base+"/api/navigation/sessions?device_id="+benchDevice, benchRoute, []int{201},
			func(r *Runner, body []byte) {
				var resp struct {
					SessionID string `json:"session_id"`
				}
				if json.Unmarshal(body, &resp) == nil {
					r.sessionID = resp.SessionID
				}
			}),
		sessionCase("Session: get", http.MethodGet, "", []int{200}),
		sessionCase("Session: simulate", http.MethodPost, "/simulate", []int{200}),
		sessionCase("Session: second source -> 409", http.MethodPost, "/live", []int{409}),
		{
			Name: "Session: simulated progress advances",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.sessionID == "" {
					return Result{Status: "SKIP", Note: "no session"}
				}
				deadline := time.Now().Add(5 * time.Second)
				for time.Now().Before(deadline) {
					status, body, _, err := r.do(ctx, http.MethodGet, base+"/api/navigation/sessions/"+r.sessionID, "")
					if err != nil || status != 200 {
						return Result{Status: "FAIL", Note: fmt.Sprintf("status=%d err=%v", status, err)}
					}
					var snap struct {
						Progress struct {
							Along float64 `json:"distance_along_current_step_m"`
						} `json:"progress"`
					}
					if json.Unmarshal(body, &snap) == nil && snap.Progress.Along > 0 {
						return Result{Status: "PASS", Note: fmt.Sprintf("along=%.1fm", snap.Progress.Along)}
					}
					time.Sleep(200 * time.Millisecond)
				}
				return Result{Status: "FAIL", Note: "no progress within 5s"}
			},
		},
		sessionCase("Session: cancel", http.MethodPost, "/cancel", []int{200}),
		sessionCase("Session: live", http.MethodPost, "/live", []int{200}),
		httpCase("Device: location update", http.MethodPut, base+"/api/devices/"+benchDevice+"/location",
			`{"lat": 25.035, "lng": 121.5645, "accuracy": 5}`, []int{200}, nil),
		httpCase("Device: nearby", http.MethodGet, base+"/api/devices/nearby?lat=25.035&lng=121.5645&radius_km=1", "", []int{200}, nil),
		sessionCase("Session: delete", http.MethodDelete, "", []int{204}),
		{
			Name: "Perf: device location throughput",
			Run: func(ctx context.Context, r *Runner) Result {
				return perfLoad(ctx, r, http.MethodPut, base+"/api/devices/"+benchDevice+"/location",
					`{"lat": 25.035, "lng": 121.5645, "accuracy": 5}`)
			},
		},
		{
			Name: "Perf: session create throughput",
			Run: func(ctx context.Context, r *Runner) Result {
				return perfLoad(ctx, r, http.MethodPost, base+"/api/navigation/sessions", benchRoute)
			},
		},
	}
}

func (r *Runner) do(ctx context.Context, method, url, body string) (int, []byte, time.Duration, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.Token)
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b, time.Since(start), nil
}

func httpCase(name, method, url, body string, okStatuses []int, onOK func(r *Runner, body []byte)) TestCase {
	return TestCase{
		Name: name,
		Run: func(ctx context.Context, r *Runner) Result {
			status, b, latency, err := r.do(ctx, method, url, body)
			if err != nil {
				return Result{Status: "FAIL", Note: err.Error()}
			}
			if !contains(okStatuses, status) {
				return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("status=%d", status)}
			}
			if onOK != nil {
				onOK(r, b)
			}
			return Result{Status: "PASS", Latency: latency, Note: fmt.Sprintf("status=%d", status)}
		},
	}
}

// sessionCase targets the session created by "Session: create".
func sessionCase(name, method, suffix string, okStatuses []int) TestCase {
	return TestCase{
		Name: name,
		Run: func(ctx context.Context, r *Runner) Result {
			if r.sessionID == "" {
				return Result{Status: "SKIP", Note: "no session"}
			}
			url := r.cfg.BaseURL + "/api/navigation/sessions/" + r.sessionID + suffix
			return httpCase(name, method, url, "", okStatuses, nil).Run(ctx, r)
		},
	}
}

func perfLoad(ctx context.Context, r *Runner, method, url, payload string) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount atomic.Int64
	wg := sync.WaitGroup{}

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				status, _, _, err := r.do(ctx, method, url, payload)
				if err != nil || status >= 500 {
					errCount.Add(1)
					continue
				}
				count.Add(1)
			}
		}()
	}
	wg.Wait()

	if count.Load() == 0 {
		return Result{Status: "FAIL", Note: "no requests completed"}
	}
	rps := float64(count.Load()) / r.cfg.Duration.Seconds()
	return Result{Status: "PASS", Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount.Load())}
}

func contains(list []int, v int) bool {
	for _, i := range list {
		if i == v {
			return true
		}
	}
	return false
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	parts := strings.Split(strings.Join(filtered, "\n"), ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
