// README: Bench cases: storage, migrations, auth rejection, zone resolution, the dispatch accept race and load.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"foodhub/internal/auth"
	"foodhub/internal/types"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"
)

// Fixture identities. Re-running the bench upserts them back to a known state.
const (
	benchZone     = "BENCH-1"
	benchVendor   = "bench-vendor"
	benchVendorU  = "bench-vendor-user"
	benchCustomer = "bench-customer"
	benchAdmin    = "bench-admin"
	benchPartners = 5
)

var benchShop = types.Point{Lat: 0.1, Lng: 0.1}

type Runner struct {
	cfg    Config
	httpc  *http.Client
	db     *pgxpool.Pool
	redis  *redis.Client
	tokens *auth.JWTVerifier
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

func NewRunner(cfg Config) (*Runner, error) {
	r := &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
	if cfg.JWTSecret != "" {
		tokens, err := auth.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer)
		if err != nil {
			return nil, fmt.Errorf("token issuer: %w", err)
		}
		r.tokens = tokens
	}
	return r, nil
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
		fmt.Printf("%-5s %s", res.Status, tc.Name)
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
					return Result{Status: statusFail, Note: "db not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
				return Result{Status: statusPass}
			},
		},
		{
			Name: "Env: Redis connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: statusFail, Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
				return Result{Status: statusPass}
			},
		},
		{
			Name: "Migration: apply (optional)",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration {
					return Result{Status: statusSkip, Note: "apply-migration=false"}
				}
				if r.db == nil {
					return Result{Status: statusFail, Note: "db not configured"}
				}
				sql, err := os.ReadFile(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
				for _, s := range splitSQL(string(sql)) {
					if _, err := r.db.Exec(ctx, s); err != nil {
						return Result{Status: statusFail, Note: err.Error()}
					}
				}
				return Result{Status: statusPass}
			},
		},
		{
			Name: "Migration: tables exist",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: statusFail, Note: "db not configured"}
				}
				tables, err := extractTables(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
				for _, t := range tables {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
						t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: statusFail, Note: err.Error()}
					}
					if !exists {
						return Result{Status: statusFail, Note: "missing table: " + t}
					}
				}
				return Result{Status: statusPass, Note: fmt.Sprintf("tables=%d", len(tables))}
			},
		},
		httpCase("API: health", http.MethodGet, base+"/health", "", nil, http.StatusOK),
		httpCase("Auth: order create without token -> 401", http.MethodPost, base+"/api/orders", "", map[string]any{}, http.StatusUnauthorized),
		{
			Name: "Zone: create bench zone and resolve the shop",
			Run:  func(ctx context.Context, r *Runner) Result { return r.zoneFlow(ctx) },
		},
		{
			Name: "Dispatch: concurrent accept yields one winner",
			Run:  func(ctx context.Context, r *Runner) Result { return r.dispatchRace(ctx) },
		},
		{
			Name: "Perf: zone resolve load",
			Run: func(ctx context.Context, r *Runner) Result {
				tok, ok := r.token(benchCustomer, types.RoleCustomer)
				if !ok {
					return Result{Status: statusSkip, Note: "jwt secret not set"}
				}
				url := fmt.Sprintf("%s/api/zones/resolve?lat=%f&lng=%f", base, benchShop.Lat, benchShop.Lng)
				return perfLoad(ctx, r, url, tok)
			},
		},
	}
}

func (r *Runner) token(uid string, role types.Role) (string, bool) {
	if r.tokens == nil {
		return "", false
	}
	tok, err := r.tokens.Issue(types.ID(uid), role, 10*time.Minute)
	return tok, err == nil
}

func (r *Runner) zoneFlow(ctx context.Context) Result {
	admin, ok := r.token(benchAdmin, types.RoleAdmin)
	if !ok {
		return Result{Status: statusSkip, Note: "jwt secret not set"}
	}
	start := time.Now()
	code, _, err := r.call(ctx, http.MethodPost, "/api/zones", admin, map[string]any{
		"zoneId":            benchZone,
		"district":          "bench",
		"zoneName":          "bench",
		"boundary":          [][2]float64{{0, 0}, {0.2, 0}, {0.2, 0.2}, {0, 0.2}},
		"isOperational":     true,
		"minFee":            types.Money{Amount: 250, Currency: "EUR"},
		"maxDistanceMeters": 10000,
	})
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if code != http.StatusCreated && code != http.StatusConflict {
		return Result{Status: statusFail, Note: fmt.Sprintf("create zone status=%d", code)}
	}
	path := fmt.Sprintf("/api/zones/resolve?lat=%f&lng=%f", benchShop.Lat, benchShop.Lng)
	code, body, err := r.call(ctx, http.MethodGet, path, admin, nil)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if code != http.StatusOK || !strings.Contains(string(body), benchZone) {
		return Result{Status: statusFail, Note: fmt.Sprintf("resolve status=%d", code)}
	}
	return Result{Status: statusPass, Latency: time.Since(start)}
}

// dispatchRace seeds a vendor and approved partners, walks an order to
// DISPATCHING and has every offered partner accept at once.
func (r *Runner) dispatchRace(ctx context.Context) Result {
	if r.tokens == nil {
		return Result{Status: statusSkip, Note: "jwt secret not set"}
	}
	if r.db == nil {
		return Result{Status: statusFail, Note: "db not configured"}
	}
	if err := r.seed(ctx); err != nil {
		return Result{Status: statusFail, Note: "seed: " + err.Error()}
	}

	partnerTokens := make([]string, benchPartners)
	for i := range partnerTokens {
		tok, _ := r.token(partnerID(i), types.RoleDeliveryPartner)
		partnerTokens[i] = tok
		if code, _, err := r.call(ctx, http.MethodPut, "/api/partners/me/availability", tok, map[string]any{"availability": "IDLE"}); err != nil || code != http.StatusOK {
			return Result{Status: statusFail, Note: fmt.Sprintf("partner %d availability status=%d err=%v", i, code, err)}
		}
		ping := map[string]any{"latitude": benchShop.Lat + float64(i)*0.001, "longitude": benchShop.Lng, "geoAccuracy": 5}
		if code, _, err := r.call(ctx, http.MethodPut, "/api/partners/me/location", tok, ping); err != nil || code != http.StatusAccepted {
			return Result{Status: statusFail, Note: fmt.Sprintf("partner %d location status=%d err=%v", i, code, err)}
		}
	}

	customer, _ := r.token(benchCustomer, types.RoleCustomer)
	admin, _ := r.token(benchAdmin, types.RoleAdmin)
	vendorTok, _ := r.token(benchVendorU, types.RoleVendor)

	drop := types.Address{
		Line1:    "bench drop",
		City:     "bench",
		Location: types.Point{Lat: benchShop.Lat + 0.01, Lng: benchShop.Lng + 0.01},
	}
	code, body, err := r.call(ctx, http.MethodPost, "/api/orders", customer, map[string]any{
		"vendorId":        benchVendor,
		"items":           []map[string]any{{"name": "bench meal", "quantity": 1, "unitPrice": types.Money{Amount: 1000, Currency: "EUR"}}},
		"deliveryAddress": drop,
	})
	if err != nil || code != http.StatusCreated {
		return Result{Status: statusFail, Note: fmt.Sprintf("create order status=%d err=%v", code, err)}
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	orderPath := "/api/orders/" + created.ID
	if code, _, err := r.call(ctx, http.MethodPost, orderPath+"/paid", admin, nil); err != nil || code != http.StatusOK {
		return Result{Status: statusFail, Note: fmt.Sprintf("mark paid status=%d err=%v", code, err)}
	}
	code, body, err = r.call(ctx, http.MethodPost, orderPath+"/accept", vendorTok, nil)
	if err != nil || code != http.StatusOK {
		return Result{Status: statusFail, Note: fmt.Sprintf("vendor accept status=%d err=%v", code, err)}
	}
	var accepted struct {
		DispatchError string `json:"dispatchError"`
	}
	_ = json.Unmarshal(body, &accepted)
	if accepted.DispatchError != "" {
		return Result{Status: statusFail, Note: "dispatch: " + accepted.DispatchError}
	}

	start := time.Now()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for _, tok := range partnerTokens {
		wg.Add(1)
		go func(tok string) {
			defer wg.Done()
			code, _, err := r.call(ctx, http.MethodPost, orderPath+"/dispatch/accept", tok, nil)
			if err == nil && code == http.StatusOK {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(tok)
	}
	wg.Wait()
	latency := time.Since(start)
	if wins != 1 {
		return Result{Status: statusFail, Latency: latency, Note: fmt.Sprintf("winners=%d", wins)}
	}
	return Result{Status: statusPass, Latency: latency, Note: "order=" + created.ID}
}

func partnerID(i int) string { return fmt.Sprintf("bench-partner-%d", i) }

func (r *Runner) seed(ctx context.Context) error {
	addr, _ := json.Marshal(types.Address{Line1: "bench shop", City: "bench", Location: benchShop})
	if _, err := r.db.Exec(ctx, `
		INSERT INTO vendors (id, user_id, business_name, business_address)
		VALUES ($1, $2, 'bench', $3)
		ON CONFLICT (id) DO UPDATE SET business_address = EXCLUDED.business_address, is_deleted = FALSE`,
		benchVendor, benchVendorU, addr,
	); err != nil {
		return err
	}
	for i := 0; i < benchPartners; i++ {
		if _, err := r.db.Exec(ctx, `
			INSERT INTO delivery_partners (user_id, status, current_status)
			VALUES ($1, 'APPROVED', 'OFFLINE')
			ON CONFLICT (user_id) DO UPDATE
			SET status = 'APPROVED', current_status = 'OFFLINE', current_order_id = NULL, is_deleted = FALSE`,
			partnerID(i),
		); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) call(ctx context.Context, method, path, token string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	return resp.StatusCode, out, err
}

func httpCase(name, method, url, token string, body any, okStatuses ...int) TestCase {
	return TestCase{
		Name: name,
		Run: func(ctx context.Context, r *Runner) Result {
			var reader io.Reader
			if body != nil {
				b, _ := json.Marshal(body)
				reader = bytes.NewReader(b)
			}
			req, _ := http.NewRequestWithContext(ctx, method, url, reader)
			req.Header.Set("Content-Type", "application/json")
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
			start := time.Now()
			resp, err := r.httpc.Do(req)
			if err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			latency := time.Since(start)

			if contains(okStatuses, resp.StatusCode) {
				return Result{Status: statusPass, Latency: latency, Note: fmt.Sprintf("status=%d", resp.StatusCode)}
			}
			return Result{Status: statusFail, Latency: latency, Note: fmt.Sprintf("status=%d", resp.StatusCode)}
		},
	}
}

func perfLoad(ctx context.Context, r *Runner, url, token string) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount int64
	var mu sync.Mutex
	wg := sync.WaitGroup{}

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
				req.Header.Set("Authorization", "Bearer "+token)
				resp, err := r.httpc.Do(req)
				mu.Lock()
				if err != nil || resp.StatusCode >= 500 {
					errCount++
				} else {
					count++
				}
				mu.Unlock()
				if err == nil {
					_, _ = io.Copy(io.Discard, resp.Body)
					resp.Body.Close()
				}
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: statusFail, Note: "no requests completed"}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: statusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
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
