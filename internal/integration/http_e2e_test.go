//go:build integration || !unit

package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	_ "github.com/go-sql-driver/mysql"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"

	httpserver "listing_harvester/internal/adapters/http_server"
	"listing_harvester/internal/adapters/portal"
	redisad "listing_harvester/internal/adapters/redis"
	"listing_harvester/internal/app"
	"listing_harvester/internal/crawl"
	"listing_harvester/internal/domain"
	mysqlrepo "listing_harvester/internal/storage/mysql"
)

func applyMigrations(t *testing.T, db *sql.DB) {
	t.Helper()
	root := os.Getenv("MIGRATIONS_DIR")
	if root == "" {
		t.Skip("MIGRATIONS_DIR not set; export it (e.g. MIGRATIONS_DIR=$PWD/migrations)")
	}
	files, _ := filepath.Glob(filepath.Join(root, "mysql", "*.sql"))
	if len(files) == 0 {
		t.Fatalf("no .sql files in %s/mysql", root)
	}
	sort.Strings(files)
	for _, f := range files {
		sqlBytes, err := os.ReadFile(f)
		if err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
		if _, err := db.Exec(string(sqlBytes)); err != nil {
			t.Fatalf("exec %s: %v", f, err)
		}
	}
}

func startMySQL(t *testing.T) *sql.DB {
	t.Helper()
	if os.Getenv("MIGRATIONS_DIR") == "" {
		t.Skip("MIGRATIONS_DIR not set")
	}
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Fatalf("dockertest: %v", err)
	}
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "mysql",
		Tag:        "8.0.36",
		Env:        []string{"MYSQL_ROOT_PASSWORD=root", "MYSQL_DATABASE=harvest"},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("run mysql: %v", err)
	}
	t.Cleanup(func() { _ = pool.Purge(resource) })

	dsn := fmt.Sprintf("root:root@tcp(127.0.0.1:%s)/harvest?parseTime=true&multiStatements=true&clientFoundRows=true&charset=utf8mb4,utf8&loc=UTC",
		resource.GetPort("3306/tcp"))
	var db *sql.DB
	if err := pool.Retry(func() error {
		var e error
		db, e = sql.Open("mysql", dsn)
		if e != nil {
			return e
		}
		return db.Ping()
	}); err != nil {
		t.Fatalf("connect mysql: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	applyMigrations(t, db)
	return db
}

// fakePortal serves two listings over two result pages. The first detail
// request for 1002 is rate limited.
type fakePortal struct {
	price1001 atomic.Value
	limited   atomic.Bool
}

func (p *fakePortal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/search":
		if r.URL.Query().Get("p") == "2" {
			fmt.Fprint(w, `<html><body><p>No results</p></body></html>`)
			return
		}
		fmt.Fprintf(w, `<html><body>
<div class="card-body"><h2 class="h3 mb-1"><a href="/p/1001">Villa - Grand Baie</a></h2>
<address><a href="#">Grand Baie</a></address>
<strong class="price text-danger"><a href="#">%s</a></strong></div>
<div class="card-body"><h2 class="h3 mb-1"><a href="/p/1002">Apartment - Tamarin</a></h2>
<address><a href="#">Tamarin</a></address>
<strong class="price text-danger"><a href="#">Rs 9,800,000</a></strong></div>
<ul><li class="pagination-next"><a href="/search?p=2">Next</a></li></ul>
</body></html>`, p.price1001.Load().(string))
	case "/p/1001", "/p/1002":
		if r.URL.Path == "/p/1002" && !p.limited.Swap(true) {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		ref := r.URL.Path[len("/p/"):]
		fmt.Fprintf(w, `<html><body><p>Ref. LP : %s</p><dl>
<dt>Bedroom(s)</dt><dd>3</dd><dt>Swimming pool</dt><dd>Private</dd><dt>Land surface</dt><dd>1,200 m²</dd>
</dl></body></html>`, ref)
	default:
		http.NotFound(w, r)
	}
}

func crawlOnce(t *testing.T, base string) crawl.Result {
	t.Helper()
	client, err := portal.New("harvest-e2e", 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	sched, err := crawl.NewScheduler(client, crawl.NewThrottle(crawl.ThrottleConfig{MaxInFlight: 2}), nil, crawl.Config{
		StartURL: base + "/search?p=1",
		MaxPages: 10,
		Workers:  2,
		Retry:    crawl.RetryPolicy{MaxRetries: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond},
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := sched.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestHarvest_EndToEnd(t *testing.T) {
	db := startMySQL(t)
	repo := mysqlrepo.New(db)
	mr := miniredis.RunT(t)
	cache := redisad.New(mr.Addr(), "", 0)

	fp := &fakePortal{}
	fp.price1001.Store("Rs 5,000,000")
	site := httptest.NewServer(fp)
	defer site.Close()

	ctx := context.Background()
	rec := app.NewReconciler(repo, cache, 180*24*time.Hour)
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	res := crawlOnce(t, site.URL)
	if len(res.Records) != 2 || len(res.Failures) != 0 || res.EndReason != crawl.EndExhausted {
		t.Fatalf("unexpected crawl result: records=%d failures=%v end=%s", len(res.Records), res.Failures, res.EndReason)
	}
	rep, err := rec.Reconcile(ctx, res.Records, t0)
	if err != nil || rep.Inserted != 2 {
		t.Fatalf("first reconcile: %+v err=%v", rep, err)
	}

	// price moves on the next run
	fp.price1001.Store("Rs 5,200,000")
	res = crawlOnce(t, site.URL)
	rep, err = rec.Reconcile(ctx, res.Records, t0.Add(24*time.Hour))
	if err != nil || rep.PriceChanged != 1 || rep.Refreshed != 1 {
		t.Fatalf("second reconcile: %+v err=%v", rep, err)
	}

	srv := httpserver.New(5 * time.Second)
	srv.MountHandlers(&httpserver.Handlers{Q: app.NewQueryService(repo, cache, time.Minute)})
	api := httptest.NewServer(srv.Mux())
	defer api.Close()

	var p domain.Property
	getJSON(t, api.URL+"/v1/properties/1001", &p)
	if p.Price != 520_000_000 || p.SwimmingPool != domain.PoolPrivate || p.Bedrooms == nil || *p.Bedrooms != 3 {
		t.Fatalf("unexpected property: %+v", p)
	}
	if p.LandSurface == nil || *p.LandSurface != 1200 {
		t.Fatalf("land surface not normalized: %v", p.LandSurface)
	}

	var hist struct {
		Items []domain.PriceHistoryEntry `json:"items"`
	}
	getJSON(t, api.URL+"/v1/properties/1001/price-history", &hist)
	if len(hist.Items) != 1 || hist.Items[0].Price != 500_000_000 || !hist.Items[0].ObservedAt.Equal(t0) {
		t.Fatalf("unexpected history: %+v", hist.Items)
	}

	resp, err := http.Get(api.URL + "/v1/properties/999")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func getJSON(t *testing.T, url string, dst any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}
