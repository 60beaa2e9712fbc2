package shared

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Crawl.MaxRetries != 10 || c.Crawl.MaxPages != 1000 {
		t.Fatalf("unexpected crawl defaults: %+v", c.Crawl)
	}
	if c.StalenessWindow() != 180*24*time.Hour {
		t.Fatalf("staleness window: %v", c.StalenessWindow())
	}
	if c.Crawl.RetryNetworkErrors {
		t.Fatalf("network retries should be off by default")
	}
}

func TestLoad_FileThenEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "harvest.yaml")
	yml := []byte(`
store_driver: postgres
crawl:
  max_retries: 3
  retry_base_delay: 2s
  throttle_target_concurrency: 2.5
reconcile:
  staleness_days: 30
`)
	if err := os.WriteFile(path, yml, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("CRAWL_MAX_RETRIES", "5")
	t.Setenv("RETRY_MAX_DELAY", "90")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.StoreDriver != "postgres" {
		t.Fatalf("driver from file: %q", c.StoreDriver)
	}
	if c.Crawl.MaxRetries != 5 {
		t.Fatalf("env should override file, got %d", c.Crawl.MaxRetries)
	}
	if c.Crawl.RetryBaseDelay != 2*time.Second {
		t.Fatalf("base delay from file: %v", c.Crawl.RetryBaseDelay)
	}
	if c.Crawl.RetryMaxDelay != 90*time.Second {
		t.Fatalf("bare seconds env: %v", c.Crawl.RetryMaxDelay)
	}
	if c.Crawl.ThrottleTargetConcurrency != 2.5 {
		t.Fatalf("target concurrency: %v", c.Crawl.ThrottleTargetConcurrency)
	}
	if c.Reconcile.StalenessDays != 30 {
		t.Fatalf("staleness: %d", c.Reconcile.StalenessDays)
	}
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STORE_DRIVER", "mongo")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
