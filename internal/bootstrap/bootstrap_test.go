package bootstrap

import (
	"os"
	"path/filepath"
	"testing"

	"trader/internal/marketdata"
)

func writeTestCSV(t *testing.T, dir, symbol, body string) string {
	t.Helper()
	path := filepath.Join(dir, symbol+".csv")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write test csv: %v", err)
	}
	return path
}

func TestSeedFromCSVPopulatesTradeFlowWindow(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestCSV(t, dir, "BTCUSDT", "0,100,1,buy\n100,101,2,sell\n")

	c, err := Open(filepath.Join(dir, "cache"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	window := marketdata.NewTradeFlowWindow(5000)

	if err := c.SeedFromCSV(filepath.Join(dir, "BTCUSDT.csv"), "BTCUSDT", window); err != nil {
		t.Fatalf("SeedFromCSV: %v", err)
	}

	if window.BuyCount() != 1 || window.SellCount() != 1 {
		t.Errorf("BuyCount=%d SellCount=%d, want 1 and 1", window.BuyCount(), window.SellCount())
	}
}

func TestSeedFromCSVCachesDerivedSeed(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestCSV(t, dir, "ETHUSDT", "0,100,1,buy\n")

	cacheDir := filepath.Join(dir, "cache")
	c, err := Open(cacheDir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	window := marketdata.NewTradeFlowWindow(5000)
	if err := c.SeedFromCSV(filepath.Join(dir, "ETHUSDT.csv"), "ETHUSDT", window); err != nil {
		t.Fatalf("SeedFromCSV: %v", err)
	}

	s, ok, err := c.LoadCachedSeed("ETHUSDT")
	if err != nil {
		t.Fatalf("LoadCachedSeed: %v", err)
	}
	if !ok {
		t.Fatal("expected a cached seed to exist after SeedFromCSV")
	}
	if s.BuyLength != "1" {
		t.Errorf("cached BuyLength = %q, want 1", s.BuyLength)
	}
}

func TestLoadCachedSeedMissingReturnsNotOK(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	c, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_, ok, err := c.LoadCachedSeed("NOSUCHSYMBOL")
	if err != nil {
		t.Fatalf("LoadCachedSeed: %v", err)
	}
	if ok {
		t.Error("expected ok=false for a symbol with no cached seed")
	}
}
