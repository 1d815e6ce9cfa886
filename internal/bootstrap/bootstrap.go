// Package bootstrap seeds a symbol's Trade-Flow Window from a historical
// CSV of trade prints at startup (spec.md §6 "a historical CSV may be read
// at bootstrap"). It also writes the CSV's derived seed statistics to
// internal/store, where LoadCachedSeed can read them back. Seeding a window
// always parses the CSV: nothing restores a window from the cached seed.
package bootstrap

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"trader/internal/decimalx"
	"trader/internal/marketdata"
	"trader/internal/store"
)

// Cache persists the derived seed for one symbol's bootstrap CSV through a
// store.Store keyed by symbol.
type Cache struct {
	s *store.Store
}

// Open returns a Cache rooted at dir, creating it if absent.
func Open(dir string) (*Cache, error) {
	s, err := store.Open(dir, "seed_")
	if err != nil {
		return nil, fmt.Errorf("open bootstrap cache: %w", err)
	}
	return &Cache{s: s}, nil
}

// seed is the JSON-serializable snapshot of a TradeFlowWindow's lifetime
// accumulators, derived from a CSV. LoadCachedSeed reads it back; nothing
// replays it into a window.
type seed struct {
	BuyLength, SellLength         string
	BuySum, SellSum               string
	BuySquaredSum, SellSquaredSum string
	BuyHighest, SellHighest       string
	BuyLowest, SellLowest         string
}

// LoadCachedSeed returns a previously cached derived seed, or ok=false if
// none exists yet.
func (c *Cache) LoadCachedSeed(symbol string) (seed, bool, error) {
	var s seed
	ok, err := c.s.Load(symbol, &s)
	if err != nil {
		return seed{}, false, fmt.Errorf("load cached seed: %w", err)
	}
	return s, ok, nil
}

// SeedFromCSV reads a CSV of historical trade prints (columns:
// timestamp_ms, price, size, side — side is "buy" or "sell") and replays
// each row through window.ApplyTrade, seeding both the rolling window and
// the forever_liquidity accumulators. On success it caches the derived
// lifetime totals under symbol; it reads the CSV on every call, whether or
// not a cached seed already exists.
func (c *Cache) SeedFromCSV(csvPath, symbol string, window *marketdata.TradeFlowWindow) error {
	f, err := os.Open(csvPath)
	if err != nil {
		return fmt.Errorf("open bootstrap csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 4

	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read bootstrap csv: %w", err)
		}

		tsMs, err := strconv.ParseInt(record[0], 10, 64)
		if err != nil {
			return fmt.Errorf("parse bootstrap timestamp %q: %w", record[0], err)
		}
		price, err := decimalx.ParseFinite(record[1])
		if err != nil {
			return fmt.Errorf("parse bootstrap price %q: %w", record[1], err)
		}
		size, err := decimalx.ParseFinite(record[2])
		if err != nil {
			return fmt.Errorf("parse bootstrap size %q: %w", record[2], err)
		}

		side := marketdata.TradeSideBuy
		if record[3] == "sell" {
			side = marketdata.TradeSideSell
		}
		window.ApplyTrade(price, size, tsMs, side)
	}

	return c.s.Save(symbol, snapshotSeed(window))
}

func snapshotSeed(w *marketdata.TradeFlowWindow) seed {
	return seed{
		BuyLength:      w.BuyForeverLiquidity.Length.String(),
		SellLength:     w.SellForeverLiquidity.Length.String(),
		BuySum:         w.BuyForeverLiquidity.Sum.String(),
		SellSum:        w.SellForeverLiquidity.Sum.String(),
		BuySquaredSum:  w.BuyForeverLiquidity.SquaredSum.String(),
		SellSquaredSum: w.SellForeverLiquidity.SquaredSum.String(),
		BuyHighest:     w.BuyForeverLiquidity.Highest.String(),
		SellHighest:    w.SellForeverLiquidity.Highest.String(),
		BuyLowest:      w.BuyForeverLiquidity.Lowest.String(),
		SellLowest:     w.SellForeverLiquidity.Lowest.String(),
	}
}
