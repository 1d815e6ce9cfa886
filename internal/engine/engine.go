// Package engine is the central orchestrator of the market-making client.
//
// It wires together all subsystems, generalized from the teacher's
// scanner → strategy → exchange wiring in internal/engine/engine.go to
// spec.md §5's per-symbol concurrency model:
//
//  1. One Venue Adapter instance (Binance-style or Bybit-style, chosen by
//     ExecutionMode) is shared across every configured symbol.
//  2. Each symbol gets: an Order-Book Replica, a Trade-Flow Window, a
//     Portfolio (which itself owns the Buy/Sell Positions and their order
//     worker pools), a Signal Dispatcher goroutine, and a Strategy
//     Controller goroutine.
//  3. The venue's market-data stream feeds the dispatcher directly; the
//     dispatcher forwards derived signals to the controller over a
//     buffered channel (capacity 1024) whose sends block when it is full.
//
// Lifecycle: New() → Start() → [runs until ctx cancelled] → Stop()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"trader/internal/api"
	"trader/internal/bootstrap"
	"trader/internal/config"
	"trader/internal/controller"
	"trader/internal/decimalx"
	"trader/internal/dispatch"
	"trader/internal/marketdata"
	"trader/internal/oracle"
	"trader/internal/portfolio"
	"trader/internal/risk"
	"trader/internal/venue/binance"
	"trader/internal/venue/bybit"
)

// MarketStream is the subset of a Venue Adapter's surface the engine needs
// to start a symbol's market-data feed, satisfied by both
// venue/binance.Adapter and venue/bybit.Adapter.
type MarketStream interface {
	portfolio.VenueOps
	Stream(ctx context.Context, streamPath string, out chan<- dispatch.Inbound) error
}

// symbolSlot is one actively-traded symbol's wired subsystem stack.
type symbolSlot struct {
	symbol     string
	book       *marketdata.OrderBook
	tradeFlow  *marketdata.TradeFlowWindow
	portfolio  *portfolio.Portfolio
	controller *controller.Controller
	dispatcher *dispatch.Dispatcher
	rawCh      chan dispatch.Inbound
	sigCh      chan controller.Signal
	activityCh chan controller.Activity
}

// Engine orchestrates all components of the market-making system. It owns
// the lifecycle of every per-symbol goroutine pair (dispatcher + controller)
// plus the shared venue stream connections.
type Engine struct {
	cfg       config.Config
	venue     MarketStream
	oracle    *oracle.Oracle
	risk      *risk.Manager
	dashboard *api.Server
	logger    *slog.Logger

	slots map[string]*symbolSlot

	dashboardEvents chan api.DashboardEvent

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and wires all engine components for cfg. ExecutionMode
// selects the concrete Venue Adapter: unset defaults to Binance-style,
// BYBIT selects the Bybit-style adapter (spec.md §2).
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	o := oracle.New()

	var venueAdapter MarketStream
	switch cfg.ExecutionMode {
	case config.ExecutionModeBybit:
		venueAdapter = bybit.New(bybit.Credentials{
			Key: cfg.Venue.Key, Secret: cfg.Venue.Secret,
			RESTURL: cfg.Venue.RESTURL, PerpetualsURL: cfg.Venue.PerpetualsURL, PrivateURL: cfg.Venue.PrivateURL,
		}, o, logger)
	default:
		venueAdapter = binance.New(binance.Credentials{
			Key: cfg.Venue.Key, Secret: cfg.Venue.Secret,
			RESTURL: cfg.Venue.RESTURL, PerpetualsURL: cfg.Venue.PerpetualsURL, PrivateURL: cfg.Venue.PrivateURL,
		}, o, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())

	riskMgr, err := risk.NewManager(cfg.Risk, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build risk manager: %w", err)
	}

	e := &Engine{
		cfg:    cfg,
		venue:  venueAdapter,
		oracle: o,
		risk:   riskMgr,
		logger: logger.With("component", "engine"),
		slots:  make(map[string]*symbolSlot),
		ctx:    ctx,
		cancel: cancel,
	}

	var bc *bootstrap.Cache
	if cfg.Bootstrap.Enabled {
		var err error
		bc, err = bootstrap.Open(cfg.Bootstrap.CacheDir)
		if err != nil {
			cancel()
			return nil, err
		}
	}

	for _, sc := range cfg.Symbols {
		slot, err := e.buildSlot(sc, bc)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("build slot %s: %w", sc.Symbol, err)
		}
		e.slots[sc.Symbol] = slot
	}

	if cfg.Dashboard.Port != 0 {
		e.dashboardEvents = make(chan api.DashboardEvent, 256)
		for _, slot := range e.slots {
			slot := slot
			slot.controller.SetActivitySink(slot.activityCh)
			go e.forwardActivity(slot)
		}
		e.dashboard = api.NewServer(cfg.Dashboard, e, logger)
	}

	return e, nil
}

// DashboardEvents implements the api package's (unexported) eventSource
// interface: it exposes the engine's translated activity/kill feed to the
// dashboard's WebSocket hub. Returns nil when no dashboard is configured.
func (e *Engine) DashboardEvents() <-chan api.DashboardEvent {
	return e.dashboardEvents
}

// forwardActivity translates one symbol's controller.Activity notifications
// into api.DashboardEvent and pushes them onto the engine's shared feed.
// Runs until ctx is cancelled, alongside that symbol's controller goroutine.
func (e *Engine) forwardActivity(slot *symbolSlot) {
	for {
		select {
		case <-e.ctx.Done():
			return
		case a := <-slot.activityCh:
			evt, ok := activityToDashboardEvent(slot.symbol, a)
			if !ok {
				continue
			}
			select {
			case e.dashboardEvents <- evt:
			default:
			}
		}
	}
}

func activityToDashboardEvent(symbol string, a controller.Activity) (api.DashboardEvent, bool) {
	now := time.Now()
	switch a.Kind {
	case controller.ActivityOrderPlaced, controller.ActivityOrderFailed:
		status := "PLACED"
		if a.Kind == controller.ActivityOrderFailed {
			status = "FAILED"
		}
		return api.DashboardEvent{
			Type: "order", Timestamp: now, Symbol: symbol,
			Data: api.OrderEvent{ClientID: a.ClientID.String(), Status: status, Side: a.Side.String(), Price: a.Price, Size: a.Size},
		}, true
	case controller.ActivityCancelled:
		return api.DashboardEvent{
			Type: "order", Timestamp: now, Symbol: symbol,
			Data: api.OrderEvent{ClientID: a.ClientID.String(), Status: "CANCELLED", Side: a.Side.String(), Price: a.Price, Size: a.Size},
		}, true
	case controller.ActivityFill:
		return api.DashboardEvent{
			Type: "fill", Timestamp: now, Symbol: symbol,
			Data: api.FillEvent{ClientID: a.ClientID.String(), Side: a.Side.String(), Stage: a.Stage.String(), Price: a.Price, Size: a.Size},
		}, true
	case controller.ActivityPositionUpdate:
		return api.DashboardEvent{
			Type: "position", Timestamp: now, Symbol: symbol,
			Data: api.PositionEvent{Side: a.Side.String(), Inventory: a.Size, EntryPrice: a.Price, RealizedPnL: a.RealizedPnL},
		}, true
	default:
		return api.DashboardEvent{}, false
	}
}

// GetSymbolsSnapshot implements api.MarketSnapshotProvider.
func (e *Engine) GetSymbolsSnapshot() []api.SymbolStatus {
	out := make([]api.SymbolStatus, 0, len(e.slots))
	for _, slot := range e.slots {
		out = append(out, slot.snapshot())
	}
	return out
}

// GetRiskManager implements api.MarketSnapshotProvider.
func (e *Engine) GetRiskManager() *risk.Manager {
	return e.risk
}

func (s *symbolSlot) snapshot() api.SymbolStatus {
	data := s.portfolio.Data
	status := api.SymbolStatus{
		Symbol:          s.symbol,
		Initialized:     s.book.Initialized,
		RemainingMargin: data.RemainingMargin,
		Buy:             positionSnapshot(s.portfolio.Buy, data.Buy),
		Sell:            positionSnapshot(s.portfolio.Sell, data.Sell),
	}
	if bid, ok := s.book.FindBestBid(); ok {
		status.BestBid = bid.Price
	}
	if ask, ok := s.book.FindBestAsk(); ok {
		status.BestAsk = ask.Price
		status.Spread = status.BestAsk.Sub(status.BestBid)
	}
	if !status.BestBid.IsZero() || !status.BestAsk.IsZero() {
		status.MidPrice = status.BestBid.Add(status.BestAsk).Div(decimalx.Two)
	}
	if top := s.portfolio.GetTop(portfolio.SideBuy, portfolio.StageEntry); top != nil {
		status.ActiveBuyTop = &api.QuoteInfo{Price: top.OriginalPrice, Size: top.UnfilledSize, ClientID: top.ClientID.String()}
	}
	if top := s.portfolio.GetTop(portfolio.SideSell, portfolio.StageEntry); top != nil {
		status.ActiveSellTop = &api.QuoteInfo{Price: top.OriginalPrice, Size: top.UnfilledSize, ClientID: top.ClientID.String()}
	}
	return status
}

func positionSnapshot(pos *portfolio.Position, data portfolio.PositionData) api.PositionSnapshot {
	return api.PositionSnapshot{
		Inventory:   pos.KnownSize,
		EntryPrice:  pos.KnownEntryPrice,
		RealizedPnL: pos.KnownRealizedPnL,
		ExposureLiq: data.OpenLiqs.TotalOutstanding.Inventory,
	}
}

func (e *Engine) buildSlot(sc config.SymbolConfig, bc *bootstrap.Cache) (*symbolSlot, error) {
	initSize, err := decimalx.ParseFinite(sc.InitSize)
	if err != nil {
		return nil, fmt.Errorf("init_size: %w", err)
	}
	rebaseDistanceLimit, err := decimalx.ParseFinite(valueOr(sc.RebaseDistanceLimit, "0"))
	if err != nil {
		return nil, fmt.Errorf("rebase_distance_limit: %w", err)
	}
	rebate, err := decimalx.ParseFinite(valueOr(sc.Rebate, "0"))
	if err != nil {
		return nil, fmt.Errorf("rebate: %w", err)
	}
	maxMargin, err := decimalx.ParseFinite(valueOr(sc.MaxMargin, "0"))
	if err != nil {
		return nil, fmt.Errorf("max_margin: %w", err)
	}

	book := marketdata.NewOrderBook(string(e.cfg.ExecutionMode), e.logger)
	windowMs := e.cfg.Strategy.TradeFlowWindowMs
	if windowMs == 0 {
		windowMs = 2000
	}
	tradeFlow := marketdata.NewTradeFlowWindow(windowMs)

	if bc != nil {
		csvPath := e.cfg.Bootstrap.CSVDir + "/" + sc.Symbol + ".csv"
		if err := bc.SeedFromCSV(csvPath, sc.Symbol, tradeFlow); err != nil {
			e.logger.Warn("bootstrap seed skipped", "symbol", sc.Symbol, "err", err)
		}
	}

	ctrl := controller.New(sc.Symbol, nil, initSize, rebaseDistanceLimit, e.logger)
	pf := portfolio.NewPortfolio(sc.Symbol, maxMargin, decimalx.FromInt(int64(sc.MaxOpenOrders)), initSize, rebaseDistanceLimit, rebate, e.venue, ctrl)
	ctrl.Portfolio = pf

	sigCh := make(chan controller.Signal, 1024)
	rawCh := make(chan dispatch.Inbound, 1)
	disp := dispatch.New(sc.Symbol, book, tradeFlow, ctrl, sigCh, e.logger)

	return &symbolSlot{
		symbol:     sc.Symbol,
		book:       book,
		tradeFlow:  tradeFlow,
		portfolio:  pf,
		controller: ctrl,
		dispatcher: disp,
		rawCh:      rawCh,
		sigCh:      sigCh,
		activityCh: make(chan controller.Activity, 256),
	}, nil
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// Start launches every symbol's dispatcher, controller, and venue stream
// goroutine (spec.md §5: "one per-symbol Signal Dispatcher blocking
// receive loop" and "one per-symbol Strategy Controller blocking receive
// loop").
func (e *Engine) Start() error {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.risk.Run(e.ctx)
	}()

	if e.dashboard != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.dashboard.Start(); err != nil {
				e.logger.Error("dashboard server exited", "err", err)
			}
		}()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.watchKillSwitch()
	}()

	for _, slot := range e.slots {
		slot := slot
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := slot.controller.Run(e.ctx, slot.sigCh); err != nil && e.ctx.Err() == nil {
				// Run only returns early on an invariant violation, which
				// halts the whole process.
				e.logger.Error("controller exited", "symbol", slot.symbol, "err", err)
				os.Exit(1)
			}
		}()

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := slot.dispatcher.Run(e.ctx, slot.rawCh); err != nil && e.ctx.Err() == nil {
				e.logger.Error("dispatcher exited", "symbol", slot.symbol, "err", err)
			}
		}()

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.venue.Stream(e.ctx, streamPath(slot.symbol), slot.rawCh); err != nil && e.ctx.Err() == nil {
				e.logger.Error("venue stream exited", "symbol", slot.symbol, "err", err)
			}
		}()

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.reportRisk(slot)
		}()
	}
	return nil
}

// reportRisk periodically submits a PositionReport for slot to the risk
// manager, independent of the controller's own decision cadence so a
// quiet symbol still gets checked against the daily-loss and global
// exposure caps.
func (e *Engine) reportRisk(slot *symbolSlot) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			data := slot.portfolio.Data
			exposure := data.Buy.OpenLiqs.TotalOutstanding.Inventory.Add(data.Sell.OpenLiqs.TotalOutstanding.Inventory)
			realized := slot.portfolio.Buy.KnownRealizedPnL.Add(slot.portfolio.Sell.KnownRealizedPnL)
			mid := decimalx.Zero
			bid, bidOK := slot.book.FindBestBid()
			ask, askOK := slot.book.FindBestAsk()
			switch {
			case bidOK && askOK:
				mid = bid.Price.Add(ask.Price).Div(decimalx.Two)
			case bidOK:
				mid = bid.Price
			case askOK:
				mid = ask.Price
			}
			e.risk.Report(risk.PositionReport{
				Symbol:      slot.symbol,
				MidPrice:    mid,
				ExposureLiq: exposure,
				RealizedPnL: realized,
				Timestamp:   time.Now(),
			})
		}
	}
}

// watchKillSwitch cancels all resting orders on a symbol (or every symbol,
// for a global kill) whenever the risk manager emits a KillSignal.
func (e *Engine) watchKillSwitch() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case sig := <-e.risk.KillCh():
			e.logger.Error("kill signal received", "symbol", sig.Symbol, "reason", sig.Reason)
			e.publishKillEvent(sig)
			if sig.Symbol == "" {
				for _, slot := range e.slots {
					slot.portfolio.CancelAll(e.ctx)
				}
				continue
			}
			if slot, ok := e.slots[sig.Symbol]; ok {
				slot.portfolio.CancelAll(e.ctx)
			}
		}
	}
}

// publishKillEvent forwards a kill-switch trip to the dashboard feed, if a
// dashboard is configured. sig.Symbol is empty for a global kill.
func (e *Engine) publishKillEvent(sig risk.KillSignal) {
	if e.dashboardEvents == nil {
		return
	}
	evt := api.DashboardEvent{
		Type: "kill", Timestamp: time.Now(), Symbol: sig.Symbol,
		Data: api.NewKillEvent(sig.Reason, time.Time{}),
	}
	select {
	case e.dashboardEvents <- evt:
	default:
	}
}

// streamPath derives the venue's market-data subscription path for a
// symbol. Binance and Bybit both accept a lowercase-symbol stream name;
// the concrete adapters own any further venue-specific formatting.
func streamPath(symbol string) string {
	return "/stream?streams=" + strings.ToLower(symbol) + "@depth"
}

// Stop cancels every goroutine and waits for them to exit.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")
	if e.dashboard != nil {
		if err := e.dashboard.Stop(); err != nil {
			e.logger.Error("dashboard server shutdown error", "err", err)
		}
	}
	e.cancel()
	e.wg.Wait()
	e.logger.Info("shutdown complete")
}
