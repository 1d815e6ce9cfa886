// Package binance implements the Binance-style Venue Adapter: a unified
// depth-delta wire shape (every level in the delta is an upsert-or-delete
// keyed by size=0, no separate insert/update/delete op codes) over a
// combined-streams WebSocket, plus a USDⓈ-M-style signed REST surface.
// Grounded on _examples/original_source/src/backend/binance/types.rs (wire
// struct shapes) and restyled on the teacher's internal/exchange/{client,
// ws}.go (resty REST client with rate limiting/retry; gorilla/websocket
// feed with typed output channels and reconnect).
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"trader/internal/decimalx"
	"trader/internal/dispatch"
	"trader/internal/marketdata"
	"trader/internal/oracle"
	"trader/internal/portfolio"
	"trader/internal/venue"
	"trader/internal/venueerr"
)

const (
	recvWindowMs     = 5000
	clientDeadline   = recvWindowMs + 2000 // spec.md §5 "client-side deadline (recv_window + margin)"
	pingInterval     = 50 * time.Second
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
)

// Credentials is one venue's key/secret pair plus endpoints (spec.md §6
// "Configuration (environment)").
type Credentials struct {
	Key           string
	Secret        string
	RESTURL       string
	PerpetualsURL string // public combined-stream WS base
	PrivateURL    string // user-data-stream WS base
}

// Adapter is the Binance-style Venue Adapter. Besides the Oracle reference,
// its only mutable state is the rate limiter's mutex-guarded token
// buckets; it is safe to share across every Position's outbound calls.
type Adapter struct {
	http   *resty.Client
	signer *venue.Signer
	rl     *venue.RateLimiter
	creds  Credentials
	logger *slog.Logger
}

// New constructs an Adapter for creds, signing requests against o.
func New(creds Credentials, o *oracle.Oracle, logger *slog.Logger) *Adapter {
	httpClient := resty.New().
		SetBaseURL(creds.RESTURL).
		SetTimeout(clientDeadline * time.Millisecond).
		SetHeader("X-MBX-APIKEY", creds.Key)

	return &Adapter{
		http:   httpClient,
		signer: venue.NewSigner(creds.Secret, venue.SortedFields, recvWindowMs, o),
		rl:     venue.NewRateLimiter(),
		creds:  creds,
		logger: logger.With("component", "venue.binance"),
	}
}

var _ portfolio.VenueOps = (*Adapter)(nil)

func (a *Adapter) signedParams(ctx context.Context) url.Values {
	params := url.Values{}
	a.signer.Stamp(params, time.Now().UnixMilli())
	return params
}

func (a *Adapter) sendSigned(ctx context.Context, method, path string, params url.Values, result any) error {
	query, sig := a.signer.Sign(params)
	full := query + "&signature=" + sig

	req := a.http.R().SetContext(ctx)
	if result != nil {
		req = req.SetResult(result)
	}

	var resp *resty.Response
	var err error
	switch method {
	case http.MethodPost:
		resp, err = req.SetBody(full).SetHeader("Content-Type", "application/x-www-form-urlencoded").Post(path + "?" + full)
	case http.MethodDelete:
		resp, err = req.Delete(path + "?" + full)
	default:
		resp, err = req.Get(path + "?" + full)
	}
	if err != nil {
		return venueerr.Wrap(venueerr.Transport, venueerr.ErrConnection, err.Error())
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		return venueerr.Wrap(venueerr.Authentication, venueerr.ErrSignatureRejected, resp.String())
	}
	if resp.StatusCode() >= 400 {
		return classifyBusinessError(resp.StatusCode(), resp.String())
	}
	return nil
}

func classifyBusinessError(status int, body string) error {
	switch status {
	case http.StatusBadRequest:
		return venueerr.Wrap(venueerr.Business, venueerr.ErrFilterViolation, body)
	case http.StatusForbidden:
		return venueerr.Wrap(venueerr.Business, venueerr.ErrInsufficientMargin, body)
	case http.StatusNotFound:
		return venueerr.Wrap(venueerr.State, venueerr.ErrOrderNotFound, body)
	default:
		return venueerr.Wrap(venueerr.Business, venueerr.ErrFilterViolation, fmt.Sprintf("status %d: %s", status, body))
	}
}

// orderResponse mirrors Binance's order-ack JSON shape closely enough for
// the fields the Order lifecycle needs.
type orderResponse struct {
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	Price               string `json:"price"`
	OrigQty             string `json:"origQty"`
	ExecutedQty         string `json:"executedQty"`
	CumQuote            string `json:"cumQuote"`
	Status              string `json:"status"`
	Side                string `json:"side"`
}

// toIncoming converts the venue's order-ack into the normalized shape.
// Stage is left at its zero value: the Portfolio's OrderRESTResponse takes
// stage from the call site's own bookkeeping (OrderResultEvent.Stage), not
// from this struct, since the adapter has no notion of entry vs exit.
func (r orderResponse) toIncoming() (portfolio.IncomingOrderREST, error) {
	price, err := decimalx.ParseFinite(valueOr(r.Price, "0"))
	if err != nil {
		return portfolio.IncomingOrderREST{}, err
	}
	size, err := decimalx.ParseFinite(valueOr(r.OrigQty, "0"))
	if err != nil {
		return portfolio.IncomingOrderREST{}, err
	}
	filled, err := decimalx.ParseFinite(valueOr(r.ExecutedQty, "0"))
	if err != nil {
		return portfolio.IncomingOrderREST{}, err
	}
	remaining := size.Sub(filled)
	var status portfolio.RESTOrderStatus
	switch r.Status {
	case "NEW", "PARTIALLY_FILLED", "FILLED":
		status = portfolio.RESTStatusCreated
	case "CANCELED", "EXPIRED":
		status = portfolio.RESTStatusCancelled
	default:
		status = portfolio.RESTStatusRejected
	}
	side := portfolio.SideBuy
	if r.Side == "SELL" {
		side = portfolio.SideSell
	}
	return portfolio.IncomingOrderREST{
		ExchangeID:       fmt.Sprintf("%d", r.OrderID),
		Price:            price,
		Size:             size,
		Side:             side,
		Status:           status,
		CumRemainingSize: remaining,
		CumFillSize:      filled,
	}, nil
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// PlaceLimit creates a good-till-crossing (or post-only) limit order
// (spec.md §6 "create limit order (time-in-force = good-till-crossing/
// post-only for rebate eligibility)").
func (a *Adapter) PlaceLimit(ctx context.Context, clientID uuid.UUID, side portfolio.Side, price, size decimalx.Decimal, tif portfolio.TimeInForce) (portfolio.IncomingOrderREST, error) {
	if err := a.rl.Wait(ctx, a.rl.Order); err != nil {
		return portfolio.IncomingOrderREST{}, err
	}
	params := a.signedParams(ctx)
	params.Set("symbol", "")
	params.Set("side", sideWire(side))
	params.Set("type", "LIMIT")
	params.Set("timeInForce", tifWire(tif))
	params.Set("quantity", size.String())
	params.Set("price", price.String())
	params.Set("newClientOrderId", clientID.String())

	var resp orderResponse
	if err := a.sendSigned(ctx, http.MethodPost, "/fapi/v1/order", params, &resp); err != nil {
		return portfolio.IncomingOrderREST{}, err
	}
	return resp.toIncoming()
}

// PlaceMarket creates a taker market order.
func (a *Adapter) PlaceMarket(ctx context.Context, clientID uuid.UUID, side portfolio.Side, size decimalx.Decimal) (portfolio.IncomingOrderREST, error) {
	if err := a.rl.Wait(ctx, a.rl.Order); err != nil {
		return portfolio.IncomingOrderREST{}, err
	}
	params := a.signedParams(ctx)
	params.Set("symbol", "")
	params.Set("side", sideWire(side))
	params.Set("type", "MARKET")
	params.Set("quantity", size.String())
	params.Set("newClientOrderId", clientID.String())

	var resp orderResponse
	if err := a.sendSigned(ctx, http.MethodPost, "/fapi/v1/order", params, &resp); err != nil {
		return portfolio.IncomingOrderREST{}, err
	}
	return resp.toIncoming()
}

// CancelOrder cancels by client-id (spec.md §6 "cancel order by
// client-id").
func (a *Adapter) CancelOrder(ctx context.Context, clientID uuid.UUID, exchangeID string) (success, unknownOrder bool, err error) {
	if err := a.rl.Wait(ctx, a.rl.Cancel); err != nil {
		return false, false, err
	}
	params := a.signedParams(ctx)
	params.Set("symbol", "")
	params.Set("origClientOrderId", clientID.String())

	callErr := a.sendSigned(ctx, http.MethodDelete, "/fapi/v1/order", params, nil)
	if callErr == nil {
		return true, false, nil
	}
	var ve *venueerr.VenueError
	if asVenueError(callErr, &ve) && ve.Sentinel == venueerr.ErrOrderNotFound {
		return false, true, nil
	}
	return false, false, callErr
}

func asVenueError(err error, target **venueerr.VenueError) bool {
	ve, ok := err.(*venueerr.VenueError)
	if ok {
		*target = ve
	}
	return ok
}

// ServerTime queries the venue's clock for Server-Time Oracle calibration
// (spec.md §6 "get server time").
func (a *Adapter) ServerTime(ctx context.Context) (int64, error) {
	var result struct {
		ServerTime int64 `json:"serverTime"`
	}
	resp, err := a.http.R().SetContext(ctx).SetResult(&result).Get("/fapi/v1/time")
	if err != nil {
		return 0, venueerr.Wrap(venueerr.Transport, venueerr.ErrConnection, err.Error())
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, venueerr.Wrap(venueerr.Transport, venueerr.ErrConnection, resp.String())
	}
	return result.ServerTime, nil
}

func sideWire(s portfolio.Side) string {
	if s == portfolio.SideBuy {
		return "BUY"
	}
	return "SELL"
}

func tifWire(t portfolio.TimeInForce) string {
	if t == portfolio.TimeInForcePostOnly {
		return "GTX"
	}
	return "GTC"
}

// depthDelta is the unified wire shape for both snapshot and incremental
// depth messages (spec.md §6 "Depth incremental updates... Depth
// snapshot").
type depthDelta struct {
	FirstUpdateID int64      `json:"U"`
	LastUpdateID  int64      `json:"u"`
	TxTime        int64      `json:"T"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

func (d depthDelta) toLevels(raw [][]string) []marketdata.WireLevel {
	levels := make([]marketdata.WireLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) != 2 {
			continue
		}
		levels = append(levels, marketdata.WireLevel{Price: pair[0], Size: pair[1]})
	}
	return levels
}

// Stream connects to the public combined stream at streamPath, decodes
// every frame as a depth delta (the first one after each connect flagged
// as a snapshot) and pushes it onto out as a dispatch.Inbound. It produces
// no tops, trade or account events, and it does not connect the user-data
// stream (PrivateURL). It reconnects with exponential backoff on
// transport error (spec.md §4.8 "Implementers should upgrade to
// exponential-backoff reconnect with resubscription and a forced fresh
// snapshot").
func (a *Adapter) Stream(ctx context.Context, streamPath string, out chan<- dispatch.Inbound) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := a.streamOnce(ctx, streamPath, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.logger.Warn("market stream disconnected, reconnecting", "err", err, "backoff", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (a *Adapter) streamOnce(ctx context.Context, streamPath string, out chan<- dispatch.Inbound) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.creds.PerpetualsURL+streamPath, nil)
	if err != nil {
		return venueerr.Wrap(venueerr.Transport, venueerr.ErrConnection, err.Error())
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

	first := true
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return venueerr.Wrap(venueerr.Transport, venueerr.ErrUnexpectedClose, err.Error())
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		var frame struct {
			Stream string          `json:"stream"`
			Data   json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &frame); err != nil {
			a.logger.Error("market frame decode failed", "err", err)
			continue
		}

		var d depthDelta
		if err := json.Unmarshal(frame.Data, &d); err != nil {
			continue
		}
		ev := dispatch.Inbound{Depth: &dispatch.DepthEvent{
			Snapshot:      first,
			Bids:          d.toLevels(d.Bids),
			Asks:          d.toLevels(d.Asks),
			FirstUpdateID: d.FirstUpdateID,
			LastUpdateID:  d.LastUpdateID,
			TxTimeMs:      d.TxTime,
			VenueTag:      "binance",
		}}
		first = false
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
