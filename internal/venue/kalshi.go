package venue

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"arbitrage/internal/models"
	"arbitrage/pkg/logging"
	"arbitrage/pkg/retry"
)

const (
	kalshiBaseURL = "https://trading-api.kalshi.com/trade-api/v2"
	kalshiWSURL   = "wss://trading-api.kalshi.com/trade-api/ws/v2"
	kalshiName    = models.Venue("kalshi")
)

var kalshiJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Kalshi реализует интерфейс Venue для Kalshi: аутентификация
// API-key + RSA-PSS подпись запроса, плоская комиссия за контракт.
type Kalshi struct {
	apiKeyID   string
	privateKey *rsa.PrivateKey

	http    *HTTPClient
	fee     FlatFee
	limiter *VenueLimiter

	ws *WSReconnectManager

	callbackMu sync.RWMutex
	onSnapshot func(instrumentID string, snap *models.OrderbookSnapshot)
}

// NewKalshi создаёт адаптер Kalshi. privateKeyPEM — PKCS#1/PKCS#8 PEM-блок,
// читается из окружения процесса, никогда не логируется.
func NewKalshi(apiKeyID, privateKeyPEM string, perUnitFee float64) (*Kalshi, error) {
	key, err := parseRSAPrivateKey(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("kalshi: invalid private key: %w", err)
	}
	return &Kalshi{
		apiKeyID:   apiKeyID,
		privateKey: key,
		http:       GetGlobalHTTPClient(string(kalshiName)),
		fee:        FlatFee{PerUnit: perUnitFee},
		limiter:    KalshiLimiter(),
	}, nil
}

func parseRSAPrivateKey(pemStr string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return key, nil
}

func (k *Kalshi) Name() models.Venue { return kalshiName }

// sign подписывает (timestamp + method + path) с RSA-PSS-SHA256, формат,
// который Kalshi требует для каждого приватного запроса.
func (k *Kalshi) sign(timestampMs, method, path string) (string, error) {
	msg := timestampMs + method + path
	digest := sha256.Sum256([]byte(msg))
	sig, err := rsa.SignPSS(rand.Reader, k.privateKey, crypto.SHA256, digest[:], &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: crypto.SHA256})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

func (k *Kalshi) doRequest(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	if err := k.limiter.Wait(ctx, kalshiRequestCategory(path)); err != nil {
		return nil, &VenueError{Venue: kalshiName, Kind: ErrKindTransient, Message: "rate limit wait", Cause: err}
	}

	fullPath := "/trade-api/v2" + path
	reqURL := kalshiBaseURL + path
	if query != nil {
		reqURL += "?" + query.Encode()
	}

	// Signature is timestamped per attempt, so the whole round trip (build,
	// sign, send, classify) runs inside the retry loop rather than just the
	// transport call.
	var respBody []byte
	var venErr *VenueError
	attempt := func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			venErr = &VenueError{Venue: kalshiName, Kind: ErrKindFatal, Message: "build request", Cause: err}
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		timestampMs := strconv.FormatInt(time.Now().UnixMilli(), 10)
		sig, err := k.sign(timestampMs, method, fullPath)
		if err != nil {
			venErr = &VenueError{Venue: kalshiName, Kind: ErrKindFatal, Message: "sign request", Cause: err}
			return retry.Permanent(err)
		}
		req.Header.Set("KALSHI-ACCESS-KEY", k.apiKeyID)
		req.Header.Set("KALSHI-ACCESS-SIGNATURE", sig)
		req.Header.Set("KALSHI-ACCESS-TIMESTAMP", timestampMs)

		resp, err := k.http.Do(req)
		if err != nil {
			venErr = &VenueError{Venue: kalshiName, Kind: ErrKindTransient, Message: "request failed", Cause: err}
			return retry.Temporary(err)
		}
		defer resp.Body.Close()

		rb, err := io.ReadAll(resp.Body)
		if err != nil {
			venErr = &VenueError{Venue: kalshiName, Kind: ErrKindTransient, Message: "read body", Cause: err}
			return retry.Temporary(err)
		}
		if resp.StatusCode >= 500 {
			venErr = &VenueError{Venue: kalshiName, Kind: ErrKindTransient, Message: fmt.Sprintf("http %d: %s", resp.StatusCode, rb)}
			return retry.Temporary(venErr)
		}
		if resp.StatusCode >= 400 {
			venErr = &VenueError{Venue: kalshiName, Kind: ErrKindFatal, Message: fmt.Sprintf("http %d: %s", resp.StatusCode, rb)}
			return retry.Permanent(venErr)
		}
		respBody, venErr = rb, nil
		return nil
	}

	cfg := retry.NetworkConfig()
	cfg.RetryIf = retry.RetryIfTemporary
	if err := retry.Do(ctx, attempt, cfg); err != nil {
		return nil, venErr
	}
	return respBody, nil
}

func (k *Kalshi) FetchCatalog(ctx context.Context, filter CatalogFilter) ([]models.Market, error) {
	q := url.Values{}
	q.Set("status", filter.Status)
	if filter.SeriesPrefix != "" {
		q.Set("series_ticker", filter.SeriesPrefix)
	}

	body, err := k.doRequest(ctx, http.MethodGet, "/markets", q, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Markets []struct {
			Ticker         string  `json:"ticker"`
			Title          string  `json:"title"`
			CloseTime      string  `json:"close_time"`
			YesBid         int     `json:"yes_bid"`
			NoBid          int     `json:"no_bid"`
			Volume         float64 `json:"volume"`
			SettlementSrc  string  `json:"settlement_source"`
		} `json:"markets"`
	}
	if err := kalshiJSON.Unmarshal(body, &resp); err != nil {
		return nil, &VenueError{Venue: kalshiName, Kind: ErrKindFatal, Message: "decode catalog", Cause: err}
	}

	out := make([]models.Market, 0, len(resp.Markets))
	for _, m := range resp.Markets {
		closeTime, _ := time.Parse(time.RFC3339, m.CloseTime)
		out = append(out, models.Market{
			Venue:          kalshiName,
			InstrumentID:   m.Ticker,
			Title:          m.Title,
			ResolutionTime: closeTime,
			ResolutionSrc:  m.SettlementSrc,
			YesPrice:       float64(m.YesBid) / 100.0,
			NoPrice:        float64(m.NoBid) / 100.0,
			YesVolume:      m.Volume,
		})
	}
	return out, nil
}

func (k *Kalshi) GetOrderbook(ctx context.Context, instrumentID string) (*models.OrderbookSnapshot, error) {
	body, err := k.doRequest(ctx, http.MethodGet, "/markets/"+instrumentID+"/orderbook", nil, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Orderbook struct {
			Yes [][2]int `json:"yes"`
			No  [][2]int `json:"no"`
		} `json:"orderbook"`
	}
	if err := kalshiJSON.Unmarshal(body, &resp); err != nil {
		return nil, &VenueError{Venue: kalshiName, Kind: ErrKindFatal, Message: "decode orderbook", Cause: err}
	}

	return &models.OrderbookSnapshot{
		InstrumentID: instrumentID,
		Venue:        kalshiName,
		ReceivedAt:   time.Now(),
		Asks:         levelsFromCents(resp.Orderbook.Yes),
		Bids:         levelsFromCents(resp.Orderbook.No),
	}, nil
}

func levelsFromCents(levels [][2]int) []models.PriceLevel {
	out := make([]models.PriceLevel, 0, len(levels))
	for _, l := range levels {
		out = append(out, models.PriceLevel{Price: float64(l[0]) / 100.0, Size: float64(l[1])})
	}
	return out
}

func (k *Kalshi) GetBalance(ctx context.Context) (float64, error) {
	body, err := k.doRequest(ctx, http.MethodGet, "/portfolio/balance", nil, nil)
	if err != nil {
		return 0, err
	}
	var resp struct {
		Balance int `json:"balance"`
	}
	if err := kalshiJSON.Unmarshal(body, &resp); err != nil {
		return 0, &VenueError{Venue: kalshiName, Kind: ErrKindFatal, Message: "decode balance", Cause: err}
	}
	return float64(resp.Balance) / 100.0, nil
}

func (k *Kalshi) PlaceOrder(ctx context.Context, instrumentID string, side models.Side, size, price float64) (string, error) {
	action, ticker := sideToKalshi(side)
	reqBody, _ := kalshiJSON.Marshal(map[string]interface{}{
		"ticker":      instrumentID,
		"action":      action,
		"side":        ticker,
		"count":       int(size),
		"type":        "limit",
		"yes_price":   int(price * 100),
		"client_order_id": fmt.Sprintf("arb-%d", time.Now().UnixNano()),
	})

	body, err := k.doRequest(ctx, http.MethodPost, "/portfolio/orders", nil, reqBody)
	if err != nil {
		return "", err
	}
	var resp struct {
		Order struct {
			OrderID string `json:"order_id"`
		} `json:"order"`
	}
	if err := kalshiJSON.Unmarshal(body, &resp); err != nil {
		return "", &VenueError{Venue: kalshiName, Kind: ErrKindFatal, Message: "decode order response", Cause: err}
	}
	return resp.Order.OrderID, nil
}

func kalshiRequestCategory(path string) string {
	switch {
	case strings.Contains(path, "/orders"):
		return "orders"
	case strings.Contains(path, "/balance"), strings.Contains(path, "/portfolio"):
		return "account"
	default:
		return "quotes"
	}
}

func sideToKalshi(side models.Side) (action, ticker string) {
	if side == models.BuyYes {
		return "buy", "yes"
	}
	return "buy", "no"
}

func (k *Kalshi) GetOrder(ctx context.Context, orderID string) (*OrderStatus, error) {
	body, err := k.doRequest(ctx, http.MethodGet, "/portfolio/orders/"+orderID, nil, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Order struct {
			Status      string `json:"status"`
			FilledCount int    `json:"filled_count"`
			AvgPriceC   int    `json:"avg_fill_price"`
		} `json:"order"`
	}
	if err := kalshiJSON.Unmarshal(body, &resp); err != nil {
		return nil, &VenueError{Venue: kalshiName, Kind: ErrKindFatal, Message: "decode order status", Cause: err}
	}
	return &OrderStatus{
		OrderID:    orderID,
		Status:     kalshiStatusToFillStatus(resp.Order.Status),
		FilledSize: float64(resp.Order.FilledCount),
		AvgPrice:   float64(resp.Order.AvgPriceC) / 100.0,
		UpdatedAt:  time.Now(),
	}, nil
}

func kalshiStatusToFillStatus(s string) models.FillStatus {
	switch s {
	case "executed":
		return models.FillStatusFilled
	case "canceled":
		return models.FillStatusCanceled
	case "resting":
		return models.FillStatusResting
	default:
		return models.FillStatusResting
	}
}

func (k *Kalshi) CancelOrder(ctx context.Context, orderID string) error {
	_, err := k.doRequest(ctx, http.MethodDelete, "/portfolio/orders/"+orderID, nil, nil)
	return err
}

func (k *Kalshi) SubscribeOrderbook(instrumentIDs []string, callback func(instrumentID string, snap *models.OrderbookSnapshot)) error {
	k.callbackMu.Lock()
	k.onSnapshot = callback
	k.callbackMu.Unlock()

	k.ws = NewWSReconnectManager(string(kalshiName), kalshiWSURL, DefaultWSReconnectConfig())
	k.ws.SetAuthFunc(func(conn *websocket.Conn) error { return nil })
	k.ws.SetOnMessage(k.handleWSMessage)
	for _, id := range instrumentIDs {
		k.ws.AddSubscription(map[string]interface{}{
			"cmd": "subscribe",
			"params": map[string]interface{}{
				"channels":      []string{"orderbook_delta"},
				"market_ticker": id,
			},
		})
	}
	return k.ws.Connect()
}

func (k *Kalshi) handleWSMessage(raw []byte) {
	var msg struct {
		Type string `json:"type"`
		Msg  struct {
			MarketTicker string   `json:"market_ticker"`
			Yes          [][2]int `json:"yes"`
			No           [][2]int `json:"no"`
		} `json:"msg"`
	}
	if err := kalshiJSON.Unmarshal(raw, &msg); err != nil {
		logging.Sugar().Warnw("kalshi: malformed ws message", "err", err)
		return
	}
	if msg.Type != "orderbook_snapshot" && msg.Type != "orderbook_delta" {
		return
	}

	snap := &models.OrderbookSnapshot{
		InstrumentID: msg.Msg.MarketTicker,
		Venue:        kalshiName,
		ReceivedAt:   time.Now(),
		Asks:         levelsFromCents(msg.Msg.Yes),
		Bids:         levelsFromCents(msg.Msg.No),
	}

	k.callbackMu.RLock()
	cb := k.onSnapshot
	k.callbackMu.RUnlock()
	if cb != nil {
		cb(msg.Msg.MarketTicker, snap)
	}
}

func (k *Kalshi) Fee(size, price float64) float64 { return k.fee.Fee(size, price) }

func (k *Kalshi) Close() error {
	if k.ws != nil {
		return k.ws.Close()
	}
	return nil
}
