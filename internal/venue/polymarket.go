package venue

import (
	"bytes"
	"context"
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
	polymarketBaseURL = "https://clob.polymarket.com"
	polymarketWSURL   = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	polymarketName    = models.Venue("polymarket")
)

var polyJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Polymarket реализует интерфейс Venue для Polymarket CLOB: аутентификация
// bearer-токеном (L2 API key), пропорциональная комиссия от номинала.
// Рынки представлены парой token id (YES/NO outcome); InstrumentID — строка
// "conditionID:yesTokenID:noTokenID", непрозрачная за пределами адаптера.
type Polymarket struct {
	apiKey     string
	apiSecret  string
	passphrase string

	http    *HTTPClient
	fee     ProportionalFee
	limiter *VenueLimiter

	ws *WSReconnectManager

	callbackMu sync.RWMutex
	onSnapshot func(instrumentID string, snap *models.OrderbookSnapshot)

	tokenIndex   map[string]polyTokenPair
	tokenIndexMu sync.RWMutex
}

type polyTokenPair struct {
	yesTokenID string
	noTokenID  string
}

// NewPolymarket создаёт адаптер Polymarket с заданными L2 credentials.
func NewPolymarket(apiKey, apiSecret, passphrase string, feeRate float64) *Polymarket {
	return &Polymarket{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		passphrase: passphrase,
		http:       GetGlobalHTTPClient(string(polymarketName)),
		fee:        ProportionalFee{Rate: feeRate},
		limiter:    PolymarketLimiter(),
		tokenIndex: make(map[string]polyTokenPair),
	}
}

func (p *Polymarket) Name() models.Venue { return polymarketName }

func (p *Polymarket) doRequest(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	if err := p.limiter.Wait(ctx, polyRequestCategory(path)); err != nil {
		return nil, &VenueError{Venue: polymarketName, Kind: ErrKindTransient, Message: "rate limit wait", Cause: err}
	}

	reqURL := polymarketBaseURL + path
	if query != nil {
		reqURL += "?" + query.Encode()
	}

	var respBody []byte
	var venErr *VenueError
	attempt := func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			venErr = &VenueError{Venue: polymarketName, Kind: ErrKindFatal, Message: "build request", Cause: err}
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("POLY-API-KEY", p.apiKey)
		req.Header.Set("POLY-PASSPHRASE", p.passphrase)
		req.Header.Set("POLY-TIMESTAMP", strconv.FormatInt(time.Now().Unix(), 10))

		resp, err := p.http.Do(req)
		if err != nil {
			venErr = &VenueError{Venue: polymarketName, Kind: ErrKindTransient, Message: "request failed", Cause: err}
			return retry.Temporary(err)
		}
		defer resp.Body.Close()

		rb, err := io.ReadAll(resp.Body)
		if err != nil {
			venErr = &VenueError{Venue: polymarketName, Kind: ErrKindTransient, Message: "read body", Cause: err}
			return retry.Temporary(err)
		}
		if resp.StatusCode >= 500 {
			venErr = &VenueError{Venue: polymarketName, Kind: ErrKindTransient, Message: fmt.Sprintf("http %d: %s", resp.StatusCode, rb)}
			return retry.Temporary(venErr)
		}
		if resp.StatusCode >= 400 {
			venErr = &VenueError{Venue: polymarketName, Kind: ErrKindFatal, Message: fmt.Sprintf("http %d: %s", resp.StatusCode, rb)}
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

func (p *Polymarket) FetchCatalog(ctx context.Context, filter CatalogFilter) ([]models.Market, error) {
	q := url.Values{}
	if filter.SeriesPrefix != "" {
		q.Set("tag", filter.SeriesPrefix)
	}
	q.Set("active", "true")

	body, err := p.doRequest(ctx, http.MethodGet, "/markets", q, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []struct {
			ConditionID string   `json:"condition_id"`
			Question    string   `json:"question"`
			EndDateISO  string   `json:"end_date_iso"`
			Tokens      []struct {
				TokenID string `json:"token_id"`
				Outcome string `json:"outcome"`
				Price   float64 `json:"price"`
			} `json:"tokens"`
			OracleAdapter string `json:"resolution_source"`
		} `json:"data"`
	}
	if err := polyJSON.Unmarshal(body, &resp); err != nil {
		return nil, &VenueError{Venue: polymarketName, Kind: ErrKindFatal, Message: "decode catalog", Cause: err}
	}

	out := make([]models.Market, 0, len(resp.Data))
	for _, m := range resp.Data {
		var yesTok, noTok string
		var yesPrice, noPrice float64
		for _, t := range m.Tokens {
			switch t.Outcome {
			case "Yes":
				yesTok, yesPrice = t.TokenID, t.Price
			case "No":
				noTok, noPrice = t.TokenID, t.Price
			}
		}
		if yesTok == "" || noTok == "" {
			continue
		}
		instrumentID := m.ConditionID + ":" + yesTok + ":" + noTok

		p.tokenIndexMu.Lock()
		p.tokenIndex[instrumentID] = polyTokenPair{yesTokenID: yesTok, noTokenID: noTok}
		p.tokenIndexMu.Unlock()

		closeTime, _ := time.Parse(time.RFC3339, m.EndDateISO)
		out = append(out, models.Market{
			Venue:          polymarketName,
			InstrumentID:   instrumentID,
			Title:          m.Question,
			ResolutionTime: closeTime,
			ResolutionSrc:  m.OracleAdapter,
			YesPrice:       yesPrice,
			NoPrice:        noPrice,
			Metadata:       map[string]string{"yes_token_id": yesTok, "no_token_id": noTok},
		})
	}
	return out, nil
}

func (p *Polymarket) GetOrderbook(ctx context.Context, instrumentID string) (*models.OrderbookSnapshot, error) {
	pair, ok := p.lookupTokens(instrumentID)
	if !ok {
		return nil, &VenueError{Venue: polymarketName, Kind: ErrKindFatal, Message: "unknown instrument " + instrumentID}
	}

	q := url.Values{"token_id": []string{pair.yesTokenID}}
	body, err := p.doRequest(ctx, http.MethodGet, "/book", q, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Asks []struct {
			Price string `json:"price"`
			Size  string `json:"size"`
		} `json:"asks"`
		Bids []struct {
			Price string `json:"price"`
			Size  string `json:"size"`
		} `json:"bids"`
	}
	if err := polyJSON.Unmarshal(body, &resp); err != nil {
		return nil, &VenueError{Venue: polymarketName, Kind: ErrKindFatal, Message: "decode orderbook", Cause: err}
	}

	return &models.OrderbookSnapshot{
		InstrumentID: instrumentID,
		Venue:        polymarketName,
		ReceivedAt:   time.Now(),
		Asks:         levelsFromStrings(resp.Asks),
		Bids:         levelsFromStrings(resp.Bids),
	}, nil
}

func polyRequestCategory(path string) string {
	switch {
	case strings.Contains(path, "/order"):
		return "orders"
	case strings.Contains(path, "/balance"):
		return "account"
	default:
		return "quotes"
	}
}

func levelsFromStrings(levels []struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}) []models.PriceLevel {
	out := make([]models.PriceLevel, 0, len(levels))
	for _, l := range levels {
		price, _ := strconv.ParseFloat(l.Price, 64)
		size, _ := strconv.ParseFloat(l.Size, 64)
		out = append(out, models.PriceLevel{Price: price, Size: size})
	}
	return out
}

func (p *Polymarket) lookupTokens(instrumentID string) (polyTokenPair, bool) {
	p.tokenIndexMu.RLock()
	defer p.tokenIndexMu.RUnlock()
	pair, ok := p.tokenIndex[instrumentID]
	return pair, ok
}

func (p *Polymarket) GetBalance(ctx context.Context) (float64, error) {
	body, err := p.doRequest(ctx, http.MethodGet, "/balance", nil, nil)
	if err != nil {
		return 0, err
	}
	var resp struct {
		Balance string `json:"balance"`
	}
	if err := polyJSON.Unmarshal(body, &resp); err != nil {
		return 0, &VenueError{Venue: polymarketName, Kind: ErrKindFatal, Message: "decode balance", Cause: err}
	}
	bal, _ := strconv.ParseFloat(resp.Balance, 64)
	return bal, nil
}

func (p *Polymarket) PlaceOrder(ctx context.Context, instrumentID string, side models.Side, size, price float64) (string, error) {
	pair, ok := p.lookupTokens(instrumentID)
	if !ok {
		return "", &VenueError{Venue: polymarketName, Kind: ErrKindFatal, Message: "unknown instrument " + instrumentID}
	}
	tokenID := pair.yesTokenID
	if side == models.BuyNo {
		tokenID = pair.noTokenID
	}

	reqBody, _ := polyJSON.Marshal(map[string]interface{}{
		"token_id": tokenID,
		"price":    fmt.Sprintf("%.4f", price),
		"size":     fmt.Sprintf("%.2f", size),
		"side":     "BUY",
		"type":     "GTC",
	})

	body, err := p.doRequest(ctx, http.MethodPost, "/order", nil, reqBody)
	if err != nil {
		return "", err
	}
	var resp struct {
		OrderID string `json:"orderID"`
	}
	if err := polyJSON.Unmarshal(body, &resp); err != nil {
		return "", &VenueError{Venue: polymarketName, Kind: ErrKindFatal, Message: "decode order response", Cause: err}
	}
	return resp.OrderID, nil
}

func (p *Polymarket) GetOrder(ctx context.Context, orderID string) (*OrderStatus, error) {
	body, err := p.doRequest(ctx, http.MethodGet, "/data/order/"+orderID, nil, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Status      string `json:"status"`
		SizeMatched string `json:"size_matched"`
		Price       string `json:"price"`
	}
	if err := polyJSON.Unmarshal(body, &resp); err != nil {
		return nil, &VenueError{Venue: polymarketName, Kind: ErrKindFatal, Message: "decode order status", Cause: err}
	}
	filled, _ := strconv.ParseFloat(resp.SizeMatched, 64)
	avgPrice, _ := strconv.ParseFloat(resp.Price, 64)
	return &OrderStatus{
		OrderID:    orderID,
		Status:     polyStatusToFillStatus(resp.Status),
		FilledSize: filled,
		AvgPrice:   avgPrice,
		UpdatedAt:  time.Now(),
	}, nil
}

func polyStatusToFillStatus(s string) models.FillStatus {
	switch s {
	case "MATCHED", "FILLED":
		return models.FillStatusFilled
	case "CANCELED":
		return models.FillStatusCanceled
	case "LIVE":
		return models.FillStatusResting
	default:
		return models.FillStatusResting
	}
}

func (p *Polymarket) CancelOrder(ctx context.Context, orderID string) error {
	_, err := p.doRequest(ctx, http.MethodDelete, "/order/"+orderID, nil, nil)
	return err
}

func (p *Polymarket) SubscribeOrderbook(instrumentIDs []string, callback func(instrumentID string, snap *models.OrderbookSnapshot)) error {
	p.callbackMu.Lock()
	p.onSnapshot = callback
	p.callbackMu.Unlock()

	p.ws = NewWSReconnectManager(string(polymarketName), polymarketWSURL, DefaultWSReconnectConfig())
	p.ws.SetAuthFunc(func(conn *websocket.Conn) error { return nil })
	p.ws.SetOnMessage(p.handleWSMessage)

	var assetIDs []string
	for _, id := range instrumentIDs {
		if pair, ok := p.lookupTokens(id); ok {
			assetIDs = append(assetIDs, pair.yesTokenID, pair.noTokenID)
		}
	}
	p.ws.AddSubscription(map[string]interface{}{
		"type":     "market",
		"assets_ids": assetIDs,
	})
	return p.ws.Connect()
}

func (p *Polymarket) handleWSMessage(raw []byte) {
	var msg struct {
		EventType string `json:"event_type"`
		AssetID   string `json:"asset_id"`
		Asks      []struct {
			Price string `json:"price"`
			Size  string `json:"size"`
		} `json:"asks"`
		Bids []struct {
			Price string `json:"price"`
			Size  string `json:"size"`
		} `json:"bids"`
	}
	if err := polyJSON.Unmarshal(raw, &msg); err != nil {
		logging.Sugar().Warnw("polymarket: malformed ws message", "err", err)
		return
	}
	if msg.EventType != "book" {
		return
	}

	instrumentID := p.resolveInstrumentFromToken(msg.AssetID)
	if instrumentID == "" {
		return
	}

	snap := &models.OrderbookSnapshot{
		InstrumentID: instrumentID,
		Venue:        polymarketName,
		ReceivedAt:   time.Now(),
		Asks:         levelsFromStrings(msg.Asks),
		Bids:         levelsFromStrings(msg.Bids),
	}

	p.callbackMu.RLock()
	cb := p.onSnapshot
	p.callbackMu.RUnlock()
	if cb != nil {
		cb(instrumentID, snap)
	}
}

func (p *Polymarket) resolveInstrumentFromToken(tokenID string) string {
	p.tokenIndexMu.RLock()
	defer p.tokenIndexMu.RUnlock()
	for instrumentID, pair := range p.tokenIndex {
		if pair.yesTokenID == tokenID || pair.noTokenID == tokenID {
			return instrumentID
		}
	}
	return ""
}

func (p *Polymarket) Fee(size, price float64) float64 { return p.fee.Fee(size, price) }

func (p *Polymarket) Close() error {
	if p.ws != nil {
		return p.ws.Close()
	}
	return nil
}
