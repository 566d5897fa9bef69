package venue

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"
)

// HTTPClientConfig задаёт таймауты и connection pooling для venue-адаптеров.
// Параметры рассчитаны на низкую latency: наблюдение → размещение ордера в
// пределах одного fill-monitor бюджета (≈10s).
type HTTPClientConfig struct {
	ConnectTimeout      time.Duration
	ReadTimeout         time.Duration
	TotalTimeout        time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	TLSHandshakeTimeout time.Duration
	KeepAliveInterval   time.Duration
}

// DefaultHTTPClientConfig возвращает конфигурацию по умолчанию.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		ConnectTimeout:      5 * time.Second,
		ReadTimeout:         10 * time.Second,
		TotalTimeout:        30 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
		KeepAliveInterval:   30 * time.Second,
	}
}

// HTTPClient — обёртка над http.Client с connection pooling на один хост площадки.
type HTTPClient struct {
	client *http.Client
	config HTTPClientConfig
}

var (
	globalClients   = map[string]*HTTPClient{}
	globalClientsMu sync.Mutex
)

// GetGlobalHTTPClient возвращает переиспользуемый клиент для данной площадки,
// создавая его при первом обращении (singleton per venue, не per process —
// каждая площадка держит свой connection pool).
func GetGlobalHTTPClient(venueName string) *HTTPClient {
	globalClientsMu.Lock()
	defer globalClientsMu.Unlock()
	if c, ok := globalClients[venueName]; ok {
		return c
	}
	c := NewHTTPClient(DefaultHTTPClientConfig())
	globalClients[venueName] = c
	return c
}

// NewHTTPClient создаёт клиент с заданной конфигурацией.
func NewHTTPClient(config HTTPClientConfig) *HTTPClient {
	dialer := &net.Dialer{
		Timeout:   config.ConnectTimeout,
		KeepAlive: config.KeepAliveInterval,
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if deadline, ok := ctx.Deadline(); ok {
				if timeout := time.Until(deadline); timeout < config.ConnectTimeout {
					d := &net.Dialer{Timeout: timeout, KeepAlive: config.KeepAliveInterval}
					return d.DialContext(ctx, network, addr)
				}
			}
			return dialer.DialContext(ctx, network, addr)
		},
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		MaxConnsPerHost:       config.MaxConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		DisableCompression:    true,
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: config.ReadTimeout,
	}

	return &HTTPClient{
		client: &http.Client{Transport: transport, Timeout: config.TotalTimeout},
		config: config,
	}
}

// Do выполняет запрос с настроенными таймаутами.
func (hc *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	return hc.client.Do(req)
}

// GetClient возвращает базовый http.Client.
func (hc *HTTPClient) GetClient() *http.Client {
	return hc.client
}

// Close закрывает idle-соединения при graceful shutdown.
func (hc *HTTPClient) Close() {
	if t, ok := hc.client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}

// CloseAllGlobalClients закрывает все зарегистрированные venue-клиенты.
func CloseAllGlobalClients() {
	globalClientsMu.Lock()
	defer globalClientsMu.Unlock()
	for _, c := range globalClients {
		c.Close()
	}
}
