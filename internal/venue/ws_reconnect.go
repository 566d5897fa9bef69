package venue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"arbitrage/pkg/logging"
)

// WSReconnectConfig настраивает переподключение push-соединения площадки.
type WSReconnectConfig struct {
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	MaxRetries     int // 0 = без ограничения
	ConnectTimeout time.Duration
	PingInterval   time.Duration
	PongTimeout    time.Duration
}

// DefaultWSReconnectConfig — backoff 2s,4s,8s,16s (capped), как у teacher-стека.
func DefaultWSReconnectConfig() WSReconnectConfig {
	return WSReconnectConfig{
		InitialDelay:   2 * time.Second,
		MaxDelay:       16 * time.Second,
		MaxRetries:     0,
		ConnectTimeout: 10 * time.Second,
		PingInterval:   30 * time.Second,
		PongTimeout:    10 * time.Second,
	}
}

// WSConnectionState — состояние push-соединения.
type WSConnectionState int32

const (
	WSStateDisconnected WSConnectionState = iota
	WSStateConnecting
	WSStateConnected
	WSStateReconnecting
	WSStateClosed
)

func (s WSConnectionState) String() string {
	switch s {
	case WSStateDisconnected:
		return "disconnected"
	case WSStateConnecting:
		return "connecting"
	case WSStateConnected:
		return "connected"
	case WSStateReconnecting:
		return "reconnecting"
	case WSStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// WSReconnectManager управляет push-соединением площадки с автоматическим
// переподключением, ping/pong keepalive и восстановлением подписок.
type WSReconnectManager struct {
	venueName string
	wsURL     string
	config    WSReconnectConfig

	conn   *websocket.Conn
	connMu sync.RWMutex

	state      int32 // atomic WSConnectionState
	retryCount int32 // atomic

	closeChan chan struct{}
	closeOnce sync.Once

	onMessage    func([]byte)
	onConnect    func()
	onDisconnect func(error)
	callbackMu   sync.RWMutex

	subscriptions   []interface{}
	subscriptionsMu sync.RWMutex

	authFunc func(*websocket.Conn) error
}

// NewWSReconnectManager создаёт менеджер переподключений для одной площадки.
func NewWSReconnectManager(venueName, wsURL string, config WSReconnectConfig) *WSReconnectManager {
	return &WSReconnectManager{
		venueName:     venueName,
		wsURL:         wsURL,
		config:        config,
		closeChan:     make(chan struct{}),
		subscriptions: make([]interface{}, 0),
	}
}

func (m *WSReconnectManager) SetOnMessage(h func([]byte))    { m.callbackMu.Lock(); m.onMessage = h; m.callbackMu.Unlock() }
func (m *WSReconnectManager) SetOnConnect(h func())          { m.callbackMu.Lock(); m.onConnect = h; m.callbackMu.Unlock() }
func (m *WSReconnectManager) SetOnDisconnect(h func(error))  { m.callbackMu.Lock(); m.onDisconnect = h; m.callbackMu.Unlock() }
func (m *WSReconnectManager) SetAuthFunc(f func(*websocket.Conn) error) { m.authFunc = f }

// AddSubscription регистрирует подписку для восстановления после реконнекта.
func (m *WSReconnectManager) AddSubscription(sub interface{}) {
	m.subscriptionsMu.Lock()
	m.subscriptions = append(m.subscriptions, sub)
	m.subscriptionsMu.Unlock()
}

func (m *WSReconnectManager) GetState() WSConnectionState {
	return WSConnectionState(atomic.LoadInt32(&m.state))
}

func (m *WSReconnectManager) IsConnected() bool {
	return m.GetState() == WSStateConnected
}

// Connect устанавливает соединение и запускает read/ping горутины.
func (m *WSReconnectManager) Connect() error {
	select {
	case <-m.closeChan:
		return fmt.Errorf("manager is closed")
	default:
	}

	atomic.StoreInt32(&m.state, int32(WSStateConnecting))

	if err := m.dial(); err != nil {
		atomic.StoreInt32(&m.state, int32(WSStateDisconnected))
		return err
	}

	atomic.StoreInt32(&m.state, int32(WSStateConnected))
	atomic.StoreInt32(&m.retryCount, 0)

	m.callbackMu.RLock()
	onConnect := m.onConnect
	m.callbackMu.RUnlock()
	if onConnect != nil {
		onConnect()
	}

	go m.readPump()
	go m.pingPump()

	logging.Sugar().Infow("ws connected", "venue", m.venueName, "url", m.wsURL)
	return nil
}

func (m *WSReconnectManager) dial() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: m.config.ConnectTimeout}
	conn, _, err := dialer.DialContext(ctx, m.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial error: %w", err)
	}

	m.connMu.Lock()
	m.conn = conn
	m.connMu.Unlock()

	if m.authFunc != nil {
		if err := m.authFunc(conn); err != nil {
			conn.Close()
			m.connMu.Lock()
			m.conn = nil
			m.connMu.Unlock()
			return fmt.Errorf("auth error: %w", err)
		}
	}

	if err := m.resubscribe(); err != nil {
		logging.Sugar().Warnw("resubscribe failed", "venue", m.venueName, "err", err)
	}

	return nil
}

func (m *WSReconnectManager) resubscribe() error {
	m.subscriptionsMu.RLock()
	subs := make([]interface{}, len(m.subscriptions))
	copy(subs, m.subscriptions)
	m.subscriptionsMu.RUnlock()

	m.connMu.RLock()
	conn := m.conn
	m.connMu.RUnlock()
	if conn == nil {
		return fmt.Errorf("no connection")
	}

	for _, sub := range subs {
		if err := conn.WriteJSON(sub); err != nil {
			return fmt.Errorf("resubscribe error: %w", err)
		}
	}
	return nil
}

func (m *WSReconnectManager) readPump() {
	defer m.handleDisconnect(nil)

	for {
		select {
		case <-m.closeChan:
			return
		default:
		}

		m.connMu.RLock()
		conn := m.conn
		m.connMu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			m.handleDisconnect(err)
			return
		}

		m.callbackMu.RLock()
		onMessage := m.onMessage
		m.callbackMu.RUnlock()
		if onMessage != nil {
			onMessage(message)
		}
	}
}

func (m *WSReconnectManager) pingPump() {
	ticker := time.NewTicker(m.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.closeChan:
			return
		case <-ticker.C:
			m.connMu.RLock()
			conn := m.conn
			m.connMu.RUnlock()
			if conn == nil {
				return
			}
			deadline := time.Now().Add(m.config.PongTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				m.handleDisconnect(err)
				return
			}
		}
	}
}

func (m *WSReconnectManager) handleDisconnect(err error) {
	atomic.StoreInt32(&m.state, int32(WSStateDisconnected))

	m.connMu.Lock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.connMu.Unlock()

	select {
	case <-m.closeChan:
		return
	default:
	}

	m.callbackMu.RLock()
	onDisconnect := m.onDisconnect
	m.callbackMu.RUnlock()
	if onDisconnect != nil {
		onDisconnect(err)
	}

	go m.reconnectLoop()
}

func (m *WSReconnectManager) reconnectLoop() {
	atomic.StoreInt32(&m.state, int32(WSStateReconnecting))

	delay := m.config.InitialDelay
	for attempt := 1; ; attempt++ {
		if m.config.MaxRetries > 0 && attempt > m.config.MaxRetries {
			logging.Sugar().Errorw("ws reconnect exhausted", "venue", m.venueName, "attempts", attempt)
			return
		}

		select {
		case <-m.closeChan:
			return
		case <-time.After(delay):
		}

		atomic.AddInt32(&m.retryCount, 1)
		if err := m.dial(); err == nil {
			atomic.StoreInt32(&m.state, int32(WSStateConnected))
			atomic.StoreInt32(&m.retryCount, 0)
			go m.readPump()
			go m.pingPump()
			logging.Sugar().Infow("ws reconnected", "venue", m.venueName, "attempt", attempt)
			return
		}

		delay *= 2
		if delay > m.config.MaxDelay {
			delay = m.config.MaxDelay
		}
	}
}

// Close останавливает переподключение и закрывает соединение.
func (m *WSReconnectManager) Close() error {
	m.closeOnce.Do(func() {
		close(m.closeChan)
		atomic.StoreInt32(&m.state, int32(WSStateClosed))
	})

	m.connMu.Lock()
	defer m.connMu.Unlock()
	if m.conn != nil {
		err := m.conn.Close()
		m.conn = nil
		return err
	}
	return nil
}
