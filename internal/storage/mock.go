package storage

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eddiefleurent/atr_dipbot/internal/models"
)

// MockStore implements Interface in memory for testing. Error injection
// fields force the corresponding method group to fail.
type MockStore struct {
	mu sync.Mutex

	bots        map[string]*BotDocument
	connections map[string]*models.ExchangeConnection
	positions   map[string]*models.Position
	trades      map[string]*models.Trade

	GetBotErr  error
	UpdateErr  error
	SaveErr    error
	NowFn      func() time.Time
	ClosedOnce bool

	heartbeatCalls   int
	performanceCalls int
	statusUpdates    []models.BotStatus
}

// NewMockStore creates an empty in-memory store for testing.
func NewMockStore() *MockStore {
	return &MockStore{
		bots:        make(map[string]*BotDocument),
		connections: make(map[string]*models.ExchangeConnection),
		positions:   make(map[string]*models.Position),
		trades:      make(map[string]*models.Trade),
	}
}

func (m *MockStore) now() time.Time {
	if m.NowFn != nil {
		return m.NowFn()
	}
	return time.Now()
}

// SeedBot installs a bot document for the test to load.
func (m *MockStore) SeedBot(doc *BotDocument) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bots[doc.BotID] = doc
}

// SeedConnection installs exchange credentials for the test to load.
func (m *MockStore) SeedConnection(conn *models.ExchangeConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[conn.UserID+":"+conn.Exchange] = conn
}

// GetBot returns the seeded bot document.
func (m *MockStore) GetBot(botID string) (*BotDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetBotErr != nil {
		return nil, m.GetBotErr
	}
	doc, ok := m.bots[botID]
	if !ok {
		return nil, fmt.Errorf("%w: bot %s", ErrNotFound, botID)
	}
	cp := *doc
	return &cp, nil
}

// UpdateStatus records the status transition after validating it against the
// transition table.
func (m *MockStore) UpdateStatus(botID string, status models.BotStatus, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	doc, ok := m.bots[botID]
	if !ok {
		return fmt.Errorf("%w: bot %s", ErrNotFound, botID)
	}
	if err := models.CheckTransition(doc.Status, status); err != nil {
		return err
	}
	doc.Status = status
	doc.ErrorMessage = errorMessage
	m.statusUpdates = append(m.statusUpdates, status)
	return nil
}

// ForceStatus records the status without transition validation.
func (m *MockStore) ForceStatus(botID string, status models.BotStatus, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	doc, ok := m.bots[botID]
	if !ok {
		return fmt.Errorf("%w: bot %s", ErrNotFound, botID)
	}
	doc.Status = status
	doc.ErrorMessage = errorMessage
	m.statusUpdates = append(m.statusUpdates, status)
	return nil
}

// SendHeartbeat touches the bot's last_heartbeat.
func (m *MockStore) SendHeartbeat(botID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	doc, ok := m.bots[botID]
	if !ok {
		return fmt.Errorf("%w: bot %s", ErrNotFound, botID)
	}
	now := m.now().UTC()
	doc.LastHeartbeat = &now
	m.heartbeatCalls++
	return nil
}

// UpdatePerformance records the performance snapshot.
func (m *MockStore) UpdatePerformance(botID string, perf models.Performance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	doc, ok := m.bots[botID]
	if !ok {
		return fmt.Errorf("%w: bot %s", ErrNotFound, botID)
	}
	doc.Performance = &perf
	m.performanceCalls++
	return nil
}

// GetExchangeConnection returns seeded ACTIVE credentials.
func (m *MockStore) GetExchangeConnection(userID, exchange string) (*models.ExchangeConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.connections[userID+":"+exchange]
	if !ok || conn.Status != models.ConnectionActive {
		return nil, fmt.Errorf("%w: no active %s connection for user %s", ErrNotFound, exchange, userID)
	}
	cp := *conn
	return &cp, nil
}

// SavePosition stores a copy of pos, assigning an id when it has none.
func (m *MockStore) SavePosition(pos *models.Position) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return "", m.SaveErr
	}
	if pos.ID == "" {
		pos.ID = uuid.NewString()
	}
	cp := *pos
	m.positions[pos.ID] = &cp
	return pos.ID, nil
}

// UpdatePosition applies the non-nil patch fields.
func (m *MockStore) UpdatePosition(id string, patch PositionPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	pos, ok := m.positions[id]
	if !ok {
		return fmt.Errorf("%w: position %s", ErrNotFound, id)
	}
	if patch.TrailingStop != nil {
		pos.TrailingStop = patch.TrailingStop
	}
	if patch.StopLoss != nil {
		pos.StopLoss = *patch.StopLoss
	}
	if patch.TargetPrice != nil {
		pos.TargetPrice = *patch.TargetPrice
	}
	return nil
}

// ClosePosition marks the stored position CLOSED.
func (m *MockStore) ClosePosition(id string, exitPrice float64, reason models.ExitReason) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	pos, ok := m.positions[id]
	if !ok {
		return fmt.Errorf("%w: position %s", ErrNotFound, id)
	}
	now := m.now().UTC()
	pos.Status = models.PositionClosed
	pos.ClosedAt = &now
	pos.ExitPrice = &exitPrice
	pos.ExitReason = reason
	return nil
}

// GetOpenPositions returns copies of the OPEN positions for botID.
func (m *MockStore) GetOpenPositions(botID string) ([]*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Position
	for _, pos := range m.positions {
		if pos.BotID == botID && pos.Status == models.PositionOpen {
			cp := *pos
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

// SaveTrade stores a copy of trade, assigning an id when it has none.
func (m *MockStore) SaveTrade(trade *models.Trade) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return "", m.SaveErr
	}
	if trade.ID == "" {
		trade.ID = uuid.NewString()
	}
	cp := *trade
	m.trades[trade.ID] = &cp
	return trade.ID, nil
}

// GetBotTrades returns up to limit trades for botID, newest first.
func (m *MockStore) GetBotTrades(botID string, limit int) ([]*models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Trade
	for _, trade := range m.trades {
		if trade.BotID == botID {
			cp := *trade
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClosedAt.After(out[j].ClosedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetDailyStats summarizes trades closed since 00:00 UTC today.
func (m *MockStore) GetDailyStats(botID string) (*models.DailyStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	midnight := m.now().UTC().Truncate(24 * time.Hour)
	stats := &models.DailyStats{}
	wins := 0
	for _, trade := range m.trades {
		if trade.BotID != botID || trade.ClosedAt.Before(midnight) {
			continue
		}
		stats.TradesCount++
		stats.TotalPnL += trade.NetPnL
		if trade.NetPnL > 0 {
			wins++
		}
	}
	if stats.TradesCount > 0 {
		stats.WinRate = float64(wins) / float64(stats.TradesCount)
	}
	return stats, nil
}

// Close records that the handle was closed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ClosedOnce = true
	return nil
}

// Inspection helpers for tests.

// HeartbeatCalls returns how many heartbeats were persisted.
func (m *MockStore) HeartbeatCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heartbeatCalls
}

// PerformanceCalls returns how many performance snapshots were persisted.
func (m *MockStore) PerformanceCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.performanceCalls
}

// StatusUpdates returns the sequence of persisted status transitions.
func (m *MockStore) StatusUpdates() []models.BotStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.BotStatus(nil), m.statusUpdates...)
}

// Position returns the stored position by id, or nil.
func (m *MockStore) Position(id string) *models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[id]
	if !ok {
		return nil
	}
	cp := *pos
	return &cp
}
