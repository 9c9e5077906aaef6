package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"futures-bot/internal/exchange"
	"futures-bot/internal/order"
	"futures-bot/internal/strategy"
)

// EventType 表示流水事件类型。
type EventType string

const (
	EventOrderPlaced   EventType = "order_placed"
	EventOrderRejected EventType = "order_rejected"
	EventOco           EventType = "oco"
	EventTwap          EventType = "twap"
	EventGrid          EventType = "grid"
	EventCancelAll     EventType = "cancel_all"
	EventError         EventType = "error"
)

// Event 封装通用流水事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// OrderPlacedPayload 记录单笔订单的请求与交易所回执。
type OrderPlacedPayload struct {
	Request order.Request        `json:"request"`
	Handle  exchange.OrderHandle `json:"handle"`
}

// OrderRejectedPayload 记录校验拒单。
type OrderRejectedPayload struct {
	Request order.Request `json:"request"`
	Kind    string        `json:"kind"`
	Reason  string        `json:"reason"`
}

// OcoPayload 记录一次 OCO 运行的终态。
type OcoPayload struct {
	Result strategy.OcoResult `json:"result"`
}

// TwapPayload 记录一次 TWAP 执行的终态。
type TwapPayload struct {
	Result strategy.TwapResult `json:"result"`
}

// GridPayload 记录一次网格铺设或拆除。
type GridPayload struct {
	Action string              `json:"action"` // setup | teardown
	Ladder strategy.GridLadder `json:"ladder"`
}

// CancelAllPayload 记录批量撤单结果。
type CancelAllPayload struct {
	Symbol    string   `json:"symbol"`
	Requested int      `json:"requested"`
	Canceled  int      `json:"canceled"`
	FailedIDs []string `json:"failed_ids,omitempty"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Journal 负责持久化订单与策略流水。
type Journal struct {
	db     *sql.DB
	logger *zap.Logger
}

// New 初始化流水服务，创建所需表结构。
func New(store *Store, logger *zap.Logger) (*Journal, error) {
	if store == nil {
		return nil, fmt.Errorf("journal: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	j := &Journal{
		db:     store.DB(),
		logger: logger,
	}

	if err := j.initSchema(); err != nil {
		return nil, err
	}

	return j, nil
}

func (j *Journal) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS journal_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_journal_events_type ON journal_events(event_type);
`
	if _, err := j.db.Exec(stmt); err != nil {
		return fmt.Errorf("journal: 初始化表失败: %w", err)
	}
	return nil
}

// Record 写入单个事件。
func (j *Journal) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("journal: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = j.db.ExecContext(ctx,
		`INSERT INTO journal_events (event_type, payload, created_at) VALUES (?, ?, ?)`,
		string(event.Type), string(payload), event.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("journal: 写入事件失败: %w", err)
	}

	return nil
}

// RecordOrderPlaced 记录下单回执。写入失败只告警，不影响交易主流程。
func (j *Journal) RecordOrderPlaced(ctx context.Context, req order.Request, handle exchange.OrderHandle) {
	if err := j.Record(ctx, Event{
		Type:      EventOrderPlaced,
		Timestamp: time.Now().UTC(),
		Payload:   OrderPlacedPayload{Request: req, Handle: handle},
	}); err != nil {
		j.logger.Warn("记录下单事件失败", zap.Error(err))
	}
}

// RecordOrderRejected 记录校验拒单。
func (j *Journal) RecordOrderRejected(ctx context.Context, req order.Request, rej *order.Rejection) {
	if err := j.Record(ctx, Event{
		Type:      EventOrderRejected,
		Timestamp: time.Now().UTC(),
		Payload: OrderRejectedPayload{
			Request: req,
			Kind:    string(rej.Kind),
			Reason:  rej.Message,
		},
	}); err != nil {
		j.logger.Warn("记录拒单事件失败", zap.Error(err))
	}
}

// RecordOco 记录 OCO 终态。
func (j *Journal) RecordOco(ctx context.Context, result strategy.OcoResult) {
	if err := j.Record(ctx, Event{
		Type:      EventOco,
		Timestamp: time.Now().UTC(),
		Payload:   OcoPayload{Result: result},
	}); err != nil {
		j.logger.Warn("记录 OCO 事件失败", zap.Error(err))
	}
}

// RecordTwap 记录 TWAP 终态。
func (j *Journal) RecordTwap(ctx context.Context, result strategy.TwapResult) {
	if err := j.Record(ctx, Event{
		Type:      EventTwap,
		Timestamp: time.Now().UTC(),
		Payload:   TwapPayload{Result: result},
	}); err != nil {
		j.logger.Warn("记录 TWAP 事件失败", zap.Error(err))
	}
}

// RecordGrid 记录网格铺设或拆除。
func (j *Journal) RecordGrid(ctx context.Context, action string, ladder strategy.GridLadder) {
	if err := j.Record(ctx, Event{
		Type:      EventGrid,
		Timestamp: time.Now().UTC(),
		Payload:   GridPayload{Action: action, Ladder: ladder},
	}); err != nil {
		j.logger.Warn("记录网格事件失败", zap.Error(err))
	}
}

// RecordCancelAll 记录批量撤单。
func (j *Journal) RecordCancelAll(ctx context.Context, symbol string, report order.CancelReport) {
	if err := j.Record(ctx, Event{
		Type:      EventCancelAll,
		Timestamp: time.Now().UTC(),
		Payload: CancelAllPayload{
			Symbol:    symbol,
			Requested: report.Requested,
			Canceled:  report.Canceled,
			FailedIDs: report.FailedIDs,
		},
	}); err != nil {
		j.logger.Warn("记录批量撤单事件失败", zap.Error(err))
	}
}

// RecordError 记录异常。
func (j *Journal) RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{}) {
	payload := ErrorPayload{
		Message: msg,
		Error:   err.Error(),
		Context: ctxMap,
	}
	if recErr := j.Record(ctx, Event{
		Type:      EventError,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}); recErr != nil {
		j.logger.Warn("记录异常事件失败", zap.Error(recErr))
	}
}

// ListEvents 按类型检索最近事件。
func (j *Journal) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT event_type, payload, created_at FROM journal_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			typ     string
			payload string
			created string
		)
		if scanErr := rows.Scan(&typ, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("journal: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339, created)
		if parseErr != nil {
			ts = time.Now().UTC()
		}

		events = append(events, Event{
			Type:      EventType(typ),
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: 读取事件失败: %w", err)
	}

	return events, nil
}
