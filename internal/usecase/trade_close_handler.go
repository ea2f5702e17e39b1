package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"SweepTrader/internal/domain/models"
	drepo "SweepTrader/internal/domain/repository"
	pkgkafka "SweepTrader/pkg/kafka"
	"SweepTrader/pkg/logger"
	"SweepTrader/pkg/metrics"
	"SweepTrader/pkg/queue"
)

// TradeCloseMessage is the queue message type of broker close events.
const TradeCloseMessage = "trade_close"

// TradeCloser applies a broker-reported close.
type TradeCloser interface {
	CloseTrade(ctx context.Context, tc models.TradeClose) (models.StepResult, error)
}

// TradeCloseHandler consumes broker close events from Kafka or the Redis queue.
type TradeCloseHandler struct {
	topic    string
	closer   TradeCloser
	metrics  drepo.Metrics
	log      *logger.Logger
	validate *validator.Validate
}

func NewTradeCloseHandler(topic string, closer TradeCloser, m drepo.Metrics, log *logger.Logger) *TradeCloseHandler {
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &TradeCloseHandler{
		topic:    topic,
		closer:   closer,
		metrics:  m,
		log:      log,
		validate: validator.New(),
	}
}

func (h *TradeCloseHandler) Topic() string { return h.topic }

func (h *TradeCloseHandler) Type() string { return TradeCloseMessage }

// Handle decodes {order_id, exit_price, exit_time, reason, profit}. Returned
// errors are retried by the consumer and dead-lettered after the last attempt.
func (h *TradeCloseHandler) Handle(ctx context.Context, b []byte) error {
	var tc models.TradeClose
	if err := json.Unmarshal(b, &tc); err != nil {
		h.metrics.RecordError("trade_close_unmarshal")
		return fmt.Errorf("decode trade close: %w", err)
	}
	if err := h.validate.Struct(tc); err != nil {
		h.metrics.RecordError("trade_close_invalid")
		return fmt.Errorf("invalid trade close: %w", err)
	}

	res, err := h.closer.CloseTrade(ctx, tc)
	if err != nil {
		h.metrics.RecordError("trade_close")
		return err
	}
	h.log.Info("trade close applied",
		logger.String("order_id", tc.BrokerOrderID),
		logger.String("session_id", res.SessionID),
		logger.String("reason", res.Reason),
	)
	return nil
}

var (
	_ pkgkafka.MessageHandler = (*TradeCloseHandler)(nil)
	_ queue.Job               = (*TradeCloseHandler)(nil)
)
