package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "sync"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "go.uber.org/zap"
)

// DefaultQueueName is the durable queue booking events travel through.
const DefaultQueueName = "booking.events"

// Consumer drains the booking event queue into an append-only log file,
// one line per event.  It stands in for the notification subsystem, which
// reads the same queue.
type Consumer struct {
    url     string
    queue   string
    logPath string
    logger  *zap.Logger

    mu sync.Mutex // serializes writes to logPath
}

// NewConsumer returns a consumer for queue on the broker at url.
func NewConsumer(url, queue, logPath string, logger *zap.Logger) *Consumer {
    if queue == "" {
        queue = DefaultQueueName
    }
    if logPath == "" {
        logPath = filepath.Join("logs", "booking.log")
    }
    if logger == nil {
        logger = zap.NewNop()
    }
    return &Consumer{url: url, queue: queue, logPath: logPath, logger: logger}
}

// Run connects to RabbitMQ and consumes until ctx is cancelled.  A lost
// connection is redialled with exponential backoff capped at 30s.  Bad
// messages are rejected without requeue so one poison message cannot
// stall the queue.
func (c *Consumer) Run(ctx context.Context) error {
    backoff := time.Second
    for {
        conn, err := amqp.Dial(c.url)
        if err != nil {
            c.logger.Warn("dial broker failed", zap.Error(err), zap.Duration("retry_in", backoff))
            if !sleep(ctx, backoff) {
                return ctx.Err()
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second

        err = c.consumeLoop(ctx, conn)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        c.logger.Warn("consume loop ended; reconnecting", zap.Error(err))
        if !sleep(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(50, 0, false); err != nil {
        c.logger.Warn("set QoS failed", zap.Error(err))
    }
    if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }
    msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }

    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case d, ok := <-msgs:
            if !ok {
                return errors.New("deliveries channel closed")
            }
            if err := c.Handle(d.Body); err != nil {
                c.logger.Error("handle message failed", zap.Error(err))
                _ = d.Nack(false, false)
                continue
            }
            _ = d.Ack(false)
        }
    }
}

// Handle decodes one event and appends it to the booking log.
func (c *Consumer) Handle(body []byte) error {
    var ev BookingEvent
    if err := json.Unmarshal(body, &ev); err != nil {
        return fmt.Errorf("unmarshal: %w", err)
    }
    if ev.BookingID == "" || ev.Type == "" {
        return fmt.Errorf("event missing booking id or type")
    }

    c.mu.Lock()
    defer c.mu.Unlock()
    if err := os.MkdirAll(filepath.Dir(c.logPath), 0o755); err != nil {
        return fmt.Errorf("mkdir logs: %w", err)
    }
    f, err := os.OpenFile(c.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
    if err != nil {
        return fmt.Errorf("open log file: %w", err)
    }
    defer f.Close()

    if _, err := f.WriteString(FormatLine(ev)); err != nil {
        return fmt.Errorf("write log: %w", err)
    }
    return nil
}

// FormatLine renders an event as a single human-friendly log line.
func FormatLine(ev BookingEvent) string {
    queue := ev.QueueDay
    if ev.SlotID != "" {
        queue = ev.SlotID
    }
    from := ev.OldStatus
    if from == "" {
        from = "-"
    }
    return fmt.Sprintf("[%s] %s | booking_id=%s | unit=%s | queue=%s | token=%d | %s -> %s | position=%d | wait=%dm\n",
        ev.Timestamp.UTC().Format(time.RFC3339), ev.Type, ev.BookingID, ev.CapacityUnitID, queue,
        ev.Token, from, ev.NewStatus, ev.Position, ev.EstimatedWaitMinutes)
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}
