// Package service delivers booking events from the scheduling engine to
// the notification side: RabbitMQ for durable processing, Redis pub/sub
// and the in-process websocket hub for live updates.  Errors are logged
// and returned so callers can ignore failures without interrupting the
// main request flow.
package service

import (
    "context"
    "encoding/json"
    "errors"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "go.uber.org/multierr"
    "go.uber.org/zap"

    q "github.com/iliyamo/token-queue/internal/queue"
)

// ErrPublisherBusy is returned when the outgoing event buffer is full.
var ErrPublisherBusy = errors.New("amqp publisher: event buffer full")

const (
    defaultDialTimeout = 3 * time.Second
    defaultRetryAfter  = 5 * time.Second
    defaultBuffer      = 1024
    publishTimeout     = 5 * time.Second
)

// AMQPPublisher publishes booking events to a durable RabbitMQ queue.
// Publish only queues the event; Run owns the broker connection and sends
// in the background, so a slow or unreachable broker never holds up the
// request that produced the event.  The connection is opened on first use
// and reopened after a failure, at most once per retry window.
type AMQPPublisher struct {
    url    string
    queue  string
    logger *zap.Logger

    dialTimeout time.Duration
    retryAfter  time.Duration
    pending     chan q.BookingEvent

    // Owned by Run.
    conn    *amqp.Connection
    ch      *amqp.Channel
    retryAt time.Time
}

// NewAMQPPublisher returns a publisher for queue on the broker at url.
// Nothing is sent until Run is started.
func NewAMQPPublisher(url, queue string, logger *zap.Logger) *AMQPPublisher {
    if queue == "" {
        queue = q.DefaultQueueName
    }
    if logger == nil {
        logger = zap.NewNop()
    }
    return &AMQPPublisher{
        url:         url,
        queue:       queue,
        logger:      logger,
        dialTimeout: defaultDialTimeout,
        retryAfter:  defaultRetryAfter,
        pending:     make(chan q.BookingEvent, defaultBuffer),
    }
}

// Publish queues ev for delivery.  It never blocks; when the buffer is full
// the event is dropped and ErrPublisherBusy returned.
func (p *AMQPPublisher) Publish(ctx context.Context, ev q.BookingEvent) error {
    if err := ctx.Err(); err != nil {
        return err
    }
    select {
    case p.pending <- ev:
        return nil
    default:
        p.logger.Warn("rabbitmq buffer full, dropping event",
            zap.String("booking_id", ev.BookingID), zap.String("type", string(ev.Type)))
        return ErrPublisherBusy
    }
}

// Run sends queued events until ctx is done, then closes the connection.
func (p *AMQPPublisher) Run(ctx context.Context) error {
    defer p.reset()
    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case ev := <-p.pending:
            if err := p.send(ctx, ev); err != nil {
                p.logger.Warn("rabbitmq publish failed",
                    zap.String("booking_id", ev.BookingID), zap.Error(err))
            }
        }
    }
}

// errBackoff means a reconnect was skipped because the last attempt failed
// recently.
var errBackoff = errors.New("rabbitmq unavailable, waiting to reconnect")

func (p *AMQPPublisher) send(ctx context.Context, ev q.BookingEvent) error {
    body, err := json.Marshal(ev)
    if err != nil {
        return err
    }
    ch, err := p.channel()
    if err != nil {
        return err
    }
    pub := amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent, // store on disk
        MessageId:    ev.BookingID + ":" + ev.NewStatus,
        Type:         string(ev.Type),
        Timestamp:    time.Now().UTC(),
        Body:         body,
    }
    pctx, cancel := context.WithTimeout(ctx, publishTimeout)
    defer cancel()
    if err := ch.PublishWithContext(pctx, "", p.queue, false, false, pub); err != nil {
        p.reset()
        return err
    }
    return nil
}

// channel returns an open channel with the queue declared.
func (p *AMQPPublisher) channel() (*amqp.Channel, error) {
    if p.ch != nil && !p.ch.IsClosed() {
        return p.ch, nil
    }
    p.reset()
    if time.Now().Before(p.retryAt) {
        return nil, errBackoff
    }
    ch, err := p.connect()
    if err != nil {
        p.retryAt = time.Now().Add(p.retryAfter)
        p.logger.Warn("rabbitmq unavailable", zap.Error(err), zap.Duration("retry_in", p.retryAfter))
        return nil, err
    }
    return ch, nil
}

func (p *AMQPPublisher) connect() (*amqp.Channel, error) {
    conn, err := amqp.DialConfig(p.url, amqp.Config{
        Heartbeat: 10 * time.Second,
        Locale:    "en_US",
        Dial:      amqp.DefaultDial(p.dialTimeout),
    })
    if err != nil {
        return nil, err
    }
    ch, err := conn.Channel()
    if err != nil {
        _ = conn.Close()
        return nil, err
    }
    // Durable so messages survive broker restarts.
    if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
        _ = ch.Close()
        _ = conn.Close()
        return nil, err
    }
    p.conn, p.ch = conn, ch
    return ch, nil
}

// reset closes whatever is open.  Close errors are combined for callers
// that care.
func (p *AMQPPublisher) reset() error {
    var err error
    if p.ch != nil {
        err = p.ch.Close()
    }
    if p.conn != nil {
        err = multierr.Append(err, p.conn.Close())
    }
    p.conn, p.ch = nil, nil
    return err
}
