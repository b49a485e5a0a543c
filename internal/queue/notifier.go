package queue

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Notifier wakes workers when a task is enqueued.
type Notifier interface {
	Notify(ctx context.Context, taskID string) error
	// Wakeups delivers a signal per notification. Signals may coalesce.
	Wakeups() <-chan struct{}
	Close() error
}

// ChannelNotifier signals workers in the same process.
type ChannelNotifier struct {
	ch chan struct{}
}

// NewChannelNotifier creates an in-process notifier.
func NewChannelNotifier() *ChannelNotifier {
	return &ChannelNotifier{ch: make(chan struct{}, 1)}
}

// Notify implements Notifier. It never blocks.
func (n *ChannelNotifier) Notify(_ context.Context, _ string) error {
	select {
	case n.ch <- struct{}{}:
	default:
	}
	return nil
}

// Wakeups implements Notifier.
func (n *ChannelNotifier) Wakeups() <-chan struct{} { return n.ch }

// Close implements Notifier.
func (n *ChannelNotifier) Close() error { return nil }

// amqpChannel is the subset of *amqp.Channel used by AMQPNotifier.
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// AMQPNotifier publishes task ids to a durable RabbitMQ queue so workers in
// other processes wake immediately.
type AMQPNotifier struct {
	conn      *amqp.Connection
	ch        amqpChannel
	queueName string
	wake      chan struct{}
	closeOnce sync.Once
}

// DialAMQP connects to RabbitMQ and declares the wakeup queue.
func DialAMQP(url, queueName string) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, eris.Wrap(err, "queue: dial amqp")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, eris.Wrap(err, "queue: open amqp channel")
	}
	n, err := newAMQPNotifier(ch, queueName)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	n.conn = conn
	return n, nil
}

func newAMQPNotifier(ch amqpChannel, queueName string) (*AMQPNotifier, error) {
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return nil, eris.Wrapf(err, "queue: declare %s", queueName)
	}
	return &AMQPNotifier{ch: ch, queueName: queueName, wake: make(chan struct{}, 1)}, nil
}

// Notify implements Notifier.
func (n *AMQPNotifier) Notify(ctx context.Context, taskID string) error {
	err := n.ch.PublishWithContext(ctx, "", n.queueName, false, false, amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		Body:         []byte(taskID),
	})
	return eris.Wrap(err, "queue: publish wakeup")
}

// Listen consumes wakeups until ctx is done or the channel closes.
func (n *AMQPNotifier) Listen(ctx context.Context) error {
	deliveries, err := n.ch.Consume(n.queueName, "", true, false, false, false, nil)
	if err != nil {
		return eris.Wrapf(err, "queue: consume %s", n.queueName)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return eris.New("queue: amqp delivery channel closed")
			}
			zap.L().Debug("queue: wakeup received", zap.String("task_id", string(d.Body)))
			select {
			case n.wake <- struct{}{}:
			default:
			}
		}
	}
}

// Wakeups implements Notifier.
func (n *AMQPNotifier) Wakeups() <-chan struct{} { return n.wake }

// Close implements Notifier.
func (n *AMQPNotifier) Close() error {
	var err error
	n.closeOnce.Do(func() {
		err = n.ch.Close()
		if n.conn != nil {
			if cerr := n.conn.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return eris.Wrap(err, "queue: close amqp")
}
