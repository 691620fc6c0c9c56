package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	eventsQueuePattern   = "rollcall.events.%s"
	commandsQueuePattern = "rollcall.commands.%s"
	replyToQueue         = "amq.rabbitmq.reply-to"
	defaultRPCTimeout    = 10 * time.Second
)

// AMQPBridge creates sessions carried over RabbitMQ. The protocol client
// runs out of process: it consumes per-tenant command queues and publishes
// per-tenant event queues.
type AMQPBridge struct {
	conn *amqp.Connection
}

// NewAMQPBridge dials the broker.
func NewAMQPBridge(url string) (*AMQPBridge, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	return &AMQPBridge{conn: conn}, nil
}

// Close shuts the broker connection down; all sessions die with it.
func (b *AMQPBridge) Close() error {
	return b.conn.Close()
}

// NewSession declares the tenant's queues, wires event dispatch to h, and
// returns the command-side session handle.
func (b *AMQPBridge) NewSession(tenantID string, h Handler) (Session, error) {
	cmdCh, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open command channel: %w", err)
	}
	evCh, err := b.conn.Channel()
	if err != nil {
		_ = cmdCh.Close()
		return nil, fmt.Errorf("open event channel: %w", err)
	}

	s := &amqpSession{
		tenantID:   tenantID,
		handler:    h,
		cmdCh:      cmdCh,
		evCh:       evCh,
		cmdQueue:   fmt.Sprintf(commandsQueuePattern, tenantID),
		evQueue:    fmt.Sprintf(eventsQueuePattern, tenantID),
		rpcTimeout: defaultRPCTimeout,
	}
	for _, queue := range []string{s.cmdQueue, s.evQueue} {
		if _, err := cmdCh.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			s.closeChannels()
			return nil, fmt.Errorf("declare queue %s: %w", queue, err)
		}
	}

	// The reply consumer must be live on the publishing channel before any
	// direct-reply RPC is sent.
	replies, err := cmdCh.Consume(replyToQueue, "", true, false, false, false, nil)
	if err != nil {
		s.closeChannels()
		return nil, fmt.Errorf("consume rpc replies: %w", err)
	}
	s.replies = replies

	s.consumerTag = "rollcall-" + tenantID
	deliveries, err := evCh.Consume(s.evQueue, s.consumerTag, true, false, false, false, nil)
	if err != nil {
		s.closeChannels()
		return nil, fmt.Errorf("consume events: %w", err)
	}
	go s.dispatch(deliveries)
	return s, nil
}

type amqpSession struct {
	tenantID    string
	handler     Handler
	cmdCh       *amqp.Channel
	evCh        *amqp.Channel
	cmdQueue    string
	evQueue     string
	consumerTag string
	replies     <-chan amqp.Delivery
	rpcTimeout  time.Duration

	mu      sync.Mutex
	ownerID string

	rpcMu   sync.Mutex
	destroy sync.Once
}

// dispatch runs on a single goroutine per tenant so events for one tenant
// are handled in arrival order.
func (s *amqpSession) dispatch(deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		ev, err := DecodeEvent(d.Body)
		if err != nil {
			slog.Warn("dropping malformed platform event", "tenant", s.tenantID, "err", err)
			continue
		}
		switch ev.Type {
		case EventPairingCode:
			s.handler.OnPairingCode(s.tenantID, ev.Code)
		case EventReady:
			s.mu.Lock()
			s.ownerID = ev.OwnerID
			s.mu.Unlock()
			s.handler.OnReady(s.tenantID)
		case EventMessage:
			s.handler.OnMessage(s.tenantID, *ev.Message)
		case EventDisconnected:
			s.handler.OnDisconnected(s.tenantID, ev.Reason)
		default:
			slog.Warn("unknown platform event type", "tenant", s.tenantID, "type", ev.Type)
		}
	}
}

func (s *amqpSession) Start(ctx context.Context) error {
	return s.publish(ctx, Command{Type: CommandBeginPairing}, "")
}

func (s *amqpSession) OwnerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ownerID
}

func (s *amqpSession) SendMessage(ctx context.Context, groupID, text string) error {
	if groupID == "" {
		return errors.New("send: group id required")
	}
	return s.publish(ctx, Command{Type: CommandSend, GroupID: groupID, Text: text}, "")
}

func (s *amqpSession) ListGroups(ctx context.Context) ([]ChatInfo, error) {
	return s.rpc(ctx, CommandListGroups)
}

func (s *amqpSession) ListContacts(ctx context.Context) ([]ChatInfo, error) {
	return s.rpc(ctx, CommandListContacts)
}

// Destroy tells the protocol client to drop the connection and tears the
// channels down. Safe to call more than once.
func (s *amqpSession) Destroy() error {
	var err error
	s.destroy.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if perr := s.publish(ctx, Command{Type: CommandDestroy}, ""); perr != nil {
			slog.Warn("destroy command not delivered", "tenant", s.tenantID, "err", perr)
		}
		if cerr := s.evCh.Cancel(s.consumerTag, false); cerr != nil {
			err = cerr
		}
		s.closeChannels()
	})
	return err
}

func (s *amqpSession) closeChannels() {
	_ = s.cmdCh.Close()
	_ = s.evCh.Close()
}

func (s *amqpSession) publish(ctx context.Context, cmd Command, correlationID string) error {
	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	pub := amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	}
	if correlationID != "" {
		pub.CorrelationId = correlationID
		pub.ReplyTo = replyToQueue
	}
	if err := s.cmdCh.PublishWithContext(ctx, "", s.cmdQueue, false, false, pub); err != nil {
		return fmt.Errorf("publish %s: %w", cmd.Type, err)
	}
	return nil
}

// rpc issues a command with direct reply-to and waits for the correlated
// answer. One RPC at a time per session keeps correlation simple; the
// engine only calls these from the post-pairing snapshot fetch.
func (s *amqpSession) rpc(ctx context.Context, typ string) ([]ChatInfo, error) {
	s.rpcMu.Lock()
	defer s.rpcMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.rpcTimeout)
	defer cancel()

	corr := uuid.NewString()
	if err := s.publish(ctx, Command{Type: typ}, corr); err != nil {
		return nil, err
	}
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %w", typ, ctx.Err())
		case d, ok := <-s.replies:
			if !ok {
				return nil, fmt.Errorf("%s: reply channel closed", typ)
			}
			if d.CorrelationId != corr {
				continue
			}
			var reply ChatListReply
			if err := json.Unmarshal(d.Body, &reply); err != nil {
				return nil, fmt.Errorf("decode %s reply: %w", typ, err)
			}
			if reply.Error != "" {
				return nil, fmt.Errorf("%s: %s", typ, reply.Error)
			}
			return reply.Chats, nil
		}
	}
}
