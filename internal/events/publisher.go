package events

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/ejjays/RN-chatapp/internal/domain"
)

const (
	SubjectChatCreated    = "chat.created"
	SubjectMessageCreated = "message.created"
	SubjectMessageRead    = "message.read"
)

type ChatCreatedEvent struct {
	ChatID    string   `json:"chat_id"`
	Members   []string `json:"members"`
	Name      string   `json:"name,omitempty"`
	IsGroup   bool     `json:"is_group"`
	CreatedBy string   `json:"created_by"`
}

type MessageCreatedEvent struct {
	ChatID  string          `json:"chat_id"`
	Message *domain.Message `json:"message"`
}

type MessageReadEvent struct {
	ChatID  string `json:"chat_id"`
	UserID  string `json:"user_id"`
	Updated int    `json:"updated"`
}

// Publisher emits domain events. Delivery is best effort; failures are
// logged and never fail the originating operation.
type Publisher interface {
	ChatCreated(ev ChatCreatedEvent)
	MessageCreated(ev MessageCreatedEvent)
	MessageRead(ev MessageReadEvent)
}

type NATSPublisher struct {
	nc  *nats.Conn
	log *zap.Logger
}

func NewNATSPublisher(url string, log *zap.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("chat-sync"))
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{nc: nc, log: log}, nil
}

func (p *NATSPublisher) publish(subject string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		p.log.Error("marshal event", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := p.nc.Publish(subject, b); err != nil {
		p.log.Warn("publish event", zap.String("subject", subject), zap.Error(err))
	}
}

func (p *NATSPublisher) ChatCreated(ev ChatCreatedEvent)       { p.publish(SubjectChatCreated, ev) }
func (p *NATSPublisher) MessageCreated(ev MessageCreatedEvent) { p.publish(SubjectMessageCreated, ev) }
func (p *NATSPublisher) MessageRead(ev MessageReadEvent)       { p.publish(SubjectMessageRead, ev) }

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
	}
}

type Noop struct{}

func (Noop) ChatCreated(ChatCreatedEvent)       {}
func (Noop) MessageCreated(MessageCreatedEvent) {}
func (Noop) MessageRead(MessageReadEvent)       {}
