package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"soulchart-share-service/internal/models"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Publisher defines the interface for share permission event publishing
type Publisher interface {
	PublishPermissionCreated(ctx context.Context, permission *models.SharePermission) error
	PublishPermissionViewed(ctx context.Context, permission *models.SharePermission, viewerID string) error
	PublishPermissionExpired(ctx context.Context, permission *models.SharePermission) error
	PublishPermissionExhausted(ctx context.Context, permission *models.SharePermission) error

	// Close closes the publisher connection
	Close() error
}

// EventPublisher implements the Publisher interface using RabbitMQ
type EventPublisher struct {
	conn         *amqp091.Connection
	channel      *amqp091.Channel
	exchangeName string
	enabled      bool
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(rabbitURI string) (*EventPublisher, error) {
	if rabbitURI == "" {
		log.Println("Warning: RabbitMQ URI is empty, event publishing is disabled")
		return &EventPublisher{
			enabled: false,
		}, nil
	}

	conn, err := amqp091.Dial(rabbitURI)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	exchangeName := "share.events"
	err = channel.ExchangeDeclare(
		exchangeName, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &EventPublisher{
		conn:         conn,
		channel:      channel,
		exchangeName: exchangeName,
		enabled:      true,
	}, nil
}

// publishEvent publishes an event to RabbitMQ
func (p *EventPublisher) publishEvent(ctx context.Context, routingKey string, event interface{}) error {
	if !p.enabled {
		log.Printf("Event publishing is disabled, skipping event: %s", routingKey)
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = p.channel.PublishWithContext(
		pubCtx,
		p.exchangeName, // exchange
		routingKey,     // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	log.Printf("Published event: %s", routingKey)
	return nil
}

// PublishPermissionCreated publishes a permission created event
func (p *EventPublisher) PublishPermissionCreated(ctx context.Context, permission *models.SharePermission) error {
	event := NewPermissionCreatedEvent(permission.PermissionID, permission.OwnerID, permission.UsageLimit, permission.ExpiresAt)
	return p.publishEvent(ctx, string(EventTypePermissionCreated), event)
}

// PublishPermissionViewed publishes a permission viewed event
func (p *EventPublisher) PublishPermissionViewed(ctx context.Context, permission *models.SharePermission, viewerID string) error {
	event := NewPermissionViewedEvent(
		permission.PermissionID,
		permission.OwnerID,
		viewerID,
		permission.UsageCount,
		permission.RemainingViews(),
		permission.ExpiresAt,
	)
	return p.publishEvent(ctx, string(EventTypePermissionViewed), event)
}

// PublishPermissionExpired publishes a permission expired event
func (p *EventPublisher) PublishPermissionExpired(ctx context.Context, permission *models.SharePermission) error {
	event := NewPermissionExpiredEvent(permission.PermissionID, permission.OwnerID, permission.ExpiresAt)
	return p.publishEvent(ctx, string(EventTypePermissionExpired), event)
}

// PublishPermissionExhausted publishes a permission exhausted event
func (p *EventPublisher) PublishPermissionExhausted(ctx context.Context, permission *models.SharePermission) error {
	event := NewPermissionExhaustedEvent(permission.PermissionID, permission.OwnerID, permission.UsageCount, permission.ExpiresAt)
	return p.publishEvent(ctx, string(EventTypePermissionExhausted), event)
}

// Close closes the publisher connection
func (p *EventPublisher) Close() error {
	if !p.enabled {
		return nil
	}
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			log.Printf("Error closing RabbitMQ channel: %v", err)
		}
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
