package notify

import (
	"context"
	"encoding/json"
	"time"

	"example.com/backstage/services/shipping/config"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Notifier is the best-effort alert side channel. Implementations must
// swallow their own failures; a notification must never alter a stage
// outcome.
type Notifier interface {
	Notify(ctx context.Context, subject, body string)
}

// alertEvent is the message published for every stage transition
type alertEvent struct {
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	Time    time.Time `json:"time"`
}

// ServiceBusNotifier publishes alerts to an Azure Service Bus queue
type ServiceBusNotifier struct {
	client    *azservicebus.Client
	sender    *azservicebus.Sender
	queueName string
}

// NewServiceBusNotifier creates a notifier backed by Azure Service Bus
func NewServiceBusNotifier(cfg config.AzureConfig) (*ServiceBusNotifier, error) {
	if cfg.QueueConnStr == "" {
		return nil, errors.New("azure service bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create service bus client")
	}

	sender, err := client.NewSender(cfg.QueueName, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create service bus sender")
	}

	return &ServiceBusNotifier{
		client:    client,
		sender:    sender,
		queueName: cfg.QueueName,
	}, nil
}

// Notify publishes an alert event. Failures are logged, never returned.
func (n *ServiceBusNotifier) Notify(ctx context.Context, subject, body string) {
	data, err := json.Marshal(alertEvent{Subject: subject, Body: body, Time: time.Now().UTC()})
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to marshal alert event")
		return
	}

	msg := &azservicebus.Message{
		Body:    data,
		Subject: &subject,
		ApplicationProperties: map[string]interface{}{
			"source": "shipping-bridge",
			"time":   time.Now().UTC().Format(time.RFC3339),
		},
	}

	if err := n.sender.SendMessage(ctx, msg, nil); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to publish alert event")
	}
}

// Close closes the Service Bus client
func (n *ServiceBusNotifier) Close() error {
	if n.sender != nil {
		if err := n.sender.Close(context.Background()); err != nil {
			return err
		}
	}
	if n.client != nil {
		return n.client.Close(context.Background())
	}
	return nil
}

// LogNotifier is the fallback when no alert queue is configured
type LogNotifier struct{}

// Notify writes the alert to the service log
func (LogNotifier) Notify(_ context.Context, subject, body string) {
	log.Info().Str("subject", subject).Str("body", body).Msg("Shipment alert")
}
