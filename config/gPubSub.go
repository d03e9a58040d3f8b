package config

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"
)

// NotificationMessage is the payload published for every executed automation action.
// Delivery (email, push, sms) belongs to the subscribers of NOTIFICATIONS_TOPIC.
type NotificationMessage struct {
	IdempotencyKey string    `json:"idempotency_key"`
	CaseId         string    `json:"case_id"`
	ActionKind     string    `json:"action_kind"`
	Priority       string    `json:"priority"`
	Recipient      string    `json:"recipient"`
	Message        string    `json:"message"`
	RequiredAction string    `json:"required_action,omitempty"`
	ActionRequired bool      `json:"action_required"`
	GeneratedAt    time.Time `json:"generated_at"`
	CorrelationId  string    `json:"correlation_id,omitempty"`
}

var (
	pubsubClient   *pubsub.Client
	pubsubClientMu sync.Mutex
)

func init() {
	// Load env from .env
	godotenv.Load()
}

func getPubSubProjectID() string {
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	return os.Getenv("GCP_PROJECT")
}

// PubSubConfigured reports whether notifications can be published.
func PubSubConfigured() bool {
	return getPubSubProjectID() != "" && strings.TrimSpace(os.Getenv("NOTIFICATIONS_TOPIC")) != ""
}

// GetPubSubClient returns a Pub/Sub client, initializing it on first use.
// It uses Application Default Credentials unless PUBSUB_CREDENTIALS_JSON is provided.
func GetPubSubClient(ctx context.Context) (*pubsub.Client, error) {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if pubsubClient != nil {
		return pubsubClient, nil
	}

	projectID := getPubSubProjectID()
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}

	var (
		c   *pubsub.Client
		err error
	)
	if credJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON"); credJSON != "" {
		c, err = pubsub.NewClient(ctx, projectID, option.WithCredentialsJSON([]byte(credJSON)))
	} else {
		c, err = pubsub.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, err
	}
	pubsubClient = c
	log.Printf("pubsub client ready (project_id=%s)", projectID)
	return pubsubClient, nil
}

// PublishNotificationWithResult publishes and returns the Pub/Sub server-assigned message ID.
func PublishNotificationWithResult(ctx context.Context, msg NotificationMessage) (string, error) {
	client, err := GetPubSubClient(ctx)
	if err != nil {
		return "", err
	}

	topicName := os.Getenv("NOTIFICATIONS_TOPIC")
	if topicName == "" {
		return "", errors.New("NOTIFICATIONS_TOPIC is required")
	}

	msgJSON, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	t := client.Topic(topicName)
	result := t.Publish(ctx, &pubsub.Message{
		Data: msgJSON,
		Attributes: map[string]string{
			"case_id":     msg.CaseId,
			"action_kind": msg.ActionKind,
			"recipient":   msg.Recipient,
		},
	})
	return result.Get(ctx)
}

// ClosePubSub releases the shared client (best-effort).
func ClosePubSub() {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if pubsubClient != nil {
		_ = pubsubClient.Close()
		pubsubClient = nil
	}
}
