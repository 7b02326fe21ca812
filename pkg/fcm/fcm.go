// Package fcm sends push notifications through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"fmt"

	"outreach-backend/pkg/logger"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// multicastLimit is the FCM cap on tokens per multicast request.
const multicastLimit = 500

// Client wraps Firebase Cloud Messaging functionality
type Client struct {
	messagingClient *messaging.Client
}

// NewClient creates a new FCM client using the provided credentials file
func NewClient(ctx context.Context, credentialsFile string) (*Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	messagingClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}

	logger.Info("fcm client initialized")
	return &Client{messagingClient: messagingClient}, nil
}

// NotificationData contains the data to send in a push notification
type NotificationData struct {
	Title string
	Body  string
	Data  map[string]string // Custom data payload
	// ClickAction is the app path opened when the notification is clicked.
	ClickAction string
}

func buildMulticast(tokens []string, n NotificationData) *messaging.MulticastMessage {
	data := make(map[string]string, len(n.Data)+1)
	for k, v := range n.Data {
		data[k] = v
	}
	if n.ClickAction != "" {
		data["click_action"] = n.ClickAction
	}

	msg := &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Data: data,
		Webpush: &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: n.Title,
				Body:  n.Body,
				Icon:  "/icon-192.svg",
			},
		},
	}
	if n.ClickAction != "" {
		msg.Webpush.FCMOptions = &messaging.WebpushFCMOptions{Link: n.ClickAction}
	}
	return msg
}

// SendToDevices sends a push notification to multiple device tokens.
// It returns the tokens FCM rejected so callers can prune them.
func (c *Client) SendToDevices(ctx context.Context, tokens []string, notification NotificationData) ([]string, error) {
	var failed []string
	for start := 0; start < len(tokens); start += multicastLimit {
		end := min(start+multicastLimit, len(tokens))
		batch := tokens[start:end]

		response, err := c.messagingClient.SendEachForMulticast(ctx, buildMulticast(batch, notification))
		if err != nil {
			return failed, fmt.Errorf("failed to send FCM multicast message: %w", err)
		}

		logger.Debug("fcm multicast sent",
			zap.Int("success", response.SuccessCount),
			zap.Int("failure", response.FailureCount))

		for i, resp := range response.Responses {
			if !resp.Success {
				failed = append(failed, batch[i])
				logger.Warn("fcm delivery failed", zap.Error(resp.Error))
			}
		}
	}
	return failed, nil
}
