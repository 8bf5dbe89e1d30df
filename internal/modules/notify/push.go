// README: FCM push sender; one message per device token with high Android priority.
package notify

import (
	"context"
	"errors"
	"fmt"

	"firebase.google.com/go/v4/messaging"
)

// ErrTokenGone marks a token FCM no longer accepts.
var ErrTokenGone = errors.New("device token unregistered")

// FCMClient is the subset of *messaging.Client used here.
type FCMClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

type FCMPusher struct {
	client FCMClient
}

func NewFCMPusher(client FCMClient) *FCMPusher {
	return &FCMPusher{client: client}
}

func (p *FCMPusher) Push(ctx context.Context, token, title, body string, data map[string]string) (string, error) {
	if token == "" {
		return "", ErrBadRequest
	}
	msg := &messaging.Message{
		Token: token,
		Data:  data,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
	id, err := p.client.Send(ctx, msg)
	if err != nil {
		if messaging.IsUnregistered(err) || messaging.IsInvalidArgument(err) {
			return "", fmt.Errorf("%w: %v", ErrTokenGone, err)
		}
		return "", fmt.Errorf("sending FCM message: %w", err)
	}
	return id, nil
}
