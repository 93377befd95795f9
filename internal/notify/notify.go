// Package notify delivers user notifications for pool and booking events.
package notify

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"

	"github.com/shiva/unipool/internal/model"
)

// Sender is the part of *messaging.Client the notifier calls.
type Sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMNotifier sends a push message to the topic every device of a user
// subscribes to on sign-in.
type FCMNotifier struct {
	sender Sender
	log    *zap.Logger
}

// NewFCMNotifier creates a notifier on a Firebase messaging client.
func NewFCMNotifier(sender Sender, log *zap.Logger) *FCMNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &FCMNotifier{sender: sender, log: log}
}

// UserTopic is the FCM topic for a user's devices.
func UserTopic(userID string) string {
	return "user_" + userID
}

// Notify sends payload to userID's devices.
func (n *FCMNotifier) Notify(ctx context.Context, userID string, event model.EventType, payload map[string]string) error {
	data := make(map[string]string, len(payload)+1)
	for k, v := range payload {
		data[k] = v
	}
	data["type"] = string(event)

	msg := &messaging.Message{
		Topic: UserTopic(userID),
		Data:  data,
		Notification: &messaging.Notification{
			Title: Title(event),
			Body:  payload["message"],
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}

	id, err := n.sender.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("sending FCM to %s: %w", msg.Topic, err)
	}

	n.log.Debug("FCM sent",
		zap.String("user", userID),
		zap.String("type", string(event)),
		zap.String("message_id", id))
	return nil
}

// LogNotifier writes notifications to the log. It stands in for push
// delivery when Firebase is not configured.
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier creates a logging notifier.
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, userID string, event model.EventType, payload map[string]string) error {
	n.log.Info("notification",
		zap.String("user", userID),
		zap.String("type", string(event)),
		zap.String("message", payload["message"]))
	return nil
}

var titles = map[model.EventType]string{
	model.EventPoolJoined:       "New pool member",
	model.EventPoolLeft:         "Pool member left",
	model.EventPoolReady:        "Pool ready",
	model.EventPoolAccepted:     "Driver assigned",
	model.EventPoolPickup:       "Rider picked up",
	model.EventPoolDropoff:      "Rider dropped off",
	model.EventPoolCompleted:    "Ride completed",
	model.EventPoolCancelled:    "Pool cancelled",
	model.EventPoolExpired:      "Pool expired",
	model.EventBookingCreated:   "New ride request",
	model.EventBookingAccepted:  "Ride accepted",
	model.EventBookingRejected:  "Ride declined",
	model.EventBookingStarted:   "Ride started",
	model.EventBookingCompleted: "Ride completed",
	model.EventBookingCancelled: "Ride cancelled",
	model.EventBookingRated:     "New rating",
}

// Title returns the push title shown for event.
func Title(event model.EventType) string {
	if t, ok := titles[event]; ok {
		return t
	}
	return "UniPool"
}
