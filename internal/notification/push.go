package notification

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"flight-status-backend/internal/model"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// SubscriptionStore is the subset of the store the push notifier needs.
type SubscriptionStore interface {
	PushSubscriptionsFor(ctx context.Context, userID string) ([]model.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, endpoint, userID string) error
}

// PushNotifier delivers browser push messages to every subscription a user owns.
type PushNotifier struct {
	subs    SubscriptionStore
	options *webpush.Options
	sender  NotificationSender
}

// NewPushNotifier creates a push notifier using the real webpush sender.
func NewPushNotifier(subs SubscriptionStore, options *webpush.Options) *PushNotifier {
	return &PushNotifier{
		subs:    subs,
		options: options,
		sender:  &WebPushSender{}, // Use the real sender by default
	}
}

// NotifyUser sends payload to each of the user's subscriptions and returns
// how many were accepted by the push service.
func (p *PushNotifier) NotifyUser(ctx context.Context, userID string, payload []byte) (int, error) {
	subscriptions, err := p.subs.PushSubscriptionsFor(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("error fetching subscriptions for user %s: %w", userID, err)
	}

	sent := 0
	for _, sub := range subscriptions {
		if p.sendNotification(ctx, sub, payload) {
			sent++
		}
	}
	return sent, nil
}

// sendNotification sends a single web push notification.
func (p *PushNotifier) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) bool {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := p.sender.Send(payload, wpSub, p.options)
	if err != nil {
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return false
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := p.subs.DeletePushSubscription(ctx, sub.Endpoint, ""); err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
		return false
	}
	return resp.StatusCode < 300
}
