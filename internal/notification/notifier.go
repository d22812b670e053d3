package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"flight-status-backend/internal/model"
	"flight-status-backend/internal/store"
)

// StatusChange is a persisted status update being announced to passengers.
type StatusChange struct {
	Flight         model.Flight
	Update         model.FlightStatusUpdate
	PreviousStatus string
}

// Result summarises one notification fan-out.
type Result struct {
	// Attempted is the number of bookings an email was attempted for.
	Attempted int
	Delivered int
	Failed    int
}

// Notifier fans a status change out to every affected booking.
type Notifier struct {
	pool     *WorkerPool
	email    EmailSender
	renderer *Renderer
	push     *PushNotifier
}

// NewNotifier wires the pool and senders. push may be nil to disable browser push.
func NewNotifier(pool *WorkerPool, email EmailSender, renderer *Renderer, push *PushNotifier) *Notifier {
	return &Notifier{pool: pool, email: email, renderer: renderer, push: push}
}

type pushPayload struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	FlightID string `json:"flightId"`
	Status   string `json:"status"`
}

// NotifyPassengers emails every contact, and pushes to each distinct owner's
// browsers, waiting until all deliveries have settled. A failed delivery is
// logged and counted; it never aborts the rest.
func (n *Notifier) NotifyPassengers(ctx context.Context, change StatusChange, contacts []store.BookingContact) Result {
	if len(contacts) == 0 {
		return Result{}
	}

	tasks := make([]Task, 0, len(contacts))
	for _, c := range contacts {
		tasks = append(tasks, n.emailTask(change, c))
	}
	emailCount := len(tasks)

	if n.push != nil {
		payload, err := json.Marshal(pushPayload{
			Title:    fmt.Sprintf("%s %s", change.Flight.FlightNumber, change.Update.Status),
			Body:     change.Update.Message,
			FlightID: change.Flight.ID,
			Status:   change.Update.Status,
		})
		if err != nil {
			log.Printf("Failed to encode push payload for flight %s: %v", change.Flight.ID, err)
		} else {
			seen := make(map[string]bool)
			for _, c := range contacts {
				if c.UserID == "" || seen[c.UserID] {
					continue
				}
				seen[c.UserID] = true
				userID := c.UserID
				tasks = append(tasks, func(ctx context.Context) error {
					_, err := n.push.NotifyUser(ctx, userID, payload)
					return err
				})
			}
		}
	}

	errs := n.pool.Run(ctx, tasks)

	res := Result{Attempted: emailCount}
	for i, err := range errs {
		if i >= emailCount {
			if err != nil {
				log.Printf("Push notification for flight %s failed: %v", change.Flight.ID, err)
			}
			continue
		}
		if err != nil {
			res.Failed++
			log.Printf("Status email for booking %s failed: %v", contacts[i].BookingID, err)
			continue
		}
		res.Delivered++
	}
	log.Printf("Flight %s status emails: %d attempted, %d delivered, %d failed",
		change.Flight.ID, res.Attempted, res.Delivered, res.Failed)
	return res
}

func (n *Notifier) emailTask(change StatusChange, contact store.BookingContact) Task {
	return func(ctx context.Context) error {
		gate := ""
		if change.Update.Gate != nil {
			gate = *change.Update.Gate
		}
		email, err := n.renderer.Render(contact.Email, StatusEmail{
			FlightID:       change.Flight.ID,
			FlightNumber:   change.Flight.FlightNumber,
			Route:          change.Flight.Route(),
			BookingID:      contact.BookingID,
			DepartureTime:  change.Flight.DepartureTime,
			ArrivalTime:    change.Flight.ArrivalTime,
			PreviousStatus: change.PreviousStatus,
			NewStatus:      change.Update.Status,
			Message:        change.Update.Message,
			DelayMinutes:   change.Update.DelayMinutes,
			Gate:           gate,
			UpdatedBy:      change.Update.UpdatedBy,
			UpdatedAt:      change.Update.CreatedAt,
		})
		if err != nil {
			return err
		}
		return n.email.Send(ctx, email)
	}
}
