// Command flightwatch follows a flight's live status from the terminal and
// can post operator updates.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"flight-status-backend/pkg/statusclient"
)

func main() {
	logger := log.New(os.Stderr, "flightwatch ", log.LstdFlags)
	if err := run(os.Args[1:], logger); err != nil {
		logger.Fatal(err)
	}
}

func run(args []string, logger *log.Logger) error {
	fs := pflag.NewFlagSet("flightwatch", pflag.ContinueOnError)
	server := fs.StringP("server", "s", "http://localhost:8080", "base URL of the flight status API")
	token := fs.StringP("token", "t", os.Getenv("FLIGHTWATCH_TOKEN"), "access token (default $FLIGHTWATCH_TOKEN)")
	flightID := fs.StringP("flight", "f", "", "flight id to watch")
	bookingID := fs.StringP("booking", "b", "", "booking id to watch (ignored when --flight is set)")
	setStatus := fs.String("set-status", "", "post an update with this status before watching")
	delay := fs.Int("delay", -1, "delay in minutes for --set-status")
	gate := fs.String("gate", "", "gate for --set-status")
	message := fs.String("message", "", "message for --set-status")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *token == "" {
		return errors.New("an access token is required (--token or FLIGHTWATCH_TOKEN)")
	}
	if *flightID == "" && *bookingID == "" {
		return errors.New("one of --flight or --booking is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sub := statusclient.New(*server, statusclient.Options{})
	defer sub.Close()
	sub.SetIdentity(*token)
	sub.SetTarget(statusclient.Target{FlightID: *flightID, BookingID: *bookingID})

	if *setStatus != "" {
		d := statusclient.Delta{Status: setStatus}
		if *delay >= 0 {
			d.Delay = delay
		}
		if *gate != "" {
			d.Gate = gate
		}
		if *message != "" {
			d.Message = message
		}
		updateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		res, err := sub.UpdateFlightStatus(updateCtx, d)
		cancel()
		if err != nil {
			return fmt.Errorf("update failed: %w", err)
		}
		logger.Printf("update saved as %s, %d passenger emails attempted", res.Saved.ID, res.EmailsSent)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-sub.Updates():
			if !ok {
				return nil
			}
			printSnapshot(snap)
		}
	}
}

func printSnapshot(snap statusclient.Snapshot) {
	state := "disconnected"
	if snap.Connected {
		state = "connected"
	}
	if snap.Err != nil {
		fmt.Printf("[%s] %s: %v\n", time.Now().Format(time.TimeOnly), state, snap.Err)
	}
	if snap.Status == nil {
		return
	}
	st := snap.Status
	line := fmt.Sprintf("[%s] %s %-10s %s", time.Now().Format(time.TimeOnly), state, st.Status, st.Message)
	if st.Delay > 0 {
		line += fmt.Sprintf(" (+%dm)", st.Delay)
	}
	if st.Gate != "" {
		line += " gate " + st.Gate
	}
	if !st.EstimatedDeparture.IsZero() {
		line += " dep " + st.EstimatedDeparture.Local().Format("Jan 2 15:04")
	}
	fmt.Println(line)
}
