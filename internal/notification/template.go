package notification

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"
)

// StatusEmail is the data rendered into a flight status update email.
type StatusEmail struct {
	FlightID       string
	FlightNumber   string
	Route          string
	BookingID      string
	DepartureTime  time.Time
	ArrivalTime    time.Time
	PreviousStatus string
	NewStatus      string
	Message        string
	DelayMinutes   int
	Gate           string
	UpdatedBy      string
	UpdatedAt      time.Time
}

// Subject returns the email subject line.
func (e StatusEmail) Subject() string {
	return fmt.Sprintf("Flight Status Update - %s | %s", e.FlightNumber, e.NewStatus)
}

var statusColors = map[string]string{
	"scheduled": "#4CAF50",
	"boarding":  "#2196F3",
	"delayed":   "#FF9800",
	"in flight": "#9C27B0",
	"arrived":   "#607D8B",
	"cancelled": "#F44336",
}

func statusColor(s string) string {
	if c, ok := statusColors[strings.ToLower(s)]; ok {
		return c
	}
	return "#666"
}

const statusEmailHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>Flight Status Update - {{.FlightNumber}}</title>
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; margin: 0; padding: 0;">
  <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
    <div style="text-align: center; margin-bottom: 30px;">
      <h1 style="color: #1a73e8; margin-bottom: 10px;">Flight Status Update</h1>
      <p style="font-size: 18px; color: {{color .NewStatus}}; margin-top: 0; font-weight: bold;">{{.FlightNumber}} - {{.NewStatus}}</p>
    </div>

    <div style="background-color: #fff3cd; border: 1px solid #ffeaa7; border-radius: 8px; padding: 20px; margin-bottom: 20px;">
      <h2 style="color: #856404; margin-bottom: 15px; font-size: 20px;">Important Update</h2>
      <p style="margin: 5px 0; color: #856404; font-size: 16px; font-weight: bold;">{{.Message}}</p>
      <p style="margin: 5px 0; color: #856404; font-size: 14px;"><strong>Updated:</strong> {{long .UpdatedAt}} by {{.UpdatedBy}}</p>
    </div>

    <div style="background-color: #f8f9fa; padding: 20px; border-radius: 8px; margin-bottom: 20px;">
      <h2 style="color: #1a73e8; margin-bottom: 15px; font-size: 20px;">Flight Details</h2>
      <p style="margin: 5px 0;"><strong>Flight:</strong> {{.FlightNumber}}</p>
      <p style="margin: 5px 0;"><strong>Route:</strong> {{.Route}}</p>
      <p style="margin: 5px 0;"><strong>Booking Reference:</strong> {{.BookingID}}</p>
    </div>

    <div style="background-color: #f8f9fa; padding: 20px; border-radius: 8px; margin-bottom: 20px;">
      <h2 style="color: #1a73e8; margin-bottom: 15px; font-size: 20px;">Status Change Details</h2>
      {{- if .PreviousStatus}}
      <p style="margin: 5px 0;"><strong>Previous Status:</strong> <span style="color: #666;">{{.PreviousStatus}}</span></p>
      {{- end}}
      <p style="margin: 5px 0;"><strong>New Status:</strong> <span style="color: {{color .NewStatus}}; font-weight: bold;">{{.NewStatus}}</span></p>
      {{- if gt .DelayMinutes 0}}
      <p style="margin: 5px 0;"><strong>Delay:</strong> <span style="color: #FF9800; font-weight: bold;">+{{.DelayMinutes}} minutes</span></p>
      {{- end}}
      {{- if .Gate}}
      <p style="margin: 5px 0;"><strong>Gate:</strong> <span style="color: #2196F3; font-weight: bold;">{{.Gate}}</span></p>
      {{- end}}
    </div>

    <div style="background-color: #f8f9fa; padding: 20px; border-radius: 8px; margin-bottom: 20px;">
      <h2 style="color: #1a73e8; margin-bottom: 15px; font-size: 20px;">Schedule Information</h2>
      <p style="margin: 5px 0;"><strong>Departure:</strong> {{short .DepartureTime}}</p>
      <p style="margin: 5px 0;"><strong>Arrival:</strong> {{short .ArrivalTime}}</p>
      {{- if gt .DelayMinutes 0}}
      <p style="margin: 15px 0 5px 0; color: #FF9800;"><strong>Updated Times:</strong></p>
      <p style="margin: 5px 0; color: #FF9800;"><strong>New Departure:</strong> {{short (delayed .DepartureTime .DelayMinutes)}}</p>
      <p style="margin: 5px 0; color: #FF9800;"><strong>New Arrival:</strong> {{short (delayed .ArrivalTime .DelayMinutes)}}</p>
      {{- end}}
    </div>

    <div style="background-color: #e3f2fd; padding: 20px; border-radius: 8px; margin-bottom: 20px; border-left: 4px solid #2196f3;">
      <h2 style="color: #1976d2; margin-bottom: 15px; font-size: 20px;">Continue Tracking Your Flight</h2>
      <p style="margin: 5px 0; color: #1565c0;">Stay updated with real-time changes using your Flight Tracking ID:</p>
      <div style="background-color: white; padding: 12px; border-radius: 4px; border: 2px dashed #2196f3; margin: 10px 0;">
        <code style="font-size: 14px; font-weight: bold; color: #1976d2;">{{.FlightID}}</code>
      </div>
    </div>

    <div style="text-align: center; margin-top: 30px; color: #666;">
      <p style="margin-top: 20px; font-size: 12px; color: #999;">This is an automated message, please do not reply to this email.</p>
    </div>
  </div>
</body>
</html>
`

// Renderer turns status changes into email bodies, formatting times in a
// fixed location.
type Renderer struct {
	tmpl *template.Template
	loc  *time.Location
}

// NewRenderer parses the status email template for the given IANA timezone.
func NewRenderer(timezone string) (*Renderer, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid email timezone %q: %w", timezone, err)
	}

	funcs := template.FuncMap{
		"color": statusColor,
		"short": func(t time.Time) string { return t.In(loc).Format("2 Jan 2006, 3:04 pm") },
		"long":  func(t time.Time) string { return t.In(loc).Format("Monday, 2 January 2006 at 3:04 pm MST") },
		"delayed": func(t time.Time, minutes int) time.Time {
			return t.Add(time.Duration(minutes) * time.Minute)
		},
	}
	tmpl, err := template.New("status_email").Funcs(funcs).Parse(statusEmailHTML)
	if err != nil {
		return nil, fmt.Errorf("failed to parse status email template: %w", err)
	}
	return &Renderer{tmpl: tmpl, loc: loc}, nil
}

// Render builds the email for one recipient.
func (r *Renderer) Render(to string, data StatusEmail) (Email, error) {
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return Email{}, fmt.Errorf("failed to render status email: %w", err)
	}
	return Email{To: to, Subject: data.Subject(), HTML: buf.String()}, nil
}
