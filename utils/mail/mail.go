package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/joy095/gobus/clients"
	"github.com/joy095/gobus/config"
	"github.com/joy095/gobus/logger"
	"github.com/joy095/gobus/models/booking_models"
	"github.com/joy095/gobus/models/ticket_models"
	"github.com/joy095/gobus/models/trip_models"
	gomail "gopkg.in/gomail.v2"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	confirmedTemplate = "booking_confirmed.html"
	closedTemplate    = "booking_closed.html"
	defaultQueueSize  = 256
)

// ErrQueueFull is returned when the outbox cannot take another message.
var ErrQueueFull = errors.New("mail queue is full")

// Sender delivers messages. *gomail.Dialer satisfies it.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Notifier e-mails booking outcomes. Messages are queued and delivered by
// the worker started with Start, so SMTP latency never holds up a booking.
type Notifier struct {
	sender    Sender
	from      string
	queue     chan *gomail.Message
	templates *template.Template
}

// NewNotifier dials the configured SMTP server. Without SMTP_HOST messages
// are only logged.
func NewNotifier(s config.Settings) *Notifier {
	var sender Sender
	if s.SMTPHost != "" {
		dialer := gomail.NewDialer(s.SMTPHost, s.SMTPPort, s.SMTPUsername, s.SMTPPassword)
		dialer.TLSConfig = &tls.Config{
			InsecureSkipVerify: false,
			ServerName:         s.SMTPHost,
		}
		sender = dialer
	} else {
		logger.WarnLogger.Warn("SMTP_HOST not set; booking e-mails will be logged, not sent")
	}
	return newNotifier(sender, s.FromEmail, defaultQueueSize)
}

func newNotifier(sender Sender, from string, size int) *Notifier {
	return &Notifier{
		sender:    sender,
		from:      from,
		queue:     make(chan *gomail.Message, size),
		templates: template.Must(template.ParseFS(templateFS, "templates/*.html")),
	}
}

// Start delivers queued messages until ctx is done.
func (n *Notifier) Start(ctx context.Context) {
	logger.InfoLogger.Info("Mail worker started")
	for {
		select {
		case <-ctx.Done():
			logger.InfoLogger.Infof("Mail worker stopping with %d messages queued", len(n.queue))
			return
		case m := <-n.queue:
			n.deliver(m)
		}
	}
}

func (n *Notifier) deliver(m *gomail.Message) {
	to := strings.Join(m.GetHeader("To"), ", ")
	if n.sender == nil {
		logger.InfoLogger.Infof("Mail to %s not sent (no SMTP): %v", to, m.GetHeader("Subject"))
		return
	}
	if err := n.sender.DialAndSend(m); err != nil {
		logger.ErrorLogger.Errorf("Failed to send email to %s: %v", to, err)
		return
	}
	logger.InfoLogger.Infof("Successfully sent email to %s", to)
}

func (n *Notifier) enqueue(m *gomail.Message) error {
	select {
	case n.queue <- m:
		return nil
	default:
		return ErrQueueFull
	}
}

func (n *Notifier) message(to, subject, templateName string, data interface{}) (*gomail.Message, error) {
	var body bytes.Buffer
	if err := n.templates.ExecuteTemplate(&body, templateName, data); err != nil {
		logger.ErrorLogger.Errorf("Failed to execute email template %s: %v", templateName, err)
		return nil, fmt.Errorf("failed to execute email template: %w", err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body.String())
	return m, nil
}

// BookingConfirmed queues the ticket e-mail with the PDF e-ticket attached.
func (n *Notifier) BookingConfirmed(ctx context.Context, attempt *booking_models.BookingAttempt, trip *trip_models.Trip, ticket *ticket_models.Ticket) error {
	if attempt.Contact.Email == "" {
		return nil
	}
	p := ticket.Payload
	m, err := n.message(attempt.Contact.Email, fmt.Sprintf("Your GoBus ticket: %s to %s", p.Origin, p.Destination), confirmedTemplate, map[string]string{
		"Name":        attempt.Contact.Name,
		"BookingID":   attempt.ID.String(),
		"Origin":      p.Origin,
		"Destination": p.Destination,
		"Departure":   p.DepartureAt.Format("Mon 02 Jan 2006 15:04 MST"),
		"Bus":         fmt.Sprintf("%s (%s)", trip.BusName, trip.BusNumber),
		"Seats":       strings.Join(p.Seats, ", "),
		"Amount":      fmt.Sprintf("%s %d.%02d", p.Currency, p.TotalAmount/100, p.TotalAmount%100),
	})
	if err != nil {
		return err
	}

	doc, err := clients.RenderTicketPDF(ticket)
	if err != nil {
		return err
	}
	m.Attach("gobus-ticket-"+p.TicketID.String()+".pdf", gomail.SetCopyFunc(func(w io.Writer) error {
		_, err := w.Write(doc)
		return err
	}))
	return n.enqueue(m)
}

// BookingClosed queues a notice that the booking ended without a ticket.
func (n *Notifier) BookingClosed(ctx context.Context, attempt *booking_models.BookingAttempt) error {
	if attempt.Contact.Email == "" {
		return nil
	}
	m, err := n.message(attempt.Contact.Email, "Your GoBus booking was not completed", closedTemplate, map[string]string{
		"Name":      attempt.Contact.Name,
		"BookingID": attempt.ID.String(),
		"Seats":     strings.Join(attempt.SeatIDs, ", "),
		"Status":    string(attempt.Status),
		"Reason":    strings.ReplaceAll(attempt.Reason, "_", " "),
	})
	if err != nil {
		return err
	}
	return n.enqueue(m)
}
