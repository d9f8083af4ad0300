package booking_controller

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joy095/gobus/clients"
	"github.com/joy095/gobus/logger"
	"github.com/joy095/gobus/models/booking_models"
	"github.com/joy095/gobus/models/seat_models"
	"github.com/joy095/gobus/models/shared_models"
	"github.com/joy095/gobus/services/booking"
	"github.com/joy095/gobus/services/payments"
	"github.com/joy095/gobus/utils"
	"github.com/microcosm-cc/bluemonday"
)

const maxWebhookBody = 1 << 20

// BookingController exposes the booking orchestrator over HTTP.
type BookingController struct {
	Service   *booking.Orchestrator
	sanitizer *bluemonday.Policy
}

// NewBookingController creates a new instance of BookingController.
func NewBookingController(service *booking.Orchestrator) *BookingController {
	return &BookingController{
		Service:   service,
		sanitizer: bluemonday.StrictPolicy(),
	}
}

type ContactRequest struct {
	Name  string `json:"name" binding:"omitempty,max=100"`
	Email string `json:"email" binding:"omitempty,email,max=254"`
	Phone string `json:"phone" binding:"omitempty,max=20"`
}

type CreateBookingRequest struct {
	AttemptID string         `json:"attempt_id" binding:"required,uuid"`
	TripID    string         `json:"trip_id" binding:"required,uuid"`
	SeatIDs   []string       `json:"seat_ids" binding:"required,min=1"`
	Contact   ContactRequest `json:"contact"`
}

type ValidateTicketRequest struct {
	Token string `json:"token" binding:"required"`
}

// SeatMapResponse is the trip plus the live state of each seat.
type SeatMapResponse struct {
	TripID      uuid.UUID   `json:"trip_id"`
	Origin      string      `json:"origin"`
	Destination string      `json:"destination"`
	BusName     string      `json:"bus_name"`
	Currency    string      `json:"currency"`
	Seats       []SeatState `json:"seats"`
}

type SeatState struct {
	SeatID string            `json:"seat_id"`
	Row    int               `json:"row"`
	Column string            `json:"column"`
	Fare   int64             `json:"fare"`
	State  seat_models.State `json:"state"`
}

func (bc *BookingController) clean(s string) string {
	return strings.TrimSpace(bc.sanitizer.Sanitize(s))
}

func bookingID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("booking_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_booking_id", "error": "booking_id must be a UUID"})
		return uuid.Nil, false
	}
	return id, true
}

func caller(c *gin.Context) (shared_models.Caller, bool) {
	caller, err := utils.GetCallerFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "error": err.Error()})
		return shared_models.Caller{}, false
	}
	return caller, true
}

// CreateBooking records a booking attempt and holds its seats. The attempt id
// is the client's idempotency key: a replay returns 200 with the stored attempt.
func (bc *BookingController) CreateBooking(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}

	var req CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.WarnLogger.Warnf("Invalid booking request from %s: %v", who.PassengerID, err)
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_request", "error": err.Error()})
		return
	}

	attempt, created, err := bc.Service.RequestBooking(c.Request.Context(), who, booking.Request{
		AttemptID: uuid.MustParse(req.AttemptID),
		TripID:    uuid.MustParse(req.TripID),
		SeatIDs:   req.SeatIDs,
		Contact: booking_models.Contact{
			Name:  bc.clean(req.Contact.Name),
			Email: bc.clean(req.Contact.Email),
			Phone: bc.clean(req.Contact.Phone),
		},
	})
	if err != nil {
		respondError(c, err, attempt)
		return
	}
	if !created {
		c.JSON(http.StatusOK, attempt)
		return
	}
	c.JSON(http.StatusCreated, attempt)
}

// ListBookings returns the caller's recent attempts.
func (bc *BookingController) ListBookings(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	attempts, err := bc.Service.ListBookings(c.Request.Context(), who, limit)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	if attempts == nil {
		attempts = []*booking_models.BookingAttempt{}
	}
	c.JSON(http.StatusOK, gin.H{"bookings": attempts})
}

func (bc *BookingController) GetBooking(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	id, ok := bookingID(c)
	if !ok {
		return
	}
	attempt, err := bc.Service.GetBooking(c.Request.Context(), who, id)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, attempt)
}

// InitiatePayment opens a provider order and returns what the checkout
// widget needs.
func (bc *BookingController) InitiatePayment(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	id, ok := bookingID(c)
	if !ok {
		return
	}
	checkout, err := bc.Service.InitiatePayment(c.Request.Context(), who, id)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, checkout)
}

// VerifyPayment applies the checkout callback the client received.
func (bc *BookingController) VerifyPayment(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	id, ok := bookingID(c)
	if !ok {
		return
	}
	var cb payments.CheckoutCallback
	if err := c.ShouldBindJSON(&cb); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_request", "error": err.Error()})
		return
	}
	if cb.OrderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_request", "error": "razorpay_order_id is required"})
		return
	}

	attempt, err := bc.Service.VerifyPayment(c.Request.Context(), who, id, cb)
	if err != nil {
		respondError(c, err, attempt)
		return
	}
	c.JSON(http.StatusOK, attempt)
}

// ExtendHold gives the passenger more time at checkout.
func (bc *BookingController) ExtendHold(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	id, ok := bookingID(c)
	if !ok {
		return
	}
	attempt, err := bc.Service.ExtendHold(c.Request.Context(), who, id)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, attempt)
}

func (bc *BookingController) CancelBooking(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	id, ok := bookingID(c)
	if !ok {
		return
	}
	attempt, err := bc.Service.Cancel(c.Request.Context(), who, id)
	if err != nil {
		respondError(c, err, attempt)
		return
	}
	c.JSON(http.StatusOK, attempt)
}

// GetTicket serves the ticket as JSON, a PDF (?format=pdf) or a QR PNG
// (?format=qr).
func (bc *BookingController) GetTicket(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	id, ok := bookingID(c)
	if !ok {
		return
	}
	ticket, err := bc.Service.GetTicket(c.Request.Context(), who, id)
	if err != nil {
		respondError(c, err, nil)
		return
	}

	switch c.DefaultQuery("format", "json") {
	case "pdf":
		doc, err := clients.RenderTicketPDF(ticket)
		if err != nil {
			respondError(c, err, nil)
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="gobus-ticket-%s.pdf"`, ticket.ID))
		c.Data(http.StatusOK, "application/pdf", doc)
	case "qr":
		png, err := clients.RenderTicketQR(ticket)
		if err != nil {
			respondError(c, err, nil)
			return
		}
		c.Data(http.StatusOK, "image/png", png)
	case "json":
		c.JSON(http.StatusOK, ticket)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_request", "error": "format must be json, pdf or qr"})
	}
}

// ValidateTicket marks a scanned ticket as used. Operators and admins only.
func (bc *BookingController) ValidateTicket(c *gin.Context) {
	who, ok := caller(c)
	if !ok {
		return
	}
	var req ValidateTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_request", "error": err.Error()})
		return
	}
	ticket, err := bc.Service.ValidateTicket(c.Request.Context(), who, strings.TrimSpace(req.Token))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

// SeatMap is public; expired holds show as available.
func (bc *BookingController) SeatMap(c *gin.Context) {
	tripID, err := uuid.Parse(c.Param("trip_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_trip_id", "error": "trip_id must be a UUID"})
		return
	}
	trip, seats, err := bc.Service.SeatMap(c.Request.Context(), tripID)
	if err != nil {
		respondError(c, err, nil)
		return
	}

	state := make(map[string]seat_models.State, len(seats))
	for _, s := range seats {
		state[s.SeatID] = s.State
	}
	resp := SeatMapResponse{
		TripID:      trip.ID,
		Origin:      trip.Origin,
		Destination: trip.Destination,
		BusName:     trip.BusName,
		Currency:    trip.Currency,
		Seats:       make([]SeatState, 0, len(trip.Seats)),
	}
	for _, l := range trip.Seats {
		st, ok := state[l.SeatID]
		if !ok {
			st = seat_models.StateAvailable
		}
		resp.Seats = append(resp.Seats, SeatState{SeatID: l.SeatID, Row: l.Row, Column: l.Column, Fare: l.Fare, State: st})
	}
	c.JSON(http.StatusOK, resp)
}

// RazorpayWebhook receives provider notifications. The signature is checked
// against the raw body, so the body must not be re-encoded before that.
func (bc *BookingController) RazorpayWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_request", "error": "failed to read body"})
		return
	}
	signature := c.GetHeader("X-Razorpay-Signature")
	if signature == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"code": "invalid_signature", "error": "missing signature"})
		return
	}

	attempt, err := bc.Service.HandleWebhook(c.Request.Context(), body, signature)
	if err != nil {
		// Razorpay retries anything but 2xx; a booking that can no longer
		// be confirmed is still a delivered webhook.
		if errors.Is(err, shared_models.ErrHoldExpired) || errors.Is(err, shared_models.ErrInvalidTransition) {
			logger.WarnLogger.Warnf("Webhook handled without confirming: %v", err)
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		respondError(c, err, nil)
		return
	}
	resp := gin.H{"status": "ok"}
	if attempt != nil {
		resp["booking_id"] = attempt.ID
		resp["booking_status"] = attempt.Status
	}
	c.JSON(http.StatusOK, resp)
}
