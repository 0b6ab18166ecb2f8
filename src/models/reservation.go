package models

import (
	"bytes"
	"encoding/json"
	"time"
)

type ReservationStatus string

const (
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationConflict  ReservationStatus = "already_in_queue"
)

// -----------------------------------------------------------------------------
// Booking submit (REST)
// -----------------------------------------------------------------------------

type MBookingRequest struct {
	BusinessID string   `json:"-"`
	QueueID    string   `json:"queue_id"`
	Date       string   `json:"date"`
	ServiceIDs []string `json:"service_ids"`
}

// MBookingResult is the raw submit response. A 200 body may be either a
// confirmed booking or an already-in-queue notice.
type MBookingResult struct {
	ID             string      `json:"id"`
	AlreadyInQueue bool        `json:"already_in_queue"`
	TokenNumber    TokenNumber `json:"token_number"`
	QueueID        string      `json:"queue_id"`
	QueueName      string      `json:"queue_name"`
	Position       int         `json:"position"`
	WaitMinutes    int         `json:"estimated_wait_minutes"`
	EstimatedTime  string      `json:"estimated_time"`
	Status         string      `json:"status"`
	Message        string      `json:"message,omitempty"`
}

// TokenNumber is the ticket label printed for the customer. Backends send it
// either as a string ("A-012") or as a bare number (12).
type TokenNumber string

func (t *TokenNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = TokenNumber(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*t = TokenNumber(n.String())
	return nil
}

// -----------------------------------------------------------------------------
// Reservation: terminal outcome of one attempt
// -----------------------------------------------------------------------------

type MReservation struct {
	ID            string            `json:"id"`
	BookingID     string            `json:"booking_id,omitempty"`
	BusinessID    string            `json:"business_id"`
	QueueID       string            `json:"queue_id"`
	QueueName     string            `json:"queue_name,omitempty"`
	Date          string            `json:"date"`
	ServiceIDs    []string          `json:"service_ids"`
	TokenNumber   string            `json:"token_number,omitempty"`
	Position      int               `json:"position"`
	WaitMinutes   int               `json:"wait_minutes"`
	EstimatedTime string            `json:"estimated_time,omitempty"`
	Status        ReservationStatus `json:"status"`
	Conflict      bool              `json:"conflict"`
	Message       string            `json:"message,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}
