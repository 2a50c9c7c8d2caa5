package models

import "errors"

// ErrPositionNotFound is the broker no longer knows the deal (400/404 on lookup).
var ErrPositionNotFound = errors.New("position not found")

// Deal statuses returned by a confirmation.
const (
	DealAccepted = "ACCEPTED"
	DealRejected = "REJECTED"
)

// OpenRequest: market order with a guaranteed stop.
type OpenRequest struct {
	Epic          string
	Direction     Side
	Size          float64
	StopDistance  float64
	LimitDistance float64
}

type Confirmation struct {
	DealReference string
	DealID        string
	Status        string
	Reason        string
	Level         float64
}

func (c Confirmation) Accepted() bool { return c.Status == DealAccepted }

type Position struct {
	DealID    string
	Epic      string
	Direction Side
	Size      float64
	OpenLevel float64
}

type CloseRequest struct {
	DealID    string
	Direction Side
	Size      float64
}
