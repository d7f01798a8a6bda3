package pipeline

import "net/http"

// Fault is a request-level failure with the collector status code the
// client sees. Faults are sentinel values: compare with errors.Is.
type Fault struct {
	// Code is the collector status code carried in the response body.
	Code int

	// Text is the canonical status text.
	Text string

	// Status is the HTTP status code the fault maps to.
	Status int
}

func (f *Fault) Error() string { return f.Text }

// The collector status codes.
var (
	FaultTokenMissing    = &Fault{Code: 2, Text: "Token is required", Status: http.StatusUnauthorized}
	FaultNoData          = &Fault{Code: 5, Text: "No data", Status: http.StatusBadRequest}
	FaultInvalidFormat   = &Fault{Code: 6, Text: "Invalid data format", Status: http.StatusBadRequest}
	FaultInternal        = &Fault{Code: 8, Text: "Internal server error", Status: http.StatusInternalServerError}
	FaultBusy            = &Fault{Code: 9, Text: "Server is busy", Status: http.StatusServiceUnavailable}
	FaultChannelMissing  = &Fault{Code: 10, Text: "Data channel is missing", Status: http.StatusBadRequest}
	FaultEventRequired   = &Fault{Code: 12, Text: "Event field is required", Status: http.StatusBadRequest}
	FaultEventBlank      = &Fault{Code: 13, Text: "Event field cannot be blank", Status: http.StatusBadRequest}
	FaultSessionNotFound = &Fault{Code: 11, Text: "Session not found", Status: http.StatusNotFound}
	FaultChannelNotFound = &Fault{Code: 11, Text: "Channel not found", Status: http.StatusNotFound}
)
