// internal/model/message.go
package model

import "time"

// DateLayout renders the consumption timestamp, e.g. "2024-03-01 12:30:45.123456".
const DateLayout = "2006-01-02 15:04:05.000000"

// Record is the persisted form of a message submission. Only the relay
// consumer creates records and they are never updated once inserted.
type Record struct {
	Date     string `json:"date" bson:"date" db:"date"`
	Username string `json:"username" bson:"username" db:"username"`
	Message  string `json:"message" bson:"message" db:"message"`
}

// NewRecord stamps a record with the time it was consumed.
func NewRecord(at time.Time, username, message string) *Record {
	return &Record{
		Date:     at.Format(DateLayout),
		Username: username,
		Message:  message,
	}
}
