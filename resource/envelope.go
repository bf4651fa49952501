package resource

import (
	"encoding/json"
	"net/http"
)

// Envelope is the body of every response. Message is always present; reads
// carry Rows, writes carry AffectedCount and, for inserts, LastInsertID.
type Envelope struct {
	Message       string
	Rows          []map[string]any
	AffectedCount *int64
	LastInsertID  any
	// Extra holds endpoint-specific top-level members such as "token".
	Extra map[string]any
}

// Response pairs an envelope with its HTTP status.
type Response struct {
	Status int
	Body   Envelope
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.Extra)+4)
	for k, v := range e.Extra {
		m[k] = v
	}
	m["message"] = e.Message
	if e.Rows != nil {
		m["rows"] = e.Rows
	}
	if e.AffectedCount != nil {
		m["affectedCount"] = *e.AffectedCount
	}
	if e.LastInsertID != nil {
		m["lastInsertId"] = e.LastInsertID
	}
	return json.Marshal(m)
}

// Message builds a body holding only a message, as used for errors.
func Message(msg string) Envelope { return Envelope{Message: msg} }

func rowsResponse(rows []map[string]any) *Response {
	if rows == nil {
		rows = []map[string]any{}
	}
	return &Response{Status: http.StatusOK, Body: Envelope{Message: "success", Rows: rows}}
}

func writeResponse(status int, affected int64, id any) *Response {
	return &Response{Status: status, Body: Envelope{
		Message:       "success",
		AffectedCount: &affected,
		LastInsertID:  id,
	}}
}
