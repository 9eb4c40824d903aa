package model

import "encoding/json"

// EventType discriminates RefreshEvent variants.
type EventType string

// Refresh event variants. A stream is start, one success/error per account, done.
const (
	EventStart   EventType = "start"
	EventSuccess EventType = "success"
	EventError   EventType = "error"
	EventDone    EventType = "done"
)

// AccountError is a per-account refresh failure.
type AccountError struct {
	Login   string `json:"login"`
	Message string `json:"message"`
}

// RefreshEvent describes refresh progress. Only the fields of the
// variant named by Type are meaningful.
type RefreshEvent struct {
	Type      EventType      `json:"type"`
	Total     int            `json:"total,omitempty"`
	Login     string         `json:"login,omitempty"`
	Index     int            `json:"index"`
	ItemCount int            `json:"itemCount,omitempty"`
	Message   string         `json:"message,omitempty"`
	Errors    []AccountError `json:"errors,omitempty"`
}

// StartEvent opens a refresh stream over total accounts.
func StartEvent(total int) RefreshEvent {
	return RefreshEvent{Type: EventStart, Total: total}
}

// SuccessEvent reports a refreshed account.
func SuccessEvent(login string, index, itemCount int) RefreshEvent {
	return RefreshEvent{Type: EventSuccess, Login: login, Index: index, ItemCount: itemCount}
}

// ErrorEvent reports a failed account.
func ErrorEvent(login string, index int, message string) RefreshEvent {
	return RefreshEvent{Type: EventError, Login: login, Index: index, Message: message}
}

// DoneEvent terminates a refresh stream. errors is never nil so it
// serializes as an empty list.
func DoneEvent(errors []AccountError) RefreshEvent {
	if errors == nil {
		errors = []AccountError{}
	}
	return RefreshEvent{Type: EventDone, Errors: errors}
}

// IsItemResult reports whether the event is a per-account outcome.
func (e RefreshEvent) IsItemResult() bool {
	return e.Type == EventSuccess || e.Type == EventError
}

// MarshalJSON writes only the fields of the event's variant.
func (e RefreshEvent) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventStart:
		return json.Marshal(struct {
			Type  EventType `json:"type"`
			Total int       `json:"total"`
		}{e.Type, e.Total})
	case EventSuccess:
		return json.Marshal(struct {
			Type      EventType `json:"type"`
			Login     string    `json:"login"`
			Index     int       `json:"index"`
			ItemCount int       `json:"itemCount"`
		}{e.Type, e.Login, e.Index, e.ItemCount})
	case EventError:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Login   string    `json:"login"`
			Index   int       `json:"index"`
			Message string    `json:"message"`
		}{e.Type, e.Login, e.Index, e.Message})
	default:
		errs := e.Errors
		if errs == nil {
			errs = []AccountError{}
		}
		return json.Marshal(struct {
			Type   EventType      `json:"type"`
			Errors []AccountError `json:"errors"`
		}{e.Type, errs})
	}
}
