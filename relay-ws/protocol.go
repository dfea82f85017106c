package relayws

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type MessageType string

// inbound
const (
	MsgAuthenticate MessageType = "authenticate"
	MsgJobUpdate    MessageType = "job_update"
	MsgPing         MessageType = "ping"
)

// outbound
const (
	MsgAuthenticated    MessageType = "authenticated"
	MsgNewJob           MessageType = "new_job"
	MsgJobStatusChanged MessageType = "job_status_changed"
	MsgError            MessageType = "error"
	MsgPong             MessageType = "pong"
)

// UserID is a user identity. The backend keys users by integer, so both JSON
// strings and numbers are accepted.
type UserID string

func (u *UserID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*u = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*u = UserID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("user id must be a string or a number")
	}
	*u = UserID(n.String())
	return nil
}

// Frame is an inbound client message. Only the type is decoded up front;
// each handler decodes the rest of the payload it needs.
type Frame struct {
	Type MessageType `json:"type"`

	raw []byte
}

// ParseFrame reads the type of an inbound frame. An empty type is not an
// error here; it is routed as an unknown type.
func ParseFrame(data []byte) (*Frame, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	frame.raw = data
	return &frame, nil
}

// AuthenticatePayload is the body of an authenticate frame.
type AuthenticatePayload struct {
	UserID     UserID `json:"userId,omitempty"`
	Credential string `json:"credential,omitempty"`
	Token      string `json:"token,omitempty"`
}

// Secret returns the credential, accepting the older "token" field name.
func (p AuthenticatePayload) Secret() string {
	if p.Credential != "" {
		return p.Credential
	}
	return p.Token
}

// Authenticate decodes the frame as an authenticate payload.
func (f *Frame) Authenticate() (AuthenticatePayload, error) {
	var payload AuthenticatePayload
	if err := json.Unmarshal(f.raw, &payload); err != nil {
		return AuthenticatePayload{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return payload, nil
}

// Message is an outbound envelope.
type Message struct {
	Type      MessageType     `json:"type"`
	Message   string          `json:"message,omitempty"`
	Job       json.RawMessage `json:"job,omitempty"`
	JobID     json.RawMessage `json:"jobId,omitempty"`
	Status    string          `json:"status,omitempty"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
}

func mustMarshal(m Message) []byte {
	b, _ := json.Marshal(m)
	return b
}

// AuthenticatedMessage returns the reply to a successful authenticate.
func AuthenticatedMessage() []byte {
	return mustMarshal(Message{Type: MsgAuthenticated, Message: "Successfully authenticated"})
}

// ErrorMessage returns an "error" reply carrying text.
func ErrorMessage(text string) []byte {
	return mustMarshal(Message{Type: MsgError, Message: text})
}

// PongMessage returns the reply to an application-level ping.
func PongMessage() []byte {
	now := time.Now().UTC()
	return mustMarshal(Message{Type: MsgPong, Timestamp: &now})
}

// Notification is a server-pushed event. It only lives for one dispatch.
type Notification struct {
	Type      MessageType
	Job       json.RawMessage
	JobID     json.RawMessage
	Status    string
	Timestamp time.Time
}

func NewJobNotification(job json.RawMessage) Notification {
	return Notification{
		Type:      MsgNewJob,
		Job:       job,
		Timestamp: time.Now().UTC(),
	}
}

func JobStatusNotification(jobID json.RawMessage, status string) Notification {
	return Notification{
		Type:      MsgJobStatusChanged,
		JobID:     jobID,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
}

// Encode serializes the notification as an outbound envelope.
func (n Notification) Encode() ([]byte, error) {
	ts := n.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	b, err := json.Marshal(Message{
		Type:      n.Type,
		Job:       n.Job,
		JobID:     n.JobID,
		Status:    n.Status,
		Timestamp: &ts,
	})
	if err != nil {
		return nil, fmt.Errorf("marshalling %v notification: %w", n.Type, err)
	}
	return b, nil
}

// isBlank reports whether a raw JSON value is absent or null.
func isBlank(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}
