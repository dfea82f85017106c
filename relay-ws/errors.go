package relayws

import "errors"

// Client-facing errors. Their text is sent verbatim in "error" replies.
var (
	ErrInvalidFormat        = errors.New("invalid message format")
	ErrUnknownType          = errors.New("unknown message type")
	ErrMissingFields        = errors.New("missing required fields")
	ErrInvalidCredential    = errors.New("invalid credential")
	ErrReadOnly             = errors.New("job updates are not supported in read-only mode")
	ErrAlreadyAuthenticated = errors.New("connection already authenticated")
)

var (
	ErrDuplicateConnection = errors.New("duplicate connection id")
	ErrConnectionNotFound  = errors.New("connection not found")
	ErrSendFailed          = errors.New("send failed")
)

var replyErrors = []struct {
	err  error
	kind string
}{
	{ErrInvalidFormat, "invalid_format"},
	{ErrUnknownType, "unknown_type"},
	{ErrMissingFields, "missing_fields"},
	{ErrInvalidCredential, "invalid_credential"},
	{ErrReadOnly, "read_only"},
	{ErrAlreadyAuthenticated, "already_authenticated"},
}

// replyText maps err onto the text sent to the client. Anything not in the
// client-facing set is reported generically.
func replyText(err error) string {
	for _, re := range replyErrors {
		if errors.Is(err, re.err) {
			return re.err.Error()
		}
	}
	return "internal error"
}

func errorKind(err error) string {
	for _, re := range replyErrors {
		if errors.Is(err, re.err) {
			return re.kind
		}
	}
	return "internal"
}
