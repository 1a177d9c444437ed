package protocol

import (
	"errors"
	"fmt"
)

// Alert codes understood by clients.
const (
	CodeDuplicate     = "DUPLICATE"
	CodeBannedConnect = "BANNED_CONNECT"
	CodeNameReserved  = "NAME_RESERVED"
	CodeBanned        = "BANNED"
	CodeKicked        = "KICKED"
	CodeMuted         = "MUTED"
	CodeBlocked       = "BLOCKED"
	CodeNotOnline     = "NOT_ONLINE"
	CodeNotBanned     = "NOT_BANNED"
	CodeNotMember     = "NOT_MEMBER"
	CodeForbidden     = "FORBIDDEN"
	CodeInfo          = "INFO"
)

// Rejection is a refused operation. It is reported to the requester only and
// never broadcast.
type Rejection struct {
	Code    string
	Text    string
	Seconds int
	Err     error
}

func (r *Rejection) Error() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %s: %v", r.Code, r.Text, r.Err)
	}
	return r.Code + ": " + r.Text
}

func (r *Rejection) Unwrap() error { return r.Err }

// Reject builds a Rejection with a formatted message.
func Reject(code, format string, args ...any) *Rejection {
	return &Rejection{Code: code, Text: fmt.Sprintf(format, args...)}
}

// RejectErr builds a Rejection that wraps the underlying cause.
func RejectErr(code string, err error) *Rejection {
	return &Rejection{Code: code, Text: err.Error(), Err: err}
}

// AsRejection reports whether err is, or wraps, a Rejection.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
