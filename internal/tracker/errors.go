package tracker

import (
	"errors"
	"fmt"
	"time"

	"sessiontrack/internal/models"
)

var ErrStopped = errors.New("tracker stopped")

type FailureKind string

const (
	FailureNoSession      FailureKind = "no_session"
	FailureNotFound       FailureKind = "not_found"
	FailureForceLoggedOut FailureKind = "force_logged_out"
	FailureBanned         FailureKind = "banned"
	FailureRejected       FailureKind = "rejected"
	FailureNotVerified    FailureKind = "not_verified"
	FailureAccountDeleted FailureKind = "account_deleted"
	FailureAdminLogout    FailureKind = "admin_logout"
	FailureLogout         FailureKind = "logout"
)

// AuthFailure is a fatal-to-session condition. Every AuthFailure ends in
// the coordinator's forced termination; Message is what the user sees.
type AuthFailure struct {
	Kind       FailureKind
	Message    string
	BanReason  string
	BanExpires *int64
}

func (f *AuthFailure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// TransientError wraps a remote failure that did not decide validity.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "remote store unavailable: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func noSession() *AuthFailure {
	return &AuthFailure{Kind: FailureNoSession, Message: "Please login to access this page"}
}

func notFound() *AuthFailure {
	return &AuthFailure{Kind: FailureNotFound, Message: "User account not found. Please register again."}
}

func accountDeleted() *AuthFailure {
	return &AuthFailure{Kind: FailureAccountDeleted, Message: "Your account has been deleted by administrator."}
}

func notVerified() *AuthFailure {
	return &AuthFailure{Kind: FailureNotVerified, Message: "Your account is not verified. Please complete verification."}
}

func adminLogout(message string) *AuthFailure {
	if message == "" {
		message = "Logged out by administrator."
	}
	return &AuthFailure{Kind: FailureAdminLogout, Message: message}
}

func userLogout() *AuthFailure {
	return &AuthFailure{Kind: FailureLogout, Message: "You have been logged out."}
}

func banned(u models.UserRecord) *AuthFailure {
	msg := "Your account has been banned."
	if u.BanReason != "" {
		msg = "Reason: " + u.BanReason + "."
	}
	if u.BanExpires != nil {
		msg += " Ban expires: " + time.UnixMilli(*u.BanExpires).UTC().Format("2006-01-02 15:04 MST")
	} else {
		msg += " Permanent ban."
	}
	return &AuthFailure{Kind: FailureBanned, Message: msg, BanReason: u.BanReason, BanExpires: u.BanExpires}
}

// Assess classifies a user record. Force logout wins over a ban, a ban
// wins over a rejection; nil means the record permits a session.
func Assess(u models.UserRecord) *AuthFailure {
	switch {
	case u.ForceLogout:
		return &AuthFailure{Kind: FailureForceLoggedOut, Message: "Your session has been terminated by administrator."}
	case u.Status == models.UserStatusBanned:
		return banned(u)
	case u.Status == models.UserStatusRejected:
		return &AuthFailure{Kind: FailureRejected, Message: "Your account has been rejected by administrator."}
	}
	return nil
}
