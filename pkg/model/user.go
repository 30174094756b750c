package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	MinUsernameLength = 5
	MaxUsernameLength = 32
	MinNameLength     = 5
	MaxNameLength     = 64
	MinPasswordLength = 8
)

var ErrUsernameEmpty = errors.New("username must not be empty")
var ErrUsernameTooLong = fmt.Errorf("username must not exceed %d characters", MaxUsernameLength)
var ErrUsernameInvalidChars = errors.New("username must start with a letter and contain only letters and digits")
var ErrEmailEmpty = errors.New("email must not be empty")

// Messages returned to clients, keyed by field.
const (
	MsgUsernameTooShort   = "Username is too short"
	MsgUsernameTooLong    = "Username is too long"
	MsgUsernameInvalid    = "Invalid username"
	MsgUsernameInUse      = "Username already in use"
	MsgUsernameNotFound   = "Username does not exist"
	MsgUsernameInactive   = "Username is not active"
	MsgAlreadyConnected   = "You are already connected via another client"
	MsgNameInvalid        = "Invalid name"
	MsgNameTooShort       = "Name is too short"
	MsgNameTooLong        = "Name is too long"
	MsgPasswordNoLetter   = "Password must contain at least one letter"
	MsgPasswordNoDigit    = "Password must contain at least one digit"
	MsgPasswordTooShort   = "Password must contain at least 8 characters"
	MsgPasswordIncorrect  = "Incorrect password"
	MsgPasswordsDontMatch = "Passwords do not match"
	MsgEmailInvalid       = "Invalid email address"
	MsgEmailInUse         = "Email address already in use"
	MsgPhoneInvalid       = "Phone number must contain exactly 10 digits"
	MsgCodeInvalid        = "Invalid validation code"
)

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*$`)
	namePattern     = regexp.MustCompile(`^([A-Za-z]+ ?)*$`)
	emailPattern    = regexp.MustCompile(`^[a-z0-9.\-]+@([a-z\-]+\.[a-z]+)+$`)
	phonePattern    = regexp.MustCompile(`^05[02458][0-9]{7}$`)
)

// User is a row of the persistent user table.
type User struct {
	Username     string    `json:"username"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Active       bool      `json:"active"`
	PhoneNumber  string    `json:"phone_number"`
	CreatedAt    time.Time `json:"created_at"`
}

// ValidateUsername is the storage-level guard for usernames. Signup reports
// the friendlier CheckUsername messages before a row is ever written.
func ValidateUsername(username string) error {
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	if !usernamePattern.MatchString(username) {
		return ErrUsernameInvalidChars
	}
	return nil
}

// CheckUsername records length and shape problems of a username.
func CheckUsername(fe FieldErrors, username string) {
	if len(username) < MinUsernameLength {
		fe.Set(FieldUsername, MsgUsernameTooShort)
	}
	if len(username) > MaxUsernameLength {
		fe.Set(FieldUsername, MsgUsernameTooLong)
	}
	if !usernamePattern.MatchString(username) {
		fe.Set(FieldUsername, MsgUsernameInvalid)
	}
}

// CheckName records shape and length problems of a display name.
func CheckName(fe FieldErrors, name string) {
	if !namePattern.MatchString(name) {
		fe.Set(FieldName, MsgNameInvalid)
	}
	if len(name) < MinNameLength {
		fe.Set(FieldName, MsgNameTooShort)
	}
	if len(name) > MaxNameLength {
		fe.Set(FieldName, MsgNameTooLong)
	}
}

// CheckPassword applies the password policy: at least one letter, one digit,
// MinPasswordLength characters, and a matching confirmation.
func CheckPassword(fe FieldErrors, password, confirmation string) {
	if !strings.ContainsFunc(password, isASCIILetter) {
		fe.Set(FieldPassword, MsgPasswordNoLetter)
	}
	if !strings.ContainsFunc(password, unicode.IsDigit) {
		fe.Set(FieldPassword, MsgPasswordNoDigit)
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		fe.Set(FieldPassword, MsgPasswordTooShort)
	}
	if password != confirmation {
		fe.Set(FieldPasswordConfirmation, MsgPasswordsDontMatch)
	}
}

// CheckEmail records a malformed email address.
func CheckEmail(fe FieldErrors, email string) {
	if !emailPattern.MatchString(email) {
		fe.Set(FieldEmail, MsgEmailInvalid)
	}
}

// CheckPhoneNumber records a phone number that is not a 10-digit mobile
// number (05X followed by seven digits).
func CheckPhoneNumber(fe FieldErrors, phone string) {
	if !phonePattern.MatchString(phone) {
		fe.Set(FieldPhoneNumber, MsgPhoneInvalid)
	}
}

func isASCIILetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
