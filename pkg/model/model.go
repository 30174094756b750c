// Package model defines the core domain types for RoomChat: registered users,
// the room catalog, chat messages and the field-tagged validation errors
// returned to clients.
package model

// Form field names used as keys in FieldErrors.
const (
	FieldUsername             = "username"
	FieldName                 = "name"
	FieldEmail                = "email"
	FieldPhoneNumber          = "phone_number"
	FieldPassword             = "password"
	FieldPasswordConfirmation = "password_confirmation"
	FieldCode                 = "code"
)

// FieldErrors maps a form field to the last validation message recorded for
// it. It is returned to clients as plain data, never as a Go error.
type FieldErrors map[string]string

// Set records msg for field, replacing any earlier message.
func (fe FieldErrors) Set(field, msg string) {
	fe[field] = msg
}

// Empty reports whether no field failed.
func (fe FieldErrors) Empty() bool {
	return len(fe) == 0
}
