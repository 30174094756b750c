// Package pb defines the JSON shapes exchanged over the chat protocol.
package pb

import (
	"encoding/json"
	"fmt"
)

// Command names understood by the server.
const (
	CmdLogin               = "login"
	CmdSignup              = "signup"
	CmdSendValidationEmail = "send_validation_email"
	CmdActivateUser        = "activate_user"
	CmdResetPassword       = "reset_password"
	CmdUsernameExists      = "username_exists"
	CmdGetRooms            = "get_rooms"
	CmdEnterRoom           = "enter_room"
	CmdGetOnline           = "get_online"
	CmdSendMessage         = "send_message"
)

// Request is the envelope of every client-to-server frame.
type Request struct {
	Command    string          `json:"command"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// NewRequest builds a request, encoding params when non-nil.
func NewRequest(command string, params any) (*Request, error) {
	req := &Request{Command: command}
	if params == nil {
		return req, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("pb: encode %s parameters: %w", command, err)
	}
	req.Parameters = raw
	return req, nil
}

// ----- Parameters -----

type LoginParams struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type SignupParams struct {
	Username             string `json:"username"`
	Name                 string `json:"name"`
	Email                string `json:"email"`
	PhoneNumber          string `json:"phone_number"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

type SendValidationEmailParams struct {
	Username string `json:"username"`
}

type ActivateUserParams struct {
	Username string `json:"username"`
	Code     string `json:"code"`
}

type ResetPasswordParams struct {
	Username             string `json:"username"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
	Code                 string `json:"code"`
}

type UsernameExistsParams struct {
	Username string `json:"username"`
}

type EnterRoomParams struct {
	Room string `json:"room"`
}

type SendMessageParams struct {
	Message string `json:"message"`
}

// ----- Responses -----

// FieldErrors maps a form field to a human readable message.
type FieldErrors = map[string]string

type LoginResponse struct {
	Errors FieldErrors `json:"errors"`
	Data   *LoginData  `json:"data,omitempty"`
}

type LoginData struct {
	Name string `json:"name"`
}

// OnlineEntry is one row of the get_online presence snapshot.
type OnlineEntry struct {
	Room     string `json:"room"`
	Username string `json:"username"`
}

// ----- Events -----

// EventType discriminates server-pushed events.
type EventType string

const (
	EventMessage       EventType = "message"
	EventClientEntered EventType = "client_entered"
)

// Event is the envelope of every server-pushed frame.
type Event struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEvent encodes data into an event envelope.
func NewEvent(t EventType, data any) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("pb: encode %s event: %w", t, err)
	}
	return &Event{Type: t, Data: raw}, nil
}

// IsEvent reports whether a raw frame is a server-pushed event rather than a
// command response.
func IsEvent(frame json.RawMessage) bool {
	var probe struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(frame, &probe); err != nil {
		return false
	}
	return probe.Type == EventMessage || probe.Type == EventClientEntered
}

type MessageEvent struct {
	Message  string `json:"message"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Room     string `json:"room"`
}

// PresenceEvent announces that Username moved from PreviousRoom to Room.
// A nil Room means the user left the server. Occupants lists the usernames
// currently in the recipient's room.
type PresenceEvent struct {
	Room         *string  `json:"room"`
	PreviousRoom *string  `json:"previous_room"`
	Username     string   `json:"username"`
	Occupants    []string `json:"occupants"`
}
