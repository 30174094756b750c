package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/NicolasHaas/roomchat/pkg/crypto"
	"github.com/NicolasHaas/roomchat/pkg/model"
	pb "github.com/NicolasHaas/roomchat/pkg/protocol/pb"
)

// Login authenticates the connection. Rejections come back in the
// response's Errors, not as an error.
func (c *Client) Login(ctx context.Context, username, password string) (*pb.LoginResponse, error) {
	var resp pb.LoginResponse
	err := c.Call(ctx, pb.CmdLogin, &pb.LoginParams{Username: username, Password: password}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Signup creates an inactive account. An empty result means success.
func (c *Client) Signup(ctx context.Context, p *pb.SignupParams) (model.FieldErrors, error) {
	var fe model.FieldErrors
	if err := c.Call(ctx, pb.CmdSignup, p, &fe); err != nil {
		return nil, err
	}
	return fe, nil
}

// SendValidationEmail asks the server to email a fresh code to username and
// returns the code's digest for CheckCode.
func (c *Client) SendValidationEmail(ctx context.Context, username string) (string, error) {
	var digest string
	err := c.Call(ctx, pb.CmdSendValidationEmail, &pb.SendValidationEmailParams{Username: username}, &digest)
	if err != nil {
		return "", err
	}
	return digest, nil
}

// CheckCode reports whether code matches the digest returned by
// SendValidationEmail, without a round trip.
func CheckCode(digest, code string) bool {
	return crypto.Digest(code) == digest
}

func (c *Client) ActivateUser(ctx context.Context, username, code string) (model.FieldErrors, error) {
	var fe model.FieldErrors
	err := c.Call(ctx, pb.CmdActivateUser, &pb.ActivateUserParams{Username: username, Code: code}, &fe)
	if err != nil {
		return nil, err
	}
	return fe, nil
}

func (c *Client) ResetPassword(ctx context.Context, p *pb.ResetPasswordParams) (model.FieldErrors, error) {
	var fe model.FieldErrors
	if err := c.Call(ctx, pb.CmdResetPassword, p, &fe); err != nil {
		return nil, err
	}
	return fe, nil
}

func (c *Client) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := c.Call(ctx, pb.CmdUsernameExists, &pb.UsernameExistsParams{Username: username}, &exists)
	return exists, err
}

// GetRooms lists the room names in server order.
func (c *Client) GetRooms(ctx context.Context) ([]string, error) {
	var rooms []string
	if err := c.Call(ctx, pb.CmdGetRooms, nil, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// GetOnline lists every authenticated user that is in a room.
func (c *Client) GetOnline(ctx context.Context) ([]pb.OnlineEntry, error) {
	var online []pb.OnlineEntry
	if err := c.Call(ctx, pb.CmdGetOnline, nil, &online); err != nil {
		return nil, err
	}
	return online, nil
}

// EnterRoom moves into room. The outcome arrives as a presence event.
func (c *Client) EnterRoom(room string) error {
	return c.Notify(pb.CmdEnterRoom, &pb.EnterRoomParams{Room: room})
}

// SendMessage posts text to the current room.
func (c *Client) SendMessage(text string) error {
	return c.Notify(pb.CmdSendMessage, &pb.SendMessageParams{Message: text})
}

// DecodeMessage extracts the payload of a message event.
func DecodeMessage(ev pb.Event) (*pb.MessageEvent, error) {
	if ev.Type != pb.EventMessage {
		return nil, fmt.Errorf("client: %s is not a message event", ev.Type)
	}
	var m pb.MessageEvent
	if err := json.Unmarshal(ev.Data, &m); err != nil {
		return nil, fmt.Errorf("client: decode message event: %w", err)
	}
	return &m, nil
}

// DecodePresence extracts the payload of a presence event.
func DecodePresence(ev pb.Event) (*pb.PresenceEvent, error) {
	if ev.Type != pb.EventClientEntered {
		return nil, fmt.Errorf("client: %s is not a presence event", ev.Type)
	}
	var p pb.PresenceEvent
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return nil, fmt.Errorf("client: decode presence event: %w", err)
	}
	return &p, nil
}
