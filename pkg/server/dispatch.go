package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/NicolasHaas/roomchat/pkg/credential"
	"github.com/NicolasHaas/roomchat/pkg/datastore"
	"github.com/NicolasHaas/roomchat/pkg/mail"
	"github.com/NicolasHaas/roomchat/pkg/model"
	pb "github.com/NicolasHaas/roomchat/pkg/protocol/pb"
	"github.com/NicolasHaas/roomchat/pkg/rbac"
)

// Error strings sent in place of a response.
const (
	msgInternalError   = "ERROR: Internal server error."
	msgUnknownUsername = "ERROR: Username does not exist."
)

func unknownCommand(command string) string {
	return fmt.Sprintf("ERROR: Unknown command %s.", command)
}

func invalidParameters(command string) string {
	return fmt.Sprintf("ERROR: Invalid parameters for command %s.", command)
}

// errBadParams marks parameters that could not be decoded.
var errBadParams = errors.New("server: invalid parameters")

// commandHandler runs one command for sess. A nil response means nothing is
// written back.
type commandHandler func(ctx context.Context, sess *Session, params json.RawMessage) (any, error)

func (s *Server) commandTable() map[string]commandHandler {
	return map[string]commandHandler{
		pb.CmdLogin:               s.handleLogin,
		pb.CmdSignup:              s.handleSignup,
		pb.CmdSendValidationEmail: s.handleSendValidationEmail,
		pb.CmdActivateUser:        s.handleActivateUser,
		pb.CmdResetPassword:       s.handleResetPassword,
		pb.CmdUsernameExists:      s.handleUsernameExists,
		pb.CmdGetRooms:            s.handleGetRooms,
		pb.CmdEnterRoom:           s.handleEnterRoom,
		pb.CmdGetOnline:           s.handleGetOnline,
		pb.CmdSendMessage:         s.handleSendMessage,
	}
}

// Dispatch runs req on behalf of sess and returns the response to write, if
// any. User-facing failures are part of the response; Dispatch itself never
// fails.
func (s *Server) Dispatch(ctx context.Context, sess *Session, req *pb.Request) (any, bool) {
	handler, ok := s.commands[req.Command]
	if !ok {
		s.metrics.CommandDispatched("unknown")
		sess.log().Debug("unknown command", "command", req.Command)
		return unknownCommand(req.Command), true
	}
	s.metrics.CommandDispatched(req.Command)

	if msg := rbac.RequireAuthentication(req.Command, sess.Authenticated()); msg != "" {
		access, _ := rbac.AccessFor(req.Command)
		sess.log().Debug("command rejected", "command", req.Command, "access", access.String())
		return msg, true
	}

	resp, err := handler(ctx, sess, req.Parameters)
	switch {
	case errors.Is(err, errBadParams):
		sess.log().Debug("bad parameters", "command", req.Command, "err", err)
		return invalidParameters(req.Command), true
	case err != nil:
		sess.log().Error("command failed", "command", req.Command, "err", err)
		return msgInternalError, true
	case resp == nil:
		return nil, false
	}
	return resp, true
}

// decodeParams decodes raw into T. Missing parameters decode as the zero T.
func decodeParams[T any](raw json.RawMessage) (T, error) {
	var p T
	if len(raw) == 0 || string(raw) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("%w: %v", errBadParams, err)
	}
	return p, nil
}

func (s *Server) handleLogin(ctx context.Context, sess *Session, raw json.RawMessage) (any, error) {
	p, err := decodeParams[pb.LoginParams](raw)
	if err != nil {
		return nil, err
	}

	fail := func(field, msg string) (any, error) {
		s.metrics.FailedLogins.Add(1)
		return &pb.LoginResponse{Errors: pb.FieldErrors{field: msg}}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	login, err := s.creds.LookupLogin(ctx, p.Username)
	switch {
	case errors.Is(err, credential.ErrUserNotFound):
		return fail(model.FieldUsername, model.MsgUsernameNotFound)
	case err != nil:
		return nil, err
	case !login.PasswordMatches(p.Password):
		return fail(model.FieldPassword, model.MsgPasswordIncorrect)
	case !login.Active:
		return fail(model.FieldUsername, model.MsgUsernameInactive)
	case s.registry.FindAuthenticated(login.Username) != nil:
		return fail(model.FieldUsername, model.MsgAlreadyConnected)
	}

	if err := sess.Bind(login.Username, login.Name); err != nil {
		return nil, fmt.Errorf("login as %q: %w", login.Username, err)
	}
	s.metrics.SuccessfulLogins.Add(1)
	sess.log().Info("client authenticated")
	return &pb.LoginResponse{
		Errors: pb.FieldErrors{},
		Data:   &pb.LoginData{Name: login.Name},
	}, nil
}

func (s *Server) handleSignup(ctx context.Context, sess *Session, raw json.RawMessage) (any, error) {
	p, err := decodeParams[pb.SignupParams](raw)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fe := model.FieldErrors{}
	model.CheckUsername(fe, p.Username)
	model.CheckName(fe, p.Name)

	exists, err := s.creds.UserExists(ctx, p.Username)
	if err != nil {
		return nil, err
	}
	if exists {
		fe.Set(model.FieldUsername, model.MsgUsernameInUse)
	}

	model.CheckPassword(fe, p.Password, p.PasswordConfirmation)

	model.CheckEmail(fe, p.Email)
	inUse, err := s.creds.EmailInUse(ctx, p.Email)
	if err != nil {
		return nil, err
	}
	if inUse {
		fe.Set(model.FieldEmail, model.MsgEmailInUse)
	}

	model.CheckPhoneNumber(fe, p.PhoneNumber)

	if !fe.Empty() {
		return fe, nil
	}

	err = s.creds.CreateUser(ctx, credential.NewUser{
		Username:    p.Username,
		Name:        p.Name,
		Email:       p.Email,
		PhoneNumber: p.PhoneNumber,
		Password:    p.Password,
	})
	if errors.Is(err, datastore.ErrDuplicate) {
		// another process wrote the same row between the checks and the insert
		fe.Set(model.FieldUsername, model.MsgUsernameInUse)
		return fe, nil
	}
	if err != nil {
		return nil, err
	}
	s.metrics.Signups.Add(1)
	sess.log().Info("user signed up", "username", p.Username)
	return fe, nil
}

func (s *Server) handleSendValidationEmail(ctx context.Context, sess *Session, raw json.RawMessage) (any, error) {
	p, err := decodeParams[pb.SendValidationEmailParams](raw)
	if err != nil {
		return nil, err
	}

	name, email, err := s.creds.Contact(ctx, p.Username)
	if errors.Is(err, credential.ErrUserNotFound) {
		return msgUnknownUsername, nil
	}
	if err != nil {
		return nil, err
	}

	if s.creds.CodePending(p.Username) {
		sess.log().Debug("replacing pending validation code", "username", p.Username)
	}
	code, err := s.creds.IssueCode(p.Username)
	if err != nil {
		return nil, err
	}
	s.deliverAsync(mail.NewValidationMessage(s.mailFrom, name, email, code))
	sess.log().Debug("validation code issued", "username", p.Username)
	return s.creds.Digest(code), nil
}

// deliverAsync sends msg on its own goroutine. Failures are logged and
// counted, never reported to the requester.
func (s *Server) deliverAsync(msg mail.Message) {
	timeout := s.cfg.MailTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		ctx, cancel := context.WithTimeout(s.ctx, timeout)
		defer cancel()
		if err := s.mailer.Send(ctx, msg); err != nil {
			s.metrics.EmailsFailed.Add(1)
			logEmailFailure(msg, err)
			return
		}
		s.metrics.EmailsSent.Add(1)
	}()
}

func (s *Server) handleActivateUser(ctx context.Context, sess *Session, raw json.RawMessage) (any, error) {
	p, err := decodeParams[pb.ActivateUserParams](raw)
	if err != nil {
		return nil, err
	}

	fe := model.FieldErrors{}
	if err := s.creds.ConsumeCode(p.Username, p.Code); err != nil {
		fe.Set(model.FieldCode, model.MsgCodeInvalid)
		return fe, nil
	}
	if err := s.creds.SetActive(ctx, p.Username); err != nil {
		s.restoreCode(sess, p.Username, p.Code)
		return nil, err
	}
	s.metrics.Activations.Add(1)
	sess.log().Info("user activated", "username", p.Username)
	return fe, nil
}

// restoreCode keeps a code usable after the store rejected the change it
// was consumed for.
func (s *Server) restoreCode(sess *Session, username, code string) {
	if !s.creds.RestoreCode(username, code) {
		sess.log().Debug("newer validation code pending, failed code dropped", "username", username)
	}
}

func (s *Server) handleResetPassword(ctx context.Context, sess *Session, raw json.RawMessage) (any, error) {
	p, err := decodeParams[pb.ResetPasswordParams](raw)
	if err != nil {
		return nil, err
	}

	fe := model.FieldErrors{}
	model.CheckPassword(fe, p.Password, p.PasswordConfirmation)
	if !fe.Empty() {
		return fe, nil
	}
	if err := s.creds.ConsumeCode(p.Username, p.Code); err != nil {
		fe.Set(model.FieldCode, model.MsgCodeInvalid)
		return fe, nil
	}
	if err := s.creds.SetPassword(ctx, p.Username, p.Password); err != nil {
		s.restoreCode(sess, p.Username, p.Code)
		return nil, err
	}
	s.metrics.PasswordResets.Add(1)
	sess.log().Info("password reset", "username", p.Username)
	return fe, nil
}

func (s *Server) handleUsernameExists(ctx context.Context, _ *Session, raw json.RawMessage) (any, error) {
	p, err := decodeParams[pb.UsernameExistsParams](raw)
	if err != nil {
		return nil, err
	}
	exists, err := s.creds.UserExists(ctx, p.Username)
	if err != nil {
		return nil, err
	}
	return exists, nil
}

func (s *Server) handleGetRooms(_ context.Context, _ *Session, _ json.RawMessage) (any, error) {
	return s.rooms.Names(), nil
}

func (s *Server) handleEnterRoom(_ context.Context, sess *Session, raw json.RawMessage) (any, error) {
	p, err := decodeParams[pb.EnterRoomParams](raw)
	if err != nil {
		return nil, err
	}
	if !s.rooms.Contains(p.Room) {
		sess.log().Debug("enter unknown room ignored", "room", p.Room)
		return nil, nil
	}
	prev := sess.setRoom(p.Room)
	sess.log().Debug("entered room", "room", p.Room, "previous", prev)
	s.notifyPresence(sess, prev, p.Room)
	return nil, nil
}

func (s *Server) handleGetOnline(_ context.Context, _ *Session, _ json.RawMessage) (any, error) {
	online := []pb.OnlineEntry{}
	for _, peer := range s.registry.Snapshot() {
		snap := peer.Snapshot()
		if snap.Username == "" || snap.Room == "" {
			continue
		}
		online = append(online, pb.OnlineEntry{Room: snap.Room, Username: snap.Username})
	}
	return online, nil
}

func (s *Server) handleSendMessage(_ context.Context, sess *Session, raw json.RawMessage) (any, error) {
	p, err := decodeParams[pb.SendMessageParams](raw)
	if err != nil {
		return nil, err
	}

	snap := sess.Snapshot()
	if snap.Room == "" {
		return nil, nil
	}
	body, err := model.NormalizeBody(p.Message)
	if err != nil {
		sess.log().Debug("message dropped", "err", err)
		return nil, nil
	}

	s.relayMessage(model.ChatMessage{
		Room:     snap.Room,
		Username: snap.Username,
		Name:     snap.Name,
		Body:     body,
	})
	return nil, nil
}
