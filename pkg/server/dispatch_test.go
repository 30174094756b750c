package server

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/NicolasHaas/roomchat/pkg/datastore"
	"github.com/NicolasHaas/roomchat/pkg/model"
	pb "github.com/NicolasHaas/roomchat/pkg/protocol/pb"
	"github.com/NicolasHaas/roomchat/pkg/rbac"
)

// dispatch runs a command directly against sess, bypassing the network.
func dispatch(t *testing.T, srv *Server, sess *Session, command string, params any) (any, bool) {
	t.Helper()
	req, err := pb.NewRequest(command, params)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return srv.Dispatch(context.Background(), sess, req)
}

func TestDispatchSignupValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	createActiveUser(t, srv, "alice", "Alice", "secret123")

	tcases := map[string]struct {
		params *pb.SignupParams
		want   model.FieldErrors
	}{
		"valid": {
			params: &pb.SignupParams{
				Username: "bobby", Name: "Bobby Tables", Email: "bobby@example.com",
				PhoneNumber: "0541234567", Password: "tables42", PasswordConfirmation: "tables42",
			},
			want: model.FieldErrors{},
		},
		"everything_wrong": {
			params: &pb.SignupParams{
				Username: "ab", Name: "J0hn", Email: "Not An Email",
				PhoneNumber: "123", Password: "short", PasswordConfirmation: "x",
			},
			want: model.FieldErrors{
				model.FieldUsername:             model.MsgUsernameTooShort,
				model.FieldName:                 model.MsgNameTooShort,
				model.FieldEmail:                model.MsgEmailInvalid,
				model.FieldPhoneNumber:          model.MsgPhoneInvalid,
				model.FieldPassword:             model.MsgPasswordTooShort,
				model.FieldPasswordConfirmation: model.MsgPasswordsDontMatch,
			},
		},
		"taken": {
			params: &pb.SignupParams{
				Username: "alice", Name: "Alice Again", Email: "alice@example.com",
				PhoneNumber: "0501234567", Password: "another1", PasswordConfirmation: "another1",
			},
			want: model.FieldErrors{
				model.FieldUsername: model.MsgUsernameInUse,
				model.FieldEmail:    model.MsgEmailInUse,
			},
		},
		"bad_username_chars": {
			params: &pb.SignupParams{
				Username: "9lives", Name: "Cat Person", Email: "cat@example.com",
				PhoneNumber: "0581234567", Password: "meow1234", PasswordConfirmation: "meow1234",
			},
			want: model.FieldErrors{model.FieldUsername: model.MsgUsernameInvalid},
		},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			sess, _ := pipeSession(t, time.Second)
			resp, ok := dispatch(t, srv, sess, pb.CmdSignup, tc.params)
			if !ok {
				t.Fatal("signup returned no response")
			}
			if diff := cmp.Diff(tc.want, resp); diff != "" {
				t.Errorf("signup errors (-want +got):\n%s", diff)
			}
		})
	}

	exists, err := srv.creds.UserExists(context.Background(), "bobby")
	if err != nil || !exists {
		t.Fatalf("valid signup not stored: exists=%v err=%v", exists, err)
	}
	login, err := srv.creds.LookupLogin(context.Background(), "bobby")
	if err != nil {
		t.Fatalf("LookupLogin: %v", err)
	}
	if login.Active {
		t.Fatal("new account must start inactive")
	}
}

func TestDispatchResetPassword(t *testing.T) {
	srv, mailer := newTestServer(t)
	createActiveUser(t, srv, "erinn", "Erinn", "oldpass1")
	sess, _ := pipeSession(t, time.Second)

	resp, _ := dispatch(t, srv, sess, pb.CmdSendValidationEmail, &pb.SendValidationEmailParams{Username: "erinn"})
	if _, ok := resp.(string); !ok {
		t.Fatalf("send_validation_email response = %#v, want digest string", resp)
	}
	code := mailer.nextCode(t)

	// policy failures leave the code pending
	resp, _ = dispatch(t, srv, sess, pb.CmdResetPassword, &pb.ResetPasswordParams{
		Username: "erinn", Password: "nodigits", PasswordConfirmation: "nodigits", Code: code,
	})
	if diff := cmp.Diff(model.FieldErrors{model.FieldPassword: model.MsgPasswordNoDigit}, resp); diff != "" {
		t.Fatalf("weak password (-want +got):\n%s", diff)
	}

	resp, _ = dispatch(t, srv, sess, pb.CmdResetPassword, &pb.ResetPasswordParams{
		Username: "erinn", Password: "newpass2", PasswordConfirmation: "newpass2", Code: "abcdef",
	})
	if diff := cmp.Diff(model.FieldErrors{model.FieldCode: model.MsgCodeInvalid}, resp); diff != "" {
		t.Fatalf("wrong code (-want +got):\n%s", diff)
	}

	resp, _ = dispatch(t, srv, sess, pb.CmdResetPassword, &pb.ResetPasswordParams{
		Username: "erinn", Password: "newpass2", PasswordConfirmation: "newpass2", Code: code,
	})
	if diff := cmp.Diff(model.FieldErrors{}, resp); diff != "" {
		t.Fatalf("reset (-want +got):\n%s", diff)
	}

	login, err := srv.creds.LookupLogin(context.Background(), "erinn")
	if err != nil {
		t.Fatalf("LookupLogin: %v", err)
	}
	if !login.PasswordMatches("newpass2") || login.PasswordMatches("oldpass1") {
		t.Fatal("password was not replaced")
	}

	// codes are single use
	resp, _ = dispatch(t, srv, sess, pb.CmdResetPassword, &pb.ResetPasswordParams{
		Username: "erinn", Password: "third333", PasswordConfirmation: "third333", Code: code,
	})
	if diff := cmp.Diff(model.FieldErrors{model.FieldCode: model.MsgCodeInvalid}, resp); diff != "" {
		t.Fatalf("reused code (-want +got):\n%s", diff)
	}
	if n := srv.metrics.PasswordResets.Load(); n != 1 {
		t.Fatalf("password resets = %d, want 1", n)
	}
}

func TestDispatchLoginOrder(t *testing.T) {
	srv, _ := newTestServer(t)
	createActiveUser(t, srv, "alice", "Alice", "secret123")
	if err := srv.creds.CreateUser(context.Background(), credentialUser("frank", "Frank", "secret123")); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	tcases := map[string]struct {
		params *pb.LoginParams
		want   pb.FieldErrors
	}{
		"unknown":        {&pb.LoginParams{Username: "ghost", Password: "x"}, pb.FieldErrors{model.FieldUsername: model.MsgUsernameNotFound}},
		"wrong_password": {&pb.LoginParams{Username: "alice", Password: "nope"}, pb.FieldErrors{model.FieldPassword: model.MsgPasswordIncorrect}},
		// a wrong password is reported before inactivity
		"inactive_wrong_password": {&pb.LoginParams{Username: "frank", Password: "nope"}, pb.FieldErrors{model.FieldPassword: model.MsgPasswordIncorrect}},
		"inactive":                {&pb.LoginParams{Username: "frank", Password: "secret123"}, pb.FieldErrors{model.FieldUsername: model.MsgUsernameInactive}},
	}
	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			sess, _ := pipeSession(t, time.Second)
			resp, _ := dispatch(t, srv, sess, pb.CmdLogin, tc.params)
			got, ok := resp.(*pb.LoginResponse)
			if !ok {
				t.Fatalf("response = %#v", resp)
			}
			if diff := cmp.Diff(tc.want, got.Errors); diff != "" {
				t.Errorf("errors (-want +got):\n%s", diff)
			}
			if got.Data != nil || sess.Authenticated() {
				t.Error("failed login must not authenticate")
			}
		})
	}
	if n := srv.metrics.FailedLogins.Load(); n != int64(len(tcases)) {
		t.Fatalf("failed logins = %d, want %d", n, len(tcases))
	}
}

func TestDispatchSecondLoginOnSameSession(t *testing.T) {
	srv, _ := newTestServer(t)
	createActiveUser(t, srv, "alice", "Alice", "secret123")
	createActiveUser(t, srv, "bobby", "Bobby", "secret123")

	sess, _ := pipeSession(t, time.Second)
	srv.registry.Add(sess)

	resp, _ := dispatch(t, srv, sess, pb.CmdLogin, &pb.LoginParams{Username: "alice", Password: "secret123"})
	if got := resp.(*pb.LoginResponse); got.Data == nil {
		t.Fatalf("first login failed: %v", got.Errors)
	}
	resp, _ = dispatch(t, srv, sess, pb.CmdLogin, &pb.LoginParams{Username: "bobby", Password: "secret123"})
	if resp != msgInternalError {
		t.Fatalf("second login = %#v, want internal error", resp)
	}
	if sess.Username() != "alice" {
		t.Fatalf("session rebound to %q", sess.Username())
	}
}

func TestDispatchSilentCommands(t *testing.T) {
	srv, _ := newTestServer(t)
	sess, _ := pipeSession(t, time.Second)
	if err := sess.Bind("alice", "Alice"); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	if resp, ok := dispatch(t, srv, sess, pb.CmdEnterRoom, &pb.EnterRoomParams{Room: "Narnia"}); ok {
		t.Fatalf("enter_room responded with %#v", resp)
	}
	if sess.Room() != "" {
		t.Fatalf("room = %q after unknown room", sess.Room())
	}
	if resp, ok := dispatch(t, srv, sess, pb.CmdSendMessage, &pb.SendMessageParams{Message: "hi"}); ok {
		t.Fatalf("send_message responded with %#v", resp)
	}

	resp, ok := dispatch(t, srv, sess, pb.CmdGetOnline, nil)
	if !ok {
		t.Fatal("get_online returned no response")
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != "[]" {
		t.Fatalf("get_online with nobody in a room = %s, want []", raw)
	}
}

func TestDecodeParams(t *testing.T) {
	p, err := decodeParams[pb.LoginParams](nil)
	if err != nil || p != (pb.LoginParams{}) {
		t.Fatalf("nil params: %+v, %v", p, err)
	}
	p, err = decodeParams[pb.LoginParams](json.RawMessage("null"))
	if err != nil || p != (pb.LoginParams{}) {
		t.Fatalf("null params: %+v, %v", p, err)
	}
	_, err = decodeParams[pb.LoginParams](json.RawMessage(`[1,2]`))
	if !errors.Is(err, errBadParams) {
		t.Fatalf("array params: err = %v, want errBadParams", err)
	}
}

func TestDispatchStoreFailureKeepsCode(t *testing.T) {
	srv, mailer := newTestServerWithStore(t, brokenWritesStore{datastore.NewMemory()})
	if err := srv.creds.CreateUser(context.Background(), credentialUser("frank", "Frank", "secret123")); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	sess, _ := pipeSession(t, time.Second)

	dispatch(t, srv, sess, pb.CmdSendValidationEmail, &pb.SendValidationEmailParams{Username: "frank"})
	code := mailer.nextCode(t)

	resp, _ := dispatch(t, srv, sess, pb.CmdActivateUser, &pb.ActivateUserParams{Username: "frank", Code: code})
	if resp != msgInternalError {
		t.Fatalf("activate_user = %#v, want internal error", resp)
	}
	if !srv.creds.CodePending("frank") {
		t.Fatal("code lost after failed activation")
	}

	resp, _ = dispatch(t, srv, sess, pb.CmdResetPassword, &pb.ResetPasswordParams{
		Username: "frank", Password: "newpass2", PasswordConfirmation: "newpass2", Code: code,
	})
	if resp != msgInternalError {
		t.Fatalf("reset_password = %#v, want internal error", resp)
	}
	if err := srv.creds.ConsumeCode("frank", code); err != nil {
		t.Fatalf("code not usable after failed reset: %v", err)
	}
	if n := srv.metrics.Activations.Load() + srv.metrics.PasswordResets.Load(); n != 0 {
		t.Fatalf("failed updates counted: %d", n)
	}
}

func TestEveryCommandHasAccessLevel(t *testing.T) {
	srv, _ := newTestServer(t)
	for command := range srv.commands {
		if _, ok := rbac.AccessFor(command); !ok {
			t.Errorf("%s has no access level", command)
		}
	}
}
