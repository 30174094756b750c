// Package rbac decides which commands a session may run before logging in.
package rbac

import pb "github.com/NicolasHaas/roomchat/pkg/protocol/pb"

// Access is the precondition a command places on the calling session.
type Access int

const (
	// AccessPublic commands bootstrap an account and work before login.
	AccessPublic Access = iota
	// AccessAuthenticated commands require a logged-in session.
	AccessAuthenticated
)

// NotAuthenticatedMessage is the error returned for gated commands.
const NotAuthenticatedMessage = "ERROR: You must log in before using this command."

// commandAccess maps every known command to its access level.
var commandAccess = map[string]Access{
	pb.CmdLogin:               AccessPublic,
	pb.CmdSignup:              AccessPublic,
	pb.CmdSendValidationEmail: AccessPublic,
	pb.CmdUsernameExists:      AccessPublic,
	pb.CmdResetPassword:       AccessPublic,
	pb.CmdActivateUser:        AccessPublic,

	pb.CmdGetRooms:    AccessAuthenticated,
	pb.CmdEnterRoom:   AccessAuthenticated,
	pb.CmdGetOnline:   AccessAuthenticated,
	pb.CmdSendMessage: AccessAuthenticated,
}

// AccessFor returns the access level of command and whether it is known.
func AccessFor(command string) (Access, bool) {
	a, ok := commandAccess[command]
	return a, ok
}

// Allowed reports whether a session may run a known command.
// Unknown commands are never allowed.
func Allowed(command string, authenticated bool) bool {
	a, ok := commandAccess[command]
	if !ok {
		return false
	}
	return a == AccessPublic || authenticated
}

// RequireAuthentication returns the error message if the session may not run
// command, or empty string if allowed. Unknown commands pass through so the
// caller can report them.
func RequireAuthentication(command string, authenticated bool) string {
	if _, known := AccessFor(command); known && !Allowed(command, authenticated) {
		return NotAuthenticatedMessage
	}
	return ""
}

func (a Access) String() string {
	switch a {
	case AccessPublic:
		return "public"
	case AccessAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}
