package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/NicolasHaas/roomchat/pkg/client"
	"github.com/NicolasHaas/roomchat/pkg/logging"
	pb "github.com/NicolasHaas/roomchat/pkg/protocol/pb"
	"github.com/NicolasHaas/roomchat/pkg/version"
)

const callTimeout = 10 * time.Second

const help = `commands:
  /login <username> <password>
  /signup <username> <email> <phone> <password> <name...>
  /activate <username>          email a code and activate the account
  /reset <username> <password>  email a code and set a new password
  /exists <username>
  /rooms
  /join <room>
  /online
  /remember                     save the current login
  /quit
anything else is sent to the current room`

type app struct {
	c        *client.Client
	in       *bufio.Scanner
	out      io.Writer
	addr     string
	creds    *client.CredentialStore
	username atomic.Value // string, read by the event handler
	password string
}

func (a *app) user() string {
	u, _ := a.username.Load().(string)
	return u
}

func main() {
	logDefaults, err := logging.LoadOptionsFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging environment: %v\n", err)
		os.Exit(1)
	}

	configDir := flag.String("config", "", "Directory holding settings.yaml and credentials.yaml (default: next to the binary)")
	addr := flag.String("server", "", "Server address (overrides settings)")
	useTLS := flag.Bool("tls", false, "Connect over TLS")
	insecure := flag.Bool("insecure", false, "Accept self-signed server certificates")
	showVersion := flag.Bool("version", false, "Print version and exit")
	logLevel := flag.String("log-level", logDefaults.Level, "Log level: "+logging.LevelNames())
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Banner("roomchat-client"))
		return
	}
	if err := logging.Setup(logging.Options{Level: *logLevel, Format: logDefaults.Format, Output: os.Stderr}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	dir := client.ConfigDir(*configDir)
	settings := client.LoadSettings(dir)
	if *addr != "" {
		settings.ServerAddr = *addr
	}
	if *useTLS {
		settings.TLS = true
	}
	if *insecure {
		settings.InsecureSkipVerify = true
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	c, err := client.Dial(ctx, settings.ServerAddr, settings.Options())
	cancel()
	if err != nil {
		slog.Error("connect", "addr", settings.ServerAddr, "err", err)
		os.Exit(1)
	}
	defer c.Close()

	creds := client.NewCredentialStore(dir)
	if err := creds.Load(); err != nil {
		slog.Warn("load saved logins", "err", err)
	}

	a := &app{
		c:     c,
		in:    bufio.NewScanner(os.Stdin),
		out:   os.Stdout,
		addr:  settings.ServerAddr,
		creds: creds,
	}
	c.SetEventHandler(a.printEvent)

	fmt.Fprintf(a.out, "connected to %s, /help for commands\n", settings.ServerAddr)
	if saved := creds.Latest(settings.ServerAddr); saved != nil {
		a.login(saved.Username, saved.Password)
		if a.user() != "" && settings.DefaultRoom != "" {
			a.join(settings.DefaultRoom)
		}
	}

	go func() {
		<-c.Done()
		if err := c.Err(); err != nil && !errors.Is(err, io.EOF) {
			slog.Error("connection lost", "err", err)
		}
		fmt.Fprintln(a.out, "disconnected")
		os.Exit(0)
	}()

	for a.in.Scan() {
		if !a.handleLine(strings.TrimSpace(a.in.Text())) {
			return
		}
	}
}

// handleLine runs one input line. It returns false to quit.
func (a *app) handleLine(line string) bool {
	if line == "" {
		return true
	}
	if !strings.HasPrefix(line, "/") {
		a.report(a.c.SendMessage(line))
		return true
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch {
	case cmd == "/quit":
		return false
	case cmd == "/help":
		fmt.Fprintln(a.out, help)
	case cmd == "/login" && len(args) == 2:
		a.login(args[0], args[1])
	case cmd == "/signup" && len(args) >= 5:
		a.signup(args[0], args[1], args[2], args[3], strings.Join(args[4:], " "))
	case cmd == "/activate" && len(args) == 1:
		a.activate(args[0])
	case cmd == "/reset" && len(args) == 2:
		a.reset(args[0], args[1])
	case cmd == "/exists" && len(args) == 1:
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		exists, err := a.c.UsernameExists(ctx, args[0])
		if a.report(err) {
			fmt.Fprintf(a.out, "%s exists: %v\n", args[0], exists)
		}
	case cmd == "/rooms":
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		rooms, err := a.c.GetRooms(ctx)
		if a.report(err) {
			fmt.Fprintf(a.out, "rooms: %s\n", strings.Join(rooms, ", "))
		}
	case cmd == "/join" && len(args) >= 1:
		a.join(strings.Join(args, " "))
	case cmd == "/online":
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		online, err := a.c.GetOnline(ctx)
		if a.report(err) {
			for _, e := range online {
				fmt.Fprintf(a.out, "  %-12s %s\n", e.Room, e.Username)
			}
		}
	case cmd == "/remember":
		a.remember()
	default:
		fmt.Fprintln(a.out, help)
	}
	return true
}

func (a *app) login(username, password string) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	resp, err := a.c.Login(ctx, username, password)
	if !a.report(err) {
		return
	}
	if len(resp.Errors) > 0 {
		printFieldErrors(a.out, resp.Errors)
		return
	}
	a.username.Store(username)
	a.password = password
	fmt.Fprintf(a.out, "welcome, %s\n", resp.Data.Name)
}

func (a *app) signup(username, email, phone, password, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	fe, err := a.c.Signup(ctx, &pb.SignupParams{
		Username:             username,
		Name:                 name,
		Email:                email,
		PhoneNumber:          phone,
		Password:             password,
		PasswordConfirmation: password,
	})
	if !a.report(err) {
		return
	}
	if len(fe) > 0 {
		printFieldErrors(a.out, fe)
		return
	}
	fmt.Fprintf(a.out, "account %s created, run /activate %s\n", username, username)
}

// requestCode emails a code to username and prompts until the user types
// one matching the returned digest.
func (a *app) requestCode(username string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	digest, err := a.c.SendValidationEmail(ctx, username)
	if !a.report(err) {
		return "", false
	}
	for {
		fmt.Fprint(a.out, "validation code (empty to cancel): ")
		if !a.in.Scan() {
			return "", false
		}
		code := strings.TrimSpace(a.in.Text())
		if code == "" {
			return "", false
		}
		if client.CheckCode(digest, code) {
			return code, true
		}
		fmt.Fprintln(a.out, "wrong code")
	}
}

func (a *app) activate(username string) {
	code, ok := a.requestCode(username)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	fe, err := a.c.ActivateUser(ctx, username, code)
	if !a.report(err) {
		return
	}
	if len(fe) > 0 {
		printFieldErrors(a.out, fe)
		return
	}
	fmt.Fprintf(a.out, "%s is active, /login to continue\n", username)
}

func (a *app) reset(username, password string) {
	code, ok := a.requestCode(username)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	fe, err := a.c.ResetPassword(ctx, &pb.ResetPasswordParams{
		Username:             username,
		Password:             password,
		PasswordConfirmation: password,
		Code:                 code,
	})
	if !a.report(err) {
		return
	}
	if len(fe) > 0 {
		printFieldErrors(a.out, fe)
		return
	}
	fmt.Fprintln(a.out, "password changed")
}

func (a *app) join(room string) {
	a.report(a.c.EnterRoom(room))
}

func (a *app) remember() {
	if a.user() == "" {
		fmt.Fprintln(a.out, "log in first")
		return
	}
	a.creds.Put(client.SavedLogin{
		ServerAddr: a.addr,
		Username:   a.user(),
		Password:   a.password,
		LastUsed:   time.Now().Unix(),
	})
	if a.report(a.creds.Save()) {
		fmt.Fprintln(a.out, "login saved")
	}
}

func (a *app) printEvent(ev pb.Event) {
	switch ev.Type {
	case pb.EventMessage:
		m, err := client.DecodeMessage(ev)
		if err != nil {
			slog.Warn("bad event", "err", err)
			return
		}
		fmt.Fprintf(a.out, "[%s] %s: %s\n", m.Room, m.Name, m.Message)
	case pb.EventClientEntered:
		p, err := client.DecodePresence(ev)
		if err != nil {
			slog.Warn("bad event", "err", err)
			return
		}
		switch {
		case p.Room == nil:
			fmt.Fprintf(a.out, "* %s left\n", p.Username)
		case p.Username == a.user():
			fmt.Fprintf(a.out, "* you are in %s with %s\n", *p.Room, strings.Join(p.Occupants, ", "))
		default:
			fmt.Fprintf(a.out, "* %s entered %s\n", p.Username, *p.Room)
		}
	}
}

// report prints err and returns whether it was nil.
func (a *app) report(err error) bool {
	if err == nil {
		return true
	}
	var serr *client.ServerError
	if errors.As(err, &serr) {
		fmt.Fprintln(a.out, serr.Message)
		return false
	}
	fmt.Fprintf(a.out, "error: %v\n", err)
	return false
}

func printFieldErrors(w io.Writer, fe map[string]string) {
	for field, msg := range fe {
		fmt.Fprintf(w, "  %s: %s\n", field, msg)
	}
}
