package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	domainauth "github.com/target/portal-api/internal/domain/auth"
)

var errNotSignedIn = errors.New("not signed in; run portal-admin login first")

type emailOptions struct {
	Email string
	Name  string
}

func parseEmailFlags(name string, args []string, withName bool) (emailOptions, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts emailOptions
	fs.StringVar(&opts.Email, "email", "", "Account email (required)")
	if withName {
		fs.StringVar(&opts.Name, "name", "", "Full name for the new profile")
	}
	if err := fs.Parse(args); err != nil {
		return emailOptions{}, err
	}

	opts.Email = strings.TrimSpace(opts.Email)
	opts.Name = strings.TrimSpace(opts.Name)
	if opts.Email == "" {
		return emailOptions{}, errors.New("--email is required")
	}
	return opts, nil
}

// readSecret reads one line from r, without the trailing newline.
func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password is required on stdin")
	}
	return line, nil
}

func runLogin(cmdCtx *commandContext, args []string) error {
	opts, err := parseEmailFlags("login", args, false)
	if err != nil {
		return err
	}
	password, err := readSecret(cmdCtx.In)
	if err != nil {
		return err
	}

	s, err := openIdentity(cmdCtx)
	if err != nil {
		return err
	}
	defer s.close(cmdCtx)

	if err := s.Manager.SignIn(s.ctx, opts.Email, password); err != nil {
		return err
	}
	return printSnapshot(cmdCtx.Out, s.Manager.Snapshot())
}

func runLogout(cmdCtx *commandContext, _ []string) error {
	s, err := openIdentity(cmdCtx)
	if err != nil {
		return err
	}
	defer s.close(cmdCtx)

	if !s.Manager.Snapshot().Authenticated() {
		return writef(cmdCtx.Out, "not signed in\n")
	}
	return s.Manager.SignOut(s.ctx)
}

func runSignUp(cmdCtx *commandContext, args []string) error {
	opts, err := parseEmailFlags("signup", args, true)
	if err != nil {
		return err
	}
	password, err := readSecret(cmdCtx.In)
	if err != nil {
		return err
	}

	s, err := openIdentity(cmdCtx)
	if err != nil {
		return err
	}
	defer s.close(cmdCtx)

	if err := s.Manager.SignUp(s.ctx, opts.Email, password, opts.Name); err != nil {
		return err
	}
	return writef(cmdCtx.Out, "account created for %s; check your email to confirm it\n", opts.Email)
}

func runResetPassword(cmdCtx *commandContext, args []string) error {
	opts, err := parseEmailFlags("reset-password", args, false)
	if err != nil {
		return err
	}

	s, err := openIdentity(cmdCtx)
	if err != nil {
		return err
	}
	defer s.close(cmdCtx)

	if err := s.Manager.ResetPassword(s.ctx, opts.Email); err != nil {
		return err
	}
	return writef(cmdCtx.Out, "password reset email sent to %s\n", opts.Email)
}

func runUpdatePassword(cmdCtx *commandContext, _ []string) error {
	password, err := readSecret(cmdCtx.In)
	if err != nil {
		return err
	}

	s, err := openIdentity(cmdCtx)
	if err != nil {
		return err
	}
	defer s.close(cmdCtx)

	if !s.Manager.Snapshot().Authenticated() {
		return errNotSignedIn
	}
	if err := s.Manager.UpdatePassword(s.ctx, password); err != nil {
		return err
	}
	return writef(cmdCtx.Out, "password updated\n")
}

func runWhoAmI(cmdCtx *commandContext, _ []string) error {
	s, err := openIdentity(cmdCtx)
	if err != nil {
		return err
	}
	defer s.close(cmdCtx)

	return printSnapshot(cmdCtx.Out, s.Manager.Snapshot())
}

func runWatch(cmdCtx *commandContext, _ []string) error {
	s, err := openIdentity(cmdCtx)
	if err != nil {
		return err
	}
	defer s.close(cmdCtx)

	if !s.Manager.Snapshot().Authenticated() {
		return errNotSignedIn
	}

	// Listeners run under the manager's lock; hand snapshots to this goroutine.
	updates := make(chan domainauth.Snapshot, 16)
	unwatch := s.Manager.Watch(func(snap domainauth.Snapshot) {
		select {
		case updates <- snap:
		default:
		}
	})
	defer unwatch()

	s.Manager.SetVisible(true)
	defer s.Manager.Unload()

	if err := writef(cmdCtx.Out, "online; press Ctrl-C to go offline\n"); err != nil {
		return err
	}
	for {
		select {
		case <-s.ctx.Done():
			return nil
		case snap := <-updates:
			if err := printSnapshot(cmdCtx.Out, snap); err != nil {
				return err
			}
			if !snap.Authenticated() && !snap.Loading {
				return errNotSignedIn
			}
		}
	}
}

func runClients(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("clients", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	search := fs.String("search", "", "Filter by name or email substring")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := openIdentity(cmdCtx)
	if err != nil {
		return err
	}
	defer s.close(cmdCtx)

	snap := s.Manager.Snapshot()
	if !snap.Authenticated() {
		return errNotSignedIn
	}
	if !snap.IsAdmin() {
		return errors.New("admin role required")
	}

	clients, err := s.API.ListClients(s.ctx, *search)
	if err != nil {
		return err
	}
	return printClients(cmdCtx.Out, clients)
}

func printSnapshot(w io.Writer, snap domainauth.Snapshot) error {
	if snap.Loading {
		return writef(w, "loading\n")
	}
	if !snap.Authenticated() {
		return writef(w, "not signed in\n")
	}
	if err := writef(w, "user:    %s <%s>\n", snap.User.ID, snap.User.Email); err != nil {
		return err
	}
	if snap.Profile == nil {
		return writef(w, "profile: none\n")
	}
	return writef(w, "profile: role=%s active=%t admin=%t\n", snap.Profile.Role, snap.Profile.IsActive, snap.IsAdmin())
}

func printClients(w io.Writer, clients []*domainauth.Profile) error {
	if len(clients) == 0 {
		return writef(w, "no clients\n")
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := writef(tw, "ID\tEMAIL\tNAME\tONLINE\tLAST SEEN\n"); err != nil {
		return err
	}
	for _, c := range clients {
		name := "-"
		if c.FullName != nil && *c.FullName != "" {
			name = *c.FullName
		}
		lastSeen := "never"
		if c.LastSeen != nil {
			lastSeen = c.LastSeen.UTC().Format(time.RFC3339)
		}
		if err := writef(tw, "%s\t%s\t%s\t%t\t%s\n", c.ID, c.Email, name, c.IsOnline, lastSeen); err != nil {
			return err
		}
	}
	return tw.Flush()
}
