package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/target/portal-api/config"
	"github.com/target/portal-api/internal/bootstrap"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
	Out    io.Writer
	In     io.Reader
}

func main() {
	logger := bootstrap.InitCLILogger(os.Stderr, os.Getenv("PORTAL_ADMIN_DEBUG") != "")

	if len(os.Args) < 2 {
		if err := printUsage(os.Stdout); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(os.Stdout); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
		Out:    os.Stdout,
		In:     os.Stdin,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		if werr := writef(os.Stderr, "error: %v\n", runErr); werr != nil {
			logger.Error("print error failed", "error", werr)
		}
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"migrate": {
			name:        "migrate",
			description: "Run profile schema migrations (--status lists pending ones)",
			run:         runMigrations,
		},
		"login": {
			name:        "login",
			description: "Sign in with email and password; password is read from stdin",
			run:         runLogin,
		},
		"logout": {
			name:        "logout",
			description: "Sign out and clear the persisted session",
			run:         runLogout,
		},
		"signup": {
			name:        "signup",
			description: "Register a new account and create its profile",
			run:         runSignUp,
		},
		"reset-password": {
			name:        "reset-password",
			description: "Send a password reset email",
			run:         runResetPassword,
		},
		"update-password": {
			name:        "update-password",
			description: "Change the signed-in user's password; new password is read from stdin",
			run:         runUpdatePassword,
		},
		"whoami": {
			name:        "whoami",
			description: "Show the restored identity and profile",
			run:         runWhoAmI,
		},
		"watch": {
			name:        "watch",
			description: "Keep the session online with presence heartbeats until interrupted",
			run:         runWatch,
		},
		"clients": {
			name:        "clients",
			description: "List client profiles with presence (admin only)",
			run:         runClients,
		},
	}
}

func printUsage(w io.Writer) error {
	if err := writef(w, "Usage: portal-admin <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(w, "Available commands:\n"); err != nil {
		return err
	}
	cmds := commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := writef(w, "  %-18s %s\n", name, cmds[name].description); err != nil {
			return err
		}
	}
	return nil
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}
