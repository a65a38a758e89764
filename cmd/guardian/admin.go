package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"syscall"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/voxguard/guardian/internal/adapter/postgres"
	"github.com/voxguard/guardian/internal/config"
	"github.com/voxguard/guardian/internal/domain/user"
	"github.com/voxguard/guardian/internal/service"
)

// runAdmin dispatches admin subcommands (reset-password, create-user, list-users).
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "reset-password":
		return runAdminResetPassword(args[1:])
	case "create-user":
		return runAdminCreateUser(args[1:])
	case "list-users":
		return runAdminListUsers(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: guardian admin <command> [options]

Commands:
  reset-password   Reset an operator's password
  create-user      Create a new operator
  list-users       List all operators
  help             Show this help message

Examples:
  guardian admin reset-password --email admin@localhost
  guardian admin create-user --email op@example.com --name "Operator" --role agent
  guardian admin list-users
`)
}

func loadAdminDeps() (*service.AuthService, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	store := postgres.NewStore(pool)
	authSvc := service.NewAuthService(store, &cfg.Auth)

	cleanup := func() {
		pool.Close()
	}
	return authSvc, cleanup, nil
}

func runAdminResetPassword(args []string) error {
	fs := flag.NewFlagSet("reset-password", flag.ContinueOnError)
	email := fs.String("email", "", "operator email address (required)")
	password := fs.String("password", "", "new password (prompted if not provided)") //nolint:gosec // CLI flag
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *email == "" {
		return fmt.Errorf("--email is required")
	}

	newPass := *password
	if newPass == "" {
		var err error
		newPass, err = promptPassword("New password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		confirm, err := promptPassword("Confirm password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		if newPass != confirm {
			return fmt.Errorf("passwords do not match")
		}
	}

	authSvc, cleanup, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := authSvc.AdminResetPassword(context.Background(), *email, newPass); err != nil {
		return fmt.Errorf("reset password: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Password reset successfully for %s\n", *email)
	return nil
}

func runAdminCreateUser(args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	email := fs.String("email", "", "operator email address (required)")
	name := fs.String("name", "", "operator display name (required)")
	password := fs.String("password", "", "password (prompted if not provided)") //nolint:gosec // CLI flag
	roleFlag := fs.String("role", string(user.RoleViewer), "role: admin, agent, or viewer")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *email == "" {
		return fmt.Errorf("--email is required")
	}
	if *name == "" {
		return fmt.Errorf("--name is required")
	}
	role := user.Role(*roleFlag)
	if !user.ValidRoles[role] {
		return fmt.Errorf("unknown role: %s", *roleFlag)
	}

	pass := *password
	if pass == "" {
		var err error
		pass, err = promptPassword("Password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		confirm, err := promptPassword("Confirm password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		if pass != confirm {
			return fmt.Errorf("passwords do not match")
		}
	}

	authSvc, cleanup, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	u, err := authSvc.Register(context.Background(), &user.CreateRequest{
		Email:    *email,
		Name:     *name,
		Password: pass,
		Role:     role,
	})
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	fmt.Fprintf(os.Stderr, "User created: %s (id=%s, role=%s)\n", u.Email, u.ID, u.Role)
	return nil
}

func runAdminListUsers(args []string) error {
	fs := flag.NewFlagSet("list-users", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	authSvc, cleanup, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	users, err := authSvc.ListUsers(context.Background())
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	if len(users) == 0 {
		fmt.Println("No users found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tEMAIL\tNAME\tROLE\tENABLED")
	for i := range users {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n",
			users[i].ID, users[i].Email, users[i].Name, users[i].Role, users[i].Enabled)
	}
	return w.Flush()
}

// promptPassword reads a password from the terminal without echoing.
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
