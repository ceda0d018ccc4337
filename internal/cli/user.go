package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/orrn/printdesk/internal/api/middleware"
	"github.com/orrn/printdesk/internal/config"
	"github.com/orrn/printdesk/internal/core"
	"github.com/orrn/printdesk/internal/db"
)

const generatedPasswordLength = 12

type userOptions struct {
	username string
	role     string
	generate bool
}

func buildUserCommand(load func() (*config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}

	var opts userOptions
	add := &cobra.Command{
		Use:   "add",
		Short: "Create an account that must change its password on first login",
		Long: `Create an account. Missing values are prompted for on stdin.
With --generate a random strong password is printed once; otherwise the
password is read from stdin and must satisfy the strength policy.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			database, err := db.Open(db.Config{Path: cfg.Database.Path})
			if err != nil {
				return err
			}
			store := db.NewStore(database)
			defer store.Close()

			return addUser(cmd.Context(), store, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	add.Flags().StringVarP(&opts.username, "username", "u", "", "account name")
	add.Flags().StringVarP(&opts.role, "role", "r", "", "user or admin (default user)")
	add.Flags().BoolVarP(&opts.generate, "generate", "g", false, "generate a random password")

	cmd.AddCommand(add)
	return cmd
}

type userCreator interface {
	CreateUser(ctx context.Context, u *db.User) error
}

func addUser(ctx context.Context, users userCreator, opts userOptions, in io.Reader, out io.Writer) error {
	r := bufio.NewReader(in)
	prompt := func(label string) (string, error) {
		fmt.Fprint(out, label)
		line, err := r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}

	username := strings.TrimSpace(opts.username)
	if username == "" {
		var err error
		if username, err = prompt("Username: "); err != nil {
			return err
		}
	}
	if username == "" {
		return errors.New("username cannot be empty")
	}

	role := opts.role
	if role == "" {
		role = string(core.RoleUser)
	}
	if role != string(core.RoleUser) && role != string(core.RoleAdmin) {
		return fmt.Errorf("role must be 'user' or 'admin', got %q", role)
	}

	var password string
	if opts.generate {
		pw, err := middleware.GeneratePassword(generatedPasswordLength)
		if err != nil {
			return err
		}
		password = pw
	} else {
		pw, err := prompt("Password: ")
		if err != nil {
			return err
		}
		if !middleware.IsStrongPassword(pw) {
			return errors.New(middleware.PasswordPolicy)
		}
		password = pw
	}

	hash, err := middleware.HashPassword(password)
	if err != nil {
		return err
	}

	u := &db.User{
		Username:           username,
		PasswordHash:       hash,
		Role:               core.Role(role),
		MustChangePassword: true,
	}
	if err := users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, db.ErrUserExists) {
			return fmt.Errorf("user %q already exists", username)
		}
		return err
	}

	if opts.generate {
		fmt.Fprintf(out, "Generated password for %s: %s\n", username, password)
	}
	fmt.Fprintf(out, "User %q added (role %s). The password must be changed on first login.\n", username, role)
	return nil
}
