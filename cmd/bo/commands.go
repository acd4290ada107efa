package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type rootOpts struct {
	addr     string
	caPath   string
	insecure bool
	timeout  time.Duration

	in *bufio.Reader
}

func newRootCmd(version, buildDate string) *cobra.Command {
	o := &rootOpts{}
	cmd := &cobra.Command{
		Use:           "bo",
		Short:         "Back-office admin CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defAddr := os.Getenv("BO_ADDR")
	if defAddr == "" {
		defAddr = "http://localhost:8080"
	}
	cmd.PersistentFlags().StringVar(&o.addr, "addr", defAddr, "server base URL (env BO_ADDR)")
	cmd.PersistentFlags().StringVar(&o.caPath, "cacert", "", "CA cert (PEM)")
	cmd.PersistentFlags().BoolVar(&o.insecure, "insecure", false, "skip cert verify (dev)")
	cmd.PersistentFlags().DurationVar(&o.timeout, "timeout", 30*time.Second, "request timeout")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print the CLI version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "bo %s (%s)\n", version, buildDate)
			},
		},
		newRegisterCmd(o),
		newLoginCmd(o),
		newLogoutCmd(),
		newWhoamiCmd(o),
		newForgotCmd(o),
		newResetCmd(o),
		newPasswdCmd(o),
		newUsersCmd(o),
		newSetRoleCmd(o),
	)
	return cmd
}

// client builds an anonymous API client.
func (o *rootOpts) client() (*apiClient, error) {
	return newClient(o.addr, o.caPath, o.insecure, o.timeout)
}

// authed builds a client carrying the saved token. The address saved at
// login is used unless --addr was given.
func (o *rootOpts) authed(cmd *cobra.Command) (*apiClient, error) {
	tf, err := loadToken()
	if err != nil {
		return nil, err
	}
	addr := o.addr
	if !cmd.Flags().Changed("addr") && tf.Addr != "" {
		addr = tf.Addr
	}
	c, err := newClient(addr, o.caPath, o.insecure, o.timeout)
	if err != nil {
		return nil, err
	}
	c.token = tf.AccessToken
	return c, nil
}

// readPassword prompts on the terminal without echo, or reads one line
// from piped input.
func (o *rootOpts) readPassword(cmd *cobra.Command, prompt string) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
	if o.in == nil {
		o.in = bufio.NewReader(cmd.InOrStdin())
	}
	line, err := o.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (o *rootOpts) newPassword(cmd *cobra.Command, given string) (string, error) {
	if given != "" {
		return given, nil
	}
	pw, err := o.readPassword(cmd, "New password: ")
	if err != nil {
		return "", err
	}
	confirm, err := o.readPassword(cmd, "Confirm password: ")
	if err != nil {
		return "", err
	}
	if pw != confirm {
		return "", errors.New("passwords do not match")
	}
	return pw, nil
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

type accountOut struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Role      string     `json:"role"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

func newRegisterCmd(o *rootOpts) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:     "register",
		Short:   "Create an admin account",
		Example: "  bo register --email admin@example.com  # prompts for password",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := o.newPassword(cmd, password)
			if err != nil {
				return err
			}
			c, err := o.client()
			if err != nil {
				return err
			}
			var acc accountOut
			body := map[string]string{"email": email, "password": pw}
			if err := c.do(cmd.Context(), http.MethodPost, "/api/admin/register", body, &acc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s (%s)\n", acc.Email, acc.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email (required)")
	cmd.Flags().StringVar(&password, "password", "", "password (prompted if omitted)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newLoginCmd(o *rootOpts) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and save the session token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw := password
			if pw == "" {
				var err error
				if pw, err = o.readPassword(cmd, "Password: "); err != nil {
					return err
				}
			}
			c, err := o.client()
			if err != nil {
				return err
			}
			var out struct {
				Token     string     `json:"token"`
				ExpiresAt time.Time  `json:"expiresAt"`
				User      accountOut `json:"user"`
			}
			body := map[string]string{"email": email, "password": pw}
			if err := c.do(cmd.Context(), http.MethodPost, "/api/admin/login", body, &out); err != nil {
				return err
			}
			if err := saveToken(tokenFile{AccessToken: out.Token, ExpiresAt: out.ExpiresAt, Addr: c.base}); err != nil {
				return fmt.Errorf("save token: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s (%s), session valid until %s\n",
				out.User.Email, out.User.Role, out.ExpiresAt.Local().Format(time.RFC1123))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email (required)")
	cmd.Flags().StringVar(&password, "password", "", "password (prompted if omitted)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return clearToken()
		},
	}
}

func newWhoamiCmd(o *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := o.authed(cmd)
			if err != nil {
				return err
			}
			var out json.RawMessage
			if err := c.do(cmd.Context(), http.MethodGet, "/api/admin/me", nil, &out); err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func newForgotCmd(o *rootOpts) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "forgot",
		Short: "Request a password reset email",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			var out struct {
				Message string `json:"message"`
			}
			if err := c.do(cmd.Context(), http.MethodPost, "/api/admin/forgot-password", map[string]string{"email": email}, &out); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.Message)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email (required)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// resetSecret accepts either the bare secret or the full emailed link.
func resetSecret(s string) string {
	s = strings.TrimSpace(s)
	if u, err := url.Parse(s); err == nil && u.Scheme != "" {
		p := strings.TrimRight(u.Path, "/")
		return p[strings.LastIndex(p, "/")+1:]
	}
	return s
}

func newResetCmd(o *rootOpts) *cobra.Command {
	var token, password string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Set a new password with an emailed reset token or link",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := o.newPassword(cmd, password)
			if err != nil {
				return err
			}
			c, err := o.client()
			if err != nil {
				return err
			}
			body := map[string]string{"secret": resetSecret(token), "newPassword": pw}
			if err := c.do(cmd.Context(), http.MethodPut, "/api/admin/reset-password", body, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "password has been reset; log in again")
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "reset token or link (required)")
	cmd.Flags().StringVar(&password, "password", "", "new password (prompted if omitted)")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func newPasswdCmd(o *rootOpts) *cobra.Command {
	var current, next string
	cmd := &cobra.Command{
		Use:   "passwd",
		Short: "Change the password of the signed-in account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := o.authed(cmd)
			if err != nil {
				return err
			}
			if current == "" {
				if current, err = o.readPassword(cmd, "Current password: "); err != nil {
					return err
				}
			}
			pw, err := o.newPassword(cmd, next)
			if err != nil {
				return err
			}
			body := map[string]string{"currentPassword": current, "newPassword": pw}
			if err := c.do(cmd.Context(), http.MethodPut, "/api/admin/password", body, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "password changed")
			return nil
		},
	}
	cmd.Flags().StringVar(&current, "current", "", "current password (prompted if omitted)")
	cmd.Flags().StringVar(&next, "new", "", "new password (prompted if omitted)")
	return cmd
}

func newUsersCmd(o *rootOpts) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "users",
		Short: "List accounts (superadmin)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := o.authed(cmd)
			if err != nil {
				return err
			}
			var users []accountOut
			if err := c.do(cmd.Context(), http.MethodGet, "/api/admin/users", nil, &users); err != nil {
				return err
			}
			if asJSON {
				printJSON(cmd.OutOrStdout(), users)
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tEMAIL\tROLE\tLAST LOGIN")
			for _, u := range users {
				last := "-"
				if u.LastLogin != nil {
					last = u.LastLogin.Local().Format(time.DateTime)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u.ID, u.Email, u.Role, last)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newSetRoleCmd(o *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "set-role <account-id> <admin|superadmin>",
		Short: "Change an account role (superadmin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.authed(cmd)
			if err != nil {
				return err
			}
			path := "/api/admin/users/" + url.PathEscape(args[0]) + "/role"
			if err := c.do(cmd.Context(), http.MethodPut, path, map[string]string{"role": args[1]}, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "role of %s set to %s\n", args[0], args[1])
			return nil
		},
	}
}

