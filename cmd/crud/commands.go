package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rodrigorsdev/r2.blockchain.crud/internal/service/auth"
	apiclient "github.com/rodrigorsdev/r2.blockchain.crud/pkg/api/client"
)

const requestTimeout = 15 * time.Second

type rootOptions struct {
	apiBase string
	token   string
}

// NewRootCmd builds the crud command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "crud",
		Short:         "Operate a user registry",
		Long:          "crud mints caller tokens and calls the user registry API.",
		Version:       buildVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Help()
			return fmt.Errorf("no command specified")
		},
	}
	rootCmd.PersistentFlags().StringVar(&opts.apiBase, "api", "", "API base URL (default from config or "+defaultAPIBaseURL+")")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", "", "bearer token (default $REGISTRY_TOKEN or saved config)")

	rootCmd.AddCommand(newTokenCmd(opts))
	rootCmd.AddCommand(newAddCmd(opts))
	rootCmd.AddCommand(newUpdateCmd(opts))
	rootCmd.AddCommand(newRemoveCmd(opts))
	rootCmd.AddCommand(newGetCmd(opts))
	rootCmd.AddCommand(newExistsCmd(opts))
	rootCmd.AddCommand(newLengthCmd(opts))
	rootCmd.AddCommand(newMeCmd(opts))
	rootCmd.AddCommand(newWatchCmd(opts))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func (o *rootOptions) client() (*apiclient.Client, error) {
	base := strings.TrimSpace(o.apiBase)
	if base == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		base = cfg.APIBaseURL
	}
	return apiclient.New(base)
}

func (o *rootOptions) bearer() (string, error) {
	if token := strings.TrimSpace(o.token); token != "" {
		return token, nil
	}
	if token := strings.TrimSpace(os.Getenv("REGISTRY_TOKEN")); token != "" {
		return token, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	if cfg.AccessToken == "" {
		return "", errors.New("no token: run `crud token --save` or pass --token")
	}
	return cfg.AccessToken, nil
}

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		identity string
		secret   string
		ttl      time.Duration
		save     bool
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for an identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := signingSecret(cmd, secret)
			if err != nil {
				return err
			}
			svc := auth.New(nil, auth.Options{Secret: key, TokenTTL: ttl})
			token, err := svc.Issue(identity)
			if err != nil {
				return err
			}
			if save {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				if base := strings.TrimSpace(opts.apiBase); base != "" {
					cfg.APIBaseURL = base
				}
				cfg.AccessToken = token.AccessToken
				cfg.Identity = token.Identity
				if err := saveConfig(cfg); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "token saved for %s (expires %s)\n", token.Identity, token.ExpiresAt.Format(time.RFC3339))
			}
			fmt.Fprintln(cmd.OutOrStdout(), token.AccessToken)
			return nil
		},
	}
	cmd.Flags().StringVar(&identity, "identity", "", "caller address (0x followed by 40 hex digits)")
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (default $REGISTRY_JWT_SECRET or prompt)")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTokenTTL, "token lifetime")
	cmd.Flags().BoolVar(&save, "save", false, "store the token and API URL in the config file")
	_ = cmd.MarkFlagRequired("identity")
	return cmd
}

// signingSecret resolves the secret from the flag, the environment, or a no-echo prompt.
func signingSecret(cmd *cobra.Command, flagValue string) (string, error) {
	if secret := strings.TrimSpace(flagValue); secret != "" {
		return secret, nil
	}
	if secret := strings.TrimSpace(os.Getenv("REGISTRY_JWT_SECRET")); secret != "" {
		return secret, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("signing secret required: pass --secret or set REGISTRY_JWT_SECRET")
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Signing secret: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprint(cmd.ErrOrStderr(), "\n")
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	secret := strings.TrimSpace(string(raw))
	if secret == "" {
		return "", errors.New("empty signing secret")
	}
	return secret, nil
}

func newAddCmd(opts *rootOptions) *cobra.Command {
	var name, email string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register the token holder",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuthedClient(cmd, opts, func(ctx context.Context, cli *apiclient.Client, token string) error {
				index, err := cli.Add(ctx, token, name, email)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %s at index %d\n", email, index)
				return nil
			})
		},
	}
	userFlags(cmd, &name, &email)
	return cmd
}

func newUpdateCmd(opts *rootOptions) *cobra.Command {
	var name, email string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Change the token holder's name and email",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuthedClient(cmd, opts, func(ctx context.Context, cli *apiclient.Client, token string) error {
				if err := cli.Update(ctx, token, name, email); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "updated %s\n", email)
				return nil
			})
		},
	}
	userFlags(cmd, &name, &email)
	return cmd
}

func newRemoveCmd(opts *rootOptions) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Delete the record bound to an email",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuthedClient(cmd, opts, func(ctx context.Context, cli *apiclient.Client, token string) error {
				if err := cli.Remove(ctx, token, email); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", email)
				return nil
			})
		},
	}
	emailFlag(cmd, &email)
	return cmd
}

func newGetCmd(opts *rootOptions) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print the name bound to an email",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opts, func(ctx context.Context, cli *apiclient.Client) error {
				name, err := cli.GetUserByEmail(ctx, email)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), name)
				return nil
			})
		},
	}
	emailFlag(cmd, &email)
	return cmd
}

func newExistsCmd(opts *rootOptions) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "exists",
		Short: "Report whether an email is registered",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opts, func(ctx context.Context, cli *apiclient.Client) error {
				exists, err := cli.Exists(ctx, email)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), exists)
				return nil
			})
		},
	}
	emailFlag(cmd, &email)
	return cmd
}

func newLengthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "length",
		Short: "Print the historical index length",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, opts, func(ctx context.Context, cli *apiclient.Client) error {
				length, err := cli.UsersLength(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), length)
				return nil
			})
		},
	}
}

func newMeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show the token holder's record",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuthedClient(cmd, opts, func(ctx context.Context, cli *apiclient.Client, token string) error {
				user, err := cli.Me(ctx, token)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), user)
			})
		},
	}
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var eventType string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream registry events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := opts.client()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			err = cli.WatchEvents(ctx, eventType, func(evt apiclient.Event) error {
				return printJSON(cmd.OutOrStdout(), evt)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&eventType, "type", "", "event type filter (UserAdded or UserUpdated)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(buildVersion))
		},
	}
}

func userFlags(cmd *cobra.Command, name, email *string) {
	cmd.Flags().StringVar(name, "name", "", "user name")
	emailFlag(cmd, email)
	_ = cmd.MarkFlagRequired("name")
}

func emailFlag(cmd *cobra.Command, email *string) {
	cmd.Flags().StringVar(email, "email", "", "user email")
	_ = cmd.MarkFlagRequired("email")
}

func withClient(cmd *cobra.Command, opts *rootOptions, fn func(context.Context, *apiclient.Client) error) error {
	cli, err := opts.client()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()
	return fn(ctx, cli)
}

func withAuthedClient(cmd *cobra.Command, opts *rootOptions, fn func(context.Context, *apiclient.Client, string) error) error {
	token, err := opts.bearer()
	if err != nil {
		return err
	}
	return withClient(cmd, opts, func(ctx context.Context, cli *apiclient.Client) error {
		return fn(ctx, cli, token)
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
