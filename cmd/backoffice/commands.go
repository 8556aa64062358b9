package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jrsteele09/go-backoffice-client/api"
	"github.com/jrsteele09/go-backoffice-client/internal/config"
	"github.com/jrsteele09/go-backoffice-client/internal/metrics"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const dateLayout = "02/01/2006"

// cli holds what the commands share for one invocation.
type cli struct {
	v      *viper.Viper
	in     io.Reader
	out    io.Writer
	cfg    config.Config
	client *api.Client

	configFile  string
	metricsFile string
}

func newCLI(v *viper.Viper, in io.Reader, out io.Writer) *cli {
	return &cli{v: v, in: in, out: out}
}

// rootCmd builds the command tree. The caller runs teardown once the command
// has finished, whether or not it failed.
func (c *cli) rootCmd() *cobra.Command {
	v, in, out := c.v, c.in, c.out

	root := &cobra.Command{
		Use:           "backoffice",
		Short:         "Back Office API client",
		Long:          "Command line client for the back-office API: products, prices, customers, reservations and sales summary",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup()
		},
	}
	root.SetIn(in)
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configFile, "config", "c", "", "Configuration file path")
	flags.String("base-url", "", "Back-office API base URL")
	flags.BoolP("verbose", "v", false, "Enable verbose logging")
	flags.String("store", "", "Credential store type (file, memory, redis)")
	flags.String("store-path", "", "Credential file path for the file store")
	flags.Duration("timeout", 0, "Request timeout")
	flags.StringVar(&c.metricsFile, "metrics-file", "", "Write call metrics to this file on exit")

	bindings := map[string]string{
		"base_url":   "base-url",
		"verbose":    "verbose",
		"store.type": "store",
		"store.path": "store-path",
		"timeout":    "timeout",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			log.Err(err).Str("flag", flag).Msg("Failed to bind flag")
		}
	}

	root.AddCommand(
		c.loginCmd(),
		c.logoutCmd(),
		c.statusCmd(),
		c.meCmd(),
		c.productsCmd(),
		c.pricesCmd(),
		c.customersCmd(),
		c.reservationsCmd(),
		c.summaryCmd(),
	)
	return root
}

func (c *cli) setup() error {
	if err := config.LoadFile(c.v, c.configFile); err != nil {
		return err
	}
	c.cfg = config.NewFromViper(c.v)
	setupLogging(c.cfg.GetVerbose())

	client, err := api.NewFromConfig(c.cfg)
	if err != nil {
		return fmt.Errorf("api.NewFromConfig: %w", err)
	}
	c.client = client
	return nil
}

func (c *cli) teardown() error {
	if c.client != nil {
		if err := c.client.Close(); err != nil {
			log.Err(err).Msg("Failed to close credential store")
		}
		c.client = nil
	}
	if c.metricsFile != "" {
		return metrics.WriteTextfile(c.metricsFile)
	}
	return nil
}

// authenticated restores the stored session before a resource command.
func (c *cli) authenticated(ctx context.Context) error {
	if _, err := c.client.CheckAuth(ctx); err != nil {
		return fmt.Errorf("not logged in, run 'backoffice login': %w", err)
	}
	return nil
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) loginCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login [username]",
		Short: "Log in and store the session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reader := bufio.NewReader(c.in)
			var username string
			if len(args) > 0 {
				username = args[0]
			} else {
				username = prompt(c.out, reader, "Username: ")
			}
			if password == "" {
				password = os.Getenv("BACKOFFICE_PASSWORD")
			}
			if password == "" {
				password = prompt(c.out, reader, "Password: ")
			}

			displayAppname(c.out, c.cfg.GetAppName())
			cred, err := c.client.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Logged in as %s (%s)\n", cred.User.Username(), cred.User.RoleName())
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (defaults to $BACKOFFICE_PASSWORD or a prompt)")
	return cmd
}

func prompt(out io.Writer, reader *bufio.Reader, label string) string {
	fmt.Fprint(out, label)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out and clear the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.client.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(c.out, "Logged out")
			return nil
		},
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := c.client.CheckAuth(cmd.Context()); err != nil {
				fmt.Fprintln(c.out, "Not logged in")
				return nil
			}
			state := c.client.Session().State()
			fmt.Fprintf(c.out, "Logged in as %s (%s)\n", state.User.Username(), state.User.RoleName())
			fmt.Fprintf(c.out, "API: %s\n", c.cfg.GetBaseURL())
			switch {
			case state.AccessTokenExpiry.IsZero():
				fmt.Fprintln(c.out, "Access token: no expiry information")
			case state.TokenExpired(time.Now()):
				fmt.Fprintf(c.out, "Access token: expired %s (refreshed on next call)\n", state.AccessTokenExpiry.Format(time.RFC3339))
			default:
				fmt.Fprintf(c.out, "Access token: valid until %s\n", state.AccessTokenExpiry.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func (c *cli) meCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show the logged-in user as seen by the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.authenticated(cmd.Context()); err != nil {
				return err
			}
			row, err := c.client.Me(cmd.Context())
			if err != nil {
				return err
			}
			return c.print(row)
		},
	}
}

func (c *cli) summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show the sales summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.authenticated(cmd.Context()); err != nil {
				return err
			}
			row, err := c.client.Summary(cmd.Context())
			if err != nil {
				return err
			}
			return c.print(row)
		},
	}
}

func addListFlags(cmd *cobra.Command, p *api.ListParams, catalog bool) {
	cmd.Flags().IntVar(&p.Page, "page", 0, "Page number")
	cmd.Flags().IntVar(&p.Limit, "limit", 0, "Rows per page")
	cmd.Flags().StringVarP(&p.Search, "search", "s", "", "Search text")
	if catalog {
		cmd.Flags().StringVar(&p.DepartCode, "depart", "", "Department code")
		cmd.Flags().StringVar(&p.SortBy, "sort-by", "", "Sort column")
		cmd.Flags().StringVar(&p.SortOrder, "sort-order", "", "Sort order (ASC or DESC)")
	}
}

func (c *cli) productsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "products",
		Short: "Browse products",
	}

	var params api.ListParams
	list := &cobra.Command{
		Use:   "list",
		Short: "List products",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.authenticated(cmd.Context()); err != nil {
				return err
			}
			page, err := c.client.Products.List(cmd.Context(), params)
			if err != nil {
				return err
			}
			return c.print(page)
		},
	}
	addListFlags(list, &params, true)

	get := &cobra.Command{
		Use:   "get [itemCode]",
		Short: "Show one product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.authenticated(cmd.Context()); err != nil {
				return err
			}
			row, err := c.client.Products.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.print(row)
		},
	}

	cmd.AddCommand(list, get)
	return cmd
}

func (c *cli) pricesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prices",
		Short: "Browse and update prices",
	}

	var params api.ListParams
	list := &cobra.Command{
		Use:   "list",
		Short: "List prices",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.authenticated(cmd.Context()); err != nil {
				return err
			}
			page, err := c.client.Prices.List(cmd.Context(), params)
			if err != nil {
				return err
			}
			return c.print(page)
		},
	}
	addListFlags(list, &params, true)

	update := &cobra.Command{
		Use:   "update [json]",
		Short: "Update a price from a JSON object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var fields api.Row
			if err := json.Unmarshal([]byte(args[0]), &fields); err != nil {
				return fmt.Errorf("invalid price JSON: %w", err)
			}
			if err := c.authenticated(cmd.Context()); err != nil {
				return err
			}
			row, err := c.client.Prices.Update(cmd.Context(), fields)
			if err != nil {
				return err
			}
			return c.print(row)
		},
	}

	batch := &cobra.Command{
		Use:   "batch-update [json-array]",
		Short: "Update several prices from a JSON array",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var rows []api.Row
			if err := json.Unmarshal([]byte(args[0]), &rows); err != nil {
				return fmt.Errorf("invalid price list JSON: %w", err)
			}
			if err := c.authenticated(cmd.Context()); err != nil {
				return err
			}
			row, err := c.client.Prices.BatchUpdate(cmd.Context(), rows)
			if err != nil {
				return err
			}
			return c.print(row)
		},
	}

	cmd.AddCommand(list, update, batch)
	return cmd
}

func (c *cli) customersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "customers",
		Short: "Browse customers",
	}

	var params api.ListParams
	list := &cobra.Command{
		Use:   "list",
		Short: "List customers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.authenticated(cmd.Context()); err != nil {
				return err
			}
			page, err := c.client.Customers.List(cmd.Context(), params)
			if err != nil {
				return err
			}
			return c.print(page)
		},
	}
	addListFlags(list, &params, false)

	var from, to string
	details := &cobra.Command{
		Use:   "details [code]",
		Short: "Show a customer's transactions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parseDate(from)
			if err != nil {
				return err
			}
			end, err := parseDate(to)
			if err != nil {
				return err
			}
			if err := c.authenticated(cmd.Context()); err != nil {
				return err
			}
			rows, err := c.client.Customers.Details(cmd.Context(), args[0], start, end)
			if err != nil {
				return err
			}
			return c.print(rows)
		},
	}
	details.Flags().StringVar(&from, "from", "", "Start date (DD/MM/YYYY)")
	details.Flags().StringVar(&to, "to", "", "End date (DD/MM/YYYY)")

	cmd.AddCommand(list, details)
	return cmd
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected DD/MM/YYYY", s)
	}
	return t, nil
}

func (c *cli) reservationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reservations",
		Short: "Manage reservations",
	}

	var q api.ReservationQuery
	list := &cobra.Command{
		Use:   "list",
		Short: "List reservations for an item and salesperson",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.authenticated(cmd.Context()); err != nil {
				return err
			}
			rows, err := c.client.Reservations.List(cmd.Context(), q)
			if err != nil {
				return err
			}
			return c.print(rows)
		},
	}
	list.Flags().StringVar(&q.ItemCode, "item-code", "", "Item code (required)")
	list.Flags().StringVar(&q.SaleName, "sale-name", "", "Salesperson name (required)")
	list.Flags().StringVar(&q.NameFGS, "name-fgs", "", "FGS name")
	list.Flags().StringVar(&q.Code, "code", "", "Customer code")

	create := &cobra.Command{
		Use:   "create [json]",
		Short: "Create a reservation from a JSON object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var fields api.Row
			if err := json.Unmarshal([]byte(args[0]), &fields); err != nil {
				return fmt.Errorf("invalid reservation JSON: %w", err)
			}
			if err := c.authenticated(cmd.Context()); err != nil {
				return err
			}
			row, err := c.client.Reservations.Create(cmd.Context(), fields)
			if err != nil {
				return err
			}
			return c.print(row)
		},
	}

	update := &cobra.Command{
		Use:   "update [id] [json]",
		Short: "Update a reservation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var fields api.Row
			if err := json.Unmarshal([]byte(args[1]), &fields); err != nil {
				return fmt.Errorf("invalid reservation JSON: %w", err)
			}
			if err := c.authenticated(cmd.Context()); err != nil {
				return err
			}
			row, err := c.client.Reservations.Update(cmd.Context(), args[0], fields)
			if err != nil {
				return err
			}
			return c.print(row)
		},
	}

	del := &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a reservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.authenticated(cmd.Context()); err != nil {
				return err
			}
			if err := c.client.Reservations.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Deleted reservation %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, create, update, del)
	return cmd
}
