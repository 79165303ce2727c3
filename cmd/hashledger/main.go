// Command hashledger is a demonstration CLI exercising the library end to
// end: identity generation, personal-chain append/sync, and local table
// inspection, wired the way a host application would wire the packages.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hashledger/hashledger/config"
	"github.com/hashledger/hashledger/dblog"
	"github.com/hashledger/hashledger/hexcodec"
	"github.com/hashledger/hashledger/identity"
	"github.com/hashledger/hashledger/logging"
	"github.com/hashledger/hashledger/synclog"
	"github.com/hashledger/hashledger/transport"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var configPath string

var rootCmd = &cobra.Command{
	Use:   "hashledger",
	Short: "Client for cryptographically verifiable hash-linked logs",
}

// client bundles what most subcommands need: the loaded config, a logger,
// an identity keypair, and a personal-chain sync controller. Callers that
// only need a subset still pay to build all of it.
type client struct {
	cfg        *config.Config
	logger     *slog.Logger
	identity   *identity.KeyPair
	engine     *dblog.Engine
	controller *synclog.PersonalController
}

func newClient() (*client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	keyBytes, err := os.ReadFile(cfg.Identity.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading identity key: %w", err)
	}
	priv, err := hexcodec.Parse(strings.TrimSpace(string(keyBytes)))
	if err != nil {
		return nil, fmt.Errorf("parsing identity key: %w", err)
	}
	kp, err := identity.FromPrivateKeyBytes(priv)
	if err != nil {
		return nil, fmt.Errorf("loading identity key: %w", err)
	}

	engine, err := dblog.Open(cfg.DBLog.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening local database: %w", err)
	}

	authToken := transport.AuthTokenProvider(func(ctx context.Context) (string, error) {
		return cfg.Transport.BearerToken, nil
	})
	httpClient := transport.NewHTTPClient(cfg.Transport.BaseURL, authToken)

	controller, err := synclog.NewPersonalController(cfg.DBLog.PersonalDB, httpClient, engine, kp)
	if err != nil {
		_ = engine.Close()
		return nil, fmt.Errorf("initializing sync controller: %w", err)
	}
	if err := controller.Initialize(context.Background()); err != nil {
		_ = engine.Close()
		return nil, fmt.Errorf("initializing chain head: %w", err)
	}

	logger := logging.NewJSONLogger(cfg.Logging.Level, logging.Environment{
		Service: cfg.Logging.Service,
		Version: cfg.Logging.Version,
	})

	return &client{cfg: cfg, logger: logger, identity: kp, engine: engine, controller: controller}, nil
}

func (c *client) Close() error { return c.engine.Close() }

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage identity keys",
}

var identityGenerateCmd = &cobra.Command{
	Use:   "generate OUTPUT_PATH",
	Short: "Generate a new identity key and write it hex-encoded to OUTPUT_PATH",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kp, err := identity.Generate()
		if err != nil {
			return fmt.Errorf("generating identity: %w", err)
		}
		hexKey := hexcodec.Emit(kp.Private.Serialize(), false)
		if err := os.WriteFile(args[0], []byte(hexKey+"\n"), 0600); err != nil {
			return fmt.Errorf("writing key file: %w", err)
		}
		addr, err := identity.ChecksumAddress(kp.Public)
		if err != nil {
			return err
		}
		fmt.Printf("Identity written to %s\nAddress: %s\n", args[0], addr)
		return nil
	},
}

var identityAddressCmd = &cobra.Command{
	Use:   "address",
	Short: "Print the checksummed address for the configured identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		addr, err := identity.ChecksumAddress(c.identity.Public)
		if err != nil {
			return err
		}
		fmt.Println(addr)
		return nil
	},
}

var personalCmd = &cobra.Command{
	Use:   "personal",
	Short: "Operate on the personal chain",
}

var personalSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull and apply new entries from the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		var tables []string
		err = logging.LogOperation(cmd.Context(), c.logger, "sync", func() error {
			var syncErr error
			tables, syncErr = c.controller.Sync(cmd.Context())
			return syncErr
		})
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		if len(tables) == 0 {
			fmt.Println("Already up to date.")
			return nil
		}
		fmt.Printf("Applied entries touching: %s\n", strings.Join(tables, ", "))
		return nil
	},
}

var personalAppendCmd = &cobra.Command{
	Use:   "append ACTIONS_JSON_PATH",
	Short: "Append a DBLog action list read from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading actions file: %w", err)
		}
		var actions []dblog.Action
		if err := json.Unmarshal(raw, &actions); err != nil {
			return fmt.Errorf("parsing actions file: %w", err)
		}

		var tables []string
		err = logging.LogOperation(cmd.Context(), c.logger, "append", func() error {
			var appendErr error
			tables, appendErr = c.controller.Append(cmd.Context(), actions)
			return appendErr
		})
		if err != nil {
			return fmt.Errorf("append failed: %w", err)
		}
		fmt.Printf("Appended entry at index %d, touching: %s\n", c.controller.Head().Index, strings.Join(tables, ", "))
		return nil
	},
}

var personalDumpCmd = &cobra.Command{
	Use:   "dump TABLE",
	Short: "Dump all rows of a table in the local replay database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		if !hexcodec.ValidIdentifier(args[0]) {
			return fmt.Errorf("invalid table name %q", args[0])
		}
		rows, err := c.engine.QueryContext(cmd.Context(), `SELECT * FROM `+hexcodec.QuoteIdentifier(args[0]))
		if err != nil {
			return err
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return err
		}
		for rows.Next() {
			values := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return err
			}
			fields := make([]string, len(cols))
			for i, col := range cols {
				fields[i] = fmt.Sprintf("%s=%v", col, values[i])
			}
			fmt.Println(strings.Join(fields, " "))
		}
		return rows.Err()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "hashledger.yaml", "path to config file")

	identityCmd.AddCommand(identityGenerateCmd)
	identityCmd.AddCommand(identityAddressCmd)
	rootCmd.AddCommand(identityCmd)

	personalCmd.AddCommand(personalSyncCmd)
	personalCmd.AddCommand(personalAppendCmd)
	personalCmd.AddCommand(personalDumpCmd)
	rootCmd.AddCommand(personalCmd)
}
