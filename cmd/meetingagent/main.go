package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/meetingagent/internal/profile"
	"github.com/hrygo/meetingagent/internal/version"
	"github.com/hrygo/meetingagent/server"
	"github.com/hrygo/meetingagent/store"
	"github.com/hrygo/meetingagent/store/db"
)

var rootCmd = &cobra.Command{
	Use:   "meetingagent",
	Short: "An autonomous meeting scheduling agent.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		if path := viper.GetString("config"); path != "" {
			viper.SetConfigFile(path)
			if err := viper.ReadInConfig(); err != nil {
				return errors.Wrapf(err, "failed to read config file %s", path)
			}
		}
		return setupLogger(viper.GetString("log-level"), viper.GetString("log-format"))
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the insight sweep.",
	RunE: func(_ *cobra.Command, _ []string) error {
		instanceProfile, err := loadProfile()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		storeInstance, err := openStore(ctx, instanceProfile)
		if err != nil {
			return err
		}

		s, err := server.NewServer(ctx, instanceProfile, storeInstance)
		if err != nil {
			_ = storeInstance.Close()
			return errors.Wrap(err, "failed to create server")
		}

		c := make(chan os.Signal, 1)
		// Trigger graceful shutdown on SIGINT or SIGTERM.
		// The default signal sent by the `kill` command is SIGTERM,
		// which is taken as the graceful shutdown signal for many systems, eg., Kubernetes, Gunicorn.
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)

		if err := s.Start(ctx); err != nil {
			s.Shutdown(ctx)
			return errors.Wrap(err, "failed to start server")
		}
		printGreetings(instanceProfile)

		<-c
		s.Shutdown(ctx)
		return nil
	},
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 8081)
	viper.SetDefault("log-level", "info")
	viper.SetDefault("log-format", "text")

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (yaml, json or toml)")
	flags.String("mode", "dev", `mode of server, can be "prod" or "dev"`)
	flags.String("addr", "", "address of server")
	flags.Int("port", 8081, "port of server")
	flags.String("data", "", "data directory")
	flags.String("driver", "sqlite", "database driver (sqlite or postgres)")
	flags.String("dsn", "", "database source name")
	flags.String("timezone", "", "calendar timezone, e.g. Europe/Berlin")
	flags.String("agent-mode", "", "default autonomy mode: CONSERVATIVE, BALANCED, AUTONOMOUS or LEARNING")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("log-format", "text", "log format: text or json")
	flags.StringP("user", "u", "", "calendar owner identity for one-shot commands")

	for _, name := range []string{"config", "mode", "addr", "port", "data", "driver", "dsn", "timezone", "agent-mode", "log-level", "log-format", "user"} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("meetingagent")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(serveCmd)
	addAgentCommands(rootCmd)
}

// loadProfile starts from the MEETINGAGENT_* environment and applies flags,
// config file values and their environment overrides on top.
func loadProfile() (*profile.Profile, error) {
	p := &profile.Profile{}
	p.FromEnv()

	p.Mode = viper.GetString("mode")
	p.Addr = viper.GetString("addr")
	p.Port = viper.GetInt("port")
	p.Data = viper.GetString("data")
	p.Driver = viper.GetString("driver")
	p.DSN = viper.GetString("dsn")
	p.LogLevel = viper.GetString("log-level")
	if tz := viper.GetString("timezone"); tz != "" {
		p.Timezone = tz
	}
	if mode := viper.GetString("agent-mode"); mode != "" {
		p.AgentMode = strings.ToUpper(mode)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	p.Version = version.GetCurrentVersion(p.Mode)
	return p, nil
}

func openStore(ctx context.Context, p *profile.Profile) (*store.Store, error) {
	dbDriver, err := db.NewDBDriver(p)
	if err != nil {
		return nil, err
	}
	storeInstance := store.New(dbDriver, p)
	if err := storeInstance.Migrate(ctx); err != nil {
		_ = storeInstance.Close()
		return nil, errors.Wrap(err, "failed to migrate")
	}
	return storeInstance, nil
}

func setupLogger(level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return errors.Errorf("invalid log format %q: only 'text' and 'json' are supported", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("meetingagent %s started successfully!\n", p.Version)
	fmt.Printf("Data directory: %s\nDatabase driver: %s\nAgent mode: %s\nTimezone: %s\n",
		p.Data, p.Driver, p.AgentMode, p.Timezone)
	if p.Addr == "" {
		fmt.Printf("Server running on port %d\n", p.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", p.Addr, p.Port)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
