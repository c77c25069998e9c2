package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cloudmeeting/orderhub/pkg/datastore"
	"github.com/cloudmeeting/orderhub/pkg/logging"
	"github.com/cloudmeeting/orderhub/pkg/server"
	"github.com/cloudmeeting/orderhub/pkg/store"
	"github.com/cloudmeeting/orderhub/pkg/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newFlagSet() *pflag.FlagSet {
	def := server.DefaultConfig()
	fs := pflag.NewFlagSet("orderhub-server", pflag.ContinueOnError)

	fs.String("config", "", "YAML config file (flags and ORDERHUB_* env vars override it)")
	fs.String("listen", def.ListenAddr, "TCP bind address for the frame protocol")
	fs.String("relay", def.RelayAddr, "UDP bind address for the media relay (empty to disable)")
	fs.String("http", def.HTTPAddr, "HTTP bind address for /metrics, /healthz and /ws (empty to disable)")
	fs.String("store", "file", "storage backend: file or sqlite")
	fs.String("data-dir", def.DataDir, "directory for documents, database and generated certificates")
	fs.String("db", "", "SQLite database path (default: <data-dir>/orderhub.db)")
	fs.Bool("tls", false, "serve the TCP listener over TLS")
	fs.String("cert", "", "TLS certificate file (auto-generated if empty)")
	fs.String("key", "", "TLS private key file (auto-generated if empty)")
	fs.Duration("heartbeat-interval", def.HeartbeatInterval, "how often idle connections are swept")
	fs.Duration("idle-timeout", def.IdleTimeout, "inactivity after which a connection is dropped")
	fs.Duration("metrics-interval", def.MetricsInterval, "periodic metrics log (0 to disable)")
	fs.Int64("backlog-threshold", def.BacklogThreshold, "outbound bytes above which media frames are skipped")
	fs.Int64("backlog-limit", def.BacklogLimit, "outbound bytes above which a connection is closed")
	fs.Float64("auth-rate", def.AuthRate, "AUTH requests per second per connection (0 for unlimited)")
	fs.Int("auth-burst", def.AuthBurst, "AUTH request burst per connection")
	fs.String("log-level", "info", "Log level: "+logging.LevelNames())
	fs.String("log-format", "text", "Log format: text or json")
	fs.Bool("export-users", false, "Export all users as YAML and exit")
	fs.Bool("export-orders", false, "Export all work orders as YAML and exit")
	fs.Bool("version", false, "print version and exit")
	return fs
}

// loadConfig layers defaults, the optional config file, ORDERHUB_* env vars
// and flags, in increasing precedence.
func loadConfig(fs *pflag.FlagSet, args []string) (*viper.Viper, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("ORDERHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}
	return v, nil
}

func serverConfig(v *viper.Viper) server.Config {
	return server.Config{
		ListenAddr:        v.GetString("listen"),
		RelayAddr:         v.GetString("relay"),
		HTTPAddr:          v.GetString("http"),
		TLS:               v.GetBool("tls"),
		CertFile:          v.GetString("cert"),
		KeyFile:           v.GetString("key"),
		DataDir:           v.GetString("data-dir"),
		HeartbeatInterval: v.GetDuration("heartbeat-interval"),
		IdleTimeout:       v.GetDuration("idle-timeout"),
		MetricsInterval:   v.GetDuration("metrics-interval"),
		BacklogThreshold:  v.GetInt64("backlog-threshold"),
		BacklogLimit:      v.GetInt64("backlog-limit"),
		AuthRate:          v.GetFloat64("auth-rate"),
		AuthBurst:         v.GetInt("auth-burst"),
	}
}

func openStore(v *viper.Viper) (store.DataStore, error) {
	dataDir := v.GetString("data-dir")
	switch kind := v.GetString("store"); kind {
	case "file":
		return store.NewFile(dataDir)
	case "sqlite":
		path := v.GetString("db")
		if path == "" {
			if err := os.MkdirAll(dataDir, 0o750); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
			path = filepath.Join(dataDir, "orderhub.db")
		}
		return datastore.New(path)
	default:
		return nil, fmt.Errorf("unknown store %q (valid: file, sqlite)", kind)
	}
}

func export(v *viper.Viper) error {
	st, err := openStore(v)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if v.GetBool("export-users") {
		data, err := server.ExportUsersYAML(st)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
	}
	if v.GetBool("export-orders") {
		data, err := server.ExportOrdersYAML(st)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
	}
	return nil
}

func run(args []string) error {
	fs := newFlagSet()
	v, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if v.GetBool("version") {
		version.Print(os.Stdout, "orderhub-server")
		return nil
	}

	// Configure structured logging
	if err := logging.Setup(logging.Options{
		Level:  v.GetString("log-level"),
		Format: v.GetString("log-format"),
		Output: os.Stdout,
	}); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	// Handle export commands (run and exit)
	if v.GetBool("export-users") || v.GetBool("export-orders") {
		return export(v)
	}

	st, err := openStore(v)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	slog.Info("starting order hub", "version", version.String(), "store", v.GetString("store"))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(serverConfig(v), server.Dependencies{Store: st})
	return srv.Run(ctx)
}
