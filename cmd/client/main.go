// orderhub-client is a small command-line client for the order hub.
//
//	orderhub-client [flags] ping
//	orderhub-client [flags] register requester|specialist
//	orderhub-client [flags] orders
//	orderhub-client [flags] create TITLE [DESCRIPTION]
//	orderhub-client [flags] accept ORDER_ID
//	orderhub-client [flags] status ORDER_ID STATUS
//	orderhub-client [flags] join ROOM_ID
//
// join stays in the room and prints every event until interrupted; lines
// typed on stdin are sent to the room as chat.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/cloudmeeting/orderhub/pkg/client"
	"github.com/cloudmeeting/orderhub/pkg/logging"
	"github.com/cloudmeeting/orderhub/pkg/model"
	"github.com/cloudmeeting/orderhub/pkg/protocol"
	"github.com/cloudmeeting/orderhub/pkg/version"
)

type options struct {
	addr     string
	wsURL    string
	tls      bool
	insecure bool
	user     string
	password string
	timeout  time.Duration
	logLevel string

	profile     string
	saveProfile string
	profiles    string
}

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	var opts options
	fs := pflag.NewFlagSet("orderhub-client", pflag.ContinueOnError)
	fs.StringVar(&opts.addr, "addr", "localhost:9000", "hub TCP address")
	fs.StringVar(&opts.wsURL, "ws", "", "connect over WebSocket instead, e.g. ws://localhost:9002/ws")
	fs.BoolVar(&opts.tls, "tls", false, "use TLS")
	fs.BoolVar(&opts.insecure, "insecure", false, "accept self-signed hub certificates")
	fs.StringVarP(&opts.user, "user", "u", "", "username")
	fs.StringVar(&opts.password, "password", os.Getenv("ORDERHUB_PASSWORD"), "password (default $ORDERHUB_PASSWORD)")
	fs.DurationVar(&opts.timeout, "timeout", 10*time.Second, "per-request timeout")
	fs.StringVar(&opts.logLevel, "log-level", "warn", "Log level: "+logging.LevelNames())
	fs.StringVar(&opts.profile, "profile", "", "use a saved connection profile; explicit flags override it")
	fs.StringVar(&opts.saveProfile, "save-profile", "", "save this connection as a named profile")
	fs.StringVar(&opts.profiles, "profiles-file", client.DefaultProfilePath(), "profiles file")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		version.Print(stdout, "orderhub-client")
		return nil
	}
	if err := logging.Setup(logging.Options{Level: opts.logLevel, Output: os.Stderr}); err != nil {
		return err
	}

	if err := applyProfiles(fs, &opts); err != nil {
		return err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return fmt.Errorf("missing command (ping, register, orders, create, accept, status, join)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := connect(ctx, opts)
	if err != nil {
		return err
	}
	defer c.Close()

	cmd, cmdArgs := rest[0], rest[1:]
	reqCtx := func() (context.Context, context.CancelFunc) { return context.WithTimeout(ctx, opts.timeout) }

	switch cmd {
	case "ping":
		rctx, cancel := reqCtx()
		defer cancel()
		rtt, err := c.Ping(rctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "pong in %s\n", rtt.Round(time.Microsecond))
		return nil

	case "register":
		if len(cmdArgs) != 1 {
			return fmt.Errorf("usage: register requester|specialist")
		}
		rctx, cancel := reqCtx()
		defer cancel()
		if err := c.Register(rctx, opts.user, opts.password, cmdArgs[0]); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "registered %s as %s\n", opts.user, cmdArgs[0])
		return nil
	}

	if err := login(ctx, c, opts); err != nil {
		return err
	}
	rctx, cancel := reqCtx()
	defer cancel()

	switch cmd {
	case "orders":
		orders, err := c.ListOrders(rctx)
		if err != nil {
			return err
		}
		for _, o := range orders {
			printOrder(stdout, o)
		}
		return nil
	case "create":
		if len(cmdArgs) < 1 || len(cmdArgs) > 2 {
			return fmt.Errorf("usage: create TITLE [DESCRIPTION]")
		}
		desc := ""
		if len(cmdArgs) == 2 {
			desc = cmdArgs[1]
		}
		o, err := c.CreateOrder(rctx, cmdArgs[0], desc)
		if err != nil {
			return err
		}
		printOrder(stdout, o)
		return nil
	case "accept":
		if len(cmdArgs) != 1 {
			return fmt.Errorf("usage: accept ORDER_ID")
		}
		o, err := c.AcceptOrder(rctx, cmdArgs[0])
		if err != nil {
			return err
		}
		printOrder(stdout, o)
		return nil
	case "status":
		if len(cmdArgs) != 2 {
			return fmt.Errorf("usage: status ORDER_ID STATUS")
		}
		o, err := c.SetStatus(rctx, cmdArgs[0], model.Status(cmdArgs[1]))
		if err != nil {
			return err
		}
		printOrder(stdout, o)
		return nil
	case "join":
		if len(cmdArgs) != 1 {
			return fmt.Errorf("usage: join ROOM_ID")
		}
		if err := c.Join(rctx, cmdArgs[0]); err != nil {
			return err
		}
		return follow(ctx, c, stdin, stdout)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// applyProfiles fills unset connection flags from --profile and records
// the result under --save-profile.
func applyProfiles(fs *pflag.FlagSet, opts *options) error {
	if opts.profile == "" && opts.saveProfile == "" {
		return nil
	}
	ps := client.NewProfileStore(opts.profiles)
	if err := ps.Load(); err != nil {
		return err
	}

	if opts.profile != "" {
		p, ok := ps.Get(opts.profile)
		if !ok {
			return fmt.Errorf("no profile named %q in %s", opts.profile, opts.profiles)
		}
		if !fs.Changed("addr") && p.Addr != "" {
			opts.addr = p.Addr
		}
		if !fs.Changed("ws") {
			opts.wsURL = p.WSURL
		}
		if !fs.Changed("tls") {
			opts.tls = p.TLS
		}
		if !fs.Changed("insecure") {
			opts.insecure = p.Insecure
		}
		if !fs.Changed("user") {
			opts.user = p.Username
		}
		ps.Touch(opts.profile, time.Now())
	}

	if opts.saveProfile != "" {
		ps.Put(client.Profile{
			Name:     opts.saveProfile,
			Addr:     opts.addr,
			WSURL:    opts.wsURL,
			TLS:      opts.tls,
			Insecure: opts.insecure,
			Username: opts.user,
			LastUsed: time.Now().Unix(),
		})
	}
	return ps.Save()
}

func connect(ctx context.Context, opts options) (*client.Client, error) {
	dctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	copts := client.Options{TLS: opts.tls, InsecureSkipVerify: opts.insecure}
	if opts.wsURL != "" {
		return client.DialWebSocket(dctx, opts.wsURL, copts)
	}
	return client.Dial(dctx, opts.addr, copts)
}

func login(ctx context.Context, c *client.Client, opts options) error {
	if opts.user == "" {
		return fmt.Errorf("--user is required")
	}
	lctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	profile, err := c.Login(lctx, opts.user, opts.password)
	if err != nil {
		return err
	}
	slog.Info("logged in", "user", profile.Username, "role", profile.Role, "session", c.SessionID())
	return nil
}

func printOrder(w io.Writer, o model.WorkOrder) {
	assignee := o.AssignedTo
	if assignee == "" {
		assignee = "-"
	}
	fmt.Fprintf(w, "%s\t%-11s\t%s\t%s\t%s\n", o.ID, o.Status, o.CreatedBy, assignee, o.Title)
}

// follow prints hub events and sends stdin lines as chat until ctx ends or
// the hub closes the connection.
func follow(ctx context.Context, c *client.Client, stdin io.Reader, stdout io.Writer) error {
	go func() {
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			if err := c.Send(protocol.TypeChat, map[string]string{"text": scanner.Text()}, nil); err != nil {
				slog.Warn("send chat", "err", err)
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case p, ok := <-c.Events():
			if !ok {
				return fmt.Errorf("connection closed by hub")
			}
			fmt.Fprintf(stdout, "%s %s", p.Type, p.JSON)
			if len(p.Binary) > 0 {
				fmt.Fprintf(stdout, " +%d bytes", len(p.Binary))
			}
			fmt.Fprintln(stdout)
		}
	}
}
