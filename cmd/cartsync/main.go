package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/angelmondragon/cartsync/api/routes"
	"github.com/angelmondragon/cartsync/internal/app"
	"github.com/angelmondragon/cartsync/internal/cart"
	"github.com/angelmondragon/cartsync/internal/remote"
	"github.com/angelmondragon/cartsync/pkg/config"
	"github.com/angelmondragon/cartsync/pkg/env"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/instance"
	"github.com/angelmondragon/cartsync/pkg/logger"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

const usage = `usage: cartsync <command> [flags]

commands:
  show                     print the cart
  add -product ID [-qty N] add a product
  remove -line ID          remove a cart line
  update -line ID -qty N   change the quantity of a line
  clear                    empty the cart
  login -token TOKEN       sign in and load the account cart
  logout                   sign out and start an empty anonymous cart
  serve                    run maintenance and expose the ops endpoints
`

func main() {
	logg := logger.New(logger.Options{ServiceName: "cartsync"})

	if err := godotenv.Load(); err != nil {
		logg.Debug(context.Background(), ".env file not found, relying on environment")
	}

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command, args := os.Args[1], os.Args[2:]

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "cartsync",
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = remote.WithRequestID(ctx, uuid.NewString())
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"instance": instance.ID(),
		"command":  command,
	})

	a, err := app.New(ctx, cfg, logg,
		app.WithAnonymousID(env.Get(config.EnvAnonSessionID, "")),
		app.WithToken(env.Get(config.EnvSessionToken, "")),
	)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap cart", err)
		os.Exit(1)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logg.Error(context.Background(), "error closing cart resources", err)
		}
	}()

	if cfg.Metrics.Addr != "" {
		srv := metricsServer(cfg.Metrics.Addr, a)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logg.Error(ctx, "metrics server stopped unexpectedly", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if err := a.Start(ctx); err != nil {
		logg.Warn(ctx, "cart could not be loaded, starting empty")
	}

	if err := run(ctx, a, command, args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", command, publicMessage(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, a *app.App, command string, args []string) error {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	product := fs.String("product", "", "product id")
	line := fs.String("line", "", "cart line id")
	qty := fs.Int("qty", 0, "quantity")
	token := fs.String("token", "", "access token")
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch command {
	case "show", "init":
	case "add":
		if err := a.Engine.AddToCart(ctx, cart.ID(*product), *qty); err != nil {
			return err
		}
	case "remove":
		if err := a.Engine.RemoveFromCart(ctx, cart.ID(*line)); err != nil {
			return err
		}
	case "update":
		if err := a.Engine.UpdateQuantity(ctx, cart.ID(*line), *qty); err != nil {
			return err
		}
	case "clear":
		if err := a.Engine.ClearCart(ctx); err != nil {
			return err
		}
	case "login":
		if _, err := a.Session.Login(ctx, *token); err != nil {
			return err
		}
	case "logout":
		if _, err := a.Session.Logout(ctx); err != nil {
			return err
		}
	case "serve":
		a.Logger.Info(ctx, "serving until interrupted")
		if err := a.Maintenance.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
	return printCart(ctx, a)
}

func printCart(ctx context.Context, a *app.App) error {
	id := a.Session.Current()
	fmt.Printf("session %s (authenticated=%t)\n", id.SessionID, id.Authenticated)

	details, err := a.Engine.Details(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LINE\tPRODUCT\tNAME\tQTY\tUNIT\tSUBTOTAL")
	for _, d := range details {
		name := d.ProductName
		if d.Missing {
			name = "(unavailable)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", d.ID, d.ProductID, name, d.Quantity, d.UnitPrice.StringFixed(2), d.Subtotal.StringFixed(2))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("items %d, total %s\n", a.Engine.Count(), a.Engine.Total().StringFixed(2))
	return nil
}

func publicMessage(err error) string {
	if typed := pkgerrors.As(err); typed != nil {
		meta := pkgerrors.MetadataFor(typed.Code())
		if meta.DetailsAllowed {
			return meta.PublicMessage + ": " + typed.Message()
		}
		return meta.PublicMessage
	}
	return err.Error()
}

func metricsServer(addr string, a *app.App) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(a),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
