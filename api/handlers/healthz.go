package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/angelmondragon/cartsync/api/responses"
	"github.com/angelmondragon/cartsync/internal/app"
	"github.com/angelmondragon/cartsync/internal/cart"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/logger"
	"go.uber.org/multierr"
)

const readyTimeout = 2 * time.Second

func Healthz(env string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Cartsync-Env", env)
		responses.WriteSuccess(w, map[string]string{"status": "ok"})
	}
}

// Ready pings every snapshot backend connection.
func Ready(logg *logger.Logger, pingers map[string]app.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		names := make([]string, 0, len(pingers))
		for name := range pingers {
			names = append(names, name)
		}
		sort.Strings(names)

		status := make(map[string]string, len(names))
		var err error
		for _, name := range names {
			if pingErr := pingers[name].Ping(ctx); pingErr != nil {
				status[name] = "down"
				err = multierr.Append(err, pkgerrors.Wrap(pkgerrors.CodeDependency, pingErr, name+" unreachable"))
				continue
			}
			status[name] = "up"
		}
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "not ready").WithDetails(status))
			return
		}
		status["status"] = "ready"
		responses.WriteSuccess(w, status)
	}
}

type cartLine struct {
	ID        string `json:"id"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
}

type cartView struct {
	SessionID string     `json:"sessionId"`
	Lines     []cartLine `json:"lines"`
	Count     int        `json:"count"`
	Total     string     `json:"total"`
	Loading   bool       `json:"loading"`
	SyncedAt  *time.Time `json:"lastSyncedAt,omitempty"`
}

// Cart serves the current local cart. It never waits for an in-flight operation.
func Cart(engine *cart.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := engine.Cart()
		view := cartView{
			SessionID: c.SessionID,
			Lines:     make([]cartLine, 0, len(c.Lines)),
			Count:     c.Count(),
			Total:     c.Total().StringFixed(2),
			Loading:   engine.Loading(),
		}
		if !c.LastSyncedAt.IsZero() {
			synced := c.LastSyncedAt
			view.SyncedAt = &synced
		}
		for _, line := range c.Lines {
			view.Lines = append(view.Lines, cartLine{
				ID:        line.ID.String(),
				ProductID: line.ProductID.String(),
				Quantity:  line.Quantity,
				UnitPrice: line.UnitPrice.String(),
			})
		}
		responses.WriteSuccess(w, view)
	}
}
