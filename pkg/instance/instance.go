package instance

import (
	"os"

	"github.com/angelmondragon/cartsync/pkg/env"
)

// ID returns the process identifier used in logs: CARTSYNC_INSTANCE_ID,
// then DYNO, then the hostname.
func ID() string {
	if id := env.Get("CARTSYNC_INSTANCE_ID", ""); id != "" {
		return id
	}
	if id := env.Get("DYNO", ""); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
