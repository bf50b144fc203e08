package migrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/cartsync/pkg/logger"
	"github.com/pressly/goose/v3"
)

type gooseLogger struct {
	logg *logger.Logger
}

func (g gooseLogger) Printf(format string, v ...interface{}) {
	g.logg.Info(context.Background(), strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (g gooseLogger) Fatalf(format string, v ...interface{}) {
	g.logg.Error(context.Background(), strings.TrimSpace(fmt.Sprintf(format, v...)), nil)
}

// SetLogger routes goose output through logg instead of stdout.
func SetLogger(logg *logger.Logger) {
	if logg == nil {
		logg = logger.Nop()
	}
	gooseMu.Lock()
	goose.SetLogger(gooseLogger{logg: logg})
	gooseMu.Unlock()
}
