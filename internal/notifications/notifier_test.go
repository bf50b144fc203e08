package notifications

import (
	"bytes"
	"context"
	"strings"
	"testing"

	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailureEventUsesPublicMessage(t *testing.T) {
	t.Parallel()

	ev := FailureEvent("s", "add_to_cart", pkgerrors.New(pkgerrors.CodeOutOfStock, "product 1: requested 8, available 7"))
	assert.Equal(t, KindFailed, ev.Kind)
	assert.Equal(t, pkgerrors.CodeOutOfStock, ev.Code)
	assert.Equal(t, "not enough stock for the requested quantity: product 1: requested 8, available 7", ev.Message)

	ev = FailureEvent("s", "remove_from_cart", pkgerrors.New(pkgerrors.CodeConflict, "line 3 still present"))
	assert.Equal(t, pkgerrors.MetadataFor(pkgerrors.CodeConflict).PublicMessage, ev.Message)

	ev = FailureEvent("s", "clear_cart", assert.AnError)
	assert.Equal(t, pkgerrors.CodeInternal, ev.Code)
	assert.Equal(t, "something went wrong", ev.Message)
}

func TestRecorderAndMulti(t *testing.T) {
	t.Parallel()

	first, second := NewRecorder(), NewRecorder()
	n := Multi{first, nil, second, Nop{}}

	n.Changed(context.Background(), ChangeEvent("s", "add_to_cart", 2, decimal.NewFromInt(1000000)))
	n.Failed(context.Background(), FailureEvent("s", "add_to_cart", pkgerrors.New(pkgerrors.CodeNotFound, "gone")))

	for _, rec := range []*Recorder{first, second} {
		events := rec.Events()
		require.Len(t, events, 2)
		assert.Equal(t, KindChanged, events[0].Kind)
		assert.Equal(t, 2, events[0].Count)
		last, ok := rec.Last(KindChanged)
		require.True(t, ok)
		assert.True(t, last.Total.Equal(decimal.NewFromInt(1000000)))
	}

	_, ok := NewRecorder().Last(KindFailed)
	assert.False(t, ok)
}

func TestLogNotifierWritesStructuredFields(t *testing.T) {
	t.Setenv("LOG_FORMAT", "json")
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Level: "info", Output: &buf})
	n := NewLogNotifier(logg)

	n.Changed(context.Background(), ChangeEvent("anon-1", "add_to_cart", 3, decimal.NewFromInt(42)))
	n.Failed(context.Background(), FailureEvent("anon-1", "add_to_cart", pkgerrors.New(pkgerrors.CodeDependency, "timeout")))

	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"count":3`)
	assert.Contains(t, lines[0], `"total":"42"`)
	assert.Contains(t, lines[1], `"code":"DEPENDENCY_ERROR"`)
	assert.Contains(t, lines[1], `"level":"warn"`)
}
