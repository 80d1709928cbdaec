package logger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_WritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "market.log")
	l, err := New(&Config{LogFile: path, MaxSize: 1, MaxBackups: 1, MaxAge: 1})
	require.NoError(t, err)

	l.WithAccount("alice").Info("Buy executed", zap.String("value", "202"))
	l.Debug("hidden below info")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"account":"alice"`)
	assert.Contains(t, string(data), `"msg":"Buy executed"`)
	assert.NotContains(t, string(data), "hidden below info")
}

func TestWithOperation_CorrelationIDs(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := Wrap(zap.New(core))

	l.WithOperation("buy").Info("one")
	l.WithOperation("buy").Info("two")

	entries := logs.All()
	require.Len(t, entries, 2)
	id1 := entries[0].ContextMap()["correlation_id"]
	id2 := entries[1].ContextMap()["correlation_id"]
	assert.NotEmpty(t, id1)
	assert.NotEqual(t, id1, id2)
}

func TestTrackPerformance(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := Wrap(zap.New(core))

	end := l.TrackPerformance("replay")
	end()

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "Starting operation", entries[0].Message)
	assert.Equal(t, "Operation completed", entries[1].Message)
	assert.Contains(t, entries[1].ContextMap(), "duration")
}

func TestWithOrder(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	Wrap(zap.New(core)).WithOrder(7, "sell").Info("indexed")

	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, uint64(7), ctx["order_id"])
	assert.Equal(t, "sell", ctx["order_type"])
}

func TestWithHelpersChain(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := Wrap(zap.New(core))

	l.WithComponent("runner").WithOperation("sell").WithAccount("carol").Info("step")
	l.LogError("export failed", errors.New("disk full"), zap.String("dir", "exports"))
	l.LogError("no cause", nil)

	entries := logs.All()
	require.Len(t, entries, 3)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "runner", ctx["component"])
	assert.Equal(t, "sell", ctx["operation"])
	assert.Equal(t, "carol", ctx["account"])

	assert.Equal(t, zap.ErrorLevel, entries[1].Level)
	assert.Equal(t, "disk full", entries[1].ContextMap()["error"])
	assert.Equal(t, "exports", entries[1].ContextMap()["dir"])
	assert.NotContains(t, entries[2].ContextMap(), "error")
}

func TestSafeCSVWriter_ConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.csv")
	header := []string{"timestamp", "account", "action"}

	w, err := NewSafeCSVWriter(path, header, 20*time.Millisecond, zap.NewNop())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				assert.NoError(t, w.WriteRecord([]string{"t", fmt.Sprintf("acct-%d", g), "buy"}))
			}
		}(g)
	}
	wg.Wait()

	records, _ := w.GetStats()
	assert.Equal(t, uint64(400), records)
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 401)
	assert.Equal(t, header, rows[0])
}

func TestSafeCSVWriter_HeaderOnlyOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.csv")
	header := []string{"a", "b"}

	for i := 0; i < 2; i++ {
		w, err := NewSafeCSVWriter(path, header, time.Second, zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, w.WriteRecord([]string{"1", "2"}))
		require.NoError(t, w.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n1,2\n", string(data))
}
