package assetselection

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tradefabric/tradefabric/internal/agent"
	"github.com/tradefabric/tradefabric/internal/broker"
	"github.com/tradefabric/tradefabric/internal/config"
	"github.com/tradefabric/tradefabric/internal/model"
)

// 2026-08-19 is a Wednesday, 2026-08-22 a Saturday, 2026-08-23 a Sunday.
var (
	wednesdayNoon = time.Date(2026, 8, 19, 12, 0, 0, 0, time.UTC)
	saturdayNoon  = time.Date(2026, 8, 22, 12, 0, 0, 0, time.UTC)
	sundayEvening = time.Date(2026, 8, 23, 22, 30, 0, 0, time.UTC)
	fridayLate    = time.Date(2026, 8, 21, 22, 30, 0, 0, time.UTC)
)

func TestDefaultForexSchedule(t *testing.T) {
	s := DefaultForexSchedule()

	require.True(t, s.IsOpen(wednesdayNoon, 0))
	require.False(t, s.IsOpen(saturdayNoon, 0))
	require.True(t, s.IsOpen(sundayEvening, 0), "forex opens Sunday 22:00 UTC")
	require.False(t, s.IsOpen(fridayLate, 0), "forex closes Friday 22:00 UTC")
}

func TestSchedule_Tolerance(t *testing.T) {
	s := DefaultForexSchedule()

	// 21:50 Sunday is closed strictly but open with 15 minutes tolerance.
	preOpen := time.Date(2026, 8, 23, 21, 50, 0, 0, time.UTC)
	require.False(t, s.IsOpen(preOpen, 0))
	require.True(t, s.IsOpen(preOpen, 15*time.Minute))

	// Friday 22:10 is open only with tolerance.
	postClose := time.Date(2026, 8, 21, 22, 10, 0, 0, time.UTC)
	require.False(t, s.IsOpen(postClose, 0))
	require.True(t, s.IsOpen(postClose, 15*time.Minute))
}

func TestLoadSchedule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hours.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
trading_hours:
  monday:
    - open: "08:00"
      close: "17:00"
  tuesday:
    - open: "08:00"
      close: "12:00"
    - open: "13:00"
      close: "17:00"
`), 0o644))

	s, err := LoadSchedule(path)
	require.NoError(t, err)

	monday := time.Date(2026, 8, 17, 9, 0, 0, 0, time.UTC)
	require.True(t, s.IsOpen(monday, 0))
	tuesdayLunch := time.Date(2026, 8, 18, 12, 30, 0, 0, time.UTC)
	require.False(t, s.IsOpen(tuesdayLunch, 0), "gap between windows is closed")
	require.False(t, s.IsOpen(wednesdayNoon, 0), "missing day is closed")
}

func TestLoadSchedule_Rejects(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadSchedule(filepath.Join(dir, "missing.yml"))
	require.Error(t, err)

	bad := filepath.Join(dir, "bad.yml")
	require.NoError(t, os.WriteFile(bad, []byte(`
trading_hours:
  monday:
    - open: "25:00"
      close: "17:00"
`), 0o644))
	_, err = LoadSchedule(bad)
	require.Error(t, err)
}

func newTestAgent(t *testing.T, clock time.Time) (*Agent, *broker.Broker) {
	t.Helper()
	b := broker.New(broker.Config{CacheTTL: time.Second})
	a := New(b, config.AssetConfig{
		UpdateInterval:   time.Millisecond,
		PrimarySymbols:   []string{"EUR/USD", "GBP/USD"},
		FallbackSymbols:  []string{"USD/CHF"},
		ToleranceMinutes: 15,
	}, agent.Config{BatchSize: 100, BatchInterval: time.Hour})
	a.SetClock(func() time.Time { return clock })
	_, err := b.Register(AgentID)
	require.NoError(t, err)
	require.NoError(t, a.Setup(context.Background()))
	return a, b
}

func TestAgent_BroadcastsOnChange(t *testing.T) {
	a, b := newTestAgent(t, wednesdayNoon)
	sink, err := b.Register("sink")
	require.NoError(t, err)
	b.Subscribe("sink", model.KindSystemStatus)

	ctx := context.Background()
	worked, err := a.ProcessCycle(ctx)
	require.NoError(t, err)
	require.True(t, worked)
	a.Flush()

	msg, ok := sink.TryPop()
	require.True(t, ok)
	status := msg.Payload.(model.SystemStatus)
	require.Equal(t, model.EventAssetAvailabilityUpdate, status.Event)
	require.Equal(t, []string{"EUR/USD", "GBP/USD", "USD/CHF"}, status.AvailableAssets)
	require.Equal(t, []string{"EUR/USD", "GBP/USD"}, status.RecommendedAssets)

	// No change, no further broadcast.
	a.lastRun = time.Time{}
	worked, err = a.ProcessCycle(ctx)
	require.NoError(t, err)
	require.False(t, worked)
	a.Flush()
	require.Zero(t, sink.Len())
}

func TestAgent_ClosedMarketBroadcastsEmptySet(t *testing.T) {
	a, b := newTestAgent(t, wednesdayNoon)
	sink, err := b.Register("sink")
	require.NoError(t, err)
	b.Subscribe("sink", model.KindSystemStatus)
	ctx := context.Background()

	_, err = a.ProcessCycle(ctx)
	require.NoError(t, err)
	a.Flush()
	sink.Drain(10)

	// The week ends: availability transitions to empty exactly once.
	a.SetClock(func() time.Time { return saturdayNoon })
	a.lastRun = time.Time{}
	worked, err := a.ProcessCycle(ctx)
	require.NoError(t, err)
	require.True(t, worked)
	a.Flush()

	msg, ok := sink.TryPop()
	require.True(t, ok)
	require.Empty(t, msg.Payload.(model.SystemStatus).AvailableAssets)
}

func TestAgent_AnswersAddressedRequest(t *testing.T) {
	a, b := newTestAgent(t, wednesdayNoon)

	exec, err := b.Register("trade_execution")
	require.NoError(t, err)
	other, err := b.Register("bystander")
	require.NoError(t, err)
	b.Subscribe("bystander", model.KindSystemStatus)

	require.NoError(t, a.HandleMessage(context.Background(), model.Message{
		Kind:       model.KindSystemStatus,
		Sender:     "trade_execution",
		Recipients: []string{AgentID},
		Payload:    model.SystemStatus{Event: model.EventAssetAvailabilityRequest},
	}))
	a.Flush()

	msg, ok := exec.TryPop()
	require.True(t, ok, "requester gets the response")
	status := msg.Payload.(model.SystemStatus)
	require.Equal(t, model.EventAssetAvailabilityResponse, status.Event)
	require.Contains(t, status.AvailableAssets, "EUR/USD")

	require.Zero(t, other.Len(), "response is addressed, not broadcast")
}

func TestAgent_IgnoresOtherSystemEvents(t *testing.T) {
	a, b := newTestAgent(t, wednesdayNoon)
	requester, err := b.Register("requester")
	require.NoError(t, err)

	require.NoError(t, a.HandleMessage(context.Background(), model.Message{
		Kind:    model.KindSystemStatus,
		Sender:  "requester",
		Payload: model.SystemStatus{Event: model.EventShutdown},
	}))
	a.Flush()
	require.Zero(t, requester.Len(), "shutdown notice gets no reply")
}
