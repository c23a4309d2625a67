package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/playsched-go/internal/logx"
	"github.com/strefethen/playsched-go/internal/playback"
	"github.com/strefethen/playsched-go/internal/schedule"
)

func newTestPoller(store Store, firer Firer, now *time.Time) *Poller {
	p := NewPoller(store, firer, PollerConfig{Interval: time.Minute}, logx.Nop())
	p.now = func() time.Time { return *now }
	return p
}

func runTick(p *Poller) {
	p.tick()
	p.wg.Wait()
}

func TestPoller_TickDispatchesDueSchedules(t *testing.T) {
	due := dailySchedule("a")

	running := dailySchedule("b")
	started := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	running.LastTriggered = &started
	running.LastAction = schedule.ActionStart

	paused := dailySchedule("c")
	paused.Active = false

	store := newMockStore(due, running, paused)
	firer := &mockFirer{}
	now := time.Date(2024, 1, 15, 8, 0, 30, 0, time.UTC)
	p := newTestPoller(store, firer, &now)

	runTick(p)
	assert.Equal(t, []firedCall{{ID: "a", Action: schedule.ActionStart}}, firer.recorded())

	now = time.Date(2024, 1, 15, 9, 0, 10, 0, time.UTC)
	firer2 := &mockFirer{}
	p.firer = firer2
	runTick(p)
	// a's window closed without a recorded start; b is due to stop.
	assert.Equal(t, []firedCall{{ID: "b", Action: schedule.ActionStop}}, firer2.recorded())
}

func TestPoller_ListErrorAbortsTick(t *testing.T) {
	store := newMockStore(dailySchedule("a"))
	store.listErr = errors.New("database is locked")
	firer := &mockFirer{}
	now := time.Date(2024, 1, 15, 8, 0, 30, 0, time.UTC)

	runTick(newTestPoller(store, firer, &now))
	assert.Empty(t, firer.recorded())
}

func TestPoller_BadTimezoneSkipsOnlyThatSchedule(t *testing.T) {
	bad := dailySchedule("a")
	bad.Timezone = "Nowhere/Land"
	good := dailySchedule("b")

	store := newMockStore(bad, good)
	firer := &mockFirer{}
	now := time.Date(2024, 1, 15, 8, 0, 30, 0, time.UTC)

	runTick(newTestPoller(store, firer, &now))
	assert.Equal(t, []firedCall{{ID: "b", Action: schedule.ActionStart}}, firer.recorded())
}

// One-shot 14:00-14:15 created at 13:00: exactly one start at 14:00, one
// stop at 14:15, then nothing.
func TestPoller_OneShotEndToEnd(t *testing.T) {
	created := time.Date(2024, 6, 1, 13, 0, 0, 0, time.UTC)
	s := oneShot("once")
	s.Start = schedule.ClockTime{Hour: 14}
	s.Stop = &schedule.ClockTime{Hour: 14, Minute: 15}
	s.ArmedAt = created

	store := newMockStore(s)
	port := &mockPort{}
	now := created
	exec := NewExecutor(store, port, NewLocalGuard(), ExecutorConfig{}, logx.Nop())
	exec.now = func() time.Time { return now }
	p := newTestPoller(store, exec, &now)

	var times []time.Time
	for ; now.Before(created.Add(48 * time.Hour)); now = now.Add(time.Minute) {
		before := len(port.recorded())
		runTick(p)
		if len(port.recorded()) > before {
			times = append(times, now)
		}
	}

	calls := port.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, schedule.ActionStart, calls[0].Action)
	assert.Equal(t, schedule.ActionStop, calls[1].Action)
	assert.Equal(t, []time.Time{
		time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 1, 14, 15, 0, 0, time.UTC),
	}, times)
	assert.True(t, store.get("once").Consumed)
}

func TestPoller_FailedStartRetriedNextTick(t *testing.T) {
	s := dailySchedule("a")
	s.Stop = nil
	store := newMockStore(s)
	port := &mockPort{err: playback.NewError(playback.ReasonDeviceOffline, "gone")}
	now := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	exec := NewExecutor(store, port, NewLocalGuard(), ExecutorConfig{}, logx.Nop())
	exec.now = func() time.Time { return now }
	p := newTestPoller(store, exec, &now)

	runTick(p)
	assert.Nil(t, store.get("a").LastTriggered)

	port.setErr(nil)
	now = now.Add(time.Minute)
	runTick(p)
	require.NotNil(t, store.get("a").LastTriggered)

	now = now.Add(time.Minute)
	runTick(p)
	assert.Len(t, port.recorded(), 2, "no further start once recorded")
}

func TestPoller_StartRunsImmediateTick(t *testing.T) {
	store := newMockStore(dailySchedule("a"))
	firer := &mockFirer{}
	now := time.Date(2024, 1, 15, 8, 0, 30, 0, time.UTC)
	p := NewPoller(store, firer, PollerConfig{Interval: time.Hour}, logx.Nop())
	p.now = func() time.Time { return now }

	p.Start()
	p.Start() // no-op
	assert.True(t, p.IsRunning())
	require.Eventually(t, func() bool { return len(firer.recorded()) == 1 }, time.Second, 5*time.Millisecond)

	p.Stop()
	p.Stop() // no-op
	assert.False(t, p.IsRunning())
	assert.Len(t, firer.recorded(), 1)
}

// A Play Now that completes between the tick's read and the dispatched
// fire satisfies the occurrence; the scheduled fire must not repeat it.
func TestPoller_DispatchAfterManualPlayDoesNotRepeat(t *testing.T) {
	store := newMockStore(dailySchedule("a"))
	port := &mockPort{}
	now := time.Date(2024, 1, 15, 8, 0, 30, 0, time.UTC)
	exec := NewExecutor(store, port, NewLocalGuard(), ExecutorConfig{}, logx.Nop())
	exec.now = func() time.Time { return now }
	p := newTestPoller(store, exec, &now)
	ctx := context.Background()

	snapshot, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, snapshot, 1)

	_, err = NewGateway(store, exec).PlaySchedule(ctx, "a")
	require.NoError(t, err)

	assert.True(t, p.evaluate(ctx, &snapshot[0], now), "the stale copy still looks due")
	p.wg.Wait()

	assert.Len(t, port.recorded(), 1, "the occurrence reached the port once")
	assert.Equal(t, 1, store.updateCount())
}
