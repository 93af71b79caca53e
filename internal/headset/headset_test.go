package headset

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mseidel19/wallcast/internal/calibration"
	"github.com/mseidel19/wallcast/internal/controller"
	"github.com/mseidel19/wallcast/internal/geom"
	"github.com/mseidel19/wallcast/internal/protocol"
	"github.com/mseidel19/wallcast/internal/relay"
	"github.com/mseidel19/wallcast/internal/session"
)

func startRelay(t *testing.T) string {
	t.Helper()
	srv, err := relay.NewServer(relay.DefaultConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Start(ctx)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

// startDisplay stands in for the wall renderer: a raw session that claims the
// DISPLAY role and reports a 1920x1080 pixel grid.
func startDisplay(t *testing.T, url string) *session.Proxy {
	t.Helper()
	p := session.New(session.DefaultConfig(url))
	t.Cleanup(p.Disconnect)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := p.Connect(ctx, protocol.RoleDisplay)
	require.NoError(t, err)
	require.NoError(t, p.Send(protocol.NewDisplayCalibration(1920, 1080)))
	return p
}

func connectHeadset(t *testing.T, url string) *Client {
	t.Helper()
	c := New(DefaultConfig(url))
	t.Cleanup(c.Disconnect)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := c.Connect(ctx)
	require.NoError(t, err)
	return c
}

func idleFrame(deviceID string) DeviceFrame {
	return DeviceFrame{DeviceID: deviceID, Target: calibration.HandleNone}
}

// pumpUntil drives the frame loop with idle frames until the coordinator
// reaches the wanted phase.
func pumpUntil(t *testing.T, c *Client, phase calibration.Phase) {
	t.Helper()
	require.Eventually(t, func() bool {
		c.Frame(idleFrame("right-hand"))
		return c.Coordinator().Phase() == phase
	}, 3*time.Second, 10*time.Millisecond)
}

func TestFrameDrivesCalibrationToEditing(t *testing.T) {
	url := startRelay(t)
	startDisplay(t, url)
	c := connectHeadset(t, url)

	pumpUntil(t, c, calibration.PhaseEditing)

	rect, ok := c.Coordinator().Rectangle()
	require.True(t, ok)
	assert.InDelta(t, 16.0/9.0, rect.AspectRatio, 1e-9)
}

func TestCalibrationFlowEndToEnd(t *testing.T) {
	url := startRelay(t)
	display := startDisplay(t, url)
	commits := make(chan protocol.CalibrationCommit, 1)
	display.On(protocol.TypeCalibrationCommit, func(msg protocol.Message) {
		commits <- msg.(protocol.CalibrationCommit)
	})

	c := connectHeadset(t, url)
	pumpUntil(t, c, calibration.PhaseEditing)

	// Drag the wall a quarter meter along X, release, confirm.
	start := geom.Vec3{X: 0.6, Y: 1.5, Z: -2}
	c.Frame(DeviceFrame{DeviceID: "right-hand", Target: calibration.HandleTranslateX, Position: start, Trigger: true})
	c.Frame(DeviceFrame{DeviceID: "right-hand", Target: calibration.HandleTranslateX, Position: start.Add(geom.Vec3{X: 0.25}), Trigger: true})
	c.Frame(idleFrame("right-hand"))
	c.Frame(DeviceFrame{DeviceID: "right-hand", Target: calibration.HandleConfirm, Trigger: true})

	require.Equal(t, calibration.PhaseCommitted, c.Coordinator().Phase())
	snapshot, ok := c.Coordinator().Snapshot()
	require.True(t, ok)
	assert.Equal(t, -0.25, snapshot.TopLeft.X)
	assert.Equal(t, 0.75, snapshot.BottomRight.X)

	select {
	case commit := <-commits:
		assert.Equal(t, snapshot.TopLeft, commit.TopLeft)
		assert.Equal(t, snapshot.BottomRight, commit.BottomRight)
		assert.Equal(t, snapshot.WidthMeters, commit.WidthMeters)
		assert.Equal(t, snapshot.HeightMeters, commit.HeightMeters)
	case <-time.After(2 * time.Second):
		t.Fatal("display never received the commit")
	}
}

// nextState receives controller states until match accepts one. Idle pump
// frames publish minimal states too, so tests skip past those.
func nextState(t *testing.T, states <-chan protocol.ControllerState, match func(protocol.ControllerState) bool) protocol.ControllerState {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case state := <-states:
			if match(state) {
				return state
			}
		case <-deadline:
			t.Fatal("matching controller state never arrived")
		}
	}
}

func TestFramePublishesControllerState(t *testing.T) {
	url := startRelay(t)
	display := startDisplay(t, url)
	states := make(chan protocol.ControllerState, 64)
	display.On(protocol.TypeControllerState, func(msg protocol.Message) {
		states <- msg.(protocol.ControllerState)
	})

	c := connectHeadset(t, url)
	pumpUntil(t, c, calibration.PhaseEditing)

	c.Frame(DeviceFrame{
		DeviceID: "right-hand",
		Target:   calibration.HandleNone,
		Hit:      controller.ResolvedHit{OnDisplay: true, U: 0.25, V: 0.75},
		Buttons:  map[string]float64{"trigger": 1},
	})

	state := nextState(t, states, func(s protocol.ControllerState) bool { return s.OnDisplay })
	assert.Equal(t, "right-hand", state.DeviceID)
	assert.Equal(t, c.Session().SessionID(), state.SessionID)
	assert.Equal(t, 480.0, state.CanvasX)
	assert.Equal(t, 270.0, state.CanvasY)
	assert.Equal(t, 1.0, state.Buttons["trigger"])
}

func TestOffDisplayHitPublishesMinimalState(t *testing.T) {
	url := startRelay(t)
	display := startDisplay(t, url)
	states := make(chan protocol.ControllerState, 64)
	display.On(protocol.TypeControllerState, func(msg protocol.Message) {
		states <- msg.(protocol.ControllerState)
	})

	c := connectHeadset(t, url)
	pumpUntil(t, c, calibration.PhaseEditing)

	c.Frame(DeviceFrame{
		DeviceID: "right-hand",
		Target:   calibration.HandleNone,
		Hit:      controller.ResolvedHit{OnDisplay: false},
		Buttons:  map[string]float64{"grip": 0.5},
	})

	state := nextState(t, states, func(s protocol.ControllerState) bool { return s.Buttons["grip"] == 0.5 })
	assert.False(t, state.OnDisplay)
	assert.Zero(t, state.CanvasX)
	assert.Zero(t, state.CanvasY)
}

func TestDisplayLossResetsCalibration(t *testing.T) {
	url := startRelay(t)
	display := startDisplay(t, url)
	c := connectHeadset(t, url)
	pumpUntil(t, c, calibration.PhaseEditing)

	display.Disconnect()

	pumpUntil(t, c, calibration.PhaseAwaitingDimensions)
	_, ok := c.Coordinator().Rectangle()
	assert.False(t, ok)
}

func TestGameEventRoundTrip(t *testing.T) {
	url := startRelay(t)
	c := connectHeadset(t, url)

	events := make(chan protocol.GameEvent, 1)
	c.OnGameEvent(func(ev protocol.GameEvent) {
		events <- ev
	})

	payload := json.RawMessage(`{"score":42}`)
	require.NoError(t, c.SendGameEvent("round-won", payload))

	// The relay's default configuration echoes game events to their sender.
	select {
	case ev := <-events:
		assert.Equal(t, "round-won", ev.Event)
		assert.JSONEq(t, `{"score":42}`, string(ev.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("game event never echoed back")
	}
}
