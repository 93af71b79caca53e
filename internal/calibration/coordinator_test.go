package calibration

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mseidel19/wallcast/internal/geom"
	"github.com/mseidel19/wallcast/internal/protocol"
)

type captureSender struct {
	sent []protocol.Message
	err  error
}

func (s *captureSender) Send(m protocol.Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, m)
	return nil
}

func pointer(target HandleID, pos geom.Vec3, trigger bool) PointerInput {
	return PointerInput{DeviceID: "right-hand", Target: target, Position: pos, Trigger: trigger}
}

// seeded returns a coordinator that has already received a 1920x1080 report
// and entered editing.
func seeded(t *testing.T) (*Coordinator, *captureSender) {
	t.Helper()
	s := &captureSender{}
	c := New(DefaultConfig(), s)
	c.HandleDimensionReport(protocol.NewDisplayCalibration(1920, 1080))
	c.Tick()
	require.Equal(t, PhaseEditing, c.Phase())
	return c, s
}

func TestDimensionReportSeedsRectangle(t *testing.T) {
	s := &captureSender{}
	c := New(DefaultConfig(), s)

	require.Equal(t, PhaseAwaitingDimensions, c.Phase())
	_, ok := c.Rectangle()
	require.False(t, ok)
	_, _, ok = c.PixelSize()
	require.False(t, ok)

	c.HandleDimensionReport(protocol.NewDisplayCalibration(1920, 1080))

	// Nothing changes until the frame loop drains the inbox.
	require.Equal(t, PhaseAwaitingDimensions, c.Phase())

	c.Tick()
	require.Equal(t, PhaseEditing, c.Phase())

	rect, ok := c.Rectangle()
	require.True(t, ok)
	assert.InDelta(t, 1.0, rect.WidthMeters, 1e-12)
	assert.InDelta(t, 0.5625, rect.HeightMeters, 1e-12)
	assert.InDelta(t, 16.0/9.0, rect.AspectRatio, 1e-12)
	assert.Equal(t, DefaultConfig().DefaultCenter, rect.Center())

	w, h, ok := c.PixelSize()
	require.True(t, ok)
	assert.Equal(t, 1920.0, w)
	assert.Equal(t, 1080.0, h)
}

func TestDegenerateDimensionReportIgnored(t *testing.T) {
	c := New(DefaultConfig(), &captureSender{})

	c.HandleDimensionReport(protocol.NewDisplayCalibration(1920, 0))
	c.HandleDimensionReport(protocol.NewDisplayCalibration(math.NaN(), 1080))
	c.Tick()

	assert.Equal(t, PhaseAwaitingDimensions, c.Phase())
	_, _, ok := c.PixelSize()
	assert.False(t, ok)
}

func TestHandleVisibilityPerPhase(t *testing.T) {
	s := &captureSender{}
	c := New(DefaultConfig(), s)

	for _, id := range AllHandles {
		assert.False(t, c.Handle(id).Visible, "%s visible before dimensions", id)
	}

	c.HandleDimensionReport(protocol.NewDisplayCalibration(1920, 1080))
	c.Tick()
	for _, id := range editingHandles {
		assert.True(t, c.Handle(id).Visible, "%s hidden during editing", id)
	}
	assert.False(t, c.Handle(HandleRecalibrate).Visible)

	c.Tick(pointer(HandleConfirm, geom.Vec3{}, true))
	require.Equal(t, PhaseCommitted, c.Phase())
	for _, id := range editingHandles {
		assert.False(t, c.Handle(id).Visible, "%s still visible after commit", id)
	}
	assert.True(t, c.Handle(HandleRecalibrate).Visible)
}

func TestTranslateShiftsBothCornersAlongAxis(t *testing.T) {
	c, _ := seeded(t)
	before, _ := c.Rectangle()

	start := geom.Vec3{X: 0.1, Y: 1.0, Z: -1.0}
	c.Tick(pointer(HandleTranslateX, start, true))

	handle, grabbed := c.GrabbedHandle()
	require.True(t, grabbed)
	require.Equal(t, HandleTranslateX, handle)

	// Off-axis motion must be projected out: only X moves the rectangle.
	moved := start.Add(geom.Vec3{X: 0.25, Y: 5, Z: -3})
	c.Tick(pointer(HandleNone, moved, true))

	after, _ := c.Rectangle()
	offset := geom.Vec3{X: 0.25}
	assert.Equal(t, before.TopLeft.Add(offset), after.TopLeft)
	assert.Equal(t, before.BottomRight.Add(offset), after.BottomRight)
	assert.InDelta(t, before.WidthMeters, after.WidthMeters, 1e-12)
	assert.InDelta(t, before.HeightMeters, after.HeightMeters, 1e-12)

	// Release returns the handle to hover behavior.
	c.Tick(pointer(HandleTranslateX, moved, false))
	_, grabbed = c.GrabbedHandle()
	assert.False(t, grabbed)
	assert.Equal(t, HandleHovered, c.Handle(HandleTranslateX).State)
}

func TestTranslateRecomputesFromGrabStart(t *testing.T) {
	c, _ := seeded(t)
	before, _ := c.Rectangle()

	start := geom.Vec3{}
	c.Tick(pointer(HandleTranslateY, start, true))
	c.Tick(pointer(HandleNone, geom.Vec3{Y: 2}, true))
	c.Tick(pointer(HandleNone, geom.Vec3{Y: 0.5}, true))

	// The edit tracks total delta since the grab, not per-frame increments.
	after, _ := c.Rectangle()
	assert.Equal(t, before.TopLeft.Add(geom.Vec3{Y: 0.5}), after.TopLeft)
	assert.Equal(t, before.BottomRight.Add(geom.Vec3{Y: 0.5}), after.BottomRight)
}

func TestRotateYawAboutCenter(t *testing.T) {
	c, _ := seeded(t)
	before, _ := c.Rectangle()
	center := before.Center()

	start := geom.Vec3{X: center.X + 1, Y: center.Y, Z: center.Z}
	c.Tick(pointer(HandleRotateYaw, start, true))

	// Swing the manipulator a quarter turn around the center.
	quarter := geom.Vec3{X: center.X, Y: center.Y, Z: center.Z + 1}
	c.Tick(pointer(HandleNone, quarter, true))

	after, _ := c.Rectangle()
	assert.InDelta(t, 0.0, after.TopLeft.X, 1e-9)
	assert.InDelta(t, -2.5, after.TopLeft.Z, 1e-9)
	assert.InDelta(t, 0.0, after.BottomRight.X, 1e-9)
	assert.InDelta(t, -1.5, after.BottomRight.Z, 1e-9)

	// Yaw preserves heights, the center and both extents.
	assert.Equal(t, before.TopLeft.Y, after.TopLeft.Y)
	assert.Equal(t, before.BottomRight.Y, after.BottomRight.Y)
	assert.InDelta(t, center.X, after.Center().X, 1e-9)
	assert.InDelta(t, center.Z, after.Center().Z, 1e-9)
	assert.InDelta(t, before.WidthMeters, after.WidthMeters, 1e-9)
	assert.InDelta(t, before.HeightMeters, after.HeightMeters, 1e-9)
}

func TestScaleIsExponentialFromAnchor(t *testing.T) {
	c, _ := seeded(t)
	before, _ := c.Rectangle()

	anchor := before.TopLeft
	startCorner := before.BottomRight
	startDist := startCorner.DistanceTo(anchor)
	dir := startCorner.Sub(anchor).Scale(1 / startDist)

	start := geom.Vec3{}
	c.Tick(pointer(HandleScaleBottomRight, start, true))
	c.Tick(pointer(HandleNone, start.Add(dir.Scale(0.25)), true))

	after, _ := c.Rectangle()
	factor := math.Exp(0.25 / startDist)

	// The anchor corner never moves; the grabbed corner slides along the
	// original diagonal by the exponential factor.
	assert.Equal(t, anchor, after.TopLeft)
	want := anchor.Add(dir.Scale(startDist * factor))
	assert.InDelta(t, want.X, after.BottomRight.X, 1e-9)
	assert.InDelta(t, want.Y, after.BottomRight.Y, 1e-9)
	assert.InDelta(t, want.Z, after.BottomRight.Z, 1e-9)

	assert.InDelta(t, before.WidthMeters*factor, after.WidthMeters, 1e-9)
	assert.InDelta(t, before.AspectRatio, after.WidthMeters/after.HeightMeters, 1e-9)
}

func TestScaleNeverFlipsThroughAnchor(t *testing.T) {
	c, _ := seeded(t)
	before, _ := c.Rectangle()
	startDist := before.TopLeft.DistanceTo(before.BottomRight)
	dir := before.BottomRight.Sub(before.TopLeft).Scale(1 / startDist)

	start := geom.Vec3{}
	c.Tick(pointer(HandleScaleBottomRight, start, true))

	// Drag far past the anchor: the exponential saturates toward zero
	// instead of flipping the corner to the other side.
	c.Tick(pointer(HandleNone, start.Add(dir.Scale(-100*startDist)), true))

	after, _ := c.Rectangle()
	assert.Greater(t, after.WidthMeters, 0.0)
	got := after.BottomRight.Sub(after.TopLeft).Normalized()
	assert.InDelta(t, dir.X, got.X, 1e-9)
	assert.InDelta(t, dir.Y, got.Y, 1e-9)
	assert.InDelta(t, dir.Z, got.Z, 1e-9)
}

func TestScaleDegenerateRectangleUnchanged(t *testing.T) {
	c, _ := seeded(t)
	c.rect.TopLeft = c.rect.BottomRight

	c.Tick(pointer(HandleScaleTopLeft, geom.Vec3{}, true))
	c.Tick(pointer(HandleNone, geom.Vec3{X: 1, Y: 1, Z: 1}, true))

	after, _ := c.Rectangle()
	assert.Equal(t, after.TopLeft, after.BottomRight)
}

func TestSingleGrabAtATime(t *testing.T) {
	c, _ := seeded(t)
	before, _ := c.Rectangle()

	right := PointerInput{DeviceID: "right-hand", Target: HandleTranslateX, Position: geom.Vec3{}, Trigger: true}
	left := PointerInput{DeviceID: "left-hand", Target: HandleRotateYaw, Position: geom.Vec3{X: 1}, Trigger: false}
	c.Tick(right, left)

	handle, grabbed := c.GrabbedHandle()
	require.True(t, grabbed)
	require.Equal(t, HandleTranslateX, handle)

	// The left hand's grab request lands while the right holds: ignored.
	left.Trigger = true
	right.Position = geom.Vec3{X: 0.5}
	c.Tick(right, left)

	handle, _ = c.GrabbedHandle()
	assert.Equal(t, HandleTranslateX, handle)
	assert.Equal(t, HandleGrabbed, c.Handle(HandleTranslateX).State)

	// Only the grabbing device moved the rectangle.
	after, _ := c.Rectangle()
	assert.Equal(t, before.TopLeft.Add(geom.Vec3{X: 0.5}), after.TopLeft)

	// Once the right releases, the left's next press edge may grab.
	right.Trigger = false
	left.Trigger = false
	c.Tick(right, left)
	left.Trigger = true
	c.Tick(right, left)
	handle, grabbed = c.GrabbedHandle()
	require.True(t, grabbed)
	assert.Equal(t, HandleRotateYaw, handle)
}

func TestHeldTriggerDoesNotGrab(t *testing.T) {
	s := &captureSender{}
	c := New(DefaultConfig(), s)

	// The trigger is already down before the display ever reports.
	c.Tick(pointer(HandleNone, geom.Vec3{}, true))

	c.HandleDimensionReport(protocol.NewDisplayCalibration(1920, 1080))
	c.Tick(pointer(HandleTranslateX, geom.Vec3{}, true))

	_, grabbed := c.GrabbedHandle()
	assert.False(t, grabbed, "a held trigger is not a press edge")

	// Releasing and pressing again is.
	c.Tick(pointer(HandleTranslateX, geom.Vec3{}, false))
	c.Tick(pointer(HandleTranslateX, geom.Vec3{}, true))
	_, grabbed = c.GrabbedHandle()
	assert.True(t, grabbed)
}

func TestVanishedDeviceReleasesGrab(t *testing.T) {
	c, _ := seeded(t)

	c.Tick(pointer(HandleTranslateX, geom.Vec3{}, true))
	_, grabbed := c.GrabbedHandle()
	require.True(t, grabbed)

	// The grabbing device disappears from the frame entirely.
	c.Tick()
	_, grabbed = c.GrabbedHandle()
	assert.False(t, grabbed)
}

func TestCommitFreezesAndSends(t *testing.T) {
	c, s := seeded(t)

	// Nudge the rectangle first so the commit carries an edited state.
	c.Tick(pointer(HandleTranslateZ, geom.Vec3{}, true))
	c.Tick(pointer(HandleNone, geom.Vec3{Z: -0.5}, true))
	c.Tick(pointer(HandleNone, geom.Vec3{Z: -0.5}, false))
	edited, _ := c.Rectangle()

	c.Tick(pointer(HandleConfirm, geom.Vec3{}, true))

	require.Equal(t, PhaseCommitted, c.Phase())
	snapshot, ok := c.Snapshot()
	require.True(t, ok)
	assert.Equal(t, edited, snapshot)

	require.Len(t, s.sent, 1)
	commit, ok := s.sent[0].(protocol.CalibrationCommit)
	require.True(t, ok, "expected CALIBRATION_COMMIT, got %T", s.sent[0])
	assert.Equal(t, snapshot.TopLeft, commit.TopLeft)
	assert.Equal(t, snapshot.BottomRight, commit.BottomRight)
	assert.Equal(t, snapshot.WidthMeters, commit.WidthMeters)
	assert.Equal(t, snapshot.HeightMeters, commit.HeightMeters)

	// The rectangle is read-only now: edit presses land on hidden handles.
	c.Tick(pointer(HandleConfirm, geom.Vec3{}, false))
	c.Tick(pointer(HandleTranslateX, geom.Vec3{}, true))
	c.Tick(pointer(HandleNone, geom.Vec3{X: 3}, true))
	after, _ := c.Rectangle()
	assert.Equal(t, snapshot, after)
}

func TestCommitIsFireAndForget(t *testing.T) {
	c, s := seeded(t)
	s.err = errors.New("not registered")

	c.Tick(pointer(HandleConfirm, geom.Vec3{}, true))

	// A send failure never blocks the state machine.
	assert.Equal(t, PhaseCommitted, c.Phase())
	_, ok := c.Snapshot()
	assert.True(t, ok)
}

func TestRecalibrateRestoresWorkingCopy(t *testing.T) {
	c, s := seeded(t)

	c.Tick(pointer(HandleConfirm, geom.Vec3{}, true))
	snapshot, _ := c.Snapshot()
	c.Tick(pointer(HandleNone, geom.Vec3{}, false))

	c.Tick(pointer(HandleRecalibrate, geom.Vec3{}, true))
	require.Equal(t, PhaseEditing, c.Phase())
	rect, ok := c.Rectangle()
	require.True(t, ok)
	assert.Equal(t, snapshot, rect)
	assert.True(t, c.Handle(HandleConfirm).Visible)
	assert.False(t, c.Handle(HandleRecalibrate).Visible)

	// Editing again produces a second, different commit.
	c.Tick(pointer(HandleRecalibrate, geom.Vec3{}, false))
	c.Tick(pointer(HandleTranslateX, geom.Vec3{}, true))
	c.Tick(pointer(HandleNone, geom.Vec3{X: 1}, true))
	c.Tick(pointer(HandleNone, geom.Vec3{X: 1}, false))
	c.Tick(pointer(HandleConfirm, geom.Vec3{}, true))

	require.Len(t, s.sent, 2)
	second, ok := s.sent[1].(protocol.CalibrationCommit)
	require.True(t, ok)
	assert.NotEqual(t, snapshot.TopLeft, second.TopLeft)
}

func TestRecalibrateHiddenDuringEditing(t *testing.T) {
	c, _ := seeded(t)
	before, _ := c.Rectangle()

	c.Tick(pointer(HandleRecalibrate, geom.Vec3{}, true))

	// Recalibrate is not visible while editing, so the press is a no-op.
	assert.Equal(t, PhaseEditing, c.Phase())
	after, _ := c.Rectangle()
	assert.Equal(t, before, after)
}

func TestDisplayLossResetsEverything(t *testing.T) {
	c, _ := seeded(t)
	c.Tick(pointer(HandleConfirm, geom.Vec3{}, true))

	c.HandleDisplayLost()
	c.Tick()

	assert.Equal(t, PhaseAwaitingDimensions, c.Phase())
	_, ok := c.Rectangle()
	assert.False(t, ok)
	_, ok = c.Snapshot()
	assert.False(t, ok)
	_, _, ok = c.PixelSize()
	assert.False(t, ok)
	for _, id := range AllHandles {
		assert.False(t, c.Handle(id).Visible)
	}

	// A fresh report reseeds from scratch, with a fresh aspect.
	c.HandleDimensionReport(protocol.NewDisplayCalibration(1000, 1000))
	c.Tick()
	require.Equal(t, PhaseEditing, c.Phase())
	rect, _ := c.Rectangle()
	assert.InDelta(t, 1.0, rect.AspectRatio, 1e-12)
}

func TestDisplayLossWhileGrabbed(t *testing.T) {
	c, _ := seeded(t)
	c.Tick(pointer(HandleTranslateX, geom.Vec3{}, true))

	c.HandleDisplayLost()
	c.Tick(pointer(HandleNone, geom.Vec3{X: 1}, true))

	assert.Equal(t, PhaseAwaitingDimensions, c.Phase())
	_, grabbed := c.GrabbedHandle()
	assert.False(t, grabbed)
}

func TestRereportKeepsAspectPinned(t *testing.T) {
	c, _ := seeded(t)
	before, _ := c.Rectangle()

	// The display re-reports a different resolution mid-edit: the pixel
	// grid follows it, the rectangle's aspect does not.
	c.HandleDimensionReport(protocol.NewDisplayCalibration(1280, 1024))
	c.Tick()

	w, h, ok := c.PixelSize()
	require.True(t, ok)
	assert.Equal(t, 1280.0, w)
	assert.Equal(t, 1024.0, h)

	after, _ := c.Rectangle()
	assert.Equal(t, before, after)
	assert.Equal(t, PhaseEditing, c.Phase())
}

func TestHoverTracksTarget(t *testing.T) {
	c, _ := seeded(t)

	c.Tick(pointer(HandleRotateYaw, geom.Vec3{}, false))
	assert.Equal(t, HandleHovered, c.Handle(HandleRotateYaw).State)

	c.Tick(pointer(HandleNone, geom.Vec3{}, false))
	assert.Equal(t, HandleIdle, c.Handle(HandleRotateYaw).State)

	// A grabbed handle stays grabbed even when the pointer drifts off it.
	c.Tick(pointer(HandleRotateYaw, geom.Vec3{X: 1}, true))
	c.Tick(pointer(HandleNone, geom.Vec3{X: 1, Z: 0.2}, true))
	assert.Equal(t, HandleGrabbed, c.Handle(HandleRotateYaw).State)
}

func TestTickBeforeDimensionsIsInert(t *testing.T) {
	c := New(DefaultConfig(), &captureSender{})

	c.Tick(pointer(HandleConfirm, geom.Vec3{}, true))
	c.Tick(pointer(HandleTranslateX, geom.Vec3{X: 2}, true))

	assert.Equal(t, PhaseAwaitingDimensions, c.Phase())
	_, ok := c.Rectangle()
	assert.False(t, ok)
	_, grabbed := c.GrabbedHandle()
	assert.False(t, grabbed)
}
