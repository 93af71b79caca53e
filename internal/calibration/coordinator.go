// Package calibration drives the screen-calibration state machine inside a
// VR client: it negotiates a rectangle in 3D space that maps onto the shared
// display's pixel grid, lets the user edit it through grab handles and
// commits frozen snapshots to the relay.
package calibration

import (
	"math"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mseidel19/wallcast/internal/geom"
	"github.com/mseidel19/wallcast/internal/protocol"
)

// Phase of the calibration state machine.
type Phase string

const (
	// PhaseAwaitingDimensions means no rectangle exists yet; the display has
	// not reported its pixel size.
	PhaseAwaitingDimensions Phase = "awaiting_dimensions"
	// PhaseEditing means the working rectangle is mutable via the handles.
	PhaseEditing Phase = "editing"
	// PhaseCommitted means the rectangle is frozen; only recalibrate is live.
	PhaseCommitted Phase = "committed"
)

// Sender publishes envelopes to the relay. Satisfied by *session.Proxy.
type Sender interface {
	Send(protocol.Message) error
}

// Config holds coordinator tuning.
type Config struct {
	// ScaleGain is the k in the exponential corner-scale law
	// exp(k·projectedDelta/initialDistance).
	ScaleGain float64
	// DefaultWidthMeters sizes the placeholder rectangle.
	DefaultWidthMeters float64
	// DefaultCenter places the placeholder rectangle relative to the origin.
	DefaultCenter geom.Vec3
}

// DefaultConfig returns the coordinator defaults: a one meter wide
// placeholder two meters in front of the origin at standing eye height.
func DefaultConfig() Config {
	return Config{
		ScaleGain:          1.0,
		DefaultWidthMeters: 1.0,
		DefaultCenter:      geom.Vec3{X: 0, Y: 1.5, Z: -2},
	}
}

// PointerInput is one device's manipulator sample for one frame: the handle
// its ray hits, its world position and the raw manipulation-trigger level.
// Grab and release are edge-triggered from these levels, never inferred from
// state accumulated across frames.
type PointerInput struct {
	DeviceID string
	Target   HandleID
	Position geom.Vec3
	Trigger  bool
}

// grab records everything a transform needs from its starting frame; every
// later frame recomputes the edit from here, so dragging never accumulates
// drift.
type grab struct {
	handle       HandleID
	deviceID     string
	startPointer geom.Vec3
	startRect    Rectangle
	startBearing float64
	anchor       geom.Vec3
	startCorner  geom.Vec3
}

// inboxEvent is one relay-driven notification queued for the frame loop.
type inboxEvent struct {
	report      *protocol.DisplayCalibration
	displayLost bool
}

// Coordinator owns the calibration rectangle and its handle arena. All
// methods except HandleDimensionReport and HandleDisplayLost must be called
// from the frame loop; those two enqueue into an inbox drained by Tick, which
// is the only writer of coordinator state.
type Coordinator struct {
	cfg    Config
	sender Sender

	inboxMu sync.Mutex
	inbox   []inboxEvent

	phase       Phase
	rect        Rectangle
	hasRect     bool
	snapshot    Rectangle
	hasSnapshot bool
	pixelW      float64
	pixelH      float64

	handles     [NumHandles]Handle
	active      *grab
	prevTrigger map[string]bool
}

// New builds a coordinator that commits snapshots through sender.
func New(cfg Config, sender Sender) *Coordinator {
	return &Coordinator{
		cfg:         cfg,
		sender:      sender,
		phase:       PhaseAwaitingDimensions,
		prevTrigger: make(map[string]bool),
	}
}

// HandleDimensionReport queues a display dimension report. Safe to call from
// the session proxy's read goroutine.
func (c *Coordinator) HandleDimensionReport(report protocol.DisplayCalibration) {
	c.inboxMu.Lock()
	c.inbox = append(c.inbox, inboxEvent{report: &report})
	c.inboxMu.Unlock()
}

// HandleDisplayLost queues a display-loss notice. Safe to call from the
// session proxy's read goroutine.
func (c *Coordinator) HandleDisplayLost() {
	c.inboxMu.Lock()
	c.inbox = append(c.inbox, inboxEvent{displayLost: true})
	c.inboxMu.Unlock()
}

// Phase returns the current state machine phase.
func (c *Coordinator) Phase() Phase {
	return c.phase
}

// Rectangle returns the working rectangle, false while none exists.
func (c *Coordinator) Rectangle() (Rectangle, bool) {
	return c.rect, c.hasRect
}

// Snapshot returns the last committed rectangle, false before any commit.
func (c *Coordinator) Snapshot() (Rectangle, bool) {
	return c.snapshot, c.hasSnapshot
}

// PixelSize returns the display's reported pixel dimensions, false while no
// report has been received.
func (c *Coordinator) PixelSize() (width, height float64, ok bool) {
	if c.pixelW <= 0 || c.pixelH <= 0 {
		return 0, 0, false
	}
	return c.pixelW, c.pixelH, true
}

// Handle returns the arena slot for one affordance.
func (c *Coordinator) Handle(id HandleID) Handle {
	if id < 0 || id >= NumHandles {
		return Handle{}
	}
	return c.handles[id]
}

// GrabbedHandle returns the held affordance, false when nothing is grabbed.
func (c *Coordinator) GrabbedHandle() (HandleID, bool) {
	if c.active == nil {
		return HandleNone, false
	}
	return c.active.handle, true
}

// Tick advances the state machine by one rendered frame. It drains the relay
// inbox, applies grab/release edges from the pointer inputs and recomputes
// the grabbed transform from its starting frame.
func (c *Coordinator) Tick(inputs ...PointerInput) {
	c.drainInbox()

	c.updateGrab(inputs)
	c.applyPresses(inputs)
	c.updateHover(inputs)
	c.recordTriggers(inputs)
}

func (c *Coordinator) drainInbox() {
	c.inboxMu.Lock()
	pending := c.inbox
	c.inbox = nil
	c.inboxMu.Unlock()

	for _, ev := range pending {
		switch {
		case ev.displayLost:
			c.reset()
		case ev.report != nil:
			c.applyDimensionReport(*ev.report)
		}
	}
}

// reset discards the rectangle, snapshot and aspect ratio entirely; they are
// meaningless without a display.
func (c *Coordinator) reset() {
	c.phase = PhaseAwaitingDimensions
	c.rect = Rectangle{}
	c.hasRect = false
	c.snapshot = Rectangle{}
	c.hasSnapshot = false
	c.pixelW, c.pixelH = 0, 0
	c.active = nil
	c.applyPhaseVisibility()
	log.Info().Msg("display lost, calibration reset")
}

func (c *Coordinator) applyDimensionReport(report protocol.DisplayCalibration) {
	if !geom.IsFinite(report.PixelWidth) || !geom.IsFinite(report.PixelHeight) ||
		report.PixelWidth <= 0 || report.PixelHeight <= 0 {
		log.Warn().
			Float64("pixel_width", report.PixelWidth).
			Float64("pixel_height", report.PixelHeight).
			Msg("ignoring degenerate dimension report")
		return
	}

	c.pixelW = report.PixelWidth
	c.pixelH = report.PixelHeight

	if c.phase != PhaseAwaitingDimensions {
		// A re-report updates the pixel grid for coordinate mapping; the
		// aspect ratio stays pinned until the display reconnects.
		log.Info().
			Float64("pixel_width", report.PixelWidth).
			Float64("pixel_height", report.PixelHeight).
			Msg("display re-reported dimensions")
		return
	}

	aspect := report.PixelWidth / report.PixelHeight
	c.rect = seedRectangle(c.cfg.DefaultCenter, c.cfg.DefaultWidthMeters, aspect)
	c.hasRect = true
	c.phase = PhaseEditing
	c.applyPhaseVisibility()
	log.Info().
		Float64("aspect_ratio", aspect).
		Float64("width_meters", c.rect.WidthMeters).
		Float64("height_meters", c.rect.HeightMeters).
		Msg("calibration rectangle seeded")
}

// updateGrab advances or releases the held grab. Release is the true→false
// edge of the grabbing device's trigger; a device that vanished from the
// inputs counts as released.
func (c *Coordinator) updateGrab(inputs []PointerInput) {
	if c.active == nil {
		return
	}

	var pointer *PointerInput
	for i := range inputs {
		if inputs[i].DeviceID == c.active.deviceID {
			pointer = &inputs[i]
			break
		}
	}

	if pointer == nil || !pointer.Trigger {
		log.Debug().Stringer("handle", c.active.handle).Msg("handle released")
		c.active = nil
		return
	}

	c.applyTransform(pointer.Position)
}

func (c *Coordinator) applyTransform(pointer geom.Vec3) {
	g := c.active
	switch {
	case g.handle == HandleRotateYaw:
		center := g.startRect.Center()
		delta := pointer.BearingAround(center) - g.startBearing
		c.rect.TopLeft = g.startRect.TopLeft.RotateYAround(center, delta)
		c.rect.BottomRight = g.startRect.BottomRight.RotateYAround(center, delta)
	case g.handle.isScale():
		startDist := g.startCorner.DistanceTo(g.anchor)
		if startDist == 0 {
			// Degenerate rectangle: leave it unchanged this frame.
			return
		}
		dir := g.startCorner.Sub(g.anchor).Scale(1 / startDist)
		projected := pointer.Sub(g.startPointer).Dot(dir)
		factor := math.Exp(c.cfg.ScaleGain * projected / startDist)
		corner := g.anchor.Add(dir.Scale(startDist * factor))
		if g.handle == HandleScaleTopLeft {
			c.rect.TopLeft = corner
		} else {
			c.rect.BottomRight = corner
		}
	default:
		axis, ok := g.handle.axis()
		if !ok {
			return
		}
		offset := axis.Scale(pointer.Sub(g.startPointer).Dot(axis))
		c.rect.TopLeft = g.startRect.TopLeft.Add(offset)
		c.rect.BottomRight = g.startRect.BottomRight.Add(offset)
	}

	c.rect.recomputeExtents()
}

// applyPresses handles this frame's false→true trigger edges. A press lands
// on its target only when that handle is visible and nothing else is
// grabbed.
func (c *Coordinator) applyPresses(inputs []PointerInput) {
	for _, in := range inputs {
		if !in.Trigger || c.prevTrigger[in.DeviceID] {
			continue
		}
		if c.active != nil {
			// One affordance at a time; concurrent grab requests are ignored.
			continue
		}
		if in.Target < 0 || in.Target >= NumHandles || !c.handles[in.Target].Visible {
			continue
		}

		switch in.Target {
		case HandleConfirm:
			c.commit()
		case HandleRecalibrate:
			c.recalibrate()
		default:
			c.beginGrab(in)
		}
	}
}

func (c *Coordinator) beginGrab(in PointerInput) {
	g := &grab{
		handle:       in.Target,
		deviceID:     in.DeviceID,
		startPointer: in.Position,
		startRect:    c.rect,
	}
	switch in.Target {
	case HandleRotateYaw:
		g.startBearing = in.Position.BearingAround(c.rect.Center())
	case HandleScaleTopLeft:
		g.anchor = c.rect.BottomRight
		g.startCorner = c.rect.TopLeft
	case HandleScaleBottomRight:
		g.anchor = c.rect.TopLeft
		g.startCorner = c.rect.BottomRight
	}
	c.active = g
	log.Debug().Stringer("handle", in.Target).Str("device_id", in.DeviceID).Msg("handle grabbed")
}

// commit freezes the working rectangle into an immutable snapshot, sends it
// to the relay and locks editing.
func (c *Coordinator) commit() {
	c.snapshot = c.rect
	c.hasSnapshot = true
	c.phase = PhaseCommitted
	c.active = nil
	c.applyPhaseVisibility()

	msg := protocol.NewCalibrationCommit(
		c.snapshot.TopLeft,
		c.snapshot.BottomRight,
		c.snapshot.WidthMeters,
		c.snapshot.HeightMeters,
	)
	if err := c.sender.Send(msg); err != nil {
		log.Warn().Err(err).Msg("failed to send calibration commit")
	}
	log.Info().
		Float64("width_meters", c.snapshot.WidthMeters).
		Float64("height_meters", c.snapshot.HeightMeters).
		Msg("calibration committed")
}

// recalibrate restores the mutable working copy from the last snapshot and
// reopens editing.
func (c *Coordinator) recalibrate() {
	c.rect = c.snapshot
	c.phase = PhaseEditing
	c.applyPhaseVisibility()
	log.Info().Msg("recalibration started")
}

func (c *Coordinator) updateHover(inputs []PointerInput) {
	targeted := make(map[HandleID]bool, len(inputs))
	for _, in := range inputs {
		if in.Target >= 0 && in.Target < NumHandles {
			targeted[in.Target] = true
		}
	}

	for id := range c.handles {
		h := &c.handles[id]
		if !h.Visible {
			h.State = HandleIdle
			continue
		}
		switch {
		case c.active != nil && c.active.handle == HandleID(id):
			h.State = HandleGrabbed
		case targeted[HandleID(id)]:
			h.State = HandleHovered
		default:
			h.State = HandleIdle
		}
	}
}

func (c *Coordinator) recordTriggers(inputs []PointerInput) {
	for _, in := range inputs {
		c.prevTrigger[in.DeviceID] = in.Trigger
	}
}

func (c *Coordinator) applyPhaseVisibility() {
	for id := range c.handles {
		c.handles[id] = Handle{}
	}
	switch c.phase {
	case PhaseEditing:
		for _, id := range editingHandles {
			c.handles[id].Visible = true
		}
	case PhaseCommitted:
		c.handles[HandleRecalibrate].Visible = true
	}
}
