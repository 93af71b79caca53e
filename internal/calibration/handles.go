package calibration

import "github.com/mseidel19/wallcast/internal/geom"

// HandleID names one manipulable affordance on the calibration rectangle.
// Handle state lives in a fixed arena indexed by these IDs, never on live
// widget objects.
type HandleID int

// HandleNone marks a frame whose pointer ray hits no affordance.
const HandleNone HandleID = -1

const (
	HandleTranslateX HandleID = iota
	HandleTranslateY
	HandleTranslateZ
	HandleRotateYaw
	HandleScaleTopLeft
	HandleScaleBottomRight
	HandleConfirm
	HandleRecalibrate

	// NumHandles sizes the handle arena.
	NumHandles
)

// AllHandles lists every affordance; renderers iterate it to draw the arena.
var AllHandles = []HandleID{
	HandleTranslateX,
	HandleTranslateY,
	HandleTranslateZ,
	HandleRotateYaw,
	HandleScaleTopLeft,
	HandleScaleBottomRight,
	HandleConfirm,
	HandleRecalibrate,
}

func (id HandleID) String() string {
	switch id {
	case HandleNone:
		return "none"
	case HandleTranslateX:
		return "translate_x"
	case HandleTranslateY:
		return "translate_y"
	case HandleTranslateZ:
		return "translate_z"
	case HandleRotateYaw:
		return "rotate_yaw"
	case HandleScaleTopLeft:
		return "scale_top_left"
	case HandleScaleBottomRight:
		return "scale_bottom_right"
	case HandleConfirm:
		return "confirm"
	case HandleRecalibrate:
		return "recalibrate"
	default:
		return "unknown"
	}
}

// axis returns the world axis a translate handle moves along.
func (id HandleID) axis() (geom.Vec3, bool) {
	switch id {
	case HandleTranslateX:
		return geom.Vec3{X: 1}, true
	case HandleTranslateY:
		return geom.Vec3{Y: 1}, true
	case HandleTranslateZ:
		return geom.Vec3{Z: 1}, true
	default:
		return geom.Vec3{}, false
	}
}

func (id HandleID) isScale() bool {
	return id == HandleScaleTopLeft || id == HandleScaleBottomRight
}

// HandleState is the per-affordance interaction state.
type HandleState int

const (
	HandleIdle HandleState = iota
	HandleHovered
	HandleGrabbed
)

func (s HandleState) String() string {
	switch s {
	case HandleIdle:
		return "idle"
	case HandleHovered:
		return "hovered"
	case HandleGrabbed:
		return "grabbed"
	default:
		return "unknown"
	}
}

// Handle is one arena slot: interaction state plus phase-derived visibility.
// Invisible handles ignore pointer input entirely.
type Handle struct {
	State   HandleState
	Visible bool
}

// editingHandles are the affordances shown while the rectangle is mutable.
var editingHandles = []HandleID{
	HandleTranslateX,
	HandleTranslateY,
	HandleTranslateZ,
	HandleRotateYaw,
	HandleScaleTopLeft,
	HandleScaleBottomRight,
	HandleConfirm,
}
