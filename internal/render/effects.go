package render

import (
	"crypto/sha256"
	"fmt"
)

// Effect is a named Ken-Burns style motion applied to a still image clip:
// zoom in/out, four-direction pan, and four zoom+pan combinations.
type Effect string

const (
	EffectZoomIn         Effect = "zoom_in"
	EffectZoomOut        Effect = "zoom_out"
	EffectPanLeft        Effect = "pan_left"
	EffectPanRight       Effect = "pan_right"
	EffectPanUp          Effect = "pan_up"
	EffectPanDown        Effect = "pan_down"
	EffectZoomInPanLeft  Effect = "zoom_in_pan_left"
	EffectZoomInPanRight Effect = "zoom_in_pan_right"
	EffectZoomInPanUp    Effect = "zoom_in_pan_up"
	EffectZoomInPanDown  Effect = "zoom_in_pan_down"
)

var allEffects = []Effect{
	EffectZoomIn, EffectZoomOut,
	EffectPanLeft, EffectPanRight, EffectPanUp, EffectPanDown,
	EffectZoomInPanLeft, EffectZoomInPanRight, EffectZoomInPanUp, EffectZoomInPanDown,
}

// EffectForSegment picks a motion effect from a stable hash of the
// segment id, never from a random source: the same job must render the
// same way on every run.
func EffectForSegment(segmentID string) Effect {
	sum := sha256.Sum256([]byte(segmentID))
	idx := int(sum[0]) % len(allEffects)
	return allEffects[idx]
}

const (
	breathAmplitude = 0.03
	breathFrequency = 0.12
)

// buildMotionFilter constructs the zoompan filter expression for one
// effect over durationMs milliseconds at the target frame rate, plus a
// small sinusoidal "breathing" term layered onto the zoom so the motion
// doesn't read as a rigid linear ramp.
func buildMotionFilter(effect Effect, durationMs int, width, height, fps int) string {
	totalFrames := durationMs*fps/1000 + fps*2 // 2s buffer trimmed by -shortest later
	breath := fmt.Sprintf("%g*sin(on*%g)", breathAmplitude, breathFrequency)

	var z, x, y string
	switch effect {
	case EffectZoomIn:
		z = fmt.Sprintf("1+0.15*on/%d+%s", totalFrames, breath)
		x, y = "iw/2-(iw/zoom/2)", "ih/2-(ih/zoom/2)"
	case EffectZoomOut:
		z = fmt.Sprintf("1.3-0.15*on/%d+%s", totalFrames, breath)
		x, y = "iw/2-(iw/zoom/2)", "ih/2-(ih/zoom/2)"
	case EffectPanLeft:
		z = fmt.Sprintf("1.15+%s", breath)
		x = fmt.Sprintf("iw-iw/zoom-(iw-iw/zoom)*on/%d", totalFrames)
		y = "ih/2-(ih/zoom/2)"
	case EffectPanRight:
		z = fmt.Sprintf("1.15+%s", breath)
		x = fmt.Sprintf("(iw-iw/zoom)*on/%d", totalFrames)
		y = "ih/2-(ih/zoom/2)"
	case EffectPanUp:
		z = fmt.Sprintf("1.15+%s", breath)
		x = "iw/2-(iw/zoom/2)"
		y = fmt.Sprintf("ih-ih/zoom-(ih-ih/zoom)*on/%d", totalFrames)
	case EffectPanDown:
		z = fmt.Sprintf("1.15+%s", breath)
		x = "iw/2-(iw/zoom/2)"
		y = fmt.Sprintf("(ih-ih/zoom)*on/%d", totalFrames)
	case EffectZoomInPanLeft:
		z = fmt.Sprintf("1+0.15*on/%d+%s", totalFrames, breath)
		x = fmt.Sprintf("iw-iw/zoom-(iw-iw/zoom)*on/%d", totalFrames)
		y = "ih/2-(ih/zoom/2)"
	case EffectZoomInPanRight:
		z = fmt.Sprintf("1+0.15*on/%d+%s", totalFrames, breath)
		x = fmt.Sprintf("(iw-iw/zoom)*on/%d", totalFrames)
		y = "ih/2-(ih/zoom/2)"
	case EffectZoomInPanUp:
		z = fmt.Sprintf("1+0.15*on/%d+%s", totalFrames, breath)
		x = "iw/2-(iw/zoom/2)"
		y = fmt.Sprintf("ih-ih/zoom-(ih-ih/zoom)*on/%d", totalFrames)
	case EffectZoomInPanDown:
		z = fmt.Sprintf("1+0.15*on/%d+%s", totalFrames, breath)
		x = "iw/2-(iw/zoom/2)"
		y = fmt.Sprintf("(ih-ih/zoom)*on/%d", totalFrames)
	default:
		z = fmt.Sprintf("1+0.15*on/%d+%s", totalFrames, breath)
		x, y = "iw/2-(iw/zoom/2)", "ih/2-(ih/zoom/2)"
	}

	return fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,"+
			"zoompan=z='%s':x='%s':y='%s':d=%d:s=%dx%d:fps=%d",
		width*2, height*2, width*2, height*2, z, x, y, totalFrames, width, height, fps,
	)
}
