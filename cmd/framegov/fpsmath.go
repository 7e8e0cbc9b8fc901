package main

import "math"

// SnapToStep rounds fps half-up to the nearest multiple of step and floors the
// result at minFPS. It is idempotent for any step > 0.
func SnapToStep(fps float64, step, minFPS int) int {
	if step <= 0 {
		step = 1
	}
	s := float64(step)
	snapped := int(math.Floor((fps+s/2)/s)) * step
	if snapped < minFPS {
		return minFPS
	}
	return snapped
}

// clampTarget bounds a target to [minFPS, nativeFPS]. When the configured floor
// sits above the file's own rate, the native rate wins.
func clampTarget(target, minFPS, nativeFPS int) int {
	if target < minFPS {
		target = minFPS
	}
	if target > nativeFPS {
		target = nativeFPS
	}
	return target
}

// nativeFPSFromProbe converts a reported frame rate into the session's integer
// native rate, falling back when the player had nothing usable.
func nativeFPSFromProbe(fps float64, known bool) int {
	if !known || fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		return fallbackNativeFPS
	}
	n := int(math.Round(fps))
	if n < 1 {
		return fallbackNativeFPS
	}
	return n
}
