// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package clock isolates time.Now so tests can substitute a fixed clock
// without threading a time source through every call site.
package clock

import "time"

// nowFunc is swapped out by tests via Freeze/Unfreeze.
var nowFunc = time.Now

// Now returns the current time.
func Now() time.Time {
	return nowFunc()
}

// Freeze pins Now to t until Unfreeze is called. Intended for tests only.
func Freeze(t time.Time) {
	nowFunc = func() time.Time { return t }
}

// Unfreeze restores the real clock.
func Unfreeze() {
	nowFunc = time.Now
}
