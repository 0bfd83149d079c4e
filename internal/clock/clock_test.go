// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFreezeAndUnfreeze(t *testing.T) {
	defer Unfreeze()

	frozen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	Freeze(frozen)
	require.Equal(t, frozen, Now())
	require.Equal(t, frozen, Now())

	Unfreeze()
	require.WithinDuration(t, time.Now(), Now(), time.Second)
}
