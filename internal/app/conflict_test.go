package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justyntemme/waypoint/internal/vfs"
)

func TestParseConflict(t *testing.T) {
	tests := []struct {
		in   string
		want vfs.ConflictResolution
	}{
		{"overwrite", vfs.ConflictOverwrite},
		{"Skip", vfs.ConflictSkip},
		{" keep-both ", vfs.ConflictKeepBoth},
		{"abort", vfs.ConflictAbort},
	}
	for _, tt := range tests {
		got, err := ParseConflict(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseConflict("merge")
	assert.Error(t, err)
}

func TestConflictPolicyApplyToAll(t *testing.T) {
	var asked int
	p := &ConflictPolicy{Ask: func(src, dst *vfs.FileData) (vfs.ConflictResolution, bool) {
		asked++
		if asked == 1 {
			return vfs.ConflictSkip, false
		}
		return vfs.ConflictOverwrite, true
	}}

	assert.Equal(t, vfs.ConflictSkip, p.Resolve(nil, nil))
	assert.Equal(t, vfs.ConflictOverwrite, p.Resolve(nil, nil))
	assert.Equal(t, vfs.ConflictOverwrite, p.Resolve(nil, nil))
	assert.Equal(t, 2, asked)
	assert.Equal(t, 3, p.Conflicts())

	assert.Equal(t, vfs.ConflictKeepBoth, (&ConflictPolicy{}).Resolve(nil, nil))
}
