package migrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopUp(ctx context.Context, conn Conn) error { return nil }

func TestNewRegistry_Valid(t *testing.T) {
	reg, err := NewRegistry(
		Migration{Version: 1, Table: "widgets", Up: noopUp},
		Migration{Version: 2, Table: "widgets", Up: noopUp},
		Migration{Version: 1, Table: "gadgets", Up: noopUp},
	)
	require.NoError(t, err)

	assert.Equal(t, 2, reg.LatestVersion("widgets"))
	assert.Equal(t, 1, reg.LatestVersion("gadgets"))
	assert.Equal(t, 0, reg.LatestVersion("unknown"))
	assert.Equal(t, []string{"widgets", "gadgets"}, reg.Tables())
}

func TestNewRegistry_OrdersOutOfOrderVersions(t *testing.T) {
	reg, err := NewRegistry(
		Migration{Version: 3, Table: "widgets", Up: noopUp},
		Migration{Version: 1, Table: "widgets", Up: noopUp},
		Migration{Version: 2, Table: "widgets", Up: noopUp},
	)
	require.NoError(t, err)

	pending := reg.Pending("widgets", 0)
	require.Len(t, pending, 3)
	assert.Equal(t, 1, pending[0].Version)
	assert.Equal(t, 2, pending[1].Version)
	assert.Equal(t, 3, pending[2].Version)
}

func TestNewRegistry_Invalid(t *testing.T) {
	tests := []struct {
		name string
		migs []Migration
	}{
		{
			name: "gap in versions",
			migs: []Migration{
				{Version: 1, Table: "widgets", Up: noopUp},
				{Version: 3, Table: "widgets", Up: noopUp},
			},
		},
		{
			name: "does not start at 1",
			migs: []Migration{{Version: 2, Table: "widgets", Up: noopUp}},
		},
		{
			name: "non-positive version",
			migs: []Migration{{Version: 0, Table: "widgets", Up: noopUp}},
		},
		{
			name: "missing table",
			migs: []Migration{{Version: 1, Up: noopUp}},
		},
		{
			name: "missing up",
			migs: []Migration{{Version: 1, Table: "widgets"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.migs...)
			assert.Error(t, err)
		})
	}
}

func TestPending_WindowSemantics(t *testing.T) {
	migs := make([]Migration, 5)
	for i := range migs {
		migs[i] = Migration{Version: i + 1, Table: "widgets", Up: noopUp}
	}
	reg, err := NewRegistry(migs...)
	require.NoError(t, err)

	pending := reg.Pending("widgets", 2)
	require.Len(t, pending, 3)
	assert.Equal(t, 3, pending[0].Version)
	assert.Equal(t, 4, pending[1].Version)
	assert.Equal(t, 5, pending[2].Version)

	assert.Empty(t, reg.Pending("widgets", 5))
	assert.Empty(t, reg.Pending("unknown", 0))
}
