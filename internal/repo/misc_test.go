package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsersGetScansLimit(t *testing.T) {
	tx := &fakeTx{rows: map[string][][]any{
		"FROM users": {
			{int64(1), "tester", "t@x.io", "", "", "",
				"ak", "sk", true, int64(2), int(5)},
		},
	}}

	u, err := NewUsers().Get(context.Background(), tx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), u.LimitID)
	assert.Equal(t, 5, u.MaxBacktests, "quota must come through the limit join")
}
