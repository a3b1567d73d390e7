package db

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations(t *testing.T) {
	migrations, err := LoadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)

	for i, m := range migrations {
		assert.True(t, strings.HasSuffix(m.Name, ".sql"), m.Name)
		assert.NotEmpty(t, strings.TrimSpace(m.SQL), m.Name)
		if i > 0 {
			assert.Greater(t, m.Version, migrations[i-1].Version)
		}
	}

	first := migrations[0]
	assert.Equal(t, 1, first.Version)
	assert.Contains(t, first.SQL, "appointments_active_slot_uidx")
	assert.Contains(t, first.SQL, "WHERE status IN ('scheduled', 'confirmed')")
}
