package database

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrationNames_SortedAndEmbedded(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	require.Equal(t, "001_schema.sql", names[0])

	sql, err := migrationsFS.ReadFile("migrations/" + names[0])
	require.NoError(t, err)
	for _, table := range []string{"active_polls", "poll_result", "discord_votes", "votes", "poll_winners", "user_xp"} {
		require.Contains(t, string(sql), table)
	}
}
