package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSQL_Ordered(t *testing.T) {
	files, err := readSQL(PostgresFS, "postgres")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "001_bot_users.sql", files[0].name)
	assert.Equal(t, "002_seen_transactions.sql", files[1].name)

	files, err = readSQL(ClickhouseFS, "clickhouse")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Contains(t, files[0].body, "notification_deliveries")
}

func TestSplitStatements(t *testing.T) {
	stmts, err := splitStatements(`
-- first; with a semicolon in the comment
CREATE TABLE a (x String);

CREATE TABLE b (y String) ENGINE = MergeTree() ORDER BY y;
`)
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (x String)", stmts[0])
	assert.Contains(t, stmts[1], "ORDER BY y")
}

func TestSplitStatements_EmbeddedSchema(t *testing.T) {
	files, err := readSQL(ClickhouseFS, "clickhouse")
	require.NoError(t, err)
	stmts, err := splitStatements(files[0].body)
	require.NoError(t, err)
	assert.Len(t, stmts, 1)
}

func TestSplitStatements_RejectsSemicolonInLiteral(t *testing.T) {
	_, err := splitStatements(`INSERT INTO a VALUES ('x;y');`)
	assert.ErrorIs(t, err, errSemicolonInLiteral)

	stmts, err := splitStatements(`INSERT INTO a VALUES ('it''s');`)
	require.NoError(t, err)
	assert.Len(t, stmts, 1)
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://localhost:9000/wallet_bot")
	require.NoError(t, err)
	assert.Equal(t, "wallet_bot", db)

	_, err = databaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)
}
