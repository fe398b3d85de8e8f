package eventlog

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerAppendAndRecent(t *testing.T) {
	dir, err := os.MkdirTemp("", "eventlog-ledger")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	l, err := OpenLedger(dir)
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Append("event", 100, [][]interface{}{{int64(100), "INFO", "ROUTE/UPDATED"}}))
	require.NoError(t, l.Append("event", 200, [][]interface{}{{int64(200), "INFO", "ROUTE/REMOVED"}}))
	require.NoError(t, l.Append("trace", 150, [][]interface{}{{int64(150), "redirect", "dispatch"}}))

	batches, err := l.Recent("event", 10)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, int64(200), batches[0].Timestamp, "newest batch first")
	assert.Equal(t, int64(100), batches[1].Timestamp)
}

func TestLedgerRecentRespectsLimit(t *testing.T) {
	dir, err := os.MkdirTemp("", "eventlog-ledger")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	l, err := OpenLedger(dir)
	require.NoError(t, err)
	defer l.Close()

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, l.Append("event", i, nil))
	}
	batches, err := l.Recent("event", 2)
	require.NoError(t, err)
	assert.Len(t, batches, 2)
}
