package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunStatistics(t *testing.T) {
	var rs RunStatistics
	rs.Start(2)
	start := time.Now()
	rs.EndJob(0, start, false)
	rs.EndJob(0, start, true)
	rs.EndJob(1, start, false)
	rs.EndPartition(1, start)
	rs.Finish()

	require.Equal(t, []int64{2, 1}, rs.GetNumJobsProcessed())
	require.Equal(t, []int64{1, 0}, rs.GetNumJobsFailed())
	runtimes := rs.GetPartitionRuntimes()
	require.Equal(t, time.Duration(0), runtimes[0])
	require.True(t, runtimes[1] >= 0)
	total := rs.GetRuntime()
	time.Sleep(2 * time.Millisecond)
	require.Equal(t, total, rs.GetRuntime())
	require.True(t, rs.GetCurrentJobProcessingTime() >= 0)
}
