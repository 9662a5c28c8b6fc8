package stats

import (
	"sync"
	"time"
)

const statisticRollingWindows = 5

// RunStatistics contains statistics about a running ingestion job. It is safe for concurrent use.
type RunStatistics struct {
	lock                  sync.Mutex
	started               bool
	finished              bool
	startTime             time.Time
	totalRuntime          int64
	jobsProcessed         []int64 // by partition
	jobsFailed            []int64 // by partition
	partitionRuntimes     []int64
	recentJobRuntimes     []int64 // for rolling average of recent job processing times
	recentJobRuntimesHead int
}

// Start triggers statistics tracking, if it hasn't been started already
func (rs *RunStatistics) Start(numPartitions int) {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	if !rs.started {
		rs.started = true
		rs.startTime = time.Now()
		rs.jobsProcessed = make([]int64, numPartitions)
		rs.jobsFailed = make([]int64, numPartitions)
		rs.partitionRuntimes = make([]int64, numPartitions)
		rs.recentJobRuntimes = make([]int64, statisticRollingWindows)
	}
}

// Finish completes statistics tracking
func (rs *RunStatistics) Finish() {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	rs.totalRuntime = time.Since(rs.startTime).Nanoseconds()
	rs.finished = true
}

// EndJob tracks the end of a job which began at start
func (rs *RunStatistics) EndJob(pidx int, start time.Time, failed bool) {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	rs.recentJobRuntimes[rs.recentJobRuntimesHead] = time.Since(start).Nanoseconds()
	rs.recentJobRuntimesHead = (rs.recentJobRuntimesHead + 1) % len(rs.recentJobRuntimes)
	rs.jobsProcessed[pidx]++
	if failed {
		rs.jobsFailed[pidx]++
	}
}

// EndPartition tracks the end of a partition which began at start
func (rs *RunStatistics) EndPartition(pidx int, start time.Time) {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	rs.partitionRuntimes[pidx] = time.Since(start).Nanoseconds()
}

// GetStartTime returns the start time of the job
func (rs *RunStatistics) GetStartTime() time.Time {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	return rs.startTime
}

// GetRuntime returns the running time of the job
func (rs *RunStatistics) GetRuntime() time.Duration {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	if rs.finished {
		return time.Duration(rs.totalRuntime)
	}
	return time.Since(rs.startTime)
}

// GetNumJobsProcessed returns the number of jobs which have been processed so far, successful or not, counted by partition
func (rs *RunStatistics) GetNumJobsProcessed() []int64 {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	return append([]int64(nil), rs.jobsProcessed...)
}

// GetNumJobsFailed returns the number of jobs which have failed so far, counted by partition
func (rs *RunStatistics) GetNumJobsFailed() []int64 {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	return append([]int64(nil), rs.jobsFailed...)
}

// GetPartitionRuntimes returns the runtime of every finished partition
func (rs *RunStatistics) GetPartitionRuntimes() []time.Duration {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	out := make([]time.Duration, len(rs.partitionRuntimes))
	for i, d := range rs.partitionRuntimes {
		out[i] = time.Duration(d)
	}
	return out
}

// GetCurrentJobProcessingTime returns a rolling average of job processing time
func (rs *RunStatistics) GetCurrentJobProcessingTime() time.Duration {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	var total int64
	for _, d := range rs.recentJobRuntimes {
		total += d
	}
	return time.Duration(total / statisticRollingWindows)
}
