package ingest

// Partition is a contiguous slice of the job list, processed by a single worker over a single connection
type Partition struct {
	Index int
	Jobs  []Job
}

// Split divides jobs into at most n contiguous partitions whose sizes differ by at most one.
// Empty partitions are never produced.
func Split(jobs []Job, n int) []Partition {
	if n < 1 {
		n = 1
	}
	if n > len(jobs) {
		n = len(jobs)
	}
	parts := make([]Partition, n)
	start := 0
	for i := 0; i < n; i++ {
		size := len(jobs) / n
		if i < len(jobs)%n {
			size++
		}
		parts[i] = Partition{Index: i, Jobs: jobs[start : start+size]}
		start += size
	}
	return parts
}

// PartitionMap is an iterator producing a sequence of Partitions
type PartitionMap struct {
	parts []Partition
}

// NewPartitionMap splits jobs into n partitions and iterates them
func NewPartitionMap(jobs []Job, n int) *PartitionMap {
	return &PartitionMap{parts: Split(jobs, n)}
}

// Len returns the number of partitions remaining
func (pm *PartitionMap) Len() int {
	return len(pm.parts)
}

// HasNext returns true iff there is another Partition remaining
func (pm *PartitionMap) HasNext() bool {
	return len(pm.parts) > 0
}

// Next returns the next Partition
func (pm *PartitionMap) Next() Partition {
	result := pm.parts[0]
	pm.parts = pm.parts[1:]
	return result
}
