package orchestrator

// planBatches splits a dependency list into dispatch batches.
//
// A threshold of 0 disables fan-out entirely: one batch with the full
// list. When the dependency count is at or below the threshold, one
// batch carries everything. Above the threshold the list splits into
// consecutive slices of batchSize (minimum 1), so oversized dependency
// graphs never produce one unbounded job payload; the same prompt runs
// once per batch.
func planBatches(dependencies []string, threshold, batchSize int) [][]string {
	if threshold <= 0 || len(dependencies) <= threshold {
		return [][]string{dependencies}
	}
	if batchSize < 1 {
		batchSize = 1
	}
	batches := make([][]string, 0, (len(dependencies)+batchSize-1)/batchSize)
	for start := 0; start < len(dependencies); start += batchSize {
		end := start + batchSize
		if end > len(dependencies) {
			end = len(dependencies)
		}
		batches = append(batches, dependencies[start:end])
	}
	return batches
}
