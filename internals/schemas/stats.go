package schemas

// Stats is the aggregate count of analysis tasks by status. Total counts every
// task; cancelled tasks are tracked in their own bucket.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

func ComputeStats(tasks []AnalysisTask) Stats {
	var stats Stats
	for _, task := range tasks {
		stats.Total++
		stats.Add(task.Status, 1)
	}
	return stats
}

// Add moves delta tasks into the bucket for status. Total is left alone so a
// status change can be expressed as Add(from, -1) followed by Add(to, 1).
func (s *Stats) Add(status AnalysisStatus, delta int) {
	switch status {
	case AnalysisStatusPending:
		s.Pending += delta
	case AnalysisStatusProcessing:
		s.Processing += delta
	case AnalysisStatusCompleted:
		s.Completed += delta
	case AnalysisStatusFailed:
		s.Failed += delta
	case AnalysisStatusCancelled:
		s.Cancelled += delta
	}
}

// Move records a single task changing from one status to another.
func (s *Stats) Move(from AnalysisStatus, to AnalysisStatus) {
	if from == to {
		return
	}
	s.Add(from, -1)
	s.Add(to, 1)
}

func (s Stats) Unresolved() int {
	return s.Pending + s.Processing
}
