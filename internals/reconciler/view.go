package reconciler

import (
	"strings"

	"github.com/pixelsort/taskwatch/internals/schemas"
)

// View is what a page renders: the current page of the filtered list plus
// the numbers around it.
type View struct {
	Items    []schemas.AnalysisTask
	Filtered int
	Page     int
	Pages    int
	PageSize int
	Search   string
	Status   schemas.AnalysisStatus
	Stats    schemas.Stats
	Loaded   bool
}

// Filter keeps tasks whose filename, description or category name contains
// search (case-insensitive) and whose status equals status when one is set.
func Filter(tasks []schemas.AnalysisTask, search string, status schemas.AnalysisStatus) []schemas.AnalysisTask {
	needle := strings.ToLower(strings.TrimSpace(search))
	filtered := make([]schemas.AnalysisTask, 0, len(tasks))
	for _, task := range tasks {
		if status != "" && task.Status != status {
			continue
		}
		if needle != "" && !matches(task, needle) {
			continue
		}
		filtered = append(filtered, task)
	}
	return filtered
}

func matches(task schemas.AnalysisTask, needle string) bool {
	for _, field := range []string{task.Filename, task.Description(), task.CategoryName} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

// PageCount is at least 1 so an empty list still has a page to show.
func PageCount(total int, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 1
	}
	return (total + pageSize - 1) / pageSize
}

// Paginate returns the 1-based page of items, clamping page into range.
func Paginate(items []schemas.AnalysisTask, page int, pageSize int) ([]schemas.AnalysisTask, int) {
	pages := PageCount(len(items), pageSize)
	page = clampPage(page, pages)
	if pageSize <= 0 {
		return items, page
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []schemas.AnalysisTask{}, page
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end], page
}

func clampPage(page int, pages int) int {
	if page < 1 {
		return 1
	}
	if page > pages {
		return pages
	}
	return page
}
