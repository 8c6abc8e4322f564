// Package gamification turns ledger and session data into scores, streaks,
// and leaderboards. The functions in this file are pure; Reporter composes
// them over a read-only store.
package gamification

import (
	"math"
	"sort"

	"smartattend/internal/attendance"
)

// LeaderboardSize is the number of entries shown on a leaderboard.
const LeaderboardSize = 10

// AttendanceScore is the attended share of eligible sessions as a percentage
// rounded to one decimal. attended > total is not clamped.
func AttendanceScore(attended, total int) float64 {
	if total == 0 {
		return 0
	}
	return round1(float64(attended) / float64(total) * 100)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Streak counts consecutive attended sessions starting from the most recent.
// sessionsDesc must be ordered newest first; the first miss ends the run.
func Streak(sessionsDesc []string, attended map[string]bool) int {
	n := 0
	for _, id := range sessionsDesc {
		if !attended[id] {
			break
		}
		n++
	}
	return n
}

// Entry is one row of a leaderboard.
type Entry struct {
	StudentID string `json:"student_id"`
	Name      string `json:"name,omitempty"`
	Count     int    `json:"attendance_count"`
	Rank      int    `json:"rank"`
}

// Ranking tallies records per student and orders them by count descending,
// then student id ascending. Ranks are 1-based positions.
func Ranking(records []attendance.Record) []Entry {
	counts := make(map[string]int)
	for _, r := range records {
		counts[r.StudentID]++
	}
	out := make([]Entry, 0, len(counts))
	for id, n := range counts {
		out = append(out, Entry{StudentID: id, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].StudentID < out[j].StudentID
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// TopAndRank slices the leaderboard off a ranking and locates studentID in
// the full list. A student with no records has rank 0.
func TopAndRank(ranked []Entry, studentID string) ([]Entry, int) {
	rank := 0
	for _, e := range ranked {
		if e.StudentID == studentID {
			rank = e.Rank
			break
		}
	}
	top := ranked
	if len(top) > LeaderboardSize {
		top = top[:LeaderboardSize]
	}
	return append([]Entry(nil), top...), rank
}

// LeaderboardAndRank returns the top entries and the requesting student's rank.
func LeaderboardAndRank(studentID string, records []attendance.Record) ([]Entry, int) {
	return TopAndRank(Ranking(records), studentID)
}
