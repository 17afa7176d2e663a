package app

import (
	"sort"
	"time"

	"live-quiz-service/internal/domain"
)

// BuildLeaderboard ranks participants by score (desc) then username (asc) and
// derives per-participant answer statistics. It is recomputed on every call.
func BuildLeaderboard(sessionID string, participants []domain.Participant, answers []domain.Answer, now time.Time) domain.Leaderboard {
	type tally struct {
		count     int
		correct   int
		totalTime int64
	}
	tallies := make(map[string]*tally, len(participants))
	for _, a := range answers {
		t, ok := tallies[a.ParticipantID]
		if !ok {
			t = &tally{}
			tallies[a.ParticipantID] = t
		}
		t.count++
		t.totalTime += a.ResponseTimeMs
		if a.Correct {
			t.correct++
		}
	}

	entries := make([]domain.LeaderboardEntry, 0, len(participants))
	for _, p := range participants {
		entry := domain.LeaderboardEntry{
			UserID:   p.UserID,
			Username: p.Username,
			FullName: p.FullName,
			Score:    p.Score,
		}
		if t, ok := tallies[p.ID]; ok && t.count > 0 {
			entry.AnswerCount = t.count
			entry.CorrectCount = t.correct
			entry.Accuracy = float64(t.correct) / float64(t.count) * 100
			entry.AverageTime = float64(t.totalTime) / float64(t.count) / 1000
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		if entries[i].Username != entries[j].Username {
			return entries[i].Username < entries[j].Username
		}
		return entries[i].UserID < entries[j].UserID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}

	return domain.Leaderboard{
		SessionID:   sessionID,
		Entries:     entries,
		GeneratedAt: now,
	}
}
