package exam

import (
	"fmt"
	"strings"
)

type RoundingMode string

const (
	RoundHalfUp   RoundingMode = "half_up"
	RoundHalfEven RoundingMode = "half_even"
	RoundDown     RoundingMode = "down"
)

func ParseRoundingMode(v string) (RoundingMode, error) {
	switch RoundingMode(strings.TrimSpace(strings.ToLower(v))) {
	case "", RoundHalfUp:
		return RoundHalfUp, nil
	case RoundHalfEven:
		return RoundHalfEven, nil
	case RoundDown:
		return RoundDown, nil
	default:
		return "", fmt.Errorf("unknown rounding mode %q", v)
	}
}

type ScoreInput struct {
	Key      KeyEntry
	Response *Response
}

type ItemResult struct {
	QuestionID  string  `json:"question_id"`
	Answered    bool    `json:"answered"`
	IsCorrect   *bool   `json:"is_correct,omitempty"`
	EarnedScore int     `json:"earned_score"`
	Reason      string  `json:"reason"`
	Selected    *string `json:"selected,omitempty"`
	Correct     string  `json:"correct"`
}

type ScoreResult struct {
	Score           int          `json:"score"`
	TotalPossible   int          `json:"total_possible"`
	Percentage      int          `json:"percentage"`
	TotalCorrect    int          `json:"total_correct"`
	TotalWrong      int          `json:"total_wrong"`
	TotalUnanswered int          `json:"total_unanswered"`
	Items           []ItemResult `json:"items"`
}

// ScoreQuestion grades a single response by exact, case-sensitive match.
func ScoreQuestion(in ScoreInput) ItemResult {
	points := in.Key.Points
	if points < 0 {
		points = 0
	}
	out := ItemResult{QuestionID: in.Key.QuestionID, Correct: in.Key.CorrectAnswer}
	if in.Response == nil || in.Response.SelectedAnswer == "" {
		out.Reason = "unanswered"
		return out
	}

	selected := in.Response.SelectedAnswer
	out.Answered = true
	out.Selected = &selected
	if selected == in.Key.CorrectAnswer {
		out.IsCorrect = boolPtr(true)
		out.EarnedScore = points
		out.Reason = "correct"
		return out
	}
	out.IsCorrect = boolPtr(false)
	out.Reason = "wrong"
	return out
}

// Score grades all responses against the key. Responses for questions not in
// the key are ignored.
func Score(responses []Response, key []KeyEntry, mode RoundingMode) ScoreResult {
	byQuestion := make(map[string]*Response, len(responses))
	for i := range responses {
		byQuestion[responses[i].QuestionID] = &responses[i]
	}

	res := ScoreResult{Items: make([]ItemResult, 0, len(key))}
	for _, entry := range key {
		if entry.Points > 0 {
			res.TotalPossible += entry.Points
		}
		item := ScoreQuestion(ScoreInput{Key: entry, Response: byQuestion[entry.QuestionID]})
		switch item.Reason {
		case "correct":
			res.TotalCorrect++
		case "wrong":
			res.TotalWrong++
		default:
			res.TotalUnanswered++
		}
		res.Score += item.EarnedScore
		res.Items = append(res.Items, item)
	}

	if res.Score > res.TotalPossible {
		res.Score = res.TotalPossible
	}
	res.Percentage = Percentage(res.Score, res.TotalPossible, mode)
	return res
}

// Percentage returns round(100*score/total) under mode, in [0,100]. A zero total yields 0.
func Percentage(score, total int, mode RoundingMode) int {
	if total <= 0 || score <= 0 {
		return 0
	}
	if score > total {
		score = total
	}

	num := 100 * score
	q, r := num/total, num%total
	switch mode {
	case RoundDown:
		return q
	case RoundHalfEven:
		switch {
		case 2*r > total:
			return q + 1
		case 2*r == total && q%2 == 1:
			return q + 1
		default:
			return q
		}
	default:
		if 2*r >= total {
			return q + 1
		}
		return q
	}
}

// Passed compares an integer percentage against the exam threshold.
func Passed(percentage, passingPercentage int) bool {
	return percentage >= passingPercentage
}

func boolPtr(v bool) *bool {
	return &v
}
