package services

import (
	"fmt"
	"strings"

	"academix_backend/backend/models"
)

// ScoreCard is the outcome of grading one session.
type ScoreCard struct {
	TotalScore    float64
	MaxScore      float64
	Percentage    float64
	Passed        bool
	Grade         string
	Sections      []models.SectionScore
	CorrectCount  int
	WrongCount    int
	AnsweredCount int
}

// Letter-grade bands are a policy constant; D covers everything from the
// test's passing score up to the C band.
var gradeBands = []struct {
	min   float64
	grade string
}{
	{90, "A"},
	{75, "B"},
	{60, "C"},
}

func letterGrade(percentage, passingScore float64) string {
	for _, band := range gradeBands {
		if percentage >= band.min {
			return band.grade
		}
	}
	if percentage >= passingScore {
		return "D"
	}
	return "F"
}

// ScoreSession grades the persisted answers against the test definition.
// Correctness always comes from the definition's answer key, never from
// anything the client sent. An unanswered question earns nothing and is
// never penalized, even under negative marking.
func ScoreSession(test *models.Test, answers []models.SessionAnswer) (*ScoreCard, error) {
	byNumber := make(map[int]models.SessionAnswer, len(answers))
	for _, ans := range answers {
		byNumber[ans.QuestionNumber] = ans
	}

	card := &ScoreCard{}

	sectionIndex := map[string]*models.SectionScore{}
	var sectionOrder []string
	section := func(name string) *models.SectionScore {
		if sc, ok := sectionIndex[name]; ok {
			return sc
		}
		sc := &models.SectionScore{Name: name}
		sectionIndex[name] = sc
		sectionOrder = append(sectionOrder, name)
		return sc
	}

	for _, q := range test.Questions {
		if q.CorrectAnswer == "" && !q.FreeText {
			return nil, fmt.Errorf("question %d: %w", q.Number, ErrMissingAnswerKey)
		}

		card.MaxScore += q.Points
		if test.SectionBased {
			section(q.Section).Total++
		}

		ans, ok := byNumber[q.Number]
		given := strings.TrimSpace(ans.SelectedKey)
		if !ok || given == "" {
			continue
		}

		card.AnsweredCount++

		correct := given == q.CorrectAnswer
		if q.FreeText {
			correct = strings.EqualFold(given, strings.TrimSpace(q.CorrectAnswer))
		}

		// Section attribution uses the tag copied onto the answer when it was
		// recorded, so a later definition edit cannot shift old answers.
		tag := ans.Section
		if tag == "" {
			tag = q.Section
		}

		if correct {
			card.TotalScore += q.Points
			card.CorrectCount++
			if test.SectionBased {
				section(tag).Correct++
			}
		} else {
			card.WrongCount++
			if penalty := negativeMarks(test, q); penalty > 0 {
				card.TotalScore -= penalty
			}
		}
		if test.SectionBased {
			section(tag).Answered++
		}
	}

	if card.MaxScore > 0 {
		card.Percentage = card.TotalScore / card.MaxScore * 100
	}
	card.Passed = card.Percentage >= test.PassingScore
	card.Grade = letterGrade(card.Percentage, test.PassingScore)

	if test.SectionBased {
		card.Sections = make([]models.SectionScore, 0, len(sectionOrder))
		for _, name := range sectionOrder {
			sc := sectionIndex[name]
			if sc.Total > 0 {
				sc.Percentage = float64(sc.Correct) / float64(sc.Total) * 100
			}
			card.Sections = append(card.Sections, *sc)
		}
	}

	return card, nil
}

// negativeMarks resolves the deduction for a wrong answer. A per-question
// setting overrides the test-wide one.
func negativeMarks(test *models.Test, q models.TestQuestion) float64 {
	if q.NegativeMarking {
		return q.NegativeMarks
	}
	if test.Policy.NegativeMarking {
		return test.Policy.NegativeMarks
	}
	return 0
}
