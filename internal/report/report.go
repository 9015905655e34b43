package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/letsssgooo/examSession/internal/domain/models"
)

// Заголовок CSV с результатами
var header = []string{
	"QuestionID",
	"Correct",
	"PointsEarned",
	"MaxPoints",
	"UserAnswer",
	"CorrectAnswer",
}

// ExportCSV экспортирует разбор оценки в CSV: строка на вопрос и итоговая строка.
func ExportCSV(result *models.GradingResult) ([]byte, error) {
	if result == nil {
		return nil, fmt.Errorf("%w: empty result", models.ErrInvalidResult)
	}

	lines := make([][]string, 0, len(result.Questions)+2)
	lines = append(lines, header)

	for _, q := range result.Questions {
		lines = append(lines, []string{
			q.QuestionID,
			strconv.FormatBool(q.IsCorrect),
			formatFloat(q.PointsEarned),
			strconv.Itoa(q.MaxPoints),
			q.UserAnswer.String(),
			correctAnswer(q),
		})
	}

	lines = append(lines, []string{
		"TOTAL",
		formatFloat(result.Percentage) + "%",
		formatFloat(result.TotalScore),
		formatFloat(result.MaxScore),
		"",
		"",
	})

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(lines); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// WriteCSV экспортирует результат в файл path.
func WriteCSV(path string, result *models.GradingResult) error {
	data, err := ExportCSV(result)
	if err != nil {
		return err
	}

	if err = os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report %s: %w", path, err)
	}

	return nil
}

// NewRecord собирает плоскую запись архива из оцененной попытки.
func NewRecord(sub models.Submission, result *models.GradingResult) models.ResultRecord {
	rec := models.ResultRecord{
		SubmissionID: sub.ID,
		AssessmentID: sub.AssessmentID,
		UserID:       sub.UserID,
		Points:       sub.TotalScore,
		MaxPoints:    sub.MaxScore,
		Percentage:   sub.Percentage,
		GradedAt:     time.Now().UTC(),
	}

	if sub.SubmittedAt != nil {
		rec.GradedAt = sub.SubmittedAt.UTC()
	}

	if result == nil {
		return rec
	}

	rec.QuestionIDs = make([]string, 0, len(result.Questions))
	rec.Answers = make([]string, 0, len(result.Questions))
	rec.Correct = make([]bool, 0, len(result.Questions))

	for _, q := range result.Questions {
		rec.QuestionIDs = append(rec.QuestionIDs, q.QuestionID)
		rec.Answers = append(rec.Answers, q.UserAnswer.String())
		rec.Correct = append(rec.Correct, q.IsCorrect)
	}

	return rec
}

func correctAnswer(q models.QuestionResult) string {
	if q.CorrectAnswer != "" {
		return q.CorrectAnswer
	}

	return models.AnswerPayload{OptionIDs: q.CorrectOptionIDs}.String()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
