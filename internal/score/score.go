package score

import (
	"math"

	"mailtester/backend/internal/domain"
)

// Ceiling 满分起点
const Ceiling = 10.0

// 评分阈值表。历史版本中存在 9/7/5 与 9/8/6 两套阈值，
// 本实现固定采用更严格的 9/8/6 表（见 DESIGN.md）。
const (
	gradeExcellent = 9.0
	gradeGood      = 8.0
	gradeAverage   = 6.0
)

// Deduction 一次扣分的完整描述。
type Deduction struct {
	Points      float64
	Title       string
	Code        string
	Severity    domain.Severity
	Details     string
	Remediation string
}

// Result 定稿后的评分结果。
type Result struct {
	Score       float64
	Grade       string
	Description string
	Items       []domain.ScoreItem
}

// Scorecard 可变的评分累加器。
//
// 两种状态：累加中、已定稿。从 10.0 起扣，Finalize 之后不再
// 接受扣分，重复 Finalize 返回同一结果。
type Scorecard struct {
	score     float64
	items     []domain.ScoreItem
	finalized bool
	result    Result
}

// NewScorecard 创建一个从满分起算的评分卡。
func NewScorecard() *Scorecard {
	return &Scorecard{score: Ceiling}
}

// Deduct 扣除指定分数并追加一条有序扣分记录。
//
// 可以任意次数、任意顺序调用，包括零次；定稿后调用被忽略。
func (s *Scorecard) Deduct(d Deduction) {
	if s.finalized {
		return
	}
	s.score -= d.Points
	s.items = append(s.items, domain.ScoreItem{
		Code:        d.Code,
		Severity:    d.Severity,
		Points:      d.Points,
		Title:       d.Title,
		Details:     d.Details,
		Remediation: d.Remediation,
	})
}

// Items 返回当前累计的扣分记录。
func (s *Scorecard) Items() []domain.ScoreItem {
	return s.items
}

// Finalize 把累计结果定稿：下限钳制到 0，保留两位小数，
// 并按固定阈值映射等级。幂等。
func (s *Scorecard) Finalize() Result {
	if s.finalized {
		return s.result
	}

	final := s.score
	if final < 0 {
		final = 0
	}
	final = math.Round(final*100) / 100

	grade, description := gradeFor(final)
	s.result = Result{
		Score:       final,
		Grade:       grade,
		Description: description,
		Items:       s.items,
	}
	s.finalized = true
	return s.result
}

// gradeFor 按阈值表映射等级与说明文案。
func gradeFor(score float64) (string, string) {
	switch {
	case score >= gradeExcellent:
		return "Excellent", "Your email is perfect"
	case score >= gradeGood:
		return "Good", "Your email is almost perfect"
	case score >= gradeAverage:
		return "Average", "Your email is okay but could be improved"
	default:
		return "Bad", "Your email will likely go to spam"
	}
}
