package rubric

import (
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/noah-isme/cliniclink-api/internal/models"
	appErrors "github.com/noah-isme/cliniclink-api/pkg/errors"
)

// DefaultMinRated is the number of categories that must be rated before submitting.
const DefaultMinRated = 3

var (
	ErrUnknownCategory  = appErrors.New("UNKNOWN_CATEGORY", http.StatusBadRequest, "rating references an unknown category")
	ErrRatingOutOfScale = appErrors.New("RATING_OUT_OF_SCALE", http.StatusBadRequest, "rating is not a level of the active scale")
	ErrSlotRequired     = appErrors.New("SLOT_REQUIRED", http.StatusBadRequest, "Please select a rotation")
	ErrStudentRequired  = appErrors.New("STUDENT_REQUIRED", http.StatusBadRequest, "Please select a student")
	ErrTooFewRatings    = appErrors.New("TOO_FEW_RATINGS", http.StatusBadRequest, "Please rate at least 3 categories")
	ErrCommentsRequired = appErrors.New("COMMENTS_REQUIRED", http.StatusBadRequest, "Please provide overall comments")
)

// Scorecard holds the ratings entered against one template for one evaluation.
type Scorecard struct {
	Categories []models.RubricCategory
	Scale      []models.RatingLevel
	MinRated   int

	ratings map[string]int
}

// Submission carries the non-rating fields checked before an evaluation is submitted.
type Submission struct {
	SlotID         string
	StudentID      string
	Comments       string
	RequireStudent bool
}

// NewScorecard resolves the categories and scale an author rates against.
// template may be nil.
func NewScorecard(template *models.EvaluationTemplate, role models.UserRole) *Scorecard {
	return &Scorecard{
		Categories: ResolveCategories(template, role),
		Scale:      ResolveScale(template),
		MinRated:   DefaultMinRated,
		ratings:    map[string]int{},
	}
}

// ResolveCategories prefers the template's categories, then the role default.
func ResolveCategories(template *models.EvaluationTemplate, role models.UserRole) []models.RubricCategory {
	if template != nil && len(template.Categories) > 0 {
		return cloneCategories(template.Categories)
	}
	if role == models.RoleStudent {
		return cloneCategories(StudentRatingCategories)
	}
	return cloneCategories(RatingCategories)
}

// ResolveScale returns the template scale when usable, otherwise the default scale.
func ResolveScale(template *models.EvaluationTemplate) []models.RatingLevel {
	if template != nil && len(template.RatingScale) >= MinRatingLevels {
		return cloneLevels(template.RatingScale)
	}
	return cloneLevels(DefaultRatingScale)
}

// SetRating records value for a category, replacing any previous rating.
func (s *Scorecard) SetRating(key string, value int) error {
	if !s.hasCategory(key) {
		return appErrors.Clone(ErrUnknownCategory, fmt.Sprintf("unknown category %q", key))
	}
	if !s.inScale(value) {
		return appErrors.Clone(ErrRatingOutOfScale, fmt.Sprintf("rating %d is not on the scale", value))
	}
	if s.ratings == nil {
		s.ratings = map[string]int{}
	}
	s.ratings[key] = value
	return nil
}

// Apply sets every rating in order of the resolved categories and stops at the first error.
func (s *Scorecard) Apply(ratings map[string]int) error {
	for key := range ratings {
		if !s.hasCategory(key) {
			return appErrors.Clone(ErrUnknownCategory, fmt.Sprintf("unknown category %q", key))
		}
	}
	for _, c := range s.Categories {
		value, ok := ratings[c.Key]
		if !ok {
			continue
		}
		if err := s.SetRating(c.Key, value); err != nil {
			return err
		}
	}
	return nil
}

// Ratings returns a copy of the entered ratings.
func (s *Scorecard) Ratings() models.EvaluationRatings {
	out := make(models.EvaluationRatings, len(s.ratings))
	for k, v := range s.ratings {
		out[k] = v
	}
	return out
}

// Rated is the number of categories with a rating.
func (s *Scorecard) Rated() int {
	return len(s.ratings)
}

// OverallScore is the unweighted mean of entered ratings rounded to one decimal.
// Category weights are ignored.
func (s *Scorecard) OverallScore() float64 {
	if len(s.ratings) == 0 {
		return 0
	}
	sum := 0
	for _, v := range s.ratings {
		sum += v
	}
	mean := float64(sum) / float64(len(s.ratings))
	return math.Round(mean*10) / 10
}

// ValidateSubmission reports the first missing condition.
func (s *Scorecard) ValidateSubmission(sub Submission) error {
	if strings.TrimSpace(sub.SlotID) == "" {
		return ErrSlotRequired
	}
	if sub.RequireStudent && strings.TrimSpace(sub.StudentID) == "" {
		return ErrStudentRequired
	}
	minRated := s.MinRated
	if minRated <= 0 {
		minRated = DefaultMinRated
	}
	if len(s.ratings) < minRated {
		if minRated == DefaultMinRated {
			return ErrTooFewRatings
		}
		return appErrors.Clone(ErrTooFewRatings, fmt.Sprintf("Please rate at least %d categories", minRated))
	}
	if strings.TrimSpace(sub.Comments) == "" {
		return ErrCommentsRequired
	}
	return nil
}

func (s *Scorecard) hasCategory(key string) bool {
	for _, c := range s.Categories {
		if c.Key == key {
			return true
		}
	}
	return false
}

func (s *Scorecard) inScale(value int) bool {
	for _, l := range s.Scale {
		if l.Value == value {
			return true
		}
	}
	return false
}
