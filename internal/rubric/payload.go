package rubric

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/noah-isme/cliniclink-api/internal/models"
	appErrors "github.com/noah-isme/cliniclink-api/pkg/errors"
)

// ErrIncompleteTemplate is the single error reported for any missing required field.
var ErrIncompleteTemplate = appErrors.New("INCOMPLETE_TEMPLATE", http.StatusBadRequest, "Please fill in all required fields")

// TemplatePayload is the body sent to create or update a template.
type TemplatePayload struct {
	UniversityID string                  `json:"university_id,omitempty"`
	Type         models.EvaluationType   `json:"type"`
	Name         string                  `json:"name"`
	IsActive     *bool                   `json:"is_active,omitempty"`
	Categories   []models.RubricCategory `json:"categories"`
	RatingScale  []models.RatingLevel    `json:"rating_scale"`
}

// Validate checks the fields required before the state can be submitted.
// The university is only required when creating.
func (s *FormState) Validate() error {
	if blank(s.Name) {
		return ErrIncompleteTemplate
	}
	if s.IsCreate() && blank(s.UniversityID) {
		return ErrIncompleteTemplate
	}
	if len(s.Categories) == 0 || len(s.RatingScale) < MinRatingLevels {
		return ErrIncompleteTemplate
	}
	for _, c := range s.Categories {
		if blank(c.Label) {
			return ErrIncompleteTemplate
		}
	}
	return nil
}

// Payload serialises the state. Criteria without a label are dropped, weights
// that do not parse are omitted and repeated keys receive a numeric suffix.
func (s *FormState) Payload() TemplatePayload {
	categories := make([]models.RubricCategory, 0, len(s.Categories))
	for _, c := range s.Categories {
		rc := models.RubricCategory{
			Key:         c.Key,
			Label:       c.Label,
			Description: c.Description,
			Weight:      ParseWeight(c.Weight),
		}
		for _, cr := range c.Criteria {
			rc.Criteria = append(rc.Criteria, models.RubricCriterion(cr))
		}
		categories = append(categories, rc)
	}
	active := s.IsActive
	return TemplatePayload{
		UniversityID: s.UniversityID,
		Type:         s.Type,
		Name:         s.Name,
		IsActive:     &active,
		Categories:   NormalizeCategories(categories),
		RatingScale:  cloneLevels(s.RatingScale),
	}
}

// ParseWeight returns nil for blank or non-numeric input.
func ParseWeight(raw string) *float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	w, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &w
}

// NormalizeCategories returns a copy of the categories with slug keys that are
// unique among categories and among the criteria of each category. Keys fall
// back to the label, then to a positional name. Unlabelled criteria are dropped.
func NormalizeCategories(categories []models.RubricCategory) []models.RubricCategory {
	out := make([]models.RubricCategory, 0, len(categories))
	categoryKeys := keySet{}
	for i, c := range cloneCategories(categories) {
		c.Key = categoryKeys.claim(deriveKey(c.Key, c.Label, "category", i))

		criteria := make([]models.RubricCriterion, 0, len(c.Criteria))
		criterionKeys := keySet{}
		for _, cr := range c.Criteria {
			if blank(cr.Label) {
				continue
			}
			cr.Key = criterionKeys.claim(deriveKey(cr.Key, cr.Label, "criterion", len(criteria)))
			criteria = append(criteria, cr)
		}
		if len(criteria) > 0 {
			c.Criteria = criteria
		} else {
			c.Criteria = nil
		}
		out = append(out, c)
	}
	return out
}

// CheckTemplate validates a normalised rubric as stored by the service.
// A nil scale is allowed and means the default scale applies.
func CheckTemplate(categories []models.RubricCategory, scale []models.RatingLevel) error {
	if len(categories) < MinCategories {
		return appErrors.Clone(appErrors.ErrInvalidRubric, "at least one category is required")
	}
	for i, c := range categories {
		if blank(c.Label) {
			return appErrors.Clone(appErrors.ErrInvalidRubric, fmt.Sprintf("category %d requires a label", i+1))
		}
		if c.Weight != nil && *c.Weight < 0 {
			return appErrors.Clone(appErrors.ErrInvalidRubric, fmt.Sprintf("category %q has a negative weight", c.Key))
		}
	}
	return CheckScale(scale)
}

// CheckScale validates a rating scale; nil is accepted.
func CheckScale(scale []models.RatingLevel) error {
	if scale == nil {
		return nil
	}
	if len(scale) < MinRatingLevels {
		return appErrors.Clone(appErrors.ErrInvalidRubric, fmt.Sprintf("rating scale requires at least %d levels", MinRatingLevels))
	}
	seen := make(map[int]struct{}, len(scale))
	for _, l := range scale {
		if _, dup := seen[l.Value]; dup {
			return appErrors.Clone(appErrors.ErrInvalidRubric, fmt.Sprintf("rating value %d is repeated", l.Value))
		}
		seen[l.Value] = struct{}{}
		if blank(l.Label) {
			return appErrors.Clone(appErrors.ErrInvalidRubric, fmt.Sprintf("rating value %d requires a label", l.Value))
		}
	}
	return nil
}

func deriveKey(key, label, prefix string, index int) string {
	if k := Slugify(key); k != "" {
		return k
	}
	if k := Slugify(label); k != "" {
		return k
	}
	return fmt.Sprintf("%s_%d", prefix, index+1)
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
