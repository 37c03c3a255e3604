package rubric

import "github.com/noah-isme/cliniclink-api/internal/models"

const (
	// PresetCustom marks a scale that was edited by hand.
	PresetCustom = "custom"
	// PresetDefault is the preset used for new templates.
	PresetDefault = "5"

	// MinRatingLevels is the smallest usable rating scale.
	MinRatingLevels = 2
	// MinCategories is the smallest editable rubric.
	MinCategories = 1
)

// DefaultRatingScale applies whenever a template carries no usable scale.
var DefaultRatingScale = []models.RatingLevel{
	{Value: 1, Label: "Poor"},
	{Value: 2, Label: "Below Average"},
	{Value: 3, Label: "Average"},
	{Value: 4, Label: "Good"},
	{Value: 5, Label: "Outstanding"},
}

// RatingPresets are keyed by point count.
var RatingPresets = map[string][]models.RatingLevel{
	"3": {
		{Value: 1, Label: "Below Expectations"},
		{Value: 2, Label: "Meets Expectations"},
		{Value: 3, Label: "Exceeds Expectations"},
	},
	"4": {
		{Value: 1, Label: "Unsatisfactory"},
		{Value: 2, Label: "Needs Improvement"},
		{Value: 3, Label: "Satisfactory"},
		{Value: 4, Label: "Excellent"},
	},
	"5": DefaultRatingScale,
	"10": {
		{Value: 1, Label: "Very Poor"},
		{Value: 2, Label: "Poor"},
		{Value: 3, Label: "Below Average"},
		{Value: 4, Label: "Fair"},
		{Value: 5, Label: "Average"},
		{Value: 6, Label: "Above Average"},
		{Value: 7, Label: "Good"},
		{Value: 8, Label: "Very Good"},
		{Value: 9, Label: "Excellent"},
		{Value: 10, Label: "Outstanding"},
	},
}

// PresetNames lists the presets in display order.
var PresetNames = []string{"3", "4", "5", "10"}

// RatingCategories is the preceptor default rubric used when no template is selected.
var RatingCategories = []models.RubricCategory{
	{Key: "clinical_knowledge", Label: "Clinical Knowledge", Description: "Applies medical knowledge to patient care"},
	{Key: "clinical_skills", Label: "Clinical Skills", Description: "History taking, examination and procedures"},
	{Key: "professionalism", Label: "Professionalism", Description: "Reliability, ethics and accountability"},
	{Key: "communication", Label: "Communication", Description: "With patients, families and the care team"},
	{Key: "critical_thinking", Label: "Critical Thinking", Description: "Clinical reasoning and decision making"},
	{Key: "teamwork", Label: "Teamwork", Description: "Collaboration within the interprofessional team"},
}

// StudentRatingCategories is the default rubric for student feedback on a rotation.
var StudentRatingCategories = []models.RubricCategory{
	{Key: "preceptor_support", Label: "Preceptor Support", Description: "Availability and quality of teaching"},
	{Key: "learning_environment", Label: "Learning Environment", Description: "Welcoming, safe and organised site"},
	{Key: "clinical_exposure", Label: "Clinical Exposure", Description: "Variety and volume of cases"},
	{Key: "site_organization", Label: "Site Organization", Description: "Onboarding, scheduling and expectations"},
	{Key: "overall_experience", Label: "Overall Experience", Description: "Would recommend this rotation"},
}

// Preset returns a copy of the named preset scale.
func Preset(name string) ([]models.RatingLevel, bool) {
	levels, ok := RatingPresets[name]
	if !ok {
		return nil, false
	}
	return cloneLevels(levels), true
}

// MatchPreset returns the preset name equal to the scale, or PresetCustom.
func MatchPreset(scale []models.RatingLevel) string {
	for _, name := range PresetNames {
		if levelsEqual(RatingPresets[name], scale) {
			return name
		}
	}
	return PresetCustom
}

func levelsEqual(a, b []models.RatingLevel) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func cloneLevels(levels []models.RatingLevel) []models.RatingLevel {
	if levels == nil {
		return nil
	}
	out := make([]models.RatingLevel, len(levels))
	copy(out, levels)
	return out
}

func cloneCategories(categories []models.RubricCategory) []models.RubricCategory {
	if categories == nil {
		return nil
	}
	out := make([]models.RubricCategory, len(categories))
	for i, c := range categories {
		out[i] = c
		if c.Weight != nil {
			w := *c.Weight
			out[i].Weight = &w
		}
		if c.Criteria != nil {
			out[i].Criteria = append([]models.RubricCriterion(nil), c.Criteria...)
		}
	}
	return out
}
