package rubric

import (
	"errors"
	"regexp"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cliniclink-api/internal/models"
	appErrors "github.com/noah-isme/cliniclink-api/pkg/errors"
)

var slugCharset = regexp.MustCompile(`^[a-z0-9]+(_[a-z0-9]+)*$`)

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Clinical Skills":            "clinical_skills",
		"  History & Physical Exam ": "history_physical_exam",
		"Critical-Thinking!!":        "critical_thinking",
		"ÉCG reading":                "cg_reading",
		"Level 2 -- Advanced":        "level_2_advanced",
		"___":                        "",
		"":                           "",
	}
	for in, want := range cases {
		got := Slugify(in)
		assert.Equal(t, want, got, in)
		assert.Equal(t, got, Slugify(got), "slugify must be idempotent for %q", in)
		if got != "" {
			assert.Regexp(t, slugCharset, got)
		}
	}
}

func completeState() *FormState {
	s := NewFormState()
	s.Name = "Pediatrics Mid-Rotation"
	s.UniversityID = "uni-1"
	s.UpdateCategory(0, FieldLabel, "Clinical Knowledge")
	s.UpdateCategory(1, FieldLabel, "Communication")
	s.UpdateCategory(2, FieldLabel, "Teamwork")
	return s
}

func TestValidate(t *testing.T) {
	require.NoError(t, completeState().Validate())

	tests := map[string]func(s *FormState){
		"empty name":          func(s *FormState) { s.Name = "  " },
		"missing university":  func(s *FormState) { s.UniversityID = "" },
		"empty category":      func(s *FormState) { s.UpdateCategory(1, FieldLabel, "") },
		"scale below minimum": func(s *FormState) { s.RatingScale = s.RatingScale[:1] },
		"everything missing": func(s *FormState) {
			s.Name = ""
			s.UniversityID = ""
			s.UpdateCategory(0, FieldLabel, "")
		},
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			s := completeState()
			mutate(s)
			err := s.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrIncompleteTemplate))
			assert.Equal(t, "Please fill in all required fields", err.Error())
		})
	}
}

func TestValidateEditModeSkipsUniversity(t *testing.T) {
	s := completeState()
	id := "tpl-1"
	s.Editing = &id
	s.UniversityID = ""
	assert.NoError(t, s.Validate())
}

func TestPayload(t *testing.T) {
	s := completeState()
	s.UpdateCategory(0, FieldWeight, "40")
	s.UpdateCategory(1, FieldWeight, "heavy")
	s.UpdateCategory(2, FieldDescription, "Works with the team")
	s.AddCriterion(0)
	s.UpdateCriterion(0, 0, FieldLabel, "Pathophysiology")
	s.AddCriterion(0)
	s.ApplyRatingPreset("3")

	got := s.Payload()
	active := true
	want := TemplatePayload{
		UniversityID: "uni-1",
		Type:         models.EvaluationTypeMidRotation,
		Name:         "Pediatrics Mid-Rotation",
		IsActive:     &active,
		Categories: []models.RubricCategory{
			{Key: "clinical_knowledge", Label: "Clinical Knowledge", Weight: weight(40), Criteria: []models.RubricCriterion{
				{Key: "pathophysiology", Label: "Pathophysiology"},
			}},
			{Key: "communication", Label: "Communication"},
			{Key: "teamwork", Label: "Teamwork", Description: "Works with the team"},
		},
		RatingScale: RatingPresets["3"],
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestPayloadDisambiguatesKeys(t *testing.T) {
	s := completeState()
	s.UpdateCategory(1, FieldLabel, "Clinical Knowledge")
	s.UpdateCategory(2, FieldLabel, "clinical knowledge!")
	s.AddCriterion(0)
	s.AddCriterion(0)
	s.UpdateCriterion(0, 0, FieldLabel, "Recall")
	s.UpdateCriterion(0, 1, FieldLabel, "Recall")

	got := s.Payload()
	keys := []string{got.Categories[0].Key, got.Categories[1].Key, got.Categories[2].Key}
	assert.Equal(t, []string{"clinical_knowledge", "clinical_knowledge_2", "clinical_knowledge_3"}, keys)
	assert.Equal(t, "recall", got.Categories[0].Criteria[0].Key)
	assert.Equal(t, "recall_2", got.Categories[0].Criteria[1].Key)

	assert.Equal(t, "clinical_knowledge", s.Categories[1].Key, "payload must not mutate the form")
}

func TestParseWeight(t *testing.T) {
	assert.Nil(t, ParseWeight(""))
	assert.Nil(t, ParseWeight("  "))
	assert.Nil(t, ParseWeight("abc"))
	require.NotNil(t, ParseWeight(" 12.5 "))
	assert.Equal(t, 12.5, *ParseWeight(" 12.5 "))
}

func TestNormalizeCategoriesFallbackKeys(t *testing.T) {
	in := []models.RubricCategory{
		{Key: "", Label: "!!!"},
		{Key: "Custom Key", Label: "Other"},
		{Label: "Skills", Criteria: []models.RubricCriterion{{Label: " "}, {Label: "???"}}},
	}
	got := NormalizeCategories(in)

	assert.Equal(t, "category_1", got[0].Key)
	assert.Equal(t, "custom_key", got[1].Key)
	assert.Equal(t, "skills", got[2].Key)
	require.Len(t, got[2].Criteria, 1)
	assert.Equal(t, "criterion_1", got[2].Criteria[0].Key)
	assert.Empty(t, in[2].Criteria[1].Key)
}

func TestCheckTemplate(t *testing.T) {
	good := []models.RubricCategory{{Key: "a", Label: "A"}}
	assert.NoError(t, CheckTemplate(good, nil))
	assert.NoError(t, CheckTemplate(good, RatingPresets["3"]))

	cases := map[string]struct {
		categories []models.RubricCategory
		scale      []models.RatingLevel
	}{
		"no categories":   {nil, nil},
		"blank label":     {[]models.RubricCategory{{Key: "a"}}, nil},
		"negative weight": {[]models.RubricCategory{{Key: "a", Label: "A", Weight: weight(-1)}}, nil},
		"one level":       {good, []models.RatingLevel{{Value: 1, Label: "x"}}},
		"duplicate value": {good, []models.RatingLevel{{Value: 1, Label: "x"}, {Value: 1, Label: "y"}}},
		"blank level":     {good, []models.RatingLevel{{Value: 1, Label: "x"}, {Value: 2}}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := CheckTemplate(tc.categories, tc.scale)
			require.Error(t, err)
			assert.Equal(t, appErrors.ErrInvalidRubric.Code, appErrors.FromError(err).Code)
		})
	}
}
