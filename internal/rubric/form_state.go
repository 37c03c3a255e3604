package rubric

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/noah-isme/cliniclink-api/internal/models"
)

// Editable fields accepted by the Update* operations.
const (
	FieldLabel       = "label"
	FieldDescription = "description"
	FieldWeight      = "weight"
	FieldValue       = "value"
)

const defaultCategoryCount = 3

// FormCriterion is the editable form of a criterion.
type FormCriterion struct {
	Key         string `yaml:"key" json:"key"`
	Label       string `yaml:"label" json:"label"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// FormCategory is the editable form of a category. Weight holds raw input.
type FormCategory struct {
	Key         string          `yaml:"key" json:"key"`
	Label       string          `yaml:"label" json:"label"`
	Description string          `yaml:"description,omitempty" json:"description,omitempty"`
	Weight      string          `yaml:"weight,omitempty" json:"weight,omitempty"`
	Criteria    []FormCriterion `yaml:"criteria" json:"criteria"`
	Expanded    bool            `yaml:"expanded" json:"expanded"`
}

// FormState is an in-memory editable evaluation template. It is owned by a
// single editor and is not safe for concurrent use.
type FormState struct {
	Editing      *string               `yaml:"editing,omitempty" json:"editing,omitempty"`
	Name         string                `yaml:"name" json:"name"`
	UniversityID string                `yaml:"university_id" json:"university_id"`
	Type         models.EvaluationType `yaml:"type" json:"type"`
	IsActive     bool                  `yaml:"is_active" json:"is_active"`
	Categories   []FormCategory        `yaml:"categories" json:"categories"`
	RatingScale  []models.RatingLevel  `yaml:"rating_scale" json:"rating_scale"`
	Preset       string                `yaml:"preset" json:"preset"`
}

// NewFormState returns the blank state used for a new template.
func NewFormState() *FormState {
	s := &FormState{
		Type:        models.EvaluationTypeMidRotation,
		IsActive:    true,
		Categories:  make([]FormCategory, 0, defaultCategoryCount),
		RatingScale: cloneLevels(DefaultRatingScale),
		Preset:      PresetDefault,
	}
	for i := 0; i < defaultCategoryCount; i++ {
		s.AddCategory()
	}
	return s
}

// FromTemplate hydrates a state that edits the given template in place.
func FromTemplate(t *models.EvaluationTemplate) *FormState {
	s := hydrate(t)
	id := t.ID
	s.Editing = &id
	return s
}

// Duplicate hydrates a state that will create a copy of the given template.
func Duplicate(t *models.EvaluationTemplate) *FormState {
	s := hydrate(t)
	s.Editing = nil
	s.Name = t.Name + " (Copy)"
	return s
}

func hydrate(t *models.EvaluationTemplate) *FormState {
	s := &FormState{
		Name:         t.Name,
		UniversityID: t.UniversityID,
		Type:         t.Type,
		IsActive:     t.IsActive,
		Categories:   make([]FormCategory, 0, len(t.Categories)),
	}
	for _, c := range t.Categories {
		fc := FormCategory{
			Key:         c.Key,
			Label:       c.Label,
			Description: c.Description,
			Criteria:    make([]FormCriterion, 0, len(c.Criteria)),
		}
		if c.Weight != nil {
			fc.Weight = strconv.FormatFloat(*c.Weight, 'f', -1, 64)
		}
		for _, cr := range c.Criteria {
			fc.Criteria = append(fc.Criteria, FormCriterion(cr))
		}
		s.Categories = append(s.Categories, fc)
	}
	if len(s.Categories) == 0 {
		s.AddCategory()
	}
	if len(t.RatingScale) >= MinRatingLevels {
		s.RatingScale = cloneLevels(t.RatingScale)
		s.Preset = MatchPreset(s.RatingScale)
	} else {
		s.RatingScale = cloneLevels(DefaultRatingScale)
		s.Preset = PresetDefault
	}
	return s
}

// IsCreate reports whether submitting the state creates a new template.
func (s *FormState) IsCreate() bool {
	return s.Editing == nil
}

// AddCategory appends an empty, collapsed category.
func (s *FormState) AddCategory() {
	s.Categories = append(s.Categories, FormCategory{
		Key:      fmt.Sprintf("category_%d", len(s.Categories)+1),
		Criteria: []FormCriterion{},
	})
}

// RemoveCategory drops the category at index unless it is the last one.
func (s *FormState) RemoveCategory(index int) {
	if len(s.Categories) <= MinCategories || !s.validCategory(index) {
		return
	}
	s.Categories = append(s.Categories[:index], s.Categories[index+1:]...)
}

// UpdateCategory sets one field; a new label also regenerates the key.
func (s *FormState) UpdateCategory(index int, field, value string) {
	if !s.validCategory(index) {
		return
	}
	c := &s.Categories[index]
	switch field {
	case FieldLabel:
		c.Label = value
		c.Key = Slugify(value)
	case FieldDescription:
		c.Description = value
	case FieldWeight:
		c.Weight = value
	}
}

// ToggleCategoryExpand flips the display-only expanded flag.
func (s *FormState) ToggleCategoryExpand(index int) {
	if !s.validCategory(index) {
		return
	}
	s.Categories[index].Expanded = !s.Categories[index].Expanded
}

// AddCriterion appends an empty criterion and expands its category.
func (s *FormState) AddCriterion(categoryIndex int) {
	if !s.validCategory(categoryIndex) {
		return
	}
	c := &s.Categories[categoryIndex]
	c.Criteria = append(c.Criteria, FormCriterion{
		Key: fmt.Sprintf("criterion_%d", len(c.Criteria)+1),
	})
	c.Expanded = true
}

// RemoveCriterion drops a criterion; categories may end up with none.
func (s *FormState) RemoveCriterion(categoryIndex, criterionIndex int) {
	if !s.validCriterion(categoryIndex, criterionIndex) {
		return
	}
	c := &s.Categories[categoryIndex]
	c.Criteria = append(c.Criteria[:criterionIndex], c.Criteria[criterionIndex+1:]...)
}

// UpdateCriterion sets one field; a new label also regenerates the key.
func (s *FormState) UpdateCriterion(categoryIndex, criterionIndex int, field, value string) {
	if !s.validCriterion(categoryIndex, criterionIndex) {
		return
	}
	cr := &s.Categories[categoryIndex].Criteria[criterionIndex]
	switch field {
	case FieldLabel:
		cr.Label = value
		cr.Key = Slugify(value)
	case FieldDescription:
		cr.Description = value
	}
}

// ApplyRatingPreset replaces the scale with a fixed preset. PresetCustom only
// records that the scale is hand edited; unknown names are ignored.
func (s *FormState) ApplyRatingPreset(preset string) {
	if preset == PresetCustom {
		s.Preset = PresetCustom
		return
	}
	levels, ok := Preset(preset)
	if !ok {
		return
	}
	s.RatingScale = levels
	s.Preset = preset
}

// UpdateRatingLevel edits one level in place and detaches the scale from its preset.
// A value that does not parse as an integer is stored as 0.
func (s *FormState) UpdateRatingLevel(index int, field, value string) {
	if index < 0 || index >= len(s.RatingScale) {
		return
	}
	level := &s.RatingScale[index]
	switch field {
	case FieldValue:
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			n = 0
		}
		level.Value = n
	case FieldLabel:
		level.Label = value
	case FieldDescription:
		level.Description = value
	default:
		return
	}
	s.Preset = PresetCustom
}

// AddRatingLevel appends a level one above the current maximum.
func (s *FormState) AddRatingLevel() {
	next := 0
	for _, l := range s.RatingScale {
		if l.Value > next {
			next = l.Value
		}
	}
	s.RatingScale = append(s.RatingScale, models.RatingLevel{Value: next + 1})
	s.Preset = PresetCustom
}

// RemoveRatingLevel drops a level unless the scale would fall below the minimum.
func (s *FormState) RemoveRatingLevel(index int) {
	if len(s.RatingScale) <= MinRatingLevels || index < 0 || index >= len(s.RatingScale) {
		return
	}
	s.RatingScale = append(s.RatingScale[:index], s.RatingScale[index+1:]...)
}

func (s *FormState) validCategory(index int) bool {
	return index >= 0 && index < len(s.Categories)
}

func (s *FormState) validCriterion(categoryIndex, criterionIndex int) bool {
	if !s.validCategory(categoryIndex) {
		return false
	}
	return criterionIndex >= 0 && criterionIndex < len(s.Categories[categoryIndex].Criteria)
}
