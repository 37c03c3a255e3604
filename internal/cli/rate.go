package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/noah-isme/cliniclink-api/internal/dto"
	"github.com/noah-isme/cliniclink-api/internal/models"
	"github.com/noah-isme/cliniclink-api/internal/rubric"
)

type rateOptions struct {
	templateID   string
	slotID       string
	studentID    string
	evalType     string
	role         string
	comments     string
	strengths    string
	improvements string
	ratings      map[string]int
	minRated     int
	draft        bool
}

func (a *app) rateCmd() *cobra.Command {
	opts := rateOptions{}
	cmd := &cobra.Command{
		Use:   "rate",
		Short: "Rate a rotation against a template and submit the evaluation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRate(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.templateID, "template", "", "Template ID (defaults to the built-in categories)")
	f.StringVar(&opts.slotID, "slot", "", "Rotation slot ID")
	f.StringVar(&opts.studentID, "student", "", "Student ID (preceptor evaluations)")
	f.StringVar(&opts.evalType, "type", "", "mid_rotation or final (preceptors)")
	f.StringVar(&opts.role, "as", string(models.RolePreceptor), "Role used to pick default categories: PRECEPTOR or STUDENT")
	f.StringVar(&opts.comments, "comments", "", "Overall comments")
	f.StringVar(&opts.strengths, "strengths", "", "Strengths")
	f.StringVar(&opts.improvements, "improvements", "", "Areas for improvement")
	f.StringToIntVar(&opts.ratings, "rating", nil, "Category rating as key=value, repeatable")
	f.IntVar(&opts.minRated, "min-rated", rubric.DefaultMinRated, "Minimum number of rated categories")
	f.BoolVar(&opts.draft, "draft", false, "Save as a draft without submitting")
	return cmd
}

func (a *app) runRate(cmd *cobra.Command, opts rateOptions) error {
	client := a.client()
	role := models.UserRole(strings.ToUpper(opts.role))

	var tpl *models.EvaluationTemplate
	if opts.templateID != "" {
		loaded, err := client.GetTemplate(cmd.Context(), opts.templateID)
		if err != nil {
			return err
		}
		tpl = loaded
	}

	card := rubric.NewScorecard(tpl, role)
	card.MinRated = opts.minRated
	if err := card.Apply(opts.ratings); err != nil {
		return err
	}
	if !opts.draft {
		if err := card.ValidateSubmission(rubric.Submission{
			SlotID:         opts.slotID,
			StudentID:      opts.studentID,
			Comments:       opts.comments,
			RequireStudent: role != models.RoleStudent,
		}); err != nil {
			return err
		}
	}

	req := dto.EvaluationRequest{
		Type:        models.EvaluationType(opts.evalType),
		SlotID:      opts.slotID,
		Ratings:     card.Ratings(),
		Comments:    opts.comments,
		IsSubmitted: !opts.draft,
	}
	if tpl != nil {
		req.TemplateID = &tpl.ID
	}
	if opts.studentID != "" {
		req.StudentID = &opts.studentID
	}
	if opts.strengths != "" {
		req.Strengths = &opts.strengths
	}
	if opts.improvements != "" {
		req.AreasForImprovement = &opts.improvements
	}

	evaluation, err := client.CreateEvaluation(cmd.Context(), req)
	if err != nil {
		return err
	}
	state := "submitted"
	if !evaluation.IsSubmitted {
		state = "saved as draft"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Evaluation %s %s, overall score %.1f (%d of %d categories rated)\n",
		evaluation.ID, state, evaluation.OverallScore, card.Rated(), len(card.Categories))
	return nil
}
