package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/noah-isme/cliniclink-api/internal/models"
	"github.com/noah-isme/cliniclink-api/internal/rubric"
)

func (a *app) newCmd() *cobra.Command {
	var name, university, evalType string
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Start a new template draft",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			state := rubric.NewFormState()
			state.Name = name
			state.UniversityID = university
			if evalType != "" {
				state.Type = models.EvaluationType(evalType)
			}
			if err := SaveDraft(a.draftPath(), state); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Draft written to %s\n", a.draftPath())
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Template name")
	cmd.Flags().StringVar(&university, "university", "", "University ID")
	cmd.Flags().StringVar(&evalType, "type", "", "mid_rotation, final or student_feedback")
	return cmd
}

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the current draft",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := LoadDraft(a.draftPath())
			if err != nil {
				return err
			}
			printState(cmd.OutOrStdout(), state)
			return nil
		},
	}
}

func (a *app) setCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <name|university|type|active> <value>",
		Short: "Set a template field",
		Args:  cobra.ExactArgs(2),
		RunE: a.edit(func(state *rubric.FormState, args []string) error {
			switch args[0] {
			case "name":
				state.Name = args[1]
			case "university":
				state.UniversityID = args[1]
			case "type":
				state.Type = models.EvaluationType(args[1])
			case "active":
				active, err := strconv.ParseBool(args[1])
				if err != nil {
					return fmt.Errorf("active must be true or false")
				}
				state.IsActive = active
			default:
				return fmt.Errorf("unknown field %q", args[0])
			}
			return nil
		}),
	}
}

func (a *app) categoryCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "category", Short: "Edit rubric categories"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add",
			Short: "Append an empty category",
			Args:  cobra.NoArgs,
			RunE: a.edit(func(state *rubric.FormState, args []string) error {
				state.AddCategory()
				return nil
			}),
		},
		&cobra.Command{
			Use:   "remove <pos>",
			Short: "Remove a category (the last one is kept)",
			Args:  cobra.ExactArgs(1),
			RunE: a.edit(func(state *rubric.FormState, args []string) error {
				i, err := position(args[0])
				if err != nil {
					return err
				}
				state.RemoveCategory(i)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "set <pos> <label|description|weight> <value>",
			Short: "Update a category field",
			Args:  cobra.ExactArgs(3),
			RunE: a.edit(func(state *rubric.FormState, args []string) error {
				i, err := position(args[0])
				if err != nil {
					return err
				}
				state.UpdateCategory(i, args[1], args[2])
				return nil
			}),
		},
		&cobra.Command{
			Use:   "toggle <pos>",
			Short: "Expand or collapse a category's criteria",
			Args:  cobra.ExactArgs(1),
			RunE: a.edit(func(state *rubric.FormState, args []string) error {
				i, err := position(args[0])
				if err != nil {
					return err
				}
				state.ToggleCategoryExpand(i)
				return nil
			}),
		},
	)
	return cmd
}

func (a *app) criterionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "criterion", Short: "Edit the criteria of a category"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <category>",
			Short: "Append an empty criterion",
			Args:  cobra.ExactArgs(1),
			RunE: a.edit(func(state *rubric.FormState, args []string) error {
				ci, err := position(args[0])
				if err != nil {
					return err
				}
				state.AddCriterion(ci)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "remove <category> <pos>",
			Short: "Remove a criterion",
			Args:  cobra.ExactArgs(2),
			RunE: a.edit(func(state *rubric.FormState, args []string) error {
				ci, err := position(args[0])
				if err != nil {
					return err
				}
				j, err := position(args[1])
				if err != nil {
					return err
				}
				state.RemoveCriterion(ci, j)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "set <category> <pos> <label|description> <value>",
			Short: "Update a criterion field",
			Args:  cobra.ExactArgs(4),
			RunE: a.edit(func(state *rubric.FormState, args []string) error {
				ci, err := position(args[0])
				if err != nil {
					return err
				}
				j, err := position(args[1])
				if err != nil {
					return err
				}
				state.UpdateCriterion(ci, j, args[2], args[3])
				return nil
			}),
		},
	)
	return cmd
}

func (a *app) scaleCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "scale", Short: "Edit the rating scale"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "preset <3|4|5|10|custom>",
			Short: "Replace the scale with a preset",
			Args:  cobra.ExactArgs(1),
			RunE: a.edit(func(state *rubric.FormState, args []string) error {
				state.ApplyRatingPreset(args[0])
				return nil
			}),
		},
		&cobra.Command{
			Use:   "set <pos> <value|label|description> <value>",
			Short: "Update a rating level",
			Args:  cobra.ExactArgs(3),
			RunE: a.edit(func(state *rubric.FormState, args []string) error {
				i, err := position(args[0])
				if err != nil {
					return err
				}
				state.UpdateRatingLevel(i, args[1], args[2])
				return nil
			}),
		},
		&cobra.Command{
			Use:   "add",
			Short: "Append a rating level above the current maximum",
			Args:  cobra.NoArgs,
			RunE: a.edit(func(state *rubric.FormState, args []string) error {
				state.AddRatingLevel()
				return nil
			}),
		},
		&cobra.Command{
			Use:   "remove <pos>",
			Short: "Remove a rating level (two are always kept)",
			Args:  cobra.ExactArgs(1),
			RunE: a.edit(func(state *rubric.FormState, args []string) error {
				i, err := position(args[0])
				if err != nil {
					return err
				}
				state.RemoveRatingLevel(i)
				return nil
			}),
		},
	)
	return cmd
}

func (a *app) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the draft has every required field",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := LoadDraft(a.draftPath())
			if err != nil {
				return err
			}
			if err := state.Validate(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func (a *app) payloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "payload",
		Short: "Print the JSON body submit would send",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := LoadDraft(a.draftPath())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(state.Payload())
		},
	}
}

func (a *app) pullCmd() *cobra.Command {
	var duplicate bool
	cmd := &cobra.Command{
		Use:   "pull <template-id>",
		Short: "Load a template into the draft for editing or as a copy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tpl, err := a.client().GetTemplate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			state := rubric.FromTemplate(tpl)
			if duplicate {
				state = rubric.Duplicate(tpl)
			}
			if err := SaveDraft(a.draftPath(), state); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pulled %q into %s\n", state.Name, a.draftPath())
			return nil
		},
	}
	cmd.Flags().BoolVar(&duplicate, "duplicate", false, "Start a new template from a copy")
	return cmd
}

func (a *app) submitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit",
		Short: "Create the template, or update it when the draft was pulled for editing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := LoadDraft(a.draftPath())
			if err != nil {
				return err
			}
			if err := state.Validate(); err != nil {
				return err
			}
			tpl, err := a.client().SaveTemplate(cmd.Context(), state.Editing, state.Payload())
			if err != nil {
				return err
			}
			verb := "updated"
			if state.IsCreate() {
				verb = "created"
			}
			id := tpl.ID
			state.Editing = &id
			if err := SaveDraft(a.draftPath(), state); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Template %s %s\n", id, verb)
			return nil
		},
	}
}

func printState(w io.Writer, s *rubric.FormState) {
	mode := "new"
	if s.Editing != nil {
		mode = "editing " + *s.Editing
	}
	name := s.Name
	if strings.TrimSpace(name) == "" {
		name = "(untitled)"
	}
	fmt.Fprintf(w, "%s [%s, %s]\n", name, s.Type, mode)
	fmt.Fprintf(w, "University: %s  Active: %t\n", s.UniversityID, s.IsActive)
	fmt.Fprintln(w, "Categories:")
	for i, c := range s.Categories {
		line := fmt.Sprintf("  %d. %s [%s]", i+1, c.Label, c.Key)
		if c.Weight != "" {
			line += " weight " + c.Weight
		}
		if !c.Expanded && len(c.Criteria) > 0 {
			line += fmt.Sprintf(" (+%d criteria)", len(c.Criteria))
		}
		fmt.Fprintln(w, line)
		if c.Expanded {
			for j, cr := range c.Criteria {
				fmt.Fprintf(w, "     %d.%d %s [%s]\n", i+1, j+1, cr.Label, cr.Key)
			}
		}
	}
	fmt.Fprintf(w, "Rating scale (preset %s):\n", s.Preset)
	for i, level := range s.RatingScale {
		fmt.Fprintf(w, "  %d. %d %s\n", i+1, level.Value, level.Label)
	}
}
