package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"taskboard/app"
	"taskboard/model"
	"taskboard/validate"
)

var (
	errNoMatch   = errors.New("no task matches")
	errAmbiguous = errors.New("task reference is ambiguous")
)

func (e *env) addCmd() *cobra.Command {
	var priority, category string
	cmd := &cobra.Command{
		Use:   "add <text>...",
		Short: "Add a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := e.load(cmd.Context())
			if err != nil {
				return err
			}
			task, res := st.CreateTask(validate.Candidate{
				Text:     strings.Join(args, " "),
				Priority: priority,
				Category: category,
			})
			if !res.Valid {
				return res
			}
			for _, w := range res.Warnings {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
			}
			if err := e.save(cmd.Context(), st); err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "Added #%d %s\n", task.Order+1, task.Text)
			return nil
		},
	}
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "low, medium or high")
	cmd.Flags().StringVarP(&category, "category", "c", "", "category label")
	return cmd
}

func (e *env) listCmd() *cobra.Command {
	var status, category, priority, search string
	var showIDs bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks, optionally filtered",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := e.load(cmd.Context())
			if err != nil {
				return err
			}
			patch := app.FilterPatch{}
			if cmd.Flags().Changed("status") {
				s := model.Status(strings.ToLower(status))
				patch.Status = &s
			}
			if cmd.Flags().Changed("category") {
				patch.Category = &category
			}
			if cmd.Flags().Changed("priority") {
				patch.Priority = &priority
			}
			if cmd.Flags().Changed("search") {
				patch.Search = &search
			}
			st.SetFilters(patch)

			tasks := st.FilteredTasks()
			if len(tasks) == 0 {
				fmt.Fprintln(out(cmd), "No tasks.")
				return nil
			}
			for _, t := range tasks {
				printTask(out(cmd), t, showIDs)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "all, completed or pending")
	cmd.Flags().StringVar(&category, "category", "", "only this category")
	cmd.Flags().StringVar(&priority, "priority", "", "only this priority")
	cmd.Flags().StringVarP(&search, "search", "s", "", "case-insensitive text search")
	cmd.Flags().BoolVar(&showIDs, "ids", false, "show task ids")
	return cmd
}

func (e *env) doneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "done <task>",
		Short: "Toggle a task's completion",
		Long:  "A task is referred to by its position in the list (1, 2, ...) or by a unique id prefix.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.mutate(cmd, args[0], func(st *app.State, t model.Task) (string, error) {
				st.ToggleTask(t.ID)
				if t.Completed {
					return "Reopened " + t.Text, nil
				}
				return "Completed " + t.Text, nil
			})
		},
	}
}

func (e *env) editCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit <task>",
		Short: "Change a task's text, priority, category or completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields := map[string]any{}
			for _, name := range []string{"text", "priority", "category"} {
				if cmd.Flags().Changed(name) {
					v, _ := cmd.Flags().GetString(name)
					fields[name] = v
				}
			}
			if cmd.Flags().Changed("completed") {
				v, _ := cmd.Flags().GetBool("completed")
				fields["completed"] = v
			}
			if len(fields) == 0 {
				return fmt.Errorf("nothing to change; use one of --%s", strings.Join(validate.UpdateFields[:4], ", --"))
			}
			return e.mutate(cmd, args[0], func(st *app.State, t model.Task) (string, error) {
				ok, res := st.UpdateFields(t.ID, fields)
				if !res.Valid {
					return "", res
				}
				if !ok {
					return "", fmt.Errorf("%w: %s", app.ErrTaskNotFound, t.ID)
				}
				updated, _ := st.GetTask(t.ID)
				return "Updated " + updated.Text, nil
			})
		},
	}
	cmd.Flags().String("text", "", "new text")
	cmd.Flags().String("priority", "", "low, medium or high")
	cmd.Flags().String("category", "", "category label")
	cmd.Flags().Bool("completed", false, "completion state")
	return cmd
}

func (e *env) rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <task>",
		Aliases: []string{"remove", "delete"},
		Short:   "Remove a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.mutate(cmd, args[0], func(st *app.State, t model.Task) (string, error) {
				st.RemoveTask(t.ID)
				return "Removed " + t.Text, nil
			})
		},
	}
}

func (e *env) moveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "move <task> <up|down|top|bottom|position>",
		Short: "Reorder a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.mutate(cmd, args[0], func(st *app.State, t model.Task) (string, error) {
				var err error
				switch where := strings.ToLower(args[1]); where {
				case "up":
					err = st.MoveTaskUp(t.ID)
				case "down":
					err = st.MoveTaskDown(t.ID)
				case "top":
					err = st.MoveTaskTo(t.ID, 0)
				case "bottom":
					err = st.MoveTaskTo(t.ID, len(st.Tasks())-1)
				default:
					pos, convErr := strconv.Atoi(where)
					if convErr != nil || pos < 1 {
						return "", fmt.Errorf("invalid position %q", args[1])
					}
					err = st.MoveTaskTo(t.ID, pos-1)
				}
				if err != nil {
					return "", err
				}
				moved, _ := st.GetTask(t.ID)
				return fmt.Sprintf("Moved %s to #%d", moved.Text, moved.Order+1), nil
			})
		},
	}
}

func (e *env) clearCompletedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-completed",
		Short: "Remove every completed task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := e.load(cmd.Context())
			if err != nil {
				return err
			}
			n := st.ClearCompleted()
			if n == 0 {
				fmt.Fprintln(out(cmd), "No completed tasks.")
				return nil
			}
			if err := e.save(cmd.Context(), st); err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "Cleared %d completed task(s)\n", n)
			return nil
		},
	}
}

func (e *env) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show completion statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := e.load(cmd.Context())
			if err != nil {
				return err
			}
			s := st.Stats()
			fmt.Fprintf(out(cmd), "Total:     %d\nCompleted: %d\nPending:   %d\nProgress:  %d%%\n",
				s.Total, s.Completed, s.Pending, s.CompletionRate)
			if cats := st.Categories(); len(cats) > 0 {
				fmt.Fprintf(out(cmd), "Categories: %s\n", strings.Join(cats, ", "))
			}
			return nil
		},
	}
}

// mutate loads the board, resolves ref, applies fn and saves.
func (e *env) mutate(cmd *cobra.Command, ref string, fn func(*app.State, model.Task) (string, error)) error {
	st, err := e.load(cmd.Context())
	if err != nil {
		return err
	}
	task, err := resolveTask(st, ref)
	if err != nil {
		return err
	}
	msg, err := fn(st, task)
	if err != nil {
		return err
	}
	if err := e.save(cmd.Context(), st); err != nil {
		return err
	}
	fmt.Fprintln(out(cmd), msg)
	return nil
}

// resolveTask accepts a 1-based position (optionally prefixed with #) or a
// unique id prefix.
func resolveTask(st *app.State, ref string) (model.Task, error) {
	tasks := st.Tasks()
	if n, err := strconv.Atoi(strings.TrimPrefix(ref, "#")); err == nil {
		if n < 1 || n > len(tasks) {
			return model.Task{}, fmt.Errorf("%w position %d (have %d)", errNoMatch, n, len(tasks))
		}
		return tasks[n-1], nil
	}

	var found []model.Task
	for _, t := range tasks {
		if strings.HasPrefix(t.ID, ref) {
			found = append(found, t)
		}
	}
	switch len(found) {
	case 0:
		return model.Task{}, fmt.Errorf("%w %q", errNoMatch, ref)
	case 1:
		return found[0], nil
	default:
		return model.Task{}, fmt.Errorf("%w: %q matches %d tasks", errAmbiguous, ref, len(found))
	}
}

func printTask(w io.Writer, t model.Task, showID bool) {
	box := "[ ]"
	if t.Completed {
		box = "[x]"
	}
	fmt.Fprintf(w, "%3d. %s %s  (%s, %s)", t.Order+1, box, t.Text, t.Priority, t.Category)
	if showID {
		fmt.Fprintf(w, "  %s", t.ID)
	}
	fmt.Fprintln(w)
}
