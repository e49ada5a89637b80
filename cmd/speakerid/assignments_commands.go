package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/catalog"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/contenthash"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/speaker"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/store"
)

type assignmentView struct {
	speaker.Assignment
	Path      string    `json:"path,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newAssignmentsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "assignments",
		Aliases: []string{"assignment"},
		Short:   "Inspect and clear stored assignment records",
	}
	cmd.AddCommand(newAssignmentsShowCommand(ctx))
	cmd.AddCommand(newAssignmentsListCommand(ctx))
	cmd.AddCommand(newAssignmentsClearCommand(ctx))
	return cmd
}

func newAssignmentsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <audio|digest|prefix>",
		Short: "Show the assignment record of a recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			digest, path, err := assignmentDigest(cmd, ctx, st, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			stored, err := st.GetAssignment(cmd.Context(), digest)
			if errors.Is(err, services.ErrNotFound) {
				if ok, err := writeStructured(cmd, ctx, nil); ok || err != nil {
					return err
				}
				fmt.Fprintf(out, "No assignments found for %s\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}
			view := assignmentView{Assignment: stored.Assignment, Path: path, CreatedAt: stored.CreatedAt, UpdatedAt: stored.UpdatedAt}
			if ok, err := writeStructured(cmd, ctx, view); ok || err != nil {
				return err
			}
			fmt.Fprintf(out, "Assignments for: %s\n", firstNonEmpty(path, digest))
			fmt.Fprintf(out, "  Digest:     %s\n", stored.RecordingDigest)
			fmt.Fprintf(out, "  Method:     %s (%s)\n", stored.Method, stored.Backend)
			fmt.Fprintf(out, "  Threshold:  %.3f\n", stored.Threshold)
			fmt.Fprintf(out, "  Min trust:  %s\n", stored.MinTrust)
			if stored.Context != "" {
				fmt.Fprintf(out, "  Context:    %s\n", stored.Context)
			}
			if len(stored.ExpectedSpeakers) > 0 {
				fmt.Fprintf(out, "  Expected:   %s\n", strings.Join(stored.ExpectedSpeakers, ", "))
			}
			fmt.Fprintf(out, "  Updated:    %s\n", stored.UpdatedAt.Local().Format(time.RFC3339))
			fmt.Fprintln(out, "Mappings:")
			renderMappings(out, stored.Assignment)
			return nil
		},
	}
}

func newAssignmentsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recordings with assignment records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			stored, corrupt, err := st.ListAssignments(cmd.Context())
			if err != nil {
				return err
			}
			warnCorrupt(cmd, corrupt)
			paths := catalogPaths(ctx)
			views := make([]assignmentView, 0, len(stored))
			for _, a := range stored {
				views = append(views, assignmentView{
					Assignment: a.Assignment,
					Path:       paths[a.RecordingDigest],
					CreatedAt:  a.CreatedAt,
					UpdatedAt:  a.UpdatedAt,
				})
			}
			if ok, err := writeStructured(cmd, ctx, views); ok || err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(views) == 0 {
				fmt.Fprintln(out, "No assignments found")
				return nil
			}
			rows := make([][]string, 0, len(views))
			for _, v := range views {
				assigned := 0
				for _, m := range v.Mappings {
					if m.Assigned() {
						assigned++
					}
				}
				lowest := v.LowestConfidence()
				rows = append(rows, []string{
					shortDigest(v.RecordingDigest),
					firstNonEmpty(v.Path, "-"),
					fmt.Sprintf("%d/%d", assigned, len(v.Mappings)),
					colorize(out, confidenceColor(lowest), string(lowest)),
					v.UpdatedAt.Local().Format("2006-01-02 15:04"),
				})
			}
			printTable(out, []string{"Recording", "Path", "Assigned", "Lowest", "Updated"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft})
			return nil
		},
	}
}

func newAssignmentsClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <audio|digest|prefix>",
		Short: "Delete the assignment record of a recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			digest, _, err := assignmentDigest(cmd, ctx, st, args[0])
			if err != nil {
				return err
			}
			removed, err := st.DeleteAssignment(cmd.Context(), digest)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !removed {
				fmt.Fprintf(out, "No assignments to clear for %s\n", args[0])
				return nil
			}
			fmt.Fprintf(out, "Cleared assignments for %s\n", shortDigest(digest))
			return nil
		},
	}
}

// assignmentDigest turns a path, digest, or digest prefix into a recording
// digest. Prefixes are matched against the catalog first, then against
// stored assignments so uncatalogued recordings stay addressable.
func assignmentDigest(cmd *cobra.Command, ctx *commandContext, st *store.Store, ref string) (digest, path string, err error) {
	ref = strings.TrimSpace(ref)
	cat, err := ctx.openCatalog()
	if err != nil {
		return "", "", err
	}
	entry, catErr := cat.Resolve(ref)
	if catErr == nil {
		return entry.Digest(), entry.Recording.Path, nil
	}
	if !errors.Is(catErr, services.ErrNotFound) {
		return "", "", catErr
	}
	if info, statErr := os.Stat(ref); statErr == nil && !info.IsDir() {
		sum, err := contenthash.SumFile(ref)
		if err != nil {
			return "", "", err
		}
		return sum, ref, nil
	}
	if contenthash.Valid(ref) {
		return ref, "", nil
	}
	if len(ref) < catalog.MinPrefixLength {
		return "", "", fmt.Errorf("%w: reference %q is too short", services.ErrValidation, ref)
	}
	stored, corrupt, err := st.ListAssignments(cmd.Context())
	if err != nil {
		return "", "", err
	}
	warnCorrupt(cmd, corrupt)
	var matches []string
	for _, a := range stored {
		if strings.HasPrefix(a.RecordingDigest, strings.ToLower(ref)) {
			matches = append(matches, a.RecordingDigest)
		}
	}
	switch len(matches) {
	case 0:
		return "", "", fmt.Errorf("%w: no recording matches %q", services.ErrNotFound, ref)
	case 1:
		return matches[0], "", nil
	default:
		return "", "", fmt.Errorf("%w: %q matches %d recordings", catalog.ErrAmbiguousPrefix, ref, len(matches))
	}
}

// catalogPaths maps digests to catalogued paths. Catalog problems only cost
// the path column.
func catalogPaths(ctx *commandContext) map[string]string {
	paths := make(map[string]string)
	cat, err := ctx.openCatalog()
	if err != nil {
		return paths
	}
	entries, _, err := cat.List(catalog.Filter{})
	if err != nil {
		return paths
	}
	for _, e := range entries {
		paths[e.Digest()] = e.Recording.Path
	}
	return paths
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
