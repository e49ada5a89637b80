package main

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/catalog"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/logging"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
)

type catalogEntryView struct {
	catalog.Entry
	Status catalog.Status `json:"status"`
}

func newCatalogCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Track recordings, their context and registered transcripts",
	}
	cmd.AddCommand(newCatalogAddCommand(ctx))
	cmd.AddCommand(newCatalogListCommand(ctx))
	cmd.AddCommand(newCatalogShowCommand(ctx))
	cmd.AddCommand(newCatalogSetContextCommand(ctx))
	cmd.AddCommand(newCatalogRegisterTranscriptCommand(ctx))
	cmd.AddCommand(newCatalogStatusCommand(ctx))
	cmd.AddCommand(newCatalogRemoveCommand(ctx))
	cmd.AddCommand(newCatalogQueryCommand(ctx))
	return cmd
}

func newCatalogAddCommand(ctx *commandContext) *cobra.Command {
	var contextName, tags, expected string
	var force bool
	cmd := &cobra.Command{
		Use:   "add <audio>",
		Short: "Add a recording to the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := ctx.openCatalog()
			if err != nil {
				return err
			}
			opts := catalog.AddOptions{
				Context:          contextName,
				Tags:             catalog.SplitList(tags),
				ExpectedSpeakers: catalog.SplitList(expected),
				Force:            force,
			}
			if probe, err := ctx.audioTools().Probe(cmd.Context(), args[0]); err == nil {
				if d := probe.DurationSeconds(); !math.IsNaN(d) {
					opts.DurationSec = d
				}
			} else {
				logging.WarnWithContext(ctx.logger(), "duration probe failed", "probe_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "catalog entry has no duration"),
					logging.String(logging.FieldErrorHint, "check ffprobe is installed"),
				)
			}
			entry, err := cat.Add(cmd.Context(), args[0], opts)
			if err != nil {
				if errors.Is(err, catalog.ErrAlreadyCatalogued) {
					return fmt.Errorf("%w (use --force to rebuild the entry)", err)
				}
				return err
			}
			if ok, err := writeStructured(cmd, ctx, entry); ok || err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s)\n", entry.Recording.Path, shortDigest(entry.Digest()))
			return nil
		},
	}
	cmd.Flags().StringVar(&contextName, "context", "", "Context name (e.g. a show or meeting series)")
	cmd.Flags().StringVar(&tags, "tags", "", "Comma-separated tags")
	cmd.Flags().StringVar(&expected, "expected", "", "Comma-separated speaker ids expected in the recording")
	cmd.Flags().BoolVar(&force, "force", false, "Rebuild an existing entry, keeping registered transcripts")
	return cmd
}

func newCatalogListCommand(ctx *commandContext) *cobra.Command {
	var contextName, tag, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalogued recordings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch catalog.Status(status) {
			case "", catalog.StatusUnprocessed, catalog.StatusTranscribed, catalog.StatusAssigned:
			default:
				return fmt.Errorf("%w: unknown status %q", services.ErrValidation, status)
			}
			cat, err := ctx.openCatalog()
			if err != nil {
				return err
			}
			entries, broken, err := cat.List(catalog.Filter{Context: contextName, Tag: tag})
			if err != nil {
				return err
			}
			for _, name := range broken {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: skipping unreadable catalog entry %s\n", name)
			}
			assigned, err := assignedDigests(cmd, ctx)
			if err != nil {
				return err
			}
			views := make([]catalogEntryView, 0, len(entries))
			for _, e := range entries {
				v := catalogEntryView{Entry: e, Status: e.Status(assigned[e.Digest()])}
				if status != "" && v.Status != catalog.Status(status) {
					continue
				}
				views = append(views, v)
			}
			if ok, err := writeStructured(cmd, ctx, views); ok || err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(views) == 0 {
				fmt.Fprintln(out, "No recordings found")
				return nil
			}
			rows := make([][]string, 0, len(views))
			for _, v := range views {
				rows = append(rows, []string{
					shortDigest(v.Digest()),
					v.Recording.Path,
					firstNonEmpty(v.Context.Name, "-"),
					firstNonEmpty(strings.Join(v.Context.Tags, ","), "-"),
					string(v.Status),
				})
			}
			printTable(out, []string{"Digest", "Path", "Context", "Tags", "Status"}, rows, nil)
			return nil
		},
	}
	cmd.Flags().StringVar(&contextName, "context", "", "Only list recordings with this context")
	cmd.Flags().StringVar(&tag, "tag", "", "Only list recordings with this tag")
	cmd.Flags().StringVar(&status, "status", "", "Only list recordings with this status (unprocessed, transcribed, assigned)")
	return cmd
}

func newCatalogShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <audio|digest|prefix>",
		Short: "Show a catalog entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, status, err := resolveCatalogEntry(cmd, ctx, args[0])
			if err != nil {
				return err
			}
			view := catalogEntryView{Entry: *entry, Status: status}
			if ok, err := writeStructured(cmd, ctx, view); ok || err != nil {
				return err
			}
			renderCatalogEntry(cmd.OutOrStdout(), view)
			return nil
		},
	}
}

func newCatalogStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <audio|digest|prefix>",
		Short: "Show how far a recording has progressed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, status, err := resolveCatalogEntry(cmd, ctx, args[0])
			if err != nil {
				return err
			}
			if ok, err := writeStructured(cmd, ctx, map[string]string{"b3sum": entry.Digest(), "status": string(status)}); ok || err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", entry.Recording.Path, status)
			return nil
		},
	}
}

func newCatalogSetContextCommand(ctx *commandContext) *cobra.Command {
	var name, expected, addTags, removeTags string
	cmd := &cobra.Command{
		Use:   "set-context <audio|digest|prefix>",
		Short: "Change a recording's context name, tags or expected speakers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := ctx.openCatalog()
			if err != nil {
				return err
			}
			entry, err := cat.Resolve(args[0])
			if err != nil {
				return err
			}
			update := catalog.ContextUpdate{
				AddTags:    catalog.SplitList(addTags),
				RemoveTags: catalog.SplitList(removeTags),
			}
			if cmd.Flags().Changed("name") {
				update.Name = &name
			}
			if cmd.Flags().Changed("expected") {
				update.ExpectedSpeakers = catalog.SplitList(expected)
				if update.ExpectedSpeakers == nil {
					update.ExpectedSpeakers = []string{}
				}
			}
			updated, err := cat.SetContext(cmd.Context(), entry.Digest(), update)
			if err != nil {
				return err
			}
			if ok, err := writeStructured(cmd, ctx, updated); ok || err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Updated context for %s\n", shortDigest(updated.Digest()))
			renderContext(out, updated.Context)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Context name")
	cmd.Flags().StringVar(&expected, "expected", "", "Comma-separated expected speaker ids (replaces the list)")
	cmd.Flags().StringVar(&addTags, "add-tags", "", "Comma-separated tags to add")
	cmd.Flags().StringVar(&removeTags, "remove-tags", "", "Comma-separated tags to remove")
	return cmd
}

func newCatalogRegisterTranscriptCommand(ctx *commandContext) *cobra.Command {
	var backendName string
	cmd := &cobra.Command{
		Use:   "register-transcript <audio|digest|prefix> <transcript>",
		Short: "Register a transcript for a catalogued recording",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := ctx.openCatalog()
			if err != nil {
				return err
			}
			entry, err := cat.Resolve(args[0])
			if err != nil {
				return err
			}
			_, reg, err := cat.RegisterTranscript(cmd.Context(), entry.Digest(), backendName, args[1])
			if err != nil {
				return err
			}
			if ok, err := writeStructured(cmd, ctx, reg); ok || err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s transcript (%s, %d speakers) for %s\n",
				reg.Backend, reg.Format, reg.Speakers, shortDigest(entry.Digest()))
			return nil
		},
	}
	cmd.Flags().StringVar(&backendName, "backend", "", "Transcription backend that produced the file (e.g. assemblyai)")
	_ = cmd.MarkFlagRequired("backend")
	return cmd
}

func newCatalogRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <audio|digest|prefix>",
		Short: "Remove a recording from the catalog",
		Long:  "Remove a recording from the catalog. Its assignment record is kept; use 'assignments clear' to drop it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := ctx.openCatalog()
			if err != nil {
				return err
			}
			entry, err := cat.Resolve(args[0])
			if err != nil {
				return err
			}
			removed, err := cat.Remove(cmd.Context(), entry.Digest())
			if err != nil {
				return err
			}
			if !removed {
				fmt.Fprintf(cmd.OutOrStdout(), "%s was not in the catalog\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", shortDigest(entry.Digest()))
			return nil
		},
	}
}

func newCatalogQueryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "query <jq-expression>",
		Short: "Run a jq expression over all catalog entries",
		Long: `Evaluate a jq expression against the array of catalog entries, e.g.

  speakerid catalog query '.[] | select(.context.name == "standup") | .recording.path'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := ctx.openCatalog()
			if err != nil {
				return err
			}
			results, err := cat.QueryEntries(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if ctx.format() == formatYAML {
				return writeYAML(cmd, results)
			}
			for _, v := range results {
				if s, ok := v.(string); ok && ctx.format() == formatText {
					fmt.Fprintln(cmd.OutOrStdout(), s)
					continue
				}
				if err := writeJSON(cmd, v); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func resolveCatalogEntry(cmd *cobra.Command, ctx *commandContext, ref string) (*catalog.Entry, catalog.Status, error) {
	cat, err := ctx.openCatalog()
	if err != nil {
		return nil, "", err
	}
	entry, err := cat.Resolve(ref)
	if err != nil {
		return nil, "", err
	}
	st, err := ctx.openStore()
	if err != nil {
		return nil, "", err
	}
	assigned := true
	if _, err := st.GetAssignment(cmd.Context(), entry.Digest()); err != nil {
		if !errors.Is(err, services.ErrNotFound) {
			return nil, "", err
		}
		assigned = false
	}
	return entry, entry.Status(assigned), nil
}

func assignedDigests(cmd *cobra.Command, ctx *commandContext) (map[string]bool, error) {
	st, err := ctx.openStore()
	if err != nil {
		return nil, err
	}
	stored, corrupt, err := st.ListAssignments(cmd.Context())
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(stored)+len(corrupt))
	for _, a := range stored {
		out[a.RecordingDigest] = true
	}
	// An unreadable record still means the recording was assigned.
	for _, rec := range corrupt {
		out[rec.Key] = true
	}
	return out, nil
}

func renderCatalogEntry(w io.Writer, v catalogEntryView) {
	fmt.Fprintf(w, "Recording:  %s\n", v.Recording.Path)
	fmt.Fprintf(w, "  Digest:   %s\n", v.Digest())
	fmt.Fprintf(w, "  Size:     %d bytes\n", v.Recording.SizeBytes)
	if v.Recording.DurationSec > 0 {
		fmt.Fprintf(w, "  Duration: %s\n", (time.Duration(v.Recording.DurationSec * float64(time.Second))).Round(time.Second))
	}
	fmt.Fprintf(w, "  Added:    %s\n", v.Recording.AddedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(w, "  Status:   %s\n", v.Status)
	renderContext(w, v.Context)
	if len(v.Transcriptions) == 0 {
		fmt.Fprintln(w, "Transcripts: none")
		return
	}
	fmt.Fprintln(w, "Transcripts:")
	for _, t := range v.Transcriptions {
		fmt.Fprintf(w, "  %s: %s (%s, %d speakers)\n", t.Backend, t.Path, t.Format, t.Speakers)
	}
}

func renderContext(w io.Writer, c catalog.Context) {
	fmt.Fprintln(w, "Context:")
	fmt.Fprintf(w, "  Name:     %s\n", firstNonEmpty(c.Name, "-"))
	fmt.Fprintf(w, "  Tags:     %s\n", firstNonEmpty(strings.Join(c.Tags, ", "), "-"))
	fmt.Fprintf(w, "  Expected: %s\n", firstNonEmpty(strings.Join(c.ExpectedSpeakers, ", "), "-"))
}
