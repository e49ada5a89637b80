package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/CLIAI/speaker-diarization-toolkit/internal/ledger"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/services"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/speaker"
	"github.com/CLIAI/speaker-diarization-toolkit/internal/store"
)

func newSpeakersCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "speakers",
		Aliases: []string{"speaker"},
		Short:   "Manage speaker identities",
	}
	cmd.AddCommand(newSpeakersAddCommand(ctx))
	cmd.AddCommand(newSpeakersListCommand(ctx))
	cmd.AddCommand(newSpeakersShowCommand(ctx))
	cmd.AddCommand(newSpeakersSetNameCommand(ctx))
	cmd.AddCommand(newSpeakersTagCommand(ctx))
	cmd.AddCommand(newSpeakersDeleteCommand(ctx))
	return cmd
}

func newSpeakersAddCommand(ctx *commandContext) *cobra.Command {
	var tags []string
	cmd := &cobra.Command{
		Use:   "add <id> [display name]",
		Short: "Create a speaker identity",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			name := ""
			if len(args) > 1 {
				name = args[1]
			}
			ident, err := speaker.NewIdentity(args[0], name, time.Now())
			if err != nil {
				return fmt.Errorf("%w: %w", services.ErrValidation, err)
			}
			ident.AddTags(tags...)
			if err := st.CreateIdentity(cmd.Context(), &ident); err != nil {
				return err
			}
			if ok, err := writeStructured(cmd, ctx, ident); ok || err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added speaker %s (%s)\n", ident.ID, ident.DisplayName(speaker.DefaultNameContext))
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "Tag to attach (repeatable)")
	return cmd
}

type speakerRow struct {
	ID          string            `json:"id"`
	DisplayName string            `json:"display_name"`
	Names       map[string]string `json:"names"`
	Tags        []string          `json:"tags"`
	Embeddings  int               `json:"embeddings"`
	Samples     int               `json:"samples"`
}

func newSpeakersListCommand(ctx *commandContext) *cobra.Command {
	var tag string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List speaker identities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			idents, corrupt, err := st.ListIdentities(cmd.Context())
			if err != nil {
				return err
			}
			warnCorrupt(cmd, corrupt)
			rows := make([]speakerRow, 0, len(idents))
			for _, ident := range idents {
				if tag != "" && !ident.HasTag(tag) {
					continue
				}
				row, err := summarizeSpeaker(cmd.Context(), st, ident)
				if err != nil {
					return err
				}
				rows = append(rows, row)
			}
			if ok, err := writeStructured(cmd, ctx, rows); ok || err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintln(out, "No speakers enrolled")
				return nil
			}
			table := make([][]string, 0, len(rows))
			for _, r := range rows {
				table = append(table, []string{r.ID, r.DisplayName, strings.Join(r.Tags, ","), fmt.Sprint(r.Embeddings), fmt.Sprint(r.Samples)})
			}
			printTable(out, []string{"ID", "Name", "Tags", "Embeddings", "Samples"}, table,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight})
			return nil
		},
	}
	cmd.Flags().StringVar(&tag, "tag", "", "Only list speakers with this tag")
	return cmd
}

func summarizeSpeaker(ctx context.Context, st *store.Store, ident speaker.Identity) (speakerRow, error) {
	embeddings, _, err := st.ListEmbeddings(ctx, store.EmbeddingFilter{SpeakerID: ident.ID})
	if err != nil {
		return speakerRow{}, err
	}
	samples, _, err := st.ListSamples(ctx, store.SampleFilter{SpeakerID: ident.ID})
	if err != nil {
		return speakerRow{}, err
	}
	return speakerRow{
		ID:          ident.ID,
		DisplayName: ident.DisplayName(speaker.DefaultNameContext),
		Names:       ident.Names,
		Tags:        ident.Tags,
		Embeddings:  len(embeddings),
		Samples:     len(samples),
	}, nil
}

func newSpeakersShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one speaker with embeddings and sample counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			profile, corrupt, err := st.Profile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			warnCorrupt(cmd, corrupt)
			if ok, err := writeStructured(cmd, ctx, profile); ok || err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			ident := profile.Identity
			fmt.Fprintf(out, "Speaker: %s\n", ident.ID)
			fmt.Fprintf(out, "Name:    %s\n", ident.DisplayName(speaker.DefaultNameContext))
			for _, ctxName := range sortedKeys(ident.Names) {
				if ctxName != speaker.DefaultNameContext {
					fmt.Fprintf(out, "  %s: %s\n", ctxName, ident.Names[ctxName])
				}
			}
			if len(ident.Tags) > 0 {
				fmt.Fprintf(out, "Tags:    %s\n", strings.Join(ident.Tags, ", "))
			}
			fmt.Fprintln(out, "Embeddings:")
			if len(profile.Embeddings) == 0 {
				fmt.Fprintln(out, "  (none)")
			}
			for _, backendName := range sortedKeys(profile.Embeddings) {
				for _, emb := range profile.Embeddings[backendName] {
					fmt.Fprintf(out, "  %s\n", embeddingLine(emb, true))
				}
			}
			samples, _, err := st.ListSamples(cmd.Context(), store.SampleFilter{SpeakerID: ident.ID})
			if err != nil {
				return err
			}
			counts := map[speaker.ReviewStatus]int{}
			for _, s := range samples {
				counts[s.Review.Status]++
			}
			fmt.Fprintf(out, "Samples: %d (%d reviewed, %d pending, %d rejected)\n", len(samples),
				counts[speaker.ReviewReviewed], counts[speaker.ReviewPending], counts[speaker.ReviewRejected])
			return nil
		},
	}
}

func newSpeakersSetNameCommand(ctx *commandContext) *cobra.Command {
	var nameContext string
	cmd := &cobra.Command{
		Use:   "set-name <id> <name>",
		Short: "Set the display name, optionally for one name context",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return updateIdentity(cmd, ctx, args[0], func(ident *speaker.Identity) {
				ident.SetName(nameContext, args[1])
			}, fmt.Sprintf("Set %s name of %s to %q", contextLabel(nameContext), args[0], args[1]))
		},
	}
	cmd.Flags().StringVar(&nameContext, "context", speaker.DefaultNameContext, "Name context (e.g. work, podcast)")
	return cmd
}

func newSpeakersTagCommand(ctx *commandContext) *cobra.Command {
	var add, remove []string
	cmd := &cobra.Command{
		Use:   "tag <id>",
		Short: "Add or remove speaker tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(add) == 0 && len(remove) == 0 {
				return fmt.Errorf("%w: use --add or --remove", services.ErrValidation)
			}
			return updateIdentity(cmd, ctx, args[0], func(ident *speaker.Identity) {
				ident.AddTags(add...)
				ident.RemoveTags(remove...)
			}, "Updated tags of "+args[0])
		},
	}
	cmd.Flags().StringSliceVar(&add, "add", nil, "Tags to add")
	cmd.Flags().StringSliceVar(&remove, "remove", nil, "Tags to remove")
	return cmd
}

// updateIdentity applies fn under the store's compare-and-swap, retrying a
// few times when another writer got there first.
func updateIdentity(cmd *cobra.Command, ctx *commandContext, id string, fn func(*speaker.Identity), message string) error {
	st, err := ctx.openStore()
	if err != nil {
		return err
	}
	for attempt := 0; ; attempt++ {
		ident, err := st.GetIdentity(cmd.Context(), id)
		if err != nil {
			return err
		}
		fn(ident)
		ident.UpdatedAt = time.Now().UTC()
		err = st.UpdateIdentity(cmd.Context(), ident)
		if err == nil {
			if ok, err := writeStructured(cmd, ctx, ident); ok || err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), message)
			return nil
		}
		if !errors.Is(err, store.ErrConflict) || attempt >= 2 {
			return err
		}
	}
}

func newSpeakersDeleteCommand(ctx *commandContext) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a speaker with its samples, clips and embeddings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("%w: deleting %s removes its samples and embeddings; pass --force to confirm", services.ErrValidation, args[0])
			}
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			deleted, err := st.DeleteIdentity(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !deleted {
				return services.Wrap(services.ErrNotFound, "cli", "delete speaker", fmt.Sprintf("speaker %q not found", args[0]), nil)
			}
			clips := ledger.NewClipStore(ctx.config.Paths.SamplesDir)
			if err := clips.RemoveSpeaker(args[0]); err != nil {
				return fmt.Errorf("remove clips: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted speaker %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Confirm deletion")
	return cmd
}

func contextLabel(nameContext string) string {
	if strings.TrimSpace(nameContext) == "" {
		return speaker.DefaultNameContext
	}
	return nameContext
}
