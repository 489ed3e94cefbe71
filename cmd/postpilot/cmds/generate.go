package cmds

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/huh"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/postpilot/pkg/composer"
	"github.com/go-go-golems/postpilot/pkg/events"
	"github.com/go-go-golems/postpilot/pkg/workflow"
)

type generateFlags struct {
	prompt  string
	pick    string
	caption string
	publish bool
	yes     bool
	output  string
}

func newGenerateCommand(app *App) *cobra.Command {
	f := &generateFlags{}
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate brand suggestions and a post, optionally publishing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runGenerate(ctx, app, f, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&f.prompt, "prompt", "", "what the post is about (asked interactively when empty)")
	cmd.Flags().StringVar(&f.pick, "pick", "", "brand suggestion to continue with (chosen interactively when empty)")
	cmd.Flags().StringVar(&f.caption, "caption", "", "replace the generated caption before publishing")
	cmd.Flags().BoolVar(&f.publish, "publish", false, "publish the generated post")
	cmd.Flags().BoolVarP(&f.yes, "yes", "y", false, "do not ask before publishing")
	cmd.Flags().StringVarP(&f.output, "output", "o", "text", "output format (text, yaml)")
	return cmd
}

func logNotifier() events.Notifier {
	return events.NotifierFunc(func(e events.Event) {
		log.Debug().Str("component", "generate").Str("kind", e.Kind).Interface("data", e.Data).Msg("workflow event")
	})
}

func runGenerate(ctx context.Context, app *App, f *generateFlags, out io.Writer) error {
	client, err := app.newBackend()
	if err != nil {
		return err
	}
	wf := workflow.NewController(app.Settings.AgentID, client, workflow.WithNotifier(logNotifier()))

	prompt := f.prompt
	if strings.TrimSpace(prompt) == "" {
		if err := huh.NewInput().Title("What should the post be about?").Value(&prompt).Run(); err != nil {
			return errors.Wrap(err, "read prompt")
		}
	}
	if err := wf.SubmitPrompt(ctx, prompt); err != nil {
		return userError(wf, err)
	}

	b := wf.Snapshot().Session.(workflow.BrandingSuggestions)
	pick := f.pick
	if pick == "" {
		sel := huh.NewSelect[string]().
			Title("Pick a brand").
			Options(huh.NewOptions(b.Suggestions...)...).
			Value(&pick)
		if err := sel.Run(); err != nil {
			return errors.Wrap(err, "choose suggestion")
		}
	}
	if err := wf.SelectAndContinue(ctx, pick); err != nil {
		var perr *workflow.PreconditionError
		if errors.As(err, &perr) {
			return errors.Errorf("%q is not one of the suggestions: %s", pick, strings.Join(b.Suggestions, ", "))
		}
		return userError(wf, err)
	}

	draft, err := wf.Draft()
	if err != nil {
		return err
	}
	if f.caption != "" {
		draft.Caption = f.caption
	}
	if err := printPost(out, f.output, wf.Snapshot(), draft); err != nil {
		return err
	}
	if !f.publish {
		return nil
	}

	if !f.yes {
		ok := false
		if err := huh.NewConfirm().Title("Publish this post now?").Value(&ok).Run(); err != nil {
			return errors.Wrap(err, "confirm publish")
		}
		if !ok {
			wf.ApplyOutcome(composer.Cancelled())
			fmt.Fprintln(out, "Publishing cancelled.")
			return nil
		}
	}
	if err := wf.Publish(ctx, app.newHandoff(client), draft); err != nil {
		return userError(wf, err)
	}
	fmt.Fprintln(out, wf.Snapshot().Notice)
	return nil
}

// userError prefers the text the workflow recorded for the user.
func userError(wf *workflow.Controller, err error) error {
	if msg := wf.Snapshot().Error; msg != "" {
		return errors.New(msg)
	}
	return err
}

func printPost(out io.Writer, format string, snap workflow.Snapshot, d composer.Draft) error {
	switch format {
	case "yaml":
		fields := snap.Fields()
		fields.Caption = &d.Caption
		b, err := yaml.Marshal(fields)
		if err != nil {
			return errors.Wrap(err, "encode post")
		}
		_, err = out.Write(b)
		return err
	case "text", "":
		p := snap.Session.(workflow.PostGeneration)
		caption, err := glamour.Render(d.Caption, "dark")
		if err != nil {
			caption = d.Caption
		}
		fmt.Fprintf(out, "Brand: %s\n%s\nImage: %s\n", p.SelectedSuggestion, caption, d.ImageRef)
		return nil
	default:
		return errors.Errorf("unknown output format %q", format)
	}
}
