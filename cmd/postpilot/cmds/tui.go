package cmds

import (
	"context"
	"os"
	"os/signal"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/postpilot/pkg/chat"
	"github.com/go-go-golems/postpilot/pkg/ui"
	"github.com/go-go-golems/postpilot/pkg/workflow"
)

func newTUICommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:         "tui",
		Short:       "Open the operator console (chat and post generation)",
		Annotations: map[string]string{annotationFullscreen: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runTUI(ctx, app)
		},
	}
}

func runTUI(ctx context.Context, app *App) error {
	s := app.Settings
	client, err := app.newBackend()
	if err != nil {
		return err
	}
	bus, err := app.newBus()
	if err != nil {
		return err
	}
	defer func() { _ = bus.Close() }()

	ch, err := app.newChannel(client)
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	chatCtl := chat.NewController(ch, chat.WithNotifier(bus))
	wf := workflow.NewController(s.AgentID, client, workflow.WithNotifier(bus))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	evs, err := bus.Subscribe(ctx)
	if err != nil {
		return err
	}

	model := ui.New(ctx, chatCtl, wf, app.newHandoff(client), ui.Options{
		Events:   evs,
		Identity: s.Chat.Identity,
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// a failed first attempt is shown as the chat banner
		if err := ch.Connect(gctx, s.Chat.Identity); err != nil {
			log.Warn().Err(err).Str("component", "tui").Msg("chat connection failed")
		}
		return nil
	})
	g.Go(func() error {
		defer cancel()
		_, err := p.Run()
		if errors.Is(err, tea.ErrProgramKilled) {
			return nil
		}
		return err
	})
	return g.Wait()
}
