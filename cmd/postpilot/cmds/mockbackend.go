package cmds

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/postpilot/pkg/backend/mockserver"
)

func newMockBackendCommand(app *App) *cobra.Command {
	var (
		addr string
		opts mockserver.Options
	)
	cmd := &cobra.Command{
		Use:   "mock-backend",
		Short: "Serve a local fake of the post generation backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = app.Settings.Mock.Addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			srv := &http.Server{
				Addr:              addr,
				Handler:           mockserver.New(opts).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errc := make(chan error, 1)
			go func() { errc <- srv.ListenAndServe() }()
			log.Info().Str("component", "mockserver").Str("addr", addr).Msg("mock backend listening")

			select {
			case err := <-errc:
				if !errors.Is(err, http.ErrServerClosed) {
					return errors.Wrap(err, "mock backend")
				}
				return nil
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to mock.addr)")
	cmd.Flags().StringVar(&opts.FailStart, "fail-start", "", "reject generate-branding with this detail")
	cmd.Flags().StringVar(&opts.FailContinue, "fail-continue", "", "reject continue-post-generation with this detail")
	cmd.Flags().StringVar(&opts.FailPublish, "fail-publish", "", "answer publish requests with this error message")
	cmd.Flags().BoolVar(&opts.Disconnected, "disconnected", false, "report the Facebook page as disconnected")
	cmd.Flags().DurationVar(&opts.Latency, "latency", 0, "delay every workflow response")
	return cmd
}
