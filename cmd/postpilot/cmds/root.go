// Package cmds holds the postpilot cobra commands.
package cmds

import (
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/postpilot/pkg/config"
	"github.com/go-go-golems/postpilot/pkg/logging"
)

// annotationFullscreen marks commands that own the terminal. Their logs go to
// the configured file or nowhere.
const annotationFullscreen = "postpilot/fullscreen"

// App is shared by every command. Settings is populated before RunE.
type App struct {
	Loader   *config.Loader
	Settings *config.Settings

	logCloser io.Closer
}

func NewRootCommand() *cobra.Command {
	app := &App{Loader: config.NewLoader()}

	root := &cobra.Command{
		Use:           "postpilot",
		Short:         "Chat with the assistant and generate social posts from the terminal",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			app.close()
		},
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		newTUICommand(app),
		newChatCommand(app),
		newGenerateCommand(app),
		newStatusCommand(app),
		newMockBackendCommand(app),
		newConfigCommand(app),
	)
	return root
}

func (a *App) init(cmd *cobra.Command) error {
	if err := a.Loader.BindFlags(cmd.Flags()); err != nil {
		return err
	}
	s, err := a.Loader.Load()
	if err != nil {
		return errors.Wrap(err, "load configuration")
	}
	a.Settings = s

	closer, err := logging.Init(logging.Settings{
		Level:  s.Logging.Level,
		Format: s.Logging.Format,
		File:   s.Logging.File,
		Quiet:  cmd.Annotations[annotationFullscreen] == "true",
	})
	if err != nil {
		return err
	}
	a.logCloser = closer

	log.Debug().
		Str("command", cmd.Name()).
		Str("config_file", a.Loader.Viper().ConfigFileUsed()).
		Str("backend", s.Backend.URL).
		Msg("configuration loaded")
	return nil
}

func (a *App) close() {
	if a.logCloser != nil {
		_ = a.logCloser.Close()
		a.logCloser = nil
	}
}
