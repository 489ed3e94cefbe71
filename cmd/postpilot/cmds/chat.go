package cmds

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/postpilot/pkg/chat"
	"github.com/go-go-golems/postpilot/pkg/events"
	"github.com/go-go-golems/postpilot/pkg/transport"
)

func newChatCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Line-based chat with the assistant (type /quit to leave)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			client, err := app.newBackend()
			if err != nil {
				return err
			}
			ch, err := app.newChannel(client)
			if err != nil {
				return err
			}
			defer func() { _ = ch.Close() }()

			out := cmd.OutOrStdout()
			var ctl *chat.Controller
			printer := events.NotifierFunc(func(e events.Event) {
				switch e.Kind {
				case events.KindChatMessage:
					if e.Data["role"] != string(chat.RoleAssistant) {
						return
					}
					msgs := ctl.Messages()
					if i, ok := e.Data["index"].(int); ok && i < len(msgs) {
						fmt.Fprintf(out, "assistant: %s\n", msgs[i].Content)
					}
				case events.KindChatState:
					fmt.Fprintf(out, "[%s]\n", e.Data["state"])
				case events.KindChatError:
					fmt.Fprintf(out, "[%s]\n", chat.BannerConnectionFailed)
				}
			})
			ctl = chat.NewController(ch, chat.WithNotifier(printer))

			if err := ch.Connect(ctx, app.Settings.Chat.Identity); err != nil {
				return errors.Wrap(err, "connect chat")
			}
			return chatREPL(cmd.InOrStdin(), out, ctl)
		},
	}
}

func chatREPL(in io.Reader, out io.Writer, ctl *chat.Controller) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "/quit" {
			return nil
		}
		switch err := ctl.SendMessage(line); {
		case errors.Is(err, chat.ErrNotConnected):
			fmt.Fprintf(out, "[not connected: %s]\n", ctl.Snapshot().State)
		case err != nil && !errors.Is(err, chat.ErrEmptyMessage):
			return err
		}
		if ctl.Snapshot().State == transport.StateDisconnected {
			fmt.Fprintln(out, "[connection closed]")
			return nil
		}
	}
	return sc.Err()
}
