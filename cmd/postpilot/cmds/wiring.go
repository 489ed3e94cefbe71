package cmds

import (
	"github.com/go-go-golems/postpilot/pkg/backend"
	"github.com/go-go-golems/postpilot/pkg/composer"
	"github.com/go-go-golems/postpilot/pkg/events"
	"github.com/go-go-golems/postpilot/pkg/status"
	"github.com/go-go-golems/postpilot/pkg/transport"
)

func (a *App) newBackend() (*backend.Client, error) {
	return backend.NewClient(a.Settings.Backend.URL, backend.WithTimeout(a.Settings.Backend.Timeout))
}

func (a *App) newBus() (*events.Bus, error) {
	return events.NewBus(events.BusConfig{
		Topic: a.Settings.Events.Topic,
		Redis: a.Settings.Events.Redis,
	})
}

func (a *App) newChannel(client *backend.Client) (*transport.Channel, error) {
	return transport.NewChannel(client.ChatURL(),
		transport.WithReconnectPolicy(a.Settings.Chat.ReconnectPolicy()),
		transport.WithWriteTimeout(a.Settings.Chat.WriteTimeout),
	)
}

func (a *App) newStatusChecker(client *backend.Client) *status.Checker {
	return status.NewChecker(client, a.Settings.Status.CacheTTL)
}

func (a *App) newHandoff(client *backend.Client) *composer.Handoff {
	var opts []composer.Option
	if a.Settings.Status.GatePublish {
		opts = append(opts, composer.WithStatusGate(a.newStatusChecker(client)))
	}
	return composer.NewHandoff(client, opts...)
}
