package cmds

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newStatusCommand(app *App) *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "status [agent-id]",
		Short: "Show whether the agent's Facebook page is connected",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agentID := app.Settings.AgentID
			if len(args) == 1 {
				agentID = args[0]
			}
			client, err := app.newBackend()
			if err != nil {
				return err
			}
			st, err := app.newStatusChecker(client).Check(cmd.Context(), agentID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asYAML {
				b, err := yaml.Marshal(map[string]any{
					"agent_id":  agentID,
					"status":    st,
					"connected": st.Connected(),
				})
				if err != nil {
					return errors.Wrap(err, "encode status")
				}
				_, err = out.Write(b)
				return err
			}
			state := "not connected"
			if st.Connected() {
				state = "connected"
			}
			fmt.Fprintf(out, "%s: %s (token %s, permissions ok: %t)\n", agentID, state, st.AccessTokenStatus, st.PermissionsOK)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print the status as YAML")
	return cmd
}
