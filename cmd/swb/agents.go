package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/registry"
)

func newAgentsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List connected agents and their statuses",
		Long:  "Queries the running Switchboard server for live connections and last reported statuses.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgents(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	return cmd
}

type agentsResponse struct {
	Connections []struct {
		Agent       string    `json:"agent"`
		Project     string    `json:"project"`
		ClientName  string    `json:"client_name"`
		ConnectedAt time.Time `json:"connected_at"`
	} `json:"connections"`
	Statuses []registry.Entry `json:"statuses"`
}

func runAgents(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	url := fmt.Sprintf("http://localhost:%d/api/agents", cfg.Dashboard.Port)
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("is the server running? %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}

	var agents agentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&agents); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(agents.Connections) == 0 && len(agents.Statuses) == 0 {
		fmt.Fprintln(out, "No agents")
		return nil
	}

	if len(agents.Connections) > 0 {
		fmt.Fprintln(out, "Connected:")
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "AGENT\tPROJECT\tCLIENT\tSINCE")
		for _, c := range agents.Connections {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				c.Agent, c.Project, c.ClientName, c.ConnectedAt.Format("15:04:05"))
		}
		w.Flush()
	}

	if len(agents.Statuses) > 0 {
		fmt.Fprintln(out, "Statuses:")
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "AGENT\tSTATUS\tTASK\tPERCENT\tUPDATED")
		for _, e := range agents.Statuses {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d%%\t%s\n",
				e.AgentID, e.Status, e.Task, e.Percent, e.UpdatedAt.Format("15:04:05"))
		}
		w.Flush()
	}
	return nil
}
