package cli

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dwizi/agent-orchestrator/internal/apiclient"
	"github.com/dwizi/agent-orchestrator/internal/config"
)

type clientFlags struct {
	apiURL string
	apiKey string
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.apiURL, "api-url", "", "orchestrator base URL (defaults to AGENT_ORCHESTRATOR_API_URL)")
	cmd.Flags().StringVar(&f.apiKey, "api-key", "", "tenant API key (defaults to AGENT_ORCHESTRATOR_API_KEY)")
}

func (f *clientFlags) client() (*apiclient.Client, error) {
	cfg := config.FromEnv()
	if url := strings.TrimSpace(f.apiURL); url != "" {
		cfg.ClientAPIURL = url
	}
	if key := strings.TrimSpace(f.apiKey); key != "" {
		cfg.ClientAPIKey = key
	}
	return apiclient.New(cfg)
}

func newAskCommand() *cobra.Command {
	var flags clientFlags
	var message, agentID, userID string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Send a message to a running orchestrator and print the reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			var messageContext map[string]any
			if userID = strings.TrimSpace(userID); userID != "" {
				messageContext = map[string]any{"user_id": userID}
			}
			result, err := client.WithTimeout(timeout).Process(cmd.Context(), message, agentID, messageContext)
			if err != nil {
				return err
			}
			cmd.Printf("agent: %s (%s)\n", result.Agent.Name, result.RoutingReason)
			cmd.Println(result.Response.Content)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&message, "message", "", "message text")
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id hint")
	cmd.Flags().StringVar(&userID, "user", "", "user id recorded with the usage log")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "request timeout override")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func newStatusCommand() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show version, component health and, with an API key, the tenant dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			info, err := client.Info(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("%s %s (%s)\n", info.Name, info.Version, info.Environment)

			snapshot, err := client.Heartbeat(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("overall: %s\n", snapshot.Overall)
			for _, component := range snapshot.Components {
				cmd.Printf("  %-24s %s\n", component.Name, component.State)
			}

			dashboard, err := client.Dashboard(cmd.Context())
			if errors.Is(err, apiclient.ErrMissingAPIKey) {
				return nil
			}
			if err != nil {
				return err
			}
			cmd.Printf("last %dh: %d requests, %.1f%% success, %d active agents\n",
				dashboard.PeriodHours, dashboard.TotalRequests, dashboard.SuccessRate, dashboard.ActiveAgents)
			for _, agent := range dashboard.TopAgents {
				cmd.Printf("  %-24s %d\n", agent.AgentName, agent.Requests)
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
