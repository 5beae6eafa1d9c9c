package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/falaimagem/internal/api"
	"github.com/kalambet/falaimagem/internal/config"
	"github.com/kalambet/falaimagem/internal/storage"
	"github.com/kalambet/falaimagem/internal/survey"
)

// --- metrics ---

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Inspect recorded pipeline latencies",
}

var metricsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return listMetrics(cmd.Context(), client, limit, offset, asJSON)
	},
}

var metricsSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show run counts and average stage latencies",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return showSummary(cmd.Context(), client, asJSON)
	},
}

func listMetrics(ctx context.Context, client *apiClient, limit, offset int, asJSON bool) error {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	resp, err := client.get(ctx, "/metrics?"+q.Encode())
	if err != nil {
		return err
	}
	var rows []storage.PerformanceMetric
	if err := decodeJSON(resp, &rows); err != nil {
		return err
	}

	if asJSON {
		return printJSON(rows)
	}
	if len(rows) == 0 {
		printWarning("no runs recorded")
		return nil
	}
	fmt.Fprintf(stdout, "%-6s %-36s %-10s %-10s %-10s %-10s %s\n", "ID", "IMAGE", "DESCRIBE", "SYNTH", "DELIVERY", "TOTAL", "SENDER")
	for _, m := range rows {
		flag := ""
		if m.Anomaly {
			flag = " " + paint(ansiYellow, "(anomaly)")
		}
		fmt.Fprintf(stdout, "%-6d %-36s %-10s %-10s %-10s %-10s %s%s\n",
			m.ID, m.ImageID,
			formatMs(float64(m.DescriptionDurationMs)),
			formatMs(float64(m.SynthesisDurationMs)),
			formatMs(float64(m.DeliveryDurationMs)),
			formatMs(float64(m.TotalDurationMs)),
			m.SenderID, flag)
	}
	return nil
}

func showSummary(ctx context.Context, client *apiClient, asJSON bool) error {
	resp, err := client.get(ctx, "/metrics/summary")
	if err != nil {
		return err
	}
	var sum storage.MetricsSummary
	if err := decodeJSON(resp, &sum); err != nil {
		return err
	}

	if asJSON {
		return printJSON(sum)
	}
	printStatus("Runs", "%d", sum.Count)
	printStatus("Anomalies", "%d", sum.Anomalies)
	printStatus("Description", "%s", formatMs(sum.AvgDescribeMs))
	printStatus("Synthesis", "%s", formatMs(sum.AvgSynthMs))
	printStatus("Delivery", "%s", formatMs(sum.AvgDeliveryMs))
	printStatus("Total", "%s", formatMs(sum.AvgTotalMs))
	return nil
}

func init() {
	metricsListCmd.Flags().Int("limit", 20, "maximum number of runs to show")
	metricsListCmd.Flags().Int("offset", 0, "number of runs to skip")
	metricsListCmd.Flags().Bool("json", false, "print raw JSON")
	metricsSummaryCmd.Flags().Bool("json", false, "print raw JSON")

	metricsCmd.AddCommand(metricsListCmd)
	metricsCmd.AddCommand(metricsSummaryCmd)
}

// --- survey ---

var surveyCmd = &cobra.Command{
	Use:   "survey",
	Short: "Inspect satisfaction survey answers",
}

var surveyShowCmd = &cobra.Command{
	Use:   "show <image-id>",
	Short: "Show survey progress for one image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		if from == "" {
			return fmt.Errorf("--from is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return showSurvey(cmd.Context(), client, args[0], from)
	},
}

func showSurvey(ctx context.Context, client *apiClient, imageID, from string) error {
	resp, err := client.get(ctx, "/surveys/"+url.PathEscape(imageID)+"?from="+url.QueryEscape(from))
	if err != nil {
		return err
	}
	var p survey.Progress
	if err := decodeJSON(resp, &p); err != nil {
		return err
	}

	printStatus("Image", "%s", p.ImageID)
	printStatus("Sender", "%s", p.SenderID)
	if p.Completed {
		printSuccess("survey completed")
	} else {
		printStatus("Waiting on", "question %d of %d", p.CurrentQuestion, survey.TotalQuestions)
	}
	for _, a := range p.Answers {
		fmt.Fprintf(stdout, "  Q%d  %d/%d  %s\n", a.QuestionNumber, a.Score, survey.MaxScore, a.AnsweredAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func init() {
	surveyShowCmd.Flags().String("from", "", "sender id the survey was sent to")
	surveyCmd.AddCommand(surveyShowCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration (secrets masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, ki := range config.ShowAll(cfg) {
			fmt.Fprintf(stdout, "%-28s %-36s %s\n", ki.Key, ki.EnvVar, ki.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetKey(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Set %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve read-only metrics and survey data over MCP (stdio)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCPStdio(cmd.Context())
	},
}

func runMCPStdio(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// Stdout carries the protocol; logs go to stderr only.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()})))

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:  store,
		Survey: survey.NewCoordinator(store, nil),
	})
	if ctx == nil {
		ctx = context.Background()
	}
	return server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout)
}
