package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

var captureCmd = &cobra.Command{
	Use:   "capture <text>",
	Short: "Capture text into the knowledge base",
	Long: `Capture text into the knowledge base.

Examples:
  secondbrain capture "Met Sam about the grant application, deadline May 1"
  secondbrain capture "https://example.com/article worth reading"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/capture", map[string]string{"text": text})
		if err != nil {
			return err
		}

		var result struct {
			Reply             string `json:"reply"`
			CapabilityRequest bool   `json:"capability_request"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.Reply)
		if result.CapabilityRequest {
			printStatus("Note", "the assistant flagged this as a feature request")
		}
		return nil
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/query", map[string]string{"question": question})
		if err != nil {
			return err
		}

		var result struct {
			Answer        string `json:"answer"`
			CapabilityGap *struct {
				GapDescription string `json:"gap_description"`
				Proposal       string `json:"proposal"`
			} `json:"capability_gap"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.Answer)
		if result.CapabilityGap != nil {
			printStatus("Gap", "%s", result.CapabilityGap.GapDescription)
			if result.CapabilityGap.Proposal != "" {
				printStatus("Proposal", "%s", result.CapabilityGap.Proposal)
			}
		}
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search over stored items",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/search?q=%s&limit=%d", url.QueryEscape(query), limit)
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var results []struct {
			Type    string   `json:"type"`
			Summary string   `json:"summary"`
			Content string   `json:"content"`
			Tags    []string `json:"tags"`
			Rank    float64  `json:"rank"`
		}
		if err := decodeJSON(resp, &results); err != nil {
			return err
		}

		if len(results) == 0 {
			fmt.Println("No matching items found.")
			return nil
		}
		for _, r := range results {
			printItem(r.Type, r.Summary, r.Content, r.Tags, "")
		}
		return nil
	},
}

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List the newest items",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/recent?limit=%d", limit))
		if err != nil {
			return err
		}

		var items []struct {
			Type      string   `json:"type"`
			Summary   string   `json:"summary"`
			Content   string   `json:"content"`
			Tags      []string `json:"tags"`
			CreatedAt string   `json:"created_at"`
		}
		if err := decodeJSON(resp, &items); err != nil {
			return err
		}

		if len(items) == 0 {
			fmt.Println("Nothing stored yet.")
			return nil
		}
		for _, item := range items {
			printItem(item.Type, item.Summary, item.Content, item.Tags, item.CreatedAt)
		}
		return nil
	},
}

var overviewCmd = &cobra.Command{
	Use:   "overview",
	Short: "Show the rolling overview",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/overview")
		if err != nil {
			return err
		}

		var result struct {
			Overview string `json:"overview"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.Overview)
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Regenerate the rolling overview from recent items",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/overview/refresh", nil)
		if err != nil {
			return err
		}

		var result struct {
			Status string `json:"status"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("%s", result.Status)
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("limit", 10, "maximum number of results")
	recentCmd.Flags().Int("limit", 10, "maximum number of items")
}

func printItem(itemType, summary, content string, tags []string, createdAt string) {
	label := summary
	if label == "" {
		label = content
		if len(label) > 100 {
			label = label[:100] + "..."
		}
	}
	fmt.Printf("%s %s\n", colorize(colorCyan, "["+itemType+"]"), label)
	if len(tags) > 0 {
		fmt.Printf("  Tags: %s\n", strings.Join(tags, ", "))
	}
	if createdAt != "" {
		fmt.Printf("  %s\n", createdAt)
	}
}
