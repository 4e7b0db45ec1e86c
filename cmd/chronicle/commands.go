package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/chronicle/internal/config"
	"github.com/kalambet/chronicle/internal/corpus"
)

// --- analyze ---

var analyzeCmd = &cobra.Command{
	Use:   "analyze <query>",
	Short: "Run a query through the analysis pipeline",
	Long: `Run a query through the full analysis pipeline and persist the
resulting note.

Examples:
  chronicle analyze "how did drought shape Mediterranean trade?"
  chronicle analyze --json "what drove the 19th century railway booms?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Analyzing...")
		resp, err := client.post(cmd.Context(), "/analyze", map[string]string{"query": query, "source": "cli"})
		if err != nil {
			return err
		}

		var result struct {
			Note struct {
				UUID     string `json:"uuid"`
				Filename string `json:"filename"`
				Title    string `json:"title"`
				Summary  string `json:"summary"`
			} `json:"note"`
			Synthesis struct {
				Status     string  `json:"status"`
				Confidence float64 `json:"confidence"`
				Final      string  `json:"final_synthesis"`
			} `json:"synthesis"`
			TotalTimeMs int64 `json:"total_time_ms"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}

		fmt.Printf("\n%s\n\n", colorize(colorBold, result.Note.Title))
		fmt.Println(result.Synthesis.Final)
		fmt.Println()
		printStatus("Status", "%s (confidence %.2f)", result.Synthesis.Status, result.Synthesis.Confidence)
		printStatus("Note", "%s", result.Note.Filename)
		printStatus("Elapsed", "%.1fs", float64(result.TotalTimeMs)/1000)
		if result.Synthesis.Status == "emergency" {
			printWarning("Synthesis degraded; the note preserves the raw agent outputs.")
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().Bool("json", false, "print the full run result as JSON")
}

// --- notes ---

var notesCmd = &cobra.Command{
	Use:   "notes",
	Short: "Browse stored analysis notes",
}

var notesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent notes",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/notes?limit=%d", limit))
		if err != nil {
			return err
		}

		var notes []struct {
			UUID      string `json:"uuid"`
			CreatedAt string `json:"created_at"`
			Title     string `json:"title"`
			Domain    string `json:"domain"`
		}
		if err := decodeJSON(resp, &notes); err != nil {
			return err
		}

		if len(notes) == 0 {
			fmt.Println("No notes found.")
			return nil
		}

		for _, n := range notes {
			title := n.Title
			if len(title) > 80 {
				title = title[:80] + "..."
			}
			fmt.Printf("%s  %s  %s\n",
				colorize(colorCyan, n.UUID[:8]),
				n.CreatedAt,
				title,
			)
		}
		return nil
	},
}

var notesShowCmd = &cobra.Command{
	Use:   "show <uuid>",
	Short: "Show a note as rendered markdown",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/notes/"+args[0]+"/raw")
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}
		_, err = os.Stdout.ReadFrom(resp.Body)
		return err
	},
}

func init() {
	notesListCmd.Flags().Int("limit", 20, "maximum number of notes to list")
	notesCmd.AddCommand(notesListCmd)
	notesCmd.AddCommand(notesShowCmd)
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over the corpus",
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
			SourceID string  `json:"source_id"`
			Title    string  `json:"title"`
			Score    float64 `json:"relevance_score"`
			Snippet  string  `json:"content_snippet"`
		}
		if err := decodeJSON(resp, &results); err != nil {
			return err
		}

		if len(results) == 0 {
			fmt.Println("No results found.")
			return nil
		}

		for i, r := range results {
			title := r.Title
			if title == "" {
				title = r.SourceID
			}
			fmt.Printf("\n%s [score: %.3f]\n", colorize(colorBold, fmt.Sprintf("%d. %s", i+1, title)), r.Score)
			fmt.Printf("  %s\n", r.Snippet)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("limit", 5, "maximum number of results")
}

// --- corpus ---

var corpusCmd = &cobra.Command{
	Use:   "corpus",
	Short: "Manage the corpus",
}

var corpusSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the corpus with external material",
	Long: `Seed the corpus with external material so the historian has context
before any analyses have run.

Examples:
  chronicle corpus seed --text "Drought records from tree rings..." --title "Tree rings"
  chronicle corpus seed --file ./paper.pdf --title "Bronze Age trade"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		title, _ := cmd.Flags().GetString("title")

		if text == "" && file == "" {
			return fmt.Errorf("one of --text or --file is required")
		}

		req := map[string]string{"source": "cli"}
		if title != "" {
			req["title"] = title
		}

		if file != "" {
			fileTitle, content, err := corpus.ExtractFile(file)
			if err != nil {
				return err
			}
			req["content"] = content
			if title == "" {
				req["title"] = fileTitle
			}
		} else {
			req["content"] = text
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/corpus/seed", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Seeded note %s (%s)", result["uuid"], result["filename"])
		return nil
	},
}

func init() {
	corpusSeedCmd.Flags().String("text", "", "text content to seed")
	corpusSeedCmd.Flags().String("file", "", "file path to seed (pdf or plain text)")
	corpusSeedCmd.Flags().String("title", "", "title for the seeded note")
	corpusCmd.AddCommand(corpusSeedCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
