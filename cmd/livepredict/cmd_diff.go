package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/livefir/livepredict/internal/diff"
)

var diffMinify bool

var diffCmd = &cobra.Command{
	Use:   "diff OLD.html NEW.html",
	Short: "Print the patches between two rendered fragments",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		oldHTML, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		newHTML, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		parser := htmlParser("")
		if diffMinify {
			parser = parser.WithMinify()
		}
		differ := diff.NewDifferWithLimits(cfg.Limits).WithParser(parser)
		result, err := differ.DiffHTML(string(oldHTML), string(newHTML))
		if err != nil {
			return err
		}

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}

		fmt.Println(styles.Title.Render("Patches"))
		if len(result.Patches) == 0 {
			fmt.Println(styles.Muted.Render("  (trees are equal)"))
		}
		for _, p := range result.Patches {
			fmt.Println("  " + p.String())
		}
		fmt.Println()
		fmt.Println(styles.Box.Render(
			row("pattern", string(result.Classification.Pattern)) + "\n" +
				row("complexity", result.Metadata.Complexity) + "\n" +
				row("nodes (old/new)", fmt.Sprintf("%d/%d", result.Metadata.OldNodes, result.Metadata.NewNodes)) + "\n" +
				row("parse", result.Performance.ParseTime) + "\n" +
				row("diff", result.Performance.DiffTime) + "\n" +
				row("total", result.Performance.TotalTime),
		))
		return nil
	},
}

func init() {
	diffCmd.Flags().BoolVar(&diffMinify, "minify", false, "minify both fragments before parsing")
}
