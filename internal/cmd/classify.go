package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/atikulmunna/warden/internal/signature"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <url>...",
	Short: "Classify URLs against the local attack catalogue",
	Example: `  warden classify '/search?q=%3Cscript%3Ealert(1)%3C/script%3E'
  warden classify --catalogue ./attack_patterns.json -o json /index.html`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine := signature.NewEngine(logger)
		path := viper.GetString("catalogue.path")
		if err := engine.LoadFile(path); err != nil {
			return fmt.Errorf("load catalogue %s: %w", path, err)
		}
		return classifyURLs(cmd.OutOrStdout(), engine, args, viper.GetString("output"))
	},
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}

func classifyURLs(w io.Writer, c signature.Classifier, urls []string, format string) error {
	enc := json.NewEncoder(w)
	for _, u := range urls {
		v := c.Classify(u)
		if strings.EqualFold(format, "json") {
			if err := enc.Encode(struct {
				URL            string `json:"url"`
				Classification string `json:"classification"`
				Version        string `json:"catalogue_version"`
			}{u, v.Classification, v.CatalogueVersion}); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\n", v.Classification, u); err != nil {
			return err
		}
	}
	return nil
}
