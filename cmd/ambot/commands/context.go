package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/asoloa/ambot/internal/relevance"
	"github.com/asoloa/ambot/internal/tokens"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newContextCmd(a *app) *cobra.Command {
	var jsonOnly bool
	cmd := &cobra.Command{
		Use:   "context <question...>",
		Short: "Show the knowledgebase context a question would send",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			ctx := relevance.BuildContext(question, a.store.Current())
			serialized, err := ctx.Serialize()
			if err != nil {
				return fmt.Errorf("failed to serialize context: %w", err)
			}
			out := cmd.OutOrStdout()
			if jsonOnly {
				fmt.Fprintln(out, serialized)
				return nil
			}

			head := color.New(color.Bold)
			head.Fprint(out, "keywords: ")
			fmt.Fprintln(out, strings.Join(ctx.Keywords.Sorted(), ", "))
			head.Fprint(out, "sections: ")
			fmt.Fprintln(out, strings.Join(ctx.Keys(), ", "))
			head.Fprint(out, "fallback: ")
			fmt.Fprintln(out, ctx.Fallback())

			sections := make([]string, 0, len(ctx.Scores))
			for section := range ctx.Scores {
				sections = append(sections, section)
			}
			sort.Strings(sections)
			for _, section := range sections {
				fmt.Fprintf(out, "  %s: %v\n", section, ctx.Scores[section])
			}
			head.Fprint(out, "tokens: ")
			fmt.Fprintln(out, tokens.Count(serialized))

			var pretty bytes.Buffer
			if err = json.Indent(&pretty, []byte(serialized), "", "  "); err != nil {
				return err
			}
			fmt.Fprintln(out, pretty.String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOnly, "json", false, "print only the serialized context")
	return cmd
}
