package commands

import (
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/marmos91/varbus/pkg/client"
	"github.com/marmos91/varbus/pkg/value"
	"github.com/marmos91/varbus/pkg/wire"
)

var (
	queryRegex    string
	queryGlob     string
	queryTags     string
	queryInstance uint32
	queryFlags    []string
	queryValues   bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Search variables",
	Long: `Search the variable table with get-first/get-next iteration and print
the matches as a table.

Examples:
  # Everything
  varbusctl query

  # Names matching a glob
  varbusctl query --glob "sensors.*"

  # Names matching a regular expression, with values
  varbusctl query --regex "^build\." --values

  # All persisted variables created by pid 4711
  varbusctl query --flag persist --instance 4711`,
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&queryRegex, "regex", "", "match names against a regular expression")
	queryCmd.Flags().StringVar(&queryGlob, "glob", "", "match names against a shell glob")
	queryCmd.Flags().StringVar(&queryTags, "tags", "", "require all listed tags (comma-separated)")
	queryCmd.Flags().Uint32Var(&queryInstance, "instance", 0, "restrict to one creator instance id")
	queryCmd.Flags().StringSliceVar(&queryFlags, "flag", nil, "require flags: persist, readonly, renderer")
	queryCmd.Flags().BoolVarP(&queryValues, "values", "v", false, "include each match's current value")
}

func buildQuery() (*client.Query, error) {
	q := &client.Query{SearchType: wire.ShowType}
	if queryRegex != "" {
		q.SearchType |= wire.MatchByRegex
		q.MatchText = queryRegex
	}
	if queryGlob != "" {
		q.SearchType |= wire.MatchByName
		q.MatchText = queryGlob
	}
	if queryTags != "" {
		q.SearchType |= wire.ByTags
		q.TagSpec = queryTags
	}
	if queryInstance != 0 {
		q.SearchType |= wire.ByInstanceID
		q.InstanceID = queryInstance
	}
	if len(queryFlags) > 0 {
		flags, err := parseFlags(queryFlags)
		if err != nil {
			return nil, err
		}
		q.SearchType |= wire.ByFlags
		q.Flags = flags
	}
	return q, nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	q, err := buildQuery()
	if err != nil {
		return err
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()

	// Collect first, fetch values after: the fold must not issue other
	// requests on the session while the cursor is live.
	type row struct {
		name   string
		handle wire.Handle
		typ    value.Type
	}
	var rows []row
	err = s.Map(q, func(h wire.Handle) error {
		rows = append(rows, row{name: q.ResultName, handle: h, typ: q.ResultType})
		return nil
	})
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	header := []string{"Name", "Handle", "Type"}
	if queryValues {
		header = append(header, "Value")
	}
	table.SetHeader(header)
	table.SetBorder(false)

	for _, r := range rows {
		cols := []string{r.name, strconv.FormatUint(uint64(r.handle), 10), r.typ.String()}
		if queryValues {
			cols = append(cols, fetchValue(s, r.handle))
		}
		table.Append(cols)
	}

	table.Render()
	cmd.Printf("%d match(es)\n", len(rows))
	return nil
}

// fetchValue reads and formats one match's value; failures render as a
// placeholder so the listing survives racing unlinks.
func fetchValue(s *client.Session, h wire.Handle) string {
	var obj value.Object
	if err := s.Get(h, &obj); err != nil {
		return "-"
	}
	text, err := obj.Format()
	if err != nil {
		return "-"
	}
	return text
}
