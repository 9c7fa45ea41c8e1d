package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/DDI-Intelligence/internal/domain/molecule"
	"github.com/turtacn/DDI-Intelligence/internal/intelligence/deepddi"
)

// ResolveResult is a drug name mapped to its structure.
type ResolveResult struct {
	Query  string `json:"query"`
	SMILES string `json:"smiles"`
}

func (r *ResolveResult) String() string {
	return fmt.Sprintf("%s\t%s\n", r.Query, r.SMILES)
}

// SearchResult lists index keys matching a query.
type SearchResult struct {
	Query   string   `json:"query"`
	Matches []string `json:"matches"`
}

func (r *SearchResult) String() string {
	if len(r.Matches) == 0 {
		return fmt.Sprintf("no drugs match %q\n", r.Query)
	}
	return strings.Join(r.Matches, "\n") + "\n"
}

func (r *SearchResult) TableHeaders() []string { return []string{"#", "DRUG"} }

func (r *SearchResult) TableRows() [][]string {
	rows := make([][]string, len(r.Matches))
	for i, m := range r.Matches {
		rows[i] = []string{fmt.Sprintf("%d", i+1), m}
	}
	return rows
}

// NewResolveCmd prints the structure the index holds for a drug.
func NewResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "resolve NAME_OR_ID",
		Short:   "Show the structure string of a drug",
		Example: "  ddi resolve Aspirin\n  ddi resolve DB00945",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			artifact, err := loadArtifact(cmd.Context(), cliCtx)
			if err != nil {
				return err
			}
			smiles, err := artifact.DrugIndex.Resolve(args[0])
			if err != nil {
				return err
			}
			return PrintResult(cmd, &ResolveResult{Query: args[0], SMILES: smiles})
		},
	}
}

// NewSearchCmd lists drug names and identifiers containing a query.
func NewSearchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Find drugs by case-insensitive substring",
		Long: "Lists index keys containing QUERY, ignoring case. Queries shorter than\n" +
			"two characters match nothing.",
		Example: "  ddi search warf\n  ddi search db009 --limit 5",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			artifact, err := loadArtifact(cmd.Context(), cliCtx)
			if err != nil {
				return err
			}
			matches := artifact.DrugIndex.Search(args[0], limit)
			return PrintResult(cmd, &SearchResult{Query: args[0], Matches: matches})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", molecule.MaxSearchResults, "maximum number of matches")
	return cmd
}

// NewStatusCmd loads the configured artifacts and reports what is served.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Load the artifacts and report the model shape",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			p, cleanup, err := newPredictor(cmd.Context(), cliCtx)
			if err != nil {
				return err
			}
			defer cleanup()
			return PrintResult(cmd, statusView(p.Status()))
		},
	}
}

type statusView deepddi.Status

func (s statusView) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Model loaded:      %t\n", s.ModelLoaded)
	fmt.Fprintf(&sb, "Model version:     %s\n", s.ModelVersion)
	fmt.Fprintf(&sb, "Fingerprint:       %d bits, radius %d\n", s.FingerprintSize, s.Radius)
	labels := make([]string, len(s.Classes))
	for i, c := range s.Classes {
		labels[i] = string(c)
	}
	fmt.Fprintf(&sb, "Classes:           %s\n", strings.Join(labels, ", "))
	fmt.Fprintf(&sb, "Indexed drugs:     %d\n", s.Drugs)
	return sb.String()
}
