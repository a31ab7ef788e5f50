package cli

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/boardflow/internal/harness"
)

// SeedFile declares boards, their columns and their cards.
//
//	boards:
//	  - id: b1
//	    owner: u-owner
//	    columns: [{id: todo, name: To Do}, {id: done, name: Done}]
//	    cards:
//	      - {id: c1, column: todo, title: Write release notes}
type SeedFile struct {
	Boards []SeedBoard `yaml:"boards"`
}

// SeedBoard is one board of a seed file.
type SeedBoard struct {
	harness.BoardSetup `yaml:",inline"`
	Cards              []harness.CardSetup `yaml:"cards"`
}

// SeedSummary is the output of the seed command.
type SeedSummary struct {
	Boards  int `json:"boards"`
	Columns int `json:"columns"`
	Cards   int `json:"cards"`
}

// Text renders the counts.
func (s SeedSummary) Text() string {
	return fmt.Sprintf("✓ Seeded %d board(s), %d column(s), %d card(s)\n", s.Boards, s.Columns, s.Cards)
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed <file>",
		Short: "Load boards, columns and cards from a YAML file",
		Long: `Insert the boards, columns and cards declared in a YAML seed file.

Cards marked template: true can back recurring configs. Seeding the same
ids twice fails.

Example:
  boardflow seed ./board.yaml --db ./boardflow.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

// LoadSeedFile reads and strictly decodes a seed file.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f SeedFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	for i, b := range f.Boards {
		if b.ID == "" {
			return nil, fmt.Errorf("boards[%d]: id is required", i)
		}
		if b.Owner == "" {
			return nil, fmt.Errorf("board %s: owner is required", b.ID)
		}
	}
	return &f, nil
}

func runSeed(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	f, err := LoadSeedFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("seed file not found: %s", path), nil)
		}
		return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, err.Error(), nil)
	}

	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := commandContext(cmd)
	now := time.Now().UTC()
	var summary SeedSummary
	for _, sb := range f.Boards {
		board, cols := sb.Records()
		if err := a.store.CreateBoard(ctx, board); err != nil {
			return formatter.Fail(ExitFailure, ErrCodeStore, fmt.Sprintf("board %s: %v", board.ID, err), nil)
		}
		summary.Boards++
		for _, c := range cols {
			if err := a.store.CreateColumn(ctx, c); err != nil {
				return formatter.Fail(ExitFailure, ErrCodeStore, fmt.Sprintf("column %s: %v", c.ID, err), nil)
			}
			summary.Columns++
		}
		for _, cs := range sb.Cards {
			card, err := cs.Card(board.ID)
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, err.Error(), nil)
			}
			if err := a.store.CreateCard(ctx, card, now); err != nil {
				return formatter.Fail(ExitFailure, ErrCodeStore, fmt.Sprintf("card %s: %v", card.ID, err), nil)
			}
			summary.Cards++
		}
	}
	formatter.VerboseLog("Seeded %s", path)
	return formatter.Success(summary)
}
