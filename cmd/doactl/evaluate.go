package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-spend-approvals/internal/repository"
	"github.com/pesio-ai/be-spend-approvals/internal/service"
)

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Preview the approval chain for a request",
		Long: `Build the approval chain a request with the given attributes would get
from the current rules and baseline policy. Nothing is stored.`,
		Example: "  doactl evaluate --amount 21000 --category Office --type OPEX",
		RunE:    runEvaluate,
	}
	cmd.Flags().String("amount", "", "request amount (required)")
	cmd.Flags().String("category", "", "request category")
	cmd.Flags().String("type", "", "expense type: OPEX or CAPEX (required)")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	rawAmount, _ := cmd.Flags().GetString("amount")
	category, _ := cmd.Flags().GetString("category")
	rawType, _ := cmd.Flags().GetString("type")

	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", rawAmount, err)
	}
	et, ok := repository.ParseExpenseType(rawType)
	if !ok {
		return fmt.Errorf("invalid expense type %q: must be OPEX or CAPEX", rawType)
	}

	svcs, err := initServices(cmd)
	if err != nil {
		return err
	}
	defer svcs.Close()

	chain, err := svcs.Approvals.PreviewChain(cmd.Context(), amount, category, et)
	if err != nil {
		return err
	}
	return printChain(cmd, chain)
}

func printChain(cmd *cobra.Command, chain *service.Chain) error {
	if chain.RulesUnavailable {
		_, _ = warn.Fprintln(cmd.ErrOrStderr(), "warning: rule source unavailable, baseline policy only")
	}
	if len(chain.Steps) == 0 {
		fmt.Fprintln(out(cmd), "No approval required.")
		return nil
	}

	w := tabwriter.NewWriter(out(cmd), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tROLE\tSOURCE\tTHRESHOLD")
	for _, s := range chain.Steps {
		threshold := "-"
		if s.RuleMinAmount.Valid {
			threshold = s.RuleMinAmount.Decimal.String()
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.Order, s.RoleName, s.Source, threshold)
	}
	return w.Flush()
}
