package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-spend-approvals/internal/repository"
	"github.com/pesio-ai/be-spend-approvals/internal/service"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage the approval rule matrix",
	}
	cmd.AddCommand(rulesImportCmd())
	cmd.AddCommand(rulesListCmd())
	cmd.AddCommand(rulesMatrixCmd())
	cmd.AddCommand(rulesDeactivateCmd())
	return cmd
}

func rulesImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <matrix.yaml>",
		Short: "Import approval rules from a YAML matrix",
		Long: `Import every rule in the file. The import is all-or-nothing: when any
rule is invalid, nothing is stored.

Example file:

  rules:
    - expense_type: OPEX
      category: Any
      min_amount: "5000"
      required_role: Finance Manager`,
		Args: cobra.ExactArgs(1),
		RunE: runRulesImport,
	}
}

func runRulesImport(cmd *cobra.Command, args []string) error {
	inputs, err := service.LoadMatrixFile(args[0])
	if err != nil {
		return err
	}

	svcs, err := initServices(cmd)
	if err != nil {
		return err
	}
	defer svcs.Close()

	created, err := svcs.Rules.ImportRules(cmd.Context(), inputs)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	fmt.Fprintf(out(cmd), "Imported %d rule(s) from %s\n", len(created), args[0])
	return nil
}

func rulesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List approval rules",
		RunE:  runRulesList,
	}
	cmd.Flags().Bool("all", false, "include inactive rules")
	return cmd
}

func runRulesList(cmd *cobra.Command, _ []string) error {
	all, _ := cmd.Flags().GetBool("all")

	svcs, err := initServices(cmd)
	if err != nil {
		return err
	}
	defer svcs.Close()

	rules, err := svcs.Rules.ListRules(cmd.Context(), !all)
	if err != nil {
		return fmt.Errorf("failed to list rules: %w", err)
	}
	if len(rules) == 0 {
		fmt.Fprintln(out(cmd), "No approval rules configured.")
		return nil
	}

	w := tabwriter.NewWriter(out(cmd), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEXPENSE TYPE\tCATEGORY\tMIN AMOUNT\tROLE\tACTIVE")
	for _, r := range rules {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\n",
			r.ID, expenseTypeLabel(r), categoryLabel(r), r.MinAmount.String(), r.RequiredRole, r.IsActive)
	}
	return w.Flush()
}

func rulesMatrixCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "matrix",
		Short: "Show active rules grouped by expense type",
		RunE:  runRulesMatrix,
	}
}

func runRulesMatrix(cmd *cobra.Command, _ []string) error {
	svcs, err := initServices(cmd)
	if err != nil {
		return err
	}
	defer svcs.Close()

	groups, err := svcs.Rules.Matrix(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to load matrix: %w", err)
	}
	if len(groups) == 0 {
		fmt.Fprintln(out(cmd), "No active approval rules.")
		return nil
	}

	w := tabwriter.NewWriter(out(cmd), 0, 0, 2, ' ', 0)
	for i, g := range groups {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, heading(g.ExpenseType))
		for _, r := range g.Rules {
			fmt.Fprintf(w, "  >= %s\t%s\t%s\n", r.MinAmount.String(), categoryLabel(r), r.RequiredRole)
		}
	}
	return w.Flush()
}

func rulesDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <rule-id>",
		Short: "Deactivate an approval rule",
		Long:  "Deactivated rules stop matching new requests. Chains already built keep their steps.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svcs, err := initServices(cmd)
			if err != nil {
				return err
			}
			defer svcs.Close()

			if err := svcs.Rules.DeactivateRule(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "Rule %s deactivated\n", args[0])
			return nil
		},
	}
}

func expenseTypeLabel(r *repository.ApprovalRule) string {
	if r.ExpenseType == nil {
		return repository.Wildcard
	}
	return string(*r.ExpenseType)
}

func categoryLabel(r *repository.ApprovalRule) string {
	if r.Category == nil {
		return repository.Wildcard
	}
	return *r.Category
}
