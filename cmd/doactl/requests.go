package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-spend-approvals/internal/client"
)

const defaultServer = "localhost:9086"

func requestsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "request",
		Aliases: []string{"requests", "req"},
		Short:   "Submit and decide spend requests on a running service",
		Long: `Talk to the approvals gRPC endpoint. The server address comes from
--server or DOACTL_SERVER; --as sets the acting user identity.`,
	}
	server := os.Getenv("DOACTL_SERVER")
	if server == "" {
		server = defaultServer
	}
	cmd.PersistentFlags().String("server", server, "approvals gRPC address")
	cmd.PersistentFlags().String("as", "", "acting user identity (email)")

	cmd.AddCommand(requestSubmitCmd())
	cmd.AddCommand(requestApproveCmd())
	cmd.AddCommand(requestRejectCmd())
	cmd.AddCommand(requestGetCmd())
	return cmd
}

// withClient dials the server, runs fn and closes the connection.
func withClient(cmd *cobra.Command, fn func(*client.ApprovalsGRPCClient) (map[string]interface{}, error)) error {
	addr, _ := cmd.Flags().GetString("server")
	c, err := client.NewApprovalsGRPCClient(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer func() { _ = c.Close() }()

	resp, err := fn(c)
	if err != nil {
		return err
	}
	return printJSON(cmd, resp)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(out(cmd))
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func requestSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "submit",
		Short:   "Submit a spend request",
		Example: `  doactl request submit --as employee@cwit.lk --title "Laptops" --amount 21000 --category IT --type OPEX`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload := map[string]interface{}{}
			for _, f := range []struct{ flag, field string }{
				{"title", "title"},
				{"amount", "amount"},
				{"currency", "currency"},
				{"category", "category"},
				{"type", "expense_type"},
				{"supplier", "supplier"},
				{"justification", "justification"},
				{"description", "detailed_description"},
			} {
				v, _ := cmd.Flags().GetString(f.flag)
				if v != "" {
					payload[f.field] = v
				}
			}
			budgeted, _ := cmd.Flags().GetBool("budgeted")
			payload["is_budgeted"] = budgeted

			as, _ := cmd.Flags().GetString("as")
			if as != "" {
				payload["submitted_by"] = as
			}

			return withClient(cmd, func(c *client.ApprovalsGRPCClient) (map[string]interface{}, error) {
				return c.Submit(client.WithActor(cmd.Context(), as), payload)
			})
		},
	}
	cmd.Flags().String("title", "", "request title")
	cmd.Flags().String("amount", "", "amount")
	cmd.Flags().String("currency", "USD", "ISO currency code")
	cmd.Flags().String("category", "", "spend category")
	cmd.Flags().String("type", "", "expense type: OPEX or CAPEX")
	cmd.Flags().String("supplier", "", "supplier name")
	cmd.Flags().String("justification", "", "business justification")
	cmd.Flags().String("description", "", "detailed description")
	cmd.Flags().Bool("budgeted", false, "request is within budget")
	return cmd
}

func requestApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <request-id>",
		Short: "Approve the active step of a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			as, _ := cmd.Flags().GetString("as")
			notes, _ := cmd.Flags().GetString("notes")
			return withClient(cmd, func(c *client.ApprovalsGRPCClient) (map[string]interface{}, error) {
				return c.ApproveCurrentStep(client.WithActor(cmd.Context(), as), args[0], as, notes)
			})
		},
	}
	cmd.Flags().String("notes", "", "decision notes")
	return cmd
}

func requestRejectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reject <request-id>",
		Short: "Reject the active step, and with it the request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			as, _ := cmd.Flags().GetString("as")
			reason, _ := cmd.Flags().GetString("reason")
			return withClient(cmd, func(c *client.ApprovalsGRPCClient) (map[string]interface{}, error) {
				return c.RejectCurrentStep(client.WithActor(cmd.Context(), as), args[0], as, reason)
			})
		},
	}
	cmd.Flags().String("reason", "", "rejection reason (required)")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func requestGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <request-id>",
		Short: "Show a request with its approval steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(c *client.ApprovalsGRPCClient) (map[string]interface{}, error) {
				req, err := c.GetRequest(cmd.Context(), args[0])
				if err == nil && req == nil {
					return nil, fmt.Errorf("request %s not found", args[0])
				}
				return req, err
			})
		},
	}
}
