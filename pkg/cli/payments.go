package cli

import (
	"flag"
	"fmt"
	"net/url"

	"github.com/nimbushost/billing/pkg/payments"
)

func newPaymentsCommand() *Command {
	cmd := &Command{
		Name:        "payments",
		Description: "Inspect and manage tenant payments",
		Subcommands: make(map[string]*Command),
	}

	cmd.Subcommands["list"] = newPaymentsListCommand()
	cmd.Subcommands["get"] = newPaymentsGetCommand()
	cmd.Subcommands["attempts"] = newPaymentsAttemptsCommand()
	cmd.Subcommands["refund"] = newPaymentsRefundCommand()

	return cmd
}

func newPaymentsListCommand() *Command {
	cmd := &Command{
		Name:        "list",
		Description: "List a tenant's payments",
		Flags:       flag.NewFlagSet("payments list", flag.ExitOnError),
		Run:         runPaymentsList,
	}

	cmd.Flags.String("tenant", "", "Tenant ID")
	cmd.Flags.String("api", "", "Billing API URL")

	return cmd
}

func runPaymentsList(args []string) error {
	cmd := newPaymentsListCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	tenant := cmd.Flags.Lookup("tenant").Value.String()
	if tenant == "" {
		return fmt.Errorf("tenant is required")
	}

	client := newAPIClient(cmd.Flags.Lookup("api").Value.String())

	var resp struct {
		Payments []*payments.Payment `json:"payments"`
	}
	if err := client.do("GET", "/api/v1/tenants/"+url.PathEscape(tenant)+"/payments", nil, &resp); err != nil {
		return err
	}

	if len(resp.Payments) == 0 {
		fmt.Println("No payments found")
		return nil
	}
	for _, p := range resp.Payments {
		fmt.Printf("%-38s %-10s %8s %s  invoice=%s gateway=%s\n",
			p.ID, p.Status, p.Amount.StringFixed(2), p.Currency, p.InvoiceID, p.Gateway)
	}
	return nil
}

func newPaymentsGetCommand() *Command {
	cmd := &Command{
		Name:        "get",
		Description: "Show one payment in full",
		Flags:       flag.NewFlagSet("payments get", flag.ExitOnError),
		Run:         runPaymentsGet,
	}

	cmd.Flags.String("tenant", "", "Tenant ID")
	cmd.Flags.String("payment", "", "Payment ID")
	cmd.Flags.String("api", "", "Billing API URL")

	return cmd
}

func runPaymentsGet(args []string) error {
	cmd := newPaymentsGetCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	tenant := cmd.Flags.Lookup("tenant").Value.String()
	paymentID := cmd.Flags.Lookup("payment").Value.String()
	if tenant == "" || paymentID == "" {
		return fmt.Errorf("tenant and payment are required")
	}

	client := newAPIClient(cmd.Flags.Lookup("api").Value.String())

	var payment payments.Payment
	path := "/api/v1/tenants/" + url.PathEscape(tenant) + "/payments/" + url.PathEscape(paymentID)
	if err := client.do("GET", path, nil, &payment); err != nil {
		return err
	}
	return printJSON(payment)
}

func newPaymentsAttemptsCommand() *Command {
	cmd := &Command{
		Name:        "attempts",
		Description: "List the attempt history for a payment",
		Flags:       flag.NewFlagSet("payments attempts", flag.ExitOnError),
		Run:         runPaymentsAttempts,
	}

	cmd.Flags.String("tenant", "", "Tenant ID")
	cmd.Flags.String("payment", "", "Payment ID")
	cmd.Flags.String("api", "", "Billing API URL")

	return cmd
}

func runPaymentsAttempts(args []string) error {
	cmd := newPaymentsAttemptsCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	tenant := cmd.Flags.Lookup("tenant").Value.String()
	paymentID := cmd.Flags.Lookup("payment").Value.String()
	if tenant == "" || paymentID == "" {
		return fmt.Errorf("tenant and payment are required")
	}

	client := newAPIClient(cmd.Flags.Lookup("api").Value.String())

	var resp struct {
		Attempts []*payments.PaymentAttempt `json:"attempts"`
	}
	path := "/api/v1/tenants/" + url.PathEscape(tenant) + "/payments/" + url.PathEscape(paymentID) + "/attempts"
	if err := client.do("GET", path, nil, &resp); err != nil {
		return err
	}

	if len(resp.Attempts) == 0 {
		fmt.Println("No attempts recorded")
		return nil
	}
	for _, a := range resp.Attempts {
		line := fmt.Sprintf("#%d %-10s gateway=%s", a.AttemptNumber, a.Status, a.GatewayName)
		if a.ErrorMessage != "" {
			line += " error=" + a.ErrorMessage
		}
		fmt.Println(line)
	}
	return nil
}

func newPaymentsRefundCommand() *Command {
	cmd := &Command{
		Name:        "refund",
		Description: "Refund a completed payment (full or partial)",
		Flags:       flag.NewFlagSet("payments refund", flag.ExitOnError),
		Run:         runPaymentsRefund,
	}

	cmd.Flags.String("tenant", "", "Tenant ID")
	cmd.Flags.String("payment", "", "Payment ID")
	cmd.Flags.String("amount", "", "Amount to refund (empty for full refund)")
	cmd.Flags.String("reason", "", "Refund reason")
	cmd.Flags.String("api", "", "Billing API URL")

	return cmd
}

func runPaymentsRefund(args []string) error {
	cmd := newPaymentsRefundCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	tenant := cmd.Flags.Lookup("tenant").Value.String()
	paymentID := cmd.Flags.Lookup("payment").Value.String()
	if tenant == "" || paymentID == "" {
		return fmt.Errorf("tenant and payment are required")
	}

	client := newAPIClient(cmd.Flags.Lookup("api").Value.String())

	body := map[string]string{
		"amount": cmd.Flags.Lookup("amount").Value.String(),
		"reason": cmd.Flags.Lookup("reason").Value.String(),
	}

	var refund map[string]interface{}
	path := "/api/v1/tenants/" + url.PathEscape(tenant) + "/payments/" + url.PathEscape(paymentID) + "/refund"
	if err := client.do("POST", path, body, &refund); err != nil {
		return err
	}
	return printJSON(refund)
}
