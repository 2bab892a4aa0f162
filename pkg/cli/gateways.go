package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/nimbushost/billing/pkg/gateway"
)

func newGatewaysCommand() *Command {
	cmd := &Command{
		Name:        "gateways",
		Description: "Manage per-tenant gateway configurations",
		Subcommands: make(map[string]*Command),
	}

	cmd.Subcommands["list"] = newGatewaysListCommand()
	cmd.Subcommands["configure"] = newGatewaysConfigureCommand()
	cmd.Subcommands["test"] = newGatewaysTestCommand()

	return cmd
}

func newGatewaysListCommand() *Command {
	cmd := &Command{
		Name:        "list",
		Description: "List a tenant's gateway configurations",
		Flags:       flag.NewFlagSet("gateways list", flag.ExitOnError),
		Run:         runGatewaysList,
	}

	cmd.Flags.String("tenant", "", "Tenant ID")
	cmd.Flags.String("api", "", "Billing API URL")

	return cmd
}

func runGatewaysList(args []string) error {
	cmd := newGatewaysListCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	tenant := cmd.Flags.Lookup("tenant").Value.String()
	if tenant == "" {
		return fmt.Errorf("tenant is required")
	}

	client := newAPIClient(cmd.Flags.Lookup("api").Value.String())

	var resp struct {
		Gateways []*gateway.Configuration `json:"gateways"`
	}
	if err := client.do("GET", "/api/v1/tenants/"+url.PathEscape(tenant)+"/gateways", nil, &resp); err != nil {
		return err
	}

	if len(resp.Gateways) == 0 {
		fmt.Println("No gateways configured")
		return nil
	}
	for _, cfg := range resp.Gateways {
		status := "inactive"
		if cfg.IsActive {
			status = "active"
		}
		line := fmt.Sprintf("%-12s %-8s priority=%d", cfg.GatewayName, status, cfg.Priority)
		if cfg.IsDefault {
			line += " (default)"
		}
		if len(cfg.SupportedCurrencies) > 0 {
			line += " currencies=" + strings.Join(cfg.SupportedCurrencies, ",")
		}
		fmt.Println(line)
	}
	return nil
}

func newGatewaysConfigureCommand() *Command {
	cmd := &Command{
		Name:        "configure",
		Description: "Create or update a tenant's gateway configuration",
		Flags:       flag.NewFlagSet("gateways configure", flag.ExitOnError),
		Run:         runGatewaysConfigure,
	}

	cmd.Flags.String("tenant", "", "Tenant ID")
	cmd.Flags.String("gateway", "", "Gateway name (e.g. stripe)")
	cmd.Flags.String("credentials-file", "", "Path to a JSON credentials file")
	cmd.Flags.String("display-name", "", "Display name")
	cmd.Flags.Bool("active", true, "Whether the gateway accepts new payments")
	cmd.Flags.Bool("default", false, "Whether the gateway is the tenant default")
	cmd.Flags.Int("priority", 0, "Selection priority (higher wins)")
	cmd.Flags.String("currencies", "", "Comma-separated currency allowlist")
	cmd.Flags.String("countries", "", "Comma-separated country allowlist")
	cmd.Flags.String("api", "", "Billing API URL")

	return cmd
}

func runGatewaysConfigure(args []string) error {
	cmd := newGatewaysConfigureCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	tenant := cmd.Flags.Lookup("tenant").Value.String()
	gatewayName := cmd.Flags.Lookup("gateway").Value.String()
	credsFile := cmd.Flags.Lookup("credentials-file").Value.String()
	if tenant == "" || gatewayName == "" {
		return fmt.Errorf("tenant and gateway are required")
	}
	if credsFile == "" {
		return fmt.Errorf("credentials-file is required")
	}

	// Credentials come from a file so secrets never land on argv.
	creds, err := loadCredentialsFile(credsFile)
	if err != nil {
		return err
	}

	priority, _ := strconv.Atoi(cmd.Flags.Lookup("priority").Value.String())
	body := map[string]interface{}{
		"display_name":         cmd.Flags.Lookup("display-name").Value.String(),
		"is_active":            cmd.Flags.Lookup("active").Value.String() == "true",
		"is_default":           cmd.Flags.Lookup("default").Value.String() == "true",
		"priority":             priority,
		"supported_currencies": splitCSV(cmd.Flags.Lookup("currencies").Value.String()),
		"supported_countries":  splitCSV(cmd.Flags.Lookup("countries").Value.String()),
		"credentials":          creds,
	}

	client := newAPIClient(cmd.Flags.Lookup("api").Value.String())
	path := "/api/v1/tenants/" + url.PathEscape(tenant) + "/gateways/" + url.PathEscape(gatewayName)

	var resp gateway.Configuration
	if err := client.do("PUT", path, body, &resp); err != nil {
		return err
	}

	fmt.Printf("Configured %s for tenant %s (id %d)\n", resp.GatewayName, resp.TenantID, resp.ID)
	return nil
}

func newGatewaysTestCommand() *Command {
	cmd := &Command{
		Name:        "test",
		Description: "Test a gateway configuration against the provider",
		Flags:       flag.NewFlagSet("gateways test", flag.ExitOnError),
		Run:         runGatewaysTest,
	}

	cmd.Flags.String("tenant", "", "Tenant ID")
	cmd.Flags.String("gateway", "", "Gateway name (e.g. stripe)")
	cmd.Flags.String("credentials-file", "", "Path to a JSON credentials file")
	cmd.Flags.String("api", "", "Billing API URL")

	return cmd
}

func runGatewaysTest(args []string) error {
	cmd := newGatewaysTestCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	tenant := cmd.Flags.Lookup("tenant").Value.String()
	gatewayName := cmd.Flags.Lookup("gateway").Value.String()
	credsFile := cmd.Flags.Lookup("credentials-file").Value.String()
	if tenant == "" || gatewayName == "" || credsFile == "" {
		return fmt.Errorf("tenant, gateway and credentials-file are required")
	}

	creds, err := loadCredentialsFile(credsFile)
	if err != nil {
		return err
	}

	client := newAPIClient(cmd.Flags.Lookup("api").Value.String())
	path := "/api/v1/tenants/" + url.PathEscape(tenant) + "/gateways/" + url.PathEscape(gatewayName) + "/test"

	var result gateway.HealthResult
	if err := client.do("POST", path, map[string]interface{}{
		"is_active":   true,
		"credentials": creds,
	}, &result); err != nil {
		return err
	}

	if result.Healthy {
		fmt.Printf("Gateway %s is healthy (%s)\n", gatewayName, result.Latency)
		return nil
	}
	return fmt.Errorf("gateway %s is unhealthy: %s", gatewayName, result.Status)
}

func loadCredentialsFile(path string) (*gateway.Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	var creds gateway.Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	return &creds, nil
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
