package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/seastack/bosun/pkg/client"
)

// Commands print human-oriented tables; -o json on the status commands
// emits the decoded response as JSON.

func apiClient(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("api-addr")
	return client.New(addr)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Start the deploy plan",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := apiClient(cmd).Deploy(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("✓ Plan '%s' started (%s)\n", p.Name, p.ID)
		return nil
	},
}

var updateCmd = &cobra.Command{
	Use:   "update SPEC_FILE",
	Short: "Submit a revised spec and start the update plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		p, err := apiClient(cmd).Update(cmd.Context(), raw)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Update accepted, plan '%s' started (%s)\n", p.Name, p.ID)
		return nil
	},
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Inspect and control plans",
}

var planListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List plan runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		plans, err := apiClient(cmd).Plans(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTATE\tGENERATION")
		for _, p := range plans {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", p.ID, p.Name, p.State, p.Generation)
		}
		return w.Flush()
	},
}

var planStatusCmd = &cobra.Command{
	Use:   "status PLAN",
	Short: "Show a plan's phases (by run ID or plan name)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := apiClient(cmd).Plan(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(p)
		}
		fmt.Printf("Plan %s (%s): %s\n", p.Name, p.ID, p.State)
		if p.Error != "" {
			fmt.Printf("  error: %s\n", p.Error)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PHASE\tPOD\tSTRATEGY\tSTATE\tREADY\tMESSAGE")
		for _, ph := range p.Phases {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
				ph.Name, ph.PodGroup, ph.Strategy, ph.State, ph.Ready, ph.Launched, ph.Message)
		}
		return w.Flush()
	},
}

func planActionCmd(action, short string, run func(*client.Client, *cobra.Command, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   action + " PLAN_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := run(apiClient(cmd), cmd, args[0]); err != nil {
				return err
			}
			fmt.Printf("✓ Plan %s: %s requested\n", args[0], action)
			return nil
		},
	}
}

var podCmd = &cobra.Command{
	Use:   "pod",
	Short: "Inspect pod groups",
}

var podListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List pod groups",
	RunE: func(cmd *cobra.Command, args []string) error {
		groups, err := apiClient(cmd).PodGroups(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "POD GROUP\tDESIRED\tACTIVE")
		for _, g := range groups {
			fmt.Fprintf(w, "%s\t%d\t%d\n", g.Name, g.Desired, g.Active)
		}
		return w.Flush()
	},
}

var podStatusCmd = &cobra.Command{
	Use:   "status GROUP",
	Short: "Show a pod group's instances",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := apiClient(cmd).PodGroup(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(g)
		}
		fmt.Printf("Pod group %s: %d/%d active\n", g.Name, g.Active, g.Desired)
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "INSTANCE\tSTATE\tREADINESS\tNODE\tERROR")
		for _, inst := range g.Instances {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				inst.ID, inst.State, inst.Readiness, inst.Node, inst.Error)
		}
		return w.Flush()
	},
}

var instanceCmd = &cobra.Command{
	Use:   "instance",
	Short: "Operate on single instances",
}

var instanceRestartCmd = &cobra.Command{
	Use:   "restart INSTANCE_ID",
	Short: "Replace an instance in place",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient(cmd).RestartInstance(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Instance %s restarting\n", args[0])
		return nil
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent orchestrator events",
	RunE: func(cmd *cobra.Command, args []string) error {
		evts, err := apiClient(cmd).Events(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tTYPE\tDETAIL")
		for _, e := range evts {
			detail := e.Message
			if detail == "" {
				if id, ok := e.Metadata["instance_id"]; ok {
					detail = id
				} else if plan, ok := e.Metadata["plan"]; ok {
					detail = plan
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", e.Timestamp.Format("15:04:05"), e.Type, detail)
		}
		return w.Flush()
	},
}

func init() {
	planCmd.AddCommand(planListCmd)
	planCmd.AddCommand(planStatusCmd)
	planCmd.AddCommand(planActionCmd("pause", "Pause a running plan",
		func(c *client.Client, cmd *cobra.Command, id string) error { return c.PausePlan(cmd.Context(), id) }))
	planCmd.AddCommand(planActionCmd("resume", "Resume a paused plan",
		func(c *client.Client, cmd *cobra.Command, id string) error { return c.ResumePlan(cmd.Context(), id) }))
	planCmd.AddCommand(planActionCmd("cancel", "Cancel a plan",
		func(c *client.Client, cmd *cobra.Command, id string) error { return c.CancelPlan(cmd.Context(), id) }))
	planStatusCmd.Flags().Bool("json", false, "Emit raw JSON")

	podCmd.AddCommand(podListCmd)
	podCmd.AddCommand(podStatusCmd)
	podStatusCmd.Flags().Bool("json", false, "Emit raw JSON")

	instanceCmd.AddCommand(instanceRestartCmd)
}
