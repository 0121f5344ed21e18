// ABOUTME: Rule CLI commands
// ABOUTME: Administrative commands for the transition rule registry
package cli

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/harperreed/oppflow/db"
	"github.com/harperreed/oppflow/models"
)

// ListRulesCommand lists every transition rule in evaluation order.
func ListRulesCommand(database *sql.DB, args []string) error {
	fs := flag.NewFlagSet("rules list", flag.ExitOnError)
	activeOnly := fs.Bool("active", false, "Only show active rules")
	fromState := fs.String("from", "", "Filter by from_state")
	_ = fs.Parse(args)

	registry := db.NewRuleRegistry(database)

	var rules []models.TransitionRule
	var err error
	if *activeOnly || *fromState != "" {
		rules, err = registry.GetActiveRules(context.Background(), *fromState)
	} else {
		rules, err = registry.ListRules(context.Background())
	}
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}

	if len(rules) == 0 {
		fmt.Println("No rules defined. Run 'oppflow rules seed' to install the defaults.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RULE\tFROM\tTO\tCONDITION\tPRIORITY\tACTIVE")
	for _, rule := range rules {
		config, _ := models.MarshalConditionConfig(rule.Condition)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s %s\t%d\t%t\n",
			rule.RuleName, rule.FromState, rule.ToState,
			rule.Condition.Type(), config, rule.Priority, rule.Active)
	}
	return w.Flush()
}

// AddRuleCommand creates a new transition rule.
func AddRuleCommand(database *sql.DB, args []string) error {
	fs := flag.NewFlagSet("rules add", flag.ExitOnError)
	name := fs.String("name", "", "Rule name (required)")
	from := fs.String("from", "", "From state (required)")
	to := fs.String("to", "", "To state (required)")
	conditionType := fs.String("type", "", "Condition type: time_based, activity_based, score_based, event_based (required)")
	config := fs.String("config", "", "Condition config JSON (required)")
	priority := fs.Int("priority", 0, "Evaluation priority (higher first)")
	inactive := fs.Bool("inactive", false, "Create the rule inactive")
	_ = fs.Parse(args)

	if *name == "" || *from == "" || *to == "" || *conditionType == "" || *config == "" {
		return fmt.Errorf("--name, --from, --to, --type, and --config are required")
	}

	condition, err := models.ParseCondition(*conditionType, []byte(*config))
	if err != nil {
		return err
	}

	rule := &models.TransitionRule{
		RuleName:  *name,
		FromState: *from,
		ToState:   *to,
		Condition: condition,
		Active:    !*inactive,
		Priority:  *priority,
	}

	registry := db.NewRuleRegistry(database)
	if err := registry.CreateRule(context.Background(), rule); err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}

	fmt.Printf("✓ Rule created: %s (%s → %s, %s)\n", rule.RuleName, rule.FromState, rule.ToState, rule.Condition.Type())
	return nil
}

// SetRuleActiveCommand enables or disables a rule by name.
func SetRuleActiveCommand(database *sql.DB, args []string, active bool) error {
	if len(args) == 0 {
		return fmt.Errorf("rule name is required")
	}

	registry := db.NewRuleRegistry(database)
	if err := registry.SetRuleActive(context.Background(), args[0], active); err != nil {
		return err
	}

	verb := "disabled"
	if active {
		verb = "enabled"
	}
	fmt.Printf("✓ Rule %s %s\n", args[0], verb)
	return nil
}

// SeedRulesCommand installs the default pipeline rules when none exist.
func SeedRulesCommand(database *sql.DB, _ []string) error {
	registry := db.NewRuleRegistry(database)
	if err := registry.SeedDefaultRules(context.Background()); err != nil {
		return fmt.Errorf("failed to seed rules: %w", err)
	}

	fmt.Println("✓ Default rules installed")
	return nil
}
