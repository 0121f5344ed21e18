// ABOUTME: Entry point for the oppflow lifecycle engine
// ABOUTME: Routes to the MCP server or CLI commands based on arguments
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/harperreed/oppflow/cli"
	"github.com/harperreed/oppflow/config"
	"github.com/harperreed/oppflow/db"
)

const version = "0.1.0"

func main() {
	showVersion := flag.Bool("version", false, "Show version and exit")
	dbPath := flag.String("db-path", "", "Database path (default: ~/.local/share/oppflow/lifecycle.db)")
	initOnly := flag.Bool("init", false, "Initialize database and exit")

	_ = flag.CommandLine.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("oppflow version %s\n", version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(0)
	}

	cfg := config.Load()
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	database, err := db.OpenDatabase(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	if *initOnly {
		log.Printf("Database initialized: %s", cfg.DBPath)
		os.Exit(0)
	}

	command := args[0]
	commandArgs := args[1:]

	switch command {
	case "mcp":
		if err := cli.MCPCommand(database); err != nil {
			log.Fatalf("MCP server failed: %v", err)
		}

	case "state":
		if len(commandArgs) == 0 {
			fmt.Println("Error: state requires a subcommand")
			printUsage()
			os.Exit(1)
		}

		sub := commandArgs[0]
		subArgs := commandArgs[1:]

		switch sub {
		case "init":
			if err := cli.InitStateCommand(database, subArgs); err != nil {
				log.Fatalf("Error: %v", err)
			}
		case "current":
			if err := cli.CurrentStateCommand(database, subArgs); err != nil {
				log.Fatalf("Error: %v", err)
			}
		case "history":
			if err := cli.HistoryCommand(database, subArgs); err != nil {
				log.Fatalf("Error: %v", err)
			}
		case "transition":
			if err := cli.TransitionCommand(database, subArgs); err != nil {
				log.Fatalf("Error: %v", err)
			}
		default:
			fmt.Printf("Unknown state command: %s\n\n", sub)
			printUsage()
			os.Exit(1)
		}

	case "rules":
		if len(commandArgs) == 0 {
			fmt.Println("Error: rules requires a subcommand")
			printUsage()
			os.Exit(1)
		}

		sub := commandArgs[0]
		subArgs := commandArgs[1:]

		switch sub {
		case "list":
			if err := cli.ListRulesCommand(database, subArgs); err != nil {
				log.Fatalf("Error: %v", err)
			}
		case "add":
			if err := cli.AddRuleCommand(database, subArgs); err != nil {
				log.Fatalf("Error: %v", err)
			}
		case "enable":
			if err := cli.SetRuleActiveCommand(database, subArgs, true); err != nil {
				log.Fatalf("Error: %v", err)
			}
		case "disable":
			if err := cli.SetRuleActiveCommand(database, subArgs, false); err != nil {
				log.Fatalf("Error: %v", err)
			}
		case "seed":
			if err := cli.SeedRulesCommand(database, subArgs); err != nil {
				log.Fatalf("Error: %v", err)
			}
		default:
			fmt.Printf("Unknown rules command: %s\n\n", sub)
			printUsage()
			os.Exit(1)
		}

	case "engine":
		if len(commandArgs) == 0 {
			fmt.Println("Error: engine requires a subcommand")
			printUsage()
			os.Exit(1)
		}

		sub := commandArgs[0]
		subArgs := commandArgs[1:]

		switch sub {
		case "run":
			if err := cli.RunCommand(database, subArgs); err != nil {
				log.Fatalf("Error: %v", err)
			}
		case "analytics":
			if err := cli.AnalyticsCommand(database, subArgs); err != nil {
				log.Fatalf("Error: %v", err)
			}
		default:
			fmt.Printf("Unknown engine command: %s\n\n", sub)
			printUsage()
			os.Exit(1)
		}

	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`oppflow v%s - Opportunity lifecycle state engine

USAGE:
  oppflow [global flags] <command> [subcommand] [flags]

GLOBAL FLAGS:
  --version              Show version and exit
  --db-path <path>       Database path (default: ~/.local/share/oppflow/lifecycle.db,
                         or LIFECYCLE_DB_PATH)
  --init                 Initialize database and exit

COMMANDS:
  mcp                    Start MCP server (for Claude Desktop integration)
  state                  Opportunity state commands
  rules                  Transition rule commands
  engine                 Auto-transition engine commands

STATE COMMANDS:
  oppflow state init        Open the initial state for an opportunity
    --opportunity <id>        Opportunity ID (required)
    --state <state>           Initial state (default: discovered)
    --reason <text>           Audit reason

  oppflow state current     Show an opportunity's current state
    --opportunity <id>        Opportunity ID (required)

  oppflow state history     Show an opportunity's lifecycle history
    --opportunity <id>        Opportunity ID (required)
    --limit <n>               Page size (default: full history)
    --offset <n>              Page offset

  oppflow state transition  Manually transition an opportunity
    --opportunity <id>        Opportunity ID (required)
    --to <state>              Target state (required)
    --reason <text>           Audit reason (required)
    --by <actor>              Actor performing the transition
    --metadata <json>         Metadata for the new interval

RULES COMMANDS:
  oppflow rules list        List transition rules
    --active                  Only active rules
    --from <state>            Filter by from_state

  oppflow rules add         Add a transition rule
    --name <name>             Rule name (required)
    --from <state>            From state (required)
    --to <state>              To state (required)
    --type <type>             Condition type (required)
    --config <json>           Condition config JSON (required)
    --priority <n>            Evaluation priority

  oppflow rules enable <name>   Enable a rule
  oppflow rules disable <name>  Disable a rule
  oppflow rules seed            Install the default pipeline rules

ENGINE COMMANDS:
  oppflow engine run        Run one auto-transition batch
    --dry-run                 Report without mutating anything
    --rule <name>             Run one named rule

  oppflow engine analytics  Show time-in-state aggregates

EXAMPLES:
  # Track a new opportunity
  oppflow state init --opportunity acme-renewal --state discovered

  # Record a manual qualification
  oppflow state transition --opportunity acme-renewal --to qualified --reason "fit confirmed"

  # See what the engine would do, then do it
  oppflow engine run --dry-run
  oppflow engine run

`, version)
}
