// Package main provides a CLI tool for managing filewarden scoring rules
// and bootstrap data.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"filewarden/internal/config"
	"filewarden/internal/model"
	"filewarden/internal/rules"
	"filewarden/internal/store"

	"golang.org/x/crypto/bcrypt"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "list":
		runListCmd(os.Args[2:])
	case "add":
		runAddCmd(os.Args[2:])
	case "seed":
		runSeedCmd(os.Args[2:])
	case "-version", "--version", "-v":
		fmt.Printf("filewarden-rules %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown subcommand: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: filewarden-rules <command> [flags]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  list   List scoring rules\n")
	fmt.Fprintf(os.Stderr, "  add    Add one scoring rule\n")
	fmt.Fprintf(os.Stderr, "  seed   Create the admin user and a starter rule set\n\n")
	fmt.Fprintf(os.Stderr, "Flags:\n")
	fmt.Fprintf(os.Stderr, "  -version  Show version and exit\n")
}

// openStore opens the database the service uses, honoring the same
// config file and environment overrides.
func openStore() *store.Store {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load config: %v\n", err)
		os.Exit(1)
	}
	st, err := store.Open(cfg.Storage.SQLitePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open store: %v\n", err)
		os.Exit(1)
	}
	return st
}

func runListCmd(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	fs.Parse(args)

	st := openStore()
	defer st.Close()

	ruleSet, err := st.ListRules(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(ruleSet) == 0 {
		fmt.Println("No rules configured. Run 'filewarden-rules seed' to install the starter set.")
		return
	}

	for _, rule := range ruleSet {
		adaptive := " "
		if rule.AdaptiveFlag {
			adaptive = "A"
		}
		fmt.Printf("%-4d  %-8s  [%s]  %-40s  %s\n",
			rule.ID, rule.SeverityLevel, adaptive, rule.Name, rule.ActionType)
	}
}

func runAddCmd(args []string) {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	name := fs.String("name", "", "Rule name (required)")
	description := fs.String("description", "", "Rule description")
	severity := fs.String("severity", "Medium", "Severity level: Low, Medium, High or Critical")
	action := fs.String("action", "Notify admin", "Action to prepare when the rule fires")
	adaptive := fs.Bool("adaptive", false, "Allow feedback to adjust this rule")
	fs.Parse(args)

	if *name == "" {
		fmt.Fprintln(os.Stderr, "Error: -name is required")
		os.Exit(1)
	}
	sev := rules.Severity(*severity)
	if !sev.Valid() {
		fmt.Fprintf(os.Stderr, "Error: invalid severity %q\n", *severity)
		os.Exit(1)
	}

	st := openStore()
	defer st.Close()

	rule := &rules.Rule{
		Name:          *name,
		Description:   *description,
		SeverityLevel: sev,
		ActionType:    *action,
		AdaptiveFlag:  *adaptive,
		LastUpdated:   time.Now().UTC(),
	}
	if err := st.CreateRule(context.Background(), rule); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Created rule %d: %s\n", rule.ID, rule.Name)
}

// starterRules is the default rule set installed by seed. All four
// severity tiers are represented so feedback adaptation has room to
// move in both directions.
func starterRules() []rules.Rule {
	return []rules.Rule{
		{
			Name:          "Mass file deletion",
			Description:   "Deletion events in monitored folders",
			SeverityLevel: rules.SeverityCritical,
			ActionType:    "Block further deletions and notify admin",
			AdaptiveFlag:  true,
		},
		{
			Name:          "Sensitive file modification",
			Description:   "Modification of files in watched folders",
			SeverityLevel: rules.SeverityHigh,
			ActionType:    "Notify admin",
			AdaptiveFlag:  true,
		},
		{
			Name:          "Unexpected file creation",
			Description:   "New files appearing in monitored folders",
			SeverityLevel: rules.SeverityMedium,
			ActionType:    "Record for review",
			AdaptiveFlag:  true,
		},
		{
			Name:          "Routine activity",
			Description:   "Baseline activity outside sensitive paths",
			SeverityLevel: rules.SeverityLow,
			ActionType:    "Log only",
			AdaptiveFlag:  false,
		},
	}
}

func runSeedCmd(args []string) {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	username := fs.String("user", "admin", "Admin username")
	skipRules := fs.Bool("skip-rules", false, "Do not install the starter rule set")
	fs.Parse(args)

	password := os.Getenv("FILEWARDEN_ADMIN_PASSWORD")
	if password == "" {
		fmt.Fprintln(os.Stderr, "Error: FILEWARDEN_ADMIN_PASSWORD must be set")
		os.Exit(1)
	}

	st := openStore()
	defer st.Close()

	ctx := context.Background()

	if _, err := st.GetUserByUsername(ctx, *username); err == nil {
		fmt.Printf("User %q already exists.\n", *username)
	} else {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to hash password: %v\n", err)
			os.Exit(1)
		}
		user := &model.User{
			Username:     *username,
			PasswordHash: string(hash),
			Role:         model.RoleAdmin,
		}
		if err := st.CreateUser(ctx, user); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to create user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Admin user %q created.\n", *username)
	}

	if *skipRules {
		return
	}

	existing, err := st.ListRules(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(existing) > 0 {
		fmt.Printf("Rule set already present (%d rules), skipping starter rules.\n", len(existing))
		return
	}

	for _, rule := range starterRules() {
		rule.LastUpdated = time.Now().UTC()
		if err := st.CreateRule(ctx, &rule); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to create rule %q: %v\n", rule.Name, err)
			os.Exit(1)
		}
		fmt.Printf("Installed rule: %s (%s)\n", rule.Name, rule.SeverityLevel)
	}
}
