package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/compdesk/survey-intake/internal/audit"
	"github.com/compdesk/survey-intake/internal/checkpoint"
	"github.com/compdesk/survey-intake/internal/columns"
	"github.com/compdesk/survey-intake/internal/config"
	"github.com/compdesk/survey-intake/internal/debug"
	"github.com/compdesk/survey-intake/internal/fileparse"
	"github.com/compdesk/survey-intake/internal/matcher"
	"github.com/compdesk/survey-intake/internal/normalize"
	"github.com/compdesk/survey-intake/internal/report"
	"github.com/compdesk/survey-intake/internal/store"
	"github.com/compdesk/survey-intake/internal/upload"
	"github.com/compdesk/survey-intake/internal/validation"
)

var (
	cfg    config.Config
	st     store.Store
	logger *zap.Logger
)

func main() {
	config.LoadEnv()
	cfg = config.Load()

	var err error
	logger, err = newLogger(cfg.Debug)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()
	debug.SetLogger(logger)

	st, err = store.Open(cfg.Store)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	rootCmd := &cobra.Command{
		Use:   "intake",
		Short: "Compensation survey intake toolkit",
		Long:  `Validate, deduplicate and import compensation survey files into the stored corpus`,
	}

	rootCmd.AddCommand(createValidateCmd())
	rootCmd.AddCommand(createDuplicatesCmd())
	rootCmd.AddCommand(createImportCmd())
	rootCmd.AddCommand(createResumeCmd())
	rootCmd.AddCommand(createCheckpointsCmd())
	rootCmd.AddCommand(createSurveysCmd())
	rootCmd.AddCommand(createPingCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func newLogger(debugMode bool) (*zap.Logger, error) {
	if debugMode {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newMatcherService() *matcher.Service {
	return matcher.NewService(st, matcher.Options{
		CacheTTL: cfg.Matcher.CacheTTL,
		Thresholds: matcher.Thresholds{
			SameSource:  cfg.Matcher.SameSourceThreshold,
			CrossSource: cfg.Matcher.CrossSourceThreshold,
		},
		Logger: logger,
		Debug:  cfg.Debug,
	})
}

func newUploadService() *upload.Service {
	return upload.NewService(upload.Options{
		Store:       st,
		Matcher:     newMatcherService(),
		Checkpoints: checkpoint.NewWithRetention(st, cfg.Upload.Retention),
		Audit:       audit.NewTracker(st, logger),
		BatchSize:   cfg.Upload.BatchSize,
		Logger:      logger,
		Debug:       cfg.Debug,
	})
}

// mustParse reads and parses a survey file, exiting on failure.
func mustParse(filename string) fileparse.Table {
	data, err := os.ReadFile(filename)
	if err != nil {
		log.Fatalf("Failed to read %s: %v", filename, err)
	}
	table, err := fileparse.Parse(filename, data)
	if err != nil {
		log.Fatalf("Failed to parse %s: %v", filename, err)
	}
	return table
}

func createValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [filename]",
		Short: "Validate a survey file without importing it",
		Long:  `Run the three-tier validation and print the grouped issue report`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			table := mustParse(args[0])

			engine := validation.NewEngine(cfg.Debug)
			result := engine.ValidateAll(table.Headers, table.Rows)
			grouped := report.GroupRelatedIssues(result.AllIssues())
			mapping := columns.MapHeaders(table.Headers)

			fmt.Printf("\n=== Validation Report: %s ===\n", filepath.Base(args[0]))
			fmt.Printf("Format: %s\n", mapping.Format)
			fmt.Printf("Rows: %d\n", len(table.Rows))
			fmt.Printf("Critical: %d  Warnings: %d  Info: %d\n",
				result.ErrorCount(), result.WarningCount(), result.InfoCount())

			if len(mapping.Unknown) > 0 {
				fmt.Printf("Unrecognized headers: %s\n", strings.Join(mapping.Unknown, ", "))
			}
			for role, extras := range mapping.Ambiguous {
				fmt.Printf("Ambiguous %s columns (using first match): %s\n", role, strings.Join(extras, ", "))
			}

			printGroups(grouped)

			if !result.CanProceed() {
				fmt.Println("\nResult: BLOCKED - fix the critical issues and try again")
				os.Exit(1)
			}
			fmt.Println("\nResult: OK")
		},
	}
}

func createDuplicatesCmd() *cobra.Command {
	var source, category, providerType, label string
	var year int

	cmd := &cobra.Command{
		Use:   "duplicates [filename]",
		Short: "Check a survey file against the stored corpus",
		Long:  `Run the staged duplicate check (exact key, content hash, similarity) without importing`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			data, err := os.ReadFile(args[0])
			if err != nil {
				log.Fatalf("Failed to read %s: %v", args[0], err)
			}

			result := newMatcherService().CheckForDuplicates(context.Background(), matcher.CheckInput{
				Metadata: normalize.Metadata{
					Source:       source,
					DataCategory: category,
					ProviderType: providerType,
					Year:         year,
					SurveyLabel:  label,
				},
				FileBytes: data,
			})

			fmt.Printf("\n=== Duplicate Check: %s ===\n", filepath.Base(args[0]))
			fmt.Printf("Composite key: %s\n", result.CompositeKey)
			printCheckResult(result)

			if result.HasDuplicate {
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Survey source (e.g. MGMA)")
	cmd.Flags().StringVar(&category, "category", "", "Data category (e.g. COMPENSATION)")
	cmd.Flags().StringVar(&providerType, "provider-type", "", "Provider type (e.g. Physician)")
	cmd.Flags().IntVar(&year, "year", 0, "Survey year")
	cmd.Flags().StringVar(&label, "label", "", "Optional survey label")

	return cmd
}

func createImportCmd() *cobra.Command {
	var source, category, providerType, label, name, actor string
	var year int
	var force bool

	cmd := &cobra.Command{
		Use:   "import [filename]",
		Short: "Validate, deduplicate and import a survey file",
		Long:  `Run the full intake flow: validation, duplicate check, then checkpointed batch import`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			data, err := os.ReadFile(args[0])
			if err != nil {
				log.Fatalf("Failed to read %s: %v", args[0], err)
			}

			outcome, err := newUploadService().Process(context.Background(), upload.Request{
				FileName:  filepath.Base(args[0]),
				FileBytes: data,
				Name:      name,
				Actor:     actor,
				Force:     force,
				Metadata: normalize.Metadata{
					Source:       source,
					DataCategory: category,
					ProviderType: providerType,
					Year:         year,
					SurveyLabel:  label,
				},
			})
			if err != nil {
				log.Fatalf("Import failed: %v", err)
			}

			switch outcome.Status {
			case upload.StatusRejected:
				fmt.Printf("\n=== Import Rejected: validation ===\n")
				printGroups(outcome.Grouped)
				os.Exit(1)
			case upload.StatusBlocked:
				fmt.Printf("\n=== Import Blocked: duplicate ===\n")
				printCheckResult(*outcome.Duplicates)
				fmt.Println("\nRe-run with --force to keep both surveys")
				os.Exit(1)
			default:
				fmt.Printf("\n=== Import Complete ===\n")
				fmt.Printf("Survey ID: %s\n", outcome.SurveyID)
				fmt.Printf("Upload ID: %s\n", outcome.UploadID)
				fmt.Printf("Rows: %d\n", outcome.RowCount)
				if outcome.Validation != nil && outcome.Validation.WarningCount() > 0 {
					fmt.Printf("Warnings: %d (run 'intake validate' for details)\n", outcome.Validation.WarningCount())
				}
			}
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Survey source (e.g. MGMA)")
	cmd.Flags().StringVar(&category, "category", "", "Data category (e.g. COMPENSATION)")
	cmd.Flags().StringVar(&providerType, "provider-type", "", "Provider type (e.g. Physician)")
	cmd.Flags().IntVar(&year, "year", 0, "Survey year")
	cmd.Flags().StringVar(&label, "label", "", "Optional survey label")
	cmd.Flags().StringVar(&name, "name", "", "Display name (defaults to the file name)")
	cmd.Flags().StringVar(&actor, "actor", "", "Actor recorded in the audit trail")
	cmd.Flags().BoolVar(&force, "force", false, "Import despite duplicate matches")

	return cmd
}

func createResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume [upload-id] [filename]",
		Short: "Resume an interrupted import from its checkpoint",
		Long:  `Re-supply the original file and continue persisting rows from the last completed batch`,
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			table := mustParse(args[1])

			outcome, err := newUploadService().Resume(context.Background(), args[0], table)
			if err != nil {
				log.Fatalf("Resume failed: %v", err)
			}

			fmt.Printf("\n=== Resume Complete ===\n")
			fmt.Printf("Survey ID: %s\n", outcome.SurveyID)
			fmt.Printf("Rows: %d\n", outcome.RowCount)
		},
	}
}

func createCheckpointsCmd() *cobra.Command {
	checkpointsCmd := &cobra.Command{
		Use:   "checkpoints",
		Short: "Inspect upload checkpoints",
	}

	var resumableOnly bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List upload checkpoints",
		Run: func(cmd *cobra.Command, args []string) {
			cps := checkpoint.NewWithRetention(st, cfg.Upload.Retention)

			var (
				list []checkpoint.Checkpoint
				err  error
			)
			if resumableOnly {
				list, err = cps.Resumable(context.Background())
			} else {
				list, err = cps.List(context.Background())
			}
			if err != nil {
				log.Fatalf("Failed to list checkpoints: %v", err)
			}

			if len(list) == 0 {
				fmt.Println("No checkpoints")
				return
			}

			fmt.Println("Upload ID                            | State       | Rows          | File")
			fmt.Println("-------------------------------------|-------------|---------------|-----")
			for _, cp := range list {
				fmt.Printf("%-36s | %-11s | %6d/%-6d | %s\n",
					cp.UploadID, cp.State, cp.RowsProcessed, cp.TotalRows, cp.FileName)
			}
		},
	}
	listCmd.Flags().BoolVar(&resumableOnly, "resumable", false, "Show only resumable uploads")

	deleteCmd := &cobra.Command{
		Use:   "delete [upload-id]",
		Short: "Delete an upload checkpoint",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cps := checkpoint.NewWithRetention(st, cfg.Upload.Retention)
			if err := cps.Delete(context.Background(), args[0]); err != nil {
				log.Fatalf("Failed to delete checkpoint: %v", err)
			}
			fmt.Printf("Checkpoint %s deleted\n", args[0])
		},
	}

	checkpointsCmd.AddCommand(listCmd)
	checkpointsCmd.AddCommand(deleteCmd)
	return checkpointsCmd
}

func createSurveysCmd() *cobra.Command {
	surveysCmd := &cobra.Command{
		Use:   "surveys",
		Short: "Inspect the stored survey corpus",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored surveys",
		Run: func(cmd *cobra.Command, args []string) {
			surveys, err := st.ListSurveys(context.Background())
			if err != nil {
				log.Fatalf("Failed to list surveys: %v", err)
			}

			if len(surveys) == 0 {
				fmt.Println("No surveys stored")
				return
			}

			fmt.Println("ID                                   | Source          | Year | Rows   | Name")
			fmt.Println("-------------------------------------|-----------------|------|--------|-----")
			for _, s := range surveys {
				fmt.Printf("%-36s | %-15s | %4d | %6d | %s\n",
					s.ID, s.Source, s.Year, s.RowCount, s.Name)
			}
		},
	}

	var actor string
	deleteCmd := &cobra.Command{
		Use:   "delete [survey-id]",
		Short: "Delete a stored survey and its rows",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := newUploadService().Delete(context.Background(), args[0], actor); err != nil {
				log.Fatalf("Failed to delete survey: %v", err)
			}
			fmt.Printf("Survey %s deleted\n", args[0])
		},
	}
	deleteCmd.Flags().StringVar(&actor, "actor", "", "Actor recorded in the audit trail")

	surveysCmd.AddCommand(listCmd)
	surveysCmd.AddCommand(deleteCmd)
	return surveysCmd
}

func createPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Test store connectivity",
		Run: func(cmd *cobra.Command, args []string) {
			surveys, err := st.ListSurveys(context.Background())
			if err != nil {
				log.Fatalf("Store connection failed: %v", err)
			}
			fmt.Println("Store connection successful!")
			fmt.Printf("Surveys stored: %d\n", len(surveys))

			cps := checkpoint.NewWithRetention(st, cfg.Upload.Retention)
			list, err := cps.List(context.Background())
			if err != nil {
				log.Printf("Error listing checkpoints: %v", err)
			} else {
				fmt.Printf("Upload checkpoints: %d\n", len(list))
			}
		},
	}
}

// printGroups renders the grouped issue report the way the web frontend
// shows it: primary message, guidance, affected rows and columns.
func printGroups(groups []report.GroupedIssue) {
	if len(groups) == 0 {
		fmt.Println("\nNo issues found")
		return
	}
	for _, g := range groups {
		fmt.Printf("\n[%s] %s\n", strings.ToUpper(string(g.Severity)), g.Primary)
		fmt.Printf("  %s\n", g.Guidance)
		if len(g.AffectedRows) > 0 {
			fmt.Printf("  Rows: %s\n", formatRowList(g.AffectedRows))
		}
		if len(g.AffectedColumns) > 0 {
			fmt.Printf("  Columns: %s\n", strings.Join(g.AffectedColumns, ", "))
		}
	}
}

// formatRowList prints at most ten row numbers before eliding the rest.
func formatRowList(rows []int) string {
	const maxShown = 10
	parts := make([]string, 0, maxShown+1)
	for i, row := range rows {
		if i == maxShown {
			parts = append(parts, fmt.Sprintf("and %d more", len(rows)-maxShown))
			break
		}
		parts = append(parts, fmt.Sprintf("%d", row))
	}
	return strings.Join(parts, ", ")
}

func printCheckResult(result matcher.CheckResult) {
	if result.Error != "" {
		fmt.Printf("Warning: check degraded: %s\n", result.Error)
	}

	switch result.MatchType {
	case matcher.MatchExact:
		s := result.ExactMatch
		fmt.Printf("EXACT duplicate of %q (%s %d, uploaded %s)\n",
			s.Name, s.Metadata.Source, s.Metadata.Year, s.UploadedAt.Format("2006-01-02"))
	case matcher.MatchContent:
		s := result.ContentMatch
		fmt.Printf("IDENTICAL CONTENT to %q (%s %d, uploaded %s)\n",
			s.Name, s.Metadata.Source, s.Metadata.Year, s.UploadedAt.Format("2006-01-02"))
	case matcher.MatchSimilar:
		fmt.Printf("%d similar survey(s):\n", len(result.SimilarSurveys))
		for _, sim := range result.SimilarSurveys {
			fmt.Printf("  %3.0f%%  %q (%s %d)\n",
				sim.Similarity*100, sim.Survey.Name, sim.Survey.Metadata.Source, sim.Survey.Metadata.Year)
		}
	default:
		fmt.Println("No duplicates found")
	}
}
