package main

import (
	"bufio"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkrv/messengerq/internal/store"
)

var (
	uidsProfileID  uint64
	uidsListStatus string
	uidsListLimit  int
	uidsListOffset int
	uidsExportOut  string
)

var uidsCmd = &cobra.Command{
	Use:   "uids",
	Short: "Recipient list commands",
}

var uidsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import recipient UIDs or profile links from a file",
	Long:  `Import recipients from a text file, one UID or facebook.com profile link per line. Use - to read from stdin.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runUIDsImport,
}

var uidsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recipients",
	RunE:  runUIDsList,
}

var uidsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show recipient counts by status",
	RunE:  runUIDsStats,
}

var uidsRetryCmd = &cobra.Command{
	Use:   "retry <recipient_id>",
	Short: "Reset a failed recipient for another attempt",
	Args:  cobra.ExactArgs(1),
	RunE:  runUIDsRetry,
}

var uidsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export recipients as CSV",
	RunE:  runUIDsExport,
}

func init() {
	uidsCmd.PersistentFlags().Uint64Var(&uidsProfileID, "profile", 0, "Profile ID (default profile if omitted)")
	uidsListCmd.Flags().StringVar(&uidsListStatus, "status", "", "Filter by status (FRESH, IN_PROGRESS, SUCCESS, FAIL_RETRYABLE, FAIL_PERM)")
	uidsListCmd.Flags().IntVar(&uidsListLimit, "limit", 50, "Maximum number of recipients to show")
	uidsListCmd.Flags().IntVar(&uidsListOffset, "offset", 0, "Number of recipients to skip")
	uidsExportCmd.Flags().StringVarP(&uidsExportOut, "output", "o", "", "Output file (stdout if omitted)")

	uidsCmd.AddCommand(uidsImportCmd, uidsListCmd, uidsStatsCmd, uidsRetryCmd, uidsExportCmd)
	rootCmd.AddCommand(uidsCmd)
}

func runUIDsImport(cmd *cobra.Command, args []string) error {
	s, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	profile, err := resolveProfile(s, cfg, uidsProfileID)
	if err != nil {
		return err
	}

	var in *os.File
	if args[0] == "-" {
		in = os.Stdin
	} else {
		in, err = os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open input file: %w", err)
		}
		defer in.Close()
	}

	var lines []string
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	report, err := s.AddRecipients(profile.ID, lines)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	fmt.Printf("Imported into profile %d (%s)\n", profile.ID, profile.Nickname)
	fmt.Printf("  Added:      %d\n", report.Added)
	fmt.Printf("  Duplicates: %d\n", report.Duplicates)
	fmt.Printf("  Invalid:    %d\n", len(report.Invalid))
	for _, inv := range report.Invalid {
		fmt.Printf("    %q: %s\n", inv.Raw, inv.Reason)
	}

	return nil
}

func runUIDsList(cmd *cobra.Command, args []string) error {
	s, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	profile, err := resolveProfile(s, cfg, uidsProfileID)
	if err != nil {
		return err
	}

	filter := store.ListFilter{
		Limit:  uidsListLimit,
		Offset: uidsListOffset,
	}
	if uidsListStatus != "" {
		filter.Status = store.Status(uidsListStatus)
	}

	recipients, err := s.List(profile.ID, filter)
	if err != nil {
		return fmt.Errorf("failed to list recipients: %w", err)
	}

	if len(recipients) == 0 {
		fmt.Println("No recipients")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKEY\tSTATUS\tATTEMPTS\tLAST ERROR\tUPDATED")
	fmt.Fprintln(w, "--\t---\t------\t--------\t----------\t-------")

	for _, r := range recipients {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			truncateID(r.ID),
			r.NormalizedKey,
			r.Status,
			r.Attempts,
			r.LastErrorCode,
			r.LastUpdatedAt.Format("2006-01-02 15:04"),
		)
	}

	w.Flush()
	fmt.Printf("\nTotal shown: %d\n", len(recipients))

	return nil
}

func runUIDsStats(cmd *cobra.Command, args []string) error {
	s, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	profile, err := resolveProfile(s, cfg, uidsProfileID)
	if err != nil {
		return err
	}

	counts, err := s.Counts(profile.ID)
	if err != nil {
		return fmt.Errorf("failed to get counts: %w", err)
	}

	total := 0
	for _, n := range counts {
		total += n
	}

	fmt.Printf("Recipients for profile %d (%s)\n", profile.ID, profile.Nickname)
	fmt.Println("================================")
	fmt.Printf("Total:          %d\n", total)
	fmt.Printf("Fresh:          %d\n", counts[store.StatusFresh])
	fmt.Printf("In progress:    %d\n", counts[store.StatusInProgress])
	fmt.Printf("Sent:           %d\n", counts[store.StatusSuccess])
	fmt.Printf("Retryable:      %d\n", counts[store.StatusFailRetryable])
	fmt.Printf("Failed (perm):  %d\n", counts[store.StatusFailPerm])

	return nil
}

func runUIDsRetry(cmd *cobra.Command, args []string) error {
	s, _, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	id := args[0]
	if err := s.ForceRetry(id, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to retry recipient: %w", err)
	}

	fmt.Printf("Recipient %s reset for retry\n", id)
	return nil
}

func runUIDsExport(cmd *cobra.Command, args []string) error {
	s, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	profile, err := resolveProfile(s, cfg, uidsProfileID)
	if err != nil {
		return err
	}

	out := os.Stdout
	if uidsExportOut != "" {
		out, err = os.Create(uidsExportOut)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer out.Close()
	}

	n, err := s.ExportCSV(out, profile.ID)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	if uidsExportOut != "" {
		fmt.Printf("Exported %d recipients to %s\n", n, uidsExportOut)
	}

	return nil
}

func truncateID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12] + "..."
}
