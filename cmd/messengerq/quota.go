package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkrv/messengerq/internal/quota"
)

var quotaProfileID uint64

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show today's send quota",
	RunE:  runQuota,
}

func init() {
	quotaCmd.Flags().Uint64Var(&quotaProfileID, "profile", 0, "Profile ID (default profile if omitted)")
	rootCmd.AddCommand(quotaCmd)
}

func runQuota(cmd *cobra.Command, args []string) error {
	s, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	profile, err := resolveProfile(s, cfg, quotaProfileID)
	if err != nil {
		return err
	}

	tracker := quota.New(s, quota.Policy(cfg.Engine.QuotaPolicy))
	st, err := tracker.Status(profile.ID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to get quota status: %w", err)
	}

	fmt.Printf("Quota for profile %d (%s), day %s\n", profile.ID, profile.Nickname, st.Day)
	fmt.Println("=====================================")
	fmt.Printf("Limit:      %d\n", st.Limit)
	fmt.Printf("Sent:       %d\n", st.SentSuccess)
	fmt.Printf("Failed:     %d\n", st.SentFail)
	fmt.Printf("Remaining:  %d\n", st.Remaining)
	fmt.Printf("Resets in:  %s\n", st.ResetsIn.Round(time.Minute))

	return nil
}
