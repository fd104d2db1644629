package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	profileNickname   string
	profileDailyLimit int
	profileTimezone   string
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Profile management commands",
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List profiles",
	RunE:  runProfileList,
}

var profileCreateCmd = &cobra.Command{
	Use:   "create <nickname>",
	Short: "Create a new profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileCreate,
}

var profileUpdateCmd = &cobra.Command{
	Use:   "update <profile_id>",
	Short: "Update a profile's nickname or daily limit",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileUpdate,
}

func init() {
	profileCreateCmd.Flags().IntVar(&profileDailyLimit, "daily-limit", 30, "Daily send quota")
	profileCreateCmd.Flags().StringVar(&profileTimezone, "timezone", "UTC", "IANA timezone for the quota day")
	profileUpdateCmd.Flags().StringVar(&profileNickname, "nickname", "", "New nickname")
	profileUpdateCmd.Flags().IntVar(&profileDailyLimit, "daily-limit", 0, "New daily send quota")

	profileCmd.AddCommand(profileListCmd, profileCreateCmd, profileUpdateCmd)
	rootCmd.AddCommand(profileCmd)
}

func runProfileList(cmd *cobra.Command, args []string) error {
	s, _, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	profiles, err := s.ListProfiles()
	if err != nil {
		return fmt.Errorf("failed to list profiles: %w", err)
	}

	if len(profiles) == 0 {
		fmt.Println("No profiles")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNICKNAME\tDAILY LIMIT\tTIMEZONE\tCREATED")
	fmt.Fprintln(w, "--\t--------\t-----------\t--------\t-------")

	for _, p := range profiles {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n",
			p.ID,
			p.Nickname,
			p.DailyLimit,
			p.Timezone,
			p.CreatedAt.Format("2006-01-02"),
		)
	}

	w.Flush()
	return nil
}

func runProfileCreate(cmd *cobra.Command, args []string) error {
	s, _, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	p, err := s.CreateProfile(args[0], profileDailyLimit, profileTimezone)
	if err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}

	fmt.Printf("Created profile %d (%s), daily limit %d, timezone %s\n",
		p.ID, p.Nickname, p.DailyLimit, p.Timezone)
	return nil
}

func runProfileUpdate(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid profile ID: %s", args[0])
	}

	s, _, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	p, err := s.UpdateProfile(id, profileNickname, profileDailyLimit)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}

	fmt.Printf("Updated profile %d (%s), daily limit %d\n", p.ID, p.Nickname, p.DailyLimit)
	return nil
}
