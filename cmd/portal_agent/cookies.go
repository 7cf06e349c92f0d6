package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/octacer/portal-agent/internal/config"
	"github.com/octacer/portal-agent/internal/jobs"
)

var (
	cookiesEmail    string
	cookiesPassword string
	cookiesFinalURL string
)

var cookiesCmd = &cobra.Command{
	Use:   "cookies",
	Short: "Extract vollna session cookies",
	Long:  `Log into vollna with the given credentials, navigate to the final URL and print the session cookies as a Cookie header value.`,
	RunE:  runCookies,
}

func init() {
	cookiesCmd.Flags().StringVar(&cookiesEmail, "email", "", "Vollna account email")
	cookiesCmd.Flags().StringVar(&cookiesPassword, "password", "", "Vollna account password")
	cookiesCmd.Flags().StringVar(&cookiesFinalURL, "final-url", "", "Page to visit after login before reading cookies")
	_ = cookiesCmd.MarkFlagRequired("email")
	_ = cookiesCmd.MarkFlagRequired("password")
	_ = cookiesCmd.MarkFlagRequired("final-url")
	rootCmd.AddCommand(cookiesCmd)
}

func runCookies(cmd *cobra.Command, _ []string) error {
	cfg := config.FromEnv().Finalize()

	orch, scheduler, err := buildOrchestrator(cfg, true)
	if err != nil {
		return err
	}
	defer scheduler.Stop()

	result, err := orch.ExtractCookies(cmd.Context(), jobs.CookieRequest{
		Email:    cookiesEmail,
		Password: cookiesPassword,
		FinalURL: cookiesFinalURL,
	})
	if err != nil {
		return err
	}

	fmt.Printf("%d cookies:\n%s\n", result.CookieCount, result.Cookies)
	return nil
}
