package main

import (
	"fmt"
	"os"

	"sentra/internal/audit"
	"sentra/internal/domain"

	"github.com/spf13/cobra"
)

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit trail",
	}
	cmd.AddCommand(auditVerifyCmd())
	cmd.AddCommand(auditTailCmd())
	cmd.AddCommand(auditAlertsCmd())
	return cmd
}

func auditVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Replay the hash chain and report whether it is intact",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			c, err := buildCore(cfg, false)
			if err != nil {
				return err
			}
			defer c.close()

			res, err := c.auditLog.VerifyIntegrity()
			if err != nil {
				return err
			}
			printJSON(res)
			if !res.Valid {
				os.Exit(1)
			}
			return nil
		},
	}
}

func auditTailCmd() *cobra.Command {
	var limit int
	var category string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()

			// Prefer the index; fall back to reading the log files.
			if cfg.Audit.IndexEnabled && cfg.Audit.IndexPath != "" {
				ix, err := audit.NewIndex(cfg.Audit.IndexPath, logger)
				if err == nil {
					defer ix.Close()
					entries, err := ix.RecentEntries(cmd.Context(), domain.AuditCategory(category), limit)
					if err != nil {
						return err
					}
					for _, e := range entries {
						printEntry(e)
					}
					return nil
				}
				logger.Warn("index unavailable, reading log files", "err", err)
			}

			c, err := buildCore(cfg, false)
			if err != nil {
				return err
			}
			defer c.close()

			entries, err := c.auditLog.ReadAll()
			if err != nil {
				return err
			}
			start := len(entries) - limit
			if start < 0 {
				start = 0
			}
			for _, e := range entries[start:] {
				if category != "" && string(e.Category) != category {
					continue
				}
				printEntry(e)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	cmd.Flags().StringVar(&category, "category", "", "filter by category")
	return cmd
}

func auditAlertsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Show recent suspicious-activity alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if !cfg.Audit.IndexEnabled || cfg.Audit.IndexPath == "" {
				return fmt.Errorf("alert history requires the audit index (audit.indexEnabled)")
			}
			ix, err := audit.NewIndex(cfg.Audit.IndexPath, logger)
			if err != nil {
				return err
			}
			defer ix.Close()

			alerts, err := ix.RecentAlerts(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printJSON(alerts)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of alerts to show")
	return cmd
}

func printEntry(e domain.AuditEntry) {
	verdict := "allowed"
	if !e.Allowed {
		verdict = "denied"
	}
	fmt.Printf("%s  %-10s %-8s %-22s %-7s %s\n",
		e.Timestamp.Format("2006-01-02 15:04:05"),
		e.Category, e.Severity, e.Action, verdict, e.Message)
}
