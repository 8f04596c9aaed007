package main

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/spf13/cobra"
)

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage stored API keys and secrets",
	}
	cmd.AddCommand(keysSetCmd())
	cmd.AddCommand(keysGetCmd())
	cmd.AddCommand(keysListCmd())
	cmd.AddCommand(keysDeleteCmd())
	cmd.AddCommand(keysClearCmd())
	cmd.AddCommand(keysMigrateCmd())
	cmd.AddCommand(keysRollbackCmd())
	return cmd
}

func keysSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set [name]",
		Short: "Store a secret (value read from stdin, hidden on a TTY)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			c, err := buildCore(cfg, false)
			if err != nil {
				return err
			}
			defer c.close()

			value, err := readSecret()
			if err != nil {
				return err
			}
			if err := c.keys.SetKey(args[0], value); err != nil {
				return err
			}
			logger.Info("key stored", "name", args[0])
			return nil
		},
	}
}

func keysGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [name]",
		Short: "Print a stored secret to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			c, err := buildCore(cfg, false)
			if err != nil {
				return err
			}
			defer c.close()

			value, ok, err := c.keys.GetKey(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("key %s not found", args[0])
			}
			fmt.Println(value)
			return nil
		},
	}
}

func keysListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored keys and where each one lives",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			c, err := buildCore(cfg, false)
			if err != nil {
				return err
			}
			defer c.close()

			infos, err := c.keys.ListKeys()
			if err != nil {
				return err
			}
			for _, info := range infos {
				fmt.Printf("%-30s %s\n", info.Name, info.Storage)
			}
			return nil
		},
	}
}

func keysDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [name]",
		Short: "Delete a stored secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			c, err := buildCore(cfg, false)
			if err != nil {
				return err
			}
			defer c.close()
			return c.keys.DeleteKey(args[0])
		},
	}
}

func keysClearCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every stored secret and the fallback salt",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				fmt.Fprint(os.Stderr, "This wipes all stored secrets irrecoverably. Type 'yes' to continue: ")
				var response string
				fmt.Scanln(&response)
				if response != "yes" {
					return fmt.Errorf("aborted")
				}
			}
			cfg := loadConfig()
			c, err := buildCore(cfg, false)
			if err != nil {
				return err
			}
			defer c.close()
			return c.keys.ClearAllKeys()
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "skip the confirmation prompt")
	return cmd
}

func keysMigrateCmd() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Move secrets from a .env file into the keystore",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			c, err := buildCore(cfg, false)
			if err != nil {
				return err
			}
			defer c.close()

			path := envFile
			if path == "" {
				path = cfg.Keystore.EnvFile
			}
			res, err := c.keys.MigrateEnv(path)
			if err != nil {
				return err
			}
			if res.AlreadyDone {
				logger.Info("migration already completed, nothing to do")
				return nil
			}
			logger.Info("migration complete",
				"migrated", len(res.Migrated),
				"skipped", len(res.Skipped),
				"backup", res.BackupPath,
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", "", "path to the .env file (default from config)")
	return cmd
}

func keysRollbackCmd() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Restore the .env file from its pre-migration backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			c, err := buildCore(cfg, false)
			if err != nil {
				return err
			}
			defer c.close()

			path := envFile
			if path == "" {
				path = cfg.Keystore.EnvFile
			}
			return c.keys.RollbackEnv(path)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", "", "path to the .env file (default from config)")
	return cmd
}

// readSecret reads a secret from stdin, without echo when stdin is a TTY.
func readSecret() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Value: ")
		data, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	}
	var value string
	if _, err := fmt.Fscan(os.Stdin, &value); err != nil {
		return "", err
	}
	return strings.TrimSpace(value), nil
}
