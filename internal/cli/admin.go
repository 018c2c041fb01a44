package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gpuauction/auctiond/internal/auth"
	"github.com/gpuauction/auctiond/internal/calendar"
	"github.com/gpuauction/auctiond/internal/domain"
	"github.com/gpuauction/auctiond/internal/engine"
	"github.com/gpuauction/auctiond/internal/store"
)

func init() {
	rootCmd.AddCommand(adminCmd)
	adminCmd.AddCommand(adminUserAddCmd)
	adminCmd.AddCommand(adminResetCmd)

	adminUserAddCmd.Flags().String("role", "user", "role: user or admin")
	adminUserAddCmd.Flags().Int("daily-budget", 100, "daily credit budget")
	adminUserAddCmd.Flags().Float64("balance", 100, "starting balance")
	for _, c := range []*cobra.Command{adminUserAddCmd, adminResetCmd} {
		c.Flags().String("state", "auctiond-state.json", "path to the durable state file")
	}
}

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "One-off administrative operations against the durable state file",
}

var adminUserAddCmd = &cobra.Command{
	Use:   "user add <username> <password>",
	Short: "Create a new account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		statePath, _ := cmd.Flags().GetString("state")
		roleFlag, _ := cmd.Flags().GetString("role")
		dailyBudget, _ := cmd.Flags().GetInt("daily-budget")
		balance, _ := cmd.Flags().GetFloat64("balance")

		eng, err := openEngine(statePath)
		if err != nil {
			return err
		}
		salt, hash, err := auth.HashPassword(args[1])
		if err != nil {
			return err
		}
		role := domain.RoleUser
		if roleFlag == string(domain.RoleAdmin) {
			role = domain.RoleAdmin
		}
		if err := eng.CreateUser(engine.CreateUserInput{
			Username: args[0], PasswordSalt: salt, PasswordHash: hash,
			Role: role, DailyBudget: dailyBudget, Balance: balance,
		}); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created user %q (role=%s)\n", args[0], role)
		return nil
	},
}

var adminResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Wipe all days from the durable state (users and credit balances untouched)",
	RunE: func(cmd *cobra.Command, args []string) error {
		statePath, _ := cmd.Flags().GetString("state")
		eng, err := openEngine(statePath)
		if err != nil {
			return err
		}
		if err := eng.ResetDays(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "all days reset")
		return nil
	},
}

// openEngine loads the durable state at path and wires a minimal Engine
// suitable for one-off CLI mutations (no HTTP server, no archive).
func openEngine(path string) (*engine.Engine, error) {
	st := store.New(path)
	state, err := st.Load()
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	cal := calendar.New()
	return engine.New(state, st, domain.ClockFunc(time.Now), cal), nil
}
