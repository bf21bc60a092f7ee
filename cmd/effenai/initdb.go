package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thtskaran/effenAi/internal/config"
	"github.com/thtskaran/effenAi/internal/store"
)

var (
	seedEmail     string
	seedFirstName string
	seedLastName  string
)

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create database tables and optionally seed an employee",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInitDB()
	},
}

func init() {
	initDBCmd.Flags().StringVar(&seedEmail, "seed-email", "", "Email of an employee to create")
	initDBCmd.Flags().StringVar(&seedFirstName, "seed-first-name", "", "First name of the seeded employee")
	initDBCmd.Flags().StringVar(&seedLastName, "seed-last-name", "", "Last name of the seeded employee")
}

func runInitDB() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	fmt.Println("Database tables created.")

	if seedEmail != "" {
		existing, err := st.EmployeeByEmail(ctx, seedEmail)
		if err != nil {
			return fmt.Errorf("failed to look up employee: %w", err)
		}
		if existing != nil {
			fmt.Printf("Employee %s already exists.\n", seedEmail)
			return nil
		}

		employee := &store.Employee{
			FirstName: seedFirstName,
			LastName:  seedLastName,
			Email:     seedEmail,
		}
		if err := st.CreateEmployee(ctx, employee); err != nil {
			return fmt.Errorf("failed to create employee: %w", err)
		}
		fmt.Printf("Employee %s created (id %s).\n", seedEmail, employee.ID)
	}

	return nil
}
