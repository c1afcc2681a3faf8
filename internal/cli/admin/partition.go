package admin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/tessellate-ai/querymesh/internal/config"
	"github.com/tessellate-ai/querymesh/internal/database"
	"github.com/tessellate-ai/querymesh/internal/domain"
	"github.com/tessellate-ai/querymesh/internal/repository"
	"github.com/tessellate-ai/querymesh/internal/service"
)

func PartitionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "partition",
		Short: "Manage retrieval partitions",
		Long:  "Create, list, and deactivate retrieval partitions",
	}

	cmd.AddCommand(PartitionCreateCmd())
	cmd.AddCommand(PartitionListCmd())
	cmd.AddCommand(PartitionDeactivateCmd())

	return cmd
}

func PartitionCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a new partition",
		Long:  "Register a retrieval partition for a user, project, or tenant",
		RunE:  runPartitionCreate,
	}

	cmd.Flags().StringP("kind", "k", "", "Partition kind: private, project, or global (required)")
	cmd.Flags().StringP("owner", "", "", "Owner ID: user, project, or tenant ID (required)")
	cmd.Flags().StringP("tenant", "t", "", "Tenant ID (required)")
	cmd.Flags().StringP("name", "n", "", "Display name (defaults to kind:owner)")
	cmd.Flags().StringP("output", "", "text", "Output format (text or json)")
	cmd.MarkFlagRequired("kind")
	cmd.MarkFlagRequired("owner")
	cmd.MarkFlagRequired("tenant")

	return cmd
}

func runPartitionCreate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	kind, _ := cmd.Flags().GetString("kind")
	ownerID, _ := cmd.Flags().GetString("owner")
	tenantID, _ := cmd.Flags().GetString("tenant")
	name, _ := cmd.Flags().GetString("name")
	outputFormat, _ := cmd.Flags().GetString("output")

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	registrySvc := service.NewRegistryService(repository.NewPartitionRepository(pool))

	partition, err := registrySvc.CreatePartition(ctx, service.CreatePartitionInput{
		Kind:     domain.PartitionKind(kind),
		OwnerID:  ownerID,
		TenantID: tenantID,
		Name:     name,
	})
	if err != nil {
		return fmt.Errorf("failed to create partition: %w", err)
	}

	if outputFormat == "json" {
		data := map[string]interface{}{
			"kind":       string(partition.Key.Kind),
			"owner_id":   partition.Key.OwnerID,
			"tenant_id":  partition.TenantID,
			"name":       partition.Name,
			"index_name": partition.IndexName,
		}
		jsonBytes, _ := json.MarshalIndent(data, "", "  ")
		fmt.Println(string(jsonBytes))
	} else {
		fmt.Printf("Partition created: %s (index: %s)\n", partition.Key, partition.IndexName)
	}

	return nil
}

func PartitionListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List partitions for a tenant",
		Long:  "List all partitions registered under a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, _ := cmd.Flags().GetString("tenant")
			outputFormat, _ := cmd.Flags().GetString("output")
			return runPartitionList(tenantID, outputFormat)
		},
	}

	cmd.Flags().StringP("tenant", "t", "", "Tenant ID (required)")
	cmd.Flags().StringP("output", "", "text", "Output format (text or json)")
	cmd.MarkFlagRequired("tenant")

	return cmd
}

func runPartitionList(tenantID, outputFormat string) error {
	ctx := context.Background()

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	partitionRepo := repository.NewPartitionRepository(pool)
	partitions, err := partitionRepo.ListByTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to list partitions: %w", err)
	}

	if outputFormat == "json" {
		data := make([]map[string]interface{}, len(partitions))
		for i, p := range partitions {
			data[i] = map[string]interface{}{
				"kind":       string(p.Key.Kind),
				"owner_id":   p.Key.OwnerID,
				"name":       p.Name,
				"is_active":  p.IsActive,
				"health":     string(p.Health),
				"index_name": p.IndexName,
				"documents":  p.DocumentCount,
				"chunks":     p.ChunkCount,
				"created_at": p.CreatedAt,
			}
		}
		jsonBytes, _ := json.MarshalIndent(data, "", "  ")
		fmt.Println(string(jsonBytes))
	} else {
		if len(partitions) == 0 {
			fmt.Printf("No partitions found for tenant %s\n", tenantID)
			return nil
		}
		fmt.Printf("Partitions for tenant %s:\n", tenantID)
		for _, p := range partitions {
			status := "active"
			if !p.IsActive {
				status = "inactive"
			}
			fmt.Printf("  %s: %s (%s, %s, %d chunks)\n", p.Key, p.Name, status, p.Health, p.ChunkCount)
		}
	}

	return nil
}

func PartitionDeactivateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deactivate",
		Short: "Deactivate a partition",
		Long:  "Soft-deactivate a partition so scope resolution excludes it",
		RunE:  runPartitionDeactivate,
	}

	cmd.Flags().StringP("kind", "k", "", "Partition kind (required)")
	cmd.Flags().StringP("owner", "", "", "Owner ID (required)")
	cmd.Flags().StringP("tenant", "t", "", "Tenant ID (required)")
	cmd.MarkFlagRequired("kind")
	cmd.MarkFlagRequired("owner")
	cmd.MarkFlagRequired("tenant")

	return cmd
}

func runPartitionDeactivate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	kind, _ := cmd.Flags().GetString("kind")
	ownerID, _ := cmd.Flags().GetString("owner")
	tenantID, _ := cmd.Flags().GetString("tenant")

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	registrySvc := service.NewRegistryService(repository.NewPartitionRepository(pool))

	key := domain.PartitionKey{Kind: domain.PartitionKind(kind), OwnerID: ownerID}
	if err := registrySvc.DeactivatePartition(ctx, tenantID, key); err != nil {
		return fmt.Errorf("failed to deactivate partition: %w", err)
	}

	fmt.Printf("Partition %s deactivated\n", key)
	return nil
}

func getDBPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	pool, err := database.NewPool(ctx, database.Config{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DatabaseMaxConns,
		MinConns: cfg.DatabaseMinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return pool, nil
}
