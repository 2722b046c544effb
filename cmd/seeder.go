package cmd

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	orderDatamodel "github.com/mazuri-stores/mazuri-api/internal/core/datamodel/order"
	orderPostgres "github.com/mazuri-stores/mazuri-api/internal/order/postgres"
)

var seedUserID int64

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample orders",
	Long:  `Seed the database with unpaid sample orders for exercising the M-Pesa checkout in development.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(".")
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		db, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer db.Close()

		gormDB, err := initGorm(db)
		if err != nil {
			log.Fatalf("failed to init gorm: %v", err)
		}

		if err := seedOrders(cmd.Context(), gormDB, seedUserID, clearData); err != nil {
			log.Fatalf("failed to seed orders: %v", err)
		}
	},
}

var sampleTotals = []string{"1", "250", "1000", "2500", "4999.50"}

func seedOrders(ctx context.Context, db *gorm.DB, userID int64, clear bool) error {
	if clear {
		if err := db.WithContext(ctx).Exec("DELETE FROM transactions").Error; err != nil {
			return fmt.Errorf("clear transactions: %w", err)
		}
		if err := db.WithContext(ctx).Exec("DELETE FROM orders").Error; err != nil {
			return fmt.Errorf("clear orders: %w", err)
		}
		fmt.Println("Cleared existing orders and transactions")
	}

	repo := orderPostgres.NewOrderRepository(db)
	for _, total := range sampleTotals {
		o := &orderDatamodel.Order{
			OrderNumber:   "MZR-" + strings.ToUpper(uuid.NewString()[:8]),
			UserID:        userID,
			Total:         decimal.RequireFromString(total),
			Currency:      "KES",
			Status:        orderDatamodel.StatusPending,
			PaymentStatus: orderDatamodel.PaymentStatusPending,
		}
		if err := repo.Create(ctx, o); err != nil {
			return fmt.Errorf("insert order %s: %w", o.OrderNumber, err)
		}
		fmt.Printf("Seeded order %d (%s) total KES %s for user %d\n", o.ID, o.OrderNumber, o.Total.StringFixed(2), userID)
	}

	var count int64
	if err := db.WithContext(ctx).Model(&orderDatamodel.Order{}).
		Where("payment_status = ?", orderDatamodel.PaymentStatusPending).
		Count(&count).Error; err != nil {
		return fmt.Errorf("count unpaid orders: %w", err)
	}
	fmt.Printf("Orders awaiting payment: %d\n", count)
	return nil
}

func init() {
	seedCmd.Flags().Int64Var(&seedUserID, "user-id", 1, "Owner of the seeded orders")
}
