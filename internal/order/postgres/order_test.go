package postgres_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	orderDatamodel "github.com/mazuri-stores/mazuri-api/internal/core/datamodel/order"
	"github.com/mazuri-stores/mazuri-api/internal/order"
	"github.com/mazuri-stores/mazuri-api/internal/order/postgres"
)

var _ = Describe("OrderRepository", func() {
	var (
		ctx  context.Context
		repo *postgres.OrderRepository
		o    *orderDatamodel.Order
	)

	BeforeEach(func() {
		ctx = context.Background()
		db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			Logger:  logger.Default.LogMode(logger.Silent),
			NowFunc: func() time.Time { return time.Now().UTC() },
		})
		Expect(err).NotTo(HaveOccurred())
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		sqlDB.SetMaxOpenConns(1)
		Expect(db.AutoMigrate(&orderDatamodel.Order{})).To(Succeed())

		repo = postgres.NewOrderRepository(db)
		o = &orderDatamodel.Order{
			OrderNumber:   "MZR-1001",
			UserID:        7,
			Total:         decimal.NewFromInt(2500),
			Currency:      "KES",
			Status:        orderDatamodel.StatusPending,
			PaymentStatus: orderDatamodel.PaymentStatusPending,
		}
		Expect(repo.Create(ctx, o)).To(Succeed())
	})

	Describe("GetByID", func() {
		It("loads a stored order", func() {
			got, err := repo.GetByID(ctx, o.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.OrderNumber).To(Equal("MZR-1001"))
			Expect(got.Total.Equal(decimal.NewFromInt(2500))).To(BeTrue())
		})

		It("maps missing rows to ErrNotFound", func() {
			_, err := repo.GetByID(ctx, o.ID+100)
			Expect(err).To(MatchError(order.ErrNotFound))
		})
	})

	Describe("MarkPaid", func() {
		It("marks an unpaid order paid and confirmed", func() {
			paidAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
			updated, err := repo.MarkPaid(ctx, o.ID, paidAt)
			Expect(err).NotTo(HaveOccurred())
			Expect(updated).To(BeTrue())

			got, err := repo.GetByID(ctx, o.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.PaymentStatus).To(Equal(orderDatamodel.PaymentStatusPaid))
			Expect(got.Status).To(Equal(orderDatamodel.StatusConfirmed))
			Expect(got.PaidAt).NotTo(BeNil())
			Expect(got.PaidAt.Equal(paidAt)).To(BeTrue())
		})

		It("leaves an already paid order untouched", func() {
			first := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
			updated, err := repo.MarkPaid(ctx, o.ID, first)
			Expect(err).NotTo(HaveOccurred())
			Expect(updated).To(BeTrue())

			updated, err = repo.MarkPaid(ctx, o.ID, first.Add(time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(updated).To(BeFalse())

			got, err := repo.GetByID(ctx, o.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.PaidAt.Equal(first)).To(BeTrue())
		})

		It("reports no update for a missing order", func() {
			updated, err := repo.MarkPaid(ctx, o.ID+100, time.Now().UTC())
			Expect(err).NotTo(HaveOccurred())
			Expect(updated).To(BeFalse())
		})
	})
})
