package order_test

import (
	"context"
	"io"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	errs "github.com/mazuri-stores/mazuri-api/internal"
	orderDatamodel "github.com/mazuri-stores/mazuri-api/internal/core/datamodel/order"
	"github.com/mazuri-stores/mazuri-api/internal/order"
	orderPostgres "github.com/mazuri-stores/mazuri-api/internal/order/postgres"
)

var _ = Describe("Order Service", func() {
	var (
		ctx     context.Context
		repo    *orderPostgres.OrderRepository
		service *order.Service
		seeded  *orderDatamodel.Order
	)

	BeforeEach(func() {
		ctx = context.Background()
		db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		Expect(err).NotTo(HaveOccurred())
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		sqlDB.SetMaxOpenConns(1)

		Expect(db.AutoMigrate(&orderDatamodel.Order{})).To(Succeed())

		repo = orderPostgres.NewOrderRepository(db)
		service = order.NewService(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))

		seeded = &orderDatamodel.Order{
			OrderNumber:   "MZR-0001",
			UserID:        7,
			Total:         decimal.NewFromInt(2500),
			Currency:      "KES",
			Status:        orderDatamodel.StatusPending,
			PaymentStatus: orderDatamodel.PaymentStatusPending,
		}
		Expect(repo.Create(ctx, seeded)).To(Succeed())
	})

	Describe("GetOrderForUser", func() {
		It("returns the order for its owner", func() {
			o, err := service.GetOrderForUser(ctx, seeded.ID, 7)
			Expect(err).NotTo(HaveOccurred())
			Expect(o.OrderNumber).To(Equal("MZR-0001"))
			Expect(o.Total.Equal(decimal.NewFromInt(2500))).To(BeTrue())
			Expect(o.IsPaid()).To(BeFalse())
		})

		It("rejects other users", func() {
			_, err := service.GetOrderForUser(ctx, seeded.ID, 8)
			Expect(err).To(Equal(errs.ErrUnauthorizedAccess))
		})

		It("reports missing orders", func() {
			_, err := service.GetOrderForUser(ctx, 999, 7)
			Expect(err).To(Equal(errs.ErrOrderNotFound))
		})
	})

	Describe("ConfirmPayment", func() {
		It("marks the order paid and confirmed", func() {
			Expect(service.ConfirmPayment(ctx, seeded.ID)).To(Succeed())

			o, err := service.GetOrder(ctx, seeded.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(o.PaymentStatus).To(Equal(order.PaymentStatusPaid))
			Expect(o.Status).To(Equal(order.StatusConfirmed))
			Expect(o.PaidAt).NotTo(BeNil())
		})

		It("is a no-op the second time", func() {
			Expect(service.ConfirmPayment(ctx, seeded.ID)).To(Succeed())
			first, err := service.GetOrder(ctx, seeded.ID)
			Expect(err).NotTo(HaveOccurred())

			Expect(service.ConfirmPayment(ctx, seeded.ID)).To(Succeed())
			second, err := service.GetOrder(ctx, seeded.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.PaidAt.Equal(*first.PaidAt)).To(BeTrue())
		})

		It("fails for unknown orders", func() {
			Expect(service.ConfirmPayment(ctx, 999)).To(MatchError(errs.ErrOrderNotFound))
		})
	})
})
