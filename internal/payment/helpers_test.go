package payment_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	orderDatamodel "github.com/mazuri-stores/mazuri-api/internal/core/datamodel/order"
	txDatamodel "github.com/mazuri-stores/mazuri-api/internal/core/datamodel/transaction"
	"github.com/mazuri-stores/mazuri-api/internal/core/events"
	"github.com/mazuri-stores/mazuri-api/internal/order"
	orderPostgres "github.com/mazuri-stores/mazuri-api/internal/order/postgres"
	"github.com/mazuri-stores/mazuri-api/internal/payment"
	"github.com/mazuri-stores/mazuri-api/internal/paymentgateway"
	"github.com/mazuri-stores/mazuri-api/internal/transaction"
	txPostgres "github.com/mazuri-stores/mazuri-api/internal/transaction/postgres"
)

const (
	customerID = int64(7)
	strangerID = int64(8)
)

type fakeGateway struct {
	mu          sync.Mutex
	pushResult  *paymentgateway.PushResult
	pushErr     error
	pushCalls   []paymentgateway.PushRequest
	queryResult *paymentgateway.QueryResult
	queryErr    error
	queryCalls  int
}

func (g *fakeGateway) InitiatePush(_ context.Context, req paymentgateway.PushRequest) (*paymentgateway.PushResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pushCalls = append(g.pushCalls, req)
	if g.pushErr != nil {
		return nil, g.pushErr
	}
	return g.pushResult, nil
}

func (g *fakeGateway) QueryStatus(_ context.Context, _ string) (*paymentgateway.QueryResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queryCalls++
	if g.queryErr != nil {
		return nil, g.queryErr
	}
	return g.queryResult, nil
}

type flakyConfirmer struct {
	next     payment.OrderConfirmer
	failures int
	calls    int
}

func (c *flakyConfirmer) ConfirmPayment(ctx context.Context, id int64) error {
	c.calls++
	if c.calls <= c.failures {
		return errors.New("database is locked")
	}
	return c.next.ConfirmPayment(ctx, id)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}

type harness struct {
	ctx        context.Context
	db         *gorm.DB
	orderRepo  *orderPostgres.OrderRepository
	orders     *order.Service
	ledger     *transaction.Service
	gateway    *fakeGateway
	publisher  *recordingPublisher
	reconciler *payment.Reconciler
	service    *payment.Service
	logger     *slog.Logger
}

func newHarness() *harness {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	Expect(err).NotTo(HaveOccurred())
	sqlDB, err := db.DB()
	Expect(err).NotTo(HaveOccurred())
	sqlDB.SetMaxOpenConns(1)
	Expect(db.AutoMigrate(&orderDatamodel.Order{}, &txDatamodel.Transaction{})).To(Succeed())

	h := &harness{
		ctx:       context.Background(),
		db:        db,
		orderRepo: orderPostgres.NewOrderRepository(db),
		gateway: &fakeGateway{
			pushResult: &paymentgateway.PushResult{
				MerchantRequestID: "29115-34620561-1",
				CheckoutRequestID: "ws_CO_1",
				CustomerMessage:   "Success. Request accepted for processing",
			},
		},
		publisher: &recordingPublisher{},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	h.orders = order.NewService(h.orderRepo, h.logger)
	h.ledger = transaction.NewService(txPostgres.NewTransactionRepository(db), h.logger)
	h.reconciler = payment.NewReconciler(h.ledger, h.orders, h.gateway, h.publisher, nil, h.logger)
	h.service = payment.NewService(h.ledger, h.orders, h.gateway, h.reconciler, h.publisher, "MZ", h.logger)
	return h
}

func (h *harness) seedOrder(number string, userID int64, total int64) *orderDatamodel.Order {
	o := &orderDatamodel.Order{
		OrderNumber:   number,
		UserID:        userID,
		Total:         decimal.NewFromInt(total),
		Currency:      "KES",
		Status:        orderDatamodel.StatusPending,
		PaymentStatus: orderDatamodel.PaymentStatusPending,
	}
	Expect(h.orderRepo.Create(h.ctx, o)).To(Succeed())
	return o
}

func (h *harness) initiate(o *orderDatamodel.Order) *payment.InitiateResponse {
	resp, err := h.service.InitiatePayment(h.ctx, o.UserID, payment.InitiateRequest{
		OrderID:     o.ID,
		PhoneNumber: "0712345678",
		Amount:      o.Total,
	})
	Expect(err).NotTo(HaveOccurred())
	return resp
}

func (h *harness) transaction(checkoutRequestID string) *transaction.Transaction {
	tx, err := h.ledger.FindByCheckoutRequestID(h.ctx, checkoutRequestID)
	Expect(err).NotTo(HaveOccurred())
	return tx
}

func (h *harness) order(id int64) *order.Order {
	o, err := h.orders.GetOrder(h.ctx, id)
	Expect(err).NotTo(HaveOccurred())
	return o
}

const successCallback = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": "ws_CO_1",
      "ResultCode": 0,
      "ResultDesc": "The service request is processed successfully.",
      "CallbackMetadata": {
        "Item": [
          {"Name": "Amount", "Value": 2500},
          {"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
          {"Name": "TransactionDate", "Value": 20191219102115},
          {"Name": "PhoneNumber", "Value": 254708374149}
        ]
      }
    }
  }
}`

const cancelledCallback = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": "ws_CO_1",
      "ResultCode": 1032,
      "ResultDesc": "Request cancelled by user"
    }
  }
}`

func jsonInt(n int64) string {
	return strconv.FormatInt(n, 10)
}
