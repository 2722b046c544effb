package reconcile_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"github.com/mazuri-stores/mazuri-api/internal"
	"github.com/mazuri-stores/mazuri-api/internal/reconcile"
	"github.com/mazuri-stores/mazuri-api/internal/transaction"
	"github.com/mazuri-stores/mazuri-api/internal/transaction/postgres"
)

type fakeLister struct {
	mu      sync.Mutex
	rows    []postgres.PendingTransaction
	err     error
	cutoffs []time.Time
	limits  []int
}

func (f *fakeLister) ListStalePending(_ context.Context, olderThan time.Time, limit int) ([]postgres.PendingTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, olderThan)
	f.limits = append(f.limits, limit)
	return f.rows, f.err
}

type fakePoller struct {
	mu      sync.Mutex
	calls   []string
	status  transaction.Status
	err     error
	release chan struct{}
}

func (f *fakePoller) PollByCheckoutRequestID(_ context.Context, checkoutRequestID string) (*transaction.Transaction, error) {
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	f.calls = append(f.calls, checkoutRequestID)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &transaction.Transaction{Status: f.status}, nil
}

func (f *fakePoller) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type recordingMetrics struct {
	mu      sync.Mutex
	results []string
}

func (m *recordingMetrics) SweepPolled(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, result)
}

func (m *recordingMetrics) Results() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.results...)
}

type deniedLocker struct{}

func (deniedLocker) Acquire(context.Context, string, time.Duration) (func(context.Context) error, bool, error) {
	return nil, false, nil
}

func pending(txID, checkoutID string) postgres.PendingTransaction {
	return postgres.PendingTransaction{ID: 1, TransactionID: txID, CheckoutRequestID: checkoutID, CreatedAt: time.Now().Add(-time.Hour)}
}

var _ = Describe("Sweeper", func() {
	var (
		ctx     context.Context
		lister  *fakeLister
		poller  *fakePoller
		metrics *recordingMetrics
		cfg     internal.ReconcileConfig
		logger  *slog.Logger
	)

	BeforeEach(func() {
		ctx = context.Background()
		lister = &fakeLister{}
		poller = &fakePoller{status: transaction.StatusCompleted}
		metrics = &recordingMetrics{}
		cfg = internal.ReconcileConfig{
			Interval:     time.Hour,
			MinAge:       2 * time.Minute,
			BatchSize:    10,
			MaxWorkers:   2,
			JobQueueSize: 10,
			LockTTL:      time.Second,
		}
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	})

	newSweeper := func(locker reconcile.Locker) *reconcile.Sweeper {
		s := reconcile.NewSweeper(lister, poller, locker, metrics, cfg, logger)
		DeferCleanup(s.Shutdown)
		return s
	}

	It("lists transactions older than the minimum age with the batch size", func() {
		s := newSweeper(nil)

		n, err := s.Sweep(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(0))
		Expect(lister.limits).To(Equal([]int{10}))
		Expect(lister.cutoffs[0]).To(BeTemporally("~", time.Now().Add(-2*time.Minute), time.Second))
	})

	It("polls every stale transaction through the worker pool", func() {
		lister.rows = []postgres.PendingTransaction{pending("tx-1", "ws_CO_1"), pending("tx-2", "ws_CO_2"), pending("tx-3", "ws_CO_3")}
		s := newSweeper(nil)
		s.StartWorkers()

		n, err := s.Sweep(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(3))

		Expect(s.Wait(ctx)).To(Succeed())
		Expect(poller.Calls()).To(ConsistOf("ws_CO_1", "ws_CO_2", "ws_CO_3"))
		Expect(metrics.Results()).To(ConsistOf("completed", "completed", "completed"))
	})

	It("skips rows without a checkout request id", func() {
		lister.rows = []postgres.PendingTransaction{pending("tx-1", "")}
		s := newSweeper(nil)

		n, err := s.Sweep(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())
	})

	It("does not queue a transaction twice while it is still outstanding", func() {
		lister.rows = []postgres.PendingTransaction{pending("tx-1", "ws_CO_1")}
		s := newSweeper(nil)

		first, err := s.Sweep(ctx)
		Expect(err).NotTo(HaveOccurred())
		second, err := s.Sweep(ctx)
		Expect(err).NotTo(HaveOccurred())

		Expect(first).To(Equal(1))
		Expect(second).To(BeZero())
	})

	It("stops queueing when the job queue is full", func() {
		cfg.JobQueueSize = 1
		lister.rows = []postgres.PendingTransaction{pending("tx-1", "ws_CO_1"), pending("tx-2", "ws_CO_2")}
		s := newSweeper(nil)

		n, err := s.Sweep(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))
	})

	It("returns lister errors", func() {
		lister.err = errors.New("db down")
		s := newSweeper(nil)

		_, err := s.Sweep(ctx)
		Expect(err).To(MatchError(ContainSubstring("db down")))
	})

	It("records poll failures and leaves the job released", func() {
		poller.err = errors.New("gateway down")
		lister.rows = []postgres.PendingTransaction{pending("tx-1", "ws_CO_1")}
		s := newSweeper(nil)
		s.StartWorkers()

		_, err := s.Sweep(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Wait(ctx)).To(Succeed())
		Expect(metrics.Results()).To(Equal([]string{"error"}))

		n, err := s.Sweep(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))
	})

	It("skips transactions locked by another replica", func() {
		lister.rows = []postgres.PendingTransaction{pending("tx-1", "ws_CO_1")}
		s := newSweeper(deniedLocker{})
		s.StartWorkers()

		_, err := s.Sweep(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Wait(ctx)).To(Succeed())
		Expect(poller.Calls()).To(BeEmpty())
		Expect(metrics.Results()).To(Equal([]string{"locked"}))
	})

	It("sweeps on every tick once started", func() {
		cfg.Interval = 20 * time.Millisecond
		lister.rows = []postgres.PendingTransaction{pending("tx-1", "ws_CO_1")}
		s := newSweeper(nil)

		runCtx, cancel := context.WithCancel(ctx)
		DeferCleanup(cancel)
		s.Start(runCtx)

		Eventually(poller.Calls).WithTimeout(time.Second).ShouldNot(BeEmpty())
	})

	It("releases Wait callers on shutdown", func() {
		poller.release = make(chan struct{})
		lister.rows = []postgres.PendingTransaction{pending("tx-1", "ws_CO_1"), pending("tx-2", "ws_CO_2"), pending("tx-3", "ws_CO_3")}
		cfg.MaxWorkers = 1
		s := newSweeper(nil)
		s.StartWorkers()

		_, err := s.Sweep(ctx)
		Expect(err).NotTo(HaveOccurred())

		close(poller.release)
		s.Shutdown()

		waitCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		Expect(s.Wait(waitCtx)).To(Succeed())
	})
})

var _ = Describe("RedisLocker", func() {
	var (
		ctx    context.Context
		mr     *miniredis.Miniredis
		locker *reconcile.RedisLocker
	)

	BeforeEach(func() {
		ctx = context.Background()
		mr = miniredis.RunT(GinkgoT())
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		DeferCleanup(client.Close)
		locker = reconcile.NewRedisLocker(client, "mazuri:")
	})

	It("grants the lock once until released", func() {
		release, ok, err := locker.Acquire(ctx, "reconcile:tx-1", time.Minute)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(mr.Exists("mazuri:reconcile:tx-1")).To(BeTrue())

		_, ok, err = locker.Acquire(ctx, "reconcile:tx-1", time.Minute)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())

		Expect(release(ctx)).To(Succeed())
		Expect(mr.Exists("mazuri:reconcile:tx-1")).To(BeFalse())

		_, ok, err = locker.Acquire(ctx, "reconcile:tx-1", time.Minute)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})

	It("expires the lease after the ttl", func() {
		_, ok, err := locker.Acquire(ctx, "reconcile:tx-2", time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())

		mr.FastForward(2 * time.Second)

		_, ok, err = locker.Acquire(ctx, "reconcile:tx-2", time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})

	It("does not release a lease taken over by another owner", func() {
		release, ok, err := locker.Acquire(ctx, "reconcile:tx-3", time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())

		mr.FastForward(2 * time.Second)
		_, ok, err = locker.Acquire(ctx, "reconcile:tx-3", time.Minute)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())

		Expect(release(ctx)).To(Succeed())
		Expect(mr.Exists("mazuri:reconcile:tx-3")).To(BeTrue())
	})
})
