package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/smartpay/internal/gateway"
	"github.com/example/smartpay/internal/ledger"
	"github.com/example/smartpay/internal/models"
	"github.com/example/smartpay/internal/status"
)

const (
	DefaultInterval       = 5 * time.Second
	DefaultMaxAttempts    = 12
	DefaultAttemptTimeout = 30 * time.Second
)

// Fetcher reads the current order state from the gateway.
type Fetcher interface {
	GetStatus(ctx context.Context, q gateway.StatusQuery) (*gateway.StatusResult, error)
}

// Classifier interprets a status id.
type Classifier interface {
	Classify(id int) status.Classification
}

// Recorder persists every observation before it is acted on.
type Recorder interface {
	RecordObservation(ctx context.Context, obs ledger.Observation) (*ledger.Recorded, error)
}

// Alerter is notified about orders that need an operator.
type Alerter interface {
	AlertStalledOrder(ctx context.Context, orderID string, cls status.Classification, attempts int)
	AlertIntegrationError(ctx context.Context, orderID string, cls status.Classification)
}

type Config struct {
	Interval    time.Duration
	MaxAttempts int
	// AttemptTimeout bounds one status query plus its ledger write. Cancelling
	// a poll does not cut an attempt short.
	AttemptTimeout time.Duration
}

// Target identifies the order to poll.
type Target struct {
	OrderID    string
	CustomerID string
}

// Result is the last status observed by a poll.
type Result struct {
	OrderID            string                `json:"order_id"`
	Status             *gateway.StatusResult `json:"-"`
	Classification     status.Classification `json:"classification"`
	Attempts           int                   `json:"attempts"`
	MaxAttemptsReached bool                  `json:"max_attempts_reached"`
	// StatusChanged is set when this attempt moved the session to a new status.
	StatusChanged bool `json:"status_changed"`
}

type Option func(*Poller)

func WithAlerter(a Alerter) Option {
	return func(p *Poller) { p.alerter = a }
}

// Poller repeatedly queries the gateway until an order reaches a terminal state.
// Attempts on the same order never overlap; the lock is not held between
// attempts, and different orders proceed in parallel.
type Poller struct {
	fetcher    Fetcher
	classifier Classifier
	recorder   Recorder
	alerter    Alerter
	cfg        Config
	locks      *keyedLock
	logger     *zap.Logger
}

func New(fetcher Fetcher, classifier Classifier, recorder Recorder, cfg Config, logger *zap.Logger, opts ...Option) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Poller{
		fetcher:    fetcher,
		classifier: classifier,
		recorder:   recorder,
		cfg:        cfg,
		locks:      newKeyedLock(),
		logger:     logger.With(zap.String("component", "poller")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Poll runs the attempt loop. When the attempt budget runs out on a non-terminal
// status the last result is returned with MaxAttemptsReached set. Cancellation
// is observed between attempts only.
func (p *Poller) Poll(ctx context.Context, target Target) (*Result, error) {
	var (
		last    *Result
		lastErr error
	)
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		res, err := p.lockedAttempt(ctx, target, models.SourcePoll, attempt)
		switch {
		case err == nil:
			last = res
			if res.Classification.IsTerminal {
				return res, nil
			}
		case errors.Is(err, errRecord):
			return nil, err
		case ctx.Err() != nil:
			return last, ctx.Err()
		default:
			lastErr = err
		}

		if attempt == p.cfg.MaxAttempts {
			break
		}
		if err := sleep(ctx, p.cfg.Interval); err != nil {
			return last, err
		}
	}

	if last == nil {
		return nil, fmt.Errorf("poll %s: no status after %d attempts: %w", target.OrderID, p.cfg.MaxAttempts, lastErr)
	}

	last.MaxAttemptsReached = true
	p.logger.Warn("Poll attempts exhausted",
		zap.String("order_id", target.OrderID),
		zap.Int("attempts", last.Attempts),
		zap.Int("status_id", int(last.Classification.StatusID)))
	if !last.Classification.Known && p.alerter != nil {
		p.alerter.AlertStalledOrder(ctx, target.OrderID, last.Classification, last.Attempts)
	}
	return last, nil
}

// Check performs a single status query under the order's lock.
func (p *Poller) Check(ctx context.Context, target Target) (*Result, error) {
	return p.lockedAttempt(ctx, target, models.SourceStatusCheck, 1)
}

var errRecord = errors.New("record observation")

// lockedAttempt waits for the order's lock, honouring ctx, then runs one attempt
// detached from ctx so a reading the bank already returned is always recorded.
func (p *Poller) lockedAttempt(ctx context.Context, target Target, source string, n int) (*Result, error) {
	release, err := p.locks.acquire(ctx, target.OrderID)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", source, target.OrderID, err)
	}
	defer release()

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.AttemptTimeout)
	defer cancel()
	return p.attempt(actx, target, source, n)
}

func (p *Poller) attempt(ctx context.Context, target Target, source string, n int) (*Result, error) {
	res, err := p.fetcher.GetStatus(ctx, gateway.StatusQuery{OrderID: target.OrderID, CustomerID: target.CustomerID})
	if err != nil {
		p.logger.Warn("Status query failed",
			zap.String("order_id", target.OrderID),
			zap.Int("attempt", n),
			zap.Error(err))
		return nil, fmt.Errorf("status query %s: %w", target.OrderID, err)
	}

	rec, err := p.recorder.RecordObservation(ctx, ledger.Observation{
		OrderID:     target.OrderID,
		TxnID:       res.TxnID,
		Status:      res.Status,
		StatusID:    res.StatusID,
		Source:      source,
		RawResponse: res.Raw,
		ChangedBy:   source,
	})
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", errRecord, target.OrderID, err)
	}

	cls := p.classifier.Classify(res.StatusID)
	p.logger.Debug("Status observed",
		zap.String("order_id", target.OrderID),
		zap.Int("attempt", n),
		zap.Int("status_id", res.StatusID),
		zap.String("category", string(cls.Category)))

	if cls.IntegrationError() && p.alerter != nil {
		p.alerter.AlertIntegrationError(ctx, target.OrderID, cls)
	}

	return &Result{
		OrderID:        target.OrderID,
		Status:         res,
		Classification: cls,
		Attempts:       n,
		StatusChanged:  rec != nil && rec.StatusChanged,
	}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run is a poll executing in the background.
type Run struct {
	cancel context.CancelFunc
	done   chan struct{}
	result *Result
	err    error
}

// Start polls target on its own goroutine. The run stops when ctx is done or
// Cancel is called.
func (p *Poller) Start(ctx context.Context, target Target) *Run {
	ctx, cancel := context.WithCancel(ctx)
	r := &Run{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(r.done)
		defer cancel()
		r.result, r.err = p.Poll(ctx, target)
		if r.err != nil && !errors.Is(r.err, context.Canceled) {
			p.logger.Error("Background poll failed", zap.String("order_id", target.OrderID), zap.Error(r.err))
		}
	}()
	return r
}

func (r *Run) Cancel() { r.cancel() }

func (r *Run) Done() <-chan struct{} { return r.done }

// Result blocks until the run finishes.
func (r *Run) Result() (*Result, error) {
	<-r.done
	return r.result, r.err
}
