package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/smartpay/internal/events"
	"github.com/example/smartpay/internal/gateway"
	"github.com/example/smartpay/internal/ledger"
	"github.com/example/smartpay/internal/models"
	"github.com/example/smartpay/internal/poller"
	"github.com/example/smartpay/internal/signature"
	"github.com/example/smartpay/internal/status"
	"github.com/example/smartpay/internal/validator"
)

var (
	ErrInvalidSignature = errors.New("callback signature verification failed")
	ErrRefundNotAllowed = errors.New("refund not allowed")
	ErrOrderTerminal    = errors.New("order already in a terminal state")
)

// ValidationError is returned when an input fails its validation tags.
type ValidationError = validator.ValidationError

const defaultCurrency = "INR"

// Notifier receives operator-facing alerts.
type Notifier interface {
	poller.Alerter
	AlertSignatureFailure(ctx context.Context, orderID, vulnType, clientIP string)
	NotifyPaymentSuccess(ctx context.Context, payment PaymentSuccessNotification)
}

type PaymentConfig struct {
	ResponseKey string
	SessionTTL  time.Duration
	AutoPoll    bool
	Poll        poller.Config
}

// PaymentService orchestrates the gateway, the poller and the ledger.
type PaymentService struct {
	gateway    gateway.Gateway
	ledger     *ledger.Ledger
	poller     *poller.Poller
	classifier *status.Classifier
	notifier   Notifier
	publisher  events.Publisher
	validator  *validator.Validator
	cfg        PaymentConfig
	logger     *zap.Logger

	baseCtx context.Context
	stop    context.CancelFunc
	runsMu  sync.Mutex
	runs    map[string]*poller.Run
	wg      sync.WaitGroup
}

func NewPaymentService(gw gateway.Gateway, l *ledger.Ledger, notifier Notifier, publisher events.Publisher, cfg PaymentConfig, logger *zap.Logger) *PaymentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = events.Noop{}
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 15 * time.Minute
	}
	logger = logger.With(zap.String("component", "payment_service"))
	classifier := status.NewClassifier(logger)

	var opts []poller.Option
	if notifier != nil {
		opts = append(opts, poller.WithAlerter(notifier))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &PaymentService{
		gateway:    gw,
		ledger:     l,
		poller:     poller.New(gw, classifier, l, cfg.Poll, logger, opts...),
		classifier: classifier,
		notifier:   notifier,
		publisher:  publisher,
		validator:  validator.New(),
		cfg:        cfg,
		logger:     logger,
		baseCtx:    ctx,
		stop:       cancel,
		runs:       make(map[string]*poller.Run),
	}
}

// PayerStatus is the only view of a payment a payer may see.
type PayerStatus struct {
	OrderID string         `json:"order_id"`
	Status  status.Outcome `json:"status"`
	Message string         `json:"message"`
}

func payerView(orderID string, cls status.Classification) *PayerStatus {
	msg := cls.Message
	if cls.IntegrationError() {
		msg = "Payment could not be processed."
	}
	return &PayerStatus{OrderID: orderID, Status: cls.Outcome, Message: msg}
}

type CreateSessionInput struct {
	OrderID     string           `json:"order_id" validate:"omitempty,max=64"`
	Amount      decimal.Decimal  `json:"amount" validate:"gt=0"`
	Currency    string           `json:"currency" validate:"omitempty,len=3"`
	Customer    gateway.Customer `json:"customer"`
	Description string           `json:"description" validate:"max=255"`
	ReturnURL   string           `json:"return_url" validate:"omitempty,url"`
	ServiceRef  string           `json:"service_ref" validate:"max=128"`
	UserID      string           `json:"user_id" validate:"max=128"`
}

// CreateSession registers the order with the bank and records the session.
func (s *PaymentService) CreateSession(ctx context.Context, in CreateSessionInput) (*models.PaymentSession, error) {
	if err := s.validator.Validate(in); err != nil {
		return nil, err
	}
	currency := strings.ToUpper(in.Currency)
	if currency == "" {
		currency = defaultCurrency
	}

	res, err := s.gateway.CreateSession(ctx, gateway.SessionRequest{
		OrderID:     in.OrderID,
		Amount:      in.Amount,
		Currency:    currency,
		Customer:    in.Customer,
		Description: in.Description,
		ReturnURL:   in.ReturnURL,
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	expiresAt, ok := res.PaymentLinks.ExpiresAt()
	if !ok {
		expiresAt = time.Now().Add(s.cfg.SessionTTL)
	}
	sessionStatus := res.Status
	if sessionStatus == "" {
		sessionStatus = "NEW"
	}

	session, err := s.ledger.RecordSession(ctx, ledger.SessionRecord{
		OrderID:           res.OrderID,
		GatewaySessionID:  res.ID,
		CustomerID:        in.Customer.ID,
		CustomerEmail:     in.Customer.Email,
		CustomerPhone:     in.Customer.Phone,
		Amount:            in.Amount,
		Currency:          currency,
		Description:       in.Description,
		PaymentLinkWeb:    res.PaymentLinks.Web,
		PaymentLinkMobile: res.PaymentLinks.Mobile,
		Payload:           res.Raw,
		Status:            sessionStatus,
		StatusID:          int(status.CodeNew),
		ServiceRef:        in.ServiceRef,
		UserID:            in.UserID,
		ExpiresAt:         &expiresAt,
	})
	if err != nil {
		s.logger.Error("Session created at gateway but not recorded",
			zap.String("order_id", res.OrderID),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("Payment session created",
		zap.String("order_id", session.OrderID),
		zap.String("amount", session.Amount.StringFixed(2)),
		zap.String("currency", session.Currency))

	if s.cfg.AutoPoll {
		if err := s.StartPolling(ctx, session.OrderID); err != nil {
			s.logger.Warn("Auto poll not started", zap.String("order_id", session.OrderID), zap.Error(err))
		}
	}
	return session, nil
}

type CallbackInput struct {
	Params    map[string]string
	ClientIP  string
	UserAgent string
}

// HandleCallback verifies a bank callback and records what it reports. A callback
// that fails verification never yields a success view.
func (s *PaymentService) HandleCallback(ctx context.Context, in CallbackInput) (*PayerStatus, error) {
	orderID := in.Params["order_id"]
	rawInbound, _ := json.Marshal(in.Params)

	if err := signature.Verify(in.Params, s.cfg.ResponseKey); err != nil {
		return s.rejectCallback(ctx, in, orderID, rawInbound, err)
	}
	if orderID == "" {
		return nil, &ValidationError{Errors: map[string]string{"order_id": "This field is required"}}
	}

	verified := true
	var customerID string
	session, err := s.ledger.GetSession(ctx, orderID)
	switch {
	case err == nil:
		customerID = session.CustomerID
	case errors.Is(err, ledger.ErrNotFound):
		s.logger.Warn("Verified callback for unknown order", zap.String("order_id", orderID))
	default:
		return nil, fmt.Errorf("handle callback %s: %w", orderID, err)
	}

	obs := ledger.Observation{
		OrderID:           orderID,
		Source:            models.SourceWebhook,
		RawInbound:        rawInbound,
		SignatureVerified: &verified,
		ClientIP:          in.ClientIP,
		UserAgent:         in.UserAgent,
	}

	res, err := s.gateway.GetStatus(ctx, gateway.StatusQuery{OrderID: orderID, CustomerID: customerID})
	if err != nil {
		s.logger.Warn("Status confirmation failed, using callback status",
			zap.String("order_id", orderID),
			zap.Error(err))
		obs.Status = in.Params["status"]
		obs.StatusID, _ = strconv.Atoi(in.Params["status_id"])
		obs.Note = "status confirmation failed: " + err.Error()
	} else {
		obs.Status = res.Status
		obs.StatusID = res.StatusID
		obs.TxnID = res.TxnID
		obs.RawResponse = res.Raw
	}

	rec, err := s.ledger.RecordObservation(ctx, obs)
	if err != nil {
		return nil, fmt.Errorf("handle callback %s: %w", orderID, err)
	}

	cls := s.classifier.Classify(obs.StatusID)
	if cls.IntegrationError() && s.notifier != nil {
		s.notifier.AlertIntegrationError(ctx, orderID, cls)
	}

	switch {
	case cls.IsTerminal:
		s.StopPolling(orderID)
		s.onTerminal(ctx, session, obs, cls, rec.StatusChanged)
	case s.cfg.AutoPoll && session != nil:
		if err := s.StartPolling(ctx, orderID); err != nil && !errors.Is(err, ErrOrderTerminal) {
			s.logger.Warn("Poll after callback not started", zap.String("order_id", orderID), zap.Error(err))
		}
	}

	return payerView(orderID, cls), nil
}

func (s *PaymentService) rejectCallback(ctx context.Context, in CallbackInput, orderID string, rawInbound []byte, verifyErr error) (*PayerStatus, error) {
	vulnType := models.VulnSignatureMismatch
	if errors.Is(verifyErr, signature.ErrMissingSignature) {
		vulnType = models.VulnMissingSignature
	}

	s.logger.Warn("Callback signature rejected",
		zap.String("order_id", orderID),
		zap.String("type", vulnType),
		zap.String("client_ip", in.ClientIP))

	var errs []error
	errs = append(errs, ErrInvalidSignature)

	if err := s.ledger.RecordSecurityEvent(ctx, ledger.SecurityEvent{
		OrderID:     orderID,
		Severity:    models.SeverityHigh,
		Type:        vulnType,
		Description: verifyErr.Error(),
		Payload:     rawInbound,
		ClientIP:    in.ClientIP,
		UserAgent:   in.UserAgent,
	}); err != nil {
		errs = append(errs, err)
	}

	verified := false
	statusID, _ := strconv.Atoi(in.Params["status_id"])
	if _, err := s.ledger.RecordObservation(ctx, ledger.Observation{
		OrderID:           orderID,
		Status:            in.Params["status"],
		StatusID:          statusID,
		Source:            models.SourceWebhook,
		RawInbound:        rawInbound,
		SignatureVerified: &verified,
		ClientIP:          in.ClientIP,
		UserAgent:         in.UserAgent,
		Note:              "signature verification failed",
	}); err != nil {
		errs = append(errs, err)
	}

	if s.notifier != nil {
		s.notifier.AlertSignatureFailure(ctx, orderID, vulnType, in.ClientIP)
	}

	view := &PayerStatus{OrderID: orderID, Status: status.OutcomeFailed, Message: "Payment could not be verified."}
	return view, errors.Join(errs...)
}

// onTerminal publishes the status change and notifies operators when the
// ledger reports that this observation moved the session snapshot.
func (s *PaymentService) onTerminal(ctx context.Context, session *models.PaymentSession, obs ledger.Observation, cls status.Classification, changed bool) {
	if session == nil || !changed {
		return
	}

	ev := events.StatusChanged{
		OrderID:    obs.OrderID,
		StatusID:   obs.StatusID,
		Status:     cls.Name,
		Outcome:    string(cls.Outcome),
		Amount:     session.Amount,
		Currency:   session.Currency,
		Source:     obs.Source,
		ServiceRef: session.ServiceRef,
		OccurredAt: time.Now().UTC(),
	}
	if err := s.publisher.PublishStatusChanged(ctx, ev); err != nil {
		s.logger.Error("Failed to publish status change", zap.String("order_id", obs.OrderID), zap.Error(err))
	}

	if cls.Outcome == status.OutcomeSuccess && s.notifier != nil {
		s.notifier.NotifyPaymentSuccess(ctx, PaymentSuccessNotification{
			OrderID:  obs.OrderID,
			TxnID:    obs.TxnID,
			Amount:   session.Amount,
			Currency: session.Currency,
		})
	}
}

// RefreshStatus returns the payer view. Terminal sessions are answered from the
// ledger; anything else gets one fresh status check.
func (s *PaymentService) RefreshStatus(ctx context.Context, orderID string) (*PayerStatus, error) {
	session, err := s.ledger.GetSession(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if status.IsTerminal(session.StatusID) {
		return payerView(orderID, s.classifier.Classify(session.StatusID)), nil
	}

	res, err := s.poller.Check(ctx, poller.Target{OrderID: orderID, CustomerID: session.CustomerID})
	if err != nil {
		s.logger.Warn("Status check failed, answering from ledger", zap.String("order_id", orderID), zap.Error(err))
		return payerView(orderID, s.classifier.Classify(session.StatusID)), nil
	}

	if res.Classification.IsTerminal {
		s.onTerminal(ctx, session, observationOf(res, models.SourceStatusCheck), res.Classification, res.StatusChanged)
	}
	return payerView(orderID, res.Classification), nil
}

func observationOf(res *poller.Result, source string) ledger.Observation {
	obs := ledger.Observation{
		OrderID:  res.OrderID,
		StatusID: int(res.Classification.StatusID),
		Status:   res.Classification.Name,
		Source:   source,
	}
	if res.Status != nil {
		obs.TxnID = res.Status.TxnID
		obs.Status = res.Status.Status
	}
	return obs
}

// StartPolling polls the order in the background until it is terminal. Starting
// an order that is already being polled is a no-op.
func (s *PaymentService) StartPolling(ctx context.Context, orderID string) error {
	session, err := s.ledger.GetSession(ctx, orderID)
	if err != nil {
		return err
	}
	if status.IsTerminal(session.StatusID) {
		return ErrOrderTerminal
	}

	s.runsMu.Lock()
	defer s.runsMu.Unlock()

	if _, running := s.runs[orderID]; running {
		return nil
	}
	if s.baseCtx.Err() != nil {
		return s.baseCtx.Err()
	}

	run := s.poller.Start(s.baseCtx, poller.Target{OrderID: orderID, CustomerID: session.CustomerID})
	s.runs[orderID] = run
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		res, err := run.Result()

		s.runsMu.Lock()
		if s.runs[orderID] == run {
			delete(s.runs, orderID)
		}
		s.runsMu.Unlock()

		if err != nil || res == nil || !res.Classification.IsTerminal {
			return
		}
		s.onTerminal(context.Background(), session, observationOf(res, models.SourcePoll), res.Classification, res.StatusChanged)
	}()

	s.logger.Info("Background poll started", zap.String("order_id", orderID))
	return nil
}

// StopPolling cancels the order's background poll and reports whether one was running.
func (s *PaymentService) StopPolling(orderID string) bool {
	s.runsMu.Lock()
	run, ok := s.runs[orderID]
	delete(s.runs, orderID)
	s.runsMu.Unlock()

	if !ok {
		return false
	}
	run.Cancel()
	s.logger.Info("Background poll stopped", zap.String("order_id", orderID))
	return true
}

// IsPolling reports whether a background poll is running for the order.
func (s *PaymentService) IsPolling(orderID string) bool {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()
	_, ok := s.runs[orderID]
	return ok
}

type RefundInput struct {
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
	Note   string          `json:"note" validate:"max=255"`
}

// Refund submits a refund for a charged order.
func (s *PaymentService) Refund(ctx context.Context, orderID string, in RefundInput) (*gateway.RefundResult, error) {
	if err := s.validator.Validate(in); err != nil {
		return nil, err
	}

	session, err := s.ledger.GetSession(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if session.StatusID != int(status.CodeCharged) {
		return nil, fmt.Errorf("%w: order status is %s", ErrRefundNotAllowed, session.Status)
	}
	if in.Amount.GreaterThan(session.Amount) {
		return nil, fmt.Errorf("%w: amount %s exceeds charged %s", ErrRefundNotAllowed,
			in.Amount.StringFixed(2), session.Amount.StringFixed(2))
	}

	res, err := s.gateway.ProcessRefund(ctx, gateway.RefundRequest{OrderID: orderID, Amount: in.Amount, Note: in.Note})
	if err != nil {
		return nil, fmt.Errorf("refund %s: %w", orderID, err)
	}

	note := fmt.Sprintf("refund %s of %s: %s", res.RefundID, in.Amount.StringFixed(2), res.Status)
	if in.Note != "" {
		note += " (" + in.Note + ")"
	}
	if _, err := s.ledger.RecordObservation(ctx, ledger.Observation{
		OrderID:     orderID,
		TxnID:       res.RefundID,
		Status:      session.Status,
		StatusID:    session.StatusID,
		Source:      models.SourceRefund,
		RawResponse: res.Raw,
		ChangedBy:   models.SourceRefund,
		Note:        note,
	}); err != nil {
		return nil, fmt.Errorf("refund %s: %w", orderID, err)
	}

	s.logger.Info("Refund submitted",
		zap.String("order_id", orderID),
		zap.String("refund_id", res.RefundID),
		zap.Bool("success", res.Success))
	return res, nil
}

func (s *PaymentService) AuditTrail(ctx context.Context, orderID string) (*ledger.AuditTrail, error) {
	return s.ledger.GetAuditTrail(ctx, orderID)
}

func (s *PaymentService) ListSessions(ctx context.Context, f ledger.SessionFilter, limit, offset int) ([]models.PaymentSession, int64, error) {
	return s.ledger.ListSessions(ctx, f, limit, offset)
}

// Shutdown cancels every background poll and waits for them to finish.
func (s *PaymentService) Shutdown() {
	s.stop()
	s.wg.Wait()
}
