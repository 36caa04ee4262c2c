package service

import (
	"context"
	"errors"
	"fmt"

	auditdomain "github.com/baridihq/baridi/internal/audit/domain"
	ledgerdomain "github.com/baridihq/baridi/internal/ledger/domain"
	"github.com/baridihq/baridi/internal/observability/metrics"
	rldomain "github.com/baridihq/baridi/internal/ratelimit/domain"
	"github.com/baridihq/baridi/internal/reconciler/domain"
	tabdomain "github.com/baridihq/baridi/internal/tab/domain"
	txndomain "github.com/baridihq/baridi/internal/transaction/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Transactions txndomain.Service
	Ledger       ledgerdomain.Service
	RateLimit    rldomain.Service
	Audit        auditdomain.Service
	Metrics      *metrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	transactions txndomain.Service
	ledger       ledgerdomain.Service
	ratelimit    rldomain.Service
	audit        auditdomain.Service
	metrics      *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("reconciler.service"),
		transactions: p.Transactions,
		ledger:       p.Ledger,
		ratelimit:    p.RateLimit,
		audit:        p.Audit,
		metrics:      p.Metrics,
	}
}

// errRaceLost aborts the success transaction without surfacing an error:
// a concurrent delivery already settled the transaction.
var errRaceLost = errors.New("race_lost")

// HandleCallback settles one provider callback. Only a storage failure
// returns a non-nil error; every other branch resolves with an Ack so the
// provider stops redelivering. Each delivery leaves a callback_received
// audit event on entry and a processed/failed event on its resolution.
func (s *Service) HandleCallback(ctx context.Context, tenantID snowflake.ID, payload []byte) (domain.Result, error) {
	callback, parseErr := domain.ParseCallback(payload)

	received := auditdomain.Entry{
		TenantID:  tenantID,
		EventType: auditdomain.EventCallbackReceived,
		Category:  auditdomain.CategoryPayment,
	}
	if parseErr != nil {
		received.Severity = auditdomain.SeverityWarning
		received.Data = map[string]any{"parse_error": parseErr.Error()}
	} else {
		received.Data = map[string]any{
			"checkout_request_id": callback.CheckoutRequestID,
			"result_code":         callback.ResultCode,
		}
	}
	s.recordAudit(ctx, received)

	if parseErr != nil {
		s.log.Warn("unparseable callback", zap.Error(parseErr))
		return s.ack(ctx, tenantID, nil, domain.ResolutionInvalid), nil
	}

	txn, err := s.transactions.FindByCheckoutID(ctx, tenantID, callback.CheckoutRequestID)
	if errors.Is(err, txndomain.ErrNotFound) {
		// Unknown or expired transaction; the provider is not wrong to have
		// sent it, and redelivery cannot help.
		s.log.Info("callback for unknown transaction",
			zap.String("checkout_request_id", callback.CheckoutRequestID),
		)
		return s.ack(ctx, tenantID, nil, domain.ResolutionUnknown), nil
	}
	if err != nil {
		return domain.Result{}, err
	}

	if txndomain.IsTerminal(txn.Status) {
		return s.ack(ctx, tenantID, txn, domain.ResolutionDuplicate), nil
	}

	// The initiation's durable-write loop can crash between pending and
	// sent after the provider acked the push. The callback proves the
	// provider has the request, so bring the row through sent before
	// settling rather than losing the delivery to a failed CAS.
	if txn.Status == txndomain.StatusPending {
		promoted, err := s.transactions.Transition(ctx, txn.TenantID, txn.ID, txndomain.StatusPending, txndomain.StatusSent, txndomain.TransitionPayload{})
		switch {
		case errors.Is(err, txndomain.ErrInvalidTransition):
			txn, err = s.transactions.FindByID(ctx, txn.TenantID, txn.ID)
			if err != nil {
				return domain.Result{}, err
			}
			if txndomain.IsTerminal(txn.Status) {
				return s.ack(ctx, tenantID, txn, domain.ResolutionDuplicate), nil
			}
		case err != nil:
			return domain.Result{}, err
		default:
			txn = promoted
		}
	}

	if callback.Success() {
		return s.settleSuccess(ctx, txn, callback, payload)
	}
	return s.settleFailure(ctx, txn, callback)
}

// settleSuccess completes the transaction and books the ledger entry in one
// storage transaction: the winning completion and its payment record commit
// together or not at all.
func (s *Service) settleSuccess(ctx context.Context, txn *txndomain.Transaction, callback *domain.Callback, payload []byte) (domain.Result, error) {
	if callback.Amount > 0 && callback.Amount != txn.Amount {
		s.log.Warn("callback amount differs from initiation",
			zap.String("transaction_id", txn.ID.String()),
			zap.Int64("initiated", txn.Amount),
			zap.Int64("confirmed", callback.Amount),
		)
		s.recordAudit(ctx, auditdomain.Entry{
			TenantID:      txn.TenantID,
			EventType:     auditdomain.EventSuspiciousActivity,
			Severity:      auditdomain.SeverityWarning,
			Category:      auditdomain.CategorySecurity,
			TransactionID: &txn.ID,
			Data: map[string]any{
				"reason":           "amount_mismatch",
				"initiated_amount": fmt.Sprintf("%d", txn.Amount),
				"confirmed_amount": fmt.Sprintf("%d", callback.Amount),
			},
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := s.transactions.TransitionTx(ctx, tx, txn.TenantID, txn.ID, txndomain.StatusSent, txndomain.StatusCompleted, txndomain.TransitionPayload{
			ReceiptNumber: callback.ReceiptNumber,
		})
		if errors.Is(err, txndomain.ErrInvalidTransition) {
			return errRaceLost
		}
		if err != nil {
			return err
		}

		_, err = s.ledger.RecordTx(ctx, tx, ledgerdomain.RecordInput{
			TenantID:  txn.TenantID,
			TabID:     txn.TabID,
			Amount:    txn.Amount,
			Method:    tabdomain.PaymentMethodMpesa,
			Reference: callback.ReceiptNumber,
			Metadata:  datatypes.JSON(payload),
		})
		if errors.Is(err, ledgerdomain.ErrDuplicateReference) {
			return errRaceLost
		}
		if err != nil {
			return err
		}

		return s.audit.RecordTx(ctx, tx, auditdomain.Entry{
			TenantID:      txn.TenantID,
			EventType:     auditdomain.EventPaymentCompleted,
			Category:      auditdomain.CategoryPayment,
			TransactionID: &txn.ID,
			TabID:         &txn.TabID,
			CustomerID:    txn.CustomerID,
			Data: map[string]any{
				"transaction_id": txn.ID.String(),
				"receipt_number": callback.ReceiptNumber,
				"amount":         fmt.Sprintf("%d", txn.Amount),
			},
		})
	})
	if errors.Is(err, errRaceLost) {
		return s.ack(ctx, txn.TenantID, txn, domain.ResolutionDuplicate), nil
	}
	if err != nil {
		// Propagate so the webhook answers non-2xx and the provider
		// redelivers.
		return domain.Result{}, err
	}

	s.recordOutcome(ctx, txn, rldomain.EventSuccessfulPayment)
	return s.ack(ctx, txn.TenantID, txn, domain.ResolutionCompleted), nil
}

func (s *Service) settleFailure(ctx context.Context, txn *txndomain.Transaction, callback *domain.Callback) (domain.Result, error) {
	code := callback.ResultCode
	_, err := s.transactions.Transition(ctx, txn.TenantID, txn.ID, txndomain.StatusSent, txndomain.StatusFailed, txndomain.TransitionPayload{
		ResultCode:    &code,
		FailureReason: callback.ResultDesc,
	})
	if errors.Is(err, txndomain.ErrInvalidTransition) {
		return s.ack(ctx, txn.TenantID, txn, domain.ResolutionDuplicate), nil
	}
	if err != nil {
		return domain.Result{}, err
	}

	s.recordAudit(ctx, auditdomain.Entry{
		TenantID:      txn.TenantID,
		EventType:     auditdomain.EventPaymentFailed,
		Category:      auditdomain.CategoryPayment,
		TransactionID: &txn.ID,
		TabID:         &txn.TabID,
		CustomerID:    txn.CustomerID,
		Data: map[string]any{
			"transaction_id": txn.ID.String(),
			"result_code":    callback.ResultCode,
			"result_desc":    callback.ResultDesc,
		},
	})

	s.recordOutcome(ctx, txn, rldomain.EventFailedAttempt)
	return s.ack(ctx, txn.TenantID, txn, domain.ResolutionFailed), nil
}

// ack closes out one delivery: a terminal audit event recording how it
// resolved, then the resolution metric. Unparseable payloads get
// callback_failed, everything else callback_processed.
func (s *Service) ack(ctx context.Context, tenantID snowflake.ID, txn *txndomain.Transaction, resolution string) domain.Result {
	entry := auditdomain.Entry{
		TenantID:  tenantID,
		EventType: auditdomain.EventCallbackProcessed,
		Category:  auditdomain.CategoryPayment,
		Data:      map[string]any{"resolution": resolution},
	}
	if resolution == domain.ResolutionInvalid {
		entry.EventType = auditdomain.EventCallbackFailed
		entry.Severity = auditdomain.SeverityWarning
	}
	if txn != nil {
		entry.TransactionID = &txn.ID
		entry.TabID = &txn.TabID
		entry.CustomerID = txn.CustomerID
		entry.Data["transaction_id"] = txn.ID.String()
	}
	s.recordAudit(ctx, entry)
	return s.resolve(resolution)
}

func (s *Service) recordOutcome(ctx context.Context, txn *txndomain.Transaction, eventType string) {
	err := s.ratelimit.RecordOutcome(ctx, rldomain.CheckInput{
		TenantID:    txn.TenantID,
		CustomerID:  txn.CustomerID,
		PhoneNumber: txn.PhoneNumber,
	}, eventType)
	if err != nil {
		s.log.Warn("failed to record payment outcome", zap.Error(err))
	}
}

func (s *Service) recordAudit(ctx context.Context, entry auditdomain.Entry) {
	if err := s.audit.Record(ctx, entry); err != nil {
		s.log.Warn("callback audit failed",
			zap.String("event_type", entry.EventType),
			zap.Error(err),
		)
	}
}

func (s *Service) resolve(resolution string) domain.Result {
	if s.metrics != nil {
		s.metrics.CallbacksReceived.WithLabelValues(resolution).Inc()
	}
	return domain.Result{Resolution: resolution}
}
