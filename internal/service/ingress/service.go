package ingress

import (
	"context"
	"errors"

	"coursecart/internal/domain"
	"coursecart/internal/payment"
	"coursecart/internal/repository/callback"
	"coursecart/internal/service/settlement"
	"go.uber.org/zap"
)

// ReturnResult is what the browser is told after coming back from the
// hosted payment page.
type ReturnResult string

const (
	ResultSuccess   ReturnResult = "success"
	ResultCancelled ReturnResult = "cancelled"
	ResultError     ReturnResult = "error"
)

type settler interface {
	Settle(ctx context.Context, req settlement.Request) (settlement.Outcome, error)
}

type callbackRecorder interface {
	Record(ctx context.Context, cb callback.Callback) error
}

// Service receives payment confirmations from both the browser redirect and
// the provider webhook and hands them to settlement. Neither path assumes
// the other has run.
type Service struct {
	gateway   payment.Gateway
	settler   settler
	callbacks callbackRecorder
	provider  string
	logger    *zap.Logger
}

func New(gateway payment.Gateway, s settler, callbacks callbackRecorder, provider string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		gateway:   gateway,
		settler:   s,
		callbacks: callbacks,
		provider:  provider,
		logger:    logger.Named("ingress"),
	}
}

// HandleReturn checks the session status with the gateway and settles it if
// it was paid.
func (s *Service) HandleReturn(ctx context.Context, sessionID string) ReturnResult {
	log := s.logger.With(zap.String("external_id", sessionID), zap.String("path", "redirect"))
	if sessionID == "" {
		log.Warn("return without session id")
		return ResultError
	}

	st, err := s.gateway.FetchSession(ctx, sessionID)
	if err != nil {
		log.Warn("fetch session failed", zap.Error(err))
		return ResultError
	}
	if st.Status != payment.StatusPaid {
		log.Info("session not paid", zap.String("status", string(st.Status)))
		return ResultCancelled
	}

	out, err := s.settler.Settle(ctx, settlement.Request{
		ExternalID:  st.ExternalID,
		Metadata:    st.Metadata,
		Kind:        domain.EventCompleted,
		Method:      st.Method,
		AmountCents: st.AmountCents,
	})
	if err != nil {
		log.Error("settle from redirect failed", zap.Error(err))
		return ResultError
	}
	log.Info("redirect handled", zap.String("outcome", string(out)))
	return ResultSuccess
}

// HandleWebhook verifies and applies a provider notification. The returned
// error is one of domain.ErrInvalidSignature, payment.ErrMalformedPayload,
// domain.ErrInvalidReference or a transient failure worth a retry.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte) (settlement.Outcome, error) {
	log := s.logger.With(zap.String("path", "webhook"))

	ev, err := s.gateway.VerifyWebhook(ctx, payload)
	if err != nil {
		outcome := "error"
		switch {
		case errors.Is(err, domain.ErrInvalidSignature):
			outcome = "rejected"
		case errors.Is(err, payment.ErrMalformedPayload):
			outcome = "malformed"
		}
		log.Warn("webhook not accepted", zap.String("outcome", outcome), zap.Error(err))
		s.record(ctx, callback.Callback{Payload: payload, Outcome: outcome, Error: err.Error()})
		return "", err
	}

	log = log.With(zap.String("external_id", ev.ExternalID), zap.String("provider_status", ev.ProviderStatus))
	cb := callback.Callback{
		ExternalID:     ev.ExternalID,
		EventType:      ev.ProviderStatus,
		Payload:        payload,
		SignatureValid: true,
	}

	if ev.Kind == "" {
		log.Info("webhook acknowledged without settlement")
		cb.Outcome = string(settlement.Ignored)
		s.record(ctx, cb)
		return settlement.Ignored, nil
	}

	out, err := s.settler.Settle(ctx, settlement.Request{
		ExternalID:  ev.ExternalID,
		Metadata:    ev.Metadata,
		Kind:        ev.Kind,
		Method:      ev.Method,
		AmountCents: ev.AmountCents,
	})
	switch {
	case errors.Is(err, domain.ErrInvalidReference):
		log.Warn("webhook references no usable cart, dropping", zap.Error(err))
		cb.Outcome, cb.Error = "invalid_reference", err.Error()
	case err != nil:
		log.Error("settle from webhook failed", zap.Error(err))
		cb.Outcome, cb.Error = "error", err.Error()
	default:
		log.Info("webhook handled", zap.String("outcome", string(out)))
		cb.Outcome = string(out)
	}
	s.record(ctx, cb)
	return out, err
}

func (s *Service) record(ctx context.Context, cb callback.Callback) {
	if s.callbacks == nil {
		return
	}
	cb.Provider = s.provider
	if err := s.callbacks.Record(context.WithoutCancel(ctx), cb); err != nil {
		s.logger.Warn("record webhook delivery failed", zap.String("external_id", cb.ExternalID), zap.Error(err))
	}
}
