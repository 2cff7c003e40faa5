// Package cash runs the register session protocol: at most one open session
// per register, transactions only while open, and a terminal close that
// reconciles the counted drawer against the expected amount.
package cash

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/backoffice/internal/platform/lock"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/internal/store"
	"github.com/odyssey-erp/backoffice/internal/tenant"
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog)
}

// Service coordinates cash register sessions.
type Service struct {
	guard  *tenant.Guard
	locker lock.Locker
	audit  AuditPort
	logger *slog.Logger
	clock  func() time.Time
}

// NewService builds Service.
func NewService(guard *tenant.Guard, locker lock.Locker, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{guard: guard, locker: locker, audit: audit, logger: logger, clock: func() time.Time { return time.Now().UTC() }}
}

// Open starts a session on a register. A second open while one is OPEN
// fails with a conflict; the uniqueness marker makes this atomic.
func (s *Service) Open(ctx context.Context, in OpenInput) (Session, error) {
	if strings.TrimSpace(in.RegisterID) == "" {
		return Session{}, shared.Validationf("cash: register required")
	}
	if in.OpeningAmount.IsNegative() {
		return Session{}, shared.Validationf("cash: opening amount must not be negative")
	}
	tenantID, err := s.guard.Resolve(ctx)
	if err != nil {
		return Session{}, err
	}
	release, err := s.locker.Acquire(ctx, shared.RegisterLockKey(tenantID, in.RegisterID))
	if err != nil {
		return Session{}, err
	}
	defer release()

	var sess Session
	err = s.guard.Update(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		now := s.clock()
		actor := shared.ActorFromContext(ctx)
		sess = Session{
			TenantID:      tx.TenantID(),
			ID:            uuid.Must(uuid.NewV7()).String(),
			RegisterID:    in.RegisterID,
			OpenedBy:      actor,
			OpeningAmount: in.OpeningAmount,
			Status:        SessionOpen,
			OpenedAt:      now,
		}
		err := tx.Insert(ctx, openBucket, in.RegisterID, tenant.Marker{TenantID: sess.TenantID, Ref: sess.ID})
		if errors.Is(err, store.ErrExists) {
			return shared.Conflictf("cash: register %s already has an open session", in.RegisterID)
		}
		if err != nil {
			return err
		}
		opening := Transaction{
			TenantID:   sess.TenantID,
			ID:         uuid.Must(uuid.NewV7()).String(),
			SessionID:  sess.ID,
			RegisterID: sess.RegisterID,
			Kind:       KindOpening,
			Amount:     in.OpeningAmount,
			CreatedBy:  actor,
			CreatedAt:  now,
		}
		if err := s.appendTx(ctx, tx, &sess, opening); err != nil {
			return err
		}
		return tx.Insert(ctx, sessionBucket, sess.ID, sess)
	})
	if err != nil {
		return Session{}, err
	}
	s.record(ctx, "cash.open", sess.TenantID, sess.ID, map[string]any{"register_id": sess.RegisterID, "opening_amount": sess.OpeningAmount.String()})
	return sess, nil
}

// RecordTransaction appends a transaction to an OPEN session.
func (s *Service) RecordTransaction(ctx context.Context, in TxInput) (Transaction, error) {
	var out Transaction
	err := s.guard.Update(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		var err error
		out, err = s.RecordInTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return Transaction{}, err
	}
	if !out.Replayed {
		s.record(ctx, "cash.transaction", out.TenantID, out.ID, map[string]any{"kind": string(out.Kind), "amount": out.Amount.String(), "session_id": out.SessionID})
	}
	return out, nil
}

// RecordInTx appends a transaction inside the caller's transaction. A known
// Reference with identical kind and amount returns the stored transaction.
func (s *Service) RecordInTx(ctx context.Context, tx *tenant.Tx, in TxInput) (Transaction, error) {
	if !in.Kind.Valid() {
		return Transaction{}, shared.Validationf("cash: unknown transaction kind %q", in.Kind)
	}
	if in.Kind == KindOpening || in.Kind == KindClosingAdjust {
		return Transaction{}, shared.Validationf("cash: %s transactions are written by open and close", in.Kind)
	}
	if in.Amount.IsNegative() {
		return Transaction{}, shared.Validationf("cash: amount must not be negative")
	}
	sess, err := tenant.Get[Session](ctx, tx, sessionBucket, in.SessionID)
	if err != nil {
		return Transaction{}, err
	}
	if in.Reference != "" {
		existing, ok, err := s.byReference(ctx, tx, in.Reference)
		if err != nil {
			return Transaction{}, err
		}
		if ok {
			if existing.SessionID != in.SessionID || existing.Kind != in.Kind || !existing.Amount.Equal(in.Amount) {
				return Transaction{}, shared.Conflictf("cash: reference %s already used for a different transaction", in.Reference)
			}
			existing.Replayed = true
			return existing, nil
		}
	}
	if sess.Status != SessionOpen {
		return Transaction{}, shared.Conflictf("cash: session %s is %s", sess.ID, sess.Status)
	}
	t := Transaction{
		TenantID:   tx.TenantID(),
		ID:         uuid.Must(uuid.NewV7()).String(),
		SessionID:  sess.ID,
		RegisterID: sess.RegisterID,
		Kind:       in.Kind,
		Amount:     in.Amount,
		Reference:  in.Reference,
		Metadata:   in.Metadata,
		CreatedBy:  shared.ActorFromContext(ctx),
		CreatedAt:  s.clock(),
	}
	if err := s.appendTx(ctx, tx, &sess, t); err != nil {
		return Transaction{}, err
	}
	if err := tx.Put(ctx, sessionBucket, sess.ID, sess); err != nil {
		return Transaction{}, err
	}
	return t, nil
}

func (s *Service) byReference(ctx context.Context, tx *tenant.Tx, reference string) (Transaction, bool, error) {
	marker, ok, err := tenant.Lookup[tenant.Marker](ctx, tx, txRefBucket, reference)
	if err != nil || !ok {
		return Transaction{}, false, err
	}
	t, err := tenant.Get[Transaction](ctx, tx, txBucket, marker.Ref)
	if err != nil {
		return Transaction{}, false, err
	}
	return t, true, nil
}

// appendTx stores t and folds it into the session's running totals. Every
// append rewrites the session so a concurrent close observes the conflict.
func (s *Service) appendTx(ctx context.Context, tx *tenant.Tx, sess *Session, t Transaction) error {
	key := t.SessionID + "/" + t.ID
	if err := tx.Insert(ctx, txBucket, key, t); err != nil {
		return err
	}
	if t.Reference != "" {
		err := tx.Insert(ctx, txRefBucket, t.Reference, tenant.Marker{TenantID: t.TenantID, Ref: key})
		if errors.Is(err, store.ErrExists) {
			return shared.Conflictf("cash: reference %s already used", t.Reference)
		}
		if err != nil {
			return err
		}
	}
	if t.Kind.Inflow(t.Metadata) {
		sess.Inflow = sess.Inflow.Add(t.Amount)
	} else {
		sess.Outflow = sess.Outflow.Add(t.Amount)
	}
	sess.TxCount++
	return nil
}

// Close reconciles and closes a session. Closing is terminal.
func (s *Service) Close(ctx context.Context, in CloseInput) (Session, error) {
	if in.CountedAmount.IsNegative() {
		return Session{}, shared.Validationf("cash: counted amount must not be negative")
	}
	current, err := s.Get(ctx, in.SessionID)
	if err != nil {
		return Session{}, err
	}
	release, err := s.locker.Acquire(ctx, shared.RegisterLockKey(current.TenantID, current.RegisterID))
	if err != nil {
		return Session{}, err
	}
	defer release()

	var sess Session
	err = s.guard.Update(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		var err error
		sess, err = tenant.Get[Session](ctx, tx, sessionBucket, in.SessionID)
		if err != nil {
			return err
		}
		if sess.Status != SessionOpen {
			return shared.Conflictf("cash: session %s is %s", sess.ID, sess.Status)
		}
		now := s.clock()
		actor := shared.ActorFromContext(ctx)
		diff := in.CountedAmount.Sub(sess.Expected())
		if !diff.IsZero() {
			direction := directionOver
			if diff.IsNegative() {
				direction = directionShort
			}
			adjust := Transaction{
				TenantID:   sess.TenantID,
				ID:         uuid.Must(uuid.NewV7()).String(),
				SessionID:  sess.ID,
				RegisterID: sess.RegisterID,
				Kind:       KindClosingAdjust,
				Amount:     diff.Abs(),
				Metadata:   map[string]string{metaDirection: direction},
				CreatedBy:  actor,
				CreatedAt:  now,
			}
			if err := s.appendTx(ctx, tx, &sess, adjust); err != nil {
				return err
			}
		}
		counted := in.CountedAmount
		sess.Status = SessionClosed
		sess.ClosedAt = &now
		sess.ClosedBy = actor
		sess.CountedAmount = &counted
		sess.Discrepancy = &diff
		if err := tx.Put(ctx, sessionBucket, sess.ID, sess); err != nil {
			return err
		}
		return tx.Delete(ctx, openBucket, sess.RegisterID)
	})
	if err != nil {
		return Session{}, err
	}
	s.record(ctx, "cash.close", sess.TenantID, sess.ID, map[string]any{
		"register_id": sess.RegisterID,
		"counted":     in.CountedAmount.String(),
		"discrepancy": sess.Discrepancy.String(),
	})
	return sess, nil
}

// Get returns a session.
func (s *Service) Get(ctx context.Context, sessionID string) (Session, error) {
	var sess Session
	err := s.guard.View(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		var err error
		sess, err = tenant.Get[Session](ctx, tx, sessionBucket, sessionID)
		return err
	})
	return sess, err
}

// ActiveSession returns the OPEN session of a register.
func (s *Service) ActiveSession(ctx context.Context, registerID string) (Session, error) {
	var sess Session
	err := s.guard.View(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		marker, ok, err := tenant.Lookup[tenant.Marker](ctx, tx, openBucket, registerID)
		if err != nil {
			return err
		}
		if !ok {
			return shared.NotFoundf("cash: register %s has no open session", registerID)
		}
		sess, err = tenant.Get[Session](ctx, tx, sessionBucket, marker.Ref)
		return err
	})
	return sess, err
}

// Transactions lists a session's transactions in order.
func (s *Service) Transactions(ctx context.Context, sessionID string) ([]Transaction, error) {
	var out []Transaction
	err := s.guard.View(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		if _, err := tenant.Get[Session](ctx, tx, sessionBucket, sessionID); err != nil {
			return err
		}
		return tenant.Scan(ctx, tx, txBucket, sessionID+"/", func(_ string, t Transaction) error {
			out = append(out, t)
			return nil
		})
	})
	return out, err
}

func (s *Service) record(ctx context.Context, action, tenantID, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "cash_session",
		EntityID: entityID,
		Meta:     meta,
	})
}
