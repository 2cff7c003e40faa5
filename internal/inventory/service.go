// Package inventory is the append-only stock ledger. Stock-on-hand is a
// projection maintained in the same transaction as every append.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/backoffice/internal/catalog"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/internal/store"
	"github.com/odyssey-erp/backoffice/internal/tenant"
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog)
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// EnforceNonNegative rejects movements that would drive stock below zero.
	EnforceNonNegative bool
}

// Service coordinates ledger operations.
type Service struct {
	guard   *tenant.Guard
	catalog catalog.Provider
	audit   AuditPort
	logger  *slog.Logger
	cfg     ServiceConfig
	group   singleflight.Group
	clock   func() time.Time
}

// NewService builds Service.
func NewService(guard *tenant.Guard, provider catalog.Provider, audit AuditPort, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		guard:   guard,
		catalog: provider,
		audit:   audit,
		logger:  logger,
		cfg:     cfg,
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

// Record appends a movement in its own transaction.
func (s *Service) Record(ctx context.Context, in MovementInput) (Movement, error) {
	var mv Movement
	err := s.guard.Update(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		var err error
		mv, err = s.RecordInTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return Movement{}, err
	}
	s.record(ctx, "inventory.record", mv)
	return mv, nil
}

// RecordInTx appends a movement inside the caller's transaction.
func (s *Service) RecordInTx(ctx context.Context, tx *tenant.Tx, in MovementInput) (Movement, error) {
	if err := in.Validate(); err != nil {
		return Movement{}, err
	}
	if err := s.checkReferences(ctx, tx, in); err != nil {
		return Movement{}, err
	}
	mv := Movement{
		TenantID:        tx.TenantID(),
		ID:              uuid.Must(uuid.NewV7()).String(),
		ProductID:       in.ProductID,
		Type:            in.Type,
		Quantity:        in.Quantity,
		SourceWarehouse: in.SourceWarehouse,
		DestWarehouse:   in.DestWarehouse,
		RefDocument:     in.RefDocument,
		ReversalOf:      in.reversalOf,
		IdempotencyKey:  in.IdempotencyKey,
		Note:            in.Note,
		CreatedBy:       shared.ActorFromContext(ctx),
		CreatedAt:       s.clock(),
	}
	if in.IdempotencyKey != "" {
		err := tx.Insert(ctx, movementKeys, in.IdempotencyKey, tenant.Marker{TenantID: mv.TenantID, Ref: mv.ID})
		if errors.Is(err, store.ErrExists) {
			return Movement{}, shared.Conflictf("inventory: movement key %s already used", in.IdempotencyKey)
		}
		if err != nil {
			return Movement{}, err
		}
	}
	if err := tx.Insert(ctx, movementBucket, mv.ID, mv); err != nil {
		return Movement{}, err
	}
	marker := tenant.Marker{TenantID: mv.TenantID, Ref: mv.ID}
	if err := tx.Put(ctx, byProductBucket, mv.ProductID+"/"+mv.ID, marker); err != nil {
		return Movement{}, err
	}
	if mv.RefDocument != "" {
		if err := tx.Put(ctx, byRefBucket, mv.RefDocument+"/"+mv.ID, marker); err != nil {
			return Movement{}, err
		}
	}
	for _, wh := range []string{mv.SourceWarehouse, mv.DestWarehouse} {
		if wh == "" {
			continue
		}
		if err := s.project(ctx, tx, mv, wh); err != nil {
			return Movement{}, err
		}
	}
	return mv, nil
}

func (s *Service) checkReferences(ctx context.Context, tx *tenant.Tx, in MovementInput) error {
	product, err := s.catalog.Product(ctx, tx.TenantID(), in.ProductID)
	if err != nil {
		return err
	}
	if err := tx.Verify(productsEntity, in.ProductID, product); err != nil {
		return err
	}
	for _, id := range []string{in.SourceWarehouse, in.DestWarehouse} {
		if id == "" {
			continue
		}
		wh, err := s.catalog.Warehouse(ctx, tx.TenantID(), id)
		if err != nil {
			return err
		}
		if err := tx.Verify(warehousesEntity, id, wh); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) project(ctx context.Context, tx *tenant.Tx, mv Movement, warehouseID string) error {
	id := stockID(mv.ProductID, warehouseID)
	level, ok, err := tenant.Lookup[StockLevel](ctx, tx, stockBucket, id)
	if err != nil {
		return err
	}
	if !ok {
		level = StockLevel{TenantID: tx.TenantID(), ProductID: mv.ProductID, WarehouseID: warehouseID}
	}
	level.Quantity = level.Quantity.Add(mv.Delta(warehouseID))
	level.UpdatedAt = mv.CreatedAt
	if s.cfg.EnforceNonNegative && level.Quantity.IsNegative() {
		return fmt.Errorf("%w: %s in %s would be %s", shared.ErrInsufficientStock, mv.ProductID, warehouseID, level.Quantity)
	}
	return tx.Put(ctx, stockBucket, id, level)
}

// Reverse appends the movement that undoes movementID. A movement can be reversed once.
func (s *Service) Reverse(ctx context.Context, movementID, note string) (Movement, error) {
	var mv Movement
	err := s.guard.Update(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		var err error
		mv, err = s.ReverseInTx(ctx, tx, movementID, "", note)
		return err
	})
	if err != nil {
		return Movement{}, err
	}
	s.record(ctx, "inventory.reverse", mv)
	return mv, nil
}

// ReverseInTx reverses inside the caller's transaction. refDocument defaults
// to the original movement id.
func (s *Service) ReverseInTx(ctx context.Context, tx *tenant.Tx, movementID, refDocument, note string) (Movement, error) {
	original, err := tenant.Get[Movement](ctx, tx, movementBucket, movementID)
	if err != nil {
		return Movement{}, err
	}
	if original.ReversalOf != "" {
		return Movement{}, shared.Conflictf("inventory: movement %s is itself a reversal", movementID)
	}
	in := opposite(original)
	in.RefDocument = refDocument
	if in.RefDocument == "" {
		in.RefDocument = original.ID
	}
	in.Note = note
	mv, err := s.RecordInTx(ctx, tx, in)
	if err != nil {
		return Movement{}, err
	}
	err = tx.Insert(ctx, reversalsBucket, original.ID, tenant.Marker{TenantID: tx.TenantID(), Ref: mv.ID})
	if errors.Is(err, store.ErrExists) {
		return Movement{}, shared.Conflictf("inventory: movement %s already reversed", movementID)
	}
	if err != nil {
		return Movement{}, err
	}
	return mv, nil
}

// ReversalInTx returns the id of the movement that reversed movementID, if any.
func (s *Service) ReversalInTx(ctx context.Context, tx *tenant.Tx, movementID string) (string, bool, error) {
	marker, ok, err := tenant.Lookup[tenant.Marker](ctx, tx, reversalsBucket, movementID)
	if err != nil || !ok {
		return "", false, err
	}
	return marker.Ref, true, nil
}

// Get returns one movement.
func (s *Service) Get(ctx context.Context, id string) (Movement, error) {
	var mv Movement
	err := s.guard.View(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		var err error
		mv, err = tenant.Get[Movement](ctx, tx, movementBucket, id)
		return err
	})
	return mv, err
}

// StockOf returns the projected quantity of a product in a warehouse.
func (s *Service) StockOf(ctx context.Context, productID, warehouseID string) (decimal.Decimal, error) {
	qty := decimal.Zero
	err := s.guard.View(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		var err error
		qty, err = s.StockOfInTx(ctx, tx, productID, warehouseID)
		return err
	})
	return qty, err
}

// StockOfInTx reads the projection inside the caller's transaction.
func (s *Service) StockOfInTx(ctx context.Context, tx *tenant.Tx, productID, warehouseID string) (decimal.Decimal, error) {
	level, ok, err := tenant.Lookup[StockLevel](ctx, tx, stockBucket, stockID(productID, warehouseID))
	if err != nil || !ok {
		return decimal.Zero, err
	}
	return level.Quantity, nil
}

// StockLevels lists the projection of one product across warehouses.
func (s *Service) StockLevels(ctx context.Context, productID string) ([]StockLevel, error) {
	var out []StockLevel
	err := s.guard.View(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		return tenant.Scan(ctx, tx, stockBucket, productID+"/", func(_ string, level StockLevel) error {
			out = append(out, level)
			return nil
		})
	})
	return out, err
}

// RecomputeStock folds the ledger for one product and warehouse. Concurrent
// calls for the same key share one fold.
func (s *Service) RecomputeStock(ctx context.Context, productID, warehouseID string) (decimal.Decimal, error) {
	tenantID, err := s.guard.Resolve(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	key := tenantID + "/" + stockID(productID, warehouseID)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		return s.foldStock(ctx, productID, warehouseID)
	})
	select {
	case <-ctx.Done():
		return decimal.Zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return decimal.Zero, res.Err
		}
		return res.Val.(decimal.Decimal), nil
	}
}

// foldStock reads and folds the ledger detached from ctx cancellation: the
// result is shared by every caller waiting on the same key.
func (s *Service) foldStock(ctx context.Context, productID, warehouseID string) (decimal.Decimal, error) {
	var movements []Movement
	err := s.guard.View(context.WithoutCancel(ctx), func(ctx context.Context, tx *tenant.Tx) error {
		var err error
		movements, err = s.movementsByIndex(ctx, tx, byProductBucket, productID)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	return Fold(movements, productID, warehouseID), nil
}

// Verify compares every projected level with a full fold of the ledger.
func (s *Service) Verify(ctx context.Context) ([]Discrepancy, error) {
	var out []Discrepancy
	err := s.guard.View(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		folded := make(map[string]Discrepancy)
		err := tenant.Scan(ctx, tx, movementBucket, "", func(_ string, mv Movement) error {
			for _, wh := range []string{mv.SourceWarehouse, mv.DestWarehouse} {
				if wh == "" {
					continue
				}
				id := stockID(mv.ProductID, wh)
				d := folded[id]
				d.ProductID, d.WarehouseID = mv.ProductID, wh
				d.Recomputed = d.Recomputed.Add(mv.Delta(wh))
				folded[id] = d
			}
			return nil
		})
		if err != nil {
			return err
		}
		err = tenant.Scan(ctx, tx, stockBucket, "", func(id string, level StockLevel) error {
			d, ok := folded[id]
			if !ok {
				d = Discrepancy{ProductID: level.ProductID, WarehouseID: level.WarehouseID}
			}
			d.Projected = level.Quantity
			folded[id] = d
			return nil
		})
		if err != nil {
			return err
		}
		for _, d := range folded {
			if !d.Projected.Equal(d.Recomputed) {
				out = append(out, d)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) > 0 {
		s.logger.Error("stock projection drift", slog.Int("count", len(out)))
	}
	return out, nil
}

// Movements lists movements matching the filter in append order.
func (s *Service) Movements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	var out []Movement
	err := s.guard.View(ctx, func(ctx context.Context, tx *tenant.Tx) error {
		var (
			all []Movement
			err error
		)
		switch {
		case filter.RefDocument != "":
			all, err = s.movementsByIndex(ctx, tx, byRefBucket, filter.RefDocument)
		case filter.ProductID != "":
			all, err = s.movementsByIndex(ctx, tx, byProductBucket, filter.ProductID)
		default:
			err = tenant.Scan(ctx, tx, movementBucket, "", func(_ string, mv Movement) error {
				all = append(all, mv)
				return nil
			})
		}
		if err != nil {
			return err
		}
		for _, mv := range all {
			if filter.ProductID != "" && mv.ProductID != filter.ProductID {
				continue
			}
			if filter.WarehouseID != "" && mv.SourceWarehouse != filter.WarehouseID && mv.DestWarehouse != filter.WarehouseID {
				continue
			}
			out = append(out, mv)
			if filter.Limit > 0 && len(out) >= filter.Limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (s *Service) movementsByIndex(ctx context.Context, tx *tenant.Tx, bucket, prefix string) ([]Movement, error) {
	var ids []string
	err := tenant.Scan(ctx, tx, bucket, prefix+"/", func(_ string, m tenant.Marker) error {
		ids = append(ids, m.Ref)
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]Movement, 0, len(ids))
	for _, id := range ids {
		mv, err := tenant.Get[Movement](ctx, tx, movementBucket, id)
		if err != nil {
			return nil, err
		}
		out = append(out, mv)
	}
	return out, nil
}

func (s *Service) record(ctx context.Context, action string, mv Movement) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, shared.AuditLog{
		TenantID: mv.TenantID,
		ActorID:  mv.CreatedBy,
		Action:   action,
		Entity:   "inventory_movement",
		EntityID: mv.ID,
		Meta: map[string]any{
			"product_id": mv.ProductID,
			"type":       string(mv.Type),
			"quantity":   mv.Quantity.String(),
			"ref":        mv.RefDocument,
		},
	})
}
