package services

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultOrphanGrace is how old an unreferenced object must be before Orphans reports
// it. Younger objects may belong to an upload whose ledger insert has not landed yet.
const DefaultOrphanGrace = time.Hour

// ObjectLister walks stored document objects, backup copies included.
type ObjectLister interface {
	ListObjects(ctx context.Context, fn func(obj ObjectInfo) error) error
}

// ReconcileAction describes one (user, category) whose extra active documents were, or
// would be, archived.
type ReconcileAction struct {
	UserID     string   `json:"user_id"`
	CategoryID string   `json:"category_id"`
	KeptID     string   `json:"kept_id"`
	RetiredIDs []string `json:"retired_ids"`
}

// Reconciler repairs what the tolerated upload race and best-effort cleanup can leave
// behind: duplicate active documents and objects without a ledger row.
type Reconciler struct {
	ledger  DocumentLedger
	storage StorageEngine
	objects ObjectLister
	grace   time.Duration
	clock   Clock
	log     *zap.Logger
}

func NewReconciler(ledger DocumentLedger, storage StorageEngine, objects ObjectLister, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		ledger:  ledger,
		storage: storage,
		objects: objects,
		grace:   DefaultOrphanGrace,
		clock:   SystemClock(),
		log:     log.Named("reconcile"),
	}
}

// WithGracePeriod changes the minimum age of an object Orphans will consider.
func (r *Reconciler) WithGracePeriod(d time.Duration) *Reconciler {
	if d < 0 {
		d = 0
	}
	r.grace = d
	return r
}

// Duplicates keeps the newest active document per (user, category) and, when apply is
// set, retires the others.
func (r *Reconciler) Duplicates(ctx context.Context, apply bool, actor string) ([]ReconcileAction, SideEffects, error) {
	var effects SideEffects
	groups, err := r.ledger.FindDuplicateActive(ctx)
	if err != nil {
		return nil, effects, err
	}

	actions := make([]ReconcileAction, 0, len(groups))
	for _, g := range groups {
		docs, err := r.ledger.FindActiveInCategory(ctx, g.UserID, g.CategoryID)
		if err != nil {
			return actions, effects, err
		}
		if len(docs) < 2 {
			continue
		}
		action := ReconcileAction{UserID: g.UserID, CategoryID: g.CategoryID, KeptID: docs[0].ID}
		extra := docs[1:]
		if apply {
			retired, fx := RetireDocuments(ctx, r.storage, r.ledger, extra, actor, "reconciled duplicate of "+docs[0].ID, r.log)
			action.RetiredIDs = retired
			effects.Merge(fx)
		} else {
			for _, d := range extra {
				action.RetiredIDs = append(action.RetiredIDs, d.ID)
			}
		}
		actions = append(actions, action)
	}
	return actions, effects, nil
}

// Orphans lists stored objects and backup copies that no ledger row references and
// deletes them when apply is set. Objects modified within the grace period are skipped.
func (r *Reconciler) Orphans(ctx context.Context, apply bool) ([]string, error) {
	var orphans []string
	cutoff := r.clock.Now().Add(-r.grace)
	err := r.objects.ListObjects(ctx, func(obj ObjectInfo) error {
		if obj.LastModified.After(cutoff) {
			r.log.Debug("object too recent to reconcile", zap.String("path", obj.Key))
			return nil
		}
		known, err := r.ledger.HasStoragePath(ctx, obj.Key)
		if err != nil {
			return err
		}
		if !known {
			orphans = append(orphans, obj.Key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if apply {
		for _, key := range orphans {
			req := DeleteRequest{Path: key}
			if strings.HasPrefix(key, backupPrefix) {
				req = DeleteRequest{BackupPath: key}
			}
			if err := r.storage.Delete(ctx, req); err != nil {
				r.log.Warn("orphan delete failed", zap.String("path", key), zap.Error(err))
				continue
			}
			r.log.Info("orphan deleted", zap.String("path", key))
		}
	}
	return orphans, nil
}
