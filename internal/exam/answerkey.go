package exam

import (
	"context"
	"log"
)

// KeyCache is an optional read-through cache for answer keys. Misses and
// cache errors fall back to the store.
type KeyCache interface {
	GetKey(ctx context.Context, examID string) ([]KeyEntry, bool, error)
	SetKey(ctx context.Context, examID string, key []KeyEntry) error
	Invalidate(ctx context.Context, examID string) error
}

type AnswerKeyResolver struct {
	store Store
	cache KeyCache
}

func NewAnswerKeyResolver(store Store, cache KeyCache) *AnswerKeyResolver {
	return &AnswerKeyResolver{store: store, cache: cache}
}

// Resolve returns the exam's answer key in authoring order. Inactive exams are
// only visible to authoring roles.
func (r *AnswerKeyResolver) Resolve(ctx context.Context, examID string, role Role) ([]KeyEntry, error) {
	e, err := r.store.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	return r.resolveFor(ctx, e, role)
}

func (r *AnswerKeyResolver) resolveFor(ctx context.Context, e *Exam, role Role) ([]KeyEntry, error) {
	if !e.IsActive && !role.CanAuthor() {
		return nil, ErrInactive
	}

	if r.cache != nil {
		key, ok, err := r.cache.GetKey(ctx, e.ID)
		if err != nil {
			log.Printf("answer key cache get exam=%s: %v", e.ID, err)
		} else if ok {
			return key, nil
		}
	}

	key, err := r.store.ListAnswerKey(ctx, e.ID)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.SetKey(ctx, e.ID, key); err != nil {
			log.Printf("answer key cache set exam=%s: %v", e.ID, err)
		}
	}
	return key, nil
}

func (r *AnswerKeyResolver) Invalidate(ctx context.Context, examID string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Invalidate(ctx, examID); err != nil {
		log.Printf("answer key cache invalidate exam=%s: %v", examID, err)
	}
}

// AnswerKey exposes the resolved key to authoring roles.
func (s *Service) AnswerKey(ctx context.Context, examID string, role Role) ([]KeyEntry, error) {
	if !role.CanAuthor() {
		return nil, ErrKeyRestricted
	}
	return s.keys.Resolve(ctx, examID, role)
}
