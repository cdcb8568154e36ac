package score

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/franz/media-organizer/internal/store"
	"github.com/franz/media-organizer/internal/util"
)

// ActiveModel is the decoded model behind the active version pointer.
type ActiveModel struct {
	Version int
	Model   *Model
}

// ModelSource yields the model scoring should use.
type ModelSource interface {
	Active(ctx context.Context) (*ActiveModel, error)
}

// Registry publishes immutable model versions and flips the active
// pointer. Decoded parameters are cached per version.
type Registry struct {
	store *store.Store

	mu    sync.Mutex
	cache map[int]*Model
}

// NewRegistry returns a registry backed by s.
func NewRegistry(s *store.Store) *Registry {
	return &Registry{store: s, cache: make(map[int]*Model)}
}

// Publish stores m as the next version without activating it. used is
// recorded as the model's training set in the same transaction.
func (r *Registry) Publish(ctx context.Context, m *Model, metrics Metrics, hyper TrainConfig, used []store.TrainingUse) (int, error) {
	if err := m.Validate(); err != nil {
		return 0, err
	}
	params, err := m.Encode()
	if err != nil {
		return 0, err
	}
	hp, err := json.Marshal(hyper)
	if err != nil {
		return 0, fmt.Errorf("failed to encode hyper-parameters: %w", err)
	}

	var version int
	err = r.store.InTx(ctx, func(tx *store.Tx) error {
		v, err := tx.InsertModel(ctx, &store.ModelRecord{
			ParamsJSON:         params,
			TrainingSize:       metrics.TrainingSize,
			ValidationSize:     metrics.ValidationSize,
			ValidationAccuracy: metrics.Accuracy,
			ValidationLogLoss:  metrics.LogLoss,
			HyperparamsJSON:    string(hp),
		})
		if err != nil {
			return err
		}
		version = v
		return tx.RecordTrainingSet(ctx, v, used)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to publish model: %w", err)
	}
	util.InfoLog("Published model version %d (accuracy %.3f, log-loss %.3f, %d feedback rows)",
		version, metrics.Accuracy, metrics.LogLoss, len(used))
	return version, nil
}

// Activate makes version the active model in one transaction.
func (r *Registry) Activate(ctx context.Context, version int) error {
	rec, err := r.store.GetModel(ctx, version)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("model version %d: %w", version, util.ErrNotFound)
	}
	if _, err := r.decode(rec); err != nil {
		return fmt.Errorf("refusing to activate model %d: %w", version, err)
	}

	if err := r.store.InTx(ctx, func(tx *store.Tx) error {
		return tx.ActivateModel(ctx, version)
	}); err != nil {
		return err
	}
	util.SuccessLog("Activated model version %d", version)
	return nil
}

// Active returns the active model, or ErrModelUnavailable.
func (r *Registry) Active(ctx context.Context) (*ActiveModel, error) {
	rec, err := r.store.GetActiveModel(ctx)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("no active model: %w", util.ErrModelUnavailable)
	}
	m, err := r.decode(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: active model %d: %v", util.ErrModelUnavailable, rec.Version, err)
	}
	return &ActiveModel{Version: rec.Version, Model: m}, nil
}

// List returns every published version, newest first.
func (r *Registry) List(ctx context.Context) ([]*store.ModelRecord, error) {
	return r.store.ListModels(ctx)
}

// Bootstrap publishes and activates the prior model when no model exists.
// It reports whether a model was created.
func (r *Registry) Bootstrap(ctx context.Context) (int, bool, error) {
	models, err := r.store.ListModels(ctx)
	if err != nil {
		return 0, false, err
	}
	if len(models) > 0 {
		return 0, false, nil
	}
	version, err := r.Publish(ctx, PriorModel(), Metrics{}, TrainConfig{}, nil)
	if err != nil {
		return 0, false, err
	}
	if err := r.Activate(ctx, version); err != nil {
		return 0, false, err
	}
	return version, true, nil
}

func (r *Registry) decode(rec *store.ModelRecord) (*Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.cache[rec.Version]; ok {
		return m, nil
	}
	m, err := DecodeModel(rec.ParamsJSON)
	if err != nil {
		return nil, err
	}
	r.cache[rec.Version] = m
	return m, nil
}
