package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/franz/media-organizer/internal/report"
	"github.com/franz/media-organizer/internal/score"
	"github.com/franz/media-organizer/internal/util"
	"github.com/gofrs/flock"
)

// ErrRetrainRunning indicates another process holds the retraining lock.
var ErrRetrainRunning = errors.New("retraining already in progress")

// RetrainResult describes one retraining attempt.
type RetrainResult struct {
	Version   int
	Metrics   score.Metrics
	Activated bool
}

// LockPath is the retraining lock file for a database path.
func LockPath(dbPath string) string {
	return dbPath + ".retrain.lock"
}

// RetrainIfDue retrains once training.retrain_interval feedback rows have
// accumulated that no model was fitted on. It returns nil, nil when
// retraining is off or not yet due.
func (p *Pipeline) RetrainIfDue(ctx context.Context) (*RetrainResult, error) {
	cfg := p.provider.Current()
	if cfg.Training.RetrainInterval <= 0 {
		return nil, nil
	}
	n, err := p.store.CountUnusedFeedback(ctx, cfg.Features.SchemaVersion)
	if err != nil {
		return nil, err
	}
	if n < cfg.Training.RetrainInterval {
		util.DebugLog("%d new feedback rows, retraining after %d", n, cfg.Training.RetrainInterval)
		return nil, nil
	}
	util.InfoLog("%d new feedback rows since the last training run, retraining", n)
	return p.Retrain(ctx)
}

// Retrain fits a new model on all feedback, publishes it and activates it
// when it passes validation. A model that fails the gate stays published
// but inactive and ErrValidationFailed is returned with the result.
func (p *Pipeline) Retrain(ctx context.Context) (*RetrainResult, error) {
	cfg := p.provider.Current()
	r := p.newRun("")

	lock := flock.New(LockPath(cfg.DB))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire retraining lock: %w", err)
	}
	if !locked {
		return nil, ErrRetrainRunning
	}
	defer lock.Unlock()

	tcfg := score.TrainConfigFrom(cfg.Training)
	samples, err := score.BuildSamples(ctx, p.store, cfg.Features.SchemaVersion)
	if err != nil {
		return nil, err
	}
	util.InfoLog("Training on %d feedback samples", len(samples))

	model, metrics, err := score.Train(samples, cfg.Features.SchemaVersion, tcfg)
	if err != nil {
		r.record(ctx, report.Failure(report.StageTrain, 0, "", util.ErrorKind(err), err))
		return nil, err
	}
	version, err := p.models.Publish(ctx, model, metrics, tcfg, score.TrainingSet(samples))
	if err != nil {
		return nil, err
	}
	result := &RetrainResult{Version: version, Metrics: metrics}

	ev := &report.Event{
		Level: report.LevelInfo,
		Stage: report.StageTrain,
		Extra: map[string]string{
			"version":    strconv.Itoa(version),
			"train_size": strconv.Itoa(metrics.TrainingSize),
			"val_size":   strconv.Itoa(metrics.ValidationSize),
			"accuracy":   strconv.FormatFloat(metrics.Accuracy, 'f', 4, 64),
			"log_loss":   strconv.FormatFloat(metrics.LogLoss, 'f', 4, 64),
		},
	}
	if gateErr := score.Gate(metrics, tcfg); gateErr != nil {
		ev.Level = report.LevelWarning
		ev.ErrorKind = util.ErrorKind(gateErr)
		ev.Message = fmt.Sprintf("model v%d published but not activated", version)
		ev.Error = gateErr.Error()
		r.record(ctx, ev)
		return result, gateErr
	}

	if err := p.models.Activate(ctx, version); err != nil {
		return result, err
	}
	result.Activated = true
	ev.Message = fmt.Sprintf("model v%d activated", version)
	r.record(ctx, ev)
	util.SuccessLog("Model v%d activated (accuracy %.3f, log-loss %.3f on %d validation rows)",
		version, metrics.Accuracy, metrics.LogLoss, metrics.ValidationSize)
	return result, nil
}
