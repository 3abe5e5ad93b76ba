// Package flow implements the conversational enrollment engine: the guided
// funnel state machine, the textual tool-call protocol, and the orchestrator
// that drives LLM conversations.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/EnrollPipe/internal/models"
	"github.com/BTreeMap/EnrollPipe/internal/store"
)

// InvalidStepError reports an attempt to set a step outside the funnel vocabulary.
type InvalidStepError struct {
	Step models.FunnelStep
}

func (e *InvalidStepError) Error() string {
	return fmt.Sprintf("invalid funnel step %q (valid steps: %v and %q)", e.Step, models.FunnelOrder, models.StepAlreadyRegistered)
}

// UnknownFieldError reports an attempt to update a personal info field that
// is not part of the session schema.
type UnknownFieldError struct {
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown personal info field %q (known fields: %v)", e.Field, models.KnownPersonalInfoFields)
}

// FunnelManager defines operations on a user's position in the enrollment funnel.
type FunnelManager interface {
	GetCurrentStep(ctx context.Context, waID string) (models.FunnelStep, error)
	SetStep(ctx context.Context, waID string, step models.FunnelStep) error
	Advance(ctx context.Context, waID string) (models.FunnelStep, error)
	UpdateField(ctx context.Context, waID, field, value string) error
	GetPersonalInfo(ctx context.Context, waID string) (map[string]string, error)
	VerifyCompleteness(ctx context.Context, waID string) (bool, []string, error)
	MarkAlreadyRegistered(ctx context.Context, waID string) error
}

// StoreFunnel is a store-backed FunnelManager.
type StoreFunnel struct {
	store store.Store
}

var _ FunnelManager = (*StoreFunnel)(nil)

// NewStoreFunnel creates a funnel manager backed by the given store.
func NewStoreFunnel(st store.Store) *StoreFunnel {
	return &StoreFunnel{store: st}
}

// loadSession fetches the user's session, lazily creating one at the first
// funnel step. A stored step outside the vocabulary is treated as corrupted
// state and healed back to the first step.
func (f *StoreFunnel) loadSession(waID string) (*models.UserSession, error) {
	sess, err := f.store.GetSession(waID)
	if err != nil {
		slog.Error("StoreFunnel.loadSession: failed to get session", "error", err, "waID", waID)
		return nil, fmt.Errorf("failed to load session for %s: %w", waID, err)
	}
	if sess == nil {
		now := time.Now().UTC()
		sess = &models.UserSession{
			WaID:         waID,
			Step:         models.StepMotivation,
			PersonalInfo: map[string]string{models.FieldWaID: waID},
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := f.store.SaveSession(*sess); err != nil {
			return nil, fmt.Errorf("failed to initialize session for %s: %w", waID, err)
		}
		slog.Debug("StoreFunnel.loadSession: initialized new session", "waID", waID, "step", sess.Step)
		return sess, nil
	}
	if sess.PersonalInfo == nil {
		sess.PersonalInfo = make(map[string]string)
	}
	if !models.IsValidFunnelStep(sess.Step) {
		slog.Warn("StoreFunnel.loadSession: healing corrupted step", "waID", waID, "storedStep", sess.Step)
		sess.Step = models.StepMotivation
		sess.UpdatedAt = time.Now().UTC()
		if err := f.store.SaveSession(*sess); err != nil {
			return nil, fmt.Errorf("failed to heal session for %s: %w", waID, err)
		}
	}
	return sess, nil
}

func (f *StoreFunnel) saveSession(sess *models.UserSession) error {
	sess.UpdatedAt = time.Now().UTC()
	return f.store.SaveSession(*sess)
}

// GetCurrentStep returns the user's current funnel step, initializing the
// session if needed.
func (f *StoreFunnel) GetCurrentStep(ctx context.Context, waID string) (models.FunnelStep, error) {
	sess, err := f.loadSession(waID)
	if err != nil {
		return "", err
	}
	slog.Debug("StoreFunnel.GetCurrentStep", "waID", waID, "step", sess.Step)
	return sess.Step, nil
}

// SetStep moves the user to the given step. Steps outside the funnel
// vocabulary are rejected with an InvalidStepError.
func (f *StoreFunnel) SetStep(ctx context.Context, waID string, step models.FunnelStep) error {
	if !models.IsValidFunnelStep(step) {
		slog.Debug("StoreFunnel.SetStep: rejected invalid step", "waID", waID, "step", step)
		return &InvalidStepError{Step: step}
	}
	sess, err := f.loadSession(waID)
	if err != nil {
		return err
	}
	sess.Step = step
	if err := f.saveSession(sess); err != nil {
		slog.Error("StoreFunnel.SetStep: failed to save session", "error", err, "waID", waID)
		return fmt.Errorf("failed to set step for %s: %w", waID, err)
	}
	slog.Info("StoreFunnel.SetStep: step updated", "waID", waID, "step", step)
	return nil
}

// Advance moves the user to the next funnel step and returns it. Terminal
// steps do not advance.
func (f *StoreFunnel) Advance(ctx context.Context, waID string) (models.FunnelStep, error) {
	sess, err := f.loadSession(waID)
	if err != nil {
		return "", err
	}
	if models.IsTerminalFunnelStep(sess.Step) {
		slog.Debug("StoreFunnel.Advance: terminal step, staying put", "waID", waID, "step", sess.Step)
		return sess.Step, nil
	}
	for i, s := range models.FunnelOrder {
		if s == sess.Step && i+1 < len(models.FunnelOrder) {
			sess.Step = models.FunnelOrder[i+1]
			break
		}
	}
	if err := f.saveSession(sess); err != nil {
		slog.Error("StoreFunnel.Advance: failed to save session", "error", err, "waID", waID)
		return "", fmt.Errorf("failed to advance step for %s: %w", waID, err)
	}
	slog.Info("StoreFunnel.Advance: advanced", "waID", waID, "step", sess.Step)
	return sess.Step, nil
}

// UpdateField sets one personal info field on the user's session.
func (f *StoreFunnel) UpdateField(ctx context.Context, waID, field, value string) error {
	known := false
	for _, k := range models.KnownPersonalInfoFields {
		if k == field {
			known = true
			break
		}
	}
	if !known {
		slog.Debug("StoreFunnel.UpdateField: rejected unknown field", "waID", waID, "field", field)
		return &UnknownFieldError{Field: field}
	}
	sess, err := f.loadSession(waID)
	if err != nil {
		return err
	}
	sess.PersonalInfo[field] = value
	if err := f.saveSession(sess); err != nil {
		slog.Error("StoreFunnel.UpdateField: failed to save session", "error", err, "waID", waID, "field", field)
		return fmt.Errorf("failed to update field %s for %s: %w", field, waID, err)
	}
	slog.Debug("StoreFunnel.UpdateField: field updated", "waID", waID, "field", field)
	return nil
}

// GetPersonalInfo returns a copy of the user's collected personal info.
func (f *StoreFunnel) GetPersonalInfo(ctx context.Context, waID string) (map[string]string, error) {
	sess, err := f.loadSession(waID)
	if err != nil {
		return nil, err
	}
	info := make(map[string]string, len(sess.PersonalInfo))
	for k, v := range sess.PersonalInfo {
		info[k] = v
	}
	return info, nil
}

// VerifyCompleteness reports whether all required personal info fields are
// present, listing any that are missing. The reserved wa_id field is
// auto-populated with the user's own id as a side effect.
func (f *StoreFunnel) VerifyCompleteness(ctx context.Context, waID string) (bool, []string, error) {
	sess, err := f.loadSession(waID)
	if err != nil {
		return false, nil, err
	}
	if sess.PersonalInfo[models.FieldWaID] == "" {
		sess.PersonalInfo[models.FieldWaID] = waID
		if err := f.saveSession(sess); err != nil {
			return false, nil, fmt.Errorf("failed to populate wa_id for %s: %w", waID, err)
		}
		slog.Debug("StoreFunnel.VerifyCompleteness: auto-populated wa_id", "waID", waID)
	}
	var missing []string
	for _, field := range models.RequiredPersonalInfoFields {
		if sess.PersonalInfo[field] == "" {
			missing = append(missing, field)
		}
	}
	slog.Debug("StoreFunnel.VerifyCompleteness", "waID", waID, "complete", len(missing) == 0, "missing", missing)
	return len(missing) == 0, missing, nil
}

// MarkAlreadyRegistered parks the user in the already_registered side step.
// The transition only applies while collecting personal info; other steps
// keep their position.
func (f *StoreFunnel) MarkAlreadyRegistered(ctx context.Context, waID string) error {
	sess, err := f.loadSession(waID)
	if err != nil {
		return err
	}
	if sess.Step != models.StepCollectPersonalInfo {
		slog.Debug("StoreFunnel.MarkAlreadyRegistered: not collecting info, leaving step", "waID", waID, "step", sess.Step)
		return nil
	}
	sess.Step = models.StepAlreadyRegistered
	if err := f.saveSession(sess); err != nil {
		return fmt.Errorf("failed to mark %s already registered: %w", waID, err)
	}
	slog.Info("StoreFunnel.MarkAlreadyRegistered: user parked", "waID", waID)
	return nil
}
