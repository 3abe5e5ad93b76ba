package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/BTreeMap/EnrollPipe/internal/models"
	"github.com/BTreeMap/EnrollPipe/internal/store"
)

func TestGetCurrentStepInitializesSession(t *testing.T) {
	st := store.NewInMemoryStore()
	funnel := NewStoreFunnel(st)
	ctx := context.Background()

	step, err := funnel.GetCurrentStep(ctx, "31612345678")
	if err != nil {
		t.Fatalf("GetCurrentStep failed: %v", err)
	}
	if step != models.StepMotivation {
		t.Errorf("expected new sessions to start at %q, got %q", models.StepMotivation, step)
	}

	// wa_id is seeded into personal info at session creation
	info, err := funnel.GetPersonalInfo(ctx, "31612345678")
	if err != nil {
		t.Fatalf("GetPersonalInfo failed: %v", err)
	}
	if info[models.FieldWaID] != "31612345678" {
		t.Errorf("expected wa_id to be seeded, got %q", info[models.FieldWaID])
	}
}

func TestAdvanceWalksFunnelInOrder(t *testing.T) {
	st := store.NewInMemoryStore()
	funnel := NewStoreFunnel(st)
	ctx := context.Background()
	waID := "31612345678"

	expected := []models.FunnelStep{
		models.StepProgramSelection,
		models.StepCollectPersonalInfo,
		models.StepVerifyInformation,
		models.StepConfirmEnrollment,
		models.StepEnrollmentComplete,
	}
	for _, want := range expected {
		got, err := funnel.Advance(ctx, waID)
		if err != nil {
			t.Fatalf("Advance failed: %v", err)
		}
		if got != want {
			t.Fatalf("expected step %q, got %q", want, got)
		}
	}
}

func TestAdvanceStaysAtTerminalStep(t *testing.T) {
	st := store.NewInMemoryStore()
	funnel := NewStoreFunnel(st)
	ctx := context.Background()
	waID := "31612345678"

	if err := funnel.SetStep(ctx, waID, models.StepEnrollmentComplete); err != nil {
		t.Fatalf("SetStep failed: %v", err)
	}
	step, err := funnel.Advance(ctx, waID)
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if step != models.StepEnrollmentComplete {
		t.Errorf("expected terminal step to stay put, got %q", step)
	}

	if err := funnel.SetStep(ctx, waID, models.StepAlreadyRegistered); err != nil {
		t.Fatalf("SetStep failed: %v", err)
	}
	step, err = funnel.Advance(ctx, waID)
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if step != models.StepAlreadyRegistered {
		t.Errorf("expected already_registered to stay put, got %q", step)
	}
}

func TestSetStepRejectsInvalidStep(t *testing.T) {
	st := store.NewInMemoryStore()
	funnel := NewStoreFunnel(st)

	err := funnel.SetStep(context.Background(), "31612345678", "flying")
	if err == nil {
		t.Fatal("expected error for invalid step")
	}
	var invalid *InvalidStepError
	if !errors.As(err, &invalid) {
		t.Errorf("expected InvalidStepError, got %T", err)
	}
}

func TestLoadSessionHealsCorruptedStep(t *testing.T) {
	st := store.NewInMemoryStore()
	funnel := NewStoreFunnel(st)
	ctx := context.Background()
	waID := "31612345678"

	if err := st.SaveSession(models.UserSession{WaID: waID, Step: "corrupted_step"}); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	step, err := funnel.GetCurrentStep(ctx, waID)
	if err != nil {
		t.Fatalf("GetCurrentStep failed: %v", err)
	}
	if step != models.StepMotivation {
		t.Errorf("expected corrupted step to heal to %q, got %q", models.StepMotivation, step)
	}

	// The healed step is persisted
	sess, err := st.GetSession(waID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if sess.Step != models.StepMotivation {
		t.Errorf("expected healed step to be saved, got %q", sess.Step)
	}
}

func TestUpdateFieldRejectsUnknownField(t *testing.T) {
	st := store.NewInMemoryStore()
	funnel := NewStoreFunnel(st)

	err := funnel.UpdateField(context.Background(), "31612345678", "favorite_color", "blue")
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
	var unknown *UnknownFieldError
	if !errors.As(err, &unknown) {
		t.Errorf("expected UnknownFieldError, got %T", err)
	}
}

func TestVerifyCompleteness(t *testing.T) {
	st := store.NewInMemoryStore()
	funnel := NewStoreFunnel(st)
	ctx := context.Background()
	waID := "31612345678"

	complete, missing, err := funnel.VerifyCompleteness(ctx, waID)
	if err != nil {
		t.Fatalf("VerifyCompleteness failed: %v", err)
	}
	if complete {
		t.Error("expected fresh session to be incomplete")
	}
	if len(missing) != len(models.RequiredPersonalInfoFields) {
		t.Errorf("expected %d missing fields, got %v", len(models.RequiredPersonalInfoFields), missing)
	}

	for field, value := range map[string]string{
		models.FieldFullName: "Sara Benali",
		models.FieldEmail:    "sara@example.com",
		models.FieldPhone:    "31612345678",
		models.FieldAge:      "24",
	} {
		if err := funnel.UpdateField(ctx, waID, field, value); err != nil {
			t.Fatalf("UpdateField(%s) failed: %v", field, err)
		}
	}

	complete, missing, err = funnel.VerifyCompleteness(ctx, waID)
	if err != nil {
		t.Fatalf("VerifyCompleteness failed: %v", err)
	}
	if !complete {
		t.Errorf("expected session to be complete, still missing %v", missing)
	}
}

func TestVerifyCompletenessAutoPopulatesWaID(t *testing.T) {
	st := store.NewInMemoryStore()
	funnel := NewStoreFunnel(st)
	ctx := context.Background()
	waID := "31612345678"

	// Simulate an older session saved without wa_id in personal info
	if err := st.SaveSession(models.UserSession{
		WaID:         waID,
		Step:         models.StepCollectPersonalInfo,
		PersonalInfo: map[string]string{},
	}); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	if _, _, err := funnel.VerifyCompleteness(ctx, waID); err != nil {
		t.Fatalf("VerifyCompleteness failed: %v", err)
	}

	info, err := funnel.GetPersonalInfo(ctx, waID)
	if err != nil {
		t.Fatalf("GetPersonalInfo failed: %v", err)
	}
	if info[models.FieldWaID] != waID {
		t.Errorf("expected wa_id to be auto-populated, got %q", info[models.FieldWaID])
	}
}

func TestMarkAlreadyRegistered(t *testing.T) {
	st := store.NewInMemoryStore()
	funnel := NewStoreFunnel(st)
	ctx := context.Background()
	waID := "31612345678"

	// Parking only applies while collecting personal info
	if err := funnel.MarkAlreadyRegistered(ctx, waID); err != nil {
		t.Fatalf("MarkAlreadyRegistered failed: %v", err)
	}
	step, _ := funnel.GetCurrentStep(ctx, waID)
	if step != models.StepMotivation {
		t.Errorf("expected step unchanged at motivation, got %q", step)
	}

	if err := funnel.SetStep(ctx, waID, models.StepCollectPersonalInfo); err != nil {
		t.Fatalf("SetStep failed: %v", err)
	}
	if err := funnel.MarkAlreadyRegistered(ctx, waID); err != nil {
		t.Fatalf("MarkAlreadyRegistered failed: %v", err)
	}
	step, _ = funnel.GetCurrentStep(ctx, waID)
	if step != models.StepAlreadyRegistered {
		t.Errorf("expected user parked at already_registered, got %q", step)
	}
}
