package models

import "time"

// FunnelStep represents a step in the guided enrollment funnel.
type FunnelStep string

const (
	// StepMotivation explores why the user wants to join a bootcamp.
	StepMotivation FunnelStep = "motivation"
	// StepProgramSelection helps the user pick a program and location.
	StepProgramSelection FunnelStep = "program_selection"
	// StepCollectPersonalInfo gathers the user's contact and identity details.
	StepCollectPersonalInfo FunnelStep = "collect_personal_info"
	// StepVerifyInformation confirms the collected details with the user.
	StepVerifyInformation FunnelStep = "verify_information"
	// StepConfirmEnrollment asks for the final go-ahead before registering.
	StepConfirmEnrollment FunnelStep = "confirm_enrollment"
	// StepEnrollmentComplete is the terminal step after a successful registration.
	StepEnrollmentComplete FunnelStep = "enrollment_complete"
	// StepAlreadyRegistered is an absorbing side step for returning registrants.
	StepAlreadyRegistered FunnelStep = "already_registered"
)

// FunnelOrder lists the main funnel steps in conversation order.
// StepAlreadyRegistered sits outside the linear order.
var FunnelOrder = []FunnelStep{
	StepMotivation,
	StepProgramSelection,
	StepCollectPersonalInfo,
	StepVerifyInformation,
	StepConfirmEnrollment,
	StepEnrollmentComplete,
}

// IsValidFunnelStep checks if the given step is part of the funnel vocabulary.
func IsValidFunnelStep(step FunnelStep) bool {
	if step == StepAlreadyRegistered {
		return true
	}
	for _, s := range FunnelOrder {
		if s == step {
			return true
		}
	}
	return false
}

// IsTerminalFunnelStep reports whether the funnel never advances past the step.
func IsTerminalFunnelStep(step FunnelStep) bool {
	return step == StepEnrollmentComplete || step == StepAlreadyRegistered
}

// Personal info field keys stored in a user session.
const (
	FieldWaID     = "wa_id"
	FieldFullName = "full_name"
	FieldEmail    = "email"
	FieldPhone    = "phone"
	FieldAge      = "age"
	FieldLocation = "location"
	FieldProgram  = "program"
)

// RequiredPersonalInfoFields lists the fields that must be collected before
// a registration can be confirmed. FieldWaID is populated automatically.
var RequiredPersonalInfoFields = []string{FieldFullName, FieldEmail, FieldPhone, FieldAge}

// KnownPersonalInfoFields enumerates every field update_user_info may set.
var KnownPersonalInfoFields = []string{
	FieldWaID, FieldFullName, FieldEmail, FieldPhone, FieldAge, FieldLocation, FieldProgram,
}

// UserSession tracks one user's position in the enrollment funnel together
// with the personal info collected so far.
type UserSession struct {
	WaID         string            `json:"wa_id"`
	Step         FunnelStep        `json:"step"`
	PersonalInfo map[string]string `json:"personal_info"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// ConversationRole identifies the author of a conversation history entry.
type ConversationRole string

const (
	// RoleUser marks a message authored by the enrollee.
	RoleUser ConversationRole = "user"
	// RoleAssistant marks a message authored by the model.
	RoleAssistant ConversationRole = "assistant"
)

// ConversationMessage is one entry in a user's persisted transcript.
type ConversationMessage struct {
	Role    ConversationRole `json:"role"`
	Content string           `json:"content"`
	Time    int64            `json:"time,omitempty"`
}
