package models

import (
	"errors"
	"strings"
	"testing"
)

func TestSendMessageRequestValidate(t *testing.T) {
	cases := []struct {
		name string
		req  SendMessageRequest
		want error
	}{
		{"valid", SendMessageRequest{To: "212612345678", Body: "hello"}, nil},
		{"empty recipient", SendMessageRequest{Body: "hello"}, ErrEmptyRecipient},
		{"empty body", SendMessageRequest{To: "212612345678"}, ErrEmptyBody},
		{"body too long", SendMessageRequest{To: "212612345678", Body: strings.Repeat("a", MaxMessageBodyLength+1)}, ErrBodyTooLong},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if err := c.req.Validate(); !errors.Is(err, c.want) {
				t.Errorf("Validate() = %v, want %v", err, c.want)
			}
		})
	}
}

func TestProgramRequestValidate(t *testing.T) {
	valid := ProgramRequest{
		ProgramName:    "Full-Stack Web Development",
		Location:       "Casablanca",
		StartDate:      "2026-10-05",
		EndDate:        "2027-03-26",
		DurationMonths: 6,
		Price:          25000,
		AvailableSpots: 25,
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("expected valid request, got %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*ProgramRequest)
	}{
		{"missing name", func(r *ProgramRequest) { r.ProgramName = "" }},
		{"missing location", func(r *ProgramRequest) { r.Location = "" }},
		{"negative spots", func(r *ProgramRequest) { r.AvailableSpots = -1 }},
		{"bad start date", func(r *ProgramRequest) { r.StartDate = "05/10/2026" }},
		{"bad end date", func(r *ProgramRequest) { r.EndDate = "next spring" }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := valid
			c.mutate(&req)
			if err := req.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}

	// Dates are optional
	req := valid
	req.StartDate = ""
	req.EndDate = ""
	if err := req.Validate(); err != nil {
		t.Errorf("expected dates to be optional, got %v", err)
	}
}

func TestIsValidFunnelStep(t *testing.T) {
	for _, step := range FunnelOrder {
		if !IsValidFunnelStep(step) {
			t.Errorf("expected %q to be valid", step)
		}
	}
	if !IsValidFunnelStep(StepAlreadyRegistered) {
		t.Error("expected already_registered to be valid")
	}
	if IsValidFunnelStep("payment_pending") {
		t.Error("expected unknown step to be invalid")
	}
}
