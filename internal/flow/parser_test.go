package flow

import (
	"reflect"
	"testing"
)

func TestParseToolCallsNoTokens(t *testing.T) {
	text := "Hello! How can I help you today?"
	clean, calls := ParseToolCalls(text)
	if clean != text {
		t.Errorf("expected text unchanged, got %q", clean)
	}
	if calls != nil {
		t.Errorf("expected no calls, got %v", calls)
	}
}

func TestParseToolCallsSimple(t *testing.T) {
	clean, calls := ParseToolCalls("Hello {get_bootcamp_info} world")
	if clean != "Hello  world" {
		t.Errorf("expected token removed, got %q", clean)
	}
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Name != "get_bootcamp_info" {
		t.Errorf("unexpected tool name %q", calls[0].Name)
	}
	if len(calls[0].Args) != 0 || len(calls[0].Named) != 0 {
		t.Errorf("expected no args, got %v / %v", calls[0].Args, calls[0].Named)
	}
}

func TestParseToolCallsDoubleBraces(t *testing.T) {
	clean, calls := ParseToolCalls("ok {{advance_to_next_step}} done")
	if clean != "ok  done" {
		t.Errorf("expected double-braced token removed, got %q", clean)
	}
	if len(calls) != 1 || calls[0].Name != "advance_to_next_step" {
		t.Fatalf("unexpected calls: %v", calls)
	}
}

func TestParseToolCallsDoubleBracesWithArgs(t *testing.T) {
	clean, calls := ParseToolCalls("{{update_user_info:email=x@y.z}}")
	if clean != "" {
		t.Errorf("expected token removed, got %q", clean)
	}
	if len(calls) != 1 || calls[0].Name != "update_user_info" {
		t.Fatalf("unexpected calls: %v", calls)
	}
	if calls[0].Named["email"] != "x@y.z" {
		t.Errorf("unexpected named args: %v", calls[0].Named)
	}
}

func TestParseToolCallsAsymmetricBraces(t *testing.T) {
	// A single-open token must not swallow an extra closing brace
	clean, calls := ParseToolCalls("start {get_user_step}} end")
	if clean != "start } end" {
		t.Errorf("unexpected clean text %q", clean)
	}
	if len(calls) != 1 || calls[0].Name != "get_user_step" {
		t.Fatalf("unexpected calls: %v", calls)
	}

	// Double-open single-close: only the inner balanced token matches
	clean, calls = ParseToolCalls("start {{get_user_step} end")
	if clean != "start { end" {
		t.Errorf("unexpected clean text %q", clean)
	}
	if len(calls) != 1 || calls[0].Name != "get_user_step" {
		t.Fatalf("unexpected calls: %v", calls)
	}
}

func TestParseToolCallsPositionalArgs(t *testing.T) {
	_, calls := ParseToolCalls("{search_programs:casablanca}")
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if !reflect.DeepEqual(calls[0].Args, []string{"casablanca"}) {
		t.Errorf("unexpected args: %v", calls[0].Args)
	}
}

func TestParseToolCallsMixedArgs(t *testing.T) {
	_, calls := ParseToolCalls(`{register_student:Casablanca,Sara,Benali,email=sara@example.com,phone="212612345678",age=24}`)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	call := calls[0]
	if call.Name != "register_student" {
		t.Errorf("unexpected tool name %q", call.Name)
	}
	if !reflect.DeepEqual(call.Args, []string{"Casablanca", "Sara", "Benali"}) {
		t.Errorf("unexpected positional args: %v", call.Args)
	}
	expected := map[string]string{
		"email": "sara@example.com",
		"phone": "212612345678",
		"age":   "24",
	}
	if !reflect.DeepEqual(call.Named, expected) {
		t.Errorf("unexpected named args: %v", call.Named)
	}
}

func TestParseToolCallsMultiple(t *testing.T) {
	clean, calls := ParseToolCalls("a {get_user_step} b {update_user_info:email=x@y.z} c")
	if clean != "a  b  c" {
		t.Errorf("unexpected clean text %q", clean)
	}
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].Name != "get_user_step" || calls[1].Name != "update_user_info" {
		t.Errorf("unexpected call order: %v", calls)
	}
}

func TestParseToolCallsQuoteStripping(t *testing.T) {
	_, calls := ParseToolCalls(`{get_program_details:'Data Science'}`)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if !reflect.DeepEqual(calls[0].Args, []string{"Data Science"}) {
		t.Errorf("expected quotes stripped, got %v", calls[0].Args)
	}
}

func TestStripQuotes(t *testing.T) {
	cases := map[string]string{
		`"hello"`:  "hello",
		`'hello'`:  "hello",
		`"hello'`:  `"hello'`,
		`hello`:    "hello",
		`""`:       "",
		`"`:        `"`,
	}
	for in, want := range cases {
		if got := stripQuotes(in); got != want {
			t.Errorf("stripQuotes(%q) = %q, want %q", in, got, want)
		}
	}
}
