package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"

	"github.com/BTreeMap/EnrollPipe/internal/genai"
	"github.com/BTreeMap/EnrollPipe/internal/models"
	"github.com/BTreeMap/EnrollPipe/internal/store"
)

// DefaultLLMTimeout bounds each chat completion call.
const DefaultLLMTimeout = 30 * time.Second

const personaPrompt = `You are Aya, the warm and professional enrollment assistant of a coding bootcamp. ` +
	`You chat with prospective students over WhatsApp, answer their questions about programs, ` +
	`and guide them through enrollment one step at a time. Keep replies short and conversational. ` +
	`Always reply in the user's language.`

const toolProtocolPrompt = `To use a tool, insert a token in your reply: {tool_name} for tools without ` +
	`arguments, or {tool_name:arg1,arg2,key=value} with arguments. Tokens are removed before the user ` +
	`sees your message. Lines starting with "Internal_Status:" or "Internal_Error:" are machine signals ` +
	`for you alone; never show them to the user.

Available tools:
`

const humanizePrompt = `The tool results above are raw data. Write the final reply to the user: natural, ` +
	`warm, and in the user's language. Do not mention tools, do not repeat raw data structures, and do ` +
	`not include any tool tokens or internal markers.`

// stepDirectives tell the model what to accomplish at each funnel step.
var stepDirectives = map[models.FunnelStep]string{
	models.StepMotivation:          "Current step: motivation. Learn why the user is interested in a bootcamp and what they hope to achieve. When their motivation is clear, call {advance_to_next_step}.",
	models.StepProgramSelection:    "Current step: program selection. Help the user pick a program and city using {search_programs:query}, {get_available_sessions} and {get_program_details:program}. Save their choice with {update_user_info:program=...} and {update_user_info:location=...}, then call {advance_to_next_step}.",
	models.StepCollectPersonalInfo: "Current step: collecting personal info. Gather full name, email, phone and age one question at a time, saving each with {update_user_info:field=value}. When nothing is missing, call {advance_to_next_step}.",
	models.StepVerifyInformation:   "Current step: verification. Read the collected details back to the user and ask them to confirm or correct. Fix mistakes with {update_user_info:field=value}. Once confirmed, call {advance_to_next_step}.",
	models.StepConfirmEnrollment:   "Current step: enrollment confirmation. Ask for the final go-ahead. On an explicit yes, call {register_student:location,first_name,last_name,email,phone,age} with the confirmed details.",
	models.StepEnrollmentComplete:  "Current step: enrollment complete. The user is registered. Congratulate them, answer remaining questions, and explain that the team will follow up.",
	models.StepAlreadyRegistered:   "Current step: already registered. The user holds an existing registration. Reassure them that the team will be in touch and answer general questions only.",
}

// Orchestrator runs the two-pass conversation loop: one LLM pass that may
// emit tool tokens, tool dispatch, then a humanizing pass over the results.
type Orchestrator struct {
	funnel     FunnelManager
	registry   *ToolRegistry
	dispatcher *Dispatcher
	genAI      genai.ClientInterface
	store      store.Store
	timeout    time.Duration

	locks sync.Map // waID -> *sync.Mutex
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithLLMTimeout overrides the per-call LLM timeout.
func WithLLMTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.timeout = d }
}

// NewOrchestrator creates an orchestrator over the given collaborators.
func NewOrchestrator(funnel FunnelManager, registry *ToolRegistry, dispatcher *Dispatcher, ga genai.ClientInterface, st store.Store, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		funnel:     funnel,
		registry:   registry,
		dispatcher: dispatcher,
		genAI:      ga,
		store:      st,
		timeout:    DefaultLLMTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// lockFor returns the per-user mutex, creating it on first use. Messages
// from the same user are processed strictly one at a time.
func (o *Orchestrator) lockFor(waID string) *sync.Mutex {
	v, _ := o.locks.LoadOrStore(waID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// ProcessMessage runs one inbound message through the conversation pipeline
// and returns the reply to send. Hard failures are logged and converted into
// a localized apology so the user never sees a raw error.
func (o *Orchestrator) ProcessMessage(ctx context.Context, waID, body string) (string, error) {
	mu := o.lockFor(waID)
	mu.Lock()
	defer mu.Unlock()

	lang := DetectLanguage(body)
	slog.Debug("Orchestrator.ProcessMessage: processing", "waID", waID, "lang", lang, "bodyLength", len(body))

	step, err := o.funnel.GetCurrentStep(ctx, waID)
	if err != nil {
		slog.Error("Orchestrator.ProcessMessage: failed to load funnel step", "error", err, "waID", waID)
		apology := localize("fallback_apology", lang)
		o.persistTurn(waID, body, apology)
		return apology, nil
	}

	history, err := o.store.GetConversation(waID)
	if err != nil {
		slog.Error("Orchestrator.ProcessMessage: failed to load history", "error", err, "waID", waID)
		history = nil
	}

	messages := o.buildMessages(ctx, waID, lang, step, history, body)

	first, err := o.generate(ctx, messages)
	if err != nil {
		slog.Error("Orchestrator.ProcessMessage: first pass failed", "error", err, "waID", waID)
		apology := localize("fallback_apology", lang)
		o.persistTurn(waID, body, apology)
		return apology, nil
	}

	clean, calls := ParseToolCalls(first)
	reply := strings.TrimSpace(clean)

	if len(calls) > 0 {
		slog.Debug("Orchestrator.ProcessMessage: dispatching tool calls", "waID", waID, "count", len(calls))
		var results strings.Builder
		for _, call := range calls {
			out := o.dispatcher.Dispatch(ctx, waID, lang, call)
			results.WriteString(fmt.Sprintf("[%s] %s\n", call.Name, out))
		}

		second := append(messages,
			openai.AssistantMessage(first),
			openai.SystemMessage("Tool results:\n"+results.String()+"\n"+humanizePrompt),
		)
		humanized, err := o.generate(ctx, second)
		if err != nil {
			slog.Error("Orchestrator.ProcessMessage: humanizing pass failed", "error", err, "waID", waID)
			if reply == "" {
				reply = localize("fallback_apology", lang)
			}
		} else {
			reply = strings.TrimSpace(humanized)
		}
	}

	if reply == "" {
		reply = localize("fallback_apology", lang)
	}

	o.persistTurn(waID, body, reply)

	slog.Info("Orchestrator.ProcessMessage: reply ready", "waID", waID, "step", step, "toolCalls", len(calls))
	return reply, nil
}

// persistTurn appends the user message and the reply to the transcript.
// Best-effort: fallback apologies are recorded too, and a store failure only
// loses history, never the reply.
func (o *Orchestrator) persistTurn(waID, body, reply string) {
	now := time.Now().Unix()
	if err := o.store.AppendConversation(waID,
		models.ConversationMessage{Role: models.RoleUser, Content: body, Time: now},
		models.ConversationMessage{Role: models.RoleAssistant, Content: reply, Time: now},
	); err != nil {
		slog.Error("Orchestrator.persistTurn: failed to persist transcript", "error", err, "waID", waID)
	}
}

// buildMessages assembles the first-pass message list: system prompt with
// step directive and the tool manual in the detected language, prior
// transcript, then the new message.
func (o *Orchestrator) buildMessages(ctx context.Context, waID, lang string, step models.FunnelStep, history []models.ConversationMessage, body string) []openai.ChatCompletionMessageParamUnion {
	directive := stepDirectives[step]

	var sys strings.Builder
	sys.WriteString(personaPrompt)
	sys.WriteString("\n\n")
	sys.WriteString(directive)
	sys.WriteString("\n\n")
	sys.WriteString(toolProtocolPrompt)
	sys.WriteString(o.registry.Manual(lang))

	if info, err := o.funnel.GetPersonalInfo(ctx, waID); err == nil && len(info) > 0 {
		sys.WriteString("\nKnown user details:\n")
		for k, v := range info {
			sys.WriteString(fmt.Sprintf("- %s: %s\n", k, v))
		}
	}

	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(sys.String())}
	for _, msg := range history {
		switch msg.Role {
		case models.RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case models.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		}
	}
	return append(messages, openai.UserMessage(body))
}

func (o *Orchestrator) generate(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	return o.genAI.GenerateWithMessages(callCtx, messages)
}
