// Package sandboxrt implements the Task Executor that runs inside a
// sandbox: the inference-driven inner loop that turns a queued task into a
// sequence of model/tool steps, an InferenceProvider interface plus
// Anthropic implementation, and context-window admission accounting.
package sandboxrt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/haasonsaas/nexus/internal/controlplane"
	"github.com/haasonsaas/nexus/internal/toolcatalog"
	"github.com/haasonsaas/nexus/pkg/orchestration"
)

// phase names the Task Executor's inner-loop state, mirroring the upstream
// agent loop's PhaseInit/PhaseStream/PhaseExecuteTools/PhaseContinue/
// PhaseComplete state machine but specialized to this executor's
// XML-tag-invocation wire format.
type phase string

const (
	phaseAwaitingModel    phase = "awaiting_model"
	phaseDispatchingTool  phase = "dispatching_tool"
	phaseCollectingResult phase = "collecting_result"
	phaseFinalizing       phase = "finalizing"
)

// ExecutorConfig bounds one task's inner loop.
type ExecutorConfig struct {
	MaxIterations    int
	MaxParseRetries  int
	AdmissionLimit   int
	DefaultModel     string
	MaxTokens        int
	SystemPromptBase string
}

func (c *ExecutorConfig) setDefaults() {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 10
	}
	if c.MaxParseRetries <= 0 {
		c.MaxParseRetries = 10
	}
	if c.AdmissionLimit <= 0 {
		c.AdmissionLimit = DefaultAdmissionLimitTokens
	}
}

// Executor runs the Task Executor inner loop for one sandbox process. It
// implements controlplane.TaskRunner.
type Executor struct {
	sandboxes controlplane.Store
	tasks     TaskStore
	provider  InferenceProvider
	catalog   *toolcatalog.Catalog
	cfg       ExecutorConfig
}

// NewExecutor builds an Executor. catalog must already have any MCP servers
// registered the sandbox will need for this task's lifetime.
func NewExecutor(sandboxes controlplane.Store, tasks TaskStore, provider InferenceProvider, catalog *toolcatalog.Catalog, cfg ExecutorConfig) *Executor {
	cfg.setDefaults()
	return &Executor{sandboxes: sandboxes, tasks: tasks, provider: provider, catalog: catalog, cfg: cfg}
}

var _ controlplane.TaskRunner = (*Executor)(nil)

// RunTask admits, creates, and drives a task to a terminal status. It
// returns an error only when the task could not even be admitted/created;
// once a task row exists, failures are recorded on the task itself rather
// than propagated as a Go error, so the reconciler's request-dispatch
// bookkeeping reflects "the create_task request was processed" rather than
// "the task succeeded."
func (e *Executor) RunTask(ctx context.Context, sandboxID string, payload orchestration.CreateTaskPayload) error {
	now := time.Now()

	sandbox, err := e.sandboxes.GetSandbox(ctx, sandboxID)
	if err != nil {
		return fmt.Errorf("sandboxrt: load sandbox %s: %w", sandboxID, err)
	}
	if err := AdmitTask(sandbox, e.cfg.AdmissionLimit); err != nil {
		return err
	}

	task := orchestration.NewTask(sandboxID, payload.Type, payload.Input, payload.Background, payload.TimeoutSeconds, now)
	if err := e.tasks.CreateTask(ctx, &task); err != nil {
		return fmt.Errorf("sandboxrt: create task: %w", err)
	}

	e.drive(ctx, &task)
	return nil
}

// drive runs the bounded inner loop, persisting the task's final state
// regardless of outcome.
func (e *Executor) drive(ctx context.Context, task *orchestration.Task) {
	task.Status = orchestration.TaskRunning
	_ = e.tasks.UpdateTask(ctx, task)

	history := renderInput(task.Input)
	parseRetries := 0

	for iteration := 0; iteration < e.cfg.MaxIterations; iteration++ {
		if task.IsOverdue(time.Now()) {
			e.finish(ctx, task, orchestration.TaskTimedOut, "task deadline elapsed")
			return
		}
		select {
		case <-ctx.Done():
			e.finish(ctx, task, orchestration.TaskFailed, ctx.Err().Error())
			return
		default:
		}

		// AwaitingModel
		system := e.buildSystemPrompt(history, task)
		req := CompletionRequest{Model: e.cfg.DefaultModel, System: system, Messages: history, MaxTokens: e.cfg.MaxTokens}
		chunkCh, err := e.provider.Complete(ctx, req)
		if err != nil {
			e.finish(ctx, task, orchestration.TaskFailed, fmt.Sprintf("inference request failed: %v", err))
			return
		}
		text, inputTokens, outputTokens, err := collectText(chunkCh)
		if err != nil {
			e.finish(ctx, task, orchestration.TaskFailed, fmt.Sprintf("inference stream failed: %v", err))
			return
		}
		task.AppendSteps([]orchestration.TaskStep{{Index: len(task.Steps), Role: "model", Output: text, CreatedAt: time.Now()}}, time.Now())
		*task = task.WithContextLength(inputTokens+outputTokens, time.Now())
		history = append(history, Message{Role: "assistant", Content: text})

		// DispatchingTool
		inv, ok := toolcatalog.ParseInvocation(text)
		if !ok {
			parseRetries++
			if parseRetries > e.cfg.MaxParseRetries {
				e.finish(ctx, task, orchestration.TaskFailed, fmt.Sprintf("exceeded max parse retries (%d) without a valid tool invocation", e.cfg.MaxParseRetries))
				return
			}
			history = append(history, Message{Role: "user", Content: "Your last response did not contain a valid tool invocation tag. Please respond with exactly one XML-tag tool call."})
			continue
		}
		parseRetries = 0

		if inv.Tool == "output" {
			e.finishWithOutput(ctx, task, inv)
			return
		}

		// CollectingResult
		result := e.catalog.Dispatch(ctx, inv)
		resultJSON, _ := result.MarshalJSON()
		task.AppendSteps([]orchestration.TaskStep{{
			Index: len(task.Steps), Role: "tool", Tool: inv.Tool, Input: inv, Output: string(resultJSON), CreatedAt: time.Now(),
		}}, time.Now())

		// Finalizing: feed the tool result back as the next turn's input and loop.
		history = append(history, Message{Role: "user", Content: string(resultJSON)})
		if err := e.tasks.UpdateTask(ctx, task); err != nil {
			e.finish(ctx, task, orchestration.TaskFailed, fmt.Sprintf("persist step failed: %v", err))
			return
		}
	}

	e.finish(ctx, task, orchestration.TaskFailed, fmt.Sprintf("exceeded max iterations (%d) without completing", e.cfg.MaxIterations))
}

// finishWithOutput parses the terminal `output` invocation's items and
// marks the task completed.
func (e *Executor) finishWithOutput(ctx context.Context, task *orchestration.Task, inv orchestration.Invocation) {
	result := e.catalog.Dispatch(ctx, inv)
	if result.Status != "ok" {
		e.finish(ctx, task, orchestration.TaskFailed, result.Error)
		return
	}
	text := ""
	var items []orchestration.ContentItem
	if v, ok := result.Extra["items"].([]orchestration.ContentItem); ok {
		items = v
	}
	for _, item := range items {
		if item.Type == "text" || item.Type == "md" {
			if s, ok := item.Content.(string); ok {
				text += s
			}
		}
	}
	task.Output = orchestration.TaskOutput{Text: text, Items: items}.Normalize()
	e.finish(ctx, task, orchestration.TaskCompleted, "")
}

func (e *Executor) finish(ctx context.Context, task *orchestration.Task, status orchestration.TaskStatus, errMsg string) {
	task.Status = status
	task.Error = errMsg
	task.UpdatedAt = time.Now()
	_ = e.tasks.UpdateTask(ctx, task)
}

// buildSystemPrompt renders the tool catalog plus any advisory intent-router
// hint and pre-loop planner output, the context AwaitingModel feeds the
// inference backend alongside the conversation history.
func (e *Executor) buildSystemPrompt(history []Message, task *orchestration.Task) string {
	prompt := e.cfg.SystemPromptBase
	prompt += "\n\nAvailable tools:\n"
	for _, d := range e.catalog.Descriptors() {
		prompt += fmt.Sprintf("- %s: %s\n", d.Name, d.Description)
	}

	if len(history) > 0 {
		last := history[len(history)-1]
		if hint := e.catalog.RouteHint(last.Content); hint != nil {
			switch hint.Kind {
			case toolcatalog.HintDirect:
				prompt += fmt.Sprintf("\nIntent hint: the tool %q appears to directly match this request.\n", hint.Tool)
			case toolcatalog.HintAmbiguous:
				prompt += fmt.Sprintf("\nIntent hint: multiple tools tie as a possible match: %v.\n", hint.Candidates)
			}
		}

		recentSuccess, previousErr := lastToolOutcome(task)
		plan := e.catalog.Plan(toolcatalog.PlanInput{
			TaskText:          last.Content,
			RecentSuccessTool: recentSuccess,
			PreviousError:     previousErr,
		})
		switch {
		case !plan.Missing && plan.Tool != "":
			prompt += fmt.Sprintf("\nSuggested next tool call (advisory, not auto-executed): %s", plan.Tool)
			if plan.Server != "" {
				prompt += fmt.Sprintf(" (server: %s)", plan.Server)
			}
			if plan.Rationale != "" {
				prompt += fmt.Sprintf(" — %s", plan.Rationale)
			}
			prompt += "\n"
		case plan.Rationale != "":
			prompt += fmt.Sprintf("\nPlanner found no confident match: %s\n", plan.Rationale)
		}
	}
	return prompt
}

// lastToolOutcome inspects the most recent tool step, if any, and reports
// it as either a recently succeeded tool name or the error it produced —
// the "recent-success bias" and "previous-turn error" the pre-loop planner
// is given ahead of the next inference turn.
func lastToolOutcome(task *orchestration.Task) (recentSuccessTool, previousError string) {
	for i := len(task.Steps) - 1; i >= 0; i-- {
		step := task.Steps[i]
		if step.Role != "tool" {
			continue
		}
		var outcome struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		}
		if err := json.Unmarshal([]byte(step.Output), &outcome); err != nil {
			return "", ""
		}
		if outcome.Status == "error" {
			return "", outcome.Error
		}
		return step.Tool, ""
	}
	return "", ""
}

// renderInput turns a task's input content items into the first user-role
// message in the conversation history.
func renderInput(items []orchestration.ContentItem) []Message {
	text := ""
	for _, item := range orchestration.NormalizeOutputItems(items) {
		if s, ok := item.Content.(string); ok {
			text += s + "\n"
		}
	}
	return []Message{{Role: "user", Content: text}}
}
