package workflow

import (
	"github.com/agentexhq/agentex/runtime/activities"
	"github.com/agentexhq/agentex/runtime/engine"
	"github.com/agentexhq/agentex/runtime/errs"
	"github.com/agentexhq/agentex/runtime/llm"
	"github.com/agentexhq/agentex/runtime/registry"
)

// RunActionLoop drives decide/take-action iterations until the model returns
// a terminal finish reason, and returns the final assistant content. Tool
// calls within one decision fan out in parallel; the loop blocks on all of
// them before the next decision. Tool turns land in the thread in completion
// order, each keyed by its tool call id.
func (b *Base) RunActionLoop(wctx engine.Context, taskID, threadName string) (string, error) {
	ctx := wctx.Context()
	var content string
	for {
		var completion llm.Completion
		if err := wctx.ExecuteActivity(ctx, engine.ActivityCall{
			Name: activities.NameDecideAction,
			Input: &activities.DecideActionParams{
				TaskID:            taskID,
				ThreadName:        threadName,
				ActionRegistryKey: b.cfg.RegistryKey,
				Model:             b.cfg.Model,
			},
			Options: callerOptions,
		}, &completion); err != nil {
			return "", err
		}
		b.LogEvent(EventDecisionMade)

		choice, ok := completion.FirstChoice()
		if !ok {
			return "", errs.Servicef("decision completion has no choices")
		}
		content = choice.Message.Content

		if calls := choice.Message.ToolCalls; len(calls) > 0 {
			b.LogEvent(EventExecutingToolCalls, "count", len(calls))
			futures := make([]engine.Future, 0, len(calls))
			for _, tc := range calls {
				b.LogEvent(EventExecutingToolCall,
					"tool_call_id", tc.ID,
					"tool_name", tc.Function.Name)
				futures = append(futures, wctx.ExecuteActivityAsync(ctx, engine.ActivityCall{
					Name: activities.NameTakeAction,
					Input: &activities.TakeActionParams{
						TaskID:            taskID,
						ThreadName:        threadName,
						ActionRegistryKey: b.cfg.RegistryKey,
						ToolCallID:        tc.ID,
						ToolName:          tc.Function.Name,
						ToolArgs:          tc.Function.Arguments,
					},
					Options: callerOptions,
				}))
			}
			for _, fut := range futures {
				var resp registry.ActionResponse
				if err := fut.Get(ctx, &resp); err != nil {
					return "", err
				}
			}
		}

		if choice.FinishReason.Terminal() {
			return content, nil
		}
	}
}
