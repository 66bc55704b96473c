package state

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/agentexhq/agentex/runtime/kv/inmem"
	"github.com/agentexhq/agentex/runtime/llm"
)

// threadOp is one mutation applied both to the service and to a plain slice
// model. The service must agree with the model after any sequence of ops.
type threadOp struct {
	Kind    string
	Index   int
	Content string
}

func genThreadOp() gopter.Gen {
	return gopter.CombineGens(
		gen.OneConstOf("append", "insert", "override", "delete"),
		gen.IntRange(0, 12),
		gen.AlphaString(),
	).Map(func(vals []any) threadOp {
		return threadOp{Kind: vals[0].(string), Index: vals[1].(int), Content: vals[2].(string)}
	})
}

func applyModel(model []string, op threadOp) []string {
	switch op.Kind {
	case "append":
		return append(model, op.Content)
	case "insert":
		i := op.Index
		if i > len(model) {
			i = len(model)
		}
		out := append([]string{}, model[:i]...)
		out = append(out, op.Content)
		return append(out, model[i:]...)
	case "override":
		if op.Index < len(model) {
			model[op.Index] = op.Content
		}
		return model
	case "delete":
		if op.Index < len(model) {
			return append(model[:op.Index], model[op.Index+1:]...)
		}
		return model
	}
	return model
}

func TestThreadMutationsAgreeWithSliceModel(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 50

	properties := gopter.NewProperties(params)
	properties.Property("thread ops agree with a slice model", prop.ForAll(
		func(ops []threadOp) bool {
			ctx := context.Background()
			repo, err := NewRepository(inmem.New())
			if err != nil {
				return false
			}
			svc, err := New(Options{Repository: repo})
			if err != nil {
				return false
			}

			var model []string
			for _, op := range ops {
				switch op.Kind {
				case "append":
					_, err = svc.AppendMessages(ctx, "t", "root", &llm.UserMessage{Content: op.Content})
				case "insert":
					err = svc.InsertMessage(ctx, "t", "root", op.Index, &llm.UserMessage{Content: op.Content})
				case "override":
					err = svc.OverrideMessage(ctx, "t", "root", op.Index, &llm.UserMessage{Content: op.Content})
				case "delete":
					err = svc.DeleteMessage(ctx, "t", "root", op.Index)
				}
				if err != nil {
					return false
				}
				model = applyModel(model, op)
			}

			msgs, err := svc.GetMessages(ctx, "t", "root")
			if err != nil || len(msgs) != len(model) {
				return false
			}
			for i, m := range msgs {
				if m.(*llm.UserMessage).Content != model[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genThreadOp()),
	))
	properties.TestingRun(t)
}
