package stage

import (
	"context"

	"github.com/planetaryescape/ai-digest-sub001/internal/model"
)

// ErrorHandler implements the terminal error branch named in §4.1/§7:
// sends an error notification and terminates the branch without marking
// any emails processed.
func ErrorHandler(ctx context.Context, deps *Deps, msg model.PipelineMessage, runContext string) (model.RunResult, error) {
	if msg.Error == nil {
		return model.RunResult{Success: false, Message: "run failed with no error detail"}, nil
	}

	if err := deps.Mailer.SendErrorNotification(runContext, msg.Error); err != nil {
		return model.RunResult{}, err
	}

	return model.RunResult{
		Success: false,
		Message: msg.Error.Message,
		Error:   msg.Error.Message,
	}, nil
}
