package loading

import "context"

// Messages overrides the message shown for each phase of Execute. Processing
// and Confirming phases are only entered when their message is set. An empty
// Error message shows the operation's error text.
type Messages struct {
	Loading    string
	Processing string
	Confirming string
	Success    string
	Error      string
}

// Execute runs op while driving c through Loading, Processing, Confirming and
// Success. When op fails the controller enters Error and the original error is
// returned unchanged, so callers can layer their own handling on top.
func Execute[T any](ctx context.Context, c *Controller, op func(context.Context) (T, error), msgs Messages) (T, error) {
	c.StartLoading(msgs.Loading)
	if msgs.Processing != "" {
		c.SetProcessing(msgs.Processing)
	}

	result, err := op(ctx)
	if err != nil {
		msg := msgs.Error
		if msg == "" {
			msg = err.Error()
		}
		c.SetError(msg)
		return result, err
	}

	if msgs.Confirming != "" {
		c.SetConfirming(msgs.Confirming)
	}
	c.SetSuccess(msgs.Success)
	return result, nil
}
