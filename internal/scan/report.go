package scan

import (
	"context"
	"errors"
	"fmt"

	"github.com/raysh454/siteaudit/internal/model"
)

// ErrScanFailed wraps the message of a terminal error event.
var ErrScanFailed = errors.New("scan failed")

// Report is the drained outcome of a single scan.
type Report struct {
	Result *model.AggregateResult
	// Screenshot is the last screenshot event, if any.
	Screenshot []byte
	Logs       []model.Event
}

// Execute runs req on r and waits for the terminal event.
func Execute(ctx context.Context, r Runner, req model.ScanRequest) (*Report, error) {
	rep := &Report{}
	var terminal *model.Event
	for ev := range r.Run(ctx, req) {
		if terminal != nil {
			continue
		}
		switch ev.Type {
		case model.EventScreenshot:
			rep.Screenshot = ev.Screenshot
		case model.EventLog:
			rep.Logs = append(rep.Logs, ev)
		case model.EventComplete, model.EventError:
			t := ev
			terminal = &t
		}
	}
	switch {
	case terminal == nil:
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: stream closed without a terminal event", ErrScanFailed)
	case terminal.Type == model.EventError:
		return nil, fmt.Errorf("%w: %s", ErrScanFailed, terminal.Message)
	case terminal.Result == nil:
		return nil, fmt.Errorf("%w: complete event without result", ErrScanFailed)
	}
	rep.Result = terminal.Result
	return rep, nil
}
