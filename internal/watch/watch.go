package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dyluth/glint/pkg/blackboard"
)

// OutputFormat selects how analysis events are rendered.
type OutputFormat string

const (
	OutputFormatDefault OutputFormat = "default"
	OutputFormatJSON    OutputFormat = "json"
)

// Formatter renders analysis events.
type Formatter interface {
	FormatEvent(event *blackboard.AnalysisEvent) error
}

// NewFormatter returns the formatter for format writing to w.
func NewFormatter(format OutputFormat, w io.Writer) (Formatter, error) {
	switch format {
	case OutputFormatDefault, "":
		return &defaultFormatter{writer: w}, nil
	case OutputFormatJSON:
		return &jsonFormatter{encoder: json.NewEncoder(w)}, nil
	}
	return nil, fmt.Errorf("unknown output format: %s", format)
}

type defaultFormatter struct {
	writer io.Writer
}

func (f *defaultFormatter) FormatEvent(event *blackboard.AnalysisEvent) error {
	ts := time.UnixMilli(event.CreatedAtMs).Format("15:04:05")

	switch event.Status {
	case blackboard.AnalysisStatusError:
		_, err := fmt.Fprintf(f.writer, "[%s] ❌ Analysis failed: image=%s error=%q\n", ts, event.ImagePath, event.Error)
		return err
	case blackboard.AnalysisStatusRejected:
		_, err := fmt.Fprintf(f.writer, "[%s] ⛔ Analysis rejected: image=%s reason=%q\n", ts, event.ImagePath, event.Error)
		return err
	}

	cached := ""
	if event.FromCache {
		cached = " (cached)"
	}
	if _, err := fmt.Fprintf(f.writer, "[%s] 🖼️  Analysis complete%s: image=%s tier=%s confidence=%.2f elapsed=%dms\n",
		ts, cached, event.ImagePath, event.Tier, event.Confidence, event.ElapsedMs); err != nil {
		return err
	}

	var details []string
	if event.Caption != "" {
		details = append(details, fmt.Sprintf("caption=%q", event.Caption))
	}
	if event.OCRText != "" {
		details = append(details, fmt.Sprintf("text=%q", event.OCRText))
	}
	if event.DominantColor != "" {
		details = append(details, "color="+event.DominantColor)
	}
	if len(details) > 0 {
		if _, err := fmt.Fprintf(f.writer, "           %s\n", strings.Join(details, " ")); err != nil {
			return err
		}
	}
	if len(event.FailedWaves) > 0 {
		if _, err := fmt.Fprintf(f.writer, "           ⚠️  failed waves: %s\n", strings.Join(event.FailedWaves, ", ")); err != nil {
			return err
		}
	}
	return nil
}

type jsonFormatter struct {
	encoder *json.Encoder
}

func (f *jsonFormatter) FormatEvent(event *blackboard.AnalysisEvent) error {
	return f.encoder.Encode(event)
}

// StreamEvents formats every analysis event published on the instance until
// ctx is cancelled.
func StreamEvents(ctx context.Context, client *blackboard.Client, formatter Formatter) error {
	sub, err := client.SubscribeAnalysisEvents(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := formatter.FormatEvent(event); err != nil {
				return fmt.Errorf("failed to format event: %w", err)
			}
		case err, ok := <-sub.Errors():
			if !ok {
				return nil
			}
			return err
		}
	}
}

// Submit publishes req and waits for the daemon's event answering it.
// The subscription is in place before publishing so the answer cannot be missed.
func Submit(ctx context.Context, client *blackboard.Client, req *blackboard.AnalysisRequest, timeout time.Duration) (*blackboard.AnalysisEvent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sub, err := client.SubscribeAnalysisEvents(subCtx)
	if err != nil {
		return nil, err
	}
	defer sub.Close()

	if err := client.PublishRequest(ctx, req); err != nil {
		return nil, err
	}

	timeoutCh := time.After(timeout)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for analysis of %s after %v", req.ImagePath, timeout)

		case event, ok := <-sub.Events():
			if !ok {
				return nil, closedErr(ctx)
			}
			if event.RequestID == req.ID {
				return event, nil
			}

		case err, ok := <-sub.Errors():
			if !ok {
				return nil, closedErr(ctx)
			}
			return nil, fmt.Errorf("event subscription failed: %w", err)
		}
	}
}

func closedErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("event subscription closed")
}
