// Package notification pushes operator alerts for runs that need
// attention through shoutrrr service URLs.
package notification

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Priority represents the urgency level of an alert.
type Priority string

const (
	// PriorityCritical indicates urgent attention required
	PriorityCritical Priority = "critical"
	// PriorityHigh indicates important but not urgent
	PriorityHigh Priority = "high"
)

// Alert describes a sync run that failed in a way a retry alone will not
// make visible, such as a rejected submission.
type Alert struct {
	Title         string
	Message       string
	Priority      Priority
	IntegrationID string
	ActionID      string
	RunID         string
	Err           error
	Timestamp     time.Time
}

// NeedsAttention builds the alert sent when a batch was not accepted
// downstream and the watermark was left unchanged.
func NeedsAttention(integrationID, actionID, runID string, events int, err error) Alert {
	return Alert{
		Title:         fmt.Sprintf("ebirdsync: %s needs attention", integrationID),
		Message:       fmt.Sprintf("Submission of %d events failed; the watermark was not advanced and the next run will retry.", events),
		Priority:      PriorityHigh,
		IntegrationID: integrationID,
		ActionID:      actionID,
		RunID:         runID,
		Err:           err,
		Timestamp:     time.Now().UTC(),
	}
}

// Body renders the alert as plain text.
func (a *Alert) Body() string {
	var b strings.Builder
	b.WriteString(a.Message)
	fmt.Fprintf(&b, "\nintegration: %s", a.IntegrationID)
	if a.ActionID != "" {
		fmt.Fprintf(&b, "\naction: %s", a.ActionID)
	}
	if a.RunID != "" {
		fmt.Fprintf(&b, "\nrun: %s", a.RunID)
	}
	if a.Err != nil {
		fmt.Fprintf(&b, "\nerror: %v", a.Err)
	}
	if !a.Timestamp.IsZero() {
		fmt.Fprintf(&b, "\ntime: %s", a.Timestamp.Format(time.RFC3339))
	}
	return b.String()
}

// Alerter delivers alerts.
type Alerter interface {
	Alert(ctx context.Context, alert Alert) error
}

// NoopAlerter drops every alert.
type NoopAlerter struct{}

func (NoopAlerter) Alert(context.Context, Alert) error { return nil }
