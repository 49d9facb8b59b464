package alerting

import (
	"context"

	"github.com/google/uuid"

	"github.com/draftforge/experiment-platform/internal/domain/alert"
	"github.com/draftforge/experiment-platform/internal/domain/experiment"
)

// Service routes alerts to notification channels through matching rules and
// templated messages.
type Service interface {
	// ProcessAlert finds all enabled, off-cooldown rules matching the alert
	// and dispatches a rendered message to each of their channels. Channel
	// failures are isolated: one bad transport never blocks the others.
	ProcessAlert(ctx context.Context, a *alert.Alert, exp *experiment.Experiment, results *experiment.Results) error
	// RegisterChannel makes a transport available to rules.
	RegisterChannel(ch Channel)
	// AddRule installs a routing rule.
	AddRule(rule *alert.Rule)
	// AddTemplate installs a message template keyed by (type, priority).
	AddTemplate(tpl alert.Template)
	// AcknowledgeAlert marks a stored alert acknowledged, re-arming the
	// monitor's deduplication for that (experiment, type) pair.
	AcknowledgeAlert(ctx context.Context, id uuid.UUID) error
	// ListUnacknowledged returns all open alerts.
	ListUnacknowledged(ctx context.Context) ([]*alert.Alert, error)
}

// Channel delivers one rendered message over a single transport.
type Channel interface {
	Type() alert.ChannelType
	Send(ctx context.Context, msg *alert.Message) error
}

// AlertStore is the persistence surface for acknowledgement.
type AlertStore interface {
	Acknowledge(ctx context.Context, id uuid.UUID) error
	ListUnacknowledged(ctx context.Context) ([]*alert.Alert, error)
}
