package alerting

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/draftforge/experiment-platform/internal/domain/alert"
	"github.com/draftforge/experiment-platform/internal/domain/experiment"
)

type registeredChannel struct {
	channel Channel
	limiter *rate.Limiter
}

type service struct {
	store AlertStore

	mu        sync.RWMutex
	channels  map[alert.ChannelType]registeredChannel
	rules     []*alert.Rule
	templates map[templateKey]alert.Template

	dispatchTimeout time.Duration
	dispatchRate    rate.Limit
	dispatchBurst   int

	logger *zap.Logger
	now    func() time.Time
}

// NewService constructs the alert dispatcher with the default template set.
// dispatchRate caps per-channel notifications per second; zero disables the
// limit.
func NewService(store AlertStore, dispatchTimeout time.Duration, dispatchRate float64, dispatchBurst int, logger *zap.Logger) Service {
	if dispatchTimeout <= 0 {
		dispatchTimeout = 10 * time.Second
	}

	limit := rate.Limit(dispatchRate)
	if dispatchRate <= 0 {
		limit = rate.Inf
	}
	if dispatchBurst <= 0 {
		dispatchBurst = 1
	}

	return &service{
		store:           store,
		channels:        make(map[alert.ChannelType]registeredChannel),
		templates:       defaultTemplates(),
		dispatchTimeout: dispatchTimeout,
		dispatchRate:    limit,
		dispatchBurst:   dispatchBurst,
		logger:          logger,
		now:             time.Now,
	}
}

func (s *service) RegisterChannel(ch Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[ch.Type()] = registeredChannel{
		channel: ch,
		limiter: rate.NewLimiter(s.dispatchRate, s.dispatchBurst),
	}
}

func (s *service) AddRule(rule *alert.Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, rule)
}

func (s *service) AddTemplate(tpl alert.Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[templateKey{tpl.Type, tpl.Priority}] = tpl
}

func (s *service) ProcessAlert(ctx context.Context, a *alert.Alert, exp *experiment.Experiment, results *experiment.Results) error {
	now := s.now()

	// Match and claim the cooldown in one critical section: two concurrent
	// calls inside a rule's window must not both fire it. LastTriggered moves
	// at claim time, before delivery; a flaky transport must not turn the
	// cooldown off.
	s.mu.Lock()
	var matched []*alert.Rule
	for _, rule := range s.rules {
		if ruleMatches(rule, a, exp, results) && !rule.OnCooldown(now) {
			t := now
			rule.LastTriggered = &t
			matched = append(matched, rule)
		}
	}
	s.mu.Unlock()

	msg := s.renderMessage(a, exp, results)

	for _, rule := range matched {
		for _, channelType := range rule.Channels {
			s.dispatch(ctx, channelType, msg, a)
		}
	}

	return nil
}

// ruleMatches checks the rule's type, priority, tag, confidence, and impact
// filters against the alert and its context.
func ruleMatches(rule *alert.Rule, a *alert.Alert, exp *experiment.Experiment, results *experiment.Results) bool {
	if !rule.Enabled {
		return false
	}

	if len(rule.AlertTypes) > 0 {
		found := false
		for _, t := range rule.AlertTypes {
			if t == a.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if !a.Priority.AtLeast(rule.MinPriority) {
		return false
	}

	if len(rule.Tags) > 0 {
		if exp == nil || !sharesTag(rule.Tags, exp.Tags) {
			return false
		}
	}

	if rule.MinConfidence > 0 {
		if results == nil || results.Confidence < rule.MinConfidence {
			return false
		}
	}

	if rule.MinImpact > 0 {
		if results == nil || math.Abs(results.EffectSize) < rule.MinImpact {
			return false
		}
	}

	return true
}

func sharesTag(ruleTags, expTags []string) bool {
	for _, rt := range ruleTags {
		for _, et := range expTags {
			if rt == et {
				return true
			}
		}
	}
	return false
}

func (s *service) renderMessage(a *alert.Alert, exp *experiment.Experiment, results *experiment.Results) *alert.Message {
	s.mu.RLock()
	tpl, ok := s.templates[templateKey{a.Type, a.Priority}]
	if !ok {
		// Fall back to the type's medium template.
		tpl, ok = s.templates[templateKey{a.Type, alert.PriorityMedium}]
	}
	s.mu.RUnlock()

	tc := buildContext(a, exp, results)

	msg := &alert.Message{
		Priority: a.Priority,
		Payload: map[string]interface{}{
			"alert_id":      a.ID.String(),
			"experiment_id": a.ExperimentID.String(),
			"alert_type":    string(a.Type),
		},
	}

	if !ok {
		msg.Subject = fmt.Sprintf("[%s] %s", a.Priority, a.Type)
		msg.Body = a.Message
		return msg
	}

	msg.Subject, msg.Body = render(tpl, tc)
	return msg
}

// dispatch delivers to one channel, rate-limited and bounded by the dispatch
// timeout. Failures are logged; isolation between channels is the point.
func (s *service) dispatch(ctx context.Context, channelType alert.ChannelType, msg *alert.Message, a *alert.Alert) {
	s.mu.RLock()
	reg, ok := s.channels[channelType]
	s.mu.RUnlock()
	if !ok {
		s.logger.Warn("no channel registered",
			zap.String("channel", string(channelType)),
			zap.String("alert_id", a.ID.String()))
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.dispatchTimeout)
	defer cancel()

	if err := reg.limiter.Wait(sendCtx); err != nil {
		s.logger.Warn("dispatch rate limit exceeded",
			zap.String("channel", string(channelType)),
			zap.String("alert_id", a.ID.String()),
			zap.Error(err))
		return
	}

	if err := reg.channel.Send(sendCtx, msg); err != nil {
		s.logger.Error("channel delivery failed",
			zap.String("channel", string(channelType)),
			zap.String("alert_id", a.ID.String()),
			zap.Error(err))
	}
}

func (s *service) AcknowledgeAlert(ctx context.Context, id uuid.UUID) error {
	return s.store.Acknowledge(ctx, id)
}

func (s *service) ListUnacknowledged(ctx context.Context) ([]*alert.Alert, error) {
	return s.store.ListUnacknowledged(ctx)
}
