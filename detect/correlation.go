package detect

import (
	"fmt"
	"strings"
	"sync"

	"argus/core"
	"argus/metrics"

	"go.uber.org/zap"
)

// sequentialConfidence is the fixed confidence assigned to a completed
// sequential match.
const sequentialConfidence = 0.9

// CorrelationEngine maintains a bounded sliding window buffer per
// correlation rule and evaluates multi-event patterns against it. A single
// engine instance owns its rule buffers; concurrent Observe calls for the
// same rule serialize on that rule's lock while different rules evaluate in
// parallel.
type CorrelationEngine struct {
	mu      sync.RWMutex
	states  map[string]*ruleState
	matcher *Matcher
	logger  *zap.SugaredLogger
}

// ruleState is the windowed state for one correlation rule. Eviction and
// pointer advancement are not commutative, so all mutation happens under mu.
type ruleState struct {
	mu        sync.Mutex
	rule      *core.CorrelationRule
	buffer    []*core.Event
	seqIndex  int
	seqEvents []*core.Event
}

// NewCorrelationEngine creates a correlation engine.
func NewCorrelationEngine(matcher *Matcher, logger *zap.SugaredLogger) *CorrelationEngine {
	return &CorrelationEngine{
		states:  make(map[string]*ruleState),
		matcher: matcher,
		logger:  logger,
	}
}

// AddRule validates and registers a correlation rule with fresh window state.
func (ce *CorrelationEngine) AddRule(rule *core.CorrelationRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	ce.mu.Lock()
	defer ce.mu.Unlock()
	ce.states[rule.ID] = &ruleState{rule: rule}
	return nil
}

// RemoveRule unregisters a rule and discards its window state.
func (ce *CorrelationEngine) RemoveRule(id string) error {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	if _, ok := ce.states[id]; !ok {
		return fmt.Errorf("correlation rule %s: %w", id, core.ErrNotFound)
	}
	delete(ce.states, id)
	return nil
}

// Rule returns a registered correlation rule by ID.
func (ce *CorrelationEngine) Rule(id string) (*core.CorrelationRule, error) {
	ce.mu.RLock()
	defer ce.mu.RUnlock()
	state, ok := ce.states[id]
	if !ok {
		return nil, fmt.Errorf("correlation rule %s: %w", id, core.ErrNotFound)
	}
	return state.rule, nil
}

// Rules returns the registered correlation rules.
func (ce *CorrelationEngine) Rules() []*core.CorrelationRule {
	ce.mu.RLock()
	defer ce.mu.RUnlock()
	rules := make([]*core.CorrelationRule, 0, len(ce.states))
	for _, state := range ce.states {
		rules = append(rules, state.rule)
	}
	return rules
}

// Observe feeds one event into every enabled rule's window and returns the
// trigger records for rules that matched and want an alert. Eviction runs on
// every observation relative to the observed event's timestamp, never on a
// timer, so identical input streams produce identical results.
func (ce *CorrelationEngine) Observe(event *core.Event) []core.TriggerRecord {
	ce.mu.RLock()
	states := make([]*ruleState, 0, len(ce.states))
	for _, state := range ce.states {
		if state.rule.Enabled {
			states = append(states, state)
		}
	}
	ce.mu.RUnlock()

	var triggers []core.TriggerRecord
	for _, state := range states {
		if trigger, matched := ce.observeRule(state, event); matched && trigger != nil {
			triggers = append(triggers, *trigger)
		}
	}
	return triggers
}

// observeRule runs one event through one rule's window. Returns the trigger
// (nil when the rule matched but does not alert) and whether it matched.
func (ce *CorrelationEngine) observeRule(state *ruleState, event *core.Event) (*core.TriggerRecord, bool) {
	state.mu.Lock()
	defer state.mu.Unlock()

	rule := state.rule
	ce.evict(state, event)

	if rule.MaxEvents > 0 && len(state.buffer) >= rule.MaxEvents {
		drop := len(state.buffer) - rule.MaxEvents + 1
		droppedIDs := make(map[string]struct{}, drop)
		for _, ev := range state.buffer[:drop] {
			droppedIDs[ev.EventID] = struct{}{}
		}
		state.buffer = state.buffer[drop:]
		ce.resetBrokenSequence(state, droppedIDs)
	}
	state.buffer = append(state.buffer, event)

	var matched []*core.Event
	var confidence float64
	switch rule.Type {
	case core.CorrelationSequential:
		matched, confidence = ce.advanceSequence(state, event)
	case core.CorrelationParallel:
		matched, confidence = ce.evaluateParallel(state)
	case core.CorrelationGrouped:
		matched, confidence = ce.evaluateGrouped(state, event)
	}
	if len(matched) == 0 {
		return nil, false
	}

	rule.RecordMatch(event.Timestamp)
	ce.clearMatched(state, matched)
	linkEvents(matched)
	ce.logger.Debugw("Correlation rule matched",
		"rule_id", rule.ID, "type", rule.Type, "events", len(matched), "confidence", confidence)

	if !rule.AlertOnMatch {
		return nil, true
	}
	metrics.TriggersEmitted.WithLabelValues("correlation").Inc()
	eventIDs := make([]string, len(matched))
	for i, ev := range matched {
		eventIDs[i] = ev.EventID
	}
	return &core.TriggerRecord{
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		Source:      core.TriggerSourceCorrelation,
		Severity:    rule.Severity,
		Title:       rule.Template.Title,
		Description: rule.Template.Description,
		EventIDs:    eventIDs,
		Confidence:  confidence,
		Timestamp:   event.Timestamp,
	}, true
}

// evict drops buffered events older than the rule's window, measured from
// the observed event's timestamp. If an event that advanced the sequence
// pointer is evicted, the pointer resets and the surviving buffer is
// replayed in order.
func (ce *CorrelationEngine) evict(state *ruleState, event *core.Event) {
	cutoff := event.Timestamp.Add(-state.rule.Window)
	kept := state.buffer[:0]
	evictedIDs := make(map[string]struct{})
	for _, ev := range state.buffer {
		if ev.Timestamp.Before(cutoff) {
			evictedIDs[ev.EventID] = struct{}{}
			continue
		}
		kept = append(kept, ev)
	}
	state.buffer = kept
	ce.resetBrokenSequence(state, evictedIDs)
}

// resetBrokenSequence resets the condition pointer and replays the retained
// buffer when an event that advanced the pointer is no longer buffered.
// Window eviction and the MaxEvents trim both route through here.
func (ce *CorrelationEngine) resetBrokenSequence(state *ruleState, removed map[string]struct{}) {
	if len(removed) == 0 || len(state.seqEvents) == 0 {
		return
	}
	for _, ev := range state.seqEvents {
		if _, gone := removed[ev.EventID]; gone {
			state.seqIndex = 0
			state.seqEvents = nil
			ce.replaySequence(state)
			return
		}
	}
}

// replaySequence re-runs the condition pointer over the retained buffer in
// observation order. Replay over a fixed buffer is deterministic.
func (ce *CorrelationEngine) replaySequence(state *ruleState) {
	conds := state.rule.Conditions
	for _, ev := range state.buffer {
		if state.seqIndex >= len(conds) {
			break
		}
		if ce.matcher.Match(ev, conds[state.seqIndex]) {
			state.seqEvents = append(state.seqEvents, ev)
			state.seqIndex++
		}
	}
}

// advanceSequence advances the condition pointer on a hit; it never looks
// backward. A full match consumes all conditions, yields the fixed
// confidence, and resets the pointer.
func (ce *CorrelationEngine) advanceSequence(state *ruleState, event *core.Event) ([]*core.Event, float64) {
	conds := state.rule.Conditions
	if state.seqIndex < len(conds) && ce.matcher.Match(event, conds[state.seqIndex]) {
		state.seqEvents = append(state.seqEvents, event)
		state.seqIndex++
	}
	if state.seqIndex < len(conds) {
		return nil, 0
	}
	matched := state.seqEvents
	state.seqIndex = 0
	state.seqEvents = nil
	return matched, sequentialConfidence
}

// evaluateParallel recomputes the set of distinct satisfied conditions over
// the window. A match fires once the count reaches the rule's minimum event
// count; confidence is satisfied/total capped at 1.0.
func (ce *CorrelationEngine) evaluateParallel(state *ruleState) ([]*core.Event, float64) {
	rule := state.rule
	satisfied := make(map[int]struct{})
	contributing := make([]*core.Event, 0, len(state.buffer))
	seen := make(map[string]struct{})
	for _, ev := range state.buffer {
		hit := false
		for i, cond := range rule.Conditions {
			if ce.matcher.Match(ev, cond) {
				satisfied[i] = struct{}{}
				hit = true
			}
		}
		if hit {
			if _, dup := seen[ev.EventID]; !dup {
				seen[ev.EventID] = struct{}{}
				contributing = append(contributing, ev)
			}
		}
	}
	if len(satisfied) < rule.MinEvents {
		return nil, 0
	}
	confidence := float64(len(satisfied)) / float64(len(rule.Conditions))
	if confidence > 1.0 {
		confidence = 1.0
	}
	return contributing, confidence
}

// evaluateGrouped partitions the window by the rule's grouping fields and
// examines the observed event's partition: a match needs the partition to
// reach the minimum event count with at least that many members each
// satisfying one of the conditions. Confidence is matching members over
// partition size.
func (ce *CorrelationEngine) evaluateGrouped(state *ruleState, event *core.Event) ([]*core.Event, float64) {
	rule := state.rule
	key := groupKey(event, rule.GroupByFields)

	var partition []*core.Event
	for _, ev := range state.buffer {
		if groupKey(ev, rule.GroupByFields) == key {
			partition = append(partition, ev)
		}
	}
	if len(partition) < rule.MinEvents {
		return nil, 0
	}

	var matching []*core.Event
	for _, ev := range partition {
		for _, cond := range rule.Conditions {
			if ce.matcher.Match(ev, cond) {
				matching = append(matching, ev)
				break
			}
		}
	}
	if len(matching) < rule.MinEvents {
		return nil, 0
	}
	return matching, float64(len(matching)) / float64(len(partition))
}

// clearMatched drops the contributing events from the buffer so an identical
// continuation of the stream cannot re-match on the same events.
func (ce *CorrelationEngine) clearMatched(state *ruleState, matched []*core.Event) {
	switch state.rule.Type {
	case core.CorrelationParallel:
		// The whole window contributed to the satisfied-condition set.
		state.buffer = nil
	default:
		drop := make(map[string]struct{}, len(matched))
		for _, ev := range matched {
			drop[ev.EventID] = struct{}{}
		}
		kept := state.buffer[:0]
		for _, ev := range state.buffer {
			if _, gone := drop[ev.EventID]; !gone {
				kept = append(kept, ev)
			}
		}
		state.buffer = kept
	}
}

// linkEvents records correlation back-references between all contributing
// events of a match.
func linkEvents(matched []*core.Event) {
	for _, ev := range matched {
		for _, other := range matched {
			ev.AddCorrelationRef(other.EventID)
		}
	}
}

// groupKey concatenates the event's values at the grouping fields. Events
// missing a field contribute an empty component, keeping the key stable.
func groupKey(event *core.Event, fields []string) string {
	parts := make([]string, len(fields))
	for i, field := range fields {
		if v, ok := eventField(event, field); ok {
			parts[i] = asString(v)
		}
	}
	return strings.Join(parts, "|")
}
