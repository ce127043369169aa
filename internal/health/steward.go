// Package health periodically inspects running agents, detects
// problematic conditions, and takes corrective action.
package health

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/stoneforge/stoneforge/internal/dispatch"
	"github.com/stoneforge/stoneforge/internal/logging"
	"github.com/stoneforge/stoneforge/internal/metrics"
	"github.com/stoneforge/stoneforge/internal/registry"
	"github.com/stoneforge/stoneforge/internal/session"
	"github.com/stoneforge/stoneforge/pkg/models"
)

// ActionType identifies a remediation action.
type ActionType string

const (
	// ActionSendPing posts a health-check message into the session.
	ActionSendPing ActionType = "send_ping"
	// ActionRestart stops the current session; starting a new one is
	// the agent's responsibility.
	ActionRestart ActionType = "restart"
	// ActionNotifyDirector alerts the first director agent.
	ActionNotifyDirector ActionType = "notify_director"
	// ActionReassignTask stops the session and returns the task to
	// the pool.
	ActionReassignTask ActionType = "reassign_task"
	// ActionEscalate alerts the director and marks the issue for
	// human review.
	ActionEscalate ActionType = "escalate"
	// ActionMonitor takes no action; the condition is only observed.
	ActionMonitor ActionType = "monitor"
)

// ActionResult records one executed action.
type ActionResult struct {
	// AgentID is the agent acted on.
	AgentID string
	// Action is what was done.
	Action ActionType
	// IssueID is the issue that prompted the action.
	IssueID string
	// IssueType is that issue's condition.
	IssueType models.IssueType
	// Success reports whether the action completed.
	Success bool
	// Error holds the failure detail when Success is false.
	Error string
	// At is when the action ran.
	At time.Time
}

// ScanResult summarizes one health-check scan.
type ScanResult struct {
	// Timestamp is when the scan started.
	Timestamp time.Time
	// AgentsChecked is the number of running agents inspected.
	AgentsChecked int
	// AgentsWithIssues is the number of agents with at least one
	// active issue after the scan.
	AgentsWithIssues int
	// NewIssues are issues first detected in this scan.
	NewIssues []*models.HealthIssue
	// ResolvedIssues are issues whose condition cleared in this scan.
	ResolvedIssues []*models.HealthIssue
	// ActionsTaken are the remediation actions executed.
	ActionsTaken []ActionResult
	// Duration is the scan's wall-clock time.
	Duration time.Duration
}

// TaskUnassigner returns a task to the pool. Implemented by the
// assignment service.
type TaskUnassigner interface {
	UnassignTask(ctx context.Context, taskID string) (*models.Task, error)
}

// Steward runs the periodic health-check loop.
type Steward struct {
	cfg         Config
	agents      registry.Registry
	sessions    session.Manager
	assignments TaskUnassigner
	notifier    dispatch.Notifier
	emitter     *EventEmitter
	log         logging.Logger
	metrics     *metrics.Metrics
	now         func() time.Time

	mu       sync.Mutex
	trackers map[string]*tracker
	issues   map[string]*models.HealthIssue // keyed by agentID+"/"+type

	runMu    sync.Mutex
	stop     chan struct{}
	done     chan struct{}
	scanning atomic.Bool
}

// Option configures a Steward.
type Option func(*Steward)

// WithNotifier sets the alert channel.
func WithNotifier(n dispatch.Notifier) Option {
	return func(s *Steward) { s.notifier = n }
}

// WithLogger sets the debug logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Steward) { s.log = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Steward) { s.metrics = m }
}

// WithClock overrides the steward clock (for testing).
func WithClock(now func() time.Time) Option {
	return func(s *Steward) { s.now = now }
}

// NewSteward creates a health steward.
func NewSteward(cfg Config, agents registry.Registry, sessions session.Manager, assignments TaskUnassigner, opts ...Option) *Steward {
	s := &Steward{
		cfg:         cfg,
		agents:      agents,
		sessions:    sessions,
		assignments: assignments,
		log:         logging.Nop(),
		now:         time.Now,
		trackers:    make(map[string]*tracker),
		issues:      make(map[string]*models.HealthIssue),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.emitter = NewEventEmitter(64, s.log)
	return s
}

// Events returns the steward's event stream.
func (s *Steward) Events() <-chan Event {
	return s.emitter.Events()
}

// Start arms the periodic scan timer. Scans never overlap: a tick
// that fires while a scan is in flight is skipped.
func (s *Steward) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go func(stop, done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(s.cfg.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !s.scanning.CompareAndSwap(false, true) {
					s.log.Debugf("health scan still in flight, skipping tick")
					continue
				}
				if _, err := s.runScanLocked(ctx); err != nil {
					s.log.Errorf("health scan failed: %v", err)
				}
				s.scanning.Store(false)
			}
		}
	}(s.stop, s.done)
}

// Stop disarms the timer and waits for an in-flight scan to finish.
func (s *Steward) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop = nil
	s.done = nil
}

// CheckNow runs one scan synchronously. Used by the CLI and tests;
// safe to call alongside the timer because scans serialize on the
// scanning flag.
func (s *Steward) CheckNow(ctx context.Context) (*ScanResult, error) {
	for !s.scanning.CompareAndSwap(false, true) {
		time.Sleep(10 * time.Millisecond)
	}
	defer s.scanning.Store(false)
	return s.runScanLocked(ctx)
}

// RecordOutput notes that the agent produced output.
func (s *Steward) RecordOutput(agentID string) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureTracker(agentID, now).recordOutput(now, s.cfg.ErrorWindow)
}

// RecordError notes that the agent produced an error.
func (s *Steward) RecordError(agentID string) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureTracker(agentID, now).recordError(now, s.cfg.ErrorWindow)
}

// RecordCrash records a process crash synchronously: the issue is
// created (or its count bumped) and the remediation action runs
// immediately instead of waiting for the next scan.
func (s *Steward) RecordCrash(ctx context.Context, agentID, taskID, detail string) *ActionResult {
	now := s.now()

	s.mu.Lock()
	tr := s.ensureTracker(agentID, now)
	tr.crashed = true
	tr.crashContext = detail
	tr.crashTaskID = taskID

	issue, isNew := s.upsertIssueLocked(agentID, models.IssueProcessCrashed, models.SeverityCritical, now, map[string]any{
		"detail": detail,
	})
	if taskID != "" {
		issue.TaskID = taskID
	}
	action := s.planActionLocked(issue, tr)
	s.mu.Unlock()

	if isNew {
		s.emitter.Emit(Event{Type: EventIssueDetected, Timestamp: now, Issue: cloneIssue(issue)})
	}
	result := s.execute(ctx, action, issue)
	s.emitter.Emit(Event{Type: EventActionTaken, Timestamp: s.now(), Action: &result})
	s.metrics.IncHealthAction(string(action))

	if result.Success {
		s.mu.Lock()
		tr.crashed = false
		s.mu.Unlock()
	}
	return &result
}

// GetActiveIssues returns the currently active issues.
func (s *Steward) GetActiveIssues() []*models.HealthIssue {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.HealthIssue, 0, len(s.issues))
	for _, issue := range s.issues {
		out = append(out, cloneIssue(issue))
	}
	return out
}

// runScanLocked performs one scan. The caller holds the scanning flag.
func (s *Steward) runScanLocked(ctx context.Context) (*ScanResult, error) {
	start := s.now()
	result := &ScanResult{Timestamp: start}

	agents, err := s.agents.ListBySessionStatus(ctx, models.SessionRunning)
	if err != nil {
		return nil, err
	}
	result.AgentsChecked = len(agents)

	// One session read per agent; reused by detection and resolution.
	sessionsByAgent := make(map[string]*session.Session, len(agents))
	agentsByID := make(map[string]*models.Agent, len(agents))
	for _, agent := range agents {
		agentsByID[agent.ID] = agent
		sess, err := s.sessions.GetActiveSession(ctx, agent.ID)
		if err != nil {
			s.log.Warnf("session lookup for %s failed: %v", agent.ID, err)
			continue
		}
		sessionsByAgent[agent.ID] = sess
	}

	// Detection.
	type plannedAction struct {
		action ActionType
		issue  *models.HealthIssue
	}
	var planned []plannedAction
	seen := make(map[string]bool) // agentID+"/"+action dedup within the scan

	s.mu.Lock()
	for _, agent := range agents {
		tr := s.ensureTracker(agent.ID, start)
		tr.lastCheck = start

		for _, det := range s.detect(tr, sessionsByAgent[agent.ID], start) {
			issue, isNew := s.upsertIssueLocked(agent.ID, det.issueType, det.severity, start, det.context)
			issue.AgentRole = agent.Role
			if sess := sessionsByAgent[agent.ID]; sess != nil {
				issue.SessionID = sess.ID
			}
			if isNew {
				result.NewIssues = append(result.NewIssues, cloneIssue(issue))
			}
		}

		for _, issue := range s.issuesForAgentLocked(agent.ID) {
			action := s.planActionLocked(issue, tr)
			if action == ActionMonitor {
				continue
			}
			key := agent.ID + "/" + string(action)
			if seen[key] {
				continue
			}
			seen[key] = true
			planned = append(planned, plannedAction{action: action, issue: issue})
		}
	}
	s.mu.Unlock()

	for _, issue := range result.NewIssues {
		s.emitter.Emit(Event{Type: EventIssueDetected, Timestamp: start, Issue: issue})
	}

	// Actions.
	for _, p := range planned {
		res := s.execute(ctx, p.action, p.issue)
		result.ActionsTaken = append(result.ActionsTaken, res)
		s.emitter.Emit(Event{Type: EventActionTaken, Timestamp: s.now(), Action: &res})
		s.metrics.IncHealthAction(string(p.action))
	}

	// Resolution: re-check every active issue against its condition.
	now := s.now()
	s.mu.Lock()
	withIssues := make(map[string]bool)
	for key, issue := range s.issues {
		tr := s.trackers[issue.AgentID]
		_, stillRunning := agentsByID[issue.AgentID]
		if tr != nil && stillRunning && s.conditionHolds(issue.Type, tr, sessionsByAgent[issue.AgentID], now) {
			withIssues[issue.AgentID] = true
			continue
		}
		delete(s.issues, key)
		result.ResolvedIssues = append(result.ResolvedIssues, cloneIssue(issue))
	}
	active := len(s.issues)
	s.mu.Unlock()

	for _, issue := range result.ResolvedIssues {
		s.emitter.Emit(Event{Type: EventIssueResolved, Timestamp: now, Issue: issue})
	}

	result.AgentsWithIssues = len(withIssues)
	result.Duration = s.now().Sub(start)

	s.metrics.IncHealthCheck()
	s.metrics.SetActiveIssues(active)
	s.metrics.ObserveScanDuration(result.Duration)
	s.emitter.Emit(Event{Type: EventCheckCompleted, Timestamp: s.now(), Scan: result})
	s.log.Debugf("health scan: %d agents, %d new, %d resolved, %d actions",
		result.AgentsChecked, len(result.NewIssues), len(result.ResolvedIssues), len(result.ActionsTaken))
	return result, nil
}

// detection is one fired condition.
type detection struct {
	issueType models.IssueType
	severity  models.Severity
	context   map[string]any
}

// detect evaluates the detection rules for one agent. Caller holds
// s.mu.
func (s *Steward) detect(tr *tracker, sess *session.Session, now time.Time) []detection {
	var out []detection

	if silent := now.Sub(tr.lastOutput); silent > s.cfg.NoOutputThreshold {
		severity := models.SeverityWarning
		if silent > s.cfg.NoOutputThreshold+15*time.Minute {
			severity = models.SeverityError
		}
		out = append(out, detection{
			issueType: models.IssueNoOutput,
			severity:  severity,
			context:   map[string]any{"silentMs": silent.Milliseconds()},
		})
	}

	if n := tr.errorsInWindow(now, s.cfg.ErrorWindow); n >= s.cfg.ErrorCountThreshold {
		severity := models.SeverityError
		if n > 10 {
			severity = models.SeverityCritical
		}
		out = append(out, detection{
			issueType: models.IssueRepeatedErrors,
			severity:  severity,
			context:   map[string]any{"errorCount": n},
		})
	}

	errs := tr.errorsInWindow(now, s.cfg.ErrorWindow)
	outputs := tr.outputsInWindow(now, s.cfg.ErrorWindow)
	if errs > 0 && outputs > 0 {
		rate := float64(errs) / float64(errs+outputs)
		if rate > 0.5 {
			out = append(out, detection{
				issueType: models.IssueHighErrorRate,
				severity:  models.SeverityError,
				context:   map[string]any{"errorRate": rate},
			})
		}
	}

	if sess != nil && now.Sub(sess.LastActivityAt) > s.cfg.StaleSessionThreshold {
		out = append(out, detection{
			issueType: models.IssueSessionStale,
			severity:  models.SeverityWarning,
			context:   map[string]any{"lastActivityAt": sess.LastActivityAt},
		})
	}

	if tr.crashed {
		out = append(out, detection{
			issueType: models.IssueProcessCrashed,
			severity:  models.SeverityCritical,
			context:   map[string]any{"detail": tr.crashContext},
		})
	}

	if tr.pingAttempts >= s.cfg.MaxPingAttempts && !tr.pingAnswered() {
		severity := models.SeverityError
		if tr.pingAttempts > s.cfg.MaxPingAttempts {
			severity = models.SeverityCritical
		}
		out = append(out, detection{
			issueType: models.IssueUnresponsive,
			severity:  severity,
			context:   map[string]any{"pingAttempts": tr.pingAttempts},
		})
	}

	return out
}

// conditionHolds re-evaluates one issue's originating condition.
// Caller holds s.mu.
func (s *Steward) conditionHolds(issueType models.IssueType, tr *tracker, sess *session.Session, now time.Time) bool {
	switch issueType {
	case models.IssueNoOutput:
		return now.Sub(tr.lastOutput) > s.cfg.NoOutputThreshold
	case models.IssueRepeatedErrors:
		return tr.errorsInWindow(now, s.cfg.ErrorWindow) >= s.cfg.ErrorCountThreshold
	case models.IssueHighErrorRate:
		errs := tr.errorsInWindow(now, s.cfg.ErrorWindow)
		outputs := tr.outputsInWindow(now, s.cfg.ErrorWindow)
		return errs > 0 && outputs > 0 && float64(errs)/float64(errs+outputs) > 0.5
	case models.IssueSessionStale:
		return sess != nil && now.Sub(sess.LastActivityAt) > s.cfg.StaleSessionThreshold
	case models.IssueProcessCrashed:
		return tr.crashed
	case models.IssueUnresponsive:
		return tr.pingAttempts >= s.cfg.MaxPingAttempts && !tr.pingAnswered()
	}
	return false
}

// planActionLocked maps an issue to its remediation action. Caller
// holds s.mu.
func (s *Steward) planActionLocked(issue *models.HealthIssue, tr *tracker) ActionType {
	switch issue.Type {
	case models.IssueProcessCrashed:
		if s.cfg.AutoReassign && issue.TaskID != "" {
			return ActionReassignTask
		}
		return ActionNotifyDirector
	case models.IssueNoOutput, models.IssueSessionStale:
		if tr.pingAttempts < s.cfg.MaxPingAttempts {
			return ActionSendPing
		}
		if s.cfg.AutoRestart {
			return ActionRestart
		}
		return ActionNotifyDirector
	case models.IssueRepeatedErrors, models.IssueHighErrorRate:
		if s.cfg.NotifyDirector {
			return ActionNotifyDirector
		}
		return ActionMonitor
	case models.IssueUnresponsive:
		if issue.Severity == models.SeverityCritical {
			return ActionEscalate
		}
		if s.cfg.AutoRestart {
			return ActionRestart
		}
		return ActionNotifyDirector
	}
	return ActionMonitor
}

// execute runs one action and reports the outcome. Failures are
// recorded, never propagated.
func (s *Steward) execute(ctx context.Context, action ActionType, issue *models.HealthIssue) ActionResult {
	result := ActionResult{
		AgentID:   issue.AgentID,
		Action:    action,
		IssueID:   issue.ID,
		IssueType: issue.Type,
		At:        s.now(),
		Success:   true,
	}

	var err error
	switch action {
	case ActionSendPing:
		err = s.sendPing(ctx, issue.AgentID)
	case ActionRestart:
		err = s.restart(ctx, issue.AgentID)
	case ActionNotifyDirector:
		err = s.notifyDirector(ctx, issue)
	case ActionReassignTask:
		err = s.reassignTask(ctx, issue)
	case ActionEscalate:
		err = s.escalate(ctx, issue)
	case ActionMonitor:
	}

	if err != nil {
		result.Success = false
		result.Error = err.Error()
		s.log.Warnf("action %s on %s failed: %v", action, issue.AgentID, err)
	} else {
		s.log.Infof("action %s on %s (%s)", action, issue.AgentID, issue.Type)
	}
	return result
}

func (s *Steward) sendPing(ctx context.Context, agentID string) error {
	sess, err := s.sessions.GetActiveSession(ctx, agentID)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("agent %s has no active session to ping", agentID)
	}
	if err := s.sessions.MessageSession(ctx, sess.ID, "health check: please report your current status"); err != nil {
		return err
	}
	s.mu.Lock()
	if tr := s.trackers[agentID]; tr != nil {
		tr.lastPing = s.now()
		tr.pingAttempts++
	}
	s.mu.Unlock()
	return nil
}

// restart stops the current session; a new one is never auto-started.
func (s *Steward) restart(ctx context.Context, agentID string) error {
	sess, err := s.sessions.GetActiveSession(ctx, agentID)
	if err != nil {
		return err
	}
	if sess != nil {
		if err := s.sessions.StopSession(ctx, sess.ID, session.StopOptions{Graceful: true, Reason: "health restart"}); err != nil {
			return err
		}
	}
	s.mu.Lock()
	if tr := s.trackers[agentID]; tr != nil {
		tr.resetAfterRestart(s.now())
	}
	s.mu.Unlock()
	return nil
}

func (s *Steward) notifyDirector(ctx context.Context, issue *models.HealthIssue) error {
	director, err := s.agents.FirstDirector(ctx)
	if err != nil {
		return err
	}
	if director == nil {
		return fmt.Errorf("no director agent registered")
	}
	if s.notifier == nil {
		return fmt.Errorf("no notification channel configured")
	}
	return s.notifier.Notify(ctx, dispatch.Notification{
		AgentID: director.ID,
		Kind:    dispatch.KindHealthAlert,
		TaskID:  issue.TaskID,
		Message: fmt.Sprintf("health issue on %s: %s (%s), seen %d times", issue.AgentID, issue.Type, issue.Severity, issue.OccurrenceCount),
	})
}

func (s *Steward) reassignTask(ctx context.Context, issue *models.HealthIssue) error {
	sess, err := s.sessions.GetActiveSession(ctx, issue.AgentID)
	if err != nil {
		return err
	}
	if sess != nil {
		if err := s.sessions.StopSession(ctx, sess.ID, session.StopOptions{Graceful: false, Reason: "reassigning task from unhealthy agent"}); err != nil {
			return err
		}
	}
	if issue.TaskID == "" {
		return nil
	}
	_, err = s.assignments.UnassignTask(ctx, issue.TaskID)
	return err
}

func (s *Steward) escalate(ctx context.Context, issue *models.HealthIssue) error {
	s.mu.Lock()
	if stored := s.issues[issueKey(issue.AgentID, issue.Type)]; stored != nil {
		stored.Escalated = true
	}
	s.mu.Unlock()
	return s.notifyDirector(ctx, issue)
}

// ensureTracker returns the agent's tracker, creating it on first
// sight. Caller holds s.mu.
func (s *Steward) ensureTracker(agentID string, now time.Time) *tracker {
	tr, ok := s.trackers[agentID]
	if !ok {
		tr = newTracker(agentID, now)
		s.trackers[agentID] = tr
	}
	return tr
}

// upsertIssueLocked creates an issue or bumps the existing one for
// the same (agent, type). Caller holds s.mu.
func (s *Steward) upsertIssueLocked(agentID string, issueType models.IssueType, severity models.Severity, now time.Time, context map[string]any) (*models.HealthIssue, bool) {
	key := issueKey(agentID, issueType)
	if existing, ok := s.issues[key]; ok {
		existing.LastSeenAt = now
		existing.OccurrenceCount++
		existing.Severity = severity
		existing.Context = context
		return existing, false
	}
	issue := &models.HealthIssue{
		ID:              "hi-" + uuid.NewString()[:8],
		AgentID:         agentID,
		Type:            issueType,
		Severity:        severity,
		DetectedAt:      now,
		LastSeenAt:      now,
		OccurrenceCount: 1,
		Context:         context,
	}
	s.issues[key] = issue
	return issue, true
}

// issuesForAgentLocked returns the agent's active issues. Caller
// holds s.mu.
func (s *Steward) issuesForAgentLocked(agentID string) []*models.HealthIssue {
	var out []*models.HealthIssue
	for _, issue := range s.issues {
		if issue.AgentID == agentID {
			out = append(out, issue)
		}
	}
	return out
}

func issueKey(agentID string, issueType models.IssueType) string {
	return agentID + "/" + string(issueType)
}

func cloneIssue(issue *models.HealthIssue) *models.HealthIssue {
	c := *issue
	if issue.Context != nil {
		c.Context = make(map[string]any, len(issue.Context))
		for k, v := range issue.Context {
			c.Context[k] = v
		}
	}
	return &c
}
