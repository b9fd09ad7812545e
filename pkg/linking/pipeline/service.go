// Package pipeline runs entity linking for stored documents.
//
// Analysis tasks extract a document's text, send it to the annotation engine
// and parse the returned graph into occurrence groups. They run on a pool of
// workers. Their results become serialization tasks, which a single worker
// writes to the store through the resolver, so that entity and relation
// updates never race each other. Both queues hold at most one waiting task
// per document: a repeated analysis request is dropped and a newer analysis
// result replaces the one still waiting to be written.
//
// A document's progress state is derived from both queues: a waiting task
// means queued, a task a worker has claimed means pending. Dequeue claims a
// task in the same step that removes it from the waiting list, so the state
// never goes absent while work remains.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pferrors "github.com/otherjamesbrown/penf-linker/pkg/errors"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/annotation"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/engine"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/extract"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/model"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/observability"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/progress"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/queues"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/resolver"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/store"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/workers"
	"github.com/otherjamesbrown/penf-linker/pkg/logging"
)

// Service is the entity linking service.
type Service struct {
	config    Config
	policy    resolver.Policy
	store     store.Store
	annotator engine.Annotator
	extract   extract.Func
	parser    *annotation.Parser
	resolver  *resolver.Resolver
	tracker   *progress.Tracker

	analysisQueue      queues.Queue
	serializationQueue queues.Queue
	analysisPool       *workers.Pool
	serializationPool  *workers.Pool

	metrics   *observability.Metrics
	tracer    *observability.Tracer
	publisher observability.Publisher
	logger    logging.Logger

	statusMu     sync.Mutex
	inflight     map[model.DocumentKey]*inflight
	sharedQueues bool

	deactivated  atomic.Bool
	closing      atomic.Bool
	startOnce    sync.Once
	shutdownOnce sync.Once
	drained      bool
}

// inflight counts the tasks a worker is running for one document.
type inflight struct {
	analysis      int
	serialization int
}

// Option configures the service.
type Option func(*Service)

// WithConfig sets the pipeline configuration.
func WithConfig(cfg Config) Option {
	return func(s *Service) {
		s.config = cfg
	}
}

// WithPolicy sets the linking policy.
func WithPolicy(p resolver.Policy) Option {
	return func(s *Service) {
		s.policy = p
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithQueues replaces the in-process queues.
func WithQueues(analysis, serialization queues.Queue) Option {
	return func(s *Service) {
		s.analysisQueue = analysis
		s.serializationQueue = serialization
	}
}

// WithSharedQueues replaces the in-process queues with queues other
// processes also feed and consume. Progress status is then read from the
// queues on every request instead of from the local tracker alone.
func WithSharedQueues(analysis, serialization queues.Queue) Option {
	return func(s *Service) {
		WithQueues(analysis, serialization)(s)
		s.sharedQueues = true
	}
}

// WithExtractor replaces the text extraction function.
func WithExtractor(fn extract.Func) Option {
	return func(s *Service) {
		s.extract = fn
	}
}

// WithParser replaces the annotation parser.
func WithParser(p *annotation.Parser) Option {
	return func(s *Service) {
		s.parser = p
	}
}

// WithResolver replaces the entity resolver.
func WithResolver(r *resolver.Resolver) Option {
	return func(s *Service) {
		s.resolver = r
	}
}

// WithTracker replaces the progress tracker.
func WithTracker(t *progress.Tracker) Option {
	return func(s *Service) {
		s.tracker = t
	}
}

// WithMetrics records pipeline metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithPublisher publishes task outcomes.
func WithPublisher(p observability.Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// New creates the service. Call Start to launch the workers.
func New(st store.Store, annotator engine.Annotator, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required: %w", pferrors.ErrValidation)
	}
	if annotator == nil {
		return nil, fmt.Errorf("annotator is required: %w", pferrors.ErrValidation)
	}

	s := &Service{
		config:    DefaultConfig(),
		policy:    resolver.DefaultPolicy(),
		store:     st,
		annotator: annotator,
		extract:   extract.ExtractText,
		tracer:    observability.NewTracer(),
		publisher: observability.NopPublisher{},
		logger:    logging.NewNopLogger(),
		inflight:  make(map[model.DocumentKey]*inflight),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.config.Validate(); err != nil {
		return nil, err
	}
	if err := s.policy.Validate(); err != nil {
		return nil, err
	}
	s.logger = s.logger.With(logging.Component("linking_service"))

	if s.parser == nil {
		s.parser = annotation.NewParser(annotation.WithLogger(s.logger))
	}
	if s.resolver == nil {
		resolverOpts := []resolver.Option{resolver.WithLogger(s.logger)}
		if s.metrics != nil {
			resolverOpts = append(resolverOpts, resolver.WithObserver(s.metrics))
		}
		s.resolver = resolver.New(resolverOpts...)
	}
	if s.tracker == nil {
		s.tracker = progress.NewTracker(progress.WithTTL(s.config.StatusTTL))
	}
	if s.analysisQueue == nil {
		s.analysisQueue = queues.NewMemoryQueue(queues.NameAnalysis)
	}
	if s.serializationQueue == nil {
		s.serializationQueue = queues.NewMemoryQueue(queues.NameSerialization)
	}

	s.analysisPool = workers.NewPool(workers.Config{
		Name:         "analysis",
		Count:        s.config.AnalysisWorkers,
		PollInterval: s.config.PollInterval,
	}, s.analysisQueue, s.handleAnalysis, workers.WithLogger(s.logger), workers.WithTaskDone(s.settle))
	s.serializationPool = workers.NewPool(workers.Config{
		Name:         "serialization",
		Count:        1,
		PollInterval: s.config.PollInterval,
	}, s.serializationQueue, s.handleSerialization, workers.WithLogger(s.logger), workers.WithTaskDone(s.settle))

	return s, nil
}

// Start launches both worker pools.
func (s *Service) Start() {
	s.startOnce.Do(func() {
		s.analysisPool.Start()
		s.serializationPool.Start()
		s.logger.Info("Linking service started",
			logging.F("analysis_workers", s.config.AnalysisWorkers))
	})
}

// Policy returns the linking policy.
func (s *Service) Policy() resolver.Policy {
	return s.policy
}

// accepting returns why new work is refused, if it is.
func (s *Service) accepting() error {
	if s.deactivated.Load() {
		return pferrors.ErrDeactivated
	}
	if s.closing.Load() {
		return pferrors.ErrShuttingDown
	}
	return nil
}

// Deactivate refuses new analysis. Running analysis tasks stop before
// handing their result to the serialization stage.
func (s *Service) Deactivate() {
	if !s.deactivated.Swap(true) {
		s.logger.Info("Linking service deactivated")
	}
}

// Analyze annotates text and returns its occurrence groups sorted by type and
// name. Nothing is stored.
func (s *Service) Analyze(ctx context.Context, text string) ([]model.OccurrenceGroup, error) {
	ctx, span := s.tracer.StartAnalyzeSpan(ctx)
	helper := observability.NewSpanHelper(span)

	groups, err := s.annotateAndParse(ctx, "", text)
	helper.End(err)
	if err != nil {
		return nil, err
	}
	model.SortGroups(groups)
	return groups, nil
}

// LaunchAnalysis queues an analysis of the document at key on behalf of
// principal. The principal needs write permission on the document. A request
// for a document that already waits in the analysis queue is dropped.
func (s *Service) LaunchAnalysis(ctx context.Context, principal store.Principal, key model.DocumentKey) error {
	if err := s.accepting(); err != nil {
		return err
	}
	if err := s.checkWritable(ctx, principal, key); err != nil {
		return err
	}

	task := queues.NewAnalysisTask(key, string(principal))

	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	res, err := s.analysisQueue.Enqueue(ctx, task, queues.KeepExisting)
	if err != nil {
		if errors.Is(err, queues.ErrQueueClosed) {
			return pferrors.ErrShuttingDown
		}
		return fmt.Errorf("queueing analysis of %s: %w", key, err)
	}
	if !res.Added {
		s.recordQueueEvent(queues.NameAnalysis, observability.QueueEventDuplicate)
		s.logger.Debug("Analysis already queued", logging.F("document", key.String()))
		return nil
	}
	s.recordQueueEvent(queues.NameAnalysis, observability.QueueEventEnqueued)
	s.refreshLocked(ctx, key)
	s.logger.Debug("Analysis queued", logging.F("document", key.String()), logging.F("task", task.ID))
	return nil
}

// checkWritable opens a short session to verify the document exists and
// principal may write it.
func (s *Service) checkWritable(ctx context.Context, principal store.Principal, key model.DocumentKey) error {
	sess, err := s.store.OpenSession(ctx, principal)
	if err != nil {
		return fmt.Errorf("opening session: %w", err)
	}
	defer sess.Rollback(ctx) // nolint: errcheck

	if _, err := sess.GetDocument(ctx, key); err != nil {
		return err
	}
	return requireWrite(ctx, sess, key.DocumentID)
}

func requireWrite(ctx context.Context, sess store.Session, documentID string) error {
	allowed, err := sess.HasPermission(ctx, documentID, store.PermWrite)
	if err != nil {
		return err
	}
	if !allowed {
		return fmt.Errorf("%s may not write %s: %w", sess.Principal(), documentID, pferrors.ErrForbidden)
	}
	return nil
}

// AnalysisResult is the outcome of a synchronous analysis.
type AnalysisResult struct {
	Groups  []model.OccurrenceGroup `json:"groups"`
	Summary *resolver.LinkSummary   `json:"summary"`
}

// LaunchSynchronousAnalysis runs the whole pipeline for doc inside sess and
// returns when the groups are linked. The caller commits or rolls back sess.
func (s *Service) LaunchSynchronousAnalysis(ctx context.Context, sess store.Session, doc *model.Document) (*AnalysisResult, error) {
	if err := s.accepting(); err != nil {
		return nil, err
	}
	if err := requireWrite(ctx, sess, doc.ID); err != nil {
		return nil, err
	}

	key := doc.Key()
	start := time.Now()
	ctx, span := s.tracer.StartTaskSpan(ctx, "synchronous", "", key)
	helper := observability.NewSpanHelper(span)

	s.begin(ctx, key, queues.KindAnalysis)
	groups, err := s.analyzeDocument(ctx, doc)
	if err == nil {
		s.begin(ctx, key, queues.KindSerialization)
	}
	s.end(ctx, key, queues.KindAnalysis)
	if err != nil {
		helper.End(err)
		s.recordTask("synchronous", err, start)
		return nil, err
	}
	defer s.end(ctx, key, queues.KindSerialization)

	helper.SetGroups(len(groups))
	summary, err := s.link(ctx, sess, key, groups)
	helper.End(err)
	s.recordTask("synchronous", err, start)
	if err != nil {
		return nil, err
	}
	helper.SetLinkCounts(summary.Linked, summary.Created, summary.Skipped, summary.Failed)
	return &AnalysisResult{Groups: groups, Summary: summary}, nil
}

// handleAnalysis runs one queued analysis task.
func (s *Service) handleAnalysis(ctx context.Context, task *queues.Task) (err error) {
	key := task.Key
	start := time.Now()
	s.recordQueueWait(queues.NameAnalysis, task)
	s.begin(ctx, key, queues.KindAnalysis)
	defer s.end(ctx, key, queues.KindAnalysis)

	ctx, span := s.tracer.StartTaskSpan(ctx, string(task.Kind), task.ID, key)
	helper := observability.NewSpanHelper(span)
	aborted := false
	defer func() {
		helper.End(err)
		s.recordTaskOutcome(string(task.Kind), err, aborted, start)
		s.publishFailure(ctx, key, err)
	}()

	if s.deactivated.Load() {
		s.logger.Debug("Service deactivated, dropping analysis", logging.F("document", key.String()))
		aborted = true
		return nil
	}

	doc, err := s.loadDocument(ctx, store.Principal(task.Principal), key)
	if err != nil {
		if pferrors.IsNotFound(err) {
			s.logger.Debug("Document gone, dropping analysis", logging.F("document", key.String()))
			aborted = true
			return nil
		}
		return pferrors.NewStageError(pferrors.StageExtract, key.String(), err)
	}

	groups, err := s.analyzeDocument(ctx, doc)
	if err != nil {
		s.logger.Error("Analysis failed, dropping task",
			logging.F("document", key.String()), logging.F("task", task.ID), logging.Err(err))
		return err
	}
	helper.SetGroups(len(groups))

	if s.deactivated.Load() {
		s.logger.Debug("Service deactivated, not queueing linking", logging.F("document", key.String()))
		aborted = true
		return nil
	}
	return s.enqueueSerialization(ctx, task.Principal, key, groups)
}

func (s *Service) loadDocument(ctx context.Context, principal store.Principal, key model.DocumentKey) (*model.Document, error) {
	sess, err := s.store.OpenSession(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("opening session: %w", err)
	}
	defer sess.Rollback(ctx) // nolint: errcheck
	return sess.GetDocument(ctx, key)
}

// enqueueSerialization queues groups for writing, replacing a result for the
// same document that is still waiting.
func (s *Service) enqueueSerialization(ctx context.Context, principal string, key model.DocumentKey, groups []model.OccurrenceGroup) error {
	task := queues.NewSerializationTask(key, principal, groups)

	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	res, err := s.serializationQueue.Enqueue(ctx, task, queues.ReplaceExisting)
	if err != nil {
		return pferrors.NewStageError(pferrors.StagePersist, key.String(), err)
	}
	if res.Superseded {
		s.recordQueueEvent(queues.NameSerialization, observability.QueueEventSuperseded)
		s.logger.Debug("Replaced waiting linking task", logging.F("document", key.String()))
	}
	s.recordQueueEvent(queues.NameSerialization, observability.QueueEventEnqueued)
	s.refreshLocked(ctx, key)
	return nil
}

// handleSerialization writes one analysis result.
func (s *Service) handleSerialization(ctx context.Context, task *queues.Task) (err error) {
	key := task.Key
	start := time.Now()
	s.recordQueueWait(queues.NameSerialization, task)
	s.begin(ctx, key, queues.KindSerialization)
	defer s.end(ctx, key, queues.KindSerialization)

	ctx, span := s.tracer.StartTaskSpan(ctx, string(task.Kind), task.ID, key)
	helper := observability.NewSpanHelper(span)
	aborted := false
	defer func() {
		helper.End(err)
		s.recordTaskOutcome(string(task.Kind), err, aborted, start)
		s.publishFailure(ctx, key, err)
	}()

	sess, err := s.store.OpenSession(ctx, store.Principal(task.Principal))
	if err != nil {
		return pferrors.NewStageError(pferrors.StageLink, key.String(), err)
	}
	defer sess.Rollback(ctx) // nolint: errcheck

	if _, err := sess.GetDocument(ctx, key); err != nil {
		if pferrors.IsNotFound(err) {
			s.logger.Debug("Document gone, dropping linking", logging.F("document", key.String()))
			aborted = true
			return nil
		}
		return pferrors.NewStageError(pferrors.StageLink, key.String(), err)
	}

	summary, err := s.link(ctx, sess, key, task.Groups)
	if err != nil {
		s.logger.Error("Linking failed, rolling back",
			logging.F("document", key.String()), logging.F("task", task.ID), logging.Err(err))
		return err
	}
	if err := sess.Commit(ctx); err != nil {
		s.logger.Error("Commit failed, linking dropped",
			logging.F("document", key.String()), logging.F("task", task.ID), logging.Err(err))
		return pferrors.NewStageError(pferrors.StagePersist, key.String(), err)
	}

	helper.SetLinkCounts(summary.Linked, summary.Created, summary.Skipped, summary.Failed)
	event := observability.NewLinkingCompletedEvent(key, task.Principal, len(task.Groups),
		summary.Linked, summary.Created, summary.Skipped, summary.Failed, time.Since(start))
	event.TraceID = observability.GetTraceID(ctx)
	if perr := s.publisher.PublishCompleted(ctx, event); perr != nil {
		s.logger.Warn("Failed to publish completion", logging.F("document", key.String()), logging.Err(perr))
	}
	s.logger.Info("Document linked",
		logging.F("document", key.String()), logging.F("groups", len(task.Groups)),
		logging.F("linked", summary.Linked), logging.F("created", summary.Created),
		logging.F("skipped", summary.Skipped), logging.F("failed", summary.Failed))
	return nil
}

// analyzeDocument extracts, annotates and parses doc.
func (s *Service) analyzeDocument(ctx context.Context, doc *model.Document) ([]model.OccurrenceGroup, error) {
	_, span := s.tracer.StartStageSpan(ctx, pferrors.StageExtract)
	text, err := s.extract(doc)
	observability.NewSpanHelper(span).End(err)
	if err != nil {
		return nil, pferrors.NewStageError(pferrors.StageExtract, doc.Key().String(), err)
	}
	return s.annotateAndParse(ctx, doc.Key().String(), text)
}

func (s *Service) annotateAndParse(ctx context.Context, document, text string) ([]model.OccurrenceGroup, error) {
	annotateCtx, span := s.tracer.StartStageSpan(ctx, pferrors.StageAnnotate)
	g, err := s.annotator.Annotate(annotateCtx, text)
	observability.NewSpanHelper(span).End(err)
	if err != nil {
		return nil, pferrors.NewStageError(pferrors.StageAnnotate, document, err)
	}

	_, span = s.tracer.StartStageSpan(ctx, pferrors.StageParse)
	groups := s.parser.Parse(g)
	observability.NewSpanHelper(span).End(nil)
	return groups, nil
}

func (s *Service) link(ctx context.Context, sess store.Session, key model.DocumentKey, groups []model.OccurrenceGroup) (*resolver.LinkSummary, error) {
	linkCtx, span := s.tracer.StartStageSpan(ctx, pferrors.StageLink)
	summary, err := s.resolver.Link(linkCtx, sess, key.DocumentID, groups, s.policy)
	observability.NewSpanHelper(span).End(err)
	if err != nil {
		return nil, pferrors.NewStageError(pferrors.StageLink, key.String(), err)
	}
	return summary, nil
}

// begin and end count running tasks so that the progress status reflects
// work that left its queue.
func (s *Service) begin(ctx context.Context, key model.DocumentKey, kind queues.TaskKind) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	r, ok := s.inflight[key]
	if !ok {
		r = &inflight{}
		s.inflight[key] = r
	}
	if kind == queues.KindAnalysis {
		r.analysis++
	} else {
		r.serialization++
	}
	s.refreshLocked(ctx, key)
}

func (s *Service) end(ctx context.Context, key model.DocumentKey, kind queues.TaskKind) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if r, ok := s.inflight[key]; ok {
		if kind == queues.KindAnalysis {
			r.analysis--
		} else {
			r.serialization--
		}
		if r.analysis <= 0 && r.serialization <= 0 {
			delete(s.inflight, key)
		}
	}
	s.refreshLocked(ctx, key)
}

// settle re-reads the state of a task's document once its claim is released.
func (s *Service) settle(task *queues.Task) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.refreshLocked(context.Background(), task.Key)
}

// refreshLocked derives key's progress state from the queues and the running
// tasks, earliest stage first. Callers hold statusMu.
func (s *Service) refreshLocked(ctx context.Context, key model.DocumentKey) {
	ctx = context.WithoutCancel(ctx)
	r := s.inflight[key]

	queued, pending, err := stageState(ctx, s.analysisQueue, key, r != nil && r.analysis > 0)
	if err != nil {
		s.logger.Warn("Failed to read analysis queue", logging.F("document", key.String()), logging.Err(err))
		return
	}
	switch {
	case queued:
		s.tracker.Set(key, progress.StateAnalysisQueued)
		return
	case pending:
		s.tracker.Set(key, progress.StateAnalysisPending)
		return
	}

	queued, pending, err = stageState(ctx, s.serializationQueue, key, r != nil && r.serialization > 0)
	if err != nil {
		s.logger.Warn("Failed to read serialization queue", logging.F("document", key.String()), logging.Err(err))
		return
	}
	switch {
	case queued:
		s.tracker.Set(key, progress.StateLinkingQueued)
	case pending:
		s.tracker.Set(key, progress.StateLinkingPending)
	default:
		s.tracker.Clear(key)
	}
}

// stageState reports whether key waits in q, or is pending: claimed from q
// by a worker or running inline.
func stageState(ctx context.Context, q queues.Queue, key model.DocumentKey, running bool) (queued, pending bool, err error) {
	pos, _, err := q.Position(ctx, key)
	if err != nil {
		return false, false, err
	}
	if pos > 0 {
		return true, false, nil
	}
	if running {
		return false, true, nil
	}
	claimed, err := q.Claimed(ctx, key)
	return false, claimed, err
}

// GetProgressStatus returns where the document is in the pipeline. ok is
// false when the document is idle or finished, successfully or not.
func (s *Service) GetProgressStatus(ctx context.Context, key model.DocumentKey) (status progress.Status, ok bool, err error) {
	if s.sharedQueues {
		s.statusMu.Lock()
		s.refreshLocked(ctx, key)
		s.statusMu.Unlock()
	}
	state, ok := s.tracker.Get(key)
	if !ok {
		return progress.Status{}, false, nil
	}

	q := s.analysisQueue
	if state == progress.StateLinkingQueued || state == progress.StateLinkingPending {
		q = s.serializationQueue
	}
	pos, size, err := q.Position(ctx, key)
	if err != nil {
		return progress.Status{}, false, fmt.Errorf("reading queue position of %s: %w", key, err)
	}
	if !state.Queued() {
		pos = 0
	}
	return progress.NewStatus(state, pos, size), true, nil
}

// ClearProgressStatus forgets the document's progress entry.
func (s *Service) ClearProgressStatus(key model.DocumentKey) {
	s.tracker.Clear(key)
}

// AddOccurrence links the mention at [start, end) of snippet in source to
// target.
func (s *Service) AddOccurrence(ctx context.Context, sess store.Session, source, target, snippet string, start, end int) (*model.OccurrenceRelation, error) {
	return s.resolver.AddOccurrence(ctx, sess, source, target, snippet, start, end)
}

// AddOccurrences merges occurrences into the relation from source to target.
func (s *Service) AddOccurrences(ctx context.Context, sess store.Session, source, target string, occurrences []model.OccurrenceInfo) (*model.OccurrenceRelation, error) {
	return s.resolver.AddOccurrences(ctx, sess, source, target, occurrences)
}

// RemoveOccurrences removes the relations from source to target.
func (s *Service) RemoveOccurrences(ctx context.Context, sess store.Session, source, target string, force bool) error {
	return s.resolver.RemoveOccurrences(ctx, sess, source, target, force)
}

// SuggestLocalEntity ranks stored entities matching keywords.
func (s *Service) SuggestLocalEntity(ctx context.Context, sess store.Session, keywords, entityType string, max int) ([]model.EntitySuggestion, error) {
	return s.resolver.SuggestLocalEntity(ctx, sess, keywords, entityType, max)
}

// Shutdown stops accepting work, lets the analysis stage and then the
// serialization stage finish their queues and reports whether both drained
// within timeout. Tasks an in-process queue still holds when time runs out
// are dropped along with their progress entries. Later calls return the
// first result.
func (s *Service) Shutdown(timeout time.Duration) bool {
	s.shutdownOnce.Do(func() {
		s.closing.Store(true)
		start := time.Now()

		analysisDrained := s.analysisPool.Stop(timeout)
		remaining := timeout - time.Since(start)
		if remaining < 0 {
			remaining = 0
		}
		serializationDrained := s.serializationPool.Stop(remaining)

		var discarded []model.DocumentKey
		for _, q := range []queues.Queue{s.analysisQueue, s.serializationQueue} {
			keys, err := q.Close()
			if err != nil {
				s.logger.Warn("Failed to close queue", logging.F("queue", q.Name()), logging.Err(err))
			}
			if len(keys) > 0 {
				s.logger.Warn("Discarded waiting tasks",
					logging.F("queue", q.Name()), logging.F("count", len(keys)))
			}
			discarded = append(discarded, keys...)
		}
		s.statusMu.Lock()
		for _, key := range discarded {
			s.refreshLocked(context.Background(), key)
		}
		s.statusMu.Unlock()

		s.drained = analysisDrained && serializationDrained
		s.logger.Info("Linking service stopped",
			logging.F("drained", s.drained), logging.F("elapsed", time.Since(start).String()))
	})
	return s.drained
}

// Stats describes both stages.
type Stats struct {
	AnalysisQueue      queues.Stats      `json:"analysisQueue"`
	SerializationQueue queues.Stats      `json:"serializationQueue"`
	AnalysisPool       workers.PoolStats `json:"analysisPool"`
	SerializationPool  workers.PoolStats `json:"serializationPool"`
	Tracked            int               `json:"tracked"`
	Deactivated        bool              `json:"deactivated"`
}

// QueueStats returns queue and worker statistics.
func (s *Service) QueueStats(ctx context.Context) (Stats, error) {
	aq, err := s.analysisQueue.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	sq, err := s.serializationQueue.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		AnalysisQueue:      aq,
		SerializationQueue: sq,
		AnalysisPool:       s.analysisPool.Stats(),
		SerializationPool:  s.serializationPool.Stats(),
		Tracked:            s.tracker.Len(),
		Deactivated:        s.deactivated.Load(),
	}, nil
}

// staleRecoverer is implemented by queues whose in-flight tasks can outlive
// a crashed process.
type staleRecoverer interface {
	RecoverStale(ctx context.Context) (int, error)
}

// Sweep drops expired progress entries, refreshes the gauges and returns
// abandoned in-flight tasks to their queues.
func (s *Service) Sweep(ctx context.Context) {
	if n := s.tracker.Sweep(); n > 0 {
		s.logger.Debug("Expired progress entries removed", logging.F("count", n))
	}

	for _, q := range []queues.Queue{s.analysisQueue, s.serializationQueue} {
		if r, ok := q.(staleRecoverer); ok {
			n, err := r.RecoverStale(ctx)
			if err != nil {
				s.logger.Warn("Failed to recover stale tasks", logging.F("queue", q.Name()), logging.Err(err))
			} else if n > 0 {
				s.logger.Info("Recovered stale tasks", logging.F("queue", q.Name()), logging.F("count", n))
			}
		}
		if s.metrics != nil {
			if depth, err := q.Depth(ctx); err == nil {
				s.metrics.RecordQueueDepth(q.Name(), depth)
			}
		}
	}

	if s.metrics != nil {
		counts := s.tracker.Counts()
		for _, state := range []progress.State{
			progress.StateAnalysisQueued, progress.StateAnalysisPending,
			progress.StateLinkingQueued, progress.StateLinkingPending,
		} {
			s.metrics.SetProgressEntries(state.String(), counts[state])
		}
	}
}

func (s *Service) recordQueueEvent(queue, event string) {
	if s.metrics != nil {
		s.metrics.RecordQueueEvent(queue, event)
	}
}

func (s *Service) recordQueueWait(queue string, task *queues.Task) {
	if s.metrics != nil && !task.EnqueuedAt.IsZero() {
		s.metrics.RecordQueueWait(queue, time.Since(task.EnqueuedAt))
	}
}

func (s *Service) recordTask(kind string, err error, start time.Time) {
	s.recordTaskOutcome(kind, err, false, start)
}

func (s *Service) recordTaskOutcome(kind string, err error, aborted bool, start time.Time) {
	if s.metrics == nil {
		return
	}
	status, code := observability.TaskStatusSucceeded, ""
	switch {
	case err != nil:
		status, code = observability.TaskStatusFailed, string(pferrors.CodeOf(err))
	case aborted:
		status = observability.TaskStatusAborted
	}
	s.metrics.RecordTask(kind, status, code, time.Since(start))
}

func (s *Service) publishFailure(ctx context.Context, key model.DocumentKey, err error) {
	if err == nil {
		return
	}
	stage := pferrors.StageLink
	var se *pferrors.StageError
	if errors.As(err, &se) {
		stage = se.Stage
	}
	event := observability.NewLinkingFailedEvent(key, stage, err)
	event.TraceID = observability.GetTraceID(ctx)
	if perr := s.publisher.PublishFailed(context.WithoutCancel(ctx), event); perr != nil {
		s.logger.Warn("Failed to publish failure", logging.F("document", key.String()), logging.Err(perr))
	}
}
