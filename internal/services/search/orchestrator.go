// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package search coordinates one user session: searching, ranking, progressive
// disclosure, cache enrichment, stream resolution and download hand-off.
//
// All shared state (result store, resolved streams, view state) is mutated
// under the orchestrator lock. Background work captures the generation and
// context key at start and only applies results while both are still current.
package search

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/pickr/internal/metrics"
	"github.com/autobrr/pickr/internal/models"
	"github.com/autobrr/pickr/internal/services/downloads"
	"github.com/autobrr/pickr/internal/services/playback"
	"github.com/autobrr/pickr/internal/services/ranking"
	"github.com/autobrr/pickr/internal/services/results"
)

const (
	DefaultInitialBatchSize = 10
	DefaultRevealBatchSize  = 10
)

type Config struct {
	InitialBatchSize    int
	RevealBatchSize     int
	EnrichmentBatchSize int
	EnrichmentDelay     time.Duration
	Filter              *ranking.Filter
}

// Deps are the collaborators of an orchestrator. Source is required; the rest
// may be nil, which disables the matching feature.
type Deps struct {
	Source      SearchSource
	Oracle      AvailabilityOracle
	Resolver    StreamResolver
	Sink        DownloadSink
	Preferences PreferenceSource
	Ranker      *ranking.Service
	Tracker     *downloads.Tracker
}

// ticket identifies the search a piece of background work belongs to.
type ticket struct {
	generation uint64
	key        models.ContextKey
}

type completion struct {
	episodeID string
	key       models.ContextKey
	valid     bool
}

type failure struct {
	code  ErrorCode
	retry func(ctx context.Context) error
}

type Orchestrator struct {
	mu sync.Mutex

	cfg      Config
	source   SearchSource
	oracle   AvailabilityOracle
	resolver StreamResolver
	sink     DownloadSink
	prefs    PreferenceSource
	ranker   *ranking.Service
	tracker  *downloads.Tracker
	store    *results.Store
	phases   *playback.PhaseMachine

	generation    uint64
	request       Request
	selected      models.ContextKey
	lastCompleted completion
	view          ViewState
	resolved      []models.StreamInfo
	lastFailure   *failure

	searchCancel context.CancelFunc
	enrichCancel context.CancelFunc
	baseCtx      context.Context
	baseCancel   context.CancelFunc
	wg           sync.WaitGroup
	closed       bool

	listeners map[int]func(Event)
	nextID    int

	logger zerolog.Logger
}

func NewOrchestrator(cfg Config, deps Deps) *Orchestrator {
	if cfg.InitialBatchSize <= 0 {
		cfg.InitialBatchSize = DefaultInitialBatchSize
	}
	if cfg.RevealBatchSize <= 0 {
		cfg.RevealBatchSize = DefaultRevealBatchSize
	}
	if cfg.EnrichmentBatchSize <= 0 {
		cfg.EnrichmentBatchSize = results.DefaultEnrichmentBatchSize
	}
	if deps.Preferences == nil {
		deps.Preferences = StaticPreferences(models.DefaultPreferences())
	}
	if deps.Ranker == nil {
		deps.Ranker = ranking.NewService()
	}
	if deps.Tracker == nil {
		deps.Tracker = downloads.NewTracker(nil)
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())

	o := &Orchestrator{
		cfg:        cfg,
		source:     deps.Source,
		oracle:     deps.Oracle,
		resolver:   deps.Resolver,
		sink:       deps.Sink,
		prefs:      deps.Preferences,
		ranker:     deps.Ranker,
		tracker:    deps.Tracker,
		store:      results.NewStore(),
		view:       idleView(),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		listeners:  make(map[int]func(Event)),
		logger:     log.Logger.With().Str("module", "search").Logger(),
	}

	o.phases = o.newPhaseMachine()

	return o
}

// WithLogger replaces the session logger, e.g. to tag it with a session id.
func (o *Orchestrator) WithLogger(logger zerolog.Logger) *Orchestrator {
	o.mu.Lock()
	o.logger = logger
	o.mu.Unlock()
	return o
}

// Subscribe registers fn for change events. fn must not block.
func (o *Orchestrator) Subscribe(fn func(Event)) (unsubscribe func()) {
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.listeners[id] = fn
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.listeners, id)
		o.mu.Unlock()
	}
}

func (o *Orchestrator) emit(t EventType) {
	o.mu.Lock()
	evt := Event{Type: t, Generation: o.generation}
	fns := make([]func(Event), 0, len(o.listeners))
	for _, fn := range o.listeners {
		fns = append(fns, fn)
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(evt)
	}
}

// Search runs a full search for req and blocks until its results are applied,
// discarded as stale, or failed. A superseded search returns an error matching
// ErrCancelled which callers must not surface.
func (o *Orchestrator) Search(ctx context.Context, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if o.source == nil {
		return &Error{Code: CodeTransport, Op: "search", Err: errors.New("no search source configured")}
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}

	o.cancelBackgroundLocked()

	o.generation++
	tk := ticket{generation: o.generation, key: req.ContextKey()}

	if tk.key != o.selected {
		o.invalidateLocked()
	}
	o.request = req
	o.selected = tk.key
	o.lastFailure = nil
	o.view = loadingView(StepTorrentSearch)

	searchCtx, cancel := context.WithCancel(ctx)
	o.searchCancel = cancel
	logger := o.logger.With().
		Uint64("generation", tk.generation).
		Str("context", tk.key.String()).
		Uint64("context_hash", tk.key.Hash()).
		Logger()
	o.mu.Unlock()
	defer cancel()

	o.emit(EventView)

	start := time.Now()
	candidates, path, err := o.runSearch(searchCtx, req, logger)

	if err == nil {
		candidates = o.cfg.Filter.Apply(models.DedupeByInfoHash(candidates))
		if len(candidates) == 0 {
			err = &Error{Code: CodeNoResults, Op: path, Err: models.ErrNoResults}
		}
	}

	var ranked []models.Candidate
	if err == nil && o.isCurrent(tk) {
		ranked, err = o.ranker.Rank(searchCtx, candidates, o.prefs.Preferences())
	}

	o.mu.Lock()
	if !o.isCurrentLocked(tk) {
		o.mu.Unlock()
		metrics.ObserveSearch(path, metrics.OutcomeStale, time.Since(start))
		logger.Debug().Msg("Discarding superseded search result")
		return &Error{Code: CodeCancelled, Op: "search", Err: errors.New("superseded")}
	}

	if err != nil {
		serr := classify("search", err, CodeTransport)
		if serr.Code == CodeCancelled {
			o.view = idleView()
			if o.store.Len() > 0 {
				o.view = loadedView()
			}
			o.mu.Unlock()
			metrics.ObserveSearch(path, metrics.OutcomeCancelled, time.Since(start))
			o.emit(EventView)
			return serr
		}

		o.view = errorView(serr, true)
		o.lastFailure = &failure{code: serr.Code, retry: func(ctx context.Context) error { return o.Search(ctx, req) }}
		o.mu.Unlock()

		metrics.ObserveSearch(path, metrics.OutcomeFailure, time.Since(start))
		logger.Warn().Err(err).Str("code", string(serr.Code)).Msg("Search failed")
		o.emit(EventView)
		return serr
	}

	o.store.SetResults(ranked, o.cfg.InitialBatchSize)
	o.lastCompleted = completion{episodeID: req.EpisodeID, key: tk.key, valid: true}
	o.view = loadedView()
	o.startEnrichmentLocked(tk)
	o.mu.Unlock()

	metrics.ObserveSearch(path, metrics.OutcomeSuccess, time.Since(start))
	logger.Info().Str("path", path).Int("results", len(ranked)).Dur("took", time.Since(start)).Msg("Search completed")

	o.emit(EventResults)
	o.emit(EventView)
	return nil
}

// runSearch tries the identifier path first and the free-text path second.
// When both fail the identifier error wins because it is more specific.
func (o *Orchestrator) runSearch(ctx context.Context, req Request, logger zerolog.Logger) ([]models.Candidate, string, error) {
	var (
		idErr *Error
		ranID bool
	)

	if q := req.identifierQuery(); q.ID != "" {
		ranID = true
		candidates, err := o.source.SearchByIdentifier(ctx, q)
		if err == nil && len(candidates) > 0 {
			return candidates, "identifier", nil
		}
		if err == nil {
			err = models.ErrNoResults
		}
		idErr = classify("identifier search", err, CodeTransport)
		if idErr.Code == CodeCancelled {
			return nil, "identifier", idErr
		}
		logger.Debug().Err(err).Msg("Identifier search failed, falling back to query")
	}

	query := req.FallbackQuery()
	if query == "" {
		if ranID {
			return nil, "identifier", idErr
		}
		return nil, "query", &Error{Code: CodeNoResults, Op: "query search", Err: models.ErrNoResults}
	}

	candidates, err := o.source.SearchByQuery(ctx, query, req.Type)
	if err == nil && len(candidates) > 0 {
		return candidates, "query", nil
	}
	if err == nil {
		err = models.ErrNoResults
	}
	qErr := classify("query search", err, CodeTransport)
	if qErr.Code == CodeCancelled || !ranID {
		return nil, "query", qErr
	}
	logger.Debug().Err(err).Msg("Query search failed")
	return nil, "identifier", idErr
}

func (o *Orchestrator) isCurrent(tk ticket) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.isCurrentLocked(tk)
}

func (o *Orchestrator) isCurrentLocked(tk ticket) bool {
	return !o.closed && tk.generation == o.generation && tk.key == o.selected
}

func (o *Orchestrator) cancelBackgroundLocked() {
	if o.searchCancel != nil {
		o.searchCancel()
		o.searchCancel = nil
	}
	if o.enrichCancel != nil {
		o.enrichCancel()
		o.enrichCancel = nil
	}
}

func (o *Orchestrator) startEnrichmentLocked(tk ticket) {
	if o.oracle == nil || o.store.Len() == 0 {
		return
	}

	ctx, cancel := context.WithCancel(o.baseCtx)
	o.enrichCancel = cancel

	var opts []results.WorkerOption
	if o.cfg.EnrichmentDelay > 0 {
		opts = append(opts, results.WithBatchDelay(o.cfg.EnrichmentDelay))
	}
	worker := results.NewEnrichmentWorker(o.oracle, o.cfg.EnrichmentBatchSize, opts...)
	hashes := o.store.Hashes()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		if err := worker.Run(ctx, hashes, func(updates map[string]models.Availability) bool {
			return o.applyAvailability(tk, updates)
		}); err != nil && !errors.Is(err, context.Canceled) {
			o.logger.Debug().Err(err).Msg("Enrichment stopped")
		}
	}()
}

// applyAvailability folds one enrichment batch into the store if tk is still
// the active search. It reports whether the search is still current.
func (o *Orchestrator) applyAvailability(tk ticket, updates map[string]models.Availability) bool {
	o.mu.Lock()
	if !o.isCurrentLocked(tk) {
		o.mu.Unlock()
		return false
	}
	patched := o.store.UpdateCacheStatus(updates)
	o.mu.Unlock()

	if patched > 0 {
		o.emit(EventAvailability)
	}
	return true
}

// SelectEpisode changes the selected season and episode. A different
// selection cancels in-flight work and clears results; results of a search
// still in flight for the old selection are discarded when they land.
func (o *Orchestrator) SelectEpisode(season, episode int, episodeID string) {
	o.mu.Lock()
	req := o.request
	req.Season, req.Episode, req.EpisodeID = season, episode, episodeID
	key := req.ContextKey()

	if key == o.selected {
		o.request = req
		o.mu.Unlock()
		return
	}

	o.cancelBackgroundLocked()
	o.invalidateLocked()
	o.request = req
	o.selected = key
	o.lastFailure = nil
	o.view = idleView()
	o.mu.Unlock()

	o.logger.Debug().Str("context", key.String()).Msg("Selection changed")
	o.emit(EventResults)
	o.emit(EventView)
}

// invalidateLocked drops the results and the completed search they came from.
func (o *Orchestrator) invalidateLocked() {
	o.store.Invalidate()
	o.resolved = nil
	o.lastCompleted = completion{}
}

// RequiresFreshSearch reports whether the selection differs from what the last
// completed search was for.
func (o *Orchestrator) RequiresFreshSearch() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.requiresFreshSearchLocked()
}

func (o *Orchestrator) requiresFreshSearchLocked() bool {
	return !o.lastCompleted.valid || o.lastCompleted.key != o.selected
}

// RevealMore shows up to n more candidates; n <= 0 uses the configured size.
func (o *Orchestrator) RevealMore(n int) bool {
	if n <= 0 {
		n = o.cfg.RevealBatchSize
	}
	o.mu.Lock()
	grew := o.store.RevealMore(n)
	o.mu.Unlock()

	if grew {
		o.emit(EventResults)
	}
	return grew
}

// ResolveStream turns a candidate of the current results into a stream and
// adds it to the resolved list. Failures mark the candidate failed and leave
// the results untouched.
func (o *Orchestrator) ResolveStream(ctx context.Context, hash string) (models.StreamInfo, error) {
	stream, _, err := o.resolve(ctx, hash, true)
	return stream, err
}

func (o *Orchestrator) resolve(ctx context.Context, hash string, standalone bool) (models.StreamInfo, ticket, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return models.StreamInfo{}, ticket{}, ErrClosed
	}
	tk := ticket{generation: o.generation, key: o.selected}
	candidate, ok := o.store.Lookup(hash)
	if !ok {
		o.mu.Unlock()
		return models.StreamInfo{}, tk, fmt.Errorf("%w: %s", ErrUnknownCandidate, hash)
	}
	req := o.request.downloadRequest()
	if standalone {
		o.view = loadingView(StepStreamResolution)
	}
	o.mu.Unlock()

	if standalone {
		o.emit(EventView)
	}

	if o.resolver == nil {
		stream := streamFromCandidate(candidate)
		if standalone {
			o.finishResolve(tk, stream)
		}
		return stream, tk, nil
	}

	state := o.tracker.State(hash)
	marked := false
	if state == models.DownloadStateIdle || state == models.DownloadStateFailed {
		if err := o.tracker.MarkResolving(ctx, hash, req); err == nil {
			marked = true
			o.emit(EventDownloads)
		}
	}

	stream, err := o.resolver.Resolve(ctx, hash, candidate.CachedOnServiceID)
	if err != nil {
		serr := classify("resolve", err, CodeResolutionFailed)
		if serr.Code == CodeNoResults || serr.Code == CodeTransport {
			serr = &Error{Code: CodeResolutionFailed, Op: "resolve", Err: err}
		}

		if serr.Code == CodeCancelled {
			metrics.IncResolve(metrics.OutcomeCancelled)
			if marked {
				_ = o.tracker.MarkIdle(context.WithoutCancel(ctx), hash)
				o.emit(EventDownloads)
			}
			o.restoreView(tk)
			return models.StreamInfo{}, tk, serr
		}

		metrics.IncResolve(metrics.OutcomeFailure)
		if marked {
			_ = o.tracker.MarkFailed(context.WithoutCancel(ctx), hash, err.Error())
			o.emit(EventDownloads)
		}

		o.mu.Lock()
		if o.isCurrentLocked(tk) {
			o.view = errorView(serr, true)
			o.lastFailure = &failure{code: serr.Code, retry: func(ctx context.Context) error {
				if standalone {
					_, err := o.ResolveStream(ctx, hash)
					return err
				}
				_, err := o.EnqueueDownload(ctx, hash)
				return err
			}}
		}
		o.mu.Unlock()
		o.emit(EventView)

		o.logger.Warn().Err(err).Str("infohash", hash).Msg("Stream resolution failed")
		return models.StreamInfo{}, tk, serr
	}

	metrics.IncResolve(metrics.OutcomeSuccess)
	stream.MirrorFrom(candidate)
	if stream.ID == "" {
		stream.ID = hash
	}

	if marked && standalone {
		_ = o.tracker.MarkIdle(context.WithoutCancel(ctx), hash)
		o.emit(EventDownloads)
	}

	if standalone {
		o.finishResolve(tk, stream)
	} else {
		o.appendResolved(tk, stream)
	}

	o.logger.Debug().Str("infohash", hash).Str("stream", stream.ID).Msg("Resolved stream")
	return stream, tk, nil
}

func (o *Orchestrator) finishResolve(tk ticket, stream models.StreamInfo) {
	if !o.appendResolved(tk, stream) {
		return
	}
	o.mu.Lock()
	if o.isCurrentLocked(tk) {
		o.view = loadedView()
		o.lastFailure = nil
	}
	o.mu.Unlock()

	o.StartPlayback()
	o.emit(EventView)
}

// appendResolved adds stream to the resolved list unless the selection moved on.
func (o *Orchestrator) appendResolved(tk ticket, stream models.StreamInfo) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || tk.key != o.selected {
		return false
	}
	if !slices.ContainsFunc(o.resolved, func(s models.StreamInfo) bool { return s.ID == stream.ID }) {
		o.resolved = append(o.resolved, stream)
	}
	return true
}

func (o *Orchestrator) restoreView(tk ticket) {
	o.mu.Lock()
	if o.isCurrentLocked(tk) && o.view.Status == ViewLoading {
		o.view = loadedView()
	}
	o.mu.Unlock()
	o.emit(EventView)
}

func streamFromCandidate(c models.Candidate) models.StreamInfo {
	s := models.StreamInfo{ID: c.InfoHash, URL: c.MagnetURI, ServiceID: c.CachedOnServiceID}
	s.MirrorFrom(c)
	return s
}

// EnqueueDownload resolves the candidate if needed and hands it to the
// download sink. A candidate already downloading or completed is a no-op that
// returns the known task id.
func (o *Orchestrator) EnqueueDownload(ctx context.Context, hash string) (string, error) {
	if o.sink == nil {
		return "", ErrNoSink
	}

	if task, ok := o.tracker.Task(hash); ok && (task.State == models.DownloadStateDownloading || task.State == models.DownloadStateCompleted) {
		return task.TaskID, nil
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", ErrClosed
	}
	tk := ticket{generation: o.generation, key: o.selected}
	req := o.request.downloadRequest()
	var (
		stream models.StreamInfo
		found  bool
	)
	for _, s := range o.resolved {
		if s.InfoHash == hash {
			stream, found = s, true
			break
		}
	}
	if _, ok := o.store.Lookup(hash); !ok && !found {
		o.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrUnknownCandidate, hash)
	}
	o.view = loadingView(StepDownloadQueue)
	o.mu.Unlock()
	o.emit(EventView)

	if !found {
		var err error
		stream, tk, err = o.resolve(ctx, hash, false)
		if err != nil {
			var serr *Error
			if !errors.As(err, &serr) {
				o.restoreView(tk)
			}
			return "", err
		}
	}

	bg := context.WithoutCancel(ctx)
	if err := o.tracker.MarkDownloading(bg, hash, "", req); err != nil {
		o.restoreView(tk)
		return "", err
	}
	o.emit(EventDownloads)

	taskID, err := o.sink.Enqueue(ctx, stream, req)
	if err != nil {
		metrics.IncDownloadEnqueue(metrics.OutcomeFailure)
		serr := classify("enqueue", err, CodeEnqueueFailed)
		if serr.Code != CodeCancelled {
			serr = &Error{Code: CodeEnqueueFailed, Op: "enqueue", Err: err}
		}
		_ = o.tracker.MarkFailed(bg, hash, err.Error())
		o.emit(EventDownloads)

		if serr.Code == CodeCancelled {
			o.restoreView(tk)
			return "", serr
		}

		o.mu.Lock()
		if o.isCurrentLocked(tk) {
			o.view = errorView(serr, true)
			o.lastFailure = &failure{code: serr.Code, retry: func(ctx context.Context) error {
				_, err := o.EnqueueDownload(ctx, hash)
				return err
			}}
		}
		o.mu.Unlock()
		o.emit(EventView)

		o.logger.Warn().Err(err).Str("infohash", hash).Msg("Download enqueue failed")
		return "", serr
	}

	metrics.IncDownloadEnqueue(metrics.OutcomeSuccess)
	if err := o.tracker.MarkDownloading(bg, hash, taskID, req); err != nil {
		o.logger.Warn().Err(err).Str("infohash", hash).Msg("Failed to record download task id")
	}
	o.emit(EventDownloads)
	o.restoreView(tk)

	o.logger.Info().Str("infohash", hash).Str("task", taskID).Msg("Download enqueued")
	return taskID, nil
}

// PollDownloads refreshes every pending download from the sink.
func (o *Orchestrator) PollDownloads(ctx context.Context) (int, error) {
	if o.sink == nil {
		return 0, nil
	}
	changed, err := downloads.Poll(ctx, o.tracker, o.sink, downloads.DefaultPollConcurrency)
	if changed > 0 {
		o.emit(EventDownloads)
	}
	return changed, err
}

// NotifyDownloads tells subscribers that download states changed outside the
// session, e.g. after a shared poll round.
func (o *Orchestrator) NotifyDownloads() {
	o.emit(EventDownloads)
}

// Retry re-runs the step that last failed.
func (o *Orchestrator) Retry(ctx context.Context) error {
	o.mu.Lock()
	f := o.lastFailure
	o.mu.Unlock()

	if f == nil {
		return ErrNothingToRetry
	}
	return f.retry(ctx)
}

// FallbackPool orders the resolved streams for playback with primaryID first.
// An empty primaryID uses the most recently resolved stream.
func (o *Orchestrator) FallbackPool(primaryID string) ([]models.StreamInfo, bool) {
	o.mu.Lock()
	resolved := slices.Clone(o.resolved)
	o.mu.Unlock()

	if len(resolved) == 0 {
		return nil, false
	}

	primary := resolved[len(resolved)-1]
	if primaryID != "" {
		i := slices.IndexFunc(resolved, func(s models.StreamInfo) bool { return s.ID == primaryID })
		if i < 0 {
			return nil, false
		}
		primary = resolved[i]
	}
	return playback.BuildFallbackPool(primary, resolved), true
}

// Phases exposes the phase machine of the current playback attempt.
func (o *Orchestrator) Phases() *playback.PhaseMachine {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phases
}

// StartPlayback begins a new playback attempt at connecting. The previous
// attempt's machine is detached and its changes are no longer published.
func (o *Orchestrator) StartPlayback() *playback.PhaseMachine {
	m := o.newPhaseMachine()
	o.mu.Lock()
	o.phases = m
	o.mu.Unlock()

	o.emit(EventPhase)
	return m
}

func (o *Orchestrator) newPhaseMachine() *playback.PhaseMachine {
	m := playback.NewPhaseMachine()
	m.OnChange(func(_, _ playback.PhaseState) {
		if o.Phases() == m {
			o.emit(EventPhase)
		}
	})
	return m
}

func (o *Orchestrator) Generation() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.generation
}

func (o *Orchestrator) View() ViewState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.view
}

func (o *Orchestrator) Snapshot() Snapshot {
	prefs := o.prefs.Preferences()

	o.mu.Lock()
	visible := o.store.Visible()
	snap := Snapshot{
		Generation:          o.generation,
		Selected:            o.selected,
		View:                o.view,
		Total:               o.store.Len(),
		Remaining:           o.store.RemainingCount(),
		CanRevealMore:       o.store.CanRevealMore(),
		RequiresFreshSearch: o.requiresFreshSearchLocked(),
		Resolved:            slices.Clone(o.resolved),
	}
	phases := o.phases
	o.mu.Unlock()

	snap.Phase = phases.State()
	snap.Visible = make([]CandidateView, len(visible))
	for i, c := range visible {
		snap.Visible[i] = CandidateView{
			Candidate:     c,
			Score:         ranking.Score(c, prefs),
			DownloadState: o.tracker.State(c.InfoHash),
		}
	}
	return snap
}

// Close cancels all work and waits for background goroutines to exit.
// Done is closed once the orchestrator is closed.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.baseCtx.Done()
}

func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.cancelBackgroundLocked()
	o.baseCancel()
	o.mu.Unlock()

	o.wg.Wait()
}
