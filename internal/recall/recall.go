// Package recall implements the Recall Dispatcher (spec §4.9): the
// entry point for every read request, racing a fast CAG-cache probe
// against a slower full hybrid recall under a hedge delay (a cached
// per-project p95 read through the gate when present, else a default;
// no code in this tree writes that cached value),
// falling back through lexical-only and type-prior ranking when vector
// search is unavailable, and logging the decision out of band. Grounded
// on the teacher's internal/rag/retrieve/candidates.go for the
// goroutine+channel parallel-fetch shape and internal/rag/service for
// the staged-timing dispatcher structure.
package recall

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/thecontextcache/contextcache/internal/apierr"
	"github.com/thecontextcache/contextcache/internal/cag"
	"github.com/thecontextcache/contextcache/internal/decisionlog"
	"github.com/thecontextcache/contextcache/internal/embedding"
	"github.com/thecontextcache/contextcache/internal/gate"
	"github.com/thecontextcache/contextcache/internal/model"
	"github.com/thecontextcache/contextcache/internal/rank"
	"github.com/thecontextcache/contextcache/internal/sfc"
	"github.com/thecontextcache/contextcache/internal/store"
)

// Request describes one recall call.
type Request struct {
	ProjectID string
	Query     string
	Limit     int
	IP        string
}

// Result is the fully assembled response, including the trace needed to
// populate RecallLog/RecallTiming. InputMemoryIDs, Scored, and Weights
// are only populated on the hybrid path; the cag and recency paths carry
// no ranking trace because no ranking ran.
type Result struct {
	Memories       []model.Memory
	Source         string // "cag"|"hybrid"
	Timing         model.RecallTiming
	Strategy       string        // "hybrid"|"recency"|"cache"|"cache_fallback"
	InputMemoryIDs []string      // full candidate pool, before truncation to top-K
	Scored         []rank.Scored // full per-candidate trace, including dropped candidates
	Weights        rank.Weights  // fusion weights actually applied
}

// Clock abstracts time for deterministic tests.
type Clock interface{ Now() time.Time }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Dispatcher wires together the gate, CAG cache, store, embedding
// provider, and ranker into the full recall path.
type Dispatcher struct {
	Store       store.MemoryStore
	Gate        *gate.Gate
	Cache       *cag.Cache
	Embedder    embedding.Provider
	HilbertDims int
	HilbertBits int
	HilbertSeed int64
	Weights     rank.Weights
	Log         zerolog.Logger
	Clock       Clock

	// DecisionLog receives a best-effort RecallLog/RecallTiming entry
	// after every request, never blocking the response path (spec §4.9's
	// "decision logs that make every ranking reproducible").
	DecisionLog decisionlog.Sink

	DefaultHedgeDelay time.Duration
	MinHedgeDelay     time.Duration
	MaxHedgeDelay     time.Duration

	// sf collapses concurrent identical (project, query) recall requests
	// onto a single hedge race, so a burst of duplicate calls only probes
	// the CAG cache and runs hybrid recall once, rather than each paying
	// the full race independently.
	sf singleflight.Group
}

// New builds a Dispatcher with a system clock and a no-op decision-log
// sink if none was supplied.
func New(d Dispatcher) *Dispatcher {
	if d.Clock == nil {
		d.Clock = systemClock{}
	}
	if d.DecisionLog == nil {
		sink, _ := decisionlog.New(context.Background(), decisionlog.Config{}, d.Log)
		d.DecisionLog = sink
	}
	return &d
}

// Recall runs the full dispatcher pipeline for one request.
func (d *Dispatcher) Recall(ctx context.Context, req Request) (Result, error) {
	start := d.Clock.Now()

	if err := d.Gate.Allow(ctx, gate.BucketRecall, req.IP, req.ProjectID); err != nil {
		return Result{}, err
	}

	if req.Limit <= 0 {
		req.Limit = 10
	}

	if req.Query == "" {
		return d.emptyQueryFastPath(ctx, req, start)
	}

	// A request that shares another in-flight caller's race (shared ==
	// true) still gets its own decision-log entry below; only the
	// expensive race itself is deduped, not the audit trail.
	sfKey := req.ProjectID + "|" + req.Query
	raced, err, _ := d.sf.Do(sfKey, func() (any, error) {
		return d.race(ctx, req)
	})
	if err != nil {
		return Result{}, apierr.Unavailable("recall pipeline", err)
	}
	outcome := raced.(raceOutcome)
	chosen := outcome.result
	chosen.Strategy = outcome.strategy

	chosen.Timing.ProjectID = req.ProjectID
	chosen.Timing.ServedBy = outcome.servedBy
	chosen.Timing.Strategy = outcome.strategy
	chosen.Timing.HedgeWaitedMs = outcome.hedgeWaited.Seconds() * 1000
	chosen.Timing.TotalMs = d.Clock.Now().Sub(start).Seconds() * 1000

	ids := make([]string, 0, len(chosen.Memories))
	for _, m := range chosen.Memories {
		ids = append(ids, m.ID)
	}

	if chosen.Source == "hybrid" && len(chosen.Memories) > 0 && outcome.queryVec != nil {
		d.Cache.Warm(req.Query, PackText(chosen.Memories), ids, outcome.queryVec, 1.0)
	}

	d.logDecision(req, chosen, ids)

	return chosen, nil
}

// logDecision persists a RecallLog and RecallTiming entry for one
// completed recall, translating the ranker's in-memory trace (rank.Fuse
// already computes per-candidate FTS/vector/recency/total scores; this
// is the only place that trace is read back out) into the durable
// score_details/weights shape spec §3/§4.9 require for reproducibility.
func (d *Dispatcher) logDecision(req Request, result Result, ids []string) {
	now := d.Clock.Now()

	var scoreDetails map[string]model.ScoreDetail
	if len(result.Scored) > 0 {
		scoreDetails = make(map[string]model.ScoreDetail, len(result.Scored))
		for _, s := range result.Scored {
			scoreDetails[s.Memory.ID] = model.ScoreDetail{
				FTS:     s.FTSScore,
				Vector:  s.VecScore,
				Recency: s.Recency,
				Total:   s.Total,
			}
		}
	}

	d.DecisionLog.LogRecall(model.RecallLog{
		ID:             uuid.NewString(),
		ProjectID:      req.ProjectID,
		Query:          req.Query,
		Strategy:       result.Strategy,
		InputMemoryIDs: result.InputMemoryIDs,
		ResultIDs:      ids,
		Weights: model.RecallWeights{
			FTS:     result.Weights.FTS,
			Vector:  result.Weights.Vector,
			Recency: result.Weights.Recency,
		},
		ScoreDetails: scoreDetails,
		CreatedAt:    now,
	})

	result.Timing.ID = uuid.NewString()
	result.Timing.CreatedAt = now
	d.DecisionLog.LogTiming(result.Timing)
}

// raceOutcome is the result of one hedge race, cached across concurrent
// identical requests by singleflight. servedBy/strategy classify which
// branch answered and how (spec §3's RecallTiming.served_by and
// RecallLog.strategy enums).
type raceOutcome struct {
	result      Result
	hedgeWaited time.Duration
	servedBy    string // "cag"|"rag"|"cag_then_rag"|"rag_then_cag"
	strategy    string // "hybrid"|"cache"|"cache_fallback"
	queryVec    []float32
}

// embedQuery embeds req.Query once so both race branches (the CAG probe
// and the hybrid vector search) share a single embedding call.
func (d *Dispatcher) embedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := d.Embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("recall: embedder returned no vectors")
	}
	return vecs[0], nil
}

// race runs the CAG-probe-vs-hybrid-recall hedge race for one (project,
// query) pair (spec §4.9). The CAG probe is a cosine-similarity scan
// over remembered chunk embeddings (spec §4.8), so it needs the query's
// own embedding up front rather than a raw string.
func (d *Dispatcher) race(ctx context.Context, req Request) (raceOutcome, error) {
	hedgeDelay := d.hedgeDelay(ctx, req.ProjectID)

	queryVec, embErr := d.embedQuery(ctx, req.Query)

	type raceResult struct {
		result Result
		err    error
	}
	cagCh := make(chan raceResult, 1)
	hybridCh := make(chan raceResult, 1)

	hybridCtx, cancelHybrid := context.WithCancel(ctx)
	cagCtx, cancelCAG := context.WithCancel(ctx)
	defer cancelHybrid()
	defer cancelCAG()

	go func() {
		cagStart := d.Clock.Now()
		if embErr != nil {
			cagCh <- raceResult{err: fmt.Errorf("recall: cag probe requires query embedding: %w", embErr)}
			return
		}
		res, ok := d.Cache.Probe(queryVec)
		cagMs := d.Clock.Now().Sub(cagStart).Seconds() * 1000
		if !ok {
			cagCh <- raceResult{err: fmt.Errorf("recall: cag miss")}
			return
		}
		memories, err := d.hydratePack(cagCtx, req.ProjectID, res.MemoryIDs)
		if err != nil {
			cagCh <- raceResult{err: err}
			return
		}
		cagCh <- raceResult{result: Result{
			Memories: memories,
			Source:   "cag",
			Timing:   model.RecallTiming{CAGProbeMs: cagMs},
		}}
	}()

	go func() {
		hybridStart := d.Clock.Now()
		result, err := d.hybridRecall(hybridCtx, req, queryVec, embErr)
		hybridMs := d.Clock.Now().Sub(hybridStart).Seconds() * 1000
		if err == nil {
			result.Timing.HybridMs = hybridMs
		}
		hybridCh <- raceResult{result: result, err: err}
	}()

	timer := time.NewTimer(hedgeDelay)
	defer timer.Stop()

	var chosen Result
	var chosenErr error
	var hedgeWaited time.Duration
	var servedBy, strategy string

	select {
	case r := <-cagCh:
		if r.err == nil {
			chosen, servedBy, strategy = r.result, "cag", "cache"
			cancelHybrid()
		} else {
			hedgeWaited = hedgeDelay
			select {
			case r2 := <-hybridCh:
				chosen, chosenErr = r2.result, r2.err
				servedBy, strategy = "cag_then_rag", "cache_fallback"
			case <-ctx.Done():
				chosenErr = ctx.Err()
			}
		}
	case <-timer.C:
		hedgeWaited = hedgeDelay
		select {
		case r2 := <-hybridCh:
			chosen, chosenErr = r2.result, r2.err
			servedBy, strategy = "rag", "hybrid"
			cancelCAG()
		case r := <-cagCh:
			if r.err == nil {
				chosen, servedBy, strategy = r.result, "rag_then_cag", "cache"
			} else {
				select {
				case r3 := <-hybridCh:
					chosen, chosenErr = r3.result, r3.err
					servedBy, strategy = "rag", "hybrid"
				case <-ctx.Done():
					chosenErr = ctx.Err()
				}
			}
		}
	case <-ctx.Done():
		chosenErr = ctx.Err()
	}

	if chosenErr != nil {
		return raceOutcome{}, chosenErr
	}

	return raceOutcome{result: chosen, hedgeWaited: hedgeWaited, servedBy: servedBy, strategy: strategy, queryVec: queryVec}, nil
}

// emptyQueryFastPath serves an empty query by returning the most recent
// memories without ranking, bypassing the hedge race entirely (spec §3
// RecallLog.strategy == "recency").
func (d *Dispatcher) emptyQueryFastPath(ctx context.Context, req Request, start time.Time) (Result, error) {
	memories, err := d.Store.ListMemories(ctx, req.ProjectID, req.Limit, 0)
	if err != nil {
		return Result{}, err
	}

	ids := make([]string, 0, len(memories))
	for _, m := range memories {
		ids = append(ids, m.ID)
	}

	result := Result{
		Memories: memories,
		Source:   "hybrid",
		Strategy: "recency",
		Timing: model.RecallTiming{
			ProjectID: req.ProjectID,
			ServedBy:  "rag",
			Strategy:  "recency",
			TotalMs:   d.Clock.Now().Sub(start).Seconds() * 1000,
		},
	}
	d.logDecision(req, result, ids)
	return result, nil
}

// hybridRecall runs the full lexical+vector fan-out and fuse (spec
// §4.7/§4.9), falling back to lexical-only with the type-prior boost
// when embedding or vector search is unavailable. queryVec/embErr are
// the race's single shared embedding of req.Query, so this never calls
// the embedder itself.
func (d *Dispatcher) hybridRecall(ctx context.Context, req Request, queryVec []float32, embErr error) (Result, error) {
	type lexResult struct {
		res []store.LexicalResult
		err error
	}
	type vecResult struct {
		res []store.VectorResult
		err error
	}

	lexCh := make(chan lexResult, 1)
	vecCh := make(chan vecResult, 1)

	go func() {
		res, err := d.Store.SearchLexical(ctx, req.ProjectID, req.Query, req.Limit*4)
		lexCh <- lexResult{res, err}
	}()

	go func() {
		if embErr != nil {
			vecCh <- vecResult{err: fmt.Errorf("recall: embed query: %w", embErr)}
			return
		}
		centerHilbert := sfc.IndexFromEmbedding(queryVec, d.HilbertDims, d.HilbertBits, d.HilbertSeed)
		res, err := d.Store.SearchVector(ctx, req.ProjectID, queryVec, req.Limit*4, store.VectorPrefilterOptions{
			Enabled:       true,
			CenterHilbert: centerHilbert,
			Radius0:       2048,
			WidenMult:     4,
			MinPool:       req.Limit * 2,
			MaxRadius:     1 << 40,
		})
		vecCh <- vecResult{res, err}
	}()

	lex := <-lexCh
	vec := <-vecCh

	useTypePrior := false
	if vec.err != nil {
		d.Log.Warn().Err(vec.err).Str("project_id", req.ProjectID).Msg("recall_vector_unavailable_fallback_lexical")
		useTypePrior = true
	}
	if lex.err != nil {
		return Result{}, apierr.Unavailable("lexical search", lex.err)
	}

	candidates, err := d.buildCandidates(ctx, req.ProjectID, lex.res, vec.res)
	if err != nil {
		return Result{}, err
	}

	// allScored keeps the full candidate trace, including entries that
	// get dropped by the top-limit slice below, per spec §4.7 step 6
	// ("record the full trace for every candidate, including those
	// dropped").
	allScored := rank.Fuse(candidates, rank.Options{Weights: d.Weights, UseTypePrior: useTypePrior, Now: d.Clock.Now()})

	inputIDs := make([]string, len(allScored))
	for i, s := range allScored {
		inputIDs[i] = s.Memory.ID
	}

	topScored := allScored
	if req.Limit < len(topScored) {
		topScored = topScored[:req.Limit]
	}

	memories := make([]model.Memory, len(topScored))
	for i, s := range topScored {
		memories[i] = s.Memory
	}

	return Result{
		Memories:       memories,
		Source:         "hybrid",
		InputMemoryIDs: inputIDs,
		Scored:         allScored,
		Weights:        d.Weights,
	}, nil
}

// buildCandidates merges the lexical and vector hit lists by memory ID,
// then hydrates each surviving candidate's full Memory concurrently
// (spec §4.9's fan-out shape), grounded on the teacher's warpp.go use of
// errgroup.WithContext to fan out independent lookups and cancel the
// rest on first error.
func (d *Dispatcher) buildCandidates(ctx context.Context, projectID string, lex []store.LexicalResult, vec []store.VectorResult) ([]rank.Candidate, error) {
	byID := make(map[string]*rank.Candidate)

	for _, l := range lex {
		byID[l.MemoryID] = &rank.Candidate{FTSScore: l.Score, InFTS: true}
	}
	for _, v := range vec {
		if c, ok := byID[v.MemoryID]; ok {
			c.VecScore = v.Score
			c.InVector = true
		} else {
			byID[v.MemoryID] = &rank.Candidate{VecScore: v.Score, InVector: true}
		}
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	memories := make([]model.Memory, len(ids))
	found := make([]bool, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			m, ok, err := d.Store.GetMemory(gctx, projectID, id)
			if err != nil {
				return err
			}
			memories[i], found[i] = m, ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]rank.Candidate, 0, len(ids))
	for i, id := range ids {
		if !found[i] {
			continue
		}
		c := byID[id]
		c.Memory = memories[i]
		out = append(out, *c)
	}
	return out, nil
}

func (d *Dispatcher) hydratePack(ctx context.Context, projectID string, ids []string) ([]model.Memory, error) {
	out := make([]model.Memory, 0, len(ids))
	for _, id := range ids {
		m, found, err := d.Store.GetMemory(ctx, projectID, id)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, m)
		}
	}
	return out, nil
}

// hedgeDelay picks the hedge timeout for a project: the cached p95 from
// a prior window if available, else DefaultHedgeDelay, clamped to
// [MinHedgeDelay, MaxHedgeDelay] (spec §4.9, original_source
// rate_limit.py's hedge p95 cache).
func (d *Dispatcher) hedgeDelay(ctx context.Context, projectID string) time.Duration {
	delay := d.DefaultHedgeDelay
	if ms, ok := d.Gate.CachedHedgeP95(ctx, projectID); ok {
		delay = time.Duration(ms) * time.Millisecond
	}
	if delay < d.MinHedgeDelay {
		delay = d.MinHedgeDelay
	}
	if delay > d.MaxHedgeDelay {
		delay = d.MaxHedgeDelay
	}
	return delay
}

// PackText joins memory contents into the newline-delimited pack text
// returned to callers as memory_pack_text.
func PackText(memories []model.Memory) string {
	var s string
	for _, m := range memories {
		s += m.Content + "\n"
	}
	return s
}
