package relay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ArbRelay/internal/domain/apperr"
	"ArbRelay/internal/domain/repository"
	"ArbRelay/internal/protocol"
	"ArbRelay/pkg/logger"
)

type RouterConfig struct {
	DefaultDeadline  time.Duration
	ChainBase        time.Duration
	ChainPerContract time.Duration
	// ChainDefaultContracts is the estimate used when the caller gives none.
	ChainDefaultContracts int
	// CacheTTL > 0 caches successful best-effort responses served by another user's agent.
	CacheTTL time.Duration
}

func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		DefaultDeadline:       30 * time.Second,
		ChainBase:             30 * time.Second,
		ChainPerContract:      500 * time.Millisecond,
		ChainDefaultContracts: 60,
	}
}

// Call is one inbound dashboard request. UserID is resolved by the dashboard backend.
type Call struct {
	UserID    string
	Op        protocol.Op
	Payload   interface{}
	Contracts int
}

// Router forwards calls to agents and waits for the correlated response.
type Router struct {
	cfg      RouterConfig
	registry *Registry
	pending  *Pending
	cache    repository.ResponseCache
	log      *logger.Logger
	metrics  repository.Metrics
	newID    func() string
}

func NewRouter(cfg RouterConfig, registry *Registry, pending *Pending, cache repository.ResponseCache,
	log *logger.Logger, m repository.Metrics) *Router {
	def := DefaultRouterConfig()
	if cfg.DefaultDeadline <= 0 {
		cfg.DefaultDeadline = def.DefaultDeadline
	}
	if cfg.ChainBase <= 0 {
		cfg.ChainBase = def.ChainBase
	}
	if cfg.ChainPerContract <= 0 {
		cfg.ChainPerContract = def.ChainPerContract
	}
	if cfg.ChainDefaultContracts <= 0 {
		cfg.ChainDefaultContracts = def.ChainDefaultContracts
	}
	return &Router{
		cfg:      cfg,
		registry: registry,
		pending:  pending,
		cache:    cache,
		log:      log.Component("router"),
		metrics:  m,
		newID:    uuid.NewString,
	}
}

func (r *Router) Registry() *Registry { return r.registry }

// Do routes call and returns the agent's raw result. Owner-scoped ops only reach the
// caller's own agent; best-effort ops fall back to any connected agent. A timeout does
// not cancel the agent-side work.
func (r *Router) Do(ctx context.Context, call Call) (json.RawMessage, error) {
	start := time.Now()
	res, err := r.do(ctx, call)

	outcome := "ok"
	if err != nil {
		outcome = string(apperr.KindOf(err))
		r.metrics.RecordError(outcome)
	}
	r.metrics.RecordRequest(string(call.Op), outcome)
	r.metrics.RecordLatency(string(call.Op), time.Since(start).Seconds())
	return res, err
}

func (r *Router) do(ctx context.Context, call Call) (json.RawMessage, error) {
	if !call.Op.Valid() {
		return nil, apperr.Validation("op", "unsupported operation "+string(call.Op))
	}
	if call.UserID == "" && call.Op.Policy() == protocol.OwnerScoped {
		return nil, apperr.Validation("user_id", "user_id is required")
	}

	payload, err := json.Marshal(call.Payload)
	if err != nil {
		return nil, apperr.Validation("payload", "unencodable payload: "+err.Error())
	}

	link, fallback, err := r.pick(call)
	if err != nil {
		return nil, err
	}

	// only fallback reads are served from cache; an owner's agent always answers live
	cacheKey := ""
	if fallback && r.cacheable(call.Op) {
		cacheKey = responseKey(call.Op, payload)
		var hit json.RawMessage
		if ok, cerr := r.cache.Get(ctx, cacheKey, &hit); cerr == nil && ok {
			return hit, nil
		} else if cerr != nil {
			r.log.Warn("cache read failed", logger.Error(cerr))
		}
	}

	id := r.newID()
	deadline := time.Now().Add(r.deadlineFor(call))
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	frame, err := protocol.NewRequest(id, call.Op, json.RawMessage(payload), deadline)
	if err != nil {
		return nil, apperr.Internal("build request", err)
	}

	log := r.log.With(logger.String("request_id", id), logger.String("op", string(call.Op)),
		logger.String("user_id", call.UserID), logger.String("agent_user_id", link.UserID()))

	ch := r.pending.Add(id, link.ID(), call.Op)
	if err := link.Send(ctx, frame); err != nil {
		r.pending.Drop(id)
		log.Warn("send to agent failed", logger.Error(err))
		return nil, apperr.NotConnected("agent link unavailable").WithError(err).WithRequestID(id)
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error.WithRequestID(id)
		}
		if cacheKey != "" {
			if err := r.cache.Set(ctx, cacheKey, resp.Result, r.cfg.CacheTTL); err != nil {
				log.Warn("cache write failed", logger.Error(err))
			}
		}
		return resp.Result, nil
	case <-timer.C:
		r.pending.Drop(id)
		log.Warn("agent response timed out")
		return nil, apperr.Timeout(fmt.Sprintf("no response from agent within %s", r.deadlineFor(call).Round(time.Millisecond))).WithRequestID(id)
	case <-ctx.Done():
		r.pending.Drop(id)
		return nil, apperr.Timeout("caller gave up waiting: " + ctx.Err().Error()).WithRequestID(id)
	}
}

// pick returns the agent for call; fallback reports that it belongs to another user.
func (r *Router) pick(call Call) (Link, bool, error) {
	if call.UserID != "" {
		if link, ok := r.registry.Lookup(call.UserID); ok {
			return link, false, nil
		}
	}
	if call.Op.Policy() == protocol.OwnerScoped {
		return nil, false, apperr.NoAgentForUser(call.UserID)
	}
	if link, ok := r.registry.Any(); ok {
		r.log.Debug("best-effort fallback", logger.String("op", string(call.Op)),
			logger.String("user_id", call.UserID), logger.String("agent_user_id", link.UserID()))
		return link, true, nil
	}
	return nil, false, apperr.NoAgentConnected()
}

func (r *Router) deadlineFor(call Call) time.Duration {
	if call.Op != protocol.OpFetchChain {
		return r.cfg.DefaultDeadline
	}
	n := call.Contracts
	if n <= 0 {
		n = r.cfg.ChainDefaultContracts
	}
	return r.cfg.ChainBase + time.Duration(n)*r.cfg.ChainPerContract
}

// cacheable excludes chain fetches: every fetch must produce a fresh snapshot.
func (r *Router) cacheable(op protocol.Op) bool {
	return r.cache != nil && r.cfg.CacheTTL > 0 && op.Policy() == protocol.BestEffort && op != protocol.OpFetchChain
}

// Deliver hands a response frame that arrived on link to its waiting caller.
func (r *Router) Deliver(link Link, f *protocol.Frame) bool {
	return r.pending.Resolve(link.ID(), f)
}

// Detach forgets link and fails whatever it still owed.
func (r *Router) Detach(link Link) {
	removed := r.registry.Unregister(link)
	failed := r.pending.FailLink(link.ID())
	r.log.Info("agent detached", logger.String("user_id", link.UserID()), logger.String("link_id", link.ID()),
		logger.Bool("was_current", removed), logger.Int("failed_calls", failed))
}

func responseKey(op protocol.Op, payload []byte) string {
	sum := sha256.Sum256(payload)
	return "relay:" + string(op) + ":" + hex.EncodeToString(sum[:12])
}
