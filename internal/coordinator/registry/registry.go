// Package registry owns the directory of judger nodes: durable identity and
// credentials in MySQL, runtime liveness and capacity in memory.
package registry

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"gavel/internal/coordinator/model"
	"gavel/internal/coordinator/repository"
	appErr "gavel/pkg/errors"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const secretBytes = 24

// Registry tracks judger nodes. Durable state (identity, secret hash,
// capacity, enablement) lives in the node repository; runtime state (status,
// heartbeat, in-flight count) lives in memory and is rebuilt lazily after a
// restart with every node Offline.
type Registry struct {
	repo repository.NodeRepository

	mu     sync.Mutex
	nodes  map[string]*nodeState
	loaded bool

	// verifiedSecrets caches a digest of each node's plaintext secret after
	// a successful bcrypt comparison, so per-second fetch polling does not
	// pay the bcrypt cost on every call.
	verifiedSecrets map[string][sha256.Size]byte

	now func() time.Time
}

type nodeState struct {
	runtime   model.NodeRuntime
	languages []string
}

// New creates a registry over the given node repository.
func New(repo repository.NodeRepository) *Registry {
	return &Registry{
		repo:            repo,
		nodes:           make(map[string]*nodeState),
		verifiedSecrets: make(map[string][sha256.Size]byte),
		now:             time.Now,
	}
}

// Register creates a new judger node. The plaintext secret is returned
// exactly once; only its bcrypt hash is persisted.
func (r *Registry) Register(ctx context.Context, name string, maxConcurrent int, languages []string) (*model.JudgerNode, string, error) {
	if name == "" {
		return nil, "", appErr.ValidationError("name", "required")
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, "", appErr.Wrapf(err, appErr.NodeRegisterFailed, "generate secret failed")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", appErr.Wrapf(err, appErr.NodeRegisterFailed, "hash secret failed")
	}

	node := &model.JudgerNode{
		ID:            uuid.NewString(),
		Name:          name,
		SecretHash:    string(hash),
		MaxConcurrent: maxConcurrent,
		Enabled:       true,
		Languages:     languages,
	}
	if err := r.repo.Create(ctx, node); err != nil {
		return nil, "", err
	}

	r.mu.Lock()
	r.nodes[node.ID] = &nodeState{
		runtime: model.NodeRuntime{
			NodeID:        node.ID,
			Name:          node.Name,
			MaxConcurrent: node.MaxConcurrent,
			Status:        model.NodeOffline,
			Languages:     languages,
		},
		languages: languages,
	}
	r.mu.Unlock()

	return node, secret, nil
}

// Authenticate validates a node's credentials against durable state, so a
// disable or removal takes effect on the next call, and promotes the node to
// Online. Used by the connect RPC.
func (r *Registry) Authenticate(ctx context.Context, nodeID, secret string) (*model.NodeRuntime, error) {
	node, err := r.verify(ctx, nodeID, secret)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	state := r.ensureState(node)
	state.runtime.LastHeartbeat = r.now()
	if state.runtime.Status == model.NodeOffline {
		state.runtime.Status = model.NodeOnline
	}
	rt := state.runtime
	return &rt, nil
}

// Verify checks node credentials without touching runtime status. Used by
// the per-request authentication middleware for heartbeat/fetch/report.
func (r *Registry) Verify(ctx context.Context, nodeID, secret string) error {
	_, err := r.verify(ctx, nodeID, secret)
	return err
}

func (r *Registry) verify(ctx context.Context, nodeID, secret string) (*model.JudgerNode, error) {
	if nodeID == "" || secret == "" {
		return nil, appErr.AuthFailure("")
	}
	node, err := r.repo.GetByID(ctx, nodeID)
	if err != nil {
		if appErr.Is(err, appErr.NodeNotFound) {
			return nil, appErr.AuthFailure("")
		}
		return nil, err
	}
	if node.Deleted {
		return nil, appErr.New(appErr.NodeDeleted)
	}
	if !node.Enabled {
		return nil, appErr.New(appErr.NodeDisabled)
	}

	digest := sha256.Sum256([]byte(secret))
	r.mu.Lock()
	cached, ok := r.verifiedSecrets[nodeID]
	r.mu.Unlock()
	if ok && subtle.ConstantTimeCompare(cached[:], digest[:]) == 1 {
		return node, nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(node.SecretHash), []byte(secret)); err != nil {
		return nil, appErr.AuthFailure("")
	}
	r.mu.Lock()
	r.verifiedSecrets[nodeID] = digest
	r.mu.Unlock()
	return node, nil
}

// Heartbeat stamps the node's liveness and promotes Offline nodes back to
// Online without requiring a fresh connect. Survives coordinator restarts by
// lazily repopulating the runtime cache first.
func (r *Registry) Heartbeat(ctx context.Context, nodeID string) error {
	if err := r.ensureLoaded(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.nodes[nodeID]
	if !ok {
		return appErr.New(appErr.NodeNotFound).WithDetail("node_id", nodeID)
	}
	state.runtime.LastHeartbeat = r.now()
	if state.runtime.Status == model.NodeOffline {
		state.runtime.Status = model.NodeOnline
	}
	return nil
}

// Remove soft-deletes the durable record and evicts the runtime entry. Tasks
// still assigned to the node are left for the health monitor to reclaim.
func (r *Registry) Remove(ctx context.Context, nodeID string) error {
	if err := r.repo.SoftDelete(ctx, nodeID); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.nodes, nodeID)
	delete(r.verifiedSecrets, nodeID)
	r.mu.Unlock()
	return nil
}

// SetEnabled flips the durable enabled flag. Disabling also forgets the
// verified secret so in-flight credentials stop working immediately.
func (r *Registry) SetEnabled(ctx context.Context, nodeID string, enabled bool) error {
	if err := r.repo.SetEnabled(ctx, nodeID, enabled); err != nil {
		return err
	}
	if !enabled {
		r.mu.Lock()
		delete(r.verifiedSecrets, nodeID)
		r.mu.Unlock()
	}
	return nil
}

// ListRuntime returns runtime info for all known nodes, lazily repopulating
// the cache from durable storage after a restart.
func (r *Registry) ListRuntime(ctx context.Context) ([]model.NodeRuntime, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.NodeRuntime, 0, len(r.nodes))
	for _, state := range r.nodes {
		out = append(out, state.runtime)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Runtime returns a copy of one node's runtime info.
func (r *Registry) Runtime(nodeID string) (model.NodeRuntime, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.nodes[nodeID]
	if !ok {
		return model.NodeRuntime{}, false
	}
	return state.runtime, true
}

// TryAcquire atomically checks capacity and increments the node's in-flight
// count, flipping status to Busy when the node reaches capacity. Returns
// false when the node is unknown, Offline, or already full.
func (r *Registry) TryAcquire(nodeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.nodes[nodeID]
	if !ok || state.runtime.Status == model.NodeOffline {
		return false
	}
	if state.runtime.CurrentTasks >= state.runtime.MaxConcurrent {
		return false
	}
	state.runtime.CurrentTasks++
	if state.runtime.CurrentTasks >= state.runtime.MaxConcurrent {
		state.runtime.Status = model.NodeBusy
	}
	return true
}

// Release decrements the node's in-flight count, flooring at zero, and
// demotes Busy back to Online when capacity frees up.
func (r *Registry) Release(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.nodes[nodeID]
	if !ok {
		return
	}
	if state.runtime.CurrentTasks > 0 {
		state.runtime.CurrentTasks--
	}
	if state.runtime.Status == model.NodeBusy && state.runtime.CurrentTasks < state.runtime.MaxConcurrent {
		state.runtime.Status = model.NodeOnline
	}
}

// MarkOffline demotes a node and zeroes its in-flight count. The caller is
// responsible for reclaiming any tasks that were assigned to it.
func (r *Registry) MarkOffline(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.nodes[nodeID]
	if !ok {
		return
	}
	state.runtime.Status = model.NodeOffline
	state.runtime.CurrentTasks = 0
}

// StaleNodes returns ids of nodes that are not Offline and whose last
// heartbeat is older than the given timeout.
func (r *Registry) StaleNodes(timeout time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-timeout)
	var stale []string
	for id, state := range r.nodes {
		if state.runtime.Status == model.NodeOffline {
			continue
		}
		if state.runtime.LastHeartbeat.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	return stale
}

// Supports reports whether the node can judge the given language.
func (r *Registry) Supports(nodeID, language string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.nodes[nodeID]
	if !ok {
		return false
	}
	if len(state.languages) == 0 {
		return true
	}
	for _, l := range state.languages {
		if l == language {
			return true
		}
	}
	return false
}

func (r *Registry) ensureLoaded(ctx context.Context) error {
	r.mu.Lock()
	if r.loaded {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	nodes, err := r.repo.List(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return nil
	}
	for _, node := range nodes {
		if _, ok := r.nodes[node.ID]; ok {
			continue
		}
		r.nodes[node.ID] = &nodeState{
			runtime: model.NodeRuntime{
				NodeID:        node.ID,
				Name:          node.Name,
				MaxConcurrent: node.MaxConcurrent,
				Status:        model.NodeOffline,
				Languages:     node.Languages,
			},
			languages: node.Languages,
		}
	}
	r.loaded = true
	return nil
}

// ensureState returns the runtime entry for a node, creating it when the
// node authenticated before the lazy cache load ran. Caller holds r.mu.
func (r *Registry) ensureState(node *model.JudgerNode) *nodeState {
	state, ok := r.nodes[node.ID]
	if !ok {
		state = &nodeState{
			runtime: model.NodeRuntime{
				NodeID:        node.ID,
				Name:          node.Name,
				MaxConcurrent: node.MaxConcurrent,
				Status:        model.NodeOffline,
				Languages:     node.Languages,
			},
			languages: node.Languages,
		}
		r.nodes[node.ID] = state
	}
	return state
}

func generateSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
