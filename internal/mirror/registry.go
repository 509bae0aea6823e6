package mirror

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// IdentityRegistry maps cluster/agent identifiers to Nostr pubkeys. It is
// the local source of truth for which pubkey signs events on behalf of
// which cluster.
type IdentityRegistry struct {
	mu     sync.RWMutex
	agents map[string]*RegisteredIdentity // key: "<clusterID>/<agentID>" or clusterID
}

// RegisteredIdentity is one entry in the identity registry.
type RegisteredIdentity struct {
	Pubkey        string    `json:"pubkey"`
	BunkerURI     string    `json:"bunker,omitempty"`
	Status        string    `json:"status"` // "active" or "retired"
	ProvisionedAt time.Time `json:"provisioned_at"`
	ClusterID     string    `json:"cluster_id"`
	AgentID       string    `json:"agent_id,omitempty"`
}

// RegistryFileName is the filename for the local identity registry.
const RegistryFileName = "mirror-identity-registry.json"

// NewIdentityRegistry creates an empty identity registry.
func NewIdentityRegistry() *IdentityRegistry {
	return &IdentityRegistry{
		agents: make(map[string]*RegisteredIdentity),
	}
}

func registryKey(clusterID, agentID string) string {
	if agentID == "" {
		return clusterID
	}
	return clusterID + "/" + agentID
}

// Register adds or updates an identity in the registry.
func (r *IdentityRegistry) Register(identity *RegisteredIdentity) error {
	if identity.ClusterID == "" {
		return fmt.Errorf("cluster id cannot be empty")
	}
	if identity.Pubkey == "" {
		return fmt.Errorf("pubkey cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.agents[registryKey(identity.ClusterID, identity.AgentID)] = identity
	return nil
}

// Lookup finds an identity by cluster and agent ID.
func (r *IdentityRegistry) Lookup(clusterID, agentID string) (*RegisteredIdentity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identity, ok := r.agents[registryKey(clusterID, agentID)]
	if !ok {
		return nil, fmt.Errorf("identity %q not found in registry", registryKey(clusterID, agentID))
	}
	return identity, nil
}

// LookupByPubkey finds an identity by its Nostr public key.
func (r *IdentityRegistry) LookupByPubkey(pubkey string) (*RegisteredIdentity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, identity := range r.agents {
		if identity.Pubkey == pubkey {
			return identity, nil
		}
	}
	return nil, fmt.Errorf("no identity found with pubkey %q", pubkey)
}

// Active returns all identities with status "active".
func (r *IdentityRegistry) Active() []*RegisteredIdentity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []*RegisteredIdentity
	for _, identity := range r.agents {
		if identity.Status == "active" {
			active = append(active, identity)
		}
	}
	return active
}

// All returns every identity in the registry.
func (r *IdentityRegistry) All() []*RegisteredIdentity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*RegisteredIdentity, 0, len(r.agents))
	for _, identity := range r.agents {
		all = append(all, identity)
	}
	return all
}

// SaveToFile persists the registry to a JSON file.
func (r *IdentityRegistry) SaveToFile(path string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	data, err := json.MarshalIndent(r.agents, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling registry: %w", err)
	}

	// 0600: registry contains bunker URIs.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing registry: %w", err)
	}
	return nil
}

// LoadFromFile loads the registry from a JSON file. A missing file is not
// an error: the registry simply starts empty.
func (r *IdentityRegistry) LoadFromFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is constructed internally
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading registry: %w", err)
	}

	agents := make(map[string]*RegisteredIdentity)
	if err := json.Unmarshal(data, &agents); err != nil {
		return fmt.Errorf("parsing registry: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = agents
	return nil
}

// RegistryPath returns the standard path for the identity registry under a
// storage directory.
func RegistryPath(storageDir string) string {
	return filepath.Join(storageDir, "settings", RegistryFileName)
}

// ToJSON returns the registry contents, for publishing as event content.
func (r *IdentityRegistry) ToJSON() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return json.Marshal(map[string]interface{}{
		"schema": SchemaVersion("identity_registry", 1),
		"agents": r.agents,
	})
}
