// Package mirror publishes cluster and ledger activity to Nostr relays for
// cross-host observability. It sits beside the in-memory ledger, never on
// its critical path: publishing to relays is best-effort and asynchronous,
// and a mirror failure never blocks or reorders ledger delivery.
//
// Key abstractions:
//   - Publisher: sign -> broadcast -> spool-on-failure API
//   - Signer: NIP-46 bunker signing interface (with a local-key variant for tests)
//   - RelayPool: connection management to read/write relays
//   - Spool: local event store for offline resilience
//   - IdentityRegistry: actor address <-> Nostr pubkey mapping
package mirror

import (
	"encoding/hex"
	"fmt"

	"fiatjaf.com/nostr"
)

// Event kinds used for mirrored engine activity. All four are in the
// 304xx block of the parameterized replaceable range (30000-39999) the
// upstream protocol reserves for application events.
const (
	KindMessageMirror     = 30400 // one ledger Message, mirrored verbatim
	KindClusterLifecycle  = 30401 // cluster started/paused/resumed/terminated
	KindAgentLifecycle    = 30402 // agent state transition (replaceable per agent)
	KindTaskLifecycle     = 30403 // task dispatched/completed/failed/killed
)

// ProtocolVersion is included as a ["zs", "1"] tag on every mirrored event.
const ProtocolVersion = "1"

// SchemaPrefix is prepended to all schema identifiers in event content.
const SchemaPrefix = "zs/"

// Correlations holds cross-reference identifiers attached to mirrored events
// so a relay-side observer can reconstruct which cluster/agent/task a given
// ledger message belongs to without replaying the whole ledger.
type Correlations struct {
	ClusterID string
	AgentID   string
	TaskID    string
}

// BaseTags returns the tags included on every mirrored event.
func BaseTags(clusterID string) nostr.Tags {
	tags := nostr.Tags{
		{"zs", ProtocolVersion},
	}
	if clusterID != "" {
		tags = append(tags, nostr.Tag{"cluster", clusterID})
	}
	return tags
}

// CorrelationTags returns optional correlation tags. Empty values are omitted.
func CorrelationTags(c Correlations) nostr.Tags {
	var tags nostr.Tags
	if c.ClusterID != "" {
		tags = append(tags, nostr.Tag{"cluster", c.ClusterID})
	}
	if c.AgentID != "" {
		tags = append(tags, nostr.Tag{"agent", c.AgentID})
	}
	if c.TaskID != "" {
		tags = append(tags, nostr.Tag{"task", c.TaskID})
	}
	return tags
}

// ReplaceableTag returns a NIP-33 "d" tag for parameterized replaceable events.
func ReplaceableTag(d string) nostr.Tag {
	return nostr.Tag{"d", d}
}

// TypeTag returns a type discriminator tag for events within the same kind.
func TypeTag(eventType string) nostr.Tag {
	return nostr.Tag{"type", eventType}
}

// SchemaVersion returns a schema identifier string like "zs/message@1".
func SchemaVersion(name string, version int) string {
	return fmt.Sprintf("%s%s@%d", SchemaPrefix, name, version)
}

// --- Type conversion helpers ---
// The fiatjaf.com/nostr library uses fixed-size byte array types for ID and
// PubKey rather than string aliases; these helpers provide safe conversions.

// IDToString converts a nostr.ID to its hex string representation.
func IDToString(id nostr.ID) string {
	return fmt.Sprintf("%x", id)
}

// PubKeyFromHex converts a hex string to a nostr.PubKey. Returns the zero
// value if the string is invalid or the wrong length.
func PubKeyFromHex(hexStr string) nostr.PubKey {
	var pk nostr.PubKey
	b, err := hex.DecodeString(hexStr)
	if err != nil || len(b) != len(pk) {
		return pk
	}
	copy(pk[:], b)
	return pk
}

// PubKeyToString converts a nostr.PubKey to its hex string representation.
func PubKeyToString(pk nostr.PubKey) string {
	return fmt.Sprintf("%x", pk)
}
