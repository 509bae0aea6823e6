package mirror

import (
	"encoding/json"
	"time"

	"fiatjaf.com/nostr"
)

// NewMessageEvent mirrors one ledger Message as a non-replaceable event.
// msgType is the ledger Message's Topic field (e.g. "TASK_COMPLETED").
func NewMessageEvent(clusterID string, c Correlations, msgType string, payload interface{}) (*nostr.Event, error) {
	tags := BaseTags(clusterID)
	tags = append(tags, CorrelationTags(c)...)
	tags = append(tags, TypeTag(msgType))

	content, err := json.Marshal(map[string]interface{}{
		"schema":  SchemaVersion("message", 1),
		"type":    msgType,
		"payload": payload,
	})
	if err != nil {
		return nil, err
	}

	return &nostr.Event{
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      KindMessageMirror,
		Tags:      tags,
		Content:   string(content),
	}, nil
}

// NewClusterLifecycleEvent mirrors a cluster state transition. The "d" tag
// is the cluster ID, making this a replaceable event: only the latest
// lifecycle state for a cluster is retained on the relay.
func NewClusterLifecycleEvent(clusterID, state string, payload interface{}) (*nostr.Event, error) {
	tags := BaseTags(clusterID)
	tags = append(tags, ReplaceableTag(clusterID))
	tags = append(tags, TypeTag(state))

	content, err := json.Marshal(map[string]interface{}{
		"schema": SchemaVersion("cluster_lifecycle", 1),
		"state":  state,
		"data":   payload,
	})
	if err != nil {
		return nil, err
	}

	return &nostr.Event{
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      KindClusterLifecycle,
		Tags:      tags,
		Content:   string(content),
	}, nil
}

// NewAgentLifecycleEvent mirrors an agent state-machine transition. The "d"
// tag is "<clusterID>/<agentID>" so each agent owns one replaceable slot.
func NewAgentLifecycleEvent(clusterID, agentID, state string, payload interface{}) (*nostr.Event, error) {
	tags := BaseTags(clusterID)
	tags = append(tags, ReplaceableTag(clusterID+"/"+agentID))
	tags = append(tags, CorrelationTags(Correlations{ClusterID: clusterID, AgentID: agentID})...)
	tags = append(tags, TypeTag(state))

	content, err := json.Marshal(map[string]interface{}{
		"schema": SchemaVersion("agent_lifecycle", 1),
		"state":  state,
		"data":   payload,
	})
	if err != nil {
		return nil, err
	}

	return &nostr.Event{
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      KindAgentLifecycle,
		Tags:      tags,
		Content:   string(content),
	}, nil
}

// NewTaskLifecycleEvent mirrors a task dispatch/completion/failure/kill.
func NewTaskLifecycleEvent(clusterID, agentID, taskID, event string, payload interface{}) (*nostr.Event, error) {
	tags := BaseTags(clusterID)
	tags = append(tags, CorrelationTags(Correlations{ClusterID: clusterID, AgentID: agentID, TaskID: taskID})...)
	tags = append(tags, TypeTag(event))

	content, err := json.Marshal(map[string]interface{}{
		"schema": SchemaVersion("task_lifecycle", 1),
		"event":  event,
		"data":   payload,
	})
	if err != nil {
		return nil, err
	}

	return &nostr.Event{
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      KindTaskLifecycle,
		Tags:      tags,
		Content:   string(content),
	}, nil
}
