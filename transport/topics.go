package transport

// Topic layout. Per-client topics carry the client id as the last
// segment; server-side consumers subscribe with the wildcard patterns.
const (
	topicRoot = "content"

	// PatternConfig matches config pushes for every client.
	PatternConfig = topicRoot + "/config/*"

	// PatternControl matches control commands for every client.
	PatternControl = topicRoot + "/control/*"

	// PatternSync matches outbox sync uploads from every client.
	PatternSync = topicRoot + "/sync/*"

	// PatternMetrics matches heartbeat uploads from every client.
	PatternMetrics = topicRoot + "/metrics/*"
)

// ConfigTopic is the broker-to-client configuration topic.
func ConfigTopic(clientID string) string {
	return topicRoot + "/config/" + clientID
}

// ControlTopic is the broker-to-client control command topic.
func ControlTopic(clientID string) string {
	return topicRoot + "/control/" + clientID
}

// SyncTopic is the client-to-broker outbox upload topic.
func SyncTopic(clientID string) string {
	return topicRoot + "/sync/" + clientID
}

// MetricsTopic is the client-to-broker heartbeat topic.
func MetricsTopic(clientID string) string {
	return topicRoot + "/metrics/" + clientID
}

// ClientIDFromTopic extracts the trailing client id segment from a
// per-client topic. Returns "" when the topic has no such segment.
func ClientIDFromTopic(topic string) string {
	for i := len(topic) - 1; i >= 0; i-- {
		if topic[i] == '/' {
			return topic[i+1:]
		}
	}
	return ""
}
