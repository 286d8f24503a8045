package blackboard

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by instance name so that
// several Glint instances can share one Redis server.
//
// Key pattern: glint:{instance_name}:{entity}:{id}
// Channel pattern: glint:{instance_name}:{event_type}

// SignatureKey returns the Redis key for a cached signature hash.
// Pattern: glint:{instance_name}:signature:{signature_key}
func SignatureKey(instanceName, signatureKey string) string {
	return fmt.Sprintf("glint:%s:signature:%s", instanceName, signatureKey)
}

// AnalysisEventsChannel returns the Pub/Sub channel for finished analyses.
// Pattern: glint:{instance_name}:analysis_events
func AnalysisEventsChannel(instanceName string) string {
	return fmt.Sprintf("glint:%s:analysis_events", instanceName)
}

// AnalysisRequestsChannel returns the Pub/Sub channel daemons consume requests from.
// Pattern: glint:{instance_name}:analysis_requests
func AnalysisRequestsChannel(instanceName string) string {
	return fmt.Sprintf("glint:%s:analysis_requests", instanceName)
}
