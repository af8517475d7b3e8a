package bus

import (
	"strings"
	"testing"
)

// Subscribers rely on prefix grouping, so topic strings are a contract:
// every lifecycle topic must live under "task." and every maintenance
// topic under "maintenance.".
func TestTopics_PrefixGrouping(t *testing.T) {
	lifecycle := []string{TopicTaskDispatched, TopicTaskCompleted, TopicTaskFailed, TopicTaskRejected}
	for _, topic := range lifecycle {
		if !strings.HasPrefix(topic, "task.") {
			t.Errorf("lifecycle topic %q must carry the task. prefix", topic)
		}
	}

	maintenance := []string{TopicBackupCompleted, TopicBackupFailed, TopicIntegrityChecked}
	for _, topic := range maintenance {
		if !strings.HasPrefix(topic, "maintenance.") {
			t.Errorf("maintenance topic %q must carry the maintenance. prefix", topic)
		}
	}

	all := append(append([]string{TopicStateUpdated, TopicConfigReloaded}, lifecycle...), maintenance...)
	seen := make(map[string]bool, len(all))
	for _, topic := range all {
		if topic == "" {
			t.Fatal("empty topic constant")
		}
		if seen[topic] {
			t.Fatalf("duplicate topic %q", topic)
		}
		seen[topic] = true
	}
}
