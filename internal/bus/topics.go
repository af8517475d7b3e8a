package bus

// Maintenance event topics. Published by the background maintenance runner
// so the status view can show the last backup without polling the store.
const (
	TopicBackupCompleted  = "maintenance.backup.completed"
	TopicBackupFailed     = "maintenance.backup.failed"
	TopicIntegrityChecked = "maintenance.integrity.checked"
)

// Config event topics.
const (
	TopicConfigReloaded = "config.reloaded"
)

// BackupEvent is published when a scheduled or manual backup finishes.
type BackupEvent struct {
	Path      string // Destination file of the snapshot
	SizeBytes int64  // Snapshot size on disk
	TookMS    int64  // Wall time of the VACUUM INTO
	Pruned    int    // Older snapshots removed by retention
	Err       string // Failure message, empty on success
}

// IntegrityEvent is published after a periodic integrity check.
type IntegrityEvent struct {
	Healthy bool   // integrity_check returned ok
	Detail  string // Findings when unhealthy
}

// ConfigReloadedEvent is published when the config file changes on disk and
// the new contents were applied.
type ConfigReloadedEvent struct {
	Path string // Config file that changed
}
