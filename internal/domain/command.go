package domain

import "time"

type CommandType string

const (
	CommandReloadJobs   CommandType = "reload_jobs"
	CommandReloadConfig CommandType = "reload_config"
)

// CommandTargetAll addresses every machine in the fleet.
const CommandTargetAll = "all"

// Command is a control message consumed by time-watermark polling.
type Command struct {
	Type      CommandType `bson:"type"`
	Target    string      `bson:"target"`
	CreatedAt time.Time   `bson:"created_at"`
}

// NotificationConfig is the singleton Telegram configuration. Successful
// runs go silently to SilentChatID; failures go loudly to AlertChatID.
type NotificationConfig struct {
	Token        string `bson:"token"`
	SilentChatID string `bson:"silent_chat_id"`
	AlertChatID  string `bson:"alert_chat_id"`
	ParseMode    string `bson:"parse_mode,omitempty"`
}
