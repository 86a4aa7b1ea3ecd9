package models

type BroadcastTarget string

const (
	TargetAll          BroadcastTarget = "all"
	TargetVerified     BroadcastTarget = "verified"
	TargetPremium      BroadcastTarget = "premium"
	TargetTrial        BroadcastTarget = "trial"
	TargetOnline       BroadcastTarget = "online"
	TargetSpecific     BroadcastTarget = "specific"
	TargetSpecificUser BroadcastTarget = "specific_user"
)

type BroadcastAction string

const (
	ActionClearLocalStorage          BroadcastAction = "clear_localstorage"
	ActionClearLocalStorageAndLogout BroadcastAction = "clear_localstorage_and_logout"
	ActionClearAllData               BroadcastAction = "clear_all_data"
	ActionAdminForcedLogout          BroadcastAction = "admin_forced_logout"
	ActionGlobalLogout               BroadcastAction = "global_logout"
	ActionShowNotification           BroadcastAction = "show_notification"
	ActionGetOnlineUsers             BroadcastAction = "get_online_users"
)

type NoticeType string

const (
	NoticeInfo    NoticeType = "info"
	NoticeSuccess NoticeType = "success"
	NoticeWarning NoticeType = "warning"
	NoticeError   NoticeType = "error"
)

// BroadcastMessage is an administrator command. Broadcasts are append-only
// and never mutated once published.
type BroadcastMessage struct {
	ID           string          `mapstructure:"id" json:"id"`
	Target       BroadcastTarget `mapstructure:"target" json:"target"`
	TargetPhone  string          `mapstructure:"targetPhone" json:"targetPhone,omitempty"`
	TargetUserID string          `mapstructure:"targetUserId" json:"targetUserId,omitempty"`
	Action       BroadcastAction `mapstructure:"action" json:"action"`
	Message      string          `mapstructure:"message" json:"message"`
	Type         NoticeType      `mapstructure:"type" json:"type"`
	Timestamp    int64           `mapstructure:"timestamp" json:"timestamp"`
}

// Collection names in the remote store.
const (
	CollectionUsers          = "users"
	CollectionDeviceSessions = "deviceSessions"
	CollectionBroadcasts     = "broadcasts"
)
