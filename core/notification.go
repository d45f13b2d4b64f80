package core

// NotificationLevel mirrors a toast's severity.
type NotificationLevel string

const (
	NotifySuccess NotificationLevel = "success"
	NotifyError   NotificationLevel = "error"
	NotifyInfo    NotificationLevel = "info"
)

// NotificationKind separates failure classes that callers may render
// differently.
type NotificationKind string

const (
	KindGeneral    NotificationKind = ""
	KindTransport  NotificationKind = "transport"
	KindPermission NotificationKind = "permission"
	KindAuth       NotificationKind = "auth"
)

// Notification is a transient, user-visible message.
type Notification struct {
	Level NotificationLevel
	Kind  NotificationKind
	Text  string
}

// Notifier receives notifications. A nil Notifier is valid and drops them.
type Notifier func(Notification)

// Notify calls n if it is set.
func (n Notifier) Notify(level NotificationLevel, kind NotificationKind, text string) {
	if n == nil {
		return
	}
	n(Notification{Level: level, Kind: kind, Text: text})
}
