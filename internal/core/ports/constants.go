package ports

// Notification types and channel understood by the external dispatcher.
const (
	NotifyInfo    = "info"
	NotifySuccess = "success"
	NotifyWarning = "warning"
	NotifyError   = "error"

	ChannelInbox = "inbox"
)
