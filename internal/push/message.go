package push

// MessageType identifies a typed inter-context message
type MessageType string

const (
	// MessageNewNotification is broadcast by the agent to every attached page
	// context when a payload was delivered on the background path
	MessageNewNotification MessageType = "NEW_NOTIFICATION"
	// MessageNotificationClicked is sent to the single page context chosen to
	// handle a click on a rendered notification
	MessageNotificationClicked MessageType = "NOTIFICATION_CLICKED"
	// MessageSkipWaiting asks a newly installed agent version to activate
	// immediately instead of waiting for existing contexts to close
	MessageSkipWaiting MessageType = "SKIP_WAITING"
	// MessageCheckAgent asks the agent to confirm it is active; the agent
	// answers on the reply channel
	MessageCheckAgent MessageType = "CHECK_SERVICE_WORKER"
	// MessageAgentActive is the reply to MessageCheckAgent
	MessageAgentActive MessageType = "SERVICE_WORKER_ACTIVE"
)

// Message is the unit of cross-context communication. Only the fields
// relevant to the message type are populated.
type Message struct {
	Type MessageType
	// Envelope carries the payload for MessageNewNotification
	Envelope *Envelope
	// Data carries the interaction payload for MessageNotificationClicked
	Data map[string]string
	// Destination carries the resolved navigation target for
	// MessageNotificationClicked
	Destination Destination
	// Reply is the response port for MessageCheckAgent
	Reply chan Message
}
