package domain

// CommandIntent is the closed set of automation command kinds. Produced by
// the classifier's Route, consumed once by the dispatcher.
type CommandIntent int

const (
	IntentUnrecognized CommandIntent = iota
	IntentFetchMessages
	IntentSendMessage
	IntentSendToChat
	IntentForwardToChat
)

func (i CommandIntent) String() string {
	switch i {
	case IntentFetchMessages:
		return "fetch_messages"
	case IntentSendMessage:
		return "send_message"
	case IntentSendToChat:
		return "send_to_chat"
	case IntentForwardToChat:
		return "forward_to_chat"
	default:
		return "unrecognized"
	}
}

// ExtractedParams holds the structured fields pulled out of a command's raw
// text. The empty string means the field was absent, a normal outcome rather than
// an error; the dispatcher decides whether to default or report usage.
type ExtractedParams struct {
	Sender     string
	Recipient  string
	Subject    string
	Body       string
	ChatTarget string
}
