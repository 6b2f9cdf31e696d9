package execute

// User is the identity an action is attributed to.
type User struct {
	ID       string
	Username string
}

var webhookUser = User{
	ID:       "git-webhook",
	Username: "Git Webhook",
}

// WebhookUser returns the system identity used for webhook-triggered actions.
func WebhookUser() User {
	return webhookUser
}
