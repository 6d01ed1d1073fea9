package model

import "time"

// SubscriberParams is what the provider needs to create a remote subscriber.
type SubscriberParams struct {
	Username   string
	Secret     string
	ServiceRef string
}

// RemoteSubscriber is the provider's view of a subscriber record.
type RemoteSubscriber struct {
	ID        string
	Username  string
	Enabled   bool
	CreatedAt time.Time
}
