package store

// Stores is the top-level container for all storage backends.
type Stores struct {
	Agents    AgentConfigStore
	Sessions  SessionStore
	Messages  MessageStore
	Contacts  ContactStore
	Orders    OrderStore
	Products  ProductStore
	FollowUps FollowUpStore

	// Close releases the underlying connection pool, if any.
	Close func() error
}
