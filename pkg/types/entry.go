package types

// EntryConfig is one configured cloud account.
type EntryConfig struct {
	// ID identifies the entry. A random one is assigned when empty.
	ID       string `json:"id" yaml:"id"`
	Email    string `json:"email" yaml:"email"`
	Password string `json:"-" yaml:"password"`
}
