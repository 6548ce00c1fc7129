package models

// User is the slice of the account record the chat service reads for
// display names. Accounts are owned by the auth layer.
type User struct {
	ID    int    `db:"id" json:"id"`
	Name  string `db:"name" json:"name"`
	Email string `db:"email" json:"email"`
}
