package users

// UserRepo manages persistent user records. The auth subsystem only reads
// users and stamps login times; account CRUD lives elsewhere.
//
// GetByEmail and GetByID return (nil, nil) when no record exists; a non-nil
// error always means the lookup itself failed.
type UserRepo interface {
	Upsert(user *User) error
	GetByEmail(email string) (*User, error)
	GetByID(id string) (*User, error)
	SetStatus(email string, status AccountStatus) error
	SetLastLogin(id string) error
}
