package models

type Identifier interface {
	GetId() int
}

// interface for dataloader result
type Data interface {
	Identifier
	GetDefault(int) Data
}

func (u User) GetId() int {
	return u.ID
}

// GetDefault stands in for a user row that no longer exists.
func (u User) GetDefault(id int) Data {
	return User{ID: id, Name: "Unknown user"}
}

func (j Job) GetId() int {
	return j.ID
}

func (j Job) GetDefault(id int) Data {
	return Job{ID: id}
}
