package models

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Counterpart is the role listed in the roster of r: users talk to admins
// and admins talk to users.
func (r Role) Counterpart() Role {
	if r == RoleAdmin {
		return RoleUser
	}
	return RoleAdmin
}

// Identity is the signed-in user, read from the bearer token claims.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

func (i Identity) IsZero() bool {
	return i.ID == ""
}

type Contact struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Role   Role   `json:"role"`
	Avatar string `json:"avatar,omitempty"`
}

type Course struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Directory is the role dependent roster plus the courses whose forums the
// user can open.
type Directory struct {
	Contacts []Contact `json:"contacts"`
	Courses  []Course  `json:"courses"`
}
