package admin

// Roles accepted on a user. DOCTOR users carry the doctor id in LinkedID and
// only ever see that doctor's patients.
const (
	RoleAdmin  = "ADMIN"
	RoleDoctor = "DOCTOR"
	RoleStaff  = "STAFF"
)

var validRoles = map[string]bool{
	RoleAdmin:  true,
	RoleDoctor: true,
	RoleStaff:  true,
}

// User maps to the users table.
type User struct {
	Username     string  `db:"username" json:"username"`
	PasswordHash string  `db:"password" json:"-"`
	Role         string  `db:"role" json:"role"`
	LinkedID     *string `db:"linked_id" json:"linked_id,omitempty"`
}
