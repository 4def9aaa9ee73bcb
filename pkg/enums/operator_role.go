package enums

// OperatorRole is the role carried by an operator's access token. Admins
// manage the catalog; cashiers only ring up sales.
type OperatorRole string

const (
	OperatorRoleAdmin   OperatorRole = "admin"
	OperatorRoleCashier OperatorRole = "cashier"
)

func (r OperatorRole) String() string { return string(r) }

func (r OperatorRole) IsValid() bool {
	return r == OperatorRoleAdmin || r == OperatorRoleCashier
}
