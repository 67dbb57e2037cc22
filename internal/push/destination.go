package push

// NotificationKind classifies a payload for navigation routing. The set is
// closed: anything the backend may add later lands on KindUnknown and routes
// to the dashboard.
type NotificationKind string

const (
	KindNewExpense         NotificationKind = "new_expense"
	KindExpenseAddedForYou NotificationKind = "expense_added_for_you"
	KindSignificantExpense NotificationKind = "significant_expense"
	KindFamilyInvitation   NotificationKind = "family_invitation"
	KindUnknown            NotificationKind = ""
)

// Destination is an in-app navigation target
type Destination string

const (
	DestinationExpenses  Destination = "/expenses"
	DestinationFamily    Destination = "/family"
	DestinationDashboard Destination = "/dashboard"
)

// KindOf parses the classification field of a payload data map
func KindOf(data map[string]string) NotificationKind {
	switch NotificationKind(data[DataKeyType]) {
	case KindNewExpense:
		return KindNewExpense
	case KindExpenseAddedForYou:
		return KindExpenseAddedForYou
	case KindSignificantExpense:
		return KindSignificantExpense
	case KindFamilyInvitation:
		return KindFamilyInvitation
	default:
		return KindUnknown
	}
}

// DestinationFor resolves the navigation target for a notification kind
func DestinationFor(kind NotificationKind) Destination {
	switch kind {
	case KindNewExpense, KindExpenseAddedForYou, KindSignificantExpense:
		return DestinationExpenses
	case KindFamilyInvitation:
		return DestinationFamily
	case KindUnknown:
		return DestinationDashboard
	default:
		return DestinationDashboard
	}
}
