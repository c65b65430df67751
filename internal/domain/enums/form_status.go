package enums

type FormStatus string

const (
	FormStatusPending   FormStatus = "pending"
	FormStatusCompleted FormStatus = "completed"
	FormStatusExpired   FormStatus = "expired"
)
