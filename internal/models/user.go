package models

type UserRole string

const (
	UserRoleUser  UserRole = "user"
	UserRoleAdmin UserRole = "admin"
)

type UserStatus string

const (
	UserStatusPending  UserStatus = "pending"
	UserStatusVerified UserStatus = "verified"
	UserStatusRejected UserStatus = "rejected"
	UserStatusBanned   UserStatus = "banned"
)

type UserPlan string

const (
	UserPlanBasic   UserPlan = "basic"
	UserPlanTrial   UserPlan = "trial"
	UserPlanPremium UserPlan = "premium"
)

// UserRecord mirrors the users/{id} document. Timestamps are client epoch
// milliseconds.
type UserRecord struct {
	ID              string     `mapstructure:"id" json:"id"`
	Name            string     `mapstructure:"name" json:"name"`
	Phone           string     `mapstructure:"phone" json:"phone"`
	Role            UserRole   `mapstructure:"role" json:"role"`
	Status          UserStatus `mapstructure:"status" json:"status"`
	Plan            UserPlan   `mapstructure:"plan" json:"plan"`
	RegisteredYears []string   `mapstructure:"registeredYears" json:"registeredYears"`
	IsTrial         bool       `mapstructure:"isTrial" json:"isTrial"`
	TrialEndDate    *int64     `mapstructure:"trialEndDate" json:"trialEndDate,omitempty"`
	IsOnline        bool       `mapstructure:"isOnline" json:"isOnline"`
	LastActive      int64      `mapstructure:"lastActive" json:"lastActive"`
	ForceLogout     bool       `mapstructure:"forceLogout" json:"forceLogout"`
	BanReason       string     `mapstructure:"banReason" json:"banReason,omitempty"`
	BanExpires      *int64     `mapstructure:"banExpires" json:"banExpires,omitempty"`
}

func (u UserRecord) IsAdmin() bool {
	return u.Role == UserRoleAdmin
}

// OnTrial reports whether the record carries trial semantics; older
// records only set isTrial, newer ones use plan=trial.
func (u UserRecord) OnTrial() bool {
	return u.Plan == UserPlanTrial || u.IsTrial
}
