package models

type DeviceType string

const (
	DeviceTypeDesktop DeviceType = "desktop"
	DeviceTypeMobile  DeviceType = "mobile"
	DeviceTypeTablet  DeviceType = "tablet"
)

// SessionRecord mirrors a deviceSessions document. At most one record per
// (UserID, DeviceFingerprint) is expected to be active; the invariant is
// kept client side by a find-before-create upsert.
type SessionRecord struct {
	ID                string     `mapstructure:"id" json:"id"`
	UserID            string     `mapstructure:"userId" json:"userId"`
	UserName          string     `mapstructure:"userName" json:"userName"`
	UserPhone         string     `mapstructure:"userPhone" json:"userPhone"`
	DeviceFingerprint string     `mapstructure:"deviceFingerprint" json:"deviceFingerprint"`
	UserAgent         string     `mapstructure:"userAgent" json:"userAgent"`
	DeviceType        DeviceType `mapstructure:"deviceType" json:"deviceType"`
	DeviceName        string     `mapstructure:"deviceName" json:"deviceName"`
	DeviceModel       string     `mapstructure:"deviceModel" json:"deviceModel"`
	DeviceBrand       string     `mapstructure:"deviceBrand" json:"deviceBrand"`
	Browser           string     `mapstructure:"browser" json:"browser"`
	OS                string     `mapstructure:"os" json:"os"`
	Platform          string     `mapstructure:"platform" json:"platform"`
	LoginTime         int64      `mapstructure:"loginTime" json:"loginTime"`
	LastActive        int64      `mapstructure:"lastActive" json:"lastActive"`
	IsActive          bool       `mapstructure:"isActive" json:"isActive"`
	LogoutTime        *int64     `mapstructure:"logoutTime" json:"logoutTime,omitempty"`
	UserStatus        UserStatus `mapstructure:"userStatus" json:"userStatus"`
	UserPlan          UserPlan   `mapstructure:"userPlan" json:"userPlan"`
}
