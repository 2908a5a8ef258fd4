package models

type User struct {
	ID           int64
	Name         string
	Email        string
	Phone        string
	TelegramChat string
	PushToken    string
	AccessKey    string
	SecretKey    string
	IsActive     bool

	LimitID      int64
	MaxBacktests int
}

// Settings holds the platform-wide sender credentials the alert
// actions resolve their channels from.
type Settings struct {
	Email         string
	SendGridKey   string
	TwilioSid     string
	TwilioToken   string
	TwilioPhone   string
	TelegramBot   string
	TelegramToken string
	PushBasicURI  string
	PushDeepURI   string
	PushKey       string
}
