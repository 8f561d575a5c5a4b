package notify

import (
	"log"

	"campusattend/internal/config"
)

// FromConfig builds a Router from the configured channels. With nothing
// configured it falls back to the Log channel when logFallback is set.
func FromConfig(c config.Notify, logFallback bool) *Router {
	var email, sms Channel
	if c.SMTPHost != "" {
		email = &SMTP{Host: c.SMTPHost, Port: c.SMTPPort, Username: c.SMTPUser, Password: c.SMTPPassword, From: c.SMTPFrom}
	}
	if c.SMSAPIURL != "" {
		sms = NewSMSGateway(c.SMSAPIURL, c.SMSAPIKey, c.SMSSender)
	}
	if email == nil && sms == nil {
		if !logFallback {
			log.Println("[notify] WARNING: no SMTP or SMS gateway configured, deliveries will fail")
			return NewRouter(nil, nil, c.Timeout)
		}
		log.Println("[notify] no channel configured, logging messages instead")
		email, sms = Log{}, Log{}
	}
	return NewRouter(email, sms, c.Timeout)
}
