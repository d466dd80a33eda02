package mqtt

import "fmt"

// Topic prefixes for the attendance deployment.
const (
	// TopicPrefixKiosk is the base for per-kiosk topics.
	TopicPrefixKiosk = "attendance/kiosk"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "attendance/system"
)

// Topics provides builders for attendance MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.KioskSessionState("kiosk-001")
//	// Returns: "attendance/kiosk/kiosk-001/session/state"
type Topics struct{}

// KioskSessionState is the retained topic carrying a kiosk's session state.
func (Topics) KioskSessionState(deviceID string) string {
	return fmt.Sprintf("%s/%s/session/state", TopicPrefixKiosk, deviceID)
}

// KioskAudit is the topic audit records are mirrored to.
func (Topics) KioskAudit(deviceID string) string {
	return fmt.Sprintf("%s/%s/audit", TopicPrefixKiosk, deviceID)
}

// KioskScan is the topic a sensor daemon publishes captured samples to.
func (Topics) KioskScan(deviceID string) string {
	return fmt.Sprintf("%s/%s/scan", TopicPrefixKiosk, deviceID)
}

// AllKioskSessionStates matches every kiosk's session state topic.
func (Topics) AllKioskSessionStates() string {
	return TopicPrefixKiosk + "/+/session/state"
}

// AllKioskAudits matches every kiosk's audit topic.
func (Topics) AllKioskAudits() string {
	return TopicPrefixKiosk + "/+/audit"
}

// SystemStatus is the retained online/offline topic, also used for the LWT.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}
