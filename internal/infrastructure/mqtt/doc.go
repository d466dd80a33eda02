// Package mqtt connects the kiosk to the site MQTT broker.
//
// The kiosk uses the broker for three things:
//   - publishing its session state (retained) so building dashboards can
//     show whether a kiosk is idle or mid-scan
//   - mirroring audit records as events
//   - receiving scan triggers from a separate sensor daemon
//
// Online/offline status is published retained on attendance/system/status,
// with a Last Will so the broker reports a crashed kiosk.
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := mqtt.Topics{}
//	err = client.Subscribe(topics.KioskScan(deviceID), 1,
//	    func(topic string, payload []byte) error {
//	        return handleScan(payload)
//	    })
//
// Reconnection is handled by paho with the configured backoff; tracked
// subscriptions are restored on every reconnect.
package mqtt
