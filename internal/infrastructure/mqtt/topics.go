package mqtt

import "fmt"

// Topic prefixes.
const (
	TopicPrefixApps       = "apps"
	TopicPrefixDatapoints = "dps"
)

// NotifyReload is the notify payload that asks the app to reload.
const NotifyReload = "reloadApplication"

// Topics builds the bus topics of one app instance.
//
//	topics := mqtt.Topics{AppID: "app-1"}
//	topics.Online()                  // apps/app-1/online
//	topics.DatapointControl("dp-9")  // dps/dp-9/control
type Topics struct {
	AppID string
}

// Online is the retained presence topic ("true"/"false").
func (t Topics) Online() string {
	return fmt.Sprintf("%s/%s/online", TopicPrefixApps, t.AppID)
}

// Log is the free-text remote log topic.
func (t Topics) Log() string {
	return fmt.Sprintf("%s/%s/log", TopicPrefixApps, t.AppID)
}

// Command is the inbound command topic.
func (t Topics) Command() string {
	return fmt.Sprintf("%s/%s/command", TopicPrefixApps, t.AppID)
}

// Notify is the inbound notification topic.
func (t Topics) Notify() string {
	return fmt.Sprintf("%s/%s/notify", TopicPrefixApps, t.AppID)
}

// DatapointStatus is the retained status topic of a datapoint.
func (Topics) DatapointStatus(datapointID string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixDatapoints, datapointID)
}

// DatapointControl is the inbound write topic of a datapoint.
func (Topics) DatapointControl(datapointID string) string {
	return fmt.Sprintf("%s/%s/control", TopicPrefixDatapoints, datapointID)
}
