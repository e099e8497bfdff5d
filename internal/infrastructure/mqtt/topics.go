package mqtt

import "strings"

// TopicRoot prefixes every cloud link topic.
const TopicRoot = "graylogic/cloud"

// Topics builds cloud link topic names.
//
//	mqtt.Topics{}.Forecast("datahub", "home", "hourly")
//	// graylogic/cloud/datahub/forecast/home/hourly
type Topics struct{}

// ServiceStatus is the presence topic of the cloud link process.
func (Topics) ServiceStatus() string {
	return TopicRoot + "/status"
}

// SourceStatus carries a binding's link and authentication state.
func (Topics) SourceStatus(source string) string {
	return TopicRoot + "/" + source + "/status"
}

// RateLimit carries a binding's daily budget.
func (Topics) RateLimit(source string) string {
	return TopicRoot + "/" + source + "/ratelimit"
}

// Forecast carries the latest daily or hourly forecast for one site.
func (Topics) Forecast(source, site, kind string) string {
	return TopicRoot + "/" + source + "/forecast/" + site + "/" + kind
}

// Data carries the latest result of a non-forecast poll, e.g. cameras.
func (Topics) Data(source, kind string) string {
	return TopicRoot + "/" + source + "/data/" + kind
}

// Event carries one stream frame.
func (Topics) Event(source, action string) string {
	return TopicRoot + "/" + source + "/event/" + action
}

// PollCommand is where other services ask a binding to poll now.
func (Topics) PollCommand(source, kind string) string {
	return TopicRoot + "/" + source + "/poll/" + kind
}

// AllPollCommands matches PollCommand for every source and kind.
func (Topics) AllPollCommands() string {
	return TopicRoot + "/+/poll/+"
}

// ParsePollCommand extracts source and kind from a PollCommand topic.
func ParsePollCommand(topic string) (source, kind string, ok bool) {
	rest, found := strings.CutPrefix(topic, TopicRoot+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != "poll" || parts[0] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[0], parts[2], true
}
