// Package mqtt connects the cloud link to the Gray Logic MQTT bus.
//
// The relay publishes binding status, rate-limit budgets, poll results and
// stream events here, and listens for poll commands from the rest of the
// system. The client reconnects on its own and restores subscriptions after
// every reconnect.
//
// Presence is announced on graylogic/cloud/status: "online" after each
// connect, "offline" on a graceful Close, and a broker-published Last Will
// if the process dies.
//
// Topic layout (see Topics):
//
//	graylogic/cloud/status                       service presence (retained)
//	graylogic/cloud/{source}/status              binding link state (retained)
//	graylogic/cloud/{source}/ratelimit           daily budget (retained)
//	graylogic/cloud/{source}/forecast/{site}/{kind}  latest forecast (retained)
//	graylogic/cloud/{source}/data/{kind}         other poll results (retained)
//	graylogic/cloud/{source}/event/{action}      stream frames
//	graylogic/cloud/{source}/poll/{kind}         poll commands (inbound)
package mqtt
